package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeChannelID(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1234567890", "-1001234567890"},
		{"-1001234567890", "-1001234567890"},
		{"-987654", "-987654"},
		{" 1234567890 ", "-1001234567890"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeChannelID(tt.in), "input %q", tt.in)
	}
}

func TestChannelIDsEqual(t *testing.T) {
	assert.True(t, ChannelIDsEqual("1234", "-1001234"))
	assert.True(t, ChannelIDsEqual("-1001234", "-1001234"))
	assert.False(t, ChannelIDsEqual("1234", "5678"))
}

func TestForwardModeIsValid(t *testing.T) {
	assert.True(t, ForwardModeCopy.IsValid())
	assert.True(t, ForwardModeForward.IsValid())
	assert.False(t, ForwardMode("teleport").IsValid())
	assert.False(t, ForwardMode("").IsValid())
}
