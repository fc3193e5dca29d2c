package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"chanrelay/internal/models"
	"chanrelay/pkg/telegram/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*GatewayClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client := NewGatewayClient(ClientConfig{
		BaseURL: srv.URL,
		APIKey:  "test-key",
	}, 1, "sess", nil)
	return client, srv
}

func TestSendText(t *testing.T) {
	var gotPath, gotKey, gotUser string
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotKey = r.Header.Get("X-Api-Key")
		gotUser = r.Header.Get("X-User-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	err := client.SendText(context.Background(), "-1002222", "hello")
	require.NoError(t, err)

	assert.Equal(t, "/v1/peers/-1002222/messages", gotPath)
	assert.Equal(t, "test-key", gotKey)
	assert.Equal(t, "1", gotUser)
	assert.Equal(t, "hello", gotBody["text"])
}

func TestSendTextGatewayError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "flood wait", http.StatusTooManyRequests)
	})

	err := client.SendText(context.Background(), "-1002222", "hello")
	require.Error(t, err)
	assert.True(t, types.IsTransferError(err))
}

func TestForwardMessage(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}

	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
	})

	ref := models.MessageRef{ChannelID: "-1001111", MessageID: 42}
	err := client.ForwardMessage(context.Background(), "-1002222", ref)
	require.NoError(t, err)

	assert.Equal(t, "/v1/channels/-1002222/forward", gotPath)
	assert.Equal(t, "-1001111", gotBody["fromChannelId"])
	assert.Equal(t, float64(42), gotBody["messageId"])
}

func TestDownloadMedia(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/media/-1001111/42", r.URL.Path)
		_, _ = w.Write([]byte("media-bytes"))
	})

	dest := filepath.Join(t.TempDir(), "media")
	ref := models.MessageRef{ChannelID: "-1001111", MessageID: 42}

	var lastCurrent int64
	path, err := client.DownloadMedia(context.Background(), ref, dest, func(current, total int64) {
		lastCurrent = current
	})
	require.NoError(t, err)
	assert.Equal(t, dest, path)
	assert.Equal(t, int64(len("media-bytes")), lastCurrent)

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "media-bytes", string(data))
}

func TestDownloadMediaGatewayError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	ref := models.MessageRef{ChannelID: "-1001111", MessageID: 42}
	_, err := client.DownloadMedia(context.Background(), ref, filepath.Join(t.TempDir(), "media"), nil)
	require.Error(t, err)
	assert.True(t, types.IsTransferError(err))
}

func TestReconnectRestoresConnectedFlag(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/1/reconnect", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	})

	client.connected.Store(false)
	require.NoError(t, client.Reconnect(context.Background()))
	assert.True(t, client.Connected())
}

func TestSignInPasswordNeeded(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"passwordNeeded": true})
	})

	_, err := client.SignIn(context.Background(), "+1", "123", "hash")
	assert.ErrorIs(t, err, ErrPasswordNeeded)
}

func TestSignInReturnsSession(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"sessionString": "sess-xyz"})
	})

	session, err := client.SignIn(context.Background(), "+1", "123", "hash")
	require.NoError(t, err)
	assert.Equal(t, "sess-xyz", session)
}

func TestListJoinedChannels(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/sessions/1/channels", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]types.ChannelInfo{
			{ID: "-1001111", Title: "News"},
			{ID: "-1002222", Title: "Mine"},
		})
	})

	channels, err := client.ListJoinedChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 2)
	assert.Equal(t, "News", channels[0].Title)
}
