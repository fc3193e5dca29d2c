package types

import (
	"errors"
	"fmt"
	"time"

	"chanrelay/internal/models"
)

// InboundEvent is one new-message notification from a user's authenticated
// gateway session.
type InboundEvent struct {
	UserID    int64             `json:"userId"`
	ChannelID string            `json:"channelId"`
	MessageID int64             `json:"messageId"`
	Date      time.Time         `json:"date"`
	Ref       models.MessageRef `json:"ref"`
}

// ChannelInfo describes a channel the session has joined.
type ChannelInfo struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// ProgressFunc receives transfer progress updates. total is 0 when the
// gateway does not report an expected size.
type ProgressFunc func(current, total int64)

// ErrDisconnected is reported by the client when the gateway session has
// lost its connection; callers should Reconnect before retrying.
var ErrDisconnected = errors.New("gateway session disconnected")

// TransferError wraps a failure of a transfer-layer operation (download,
// upload, forward, send). Only these failures are eligible for retry and
// mode fallback; anything else propagates as-is.
type TransferError struct {
	Op  string
	Err error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s failed: %v", e.Op, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// NewTransferError wraps err as a transfer-layer failure of op.
func NewTransferError(op string, err error) *TransferError {
	return &TransferError{Op: op, Err: err}
}

// IsTransferError reports whether err is a transfer-layer failure.
func IsTransferError(err error) bool {
	var te *TransferError
	return errors.As(err, &te)
}

// IsDisconnected reports whether err indicates a lost gateway session.
func IsDisconnected(err error) bool {
	return errors.Is(err, ErrDisconnected)
}
