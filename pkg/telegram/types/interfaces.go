package types

import (
	"context"

	"chanrelay/internal/models"
)

// Client is one authenticated gateway session for a single user. All
// blocking operations take a context; transfer operations return
// *TransferError for failures that are retryable or fallback-eligible.
type Client interface {
	// StreamEvents subscribes to inbound channel messages for this
	// session. The returned channel closes when ctx is cancelled or the
	// stream drops.
	StreamEvents(ctx context.Context) (<-chan InboundEvent, error)

	// DownloadMedia fetches the referenced message's attachment into
	// destPath and returns the final path written.
	DownloadMedia(ctx context.Context, ref models.MessageRef, destPath string, progress ProgressFunc) (string, error)

	// DownloadThumbnail fetches the attachment's thumbnail, best effort.
	DownloadThumbnail(ctx context.Context, ref models.MessageRef, destPath string) (string, error)

	// UploadFile sends a local file to channelID preserving the original
	// media attributes and caption. thumbPath may be empty.
	UploadFile(ctx context.Context, channelID, path, caption string, attrs models.UploadAttributes, thumbPath string, progress ProgressFunc) error

	// ForwardMessage performs a protocol-level forward of ref to the
	// destination channel, preserving attribution.
	ForwardMessage(ctx context.Context, destChannelID string, ref models.MessageRef) error

	// SendText sends a plain text message to a channel or user peer.
	SendText(ctx context.Context, peerID, text string) error

	// SendMediaRef sends a message reusing the gateway-side media handle
	// of ref, without a local download.
	SendMediaRef(ctx context.Context, channelID, text string, ref models.MessageRef) error

	// ListJoinedChannels returns the channels this session is a member of.
	ListJoinedChannels(ctx context.Context) ([]ChannelInfo, error)

	// LeaveChannel leaves a joined channel.
	LeaveChannel(ctx context.Context, channelID string) error

	// Connected reports whether the underlying session link is up.
	Connected() bool

	// Reconnect re-establishes a dropped session link.
	Reconnect(ctx context.Context) error

	Close() error
}

// Authenticator drives the interactive login flow against the gateway.
type Authenticator interface {
	// RequestCode asks the gateway to send a login code to phone and
	// returns the code hash needed to complete sign-in.
	RequestCode(ctx context.Context, phone string) (string, error)

	// SignIn completes login with the received code. It returns the
	// persistent session string, or ErrPasswordNeeded when the account
	// has two-factor auth enabled.
	SignIn(ctx context.Context, phone, code, codeHash string) (string, error)

	// SignInPassword completes a two-factor login.
	SignInPassword(ctx context.Context, password string) (string, error)
}

// ClientFactory builds per-user session clients from stored credentials.
type ClientFactory interface {
	// NewSessionClient opens a client bound to an existing session string.
	NewSessionClient(ctx context.Context, userID int64, sessionString string) (Client, error)

	// NewLoginClient opens an unauthenticated client used for the login
	// flow; the returned Authenticator shares its connection.
	NewLoginClient(ctx context.Context) (Client, Authenticator, error)
}
