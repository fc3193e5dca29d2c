package models

import "time"

// ForwardMode controls how a message is relayed to the destination.
type ForwardMode string

const (
	// ForwardModeCopy re-sends the content as a new message with no
	// attribution to the origin channel.
	ForwardModeCopy ForwardMode = "copy"
	// ForwardModeForward uses a protocol-level forward, preserving the
	// "forwarded from" attribution.
	ForwardModeForward ForwardMode = "forward"
)

// IsValid reports whether m is a recognized forward mode.
func (m ForwardMode) IsValid() bool {
	return m == ForwardModeCopy || m == ForwardModeForward
}

// TransferJob is one unit of relay work: a single matched inbound message
// bound for a user's destination channel. Jobs are immutable once created,
// consumed exactly once by the executor and never re-enqueued; retries
// happen inside the executor call.
type TransferJob struct {
	UserID             int64
	SourceChannelID    string
	SourceChannelTitle string
	Mode               ForwardMode
	DestinationID      string
	MessageRef         MessageRef
	MessageID          int64
	MessageDate        time.Time
}

// MessageRef is an opaque handle to a message held by the transfer gateway.
// The executor passes it back to the gateway for download/forward calls.
type MessageRef struct {
	ChannelID string
	MessageID int64

	// Text is the message body or media caption, possibly empty.
	Text string

	// Media describes the single attachment, if any.
	Media *MediaInfo

	// Restricted marks protocol-level no-forward content; such messages
	// can only be relayed by copy.
	Restricted bool
}

// HasMedia reports whether the referenced message carries an attachment.
func (r MessageRef) HasMedia() bool {
	return r.Media != nil
}

// MediaInfo carries the declared properties of a message attachment.
type MediaInfo struct {
	// Kind is the gateway media classification: photo, video, document,
	// audio or voice.
	Kind string

	// Size is the declared byte size, 0 when the gateway does not report
	// one (photos).
	Size int64

	FileName          string
	MimeType          string
	DurationSec       int
	Width             int
	Height            int
	SupportsStreaming bool

	// HasThumbnail indicates a server-side thumbnail that can be fetched
	// separately.
	HasThumbnail bool
}

// UploadAttributes are the media properties preserved across a copy so the
// re-uploaded file keeps the original presentation.
type UploadAttributes struct {
	FileName          string
	MimeType          string
	DurationSec       int
	Width             int
	Height            int
	SupportsStreaming bool
}

// Attributes derives the upload attributes preserved from the original media.
func (m *MediaInfo) Attributes() UploadAttributes {
	return UploadAttributes{
		FileName:          m.FileName,
		MimeType:          m.MimeType,
		DurationSec:       m.DurationSec,
		Width:             m.Width,
		Height:            m.Height,
		SupportsStreaming: m.SupportsStreaming,
	}
}
