// Package channel abstracts the messaging transport the assistant talks
// through. The dialog layer only sees this interface; the vendor gateway
// lives behind it.
package channel

import "context"

// Attachment kinds carried by inbound events.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindVoice    AttachmentKind = "voice"
	KindDocument AttachmentKind = "document"
)

// Presence states the provider can broadcast while the assistant works.
const (
	PresenceComposing = "composing"
	PresencePaused    = "paused"
)

// Attachment references a media payload held by the vendor gateway. Caption
// doubles as the transcription for voice notes.
type Attachment struct {
	Kind    AttachmentKind
	MediaID string
	Caption string
}

// Event is one inbound message.
type Event struct {
	From       string
	Body       string
	PushName   string
	Attachment *Attachment
}

// Text returns the usable prompt text of the event: the body, or the
// attachment caption when the body is empty.
func (e Event) Text() string {
	if e.Body != "" {
		return e.Body
	}
	if e.Attachment != nil {
		return e.Attachment.Caption
	}
	return ""
}

// Provider sends outbound traffic and persists inbound media. SaveAttachment
// downloads the event's media payload and returns the local file path.
type Provider interface {
	SendText(ctx context.Context, to, text string) error
	SendMedia(ctx context.Context, to, url, caption string) error
	SendPresence(ctx context.Context, to, state string) error
	SaveAttachment(ctx context.Context, ev Event) (string, error)
}

// Handler consumes inbound events. Implementations must not retain ev's
// attachment past the call.
type Handler func(ctx context.Context, ev Event)
