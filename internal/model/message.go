package model

import "time"

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
)

// CanTransition reports whether a record in status s may move to next.
// Re-asserting processing is allowed.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case Pending:
		return next == Processing || next == Sent || next == Failed
	case Processing:
		return next == Processing || next == Sent || next == Failed
	default:
		return false
	}
}

type MessageType string

const (
	Text     MessageType = "text"
	Image    MessageType = "image"
	Audio    MessageType = "audio"
	Document MessageType = "document"
	Video    MessageType = "video"
)

func (t MessageType) Valid() bool {
	switch t {
	case Text, Image, Audio, Document, Video:
		return true
	default:
		return false
	}
}

// IsMedia reports whether the type is delivered by reference to a media URL.
func (t MessageType) IsMedia() bool {
	return t.Valid() && t != Text
}

type Direction string

const Outbound Direction = "outbound"

type Message struct {
	ID                string      `json:"id"`
	CompanyID         string      `json:"company_id"`
	ContactID         *string     `json:"contact_id,omitempty"`
	Content           string      `json:"content"`
	Direction         Direction   `json:"direction"`
	Status            Status      `json:"status"`
	Type              MessageType `json:"message_type"`
	MediaURL          *string     `json:"media_url,omitempty"`
	MediaFilename     *string     `json:"media_filename,omitempty"`
	AudioDuration     *float64    `json:"audio_duration,omitempty"`
	ProviderMessageID *string     `json:"meta_message_id,omitempty"`
	LastError         *string     `json:"last_error,omitempty"`
	SentAt            *time.Time  `json:"sent_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}
