package model

type Action string

const (
	ActionSend       Action = "send"
	ActionTest       Action = "test"
	ActionCheckToken Action = "check_token"
)

// SendRequest is the body accepted by the send/relay endpoint.
type SendRequest struct {
	ContactID     string      `json:"contact_id,omitempty"`
	Phone         string      `json:"phone,omitempty"`
	Content       string      `json:"content,omitempty"`
	Action        Action      `json:"action,omitempty"`
	MessageType   MessageType `json:"message_type,omitempty"`
	MediaURL      string      `json:"media_url,omitempty"`
	MediaFilename string      `json:"media_filename,omitempty"`
	MediaCaption  string      `json:"media_caption,omitempty"`
	AudioDuration float64     `json:"audio_duration,omitempty"`
}

// SendResponse is the body returned by the send/relay endpoint.
type SendResponse struct {
	Success           bool   `json:"success,omitempty"`
	MessageID         string `json:"message_id,omitempty"`
	ProviderMessageID string `json:"meta_message_id,omitempty"`
	Status            Status `json:"status,omitempty"`
	Error             string `json:"error,omitempty"`

	// test / check_token
	DisplayPhoneNumber string `json:"display_phone_number,omitempty"`
	VerifiedName       string `json:"verified_name,omitempty"`
	TokenConfigured    *bool  `json:"token_configured,omitempty"`
}
