package model

import "time"

type Contact struct {
	ID            string     `json:"id"`
	CompanyID     string     `json:"company_id"`
	Phone         string     `json:"phone"`
	Name          string     `json:"name,omitempty"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Credentials are a company's WhatsApp Cloud API settings.
type Credentials struct {
	AccessToken   string
	PhoneNumberID string
}

func (c Credentials) Complete() bool {
	return c.AccessToken != "" && c.PhoneNumberID != ""
}
