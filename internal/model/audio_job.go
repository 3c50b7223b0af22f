package model

import "time"

// AudioJob is a captured voice note travelling through the client pipeline.
// It is owned by the orchestrator until it completes or is canceled.
type AudioJob struct {
	TempMessageID string
	Data          []byte
	MimeType      string
	Duration      time.Duration
	CompanyID     string
	ContactID     string
	Phone         string
}
