package models

import "time"

// Email represents a normalized parsed newsletter message
type Email struct {
	UID      uint32
	ID       string
	Subject  string
	From     string
	Date     time.Time
	Body     string
	Sections []string
	TraceID  string
}

// Record converts the transient message into its persisted form
func (e *Email) Record() *NewsletterRecord {
	return &NewsletterRecord{
		ID:       e.ID,
		Subject:  e.Subject,
		From:     e.From,
		Date:     e.Date,
		Body:     e.Body,
		Sections: e.Sections,
	}
}
