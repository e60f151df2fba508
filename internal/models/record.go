package models

import "time"

// NewsletterRecord is the persisted form of a newsletter message in the record file
type NewsletterRecord struct {
	ID       string    `json:"id"`
	Subject  string    `json:"subject"`
	From     string    `json:"from"`
	Date     time.Time `json:"date"`
	Body     string    `json:"body,omitempty"`
	Sections []string  `json:"sections"`
}

// VectorRecord is a newsletter as stored in the vector index
type VectorRecord struct {
	PointID      string
	Newsletter   string
	Sender       string
	Header       string
	ReceivedDate time.Time
	Links        []string
	TextContent  string
	EmailID      string
}

// ItemResult is the outcome of submitting one vector record. A nil Err means the
// record was confirmed by the store.
type ItemResult struct {
	EmailID string
	Err     error
}

// SearchResult is the shape returned by recent and search queries
type SearchResult struct {
	Header       string    `json:"header"`
	ReceivedDate time.Time `json:"received_date"`
	TextContent  *string   `json:"text_content,omitempty"`
}

// RunResult summarizes one ingestion and sync run
type RunResult struct {
	TraceID   string `json:"trace_id"`
	Fetched   int    `json:"fetched"`
	Processed int    `json:"processed_count"`
	Skipped   int    `json:"skipped"`
	Stored    int    `json:"stored"`
	Loaded    int    `json:"loaded"`
	Failed    int    `json:"failed"`
}
