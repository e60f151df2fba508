package loader

import (
	"strings"

	"newsletter-indexer/internal/mailparse"
	"newsletter-indexer/internal/models"
)

// Validation failure reasons written to the ledger
const (
	ReasonMissingID    = "Missing ID"
	ReasonEmptyContent = "Empty content"
	ReasonEmptyHeader  = "Empty header"
)

// UnknownNewsletter names records whose sender has no display name
const UnknownNewsletter = "Unknown Newsletter"

// Derive builds the vector form of rec. A non-empty reason means the record
// must not be submitted.
func Derive(rec *models.NewsletterRecord) (models.VectorRecord, string) {
	if rec == nil || strings.TrimSpace(rec.ID) == "" {
		return models.VectorRecord{}, ReasonMissingID
	}

	content := textContent(rec)
	if content == "" {
		return models.VectorRecord{}, ReasonEmptyContent
	}

	header := headerOf(rec)
	if header == "" {
		return models.VectorRecord{}, ReasonEmptyHeader
	}

	newsletter := mailparse.DisplayName(rec.From)
	if newsletter == "" {
		newsletter = UnknownNewsletter
	}

	return models.VectorRecord{
		Newsletter:   newsletter,
		Sender:       rec.From,
		Header:       header,
		ReceivedDate: rec.Date,
		Links:        []string{},
		TextContent:  content,
		EmailID:      rec.ID,
	}, ""
}

// textContent joins the non-blank sections. The body is only used when the
// record has no sections at all; blank sections yield empty content.
func textContent(rec *models.NewsletterRecord) string {
	if len(rec.Sections) == 0 {
		return strings.TrimSpace(rec.Body)
	}
	parts := make([]string, 0, len(rec.Sections))
	for _, s := range rec.Sections {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, "\n\n")
}

func headerOf(rec *models.NewsletterRecord) string {
	if s := strings.TrimSpace(rec.Subject); s != "" {
		return s
	}
	for _, s := range rec.Sections {
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}
