package mailparse

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"regexp"
	"strings"
	"time"

	"newsletter-indexer/internal/models"
	"newsletter-indexer/internal/store"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"
)

// DateLayout is the only accepted Date header format, after zone annotations are stripped
const DateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// ErrNoBody is returned when the fetched message carries no body section
var ErrNoBody = errors.New("message body could not be retrieved")

var zoneAnnotation = regexp.MustCompile(`\s*\([^()]*\)\s*$`)

var headerDecoder = &mime.WordDecoder{CharsetReader: charset.Reader}

// Parse turns a fetched IMAP message into an Email. The first text/plain part becomes the body.
func Parse(msg *imap.Message) (*models.Email, error) {
	r := msg.GetBody(&imap.BodySectionName{})
	if r == nil {
		return nil, ErrNoBody
	}

	mr, err := mail.CreateReader(r)
	if err != nil {
		return nil, err
	}

	email := &models.Email{
		UID:     msg.Uid,
		TraceID: uuid.New().String(),
	}

	header := mr.Header

	email.ID = store.NormalizeID(header.Get("Message-Id"))

	from, err := DecodeHeader(header.Get("From"))
	if err != nil {
		return nil, fmt.Errorf("decoding From: %w", err)
	}
	email.From = from

	decodedSubject, err := DecodeHeader(header.Get("Subject"))
	if err != nil {
		return nil, fmt.Errorf("decoding Subject: %w", err)
	}
	email.Subject = decodedSubject

	date, err := ParseDate(header.Get("Date"))
	if err != nil {
		return nil, err
	}
	email.Date = date

	// First text/plain part only
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}

		h, ok := p.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		if !isPlainText(h) {
			continue
		}
		body, err := io.ReadAll(p.Body)
		if err != nil {
			return nil, fmt.Errorf("reading text/plain part: %w", err)
		}
		email.Body = string(body)
		break
	}

	return email, nil
}

// isPlainText reports whether a part is text/plain. A part without a
// Content-Type header is text/plain (RFC 2045).
func isPlainText(h *mail.InlineHeader) bool {
	if strings.TrimSpace(h.Get("Content-Type")) == "" {
		return true
	}
	contentType, _, err := h.ContentType()
	return err == nil && contentType == "text/plain"
}

// ParseDate parses a Date header such as "Tue, 5 Mar 2024 10:00:00 +0000 (UTC)"
func ParseDate(value string) (time.Time, error) {
	cleaned := zoneAnnotation.ReplaceAllString(strings.TrimSpace(value), "")
	t, err := time.Parse(DateLayout, cleaned)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid Date header %q: %w", value, err)
	}
	return t, nil
}

// DecodeHeader decodes MIME-encoded headers (e.g., "=?UTF-8?B?...?=") to plain text
func DecodeHeader(encoded string) (string, error) {
	decoded, err := headerDecoder.DecodeHeader(encoded)
	if err != nil {
		return "", err
	}
	return decoded, nil
}

// DisplayName returns the name part of a From value such as `"The Batch" <news@x.com>`
func DisplayName(from string) string {
	name := from
	if i := strings.Index(from, "<"); i >= 0 {
		name = from[:i]
	}
	return strings.Trim(strings.TrimSpace(name), `"'`)
}
