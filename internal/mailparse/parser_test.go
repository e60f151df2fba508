package mailparse

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
)

func rawMessage(headers map[string]string, body string) *imap.Message {
	var b strings.Builder
	for _, k := range []string{"Message-Id", "From", "Subject", "Date", "Content-Type", "Content-Transfer-Encoding"} {
		if v, ok := headers[k]; ok {
			b.WriteString(k + ": " + v + "\r\n")
		}
	}
	b.WriteString("\r\n")
	b.WriteString(body)

	return &imap.Message{
		Uid: 42,
		Body: map[*imap.BodySectionName]imap.Literal{
			{}: bytes.NewBufferString(b.String()),
		},
	}
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
		wantErr  bool
	}{
		{
			name:     "Plain ASCII",
			input:    "Hello World",
			expected: "Hello World",
			wantErr:  false,
		},
		{
			name:     "UTF-8 encoded",
			input:    "=?UTF-8?Q?Important_:_comment_mettre_=C3=A0_jour?=",
			expected: "Important : comment mettre à jour",
			wantErr:  false,
		},
		{
			name:     "ISO-8859-1 encoded",
			input:    "=?ISO-8859-1?Q?Caf=E9?=",
			expected: "Café",
			wantErr:  false,
		},
		{
			name:     "Base64 encoded",
			input:    "=?UTF-8?B?SGVsbG8gV29ybGQ=?=",
			expected: "Hello World",
			wantErr:  false,
		},
		{
			name:     "Windows-1252 encoded",
			input:    "=?windows-1252?Q?=93quoted=94?=",
			expected: "“quoted”",
			wantErr:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeHeader(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("DecodeHeader() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.expected {
				t.Errorf("DecodeHeader() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseDate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected time.Time
		wantErr  bool
	}{
		{
			name:     "Standard",
			input:    "Tue, 05 Mar 2024 10:30:00 +0100",
			expected: time.Date(2024, 3, 5, 9, 30, 0, 0, time.UTC),
		},
		{
			name:     "Single digit day",
			input:    "Tue, 5 Mar 2024 10:30:00 +0000",
			expected: time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "Trailing zone annotation",
			input:    "Tue, 5 Mar 2024 10:30:00 +0000 (UTC)",
			expected: time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC),
		},
		{
			name:     "Other annotation",
			input:    "Tue, 5 Mar 2024 10:30:00 -0800 (PST)",
			expected: time.Date(2024, 3, 5, 18, 30, 0, 0, time.UTC),
		},
		{
			name:    "Missing weekday",
			input:   "5 Mar 2024 10:30:00 +0000",
			wantErr: true,
		},
		{
			name:    "Empty",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseDate(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && !got.Equal(tt.expected) {
				t.Errorf("ParseDate() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "Name and address", input: "The Batch <batch@deeplearning.ai>", expected: "The Batch"},
		{name: "Quoted name", input: `"TLDR AI" <dan@tldrnewsletter.com>`, expected: "TLDR AI"},
		{name: "Bare address", input: "news@example.com", expected: "news@example.com"},
		{name: "Only brackets", input: "<news@example.com>", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DisplayName(tt.input)
			if got != tt.expected {
				t.Errorf("DisplayName() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParse(t *testing.T) {
	msg := rawMessage(map[string]string{
		"Message-Id":   "<abc123@mail.example.com>",
		"From":         "=?UTF-8?Q?Caf=C3=A9_Weekly?= <cafe@example.com>",
		"Subject":      "=?UTF-8?B?SGVsbG8gV29ybGQ=?=",
		"Date":         "Tue, 5 Mar 2024 10:30:00 +0000 (UTC)",
		"Content-Type": "text/plain; charset=utf-8",
	}, "Top Stories:\nsomething happened\r\n")

	email, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}

	if email.ID != "abc123@mail.example.com" {
		t.Errorf("Expected normalized id, got %q", email.ID)
	}
	if email.From != "Café Weekly <cafe@example.com>" {
		t.Errorf("Expected decoded From, got %q", email.From)
	}
	if email.Subject != "Hello World" {
		t.Errorf("Expected decoded subject, got %q", email.Subject)
	}
	if !email.Date.Equal(time.Date(2024, 3, 5, 10, 30, 0, 0, time.UTC)) {
		t.Errorf("Unexpected date %v", email.Date)
	}
	if !strings.HasPrefix(email.Body, "Top Stories:") {
		t.Errorf("Expected body text, got %q", email.Body)
	}
	if email.UID != 42 || email.TraceID == "" {
		t.Errorf("Expected UID 42 and a trace id, got %d / %q", email.UID, email.TraceID)
	}
}

func TestParse_FirstPlainPartOnly(t *testing.T) {
	body := "--XYZ\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n\r\n" +
		"<p>html</p>\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n\r\n" +
		"first caf=C3=A9\r\n" +
		"--XYZ\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n\r\n" +
		"second\r\n" +
		"--XYZ--\r\n"

	msg := rawMessage(map[string]string{
		"Message-Id":   "<multi@x>",
		"From":         "a@x",
		"Subject":      "Multi",
		"Date":         "Wed, 6 Mar 2024 08:00:00 +0000",
		"Content-Type": `multipart/alternative; boundary="XYZ"`,
	}, body)

	email, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if strings.TrimSpace(email.Body) != "first café" {
		t.Errorf("Expected first decoded plain part, got %q", email.Body)
	}
}

func TestParse_NoPlainPart(t *testing.T) {
	msg := rawMessage(map[string]string{
		"Message-Id":   "<html@x>",
		"From":         "a@x",
		"Subject":      "Html only",
		"Date":         "Wed, 6 Mar 2024 08:00:00 +0000",
		"Content-Type": "text/html; charset=utf-8",
	}, "<p>html</p>")

	email, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if email.Body != "" {
		t.Errorf("Expected empty body, got %q", email.Body)
	}
}

func TestParse_DefaultContentType(t *testing.T) {
	msg := rawMessage(map[string]string{
		"Message-Id": "<plain@x>",
		"From":       "a@x",
		"Subject":    "No content type",
		"Date":       "Wed, 6 Mar 2024 08:00:00 +0000",
	}, "Top Stories:\r\nplain text body\r\n")

	email, err := Parse(msg)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if email.Body != "Top Stories:\r\nplain text body\r\n" {
		t.Errorf("Expected body of part without Content-Type, got %q", email.Body)
	}
}

func TestParse_BadDate(t *testing.T) {
	msg := rawMessage(map[string]string{
		"Message-Id": "<bad@x>",
		"From":       "a@x",
		"Subject":    "Bad",
		"Date":       "yesterday",
	}, "text")

	if _, err := Parse(msg); err == nil {
		t.Error("Expected error for unparsable date")
	}
}

func TestParse_NoBody(t *testing.T) {
	if _, err := Parse(&imap.Message{}); err != ErrNoBody {
		t.Errorf("Expected ErrNoBody, got %v", err)
	}
}
