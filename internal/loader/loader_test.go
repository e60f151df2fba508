package loader

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"newsletter-indexer/internal/ledger"
	"newsletter-indexer/internal/models"
	"newsletter-indexer/internal/store"
	"newsletter-indexer/internal/vectorstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, sections ...string) *models.NewsletterRecord {
	return &models.NewsletterRecord{
		ID:       id,
		Subject:  "Issue " + id,
		From:     "AI Weekly <news@aiweekly.co>",
		Date:     time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Body:     strings.Join(sections, "\n"),
		Sections: sections,
	}
}

func records(recs ...*models.NewsletterRecord) store.Records {
	out := store.Records{}
	for _, r := range recs {
		out[r.ID] = r
	}
	return out
}

func testOptions() Options {
	return Options{BatchSize: 2, Workers: 2, PageSize: 10, MaxRetries: 1, RetryDelay: time.Millisecond}
}

func TestSync_LoadsNewRecords(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	l := New(idx, testOptions())

	res, err := l.Sync(context.Background(), records(record("a@x", "Intro:\nHello"), record("b@x", "News:\nWorld"), record("c@x", "More:\nStuff")), ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 3, res.Loaded)
	assert.Equal(t, 0, res.Failed)
	assert.Empty(t, res.Ledger)

	stored := idx.Records()
	require.Len(t, stored, 3)
	for _, rec := range stored {
		assert.Equal(t, "AI Weekly", rec.Newsletter)
		assert.NotEmpty(t, rec.PointID)
	}
}

func TestSync_EmptyContentGoesToLedger(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	l := New(idx, testOptions())

	empty := record("empty@x")
	empty.Sections = []string{"", "  "}

	res, err := l.Sync(context.Background(), records(record("a@x", "Intro:\nHello"), empty), ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Candidates)
	assert.Equal(t, 1, res.Loaded)
	assert.Equal(t, ledger.Ledger{"empty@x": ReasonEmptyContent}, res.Ledger)

	for _, rec := range idx.Records() {
		assert.NotEqual(t, "empty@x", rec.EmailID)
	}
}

func TestSync_SecondRunIsStable(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	l := New(idx, testOptions())
	recs := records(record("a@x", "Intro:\nHello"), record("b@x", "News:\nWorld"))

	first, err := l.Sync(context.Background(), recs, ledger.Ledger{})
	require.NoError(t, err)
	require.Empty(t, first.Ledger)

	second, err := l.Sync(context.Background(), recs, first.Ledger)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Candidates)
	assert.Equal(t, 0, second.Loaded)
	assert.Empty(t, second.Ledger)
	assert.NotNil(t, second.Ledger)
	assert.Len(t, idx.Records(), 2)
}

// A ledger entry is retried even when the index already holds the id, and the
// append-only index then holds it twice.
func TestSync_LedgerRetryDuplicatesCommittedRecord(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	l := New(idx, testOptions())
	recs := records(record("a@x", "Intro:\nHello"))

	_, err := l.Sync(context.Background(), recs, ledger.Ledger{})
	require.NoError(t, err)

	res, err := l.Sync(context.Background(), recs, ledger.Ledger{"a@x": "Batch transport failure: timeout"})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Loaded)
	assert.Empty(t, res.Ledger)

	count := 0
	for _, rec := range idx.Records() {
		if rec.EmailID == "a@x" {
			count++
		}
	}
	assert.Equal(t, 2, count)
}

func TestSync_PurgesLedgerEntriesForRemovedRecords(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	l := New(idx, testOptions())

	res, err := l.Sync(context.Background(), records(record("a@x", "Intro:\nHello")), ledger.Ledger{"gone@x": ReasonEmptyHeader})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Purged)
	assert.NotContains(t, res.Ledger, "gone@x")
	assert.Empty(t, res.Ledger)
}

func TestSync_TransportFailureMarksBatch(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	idx.InsertErr = func(batch []models.VectorRecord) error {
		for _, rec := range batch {
			if rec.EmailID == "b@x" {
				return errors.New("connection reset")
			}
		}
		return nil
	}
	l := New(idx, testOptions())

	recs := records(record("a@x", "A:\n1"), record("b@x", "B:\n2"), record("c@x", "C:\n3"), record("d@x", "D:\n4"))
	res, err := l.Sync(context.Background(), recs, ledger.Ledger{})
	require.NoError(t, err)

	assert.Equal(t, 4, res.Candidates)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, 2, res.Failed)
	assert.Equal(t, "Batch transport failure: connection reset", res.Ledger["a@x"])
	assert.Equal(t, "Batch transport failure: connection reset", res.Ledger["b@x"])
	assert.NotContains(t, res.Ledger, "c@x")
	assert.NotContains(t, res.Ledger, "d@x")
}

func TestSync_RetriesTransientFailure(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	calls := 0
	idx.InsertErr = func([]models.VectorRecord) error {
		calls++
		if calls == 1 {
			return errors.New("unavailable")
		}
		return nil
	}
	opts := testOptions()
	opts.Workers = 1
	l := New(idx, opts)

	res, err := l.Sync(context.Background(), records(record("a@x", "A:\n1")), ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Loaded)
	assert.Empty(t, res.Ledger)
	assert.Equal(t, 2, calls)
}

func TestSync_PerItemAttribution(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	idx.ItemErr = map[string]error{"b@x": errors.New("vector dimension mismatch")}
	l := New(idx, testOptions())

	res, err := l.Sync(context.Background(), records(record("a@x", "A:\n1"), record("b@x", "B:\n2"), record("c@x", "C:\n3")), ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Loaded)
	assert.Equal(t, ledger.Ledger{"b@x": "vector dimension mismatch"}, res.Ledger)
}

func TestSync_PaginatesDedupScan(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	var recs []*models.NewsletterRecord
	for i := range 25 {
		recs = append(recs, record(fmt.Sprintf("m%02d@x", i), "Body:\ntext"))
	}
	l := New(idx, testOptions())
	_, err := l.Sync(context.Background(), records(recs...), ledger.Ledger{})
	require.NoError(t, err)

	before := idx.Scrolls()
	res, err := l.Sync(context.Background(), records(recs...), ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Candidates)
	assert.Equal(t, 3, idx.Scrolls()-before)
}

func TestSync_Unavailable(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	idx.KeysErr = errors.New("dial tcp: connection refused")
	l := New(idx, testOptions())

	res, err := l.Sync(context.Background(), records(record("a@x", "A:\n1")), ledger.Ledger{"a@x": ReasonEmptyHeader})
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Nil(t, res)
	assert.Empty(t, idx.Records())
}

func TestSync_ManyBatches(t *testing.T) {
	idx := vectorstore.NewMemoryIndex()
	var recs []*models.NewsletterRecord
	for i := range 45 {
		recs = append(recs, record(fmt.Sprintf("m%02d@x", i), "Body:\ntext"))
	}
	l := New(idx, Options{BatchSize: 4, Workers: 3, PageSize: 100})

	res, err := l.Sync(context.Background(), records(recs...), ledger.Ledger{})
	require.NoError(t, err)
	assert.Equal(t, 45, res.Loaded)
	assert.Len(t, idx.Records(), 45)
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name       string
		rec        *models.NewsletterRecord
		reason     string
		header     string
		content    string
		newsletter string
	}{
		{
			name:       "sections joined",
			rec:        &models.NewsletterRecord{ID: "a", Subject: "Weekly", From: `"The Batch" <b@x>`, Sections: []string{"One:\nx", " ", "Two:\ny"}},
			header:     "Weekly",
			content:    "One:\nx\n\nTwo:\ny",
			newsletter: "The Batch",
		},
		{
			name:       "body fallback",
			rec:        &models.NewsletterRecord{ID: "a", Subject: "Weekly", From: "", Body: "  plain body  ", Sections: []string{}},
			header:     "Weekly",
			content:    "plain body",
			newsletter: UnknownNewsletter,
		},
		{
			name:       "header from first section",
			rec:        &models.NewsletterRecord{ID: "a", From: "AI <a@x>", Sections: []string{"", "First:\nx"}},
			header:     "First:\nx",
			content:    "First:\nx",
			newsletter: "AI",
		},
		{
			name:   "missing id wins",
			rec:    &models.NewsletterRecord{ID: " ", Sections: []string{}},
			reason: ReasonMissingID,
		},
		{
			name:   "empty content before empty header",
			rec:    &models.NewsletterRecord{ID: "a", Sections: []string{}},
			reason: ReasonEmptyContent,
		},
		{
			name:   "blank sections do not fall back to body",
			rec:    &models.NewsletterRecord{ID: "a", Subject: "Weekly", Body: "raw body text", Sections: []string{"", " \r\n "}},
			reason: ReasonEmptyContent,
		},
		{
			name:   "empty header",
			rec:    &models.NewsletterRecord{ID: "a", Body: "text", Sections: []string{}},
			reason: ReasonEmptyHeader,
		},
		{
			name:   "nil record",
			rec:    nil,
			reason: ReasonMissingID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Derive(tt.rec)
			assert.Equal(t, tt.reason, reason)
			if tt.reason != "" {
				return
			}
			assert.Equal(t, tt.header, got.Header)
			assert.Equal(t, tt.content, got.TextContent)
			assert.Equal(t, tt.newsletter, got.Newsletter)
			assert.Equal(t, tt.rec.ID, got.EmailID)
			assert.Equal(t, tt.rec.From, got.Sender)
			assert.NotNil(t, got.Links)
		})
	}
}
