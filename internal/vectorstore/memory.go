package vectorstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"newsletter-indexer/internal/models"

	"github.com/google/uuid"
)

// ErrNotReady is returned by MemoryIndex when it has been marked down
var ErrNotReady = errors.New("vector store not ready")

// MemoryIndex is an in-process Index. It ranks NearText hits by how many query
// terms appear in the header and text content.
type MemoryIndex struct {
	mu      sync.Mutex
	records []models.VectorRecord
	schema  bool
	down    bool

	// InsertErr, when set, fails any batch for which it returns an error
	InsertErr func(batch []models.VectorRecord) error
	// ItemErr rejects individual records by email id
	ItemErr map[string]error
	// KeysErr fails ExistingKeys
	KeysErr error

	scrolls int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{}
}

// SetDown makes every call fail with ErrNotReady until cleared
func (m *MemoryIndex) SetDown(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Records returns a copy of the stored records in insertion order
func (m *MemoryIndex) Records() []models.VectorRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.VectorRecord(nil), m.records...)
}

// Scrolls returns the number of pages read by ExistingKeys
func (m *MemoryIndex) Scrolls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.scrolls
}

func (m *MemoryIndex) Ready(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrNotReady
	}
	return ctx.Err()
}

func (m *MemoryIndex) EnsureSchema(ctx context.Context, recreate bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return ErrNotReady
	}
	if recreate {
		m.records = nil
	}
	m.schema = true
	return nil
}

// HasSchema reports whether EnsureSchema has run
func (m *MemoryIndex) HasSchema() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schema
}

func (m *MemoryIndex) ExistingKeys(ctx context.Context, pageSize, maxPages int) (map[string]struct{}, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrNotReady
	}
	if m.KeysErr != nil {
		return nil, m.KeysErr
	}
	if pageSize < 1 {
		pageSize = 1
	}

	keys := make(map[string]struct{})
	for page := 0; page*pageSize < len(m.records) || page == 0; page++ {
		if maxPages > 0 && page == maxPages {
			break
		}
		m.scrolls++
		end := min((page+1)*pageSize, len(m.records))
		for _, rec := range m.records[page*pageSize : end] {
			keys[rec.PointID] = struct{}{}
			if rec.EmailID != "" {
				keys[rec.EmailID] = struct{}{}
			}
		}
		if end == len(m.records) {
			break
		}
	}
	return keys, nil
}

func (m *MemoryIndex) Insert(ctx context.Context, records []models.VectorRecord) ([]models.ItemResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrNotReady
	}
	if m.InsertErr != nil {
		if err := m.InsertErr(records); err != nil {
			return nil, err
		}
	}

	results := make([]models.ItemResult, 0, len(records))
	for _, rec := range records {
		if err := m.ItemErr[rec.EmailID]; err != nil {
			results = append(results, models.ItemResult{EmailID: rec.EmailID, Err: err})
			continue
		}
		if rec.PointID == "" {
			rec.PointID = uuid.New().String()
		}
		rec.Links = append([]string{}, rec.Links...)
		m.records = append(m.records, rec)
		results = append(results, models.ItemResult{EmailID: rec.EmailID})
	}
	return results, nil
}

func (m *MemoryIndex) Count(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return 0, ErrNotReady
	}
	return uint64(len(m.records)), nil
}

func (m *MemoryIndex) Recent(ctx context.Context, limit int) ([]models.VectorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrNotReady
	}

	sorted := append([]models.VectorRecord(nil), m.records...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ReceivedDate.After(sorted[j].ReceivedDate)
	})
	if limit < len(sorted) {
		sorted = sorted[:limit]
	}
	return sorted, nil
}

func (m *MemoryIndex) NearText(ctx context.Context, query string, limit int) ([]models.VectorRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.down {
		return nil, ErrNotReady
	}

	terms := strings.Fields(strings.ToLower(query))
	type hit struct {
		rec   models.VectorRecord
		score int
	}
	var hits []hit
	for _, rec := range m.records {
		text := strings.ToLower(rec.Header + " " + rec.TextContent)
		score := 0
		for _, t := range terms {
			score += strings.Count(text, t)
		}
		if score > 0 {
			hits = append(hits, hit{rec, score})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	out := make([]models.VectorRecord, 0, min(limit, len(hits)))
	for i := 0; i < len(hits) && i < limit; i++ {
		out = append(out, hits[i].rec)
	}
	return out, nil
}
