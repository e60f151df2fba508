// Package store persists newsletter records as a JSON array keyed by message id.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/models"
)

// Records maps a normalized message id to its record
type Records map[string]*models.NewsletterRecord

// NormalizeID strips surrounding whitespace and angle brackets from a message id
func NormalizeID(id string) string {
	return strings.TrimSpace(strings.Trim(strings.TrimSpace(id), "<>"))
}

// Load reads the record file at path. A missing file yields an empty set.
func Load(path string) (Records, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Records{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record file %s: %w", path, err)
	}

	var list []*models.NewsletterRecord
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, &list); err != nil {
			return nil, fmt.Errorf("decoding record file %s: %w", path, err)
		}
	}

	records := make(Records, len(list))
	merged := Merge(records, list)
	logging.Log.Infof("Loaded %d existing records from %s", len(merged), path)
	return merged, nil
}

// Merge folds incoming into existing and returns existing. Known ids are updated
// field by field: non-empty incoming values overwrite, empty ones keep the stored
// value. Unknown ids are inserted. No id is ever removed.
func Merge(existing Records, incoming []*models.NewsletterRecord) Records {
	if existing == nil {
		existing = Records{}
	}

	for _, in := range incoming {
		if in == nil {
			continue
		}
		id := NormalizeID(in.ID)

		current, ok := existing[id]
		if !ok {
			rec := *in
			rec.ID = id
			if rec.Sections == nil {
				rec.Sections = []string{}
			}
			existing[id] = &rec
			continue
		}

		if in.Subject != "" {
			current.Subject = in.Subject
		}
		if in.From != "" {
			current.From = in.From
		}
		if !in.Date.IsZero() {
			current.Date = in.Date
		}
		if in.Body != "" {
			current.Body = in.Body
		}
		if in.Sections != nil {
			current.Sections = append([]string(nil), in.Sections...)
		}
	}

	return existing
}

// IDs returns the set of ids held in records
func IDs(records Records) map[string]struct{} {
	ids := make(map[string]struct{}, len(records))
	for id := range records {
		ids[id] = struct{}{}
	}
	return ids
}

// Sorted returns the records ordered by date, newest first, ties broken by id
func Sorted(records Records) []*models.NewsletterRecord {
	list := make([]*models.NewsletterRecord, 0, len(records))
	for _, rec := range records {
		list = append(list, rec)
	}
	sort.Slice(list, func(i, j int) bool {
		if !list[i].Date.Equal(list[j].Date) {
			return list[i].Date.After(list[j].Date)
		}
		return list[i].ID < list[j].ID
	})
	return list
}

// Save overwrites the record file at path with the full record set
func Save(path string, records Records) error {
	data, err := json.MarshalIndent(Sorted(records), "", "  ")
	if err != nil {
		return fmt.Errorf("encoding records: %w", err)
	}

	if err := writeFile(path, data); err != nil {
		return err
	}

	logging.Log.Infof("Saved %d records to %s", len(records), path)
	return nil
}

// writeFile replaces path atomically through a temp file in the same directory
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	defer func() {
		_ = os.Remove(tmp.Name())
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", tmp.Name(), err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

// WriteJSON marshals v with indentation and atomically replaces path with it
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return writeFile(path, data)
}
