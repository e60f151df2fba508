// Package ledger persists the failures of the most recent vector load, keyed by record id.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"newsletter-indexer/internal/store"
)

// Ledger maps a record id to the reason its last load attempt failed
type Ledger map[string]string

// Load reads the ledger file. A missing or empty file is an empty ledger.
func Load(path string) (Ledger, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return Ledger{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger %s: %w", path, err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return Ledger{}, nil
	}

	raw := map[string]string{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding ledger %s: %w", path, err)
	}

	entries := make(Ledger, len(raw))
	for id, reason := range raw {
		entries[store.NormalizeID(id)] = reason
	}
	return entries, nil
}

// Save replaces the ledger file with entries. An empty ledger is written as {}.
func Save(path string, entries Ledger) error {
	if entries == nil {
		entries = Ledger{}
	}
	return store.WriteJSON(path, entries)
}
