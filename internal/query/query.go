// Package query serves read-only lookups against the vector index.
package query

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/models"
	"newsletter-indexer/internal/vectorstore"
)

var (
	ErrUnavailable  = errors.New("vector store unavailable")
	ErrEmptyQuery   = errors.New("empty search query")
	ErrUnknownField = errors.New("unknown field")
)

const (
	// PreviewLength caps text_content in results, in characters
	PreviewLength = 500
	DefaultLimit  = 10
	MaxLimit      = 100
)

// DefaultFields are returned when a search names none
var DefaultFields = []string{vectorstore.FieldHeader, vectorstore.FieldTextContent, vectorstore.FieldReceivedDate}

// Service answers count, recent and search requests
type Service struct {
	index vectorstore.Index
}

func NewService(index vectorstore.Index) *Service {
	return &Service{index: index}
}

// Health returns ErrUnavailable when the index is not ready
func (s *Service) Health(ctx context.Context) error {
	if err := s.index.Ready(ctx); err != nil {
		logging.Log.WithError(err).Warn("Vector store not ready")
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// InitSchema creates the collection, dropping any existing one when clear is set
func (s *Service) InitSchema(ctx context.Context, clear bool) error {
	if err := s.Health(ctx); err != nil {
		return err
	}
	if err := s.index.EnsureSchema(ctx, clear); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

func (s *Service) Count(ctx context.Context) (uint64, error) {
	n, err := s.index.Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Recent returns the newest records by received date
func (s *Service) Recent(ctx context.Context, limit int) ([]models.SearchResult, error) {
	recs, err := s.index.Recent(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return toResults(recs, true), nil
}

// Search returns the records nearest to query. fields selects what is returned;
// header and received_date are always present, text_content only when asked for.
func (s *Service) Search(ctx context.Context, query string, fields []string, limit int) ([]models.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if len(fields) == 0 {
		fields = DefaultFields
	}
	for _, f := range fields {
		if !slices.Contains(vectorstore.Fields, f) {
			return nil, fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}

	recs, err := s.index.NearText(ctx, query, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	logging.Log.WithField("query", query).Debugf("Search returned %d records", len(recs))
	return toResults(recs, slices.Contains(fields, vectorstore.FieldTextContent)), nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return min(limit, MaxLimit)
}

func toResults(recs []models.VectorRecord, withText bool) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(recs))
	for _, rec := range recs {
		res := models.SearchResult{Header: rec.Header, ReceivedDate: rec.ReceivedDate}
		if withText {
			text := preview(rec.TextContent)
			res.TextContent = &text
		}
		out = append(out, res)
	}
	return out
}

func preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewLength {
		return text
	}
	return string(runes[:PreviewLength])
}
