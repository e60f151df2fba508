// Package vectorstore stores newsletter sections in a vector index and serves
// near-text queries over them.
package vectorstore

import (
	"context"

	"newsletter-indexer/internal/models"
)

// Payload keys of the Newsletter collection
const (
	FieldNewsletter   = "newsletter"
	FieldSender       = "sender"
	FieldHeader       = "header"
	FieldReceivedDate = "received_date"
	FieldLinks        = "links"
	FieldTextContent  = "text_content"
	FieldEmailID      = "email_id"
)

// Fields lists every payload key in schema order
var Fields = []string{FieldNewsletter, FieldSender, FieldHeader, FieldReceivedDate, FieldLinks, FieldTextContent, FieldEmailID}

// Index is the remote vector index. Implementations must be safe for concurrent use.
type Index interface {
	// Ready reports whether the store accepts requests
	Ready(ctx context.Context) error
	// EnsureSchema creates the collection if it does not exist, dropping it first when recreate is set
	EnsureSchema(ctx context.Context, recreate bool) error
	// ExistingKeys returns every email id and every internal point id in the collection,
	// reading pageSize points per request and at most maxPages pages
	ExistingKeys(ctx context.Context, pageSize, maxPages int) (map[string]struct{}, error)
	// Insert appends records. The returned results cover the records the store settled;
	// a non-nil error means the batch as a whole failed to go through.
	Insert(ctx context.Context, records []models.VectorRecord) ([]models.ItemResult, error)
	// Count returns the number of vector records
	Count(ctx context.Context) (uint64, error)
	// Recent returns up to limit records, newest received date first
	Recent(ctx context.Context, limit int) ([]models.VectorRecord, error)
	// NearText returns up to limit records most similar to query
	NearText(ctx context.Context, query string, limit int) ([]models.VectorRecord, error)
}

// EmbeddingText is the text a record is embedded from; sender, links and email id are not part of it
func EmbeddingText(rec models.VectorRecord) string {
	return rec.Newsletter + "\n" + rec.Header + "\n\n" + rec.TextContent
}
