package vectorstore

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"newsletter-indexer/internal/embedding"
	"newsletter-indexer/internal/logging"
	"newsletter-indexer/internal/models"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/proto"
)

// QdrantIndex implements Index on a Qdrant collection over gRPC
type QdrantIndex struct {
	conn           *grpc.ClientConn
	points         qdrant.PointsClient
	collections    qdrant.CollectionsClient
	service        qdrant.QdrantClient
	collectionName string
	embedder       embedding.Embedder
}

// NewQdrantIndex dials Qdrant. The connection is shared by every caller and is safe for concurrent use.
func NewQdrantIndex(cfg models.VectorConfig, embedder embedding.Embedder) (*QdrantIndex, error) {
	opts := []grpc.DialOption{}
	if cfg.UseTLS {
		opts = append(opts, grpc.WithTransportCredentials(credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})))
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	}
	if cfg.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.APIKey)))
	}

	conn, err := grpc.NewClient(cfg.Addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("could not connect to Qdrant: %w", err)
	}

	return &QdrantIndex{
		conn:           conn,
		points:         qdrant.NewPointsClient(conn),
		collections:    qdrant.NewCollectionsClient(conn),
		service:        qdrant.NewQdrantClient(conn),
		collectionName: cfg.Collection,
		embedder:       embedder,
	}, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		return invoker(metadata.AppendToOutgoingContext(ctx, "api-key", key), method, req, reply, cc, opts...)
	}
}

// Close releases the gRPC connection
func (c *QdrantIndex) Close() error {
	return c.conn.Close()
}

func (c *QdrantIndex) Ready(ctx context.Context) error {
	if _, err := c.service.HealthCheck(ctx, &qdrant.HealthCheckRequest{}); err != nil {
		return fmt.Errorf("qdrant health check: %w", err)
	}
	return nil
}

func (c *QdrantIndex) EnsureSchema(ctx context.Context, recreate bool) error {
	exists, err := c.collections.CollectionExists(ctx, &qdrant.CollectionExistsRequest{CollectionName: c.collectionName})
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", c.collectionName, err)
	}

	if exists.GetResult().GetExists() {
		if !recreate {
			logging.Log.Infof("%s schema already exists", c.collectionName)
			return nil
		}
		if _, err := c.collections.Delete(ctx, &qdrant.DeleteCollection{CollectionName: c.collectionName}); err != nil {
			return fmt.Errorf("deleting collection %s: %w", c.collectionName, err)
		}
		logging.Log.Infof("Deleted existing %s schema", c.collectionName)
	}

	logging.Log.Infof("Creating %s schema", c.collectionName)
	_, err = c.collections.Create(ctx, &qdrant.CreateCollection{
		CollectionName: c.collectionName,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(c.embedder.Dimension()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	indexes := []struct {
		field string
		kind  qdrant.FieldType
	}{
		{FieldEmailID, qdrant.FieldType_FieldTypeKeyword},
		{FieldReceivedDate, qdrant.FieldType_FieldTypeDatetime},
	}
	for _, idx := range indexes {
		_, err := c.points.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: c.collectionName,
			Wait:           proto.Bool(true),
			FieldName:      idx.field,
			FieldType:      idx.kind.Enum(),
		})
		if err != nil {
			return fmt.Errorf("creating %s index: %w", idx.field, err)
		}
	}
	return nil
}

func (c *QdrantIndex) ExistingKeys(ctx context.Context, pageSize, maxPages int) (map[string]struct{}, error) {
	keys := make(map[string]struct{})
	var offset *qdrant.PointId
	points := 0

	for page := 0; ; page++ {
		if maxPages > 0 && page == maxPages {
			logging.Log.Warnf("Stopped scanning existing records after %d pages of %d; later records are not deduplicated", maxPages, pageSize)
			break
		}

		resp, err := c.points.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: c.collectionName,
			Offset:         offset,
			Limit:          proto.Uint32(uint32(pageSize)),
			WithPayload: &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Include{
				Include: &qdrant.PayloadIncludeSelector{Fields: []string{FieldEmailID}},
			}},
		})
		if err != nil {
			return nil, fmt.Errorf("scrolling %s: %w", c.collectionName, err)
		}

		for _, p := range resp.GetResult() {
			points++
			if id := p.GetId().GetUuid(); id != "" {
				keys[id] = struct{}{}
			}
			if emailID := p.GetPayload()[FieldEmailID].GetStringValue(); emailID != "" {
				keys[emailID] = struct{}{}
			}
		}

		offset = resp.GetNextPageOffset()
		if offset == nil {
			break
		}
	}

	logging.Log.Infof("Found %d existing keys across %d records in %s", len(keys), points, c.collectionName)
	return keys, nil
}

// Insert embeds and appends records under fresh point ids. Nothing is deleted first,
// so re-inserting an email id adds a second point.
func (c *QdrantIndex) Insert(ctx context.Context, records []models.VectorRecord) ([]models.ItemResult, error) {
	if len(records) == 0 {
		return nil, nil
	}

	texts := make([]string, len(records))
	for i, rec := range records {
		texts[i] = EmbeddingText(rec)
	}

	vectors, err := c.embedder.EmbedTexts(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding batch: %w", err)
	}
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("embedding count mismatch: expected %d, got %d", len(records), len(vectors))
	}

	results := make([]models.ItemResult, 0, len(records))
	points := make([]*qdrant.PointStruct, 0, len(records))
	pending := make([]string, 0, len(records))

	for i, rec := range records {
		if len(vectors[i]) == 0 {
			results = append(results, models.ItemResult{EmailID: rec.EmailID, Err: fmt.Errorf("empty embedding")})
			continue
		}
		if rec.PointID == "" {
			rec.PointID = uuid.New().String()
		}
		points = append(points, &qdrant.PointStruct{
			Id:      &qdrant.PointId{PointIdOptions: &qdrant.PointId_Uuid{Uuid: rec.PointID}},
			Vectors: &qdrant.Vectors{VectorsOptions: &qdrant.Vectors_Vector{Vector: &qdrant.Vector{Data: vectors[i]}}},
			Payload: toPayload(rec),
		})
		pending = append(pending, rec.EmailID)
	}

	if len(points) == 0 {
		return results, nil
	}

	_, err = c.points.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: c.collectionName,
		Points:         points,
		Wait:           proto.Bool(true), // ensure writes are acknowledged
	})
	if err != nil {
		return results, fmt.Errorf("failed to upsert points to Qdrant: %w", err)
	}

	for _, id := range pending {
		results = append(results, models.ItemResult{EmailID: id})
	}
	return results, nil
}

func (c *QdrantIndex) Count(ctx context.Context) (uint64, error) {
	resp, err := c.points.Count(ctx, &qdrant.CountPoints{
		CollectionName: c.collectionName,
		Exact:          proto.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("counting %s: %w", c.collectionName, err)
	}
	return resp.GetResult().GetCount(), nil
}

func (c *QdrantIndex) Recent(ctx context.Context, limit int) ([]models.VectorRecord, error) {
	resp, err := c.points.Scroll(ctx, &qdrant.ScrollPoints{
		CollectionName: c.collectionName,
		Limit:          proto.Uint32(uint32(limit)),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
		OrderBy: &qdrant.OrderBy{
			Key:       FieldReceivedDate,
			Direction: qdrant.Direction_Desc.Enum(),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetching recent records: %w", err)
	}

	records := make([]models.VectorRecord, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		records = append(records, fromPayload(p.GetId().GetUuid(), p.GetPayload()))
	}
	return records, nil
}

func (c *QdrantIndex) NearText(ctx context.Context, query string, limit int) ([]models.VectorRecord, error) {
	vectors, err := c.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding query: expected 1 vector, got %d", len(vectors))
	}

	resp, err := c.points.Search(ctx, &qdrant.SearchPoints{
		CollectionName: c.collectionName,
		Vector:         vectors[0],
		Limit:          uint64(limit),
		WithPayload:    &qdrant.WithPayloadSelector{SelectorOptions: &qdrant.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to search points in Qdrant: %w", err)
	}

	records := make([]models.VectorRecord, 0, len(resp.GetResult()))
	for _, hit := range resp.GetResult() {
		records = append(records, fromPayload(hit.GetId().GetUuid(), hit.GetPayload()))
	}
	return records, nil
}

func toPayload(rec models.VectorRecord) map[string]*qdrant.Value {
	links := make([]*qdrant.Value, len(rec.Links))
	for i, l := range rec.Links {
		links[i] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: l}}
	}

	str := func(s string) *qdrant.Value {
		return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
	}

	return map[string]*qdrant.Value{
		FieldNewsletter:   str(rec.Newsletter),
		FieldSender:       str(rec.Sender),
		FieldHeader:       str(rec.Header),
		FieldReceivedDate: str(rec.ReceivedDate.UTC().Format(time.RFC3339)),
		FieldLinks:        {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: links}}},
		FieldTextContent:  str(rec.TextContent),
		FieldEmailID:      str(rec.EmailID),
	}
}

func fromPayload(pointID string, payload map[string]*qdrant.Value) models.VectorRecord {
	rec := models.VectorRecord{
		PointID:     pointID,
		Newsletter:  payload[FieldNewsletter].GetStringValue(),
		Sender:      payload[FieldSender].GetStringValue(),
		Header:      payload[FieldHeader].GetStringValue(),
		TextContent: payload[FieldTextContent].GetStringValue(),
		EmailID:     payload[FieldEmailID].GetStringValue(),
		Links:       []string{},
	}

	if date := payload[FieldReceivedDate].GetStringValue(); date != "" {
		if t, err := time.Parse(time.RFC3339, date); err == nil {
			rec.ReceivedDate = t
		}
	}

	for _, v := range payload[FieldLinks].GetListValue().GetValues() {
		if s := v.GetStringValue(); s != "" {
			rec.Links = append(rec.Links, s)
		}
	}
	return rec
}
