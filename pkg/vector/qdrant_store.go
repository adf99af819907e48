package vector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	qdrantclient "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"memochat/pkg/domain"
)

// Embedder turns text into a vector. The task type distinguishes queries
// from documents for providers that embed them differently.
type Embedder interface {
	EmbedText(ctx context.Context, text, taskType string) ([]float32, error)
}

const (
	taskQuery    = "RETRIEVAL_QUERY"
	taskDocument = "RETRIEVAL_DOCUMENT"
)

// qdrantIDNamespace derives stable point UUIDs from arbitrary document IDs.
var qdrantIDNamespace = uuid.MustParse("9f2c1c1e-4b1a-4f6e-9f57-2b9f6a1d8c3a")

// QdrantStore implements Store against a Qdrant collection over gRPC.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      qdrantclient.PointsClient
	collections qdrantclient.CollectionsClient
	collection  string
	embedder    Embedder
	dimensions  int
}

// NewQdrantStore connects to Qdrant and ensures the collection exists with
// a cosine-distance vector config of the embedder's dimensionality.
func NewQdrantStore(addr, collection string, dimensions int, embedder Embedder) (*QdrantStore, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("qdrant addr required")
	}
	if strings.TrimSpace(collection) == "" {
		return nil, fmt.Errorf("qdrant collection required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("embedding dimensions required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connect qdrant: %w", err)
	}
	s := &QdrantStore{
		conn:        conn,
		points:      qdrantclient.NewPointsClient(conn),
		collections: qdrantclient.NewCollectionsClient(conn),
		collection:  collection,
		embedder:    embedder,
		dimensions:  dimensions,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	list, err := s.collections.List(ctx, &qdrantclient.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("list collections: %w", err)
	}
	for _, col := range list.GetCollections() {
		if col.GetName() == s.collection {
			return nil
		}
	}
	_, err = s.collections.Create(ctx, &qdrantclient.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &qdrantclient.VectorsConfig{
			Config: &qdrantclient.VectorsConfig_Params{
				Params: &qdrantclient.VectorParams{
					Size:     uint64(s.dimensions),
					Distance: qdrantclient.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}
	return nil
}

// Search embeds the query and returns the closest documents.
func (s *QdrantStore) Search(ctx context.Context, query string, topK int, filter Filter) ([]SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}
	embedding, err := s.embedder.EmbedText(ctx, query, taskQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	resp, err := s.points.Search(ctx, &qdrantclient.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		Filter:         buildFilter(filter),
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}
	results := make([]SearchResult, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		results = append(results, SearchResult{
			Document: documentFromPayload(point.GetPayload()),
			Score:    point.GetScore(),
		})
	}
	return results, nil
}

// Upsert writes one document.
func (s *QdrantStore) Upsert(ctx context.Context, doc Document) error {
	return s.AddDocuments(ctx, []Document{doc})
}

// AddDocuments embeds and writes a batch of documents.
func (s *QdrantStore) AddDocuments(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	points := make([]*qdrantclient.PointStruct, 0, len(docs))
	for _, doc := range docs {
		if strings.TrimSpace(doc.Text) == "" {
			continue
		}
		embedding, err := s.embedder.EmbedText(ctx, doc.Text, taskDocument)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", doc.ID, err)
		}
		points = append(points, &qdrantclient.PointStruct{
			Id: pointID(doc.ID),
			Vectors: &qdrantclient.Vectors{
				VectorsOptions: &qdrantclient.Vectors_Vector{
					Vector: &qdrantclient.Vector{Data: embedding},
				},
			},
			Payload: payloadFromDocument(doc),
		})
	}
	if len(points) == 0 {
		return nil
	}
	_, err := s.points.Upsert(ctx, &qdrantclient.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant upsert: %w", err)
	}
	return nil
}

// Fetch retrieves documents by their exact IDs.
func (s *QdrantStore) Fetch(ctx context.Context, ids []string) ([]Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*qdrantclient.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}
	resp, err := s.points.Get(ctx, &qdrantclient.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant get: %w", err)
	}
	docs := make([]Document, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		docs = append(docs, documentFromPayload(point.GetPayload()))
	}
	return docs, nil
}

// ListByMessage scrolls every document back-referencing messageID.
func (s *QdrantStore) ListByMessage(ctx context.Context, messageID string) ([]Document, error) {
	limit := uint32(256)
	resp, err := s.points.Scroll(ctx, &qdrantclient.ScrollPoints{
		CollectionName: s.collection,
		Filter: &qdrantclient.Filter{
			Must: []*qdrantclient.Condition{keywordCondition("messageId", messageID)},
		},
		Limit: &limit,
		WithPayload: &qdrantclient.WithPayloadSelector{
			SelectorOptions: &qdrantclient.WithPayloadSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}
	docs := make([]Document, 0, len(resp.GetResult()))
	for _, point := range resp.GetResult() {
		docs = append(docs, documentFromPayload(point.GetPayload()))
	}
	return docs, nil
}

// Delete removes documents by ID.
func (s *QdrantStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrantclient.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, pointID(id))
	}
	_, err := s.points.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Points{
				Points: &qdrantclient.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete: %w", err)
	}
	return nil
}

// DeleteByConversation removes every document of a conversation.
func (s *QdrantStore) DeleteByConversation(ctx context.Context, conversationID string) error {
	_, err := s.points.Delete(ctx, &qdrantclient.DeletePoints{
		CollectionName: s.collection,
		Points: &qdrantclient.PointsSelector{
			PointsSelectorOneOf: &qdrantclient.PointsSelector_Filter{
				Filter: &qdrantclient.Filter{
					Must: []*qdrantclient.Condition{keywordCondition("conversationId", conversationID)},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant delete by conversation: %w", err)
	}
	return nil
}

// Close tears down the gRPC connection.
func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

// pointID maps a document ID onto a valid Qdrant point ID. UUIDs pass
// through; anything else maps to a deterministic UUID so writes stay
// idempotent. The original ID lives in the payload either way.
func pointID(id string) *qdrantclient.PointId {
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewSHA1(qdrantIDNamespace, []byte(id)).String()
	}
	return &qdrantclient.PointId{
		PointIdOptions: &qdrantclient.PointId_Uuid{Uuid: id},
	}
}

func keywordCondition(key, value string) *qdrantclient.Condition {
	return &qdrantclient.Condition{
		ConditionOneOf: &qdrantclient.Condition_Field{
			Field: &qdrantclient.FieldCondition{
				Key: key,
				Match: &qdrantclient.Match{
					MatchValue: &qdrantclient.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

func buildFilter(filter Filter) *qdrantclient.Filter {
	var must []*qdrantclient.Condition
	if filter.UserID != "" {
		must = append(must, keywordCondition("userId", filter.UserID))
	}
	if filter.ConversationID != "" {
		must = append(must, keywordCondition("conversationId", filter.ConversationID))
	}
	if filter.Role != "" {
		must = append(must, keywordCondition("role", string(filter.Role)))
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrantclient.Filter{Must: must}
}

func payloadFromDocument(doc Document) map[string]*qdrantclient.Value {
	return map[string]*qdrantclient.Value{
		"docId":          stringValue(doc.ID),
		"text":           stringValue(doc.Text),
		"role":           stringValue(string(doc.Role)),
		"userId":         stringValue(doc.UserID),
		"conversationId": stringValue(doc.ConversationID),
		"messageId":      stringValue(doc.MessageID),
		"chunkIndex":     {Kind: &qdrantclient.Value_IntegerValue{IntegerValue: int64(doc.ChunkIndex)}},
		"hasImages":      {Kind: &qdrantclient.Value_BoolValue{BoolValue: doc.HasImages}},
		"timestamp":      stringValue(doc.Timestamp.UTC().Format(time.RFC3339Nano)),
	}
}

func stringValue(s string) *qdrantclient.Value {
	return &qdrantclient.Value{Kind: &qdrantclient.Value_StringValue{StringValue: s}}
}

func documentFromPayload(payload map[string]*qdrantclient.Value) Document {
	doc := Document{
		ID:             payload["docId"].GetStringValue(),
		Text:           payload["text"].GetStringValue(),
		Role:           domain.Role(payload["role"].GetStringValue()),
		UserID:         payload["userId"].GetStringValue(),
		ConversationID: payload["conversationId"].GetStringValue(),
		MessageID:      payload["messageId"].GetStringValue(),
		HasImages:      payload["hasImages"].GetBoolValue(),
	}
	if v, ok := payload["chunkIndex"]; ok {
		doc.ChunkIndex = int(v.GetIntegerValue())
	}
	if ts := payload["timestamp"].GetStringValue(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			doc.Timestamp = parsed
		}
	}
	return doc
}
