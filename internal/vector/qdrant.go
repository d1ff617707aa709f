package vector

import (
	"context"
	"fmt"
	"sort"
	"strings"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Payload field names. The schema mirrors the index mapping the indexing
// pipeline bootstraps: content is text-indexed, document_key and category are
// keyword-indexed.
const (
	fieldContent     = "content"
	fieldDocumentKey = "document_key"
	fieldPageNumber  = "page_number"
	fieldCategory    = "category"
	fieldSourceTitle = "source_title"
)

// QdrantStore implements Store using Qdrant over gRPC.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dimensions  int
	embedder    Embedder
}

// QdrantConfig configures a Qdrant-backed store.
type QdrantConfig struct {
	Host       string
	Port       int
	Collection string
	Dimensions int
}

// NewQdrant creates a Qdrant-backed store.
func NewQdrant(ctx context.Context, cfg QdrantConfig, embedder Embedder) (*QdrantStore, error) {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	return &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Collection,
		dimensions:  cfg.Dimensions,
		embedder:    embedder,
	}, nil
}

// EnsureCollection creates the collection and its payload indexes when absent.
// It also doubles as a connectivity check: a reload must not swap in a handle
// that cannot reach the engine.
func (s *QdrantStore) EnsureCollection(ctx context.Context) error {
	exists, err := s.collections.CollectionExists(ctx, &pb.CollectionExistsRequest{
		CollectionName: s.collection,
	})
	if err != nil {
		return fmt.Errorf("qdrant collection exists: %w", err)
	}
	if exists.GetResult().GetExists() {
		return nil
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(s.dimensions),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("qdrant create collection: %w", err)
	}

	indexes := []struct {
		field string
		kind  pb.FieldType
	}{
		{fieldContent, pb.FieldType_FieldTypeText},
		{fieldDocumentKey, pb.FieldType_FieldTypeKeyword},
		{fieldCategory, pb.FieldType_FieldTypeKeyword},
		{fieldPageNumber, pb.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		_, err = s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      idx.field,
			FieldType:      idx.kind.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant create %s index: %w", idx.field, err)
		}
	}
	return nil
}

func (s *QdrantStore) Add(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}
	if len(vectors) != len(chunks) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(vectors), len(chunks))
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: c.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: vectors[i]}}},
			Payload: chunkPayload(c),
		}
	}

	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         points,
	})
	return err
}

func (s *QdrantStore) DeleteByKey(ctx context.Context, documentKey string) (uint64, error) {
	filter := &pb.Filter{Must: []*pb.Condition{keywordCondition(fieldDocumentKey, documentKey)}}

	exact := true
	count, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant count: %w", err)
	}
	n := count.GetResult().GetCount()
	if n == 0 {
		return 0, nil
	}

	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant delete: %w", err)
	}
	return n, nil
}

func (s *QdrantStore) SimilaritySearch(ctx context.Context, query string, k int, filter Filter) ([]SearchResult, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want 1", len(vectors))
	}

	resp, err := s.points.Search(ctx, &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vectors[0],
		Limit:          uint64(k),
		Filter:         buildFilter(filter),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant search: %w", err)
	}

	results := make([]SearchResult, len(resp.Result))
	for i, pt := range resp.Result {
		results[i] = SearchResult{
			Chunk: payloadChunk(pt.Id.GetUuid(), pt.Payload),
			Score: float64(pt.Score),
		}
	}
	return results, nil
}

// KeywordSearch matches against the full-text index and ranks matches by a
// client-side term-frequency score. Qdrant's text match selects but does not
// score, so ranking happens here.
func (s *QdrantStore) KeywordSearch(ctx context.Context, query string, k int, filter Filter) ([]SearchResult, error) {
	terms := queryTerms(query)
	if len(terms) == 0 {
		return nil, nil
	}

	conditions := []*pb.Condition{textCondition(fieldContent, query)}
	if f := buildFilter(filter); f != nil {
		conditions = append(conditions, f.Must...)
	}

	// Over-fetch so client-side ranking has candidates beyond the first k
	// in scroll order.
	limit := uint32(k * 4)
	if limit < 32 {
		limit = 32
	}
	resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
		CollectionName: s.collection,
		Filter:         &pb.Filter{Must: conditions},
		Limit:          &limit,
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}},
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant scroll: %w", err)
	}

	results := make([]SearchResult, 0, len(resp.Result))
	for _, pt := range resp.Result {
		chunk := payloadChunk(pt.Id.GetUuid(), pt.Payload)
		results = append(results, SearchResult{
			Chunk: chunk,
			Score: lexicalScore(chunk.Text, terms),
		})
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func (s *QdrantStore) Close() error {
	return s.conn.Close()
}

var _ Store = (*QdrantStore)(nil)

// buildFilter converts a search Filter into qdrant conditions. Pure; a nil
// return means unfiltered.
func buildFilter(filter Filter) *pb.Filter {
	if filter.Category == "" {
		return nil
	}
	return &pb.Filter{Must: []*pb.Condition{keywordCondition(fieldCategory, filter.Category)}}
}

func keywordCondition(field, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   field,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func textCondition(field, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   field,
				Match: &pb.Match{MatchValue: &pb.Match_Text{Text: value}},
			},
		},
	}
}

func chunkPayload(c Chunk) map[string]*pb.Value {
	payload := map[string]*pb.Value{
		fieldContent:     {Kind: &pb.Value_StringValue{StringValue: c.Text}},
		fieldDocumentKey: {Kind: &pb.Value_StringValue{StringValue: c.Metadata.DocumentKey}},
		fieldPageNumber:  {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.Metadata.PageNumber)}},
	}
	if c.Metadata.Category != "" {
		payload[fieldCategory] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: c.Metadata.Category}}
	}
	if c.Metadata.SourceTitle != "" {
		payload[fieldSourceTitle] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: c.Metadata.SourceTitle}}
	}
	return payload
}

func payloadChunk(id string, payload map[string]*pb.Value) Chunk {
	return Chunk{
		ID:   id,
		Text: payload[fieldContent].GetStringValue(),
		Metadata: Metadata{
			DocumentKey: payload[fieldDocumentKey].GetStringValue(),
			PageNumber:  int(payload[fieldPageNumber].GetIntegerValue()),
			Category:    payload[fieldCategory].GetStringValue(),
			SourceTitle: payload[fieldSourceTitle].GetStringValue(),
		},
	}
}

func queryTerms(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'()[]{}`)
		if f != "" {
			terms = append(terms, f)
		}
	}
	return terms
}

// lexicalScore counts query term occurrences in the chunk text.
func lexicalScore(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	score := 0.0
	for _, term := range terms {
		score += float64(strings.Count(lower, term))
	}
	return score
}
