package store

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"strings"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/zerorag/zerorag/pkg/config"
	"github.com/zerorag/zerorag/pkg/domain"
	"github.com/zerorag/zerorag/pkg/log"
)

const (
	connectTimeout = 10 * time.Second
	scrollPageSize = 256
)

var waitTrue = true

// QdrantStore implements the vector store against a Qdrant collection over
// gRPC.
type QdrantStore struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
	dim         uint64
	batchSize   int
	logger      *slog.Logger
}

// NewQdrantStore connects, verifies reachability and ensures the collection
// with its payload indexes exists. An unreachable server is reported as
// Unavailable so the caller can fall back.
func NewQdrantStore(cfg *config.Config) (*QdrantStore, error) {
	target := fmt.Sprintf("%s:%d", cfg.Qdrant.Host, cfg.Qdrant.Port)

	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if cfg.Qdrant.APIKey != "" {
		opts = append(opts, grpc.WithUnaryInterceptor(apiKeyInterceptor(cfg.Qdrant.APIKey)))
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: qdrant client for %s: %v", domain.ErrUnavailable, target, err)
	}

	s := &QdrantStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  cfg.Qdrant.CollectionName,
		dim:         uint64(cfg.Qdrant.VectorDim),
		batchSize:   cfg.Store.BatchChunkSize,
		logger:      log.WithModule("store.qdrant"),
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	if err := s.ensureCollection(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return s, nil
}

func apiKeyInterceptor(key string) grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply interface{}, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		ctx = metadata.AppendToOutgoingContext(ctx, "api-key", key)
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	listResp, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("%w: listing qdrant collections: %v", domain.ErrUnavailable, err)
	}

	for _, col := range listResp.Collections {
		if col.Name == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     s.dim,
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", domain.ErrUnavailable, s.collection, err)
	}

	s.createPayloadIndexes(ctx)
	s.logger.Info("created qdrant collection", "collection", s.collection, "dim", s.dim)
	return nil
}

func (s *QdrantStore) createPayloadIndexes(ctx context.Context) {
	indexes := []struct {
		field string
		ftype pb.FieldType
	}{
		{"source_file", pb.FieldType_FieldTypeKeyword},
		{"document_id", pb.FieldType_FieldTypeKeyword},
		{"chunk_index", pb.FieldType_FieldTypeInteger},
		{"created_at", pb.FieldType_FieldTypeInteger},
	}
	for _, idx := range indexes {
		ftype := idx.ftype
		_, err := s.points.CreateFieldIndex(ctx, &pb.CreateFieldIndexCollection{
			CollectionName: s.collection,
			FieldName:      idx.field,
			FieldType:      &ftype,
			Wait:           &waitTrue,
		})
		if err != nil {
			s.logger.Warn("payload index creation failed", "field", idx.field, "error", err)
		}
	}
}

// Health verifies the server responds.
func (s *QdrantStore) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := s.collections.List(ctx, &pb.ListCollectionsRequest{}); err != nil {
		return fmt.Errorf("%w: qdrant unreachable: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *QdrantStore) Close() error {
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

func (s *QdrantStore) Upsert(ctx context.Context, chunk domain.Chunk) error {
	point, err := s.toPoint(chunk)
	if err != nil {
		return err
	}
	_, err = s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Points:         []*pb.PointStruct{point},
		Wait:           &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("%w: upsert failed: %v", domain.ErrUnavailable, err)
	}
	return nil
}

// UpsertBatch inserts in sub-batches. A failed sub-batch is recorded and the
// rest continue.
func (s *QdrantStore) UpsertBatch(ctx context.Context, chunks []domain.Chunk) (*domain.BatchResult, error) {
	start := time.Now()
	result := &domain.BatchResult{Total: len(chunks)}

	batchSize := s.batchSize
	if batchSize <= 0 {
		batchSize = 10
	}

	var points []*pb.PointStruct
	flush := func() {
		if len(points) == 0 {
			return
		}
		_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
			CollectionName: s.collection,
			Points:         points,
			Wait:           &waitTrue,
		})
		if err != nil {
			result.Failed += len(points)
			result.Errors = append(result.Errors, fmt.Sprintf("batch upsert of %d points: %v", len(points), err))
		} else {
			result.Successful += len(points)
		}
		points = points[:0]
	}

	for _, chunk := range chunks {
		point, err := s.toPoint(chunk)
		if err != nil {
			result.Failed++
			result.Errors = append(result.Errors, fmt.Sprintf("chunk %s: %v", chunk.ID, err))
			continue
		}
		points = append(points, point)
		if len(points) >= batchSize {
			flush()
		}
	}
	flush()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	result.MemoryBytes = mem.Alloc
	result.ProcessingTime = time.Since(start)

	if result.Successful == 0 && result.Failed > 0 {
		return result, fmt.Errorf("%w: all %d chunks failed", domain.ErrUnavailable, result.Failed)
	}
	return result, nil
}

func (s *QdrantStore) Get(ctx context.Context, id string) (*domain.Chunk, error) {
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            []*pb.PointId{pointID(id)},
		WithPayload:    withPayload(),
		WithVectors: &pb.WithVectorsSelector{
			SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: true},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get point: %v", domain.ErrUnavailable, err)
	}
	if len(resp.Result) == 0 {
		return nil, nil
	}

	point := resp.Result[0]
	chunk := chunkFromPayload(point.Id.GetUuid(), point.Payload)
	if v := point.Vectors.GetVector(); v != nil {
		chunk.Vector = v.Data
	}
	return &chunk, nil
}

func (s *QdrantStore) Delete(ctx context.Context, id string) error {
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: []*pb.PointId{pointID(id)}},
			},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return fmt.Errorf("%w: delete point: %v", domain.ErrUnavailable, err)
	}
	return nil
}

func (s *QdrantStore) DeleteBySource(ctx context.Context, sourceFile string) (int, error) {
	filter := &pb.Filter{Must: []*pb.Condition{keywordCondition("source_file", sourceFile)}}

	exact := true
	countResp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counting points for %s: %v", domain.ErrUnavailable, sourceFile, err)
	}
	count := int(countResp.Result.Count)

	_, err = s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Filter{Filter: filter},
		},
		Wait: &waitTrue,
	})
	if err != nil {
		return 0, fmt.Errorf("%w: delete by source: %v", domain.ErrUnavailable, err)
	}
	return count, nil
}

func (s *QdrantStore) Search(ctx context.Context, vector []float32, topK int, minScore float64, filter *domain.SearchFilter) ([]domain.SearchResult, error) {
	if len(vector) != int(s.dim) {
		return nil, fmt.Errorf("%w: query vector dimension %d, collection expects %d",
			domain.ErrInvalidInput, len(vector), s.dim)
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive", domain.ErrInvalidInput)
	}

	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(topK),
		Filter:         buildFilter(filter),
		WithPayload:    withPayload(),
	}
	if minScore > 0 {
		threshold := float32(minScore)
		req.ScoreThreshold = &threshold
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %v", domain.ErrUnavailable, err)
	}

	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, point := range resp.Result {
		chunk := chunkFromPayload(point.Id.GetUuid(), point.Payload)
		results = append(results, domain.SearchResult{
			ChunkID:    chunk.ID,
			Text:       chunk.Text,
			Score:      float64(point.Score),
			SourceFile: chunk.SourceFile,
			ChunkIndex: chunk.ChunkIndex,
			Metadata:   chunk.Metadata,
		})
	}
	return results, nil
}

func (s *QdrantStore) BatchSearch(ctx context.Context, vectors [][]float32, topK int, minScore float64, filter *domain.SearchFilter) ([][]domain.SearchResult, error) {
	results := make([][]domain.SearchResult, len(vectors))
	for i, v := range vectors {
		hits, err := s.Search(ctx, v, topK, minScore, filter)
		if err != nil {
			return nil, err
		}
		results[i] = hits
	}
	return results, nil
}

// List scrolls the collection and groups points by source file.
func (s *QdrantStore) List(ctx context.Context, limit, offset int) ([]domain.DocumentSummary, error) {
	type group struct {
		documentID string
		count      int
		earliest   int64
	}
	groups := map[string]*group{}

	pageSize := uint32(scrollPageSize)
	var pageOffset *pb.PointId
	for {
		resp, err := s.points.Scroll(ctx, &pb.ScrollPoints{
			CollectionName: s.collection,
			Limit:          &pageSize,
			Offset:         pageOffset,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: scroll failed: %v", domain.ErrUnavailable, err)
		}

		for _, point := range resp.Result {
			source := point.Payload["source_file"].GetStringValue()
			g, ok := groups[source]
			if !ok {
				g = &group{documentID: point.Payload["document_id"].GetStringValue()}
				groups[source] = g
			}
			g.count++
			if created := point.Payload["created_at"].GetIntegerValue(); g.earliest == 0 || created < g.earliest {
				g.earliest = created
			}
		}

		if resp.NextPageOffset == nil || len(resp.Result) == 0 {
			break
		}
		pageOffset = resp.NextPageOffset
	}

	summaries := make([]domain.DocumentSummary, 0, len(groups))
	for source, g := range groups {
		summaries = append(summaries, domain.DocumentSummary{
			DocumentID: g.documentID,
			SourceFile: source,
			ChunkCount: g.count,
			CreatedAt:  time.Unix(g.earliest, 0).UTC(),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].SourceFile < summaries[j].SourceFile
	})

	return paginate(summaries, limit, offset), nil
}

func (s *QdrantStore) Stats(ctx context.Context) (*domain.StoreStats, error) {
	exact := true
	countResp, err := s.points.Count(ctx, &pb.CountPoints{
		CollectionName: s.collection,
		Exact:          &exact,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: count failed: %v", domain.ErrUnavailable, err)
	}

	summaries, err := s.List(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	sources := make([]string, 0, len(summaries))
	for _, sum := range summaries {
		sources = append(sources, sum.SourceFile)
	}

	total := int64(countResp.Result.Count)
	return &domain.StoreStats{
		TotalPoints:     total,
		TotalVectors:    total,
		ApproxSizeBytes: total * int64(s.dim) * 4,
		SourceFiles:     sources,
		LastUpdated:     time.Now().UTC(),
	}, nil
}

// Clear drops and recreates the collection.
func (s *QdrantStore) Clear(ctx context.Context) error {
	if _, err := s.collections.Delete(ctx, &pb.DeleteCollection{CollectionName: s.collection}); err != nil {
		s.logger.Warn("collection delete during clear", "error", err)
	}
	return s.ensureCollection(ctx)
}

func (s *QdrantStore) toPoint(chunk domain.Chunk) (*pb.PointStruct, error) {
	if chunk.ID == "" {
		return nil, fmt.Errorf("%w: chunk has no id", domain.ErrInvalidInput)
	}
	if len(chunk.Vector) != int(s.dim) {
		return nil, fmt.Errorf("%w: vector dimension %d, collection expects %d",
			domain.ErrInvalidInput, len(chunk.Vector), s.dim)
	}

	createdAt := chunk.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	updatedAt := chunk.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	payload := map[string]*pb.Value{
		"text":        stringValue(chunk.Text),
		"source_file": stringValue(chunk.SourceFile),
		"document_id": stringValue(chunk.DocumentID),
		"chunk_index": integerValue(int64(chunk.ChunkIndex)),
		"start_char":  integerValue(int64(chunk.StartChar)),
		"end_char":    integerValue(int64(chunk.EndChar)),
		"created_at":  integerValue(createdAt.Unix()),
		"updated_at":  integerValue(updatedAt.Unix()),
	}
	for k, v := range chunk.Metadata {
		payload["meta_"+k] = payloadValue(v)
	}

	return &pb.PointStruct{
		Id: pointID(chunk.ID),
		Vectors: &pb.Vectors{
			VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: chunk.Vector}},
		},
		Payload: payload,
	}, nil
}

func chunkFromPayload(id string, payload map[string]*pb.Value) domain.Chunk {
	chunk := domain.Chunk{ID: id, Metadata: map[string]interface{}{}}
	if payload == nil {
		return chunk
	}

	chunk.Text = payload["text"].GetStringValue()
	chunk.SourceFile = payload["source_file"].GetStringValue()
	chunk.DocumentID = payload["document_id"].GetStringValue()
	chunk.ChunkIndex = int(payload["chunk_index"].GetIntegerValue())
	chunk.StartChar = int(payload["start_char"].GetIntegerValue())
	chunk.EndChar = int(payload["end_char"].GetIntegerValue())
	if created := payload["created_at"].GetIntegerValue(); created > 0 {
		chunk.CreatedAt = time.Unix(created, 0).UTC()
	}
	if updated := payload["updated_at"].GetIntegerValue(); updated > 0 {
		chunk.UpdatedAt = time.Unix(updated, 0).UTC()
	}

	for k, v := range payload {
		if !strings.HasPrefix(k, "meta_") {
			continue
		}
		chunk.Metadata[strings.TrimPrefix(k, "meta_")] = goValue(v)
	}
	return chunk
}

func buildFilter(f *domain.SearchFilter) *pb.Filter {
	if f.IsZero() {
		return nil
	}

	var must []*pb.Condition

	if f.SourceFile != "" {
		must = append(must, keywordCondition("source_file", f.SourceFile))
	}
	if len(f.SourceFiles) > 0 {
		must = append(must, keywordsCondition("source_file", f.SourceFiles))
	}
	if len(f.DocumentIDs) > 0 {
		must = append(must, keywordsCondition("document_id", f.DocumentIDs))
	}
	if f.ChunkIndex != nil {
		must = append(must, integerCondition("chunk_index", int64(*f.ChunkIndex)))
	}
	if f.ChunkIndexMin != nil || f.ChunkIndexMax != nil {
		rng := &pb.Range{}
		if f.ChunkIndexMin != nil {
			gte := float64(*f.ChunkIndexMin)
			rng.Gte = &gte
		}
		if f.ChunkIndexMax != nil {
			lte := float64(*f.ChunkIndexMax)
			rng.Lte = &lte
		}
		must = append(must, rangeCondition("chunk_index", rng))
	}
	if f.CreatedAfter != nil || f.CreatedBefore != nil {
		rng := &pb.Range{}
		if f.CreatedAfter != nil {
			gte := float64(f.CreatedAfter.Unix())
			rng.Gte = &gte
		}
		if f.CreatedBefore != nil {
			lte := float64(f.CreatedBefore.Unix())
			rng.Lte = &lte
		}
		must = append(must, rangeCondition("created_at", rng))
	}
	for k, v := range f.Metadata {
		switch val := v.(type) {
		case string:
			must = append(must, keywordCondition("meta_"+k, val))
		case int:
			must = append(must, integerCondition("meta_"+k, int64(val)))
		case int64:
			must = append(must, integerCondition("meta_"+k, val))
		case bool:
			must = append(must, boolCondition("meta_"+k, val))
		default:
			must = append(must, keywordCondition("meta_"+k, fmt.Sprint(val)))
		}
	}

	if len(must) == 0 {
		return nil
	}
	return &pb.Filter{Must: must}
}

func pointID(id string) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: id}}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{
		SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true},
	}
}

func stringValue(v string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: v}}
}

func integerValue(v int64) *pb.Value {
	return &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: v}}
}

func payloadValue(v interface{}) *pb.Value {
	switch val := v.(type) {
	case string:
		return stringValue(val)
	case int:
		return integerValue(int64(val))
	case int64:
		return integerValue(val)
	case float64:
		return &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: val}}
	case bool:
		return &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: val}}
	default:
		return stringValue(fmt.Sprint(val))
	}
}

func goValue(v *pb.Value) interface{} {
	switch kind := v.Kind.(type) {
	case *pb.Value_StringValue:
		return kind.StringValue
	case *pb.Value_IntegerValue:
		return kind.IntegerValue
	case *pb.Value_DoubleValue:
		return kind.DoubleValue
	case *pb.Value_BoolValue:
		return kind.BoolValue
	default:
		return nil
	}
}

func keywordCondition(key, value string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: value}},
			},
		},
	}
}

func keywordsCondition(key string, values []string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key: key,
				Match: &pb.Match{MatchValue: &pb.Match_Keywords{
					Keywords: &pb.RepeatedStrings{Strings: values},
				}},
			},
		},
	}
}

func integerCondition(key string, value int64) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Integer{Integer: value}},
			},
		},
	}
}

func boolCondition(key string, value bool) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   key,
				Match: &pb.Match{MatchValue: &pb.Match_Boolean{Boolean: value}},
			},
		},
	}
}

func rangeCondition(key string, rng *pb.Range) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{Key: key, Range: rng},
		},
	}
}

func paginate(summaries []domain.DocumentSummary, limit, offset int) []domain.DocumentSummary {
	if offset > 0 {
		if offset >= len(summaries) {
			return []domain.DocumentSummary{}
		}
		summaries = summaries[offset:]
	}
	if limit > 0 && limit < len(summaries) {
		summaries = summaries[:limit]
	}
	return summaries
}
