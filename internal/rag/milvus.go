package rag

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
)

// Common errors for vector store operations
var (
	ErrInvalidDimension = errors.New("invalid vector dimension")
	ErrEmptyRecords     = errors.New("no records provided for insertion")
	ErrConnectionFailed = errors.New("failed to connect to vector store")
	ErrInsertFailed     = errors.New("failed to insert records")
	ErrSearchFailed     = errors.New("failed to search vectors")
	ErrMissingMetadata  = errors.New("required metadata fields missing")
)

// Milvus VARCHAR limits for each column.
const (
	milvusIDLength       = 256
	milvusDocumentLength = 65535
	milvusKeyLength      = 128
	milvusMetaLength     = 8192

	// milvusMaxTopK is the server-side cap on search limits.
	milvusMaxTopK = 16384

	// postFilterFactor widens the candidate set when filters cannot be
	// pushed into the search expression.
	postFilterFactor = 8
)

// MilvusConfig holds configuration for Milvus connection and collection
type MilvusConfig struct {
	Address        string // Milvus server address (e.g., "localhost:19530")
	CollectionName string // Name of the collection
	Dimension      int    // Vector dimension (e.g., 384 for all-minilm)

	// HNSW index parameters
	M              int // HNSW M parameter (default: 16)
	EfConstruction int // HNSW efConstruction (default: 256)
	Ef             int // HNSW search ef (default: 64)
}

// DefaultMilvusConfig returns defaults for a local Milvus with a 384-dim
// embedding model.
func DefaultMilvusConfig() MilvusConfig {
	return MilvusConfig{
		Address:        "localhost:19530",
		CollectionName: "cultural_stories",
		Dimension:      384,
		M:              16,
		EfConstruction: 256,
		Ef:             64,
	}
}

// MilvusStore implements VectorStore interface using Milvus
type MilvusStore struct {
	client client.Client
	config MilvusConfig
}

// NewMilvusStore creates a new Milvus vector store instance
// Connects to Milvus and ensures the collection exists with proper schema
func NewMilvusStore(ctx context.Context, config MilvusConfig) (*MilvusStore, error) {
	// Validate configuration
	if config.Dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if config.Ef <= 0 {
		config.Ef = 64
	}

	// Connect to Milvus
	c, err := client.NewGrpcClient(ctx, config.Address)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := &MilvusStore{
		client: c,
		config: config,
	}

	// Create collection if it doesn't exist
	if err := store.ensureCollection(ctx); err != nil {
		c.Close()
		return nil, err
	}

	return store, nil
}

func varcharField(name string, maxLength int) *entity.Field {
	return &entity.Field{
		Name:     name,
		DataType: entity.FieldTypeVarChar,
		TypeParams: map[string]string{
			"max_length": fmt.Sprintf("%d", maxLength),
		},
	}
}

// ensureCollection creates the collection with schema if it doesn't exist
func (m *MilvusStore) ensureCollection(ctx context.Context) error {
	has, err := m.client.HasCollection(ctx, m.config.CollectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection existence: %w", err)
	}

	if !has {
		id := varcharField("id", milvusIDLength)
		id.PrimaryKey = true

		schema := &entity.Schema{
			CollectionName: m.config.CollectionName,
			Description:    "kalki interaction and story records",
			Fields: []*entity.Field{
				id,
				varcharField("document", milvusDocumentLength),
				{
					Name:     "embedding",
					DataType: entity.FieldTypeFloatVector,
					TypeParams: map[string]string{
						"dim": fmt.Sprintf("%d", m.config.Dimension),
					},
				},
				varcharField(KeyMode, milvusKeyLength),
				varcharField(KeySessionID, milvusKeyLength),
				varcharField(KeyUserID, milvusKeyLength),
				varcharField("metadata", milvusMetaLength), // JSON-encoded remaining keys
				{
					Name:     "created_at",
					DataType: entity.FieldTypeInt64, // Unix nanoseconds
				},
			},
		}

		if err := m.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
			return fmt.Errorf("failed to create collection: %w", err)
		}

		// Create HNSW index on embedding field
		idx, err := entity.NewIndexHNSW(entity.COSINE, m.config.M, m.config.EfConstruction)
		if err != nil {
			return fmt.Errorf("failed to create index config: %w", err)
		}

		if err := m.client.CreateIndex(ctx, m.config.CollectionName, "embedding", idx, false); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	// Load collection into memory
	if err := m.client.LoadCollection(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	return nil
}

// Add upserts records into Milvus. The mode, session_id and user_id
// metadata keys go to their own columns; the rest is stored as JSON.
func (m *MilvusStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}

	ids := make([]string, len(records))
	documents := make([]string, len(records))
	embeddings := make([][]float32, len(records))
	modes := make([]string, len(records))
	sessions := make([]string, len(records))
	users := make([]string, len(records))
	metas := make([]string, len(records))
	created := make([]int64, len(records))

	now := time.Now().UnixNano()
	for i, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: id", ErrMissingMetadata)
		}
		if len(r.Embedding) != m.config.Dimension {
			return fmt.Errorf("%w: record %s: expected %d, got %d", ErrInvalidDimension, r.ID, m.config.Dimension, len(r.Embedding))
		}

		extra, err := encodeExtraMetadata(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: record %s: %v", ErrInsertFailed, r.ID, err)
		}
		if len(extra) > milvusMetaLength {
			return fmt.Errorf("%w: record %s: metadata exceeds %d bytes", ErrInsertFailed, r.ID, milvusMetaLength)
		}

		ids[i] = r.ID
		documents[i] = truncateBytes(r.Document, milvusDocumentLength)
		embeddings[i] = r.Embedding
		modes[i] = metaString(r.Metadata[KeyMode])
		sessions[i] = metaString(r.Metadata[KeySessionID])
		users[i] = metaString(r.Metadata[KeyUserID])
		metas[i] = extra
		created[i] = now
	}

	columns := []entity.Column{
		entity.NewColumnVarChar("id", ids),
		entity.NewColumnVarChar("document", documents),
		entity.NewColumnFloatVector("embedding", m.config.Dimension, embeddings),
		entity.NewColumnVarChar(KeyMode, modes),
		entity.NewColumnVarChar(KeySessionID, sessions),
		entity.NewColumnVarChar(KeyUserID, users),
		entity.NewColumnVarChar("metadata", metas),
		entity.NewColumnInt64("created_at", created),
	}

	if _, err := m.client.Upsert(ctx, m.config.CollectionName, "", columns...); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}

	// Flush to ensure data is persisted
	if err := m.client.Flush(ctx, m.config.CollectionName, false); err != nil {
		return fmt.Errorf("failed to flush data: %w", err)
	}

	return nil
}

// Query performs top-K similarity search. Filters on the dedicated columns
// become a boolean expression; other keys are applied to the results.
func (m *MilvusStore) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if len(vector) != m.config.Dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, m.config.Dimension, len(vector))
	}
	if opts.TopK <= 0 {
		return []Match{}, nil
	}

	expr, post := splitWhere(opts.Where)
	limit := opts.TopK
	if len(post) > 0 {
		limit = min(opts.TopK*postFilterFactor, milvusMaxTopK)
	}

	// Configure search parameters
	sp, err := entity.NewIndexHNSWSearchParam(max(m.config.Ef, limit))
	if err != nil {
		return nil, fmt.Errorf("failed to create search params: %w", err)
	}

	outputFields := []string{"id", "document", KeyMode, KeySessionID, KeyUserID, "metadata"}

	results, err := m.client.Search(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		expr,
		outputFields,
		[]entity.Vector{entity.FloatVector(vector)},
		"embedding",
		entity.COSINE,
		limit,
		sp,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	if len(results) == 0 {
		return []Match{}, nil
	}

	matches := make([]Match, 0, results[0].ResultCount)
	for i := 0; i < results[0].ResultCount; i++ {
		match, err := matchFromColumns(results[0].Fields, i)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
		}
		match.Score = results[0].Scores[i]

		if !matchesWhere(match.Metadata, post) {
			continue
		}
		matches = append(matches, match)
		if len(matches) >= opts.TopK {
			break
		}
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	return matches, nil
}

func matchFromColumns(fields []entity.Column, i int) (Match, error) {
	match := Match{Metadata: make(map[string]any)}
	for _, field := range fields {
		col, ok := field.(*entity.ColumnVarChar)
		if !ok {
			continue
		}
		v := col.Data()[i]
		switch field.Name() {
		case "id":
			match.ID = v
		case "document":
			match.Document = v
		case "metadata":
			if err := decodeExtraMetadata(v, match.Metadata); err != nil {
				return Match{}, err
			}
		case KeyMode, KeySessionID, KeyUserID:
			if v != "" {
				match.Metadata[field.Name()] = v
			}
		}
	}
	return match, nil
}

// Exists checks which IDs are present in the store
func (m *MilvusStore) Exists(ctx context.Context, ids []string) (map[string]bool, error) {
	existenceMap := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existenceMap, nil
	}
	for _, id := range ids {
		existenceMap[id] = false
	}

	results, err := m.client.Query(
		ctx,
		m.config.CollectionName,
		nil, // partition names
		idInExpr(ids),
		[]string{"id"},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}

	for _, column := range results {
		if column.Name() == "id" {
			if varcharCol, ok := column.(*entity.ColumnVarChar); ok {
				for _, id := range varcharCol.Data() {
					existenceMap[id] = true
				}
			}
		}
	}

	return existenceMap, nil
}

// Delete removes records by ID
func (m *MilvusStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	if err := m.client.Delete(ctx, m.config.CollectionName, "", idInExpr(ids)); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}

	return nil
}

// Stats returns collection statistics
func (m *MilvusStore) Stats(ctx context.Context) (map[string]any, error) {
	stats, err := m.client.GetCollectionStatistics(ctx, m.config.CollectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	return map[string]any{
		"backend":    "milvus",
		"collection": m.config.CollectionName,
		"row_count":  stats["row_count"],
	}, nil
}

// Close releases resources and closes the Milvus connection
func (m *MilvusStore) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// splitWhere turns filters on dedicated columns into a Milvus expression and
// returns the remaining filters for post-filtering.
func splitWhere(where map[string]string) (string, map[string]string) {
	var clauses []string
	post := make(map[string]string)

	keys := make([]string, 0, len(where))
	for k := range where {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch k {
		case KeyMode, KeySessionID, KeyUserID:
			clauses = append(clauses, fmt.Sprintf("%s == %s", k, quoteExpr(where[k])))
		default:
			post[k] = where[k]
		}
	}
	return strings.Join(clauses, " && "), post
}

func idInExpr(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = quoteExpr(id)
	}
	return fmt.Sprintf("id in [%s]", strings.Join(quoted, ", "))
}

// quoteExpr renders s as a double-quoted Milvus string literal.
func quoteExpr(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// encodeExtraMetadata serialises every key without a dedicated column.
func encodeExtraMetadata(meta map[string]any) (string, error) {
	extra := make(map[string]any, len(meta))
	for k, v := range meta {
		switch k {
		case KeyMode, KeySessionID, KeyUserID:
			continue
		}
		extra[k] = v
	}
	if len(extra) == 0 {
		return "{}", nil
	}
	b, err := json.Marshal(extra)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeExtraMetadata(s string, into map[string]any) error {
	if s == "" {
		return nil
	}
	var extra map[string]any
	if err := json.Unmarshal([]byte(s), &extra); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	for k, v := range extra {
		into[k] = v
	}
	return nil
}

// truncateBytes cuts s to at most n bytes on a rune boundary.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && s[n]&0xC0 == 0x80 {
		n--
	}
	return s[:n]
}
