package rag

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// SQLiteStore is a single-file VectorStore. Similarity is computed in
// process over the rows that pass the column filters, which suits the
// few-thousand-record logs a single deployment accumulates.
type SQLiteStore struct {
	conn      *sqlx.DB
	dimension int
}

type vectorRow struct {
	ID        string `db:"id"`
	Document  string `db:"document"`
	Embedding []byte `db:"embedding"`
	Metadata  string `db:"metadata"`
}

// NewSQLiteStore opens or creates a vector database at path.
func NewSQLiteStore(path string, dimension int) (*SQLiteStore, error) {
	if dimension <= 0 {
		return nil, ErrInvalidDimension
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}
	}

	conn, err := sqlx.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", ErrConnectionFailed, err)
	}
	conn.SetMaxOpenConns(1)

	s := &SQLiteStore{conn: conn, dimension: dimension}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: migrate: %v", ErrConnectionFailed, err)
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS vectors (
		id TEXT PRIMARY KEY,
		document TEXT NOT NULL,
		embedding BLOB NOT NULL,
		mode TEXT NOT NULL DEFAULT '',
		session_id TEXT NOT NULL DEFAULT '',
		user_id TEXT NOT NULL DEFAULT '',
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_vectors_mode ON vectors(mode);
	CREATE INDEX IF NOT EXISTS idx_vectors_session ON vectors(session_id);
	CREATE INDEX IF NOT EXISTS idx_vectors_user ON vectors(user_id);
	`
	_, err := s.conn.Exec(schema)
	return err
}

// Add inserts or replaces records by ID.
func (s *SQLiteStore) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return ErrEmptyRecords
	}

	tx, err := s.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `INSERT OR REPLACE INTO vectors
		(id, document, embedding, mode, session_id, user_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}
	defer stmt.Close()

	now := time.Now().UnixNano()
	for _, r := range records {
		if r.ID == "" {
			return fmt.Errorf("%w: id", ErrMissingMetadata)
		}
		if len(r.Embedding) != s.dimension {
			return fmt.Errorf("%w: record %s: expected %d, got %d", ErrInvalidDimension, r.ID, s.dimension, len(r.Embedding))
		}
		meta, err := json.Marshal(r.Metadata)
		if err != nil {
			return fmt.Errorf("%w: record %s: %v", ErrInsertFailed, r.ID, err)
		}
		if r.Metadata == nil {
			meta = []byte("{}")
		}

		if _, err := stmt.ExecContext(ctx,
			r.ID, r.Document, EncodeVector(r.Embedding),
			metaString(r.Metadata[KeyMode]), metaString(r.Metadata[KeySessionID]), metaString(r.Metadata[KeyUserID]),
			string(meta), now,
		); err != nil {
			return fmt.Errorf("%w: record %s: %v", ErrInsertFailed, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrInsertFailed, err)
	}
	return nil
}

// Query ranks every row that passes the filters by cosine similarity.
func (s *SQLiteStore) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Match, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrInvalidDimension, s.dimension, len(vector))
	}
	if opts.TopK <= 0 {
		return []Match{}, nil
	}

	query := "SELECT id, document, embedding, metadata FROM vectors"
	var (
		clauses []string
		args    []any
	)
	post := make(map[string]string)
	for _, k := range []string{KeyMode, KeySessionID, KeyUserID} {
		if v, ok := opts.Where[k]; ok {
			clauses = append(clauses, k+" = ?")
			args = append(args, v)
		}
	}
	for k, v := range opts.Where {
		switch k {
		case KeyMode, KeySessionID, KeyUserID:
		default:
			post[k] = v
		}
	}
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}

	var rows []vectorRow
	if err := s.conn.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSearchFailed, err)
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		meta := make(map[string]any)
		if err := json.Unmarshal([]byte(row.Metadata), &meta); err != nil {
			return nil, fmt.Errorf("%w: record %s: decode metadata: %v", ErrSearchFailed, row.ID, err)
		}
		if !matchesWhere(meta, post) {
			continue
		}
		matches = append(matches, Match{
			ID:       row.ID,
			Document: row.Document,
			Metadata: meta,
			Score:    CosineSimilarity(vector, DecodeVector(row.Embedding)),
		})
	}

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > opts.TopK {
		matches = matches[:opts.TopK]
	}
	return matches, nil
}

// Exists checks which IDs are present in the store.
func (s *SQLiteStore) Exists(ctx context.Context, ids []string) (map[string]bool, error) {
	existenceMap := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return existenceMap, nil
	}
	for _, id := range ids {
		existenceMap[id] = false
	}

	query, args, err := sqlx.In("SELECT id FROM vectors WHERE id IN (?)", ids)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	var found []string
	if err := s.conn.SelectContext(ctx, &found, s.conn.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	for _, id := range found {
		existenceMap[id] = true
	}
	return existenceMap, nil
}

// Delete removes records by ID.
func (s *SQLiteStore) Delete(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In("DELETE FROM vectors WHERE id IN (?)", ids)
	if err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	if _, err := s.conn.ExecContext(ctx, s.conn.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to delete records: %w", err)
	}
	return nil
}

// Stats returns the row count.
func (s *SQLiteStore) Stats(ctx context.Context) (map[string]any, error) {
	var count int64
	if err := s.conn.GetContext(ctx, &count, "SELECT COUNT(*) FROM vectors"); err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	return map[string]any{
		"backend":   "sqlite",
		"row_count": count,
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

// EncodeVector converts a float32 slice to a little-endian byte blob.
func EncodeVector(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector converts a little-endian byte blob back to a float32 slice.
func DecodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either vector is zero.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
