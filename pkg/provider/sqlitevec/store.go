// Package sqlitevec is a local vector store backed by SQLite with the
// sqlite-vec extension. It implements rag.Retriever and rag.Upserter
// and serves deployments that index their corpus on the same host
// instead of a remote vector-search service.
package sqlitevec

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/fieldnotesco/ragserve/pkg/rag"
)

// registerOnce loads the sqlite-vec extension into every connection
// opened by the sqlite3 driver. Auto must run before sql.Open.
var registerOnce sync.Once

// Config configures the local store.
type Config struct {
	// Path to the database file, or ":memory:" for an in-memory index.
	Path string

	// Dimension of the stored vectors. Must match the embedder.
	Dimension int
}

// Store is a sqlite-vec backed vector index.
type Store struct {
	db        *sql.DB
	dimension int
}

// New opens (or creates) the index at the configured path.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, rag.ConfigurationError{Reason: "sqlite path is required"}
	}
	if cfg.Dimension <= 0 {
		return nil, rag.ConfigurationError{Reason: "embedding dimension is required for the sqlite store"}
	}

	registerOnce.Do(sqlite_vec.Auto)

	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	schema := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_passages USING vec0(
		embedding float[%d] distance_metric=cosine,
		+chunk_id TEXT,
		+text TEXT,
		+source TEXT
	)`, cfg.Dimension)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create vec_passages table: %w", err)
	}

	return &Store{db: db, dimension: cfg.Dimension}, nil
}

// Search returns the k nearest passages to the query vector. Cosine
// distance is converted to a similarity score so that higher is better,
// matching the Retriever contract.
func (s *Store) Search(ctx context.Context, vector []float32, k int) ([]rag.Passage, error) {
	if len(vector) != s.dimension {
		return nil, fmt.Errorf("query vector has dimension %d, index expects %d", len(vector), s.dimension)
	}

	query, err := sqlite_vec.SerializeFloat32(vector)
	if err != nil {
		return nil, fmt.Errorf("serialize query vector: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT text, source, distance
		 FROM vec_passages
		 WHERE embedding MATCH ? AND k = ?
		 ORDER BY distance`,
		query, k,
	)
	if err != nil {
		return nil, fmt.Errorf("knn query: %w", err)
	}
	defer rows.Close()

	var passages []rag.Passage
	for rows.Next() {
		var text, source string
		var distance float64
		if err := rows.Scan(&text, &source, &distance); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		passages = append(passages, rag.Passage{
			Text:   text,
			Source: source,
			Score:  1 - distance,
		})
	}

	return passages, rows.Err()
}

// Upsert writes embedded chunks, replacing any existing row with the
// same chunk ID.
func (s *Store) Upsert(ctx context.Context, chunks []rag.IndexedChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, c := range chunks {
		if len(c.Vector) != s.dimension {
			return fmt.Errorf("chunk %s has dimension %d, index expects %d", c.ID, len(c.Vector), s.dimension)
		}

		// vec0 deletes go by rowid, so look the old row up first.
		var rowid int64
		err := tx.QueryRowContext(ctx, `SELECT rowid FROM vec_passages WHERE chunk_id = ?`, c.ID).Scan(&rowid)
		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, `DELETE FROM vec_passages WHERE rowid = ?`, rowid); err != nil {
				return fmt.Errorf("delete stale chunk %s: %w", c.ID, err)
			}
		case err != sql.ErrNoRows:
			return fmt.Errorf("look up chunk %s: %w", c.ID, err)
		}

		blob, err := sqlite_vec.SerializeFloat32(c.Vector)
		if err != nil {
			return fmt.Errorf("serialize vector for chunk %s: %w", c.ID, err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO vec_passages(embedding, chunk_id, text, source) VALUES (?, ?, ?, ?)`,
			blob, c.ID, c.Text, c.Source,
		); err != nil {
			return fmt.Errorf("insert chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Count returns the number of indexed chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM vec_passages`).Scan(&n)
	return n, err
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
