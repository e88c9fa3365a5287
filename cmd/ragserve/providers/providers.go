// Package providers wires the configured external services into the
// rag provider interfaces. Shared by the serve and ingest commands.
package providers

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/fieldnotesco/ragserve/pkg/provider/openai"
	"github.com/fieldnotesco/ragserve/pkg/provider/qdrant"
	"github.com/fieldnotesco/ragserve/pkg/provider/sqlitevec"
	"github.com/fieldnotesco/ragserve/pkg/rag"
	"github.com/fieldnotesco/ragserve/server"
)

// Store is a vector store usable for both retrieval and ingestion.
type Store interface {
	rag.Retriever
	rag.Upserter
}

// NewEmbedder builds the embedding client from the configuration.
func NewEmbedder(cfg server.Config) (rag.Embedder, error) {
	return openai.New(openai.Config{
		BaseURL:    cfg.Embedding.BaseURL,
		APIKey:     cfg.Embedding.APIKey,
		EmbedModel: cfg.Embedding.Model,
		Timeout:    time.Duration(cfg.Embedding.TimeoutSecs) * time.Second,
	})
}

// NewGenerator builds the generation client. It falls back to the
// embedding endpoint when no dedicated generation endpoint is set; both
// share the one API key.
func NewGenerator(cfg server.Config) (rag.Generator, error) {
	baseURL := cfg.Generation.BaseURL
	if baseURL == "" {
		baseURL = cfg.Embedding.BaseURL
	}
	return openai.New(openai.Config{
		BaseURL:   baseURL,
		APIKey:    cfg.Embedding.APIKey,
		ChatModel: cfg.Generation.Model,
		Timeout:   time.Duration(cfg.Generation.TimeoutSecs) * time.Second,
	})
}

// NewStore builds the vector store: Qdrant when an endpoint is
// configured, otherwise the local sqlite-vec index. The returned close
// function releases local resources and is a no-op for remote stores.
func NewStore(ctx context.Context, cfg server.Config, logger *zap.Logger) (Store, func() error, error) {
	if cfg.Qdrant.URL != "" {
		store, err := qdrant.New(qdrant.Config{
			URL:        cfg.Qdrant.URL,
			APIKey:     cfg.Qdrant.APIKey,
			Collection: cfg.Qdrant.Collection,
			Timeout:    time.Duration(cfg.Retrieval.TimeoutSecs) * time.Second,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureCollection(ctx, cfg.Embedding.Dimension); err != nil {
			return nil, nil, err
		}
		logger.Info("using qdrant vector store",
			zap.String("url", cfg.Qdrant.URL),
			zap.String("collection", cfg.Qdrant.Collection),
		)
		return store, func() error { return nil }, nil
	}

	store, err := sqlitevec.New(sqlitevec.Config{
		Path:      cfg.SQLite.Path,
		Dimension: cfg.Embedding.Dimension,
	})
	if err != nil {
		return nil, nil, err
	}
	logger.Info("using local sqlite-vec store", zap.String("path", cfg.SQLite.Path))
	return store, store.Close, nil
}
