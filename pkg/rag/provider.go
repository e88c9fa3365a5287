package rag

import "context"

// Embedder converts a text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Retriever finds the k stored passages most similar to a query vector,
// ordered by descending relevance.
type Retriever interface {
	Search(ctx context.Context, vector []float32, k int) ([]Passage, error)
}

// Generator produces an answer from an assembled prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// StreamingGenerator is an optional capability of a Generator. Tokens
// arrive on the returned channel as they are produced; the channel is
// closed when generation finishes or fails.
type StreamingGenerator interface {
	GenerateStream(ctx context.Context, prompt string) (<-chan StreamToken, error)
}

// StreamToken is a single token of a streaming generation.
type StreamToken struct {
	Content string
	Done    bool
	Err     error
}

// IndexedChunk pairs a text chunk with its embedding for upserting into
// a vector store.
type IndexedChunk struct {
	ID     string
	Text   string
	Source string
	Vector []float32
}

// Upserter writes embedded chunks into a vector store. Implemented by
// stores that support local ingestion.
type Upserter interface {
	Upsert(ctx context.Context, chunks []IndexedChunk) error
}
