package ingestcmder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldnotesco/ragserve/cmd/ragserve/providers"
	"github.com/fieldnotesco/ragserve/pkg/chunk"
	"github.com/fieldnotesco/ragserve/pkg/rag"
	"github.com/fieldnotesco/ragserve/server"
)

const ingestLongDesc string = `Ingest documents into the configured vector store.

Each file is split into overlapping sentence chunks, embedded with the
configured embedding model, and upserted into the vector store (Qdrant
when configured, otherwise the local sqlite-vec index). Re-ingesting a
file replaces its chunks.

Examples:
  ragserve ingest docs/*.md
  ragserve ingest --config ragserve.toml --sentences 8 chapter1.md`

const ingestShortDesc string = "Ingest documents into the vector store"

type ingestCommander struct {
	configPath string
	sentences  int
	overlap    int
	batchSize  int
}

func NewIngestCmd() *cobra.Command {
	cmder := &ingestCommander{}

	cmd := &cobra.Command{
		Use:   "ingest <files...>",
		Short: ingestShortDesc,
		Long:  ingestLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "ragserve.toml", "Path to TOML config file")
	cmd.Flags().IntVar(&cmder.sentences, "sentences", 5, "Sentences per chunk")
	cmd.Flags().IntVar(&cmder.overlap, "overlap", 1, "Overlapping sentences between chunks")
	cmd.Flags().IntVar(&cmder.batchSize, "batch-size", 64, "Chunks per upsert request")

	return cmd
}

func (c *ingestCommander) run(ctx context.Context, cmd *cobra.Command, paths []string) error {
	if c.batchSize <= 0 {
		c.batchSize = 64
	}

	cfg, err := server.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	embedder, err := providers.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}

	store, closeStore, err := providers.NewStore(ctx, cfg, zap.NewNop())
	if err != nil {
		return fmt.Errorf("build vector store: %w", err)
	}
	defer closeStore()

	splitter := chunk.NewSplitter(c.sentences, c.overlap)

	var total int
	for _, path := range paths {
		n, err := c.ingestFile(ctx, cmd, embedder, store, splitter, path)
		if err != nil {
			return fmt.Errorf("ingest %s: %w", path, err)
		}
		total += n
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Ingested %d chunks from %d files.\n", total, len(paths))
	return nil
}

func (c *ingestCommander) ingestFile(ctx context.Context, cmd *cobra.Command, embedder rag.Embedder, store providers.Store, splitter *chunk.Splitter, path string) (int, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	source := filepath.Base(path)
	chunks := splitter.Split(source, string(content))
	if len(chunks) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "%s: empty, skipped\n", source)
		return 0, nil
	}

	indexed := make([]rag.IndexedChunk, 0, len(chunks))
	for _, ch := range chunks {
		vector, err := embedder.Embed(ctx, ch.Text)
		if err != nil {
			return 0, fmt.Errorf("embed chunk %s: %w", ch.ID, err)
		}
		indexed = append(indexed, rag.IndexedChunk{
			ID:     ch.ID,
			Text:   ch.Text,
			Source: ch.Source,
			Vector: vector,
		})
	}

	for i := 0; i < len(indexed); i += c.batchSize {
		end := i + c.batchSize
		if end > len(indexed) {
			end = len(indexed)
		}
		if err := store.Upsert(ctx, indexed[i:end]); err != nil {
			return 0, fmt.Errorf("upsert batch %d-%d: %w", i, end-1, err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", source, len(indexed))
	return len(indexed), nil
}
