package servecmder

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fieldnotesco/ragserve/cmd/ragserve/providers"
	"github.com/fieldnotesco/ragserve/pkg/logger"
	"github.com/fieldnotesco/ragserve/pkg/rag"
	"github.com/fieldnotesco/ragserve/server"
)

const serveLongDesc string = `Start the retrieval-augmented chat server.

The server answers POST /api/chat by embedding the question, retrieving
the most relevant passages from the configured vector store, and asking
the generation model for an answer grounded in them. Credentials come
from the environment (OPENAI_API_KEY, and QDRANT_URL/QDRANT_API_KEY for
a remote vector store); tuning comes from an optional TOML config file.

Examples:
  ragserve serve
  ragserve serve --config ragserve.toml --listen :9090`

const serveShortDesc string = "Start the chat server"

type serveCommander struct {
	configPath string
	listenAddr string
	logLevel   string
}

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd)
		},
	}

	cmd.Flags().StringVarP(&cmder.configPath, "config", "c", "ragserve.toml", "Path to TOML config file")
	cmd.Flags().StringVarP(&cmder.listenAddr, "listen", "l", "", "Address to listen on (overrides config)")
	cmd.Flags().StringVar(&cmder.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")

	return cmd
}

func (c *serveCommander) run(cmd *cobra.Command) error {
	cfg, err := server.LoadConfig(c.configPath)
	if err != nil {
		return err
	}
	if c.listenAddr != "" {
		cfg.Server.ListenAddr = c.listenAddr
	}

	// A missing credential or endpoint must stop the process before it
	// serves traffic.
	if err := cfg.Validate(); err != nil {
		return err
	}

	log := logger.New(c.logLevel)
	defer log.Sync()

	embedder, err := providers.NewEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("build embedder: %w", err)
	}

	generator, err := providers.NewGenerator(cfg)
	if err != nil {
		return fmt.Errorf("build generator: %w", err)
	}

	store, closeStore, err := providers.NewStore(cmd.Context(), cfg, log)
	if err != nil {
		return fmt.Errorf("build vector store: %w", err)
	}
	defer closeStore()

	orchestrator := rag.NewOrchestrator(embedder, store, generator, log, cfg.OrchestratorOptions())

	srv := server.New(cfg.Server, orchestrator, log)

	log.Info("ragserve starting",
		zap.String("listen", cfg.Server.ListenAddr),
		zap.Int("top_k", cfg.Retrieval.TopK),
	)

	return srv.Run()
}
