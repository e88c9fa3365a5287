package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	askcmder "github.com/fieldnotesco/ragserve/cmd/ragserve/ask"
	ingestcmder "github.com/fieldnotesco/ragserve/cmd/ragserve/ingest"
	servecmder "github.com/fieldnotesco/ragserve/cmd/ragserve/serve"
)

func main() {
	// Credentials may live in a local .env during development.
	_ = godotenv.Load()

	root := &cobra.Command{
		Use:   "ragserve",
		Short: "Retrieval-augmented chat service",
		Long: `ragserve answers questions about an ingested document corpus by
retrieving the most relevant passages and asking a generation model for
an answer grounded in them.`,
		SilenceUsage: true,
	}

	root.AddCommand(
		servecmder.NewServeCmd(),
		ingestcmder.NewIngestCmd(),
		askcmder.NewAskCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
