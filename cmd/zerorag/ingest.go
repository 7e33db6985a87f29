package zerorag

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/zerorag/zerorag/pkg/ingest"
	"github.com/zerorag/zerorag/pkg/services"
)

var recursive bool

var ingestCmd = &cobra.Command{
	Use:   "ingest [file/directory]",
	Short: "Import documents into the vector store",
	Long: `Validate, chunk, embed and store documents into the vector store.
Supports .txt, .md, .json and .csv files.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		factory := services.NewFactory(cfg)
		defer func() { _ = factory.Close() }()

		svc := factory.Ingest()
		if svc == nil {
			return fmt.Errorf("ingestion service failed to initialize")
		}

		ctx := context.Background()
		if err := ingestPath(ctx, svc, path); err != nil {
			return err
		}

		fmt.Printf("Successfully ingested documents from: %s\n", path)
		return nil
	},
}

func ingestPath(ctx context.Context, svc *ingest.Service, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to stat path %s: %w", path, err)
	}

	if !info.IsDir() {
		return ingestFile(ctx, svc, path)
	}

	if !recursive {
		return fmt.Errorf("directory processing requires --recursive flag")
	}

	return filepath.Walk(path, func(entry string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return nil
		}
		fmt.Printf("Processing: %s\n", entry)
		if fileErr := ingestFile(ctx, svc, entry); fileErr != nil {
			fmt.Printf("Warning: failed to ingest %s: %v\n", entry, fileErr)
		}
		return nil
	})
}

func ingestFile(ctx context.Context, svc *ingest.Service, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	documentID, err := svc.StartIngest(ctx, filepath.Base(path), data)
	if err != nil {
		return err
	}

	// Ingestion runs in the background; poll until it settles.
	for {
		time.Sleep(200 * time.Millisecond)

		progress, err := svc.GetProgress(documentID)
		if err != nil {
			return err
		}

		if progress.CurrentStep == ingest.StepFailed {
			return fmt.Errorf("ingestion failed: %s", progress.ErrorMessage)
		}
		if progress.CurrentStep == ingest.StepCompleted {
			fmt.Printf("  %s: done (%d bytes)\n", progress.Filename, progress.FileSize)
			return nil
		}
	}
}

func init() {
	ingestCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "process directories recursively")
}
