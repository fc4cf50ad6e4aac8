package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/autome/transcriber/internal/config"
	"github.com/autome/transcriber/internal/repository/job"
	"github.com/autome/transcriber/internal/repository/note"
	"github.com/autome/transcriber/internal/service/bridge"
	"github.com/autome/transcriber/internal/service/media"
	"github.com/autome/transcriber/internal/service/pipeline"
	"github.com/autome/transcriber/internal/service/transcribe"
)

// workerCmd represents the worker command
var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run and inspect the pipeline worker",
	Long:  `Operations for running the transcription pipeline worker and inspecting its queue.`,
}

// workerRunCmd runs the pipeline worker until interrupted
var workerRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline worker",
	Long:  `Start the pipeline worker and process transcription jobs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Shutdown is cooperative: the signal flips the context and the
		// worker drains at the next job/segment boundary.
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		dbPool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		jobRepo := job.NewRepository(dbPool)
		assetRepo := job.NewAssetRepository(dbPool)
		noteRepo := note.NewRepository(dbPool)

		model, _ := cmd.Flags().GetString("model")
		language, _ := cmd.Flags().GetString("language")

		noteBridge := bridge.NewBridge(jobRepo, noteRepo, cfg.StorageDir)
		worker := pipeline.NewWorker(
			jobRepo,
			assetRepo,
			media.NewProber(),
			media.NewSplitter(),
			transcribe.NewWhisperTranscriber(model, language),
			noteBridge,
			cfg.Worker,
			cfg.StorageDir,
		)
		manager := pipeline.NewManager(worker, jobRepo, cfg.Worker)

		fmt.Println("Starting pipeline worker (Ctrl+C to stop)...")
		manager.Start(ctx)

		<-ctx.Done()
		fmt.Println("\nShutting down...")
		manager.Stop(time.Duration(cfg.Worker.StopTimeoutSeconds) * time.Second)
		fmt.Println("Worker stopped.")

		return nil
	},
}

// workerStatusCmd reports the queue backlog from the state store
var workerStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue status",
	Long:  `Display the transcription job backlog: created, processing, and retryable counts.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		dbPool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		jobRepo := job.NewRepository(dbPool)
		// A detached manager still answers queue queries from the store
		manager := pipeline.NewManager(nil, jobRepo, cfg.Worker)

		queue, err := manager.QueueStatus(ctx)
		if err != nil {
			return fmt.Errorf("failed to get queue status: %w", err)
		}

		fmt.Printf("Created:    %d\n", queue.CreatedCount)
		fmt.Printf("Processing: %d\n", queue.ProcessingCount)
		fmt.Printf("Retryable:  %d\n", queue.RetryableCount)
		fmt.Printf("Total:      %d\n", queue.TotalQueued)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.AddCommand(workerRunCmd)
	workerCmd.AddCommand(workerStatusCmd)

	workerRunCmd.Flags().String("model", "base", "Transcription model to use")
	workerRunCmd.Flags().String("language", "", "Force a transcription language (default: auto-detect)")
}
