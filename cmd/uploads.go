package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/autome/transcriber/internal/config"
	"github.com/autome/transcriber/internal/repository/session"
	"github.com/autome/transcriber/internal/service/upload"
)

// uploadsCmd represents the uploads command
var uploadsCmd = &cobra.Command{
	Use:   "uploads",
	Short: "Manage chunked upload sessions",
	Long:  `Create upload sessions, push chunks, assemble completed uploads, and purge expired sessions.`,
}

// uploadsInitCmd starts a new upload session
var uploadsInitCmd = &cobra.Command{
	Use:   "init [FILENAME]",
	Short: "Start a new upload session",
	Long:  `Create an upload session for a file. Chunks are pushed with "uploads put".`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		totalSize, _ := cmd.Flags().GetInt64("size")
		mimeType, _ := cmd.Flags().GetString("mime")
		chunkSize, _ := cmd.Flags().GetInt64("chunk-size")

		mgr, dbPool, err := newUploadManager(ctx)
		if err != nil {
			return err
		}
		defer dbPool.Close()

		s, err := mgr.CreateSession(ctx, args[0], totalSize, mimeType, chunkSize)
		if err != nil {
			return fmt.Errorf("failed to create upload session: %w", err)
		}

		fmt.Printf("Created upload session %s (expires %s)\n", s.ID, s.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

// uploadsPutCmd pushes one chunk into a session
var uploadsPutCmd = &cobra.Command{
	Use:   "put [SESSION_ID] [CHUNK_INDEX] [FILE]",
	Short: "Upload one chunk",
	Long:  `Store one chunk of an upload session from a local file. Re-sending an index overwrites the chunk.`,
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		chunkIndex, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("invalid chunk index %q: %w", args[1], err)
		}

		f, err := os.Open(args[2])
		if err != nil {
			return fmt.Errorf("failed to open chunk file: %w", err)
		}
		defer f.Close()

		mgr, dbPool, err := newUploadManager(ctx)
		if err != nil {
			return err
		}
		defer dbPool.Close()

		if err := mgr.SaveChunk(ctx, args[0], chunkIndex, f); err != nil {
			return fmt.Errorf("failed to save chunk: %w", err)
		}

		fmt.Printf("Stored chunk %d for session %s\n", chunkIndex, args[0])
		return nil
	},
}

// uploadsCompleteCmd assembles a finished upload
var uploadsCompleteCmd = &cobra.Command{
	Use:   "complete [SESSION_ID]",
	Short: "Complete an upload session",
	Long:  `Assemble all chunks of an upload session into the source file and mark the session completed.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		totalChunks, _ := cmd.Flags().GetInt("chunks")

		mgr, dbPool, err := newUploadManager(ctx)
		if err != nil {
			return err
		}
		defer dbPool.Close()

		s, err := mgr.CompleteSession(ctx, args[0], totalChunks)
		if err != nil {
			return fmt.Errorf("failed to complete upload session: %w", err)
		}

		fmt.Printf("Upload %s completed.\n", s.ID)
		if s.StorageKey != nil {
			fmt.Printf("Source:  %s\n", *s.StorageKey)
		}
		if s.ContentHash != nil {
			fmt.Printf("SHA-256: %s\n", *s.ContentHash)
		}
		return nil
	},
}

// uploadsPurgeCmd deletes expired sessions
var uploadsPurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Purge expired upload sessions",
	Long:  `Delete every non-completed upload session past its expiry, including chunk files on disk.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		mgr, dbPool, err := newUploadManager(ctx)
		if err != nil {
			return err
		}
		defer dbPool.Close()

		purged, err := mgr.PurgeExpired(ctx)
		if err != nil {
			return fmt.Errorf("failed to purge upload sessions: %w", err)
		}

		fmt.Printf("Purged %d expired upload session(s).\n", purged)
		return nil
	},
}

// newUploadManager wires an upload Manager from configuration. The caller
// owns closing the returned pool.
func newUploadManager(ctx context.Context) (upload.Manager, *pgxpool.Pool, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	dbPool, err := config.NewDatabasePool(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return upload.NewManager(session.NewRepository(dbPool), cfg.StorageDir), dbPool, nil
}

func init() {
	rootCmd.AddCommand(uploadsCmd)
	uploadsCmd.AddCommand(uploadsInitCmd)
	uploadsCmd.AddCommand(uploadsPutCmd)
	uploadsCmd.AddCommand(uploadsCompleteCmd)
	uploadsCmd.AddCommand(uploadsPurgeCmd)

	uploadsInitCmd.Flags().Int64("size", 0, "Total file size in bytes")
	uploadsInitCmd.Flags().String("mime", "audio/mpeg", "MIME type of the file")
	uploadsInitCmd.Flags().Int64("chunk-size", 5*1024*1024, "Chunk size in bytes")

	uploadsCompleteCmd.Flags().Int("chunks", 0, "Total number of chunks (required)")
	uploadsCompleteCmd.MarkFlagRequired("chunks")
}
