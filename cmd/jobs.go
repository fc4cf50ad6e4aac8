package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/autome/transcriber/internal/config"
	"github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/model"
	"github.com/autome/transcriber/internal/repository/job"
	"github.com/autome/transcriber/internal/repository/session"
)

// jobsCmd represents the jobs command
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage transcription jobs",
	Long:  `Create, inspect, list, and retry transcription jobs.`,
}

// jobsCreateCmd creates a transcription job from a completed upload session
var jobsCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a transcription job from a completed upload",
	Long:  `Create a transcription job backed by a completed upload session. The worker picks it up on its next poll.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		uploadID, _ := cmd.Flags().GetString("upload")
		userID, _ := cmd.Flags().GetString("user")
		language, _ := cmd.Flags().GetString("language")
		diarize, _ := cmd.Flags().GetBool("diarize")
		modelName, _ := cmd.Flags().GetString("model")
		formats, _ := cmd.Flags().GetStringSlice("formats")
		priority, _ := cmd.Flags().GetInt("priority")

		cfg, err := config.NewConfig()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		dbPool, err := config.NewDatabasePool(ctx, cfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer dbPool.Close()

		sessionRepo := session.NewRepository(dbPool)
		jobRepo := job.NewRepository(dbPool)

		upload, err := sessionRepo.GetByID(ctx, uploadID)
		if err != nil {
			return fmt.Errorf("failed to load upload session: %w", err)
		}
		if upload.Status != model.SessionStatusCompleted || upload.StorageKey == nil {
			return errors.New(errors.CodeInvalidArg, "upload session is not completed")
		}

		j := &model.TranscriptionJob{
			UploadID:          upload.ID,
			Filename:          upload.Filename,
			TotalSize:         upload.TotalSize,
			MimeType:          upload.MimeType,
			EnableDiarization: diarize,
			Model:             modelName,
			OutputFormats:     formats,
			Priority:          priority,
			StoragePaths:      map[string]string{"source": *upload.StorageKey},
		}
		if userID != "" {
			j.UserID = &userID
		}
		if language != "" {
			j.Language = &language
		}

		if err := jobRepo.Create(ctx, j); err != nil {
			return fmt.Errorf("failed to create job: %w", err)
		}

		fmt.Printf("Created job %s for %s (%d bytes)\n", j.ID, j.Filename, j.TotalSize)
		return nil
	},
}

// jobsGetCmd shows one job's pipeline state and results
var jobsGetCmd = &cobra.Command{
	Use:   "get [JOB_ID]",
	Short: "Show a transcription job",
	Long:  `Display a transcription job's stage, progress, and results.`,
	Args:  cobra.ExactArgs(1),
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

		j, err := job.NewRepository(dbPool).GetByID(ctx, args[0])
		if err != nil {
			return fmt.Errorf("failed to load job: %w", err)
		}

		fmt.Printf("ID:       %s\n", j.ID)
		fmt.Printf("File:     %s (%d bytes, %s)\n", j.Filename, j.TotalSize, j.MimeType)
		fmt.Printf("Status:   %s\n", j.Status)
		fmt.Printf("Stage:    %s (%.1f%%)\n", j.CurrentStage, j.Progress)
		fmt.Printf("Retries:  %d/%d\n", j.RetryCount, j.MaxRetries)
		if j.ErrorCode != nil {
			msg := ""
			if j.ErrorMessage != nil {
				msg = *j.ErrorMessage
			}
			fmt.Printf("Error:    [%s] %s\n", *j.ErrorCode, msg)
		}
		if j.Status == model.JobStatusComplete {
			if j.DetectedLanguage != nil {
				fmt.Printf("Language: %s\n", *j.DetectedLanguage)
			}
			if j.ConfidenceScore != nil {
				fmt.Printf("Confidence: %.3f\n", *j.ConfidenceScore)
			}
			if j.TotalDuration != nil {
				fmt.Printf("Duration: %.1fs\n", *j.TotalDuration)
			}
			if j.WordCount != nil {
				fmt.Printf("Words:    %d\n", *j.WordCount)
			}
		}
		if len(j.StageDurations) > 0 {
			fmt.Println("Stage durations:")
			for stage, seconds := range j.StageDurations {
				fmt.Printf("  %-20s %.2fs\n", stage, seconds)
			}
		}

		return nil
	},
}

// jobsListCmd lists jobs by user or status
var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List transcription jobs",
	Long:  `List transcription jobs for a user, or by status.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		userID, _ := cmd.Flags().GetString("user")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		if userID == "" && status == "" {
			return errors.New(errors.CodeInvalidArg, "either --user or --status is required")
		}

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

		var jobs []*model.TranscriptionJob
		if userID != "" {
			jobs, err = jobRepo.ListForUser(ctx, userID, limit)
		} else {
			jobs, err = jobRepo.ListByStatus(ctx, model.JobStatus(status), limit)
		}
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		for _, j := range jobs {
			fmt.Printf("%s  %-10s %-18s %5.1f%%  %s\n",
				j.ID, j.Status, j.CurrentStage, j.Progress, j.Filename)
		}
		return nil
	},
}

// jobsRetryCmd requeues a failed job
var jobsRetryCmd = &cobra.Command{
	Use:   "retry [JOB_ID]",
	Short: "Retry a failed transcription job",
	Long:  `Requeue a failed transcription job. The job resumes from its last checkpoint.`,
	Args:  cobra.ExactArgs(1),
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

		if err := job.NewRepository(dbPool).RequeueForRetry(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to retry job: %w", err)
		}

		fmt.Printf("Job %s requeued.\n", args[0])
		return nil
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsCreateCmd)
	jobsCmd.AddCommand(jobsGetCmd)
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsRetryCmd)

	jobsCreateCmd.Flags().String("upload", "", "Completed upload session ID (required)")
	jobsCreateCmd.Flags().String("user", "", "Owning user ID")
	jobsCreateCmd.Flags().String("language", "", "Force a transcription language (default: auto-detect)")
	jobsCreateCmd.Flags().Bool("diarize", false, "Enable speaker diarization")
	jobsCreateCmd.Flags().String("model", "base", "Transcription model to use")
	jobsCreateCmd.Flags().StringSlice("formats", []string{"txt", "json"}, "Output formats (txt, json, srt, vtt)")
	jobsCreateCmd.Flags().Int("priority", 0, "Queue priority (higher first)")
	jobsCreateCmd.MarkFlagRequired("upload")

	jobsListCmd.Flags().String("user", "", "List jobs for this user (newest first)")
	jobsListCmd.Flags().String("status", "", "List jobs with this status (oldest first)")
	jobsListCmd.Flags().Int("limit", 20, "Maximum number of jobs to list")
}
