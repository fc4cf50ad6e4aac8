package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "transcriber",
	Short: "AUTO-ME transcription pipeline",
	Long: `Backend pipeline for large-file audio transcription: resumable chunked
uploads, stage-tracked transcription jobs with checkpointed retry, and
legacy note synchronization.`,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
