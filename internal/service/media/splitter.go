package media

import (
	"context"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/autome/transcriber/internal/service/common"
)

// Splitter turns an arbitrarily large audio file into bounded segments a
// size-limited transcription provider can accept.
type Splitter interface {
	// SplitIntoSegments splits the file into ceil(duration/segmentSeconds)
	// independent segments encoded at a fixed sample rate, mono. When the
	// duration is unknown (0.0) the original path is returned unchanged.
	// Segments are temporary files; deletion belongs to the caller once
	// consumed. A segment that fails to encode is skipped and logged.
	SplitIntoSegments(ctx context.Context, filePath string, segmentSeconds float64) ([]string, error)

	// Normalize re-encodes the source to mono 16kHz WAV for decode-friendly
	// downstream processing. The output is a temporary file owned by the caller.
	Normalize(ctx context.Context, filePath string) (string, error)
}

// splitter implements Splitter using the ffmpeg CLI
type splitter struct {
	cmdRunner common.CmdRunner
	prober    Prober
	tempDir   string
}

// NewSplitter creates a new Splitter with default dependencies
func NewSplitter() Splitter {
	return &splitter{
		cmdRunner: common.NewCmdRunner(),
		prober:    NewProber(),
	}
}

// NewSplitterWithDependencies creates a new Splitter with custom dependencies (for testing)
func NewSplitterWithDependencies(cmdRunner common.CmdRunner, prober Prober, tempDir string) Splitter {
	return &splitter{
		cmdRunner: cmdRunner,
		prober:    prober,
		tempDir:   tempDir,
	}
}

// Normalize re-encodes the source to mono 16kHz WAV
func (s *splitter) Normalize(ctx context.Context, filePath string) (string, error) {
	outDir, err := s.segmentDir()
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	out := filepath.Join(outDir, base+"_16k.wav")

	args := []string{
		"-y", "-i", filePath,
		"-ac", "1", "-ar", "16000",
		"-f", "wav",
		out,
	}
	if _, err := s.cmdRunner.Run(ctx, "ffmpeg", args...); err != nil {
		return "", fmt.Errorf("ffmpeg normalize: %w", err)
	}
	return out, nil
}

// SplitIntoSegments splits the file into fixed-length mono segments
func (s *splitter) SplitIntoSegments(ctx context.Context, filePath string, segmentSeconds float64) ([]string, error) {
	if segmentSeconds <= 0 {
		return nil, fmt.Errorf("segment duration must be positive, got %f", segmentSeconds)
	}

	duration := s.prober.GetDuration(ctx, filePath)
	if duration == 0.0 {
		// Unknown duration degrades to single-segment processing
		log.Printf("media: duration unknown for %s, skipping split", filePath)
		return []string{filePath}, nil
	}

	segmentCount := int(math.Ceil(duration / segmentSeconds))
	outDir, err := s.segmentDir()
	if err != nil {
		return nil, err
	}

	base := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))

	var segments []string
	for i := 0; i < segmentCount; i++ {
		start := float64(i) * segmentSeconds
		out := filepath.Join(outDir, fmt.Sprintf("%s_seg%03d.wav", base, i))

		args := []string{
			"-y",
			"-ss", formatSeconds(start),
			"-t", formatSeconds(segmentSeconds),
			"-i", filePath,
			"-ac", "1", "-ar", "16000",
			"-f", "wav",
			out,
		}
		if _, err := s.cmdRunner.Run(ctx, "ffmpeg", args...); err != nil {
			// Skipped, not retried; downstream merge tolerates missing indices
			log.Printf("media: failed to encode segment %d of %s, skipping: %v", i, filePath, err)
			continue
		}
		segments = append(segments, out)
	}

	return segments, nil
}

// segmentDir returns the directory segments are written into
func (s *splitter) segmentDir() (string, error) {
	if s.tempDir != "" {
		return s.tempDir, nil
	}
	dir, err := os.MkdirTemp("", "transcriber-segments-*")
	if err != nil {
		return "", fmt.Errorf("failed to create segment directory: %w", err)
	}
	return dir, nil
}

// formatSeconds renders a seconds value for ffmpeg arguments
func formatSeconds(seconds float64) string {
	return fmt.Sprintf("%.3f", seconds)
}
