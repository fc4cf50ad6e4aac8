package media

import (
	"context"
	"encoding/json"
	"log"
	"strconv"

	"github.com/autome/transcriber/internal/service/common"
)

// Prober determines the duration of media files
type Prober interface {
	// GetDuration returns the media duration in seconds. On any probe
	// failure it returns 0.0 rather than an error; callers treat 0.0 as
	// "unknown" and fall back to single-segment processing.
	GetDuration(ctx context.Context, filePath string) float64
}

// ffprobeOutput is the subset of ffprobe JSON output we care about
type ffprobeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		Duration  string `json:"duration,omitempty"`
	} `json:"streams"`
}

// prober implements Prober using the ffprobe CLI
type prober struct {
	cmdRunner common.CmdRunner
}

// NewProber creates a new Prober with default CmdRunner
func NewProber() Prober {
	return &prober{
		cmdRunner: common.NewCmdRunner(),
	}
}

// NewProberWithCmdRunner creates a new Prober with custom CmdRunner (for testing)
func NewProberWithCmdRunner(cmdRunner common.CmdRunner) Prober {
	return &prober{
		cmdRunner: cmdRunner,
	}
}

// GetDuration probes the file with ffprobe and parses the format duration
func (p *prober) GetDuration(ctx context.Context, filePath string) float64 {
	args := []string{
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		filePath,
	}

	output, err := p.cmdRunner.Run(ctx, "ffprobe", args...)
	if err != nil {
		log.Printf("media: ffprobe failed for %s, treating duration as unknown: %v", filePath, err)
		return 0.0
	}

	var probeData ffprobeOutput
	if err := json.Unmarshal(output, &probeData); err != nil {
		log.Printf("media: failed to parse ffprobe output for %s, treating duration as unknown: %v", filePath, err)
		return 0.0
	}

	if probeData.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(probeData.Format.Duration, 64); err == nil {
			return duration
		}
	}

	// Fall back to the first stream carrying a duration
	for _, stream := range probeData.Streams {
		if stream.Duration != "" {
			if duration, err := strconv.ParseFloat(stream.Duration, 64); err == nil {
				return duration
			}
		}
	}

	log.Printf("media: no duration field in ffprobe output for %s, treating as unknown", filePath)
	return 0.0
}
