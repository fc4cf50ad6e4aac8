package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/autome/transcriber/internal/model"
)

// jsonOutput is the shape of the .json asset
type jsonOutput struct {
	Text     string            `json:"text"`
	Language string            `json:"language,omitempty"`
	Duration float64           `json:"duration,omitempty"`
	Segments []jsonOutputEntry `json:"segments"`
}

type jsonOutputEntry struct {
	Index  int     `json:"index"`
	Start  float64 `json:"start"`
	End    float64 `json:"end"`
	Text   string  `json:"text"`
	Failed bool    `json:"failed,omitempty"`
}

// renderOutput produces the bytes of one output asset
func renderOutput(format string, j *model.TranscriptionJob, segCP *model.SegmentingCheckpoint, cp *model.TranscribingCheckpoint, transcript string) ([]byte, error) {
	switch format {
	case "txt":
		return []byte(transcript + "\n"), nil
	case "json":
		return renderJSON(j, segCP, cp, transcript)
	case "srt":
		return renderSRT(segCP, cp), nil
	case "vtt":
		return renderVTT(segCP, cp), nil
	default:
		return nil, failValidation("unsupported output format %q", format)
	}
}

func renderJSON(j *model.TranscriptionJob, segCP *model.SegmentingCheckpoint, cp *model.TranscribingCheckpoint, transcript string) ([]byte, error) {
	out := jsonOutput{
		Text:     transcript,
		Duration: segCP.TotalDuration,
	}
	if j.Language != nil {
		out.Language = *j.Language
	}
	for i := 0; i < len(segCP.SegmentPaths); i++ {
		result, ok := cp.Segments[i]
		if !ok {
			continue
		}
		start, end := segmentWindow(segCP, i)
		out.Segments = append(out.Segments, jsonOutputEntry{
			Index:  i,
			Start:  start,
			End:    end,
			Text:   result.Text,
			Failed: result.Failed,
		})
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, failTransient("failed to encode json output: %v", err)
	}
	return data, nil
}

func renderSRT(segCP *model.SegmentingCheckpoint, cp *model.TranscribingCheckpoint) []byte {
	var b strings.Builder
	cue := 1
	for i := 0; i < len(segCP.SegmentPaths); i++ {
		result, ok := cp.Segments[i]
		if !ok {
			continue
		}
		start, end := segmentWindow(segCP, i)
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n", cue, srtTimestamp(start), srtTimestamp(end), result.Text)
		cue++
	}
	return []byte(b.String())
}

func renderVTT(segCP *model.SegmentingCheckpoint, cp *model.TranscribingCheckpoint) []byte {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for i := 0; i < len(segCP.SegmentPaths); i++ {
		result, ok := cp.Segments[i]
		if !ok {
			continue
		}
		start, end := segmentWindow(segCP, i)
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n", vttTimestamp(start), vttTimestamp(end), result.Text)
	}
	return []byte(b.String())
}

// segmentWindow approximates a segment's time window from the even split.
// When duration is unknown the window degrades to zero-length cues.
func segmentWindow(segCP *model.SegmentingCheckpoint, index int) (float64, float64) {
	total := len(segCP.SegmentPaths)
	if total == 0 || segCP.TotalDuration <= 0 {
		return 0, 0
	}
	length := segCP.TotalDuration / float64(total)
	start := float64(index) * length
	end := start + length
	if end > segCP.TotalDuration {
		end = segCP.TotalDuration
	}
	return start, end
}

func srtTimestamp(seconds float64) string {
	h, m, s, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms)
}

func vttTimestamp(seconds float64) string {
	h, m, s, ms := splitTimestamp(seconds)
	return fmt.Sprintf("%02d:%02d:%02d.%03d", h, m, s, ms)
}

func splitTimestamp(seconds float64) (int, int, int, int) {
	if seconds < 0 {
		seconds = 0
	}
	whole := int(seconds)
	ms := int((seconds - float64(whole)) * 1000)
	return whole / 3600, (whole % 3600) / 60, whole % 60, ms
}
