package transcribe

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/autome/transcriber/internal/errors"
	"github.com/autome/transcriber/internal/service/common"
)

// whisperResult mirrors the JSON file the Whisper CLI writes
type whisperResult struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start      float64 `json:"start"`
		End        float64 `json:"end"`
		Text       string  `json:"text"`
		Confidence float64 `json:"confidence"`
	} `json:"segments"`
}

// whisperTranscriber implements Transcriber using the Whisper CLI
type whisperTranscriber struct {
	cmdRunner common.CmdRunner
	model     string
	language  string // empty means auto-detect
}

// NewWhisperTranscriber creates a new Transcriber with default CmdRunner
func NewWhisperTranscriber(model, language string) Transcriber {
	return &whisperTranscriber{
		cmdRunner: common.NewCmdRunner(),
		model:     model,
		language:  language,
	}
}

// NewWhisperTranscriberWithCmdRunner creates a new Transcriber with custom CmdRunner (for testing)
func NewWhisperTranscriberWithCmdRunner(cmdRunner common.CmdRunner, model, language string) Transcriber {
	return &whisperTranscriber{
		cmdRunner: cmdRunner,
		model:     model,
		language:  language,
	}
}

// Transcribe transcribes an audio file using the Whisper CLI
func (t *whisperTranscriber) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	if audioPath == "" {
		return nil, errors.New(errors.CodeInvalidArg, "audio path is required")
	}

	tempDir, err := os.MkdirTemp("", "transcriber-whisper-*")
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to create temp directory")
	}
	defer os.RemoveAll(tempDir)

	model := t.model
	if model == "" {
		model = "base"
	}
	language := t.language
	if language == "" {
		language = "auto"
	}

	args := []string{
		audioPath,
		"--model", model,
		"--language", language,
		"--output_format", "json",
		"--output_dir", tempDir,
		"--temperature", "0",
	}

	if _, err := t.cmdRunner.Run(ctx, "whisper", args...); err != nil {
		return nil, errors.Wrap(err, errors.CodeExternal, "whisper execution failed")
	}

	// Whisper writes <basename>.json next to the requested output dir
	baseName := filepath.Base(audioPath)
	baseName = strings.TrimSuffix(baseName, filepath.Ext(baseName))
	jsonPath := filepath.Join(tempDir, baseName+".json")

	jsonData, err := os.ReadFile(jsonPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to read whisper output")
	}

	var raw whisperResult
	if err := json.Unmarshal(jsonData, &raw); err != nil {
		return nil, errors.Wrap(err, errors.CodeInternal, "failed to parse whisper output")
	}

	return &Result{
		Text:       strings.TrimSpace(raw.Text),
		Language:   raw.Language,
		Confidence: averageConfidence(raw),
	}, nil
}

// averageConfidence averages per-segment confidence when present
func averageConfidence(raw whisperResult) float64 {
	if len(raw.Segments) == 0 {
		return 0
	}
	var sum float64
	for _, seg := range raw.Segments {
		sum += seg.Confidence
	}
	return sum / float64(len(raw.Segments))
}
