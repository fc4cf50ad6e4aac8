package transcribe

import "context"

// Result is one audio file's transcription outcome
type Result struct {
	Text       string
	Language   string
	Confidence float64
}

// Transcriber is the pluggable transcription capability: submit audio,
// receive text. Provider failures (rate limit, timeout, bad request) come
// back as errors the caller converts into per-segment placeholders or a
// job-level failure.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
}
