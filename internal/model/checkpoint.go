package model

// SegmentingCheckpoint is the resumption state persisted once the source
// file has been split. A retried job reuses it instead of re-segmenting.
type SegmentingCheckpoint struct {
	SegmentPaths  []string `json:"segment_paths"`
	TotalDuration float64  `json:"total_duration"` // seconds; 0 means unknown
}

// SegmentResult is one segment's transcription outcome.
type SegmentResult struct {
	Text       string  `json:"text"`
	Language   string  `json:"language,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Failed     bool    `json:"failed,omitempty"`
}

// TranscribingCheckpoint records per-segment results keyed by segment index.
// It is updated after every segment so a crash loses at most one segment's work.
type TranscribingCheckpoint struct {
	Segments map[int]SegmentResult `json:"segments"`
}
