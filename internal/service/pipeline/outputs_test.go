package pipeline

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autome/transcriber/internal/model"
)

func twoSegmentFixture() (*model.SegmentingCheckpoint, *model.TranscribingCheckpoint) {
	segCP := &model.SegmentingCheckpoint{
		SegmentPaths:  []string{"/tmp/seg0.wav", "/tmp/seg1.wav"},
		TotalDuration: 600,
	}
	cp := &model.TranscribingCheckpoint{Segments: map[int]model.SegmentResult{
		0: {Text: "first half", Language: "en", Confidence: 0.9},
		1: {Text: "second half", Language: "en", Confidence: 0.8},
	}}
	return segCP, cp
}

func TestRenderOutput_Txt(t *testing.T) {
	segCP, cp := twoSegmentFixture()
	j := &model.TranscriptionJob{}

	got, err := renderOutput("txt", j, segCP, cp, "merged transcript")

	require.NoError(t, err)
	assert.Equal(t, "merged transcript\n", string(got))
}

func TestRenderOutput_JSON(t *testing.T) {
	segCP, cp := twoSegmentFixture()
	j := &model.TranscriptionJob{}

	got, err := renderOutput("json", j, segCP, cp, "merged transcript")
	require.NoError(t, err)

	var out struct {
		Text     string  `json:"text"`
		Duration float64 `json:"duration"`
		Segments []struct {
			Index int     `json:"index"`
			Start float64 `json:"start"`
			End   float64 `json:"end"`
			Text  string  `json:"text"`
		} `json:"segments"`
	}
	require.NoError(t, json.Unmarshal(got, &out))

	assert.Equal(t, "merged transcript", out.Text)
	assert.Equal(t, 600.0, out.Duration)
	require.Len(t, out.Segments, 2)
	assert.Equal(t, 0.0, out.Segments[0].Start)
	assert.Equal(t, 300.0, out.Segments[0].End)
	assert.Equal(t, 300.0, out.Segments[1].Start)
	assert.Equal(t, 600.0, out.Segments[1].End)
}

func TestRenderOutput_SRT(t *testing.T) {
	segCP, cp := twoSegmentFixture()
	j := &model.TranscriptionJob{}

	got, err := renderOutput("srt", j, segCP, cp, "")
	require.NoError(t, err)

	want := "1\n00:00:00,000 --> 00:05:00,000\nfirst half\n\n" +
		"2\n00:05:00,000 --> 00:10:00,000\nsecond half\n\n"
	assert.Equal(t, want, string(got))
}

func TestRenderOutput_VTT(t *testing.T) {
	segCP, cp := twoSegmentFixture()
	j := &model.TranscriptionJob{}

	got, err := renderOutput("vtt", j, segCP, cp, "")
	require.NoError(t, err)

	want := "WEBVTT\n\n" +
		"00:00:00.000 --> 00:05:00.000\nfirst half\n\n" +
		"00:05:00.000 --> 00:10:00.000\nsecond half\n\n"
	assert.Equal(t, want, string(got))
}

func TestRenderOutput_UnknownFormat(t *testing.T) {
	segCP, cp := twoSegmentFixture()

	_, err := renderOutput("pdf", &model.TranscriptionJob{}, segCP, cp, "")

	require.Error(t, err)
	failure, ok := err.(*jobFailure)
	require.True(t, ok)
	assert.Equal(t, model.JobErrorValidation, failure.code)
}

func TestSegmentWindow_UnknownDuration(t *testing.T) {
	segCP := &model.SegmentingCheckpoint{SegmentPaths: []string{"a", "b"}, TotalDuration: 0}

	start, end := segmentWindow(segCP, 1)

	assert.Equal(t, 0.0, start)
	assert.Equal(t, 0.0, end, "unknown duration degrades to zero-length cues")
}
