package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUploadSession_HasAllChunks(t *testing.T) {
	tests := []struct {
		name        string
		chunks      []int32
		totalChunks int
		want        bool
	}{
		{name: "all chunks present", chunks: []int32{0, 1, 2, 3}, totalChunks: 4, want: true},
		{name: "one chunk missing", chunks: []int32{0, 1, 2}, totalChunks: 4, want: false},
		{name: "no chunks yet", chunks: []int32{}, totalChunks: 4, want: false},
		{name: "out of order arrival still counts", chunks: []int32{3, 0, 2, 1}, totalChunks: 4, want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &UploadSession{ChunksUploaded: tt.chunks}
			assert.Equal(t, tt.want, s.HasAllChunks(tt.totalChunks))
		})
	}
}

func TestUploadSession_TotalChunks(t *testing.T) {
	tests := []struct {
		name      string
		totalSize int64
		chunkSize int64
		want      int
	}{
		{name: "exact multiple", totalSize: 100, chunkSize: 10, want: 10},
		{name: "remainder rounds up", totalSize: 105, chunkSize: 10, want: 11},
		{name: "single partial chunk", totalSize: 3, chunkSize: 10, want: 1},
		{name: "unknown total size", totalSize: 0, chunkSize: 10, want: 0},
		{name: "unknown chunk size", totalSize: 100, chunkSize: 0, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &UploadSession{TotalSize: tt.totalSize, ChunkSize: tt.chunkSize}
			assert.Equal(t, tt.want, s.TotalChunks())
		})
	}
}
