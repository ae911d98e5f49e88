package pipeline

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectFrames(t *testing.T, src FrameSource) []Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frames, err := src.Frames(ctx)
	require.NoError(t, err)

	var out []Frame
	for f := range frames {
		out = append(out, f)
	}
	return out
}

func TestReaderSourceParsesFrames(t *testing.T) {
	input := `{"id":"f1","source":"cam1","time":"2025-06-01T12:00:00Z","detections":[{"class_id":0,"score":0.9,"box":{"x":0.1,"y":0.2,"w":0.3,"h":0.4}}]}
{"id":"f2","source":"cam1","time":"2025-06-01T12:00:01Z","detections":[]}
`
	src := NewReaderSource("stdin", strings.NewReader(input))
	frames := collectFrames(t, src)

	require.Len(t, frames, 2)
	assert.Equal(t, "f1", frames[0].ID)
	assert.Equal(t, "cam1", frames[0].SourceID)
	require.Len(t, frames[0].Raw, 1)
	assert.Equal(t, 0, frames[0].Raw[0].ClassID)
	assert.InDelta(t, 0.9, frames[0].Raw[0].Score, 1e-9)
	assert.InDelta(t, 0.3, frames[0].Raw[0].Box.W, 1e-9)
	assert.Empty(t, frames[1].Raw)
}

func TestReaderSourceSkipsMalformedLines(t *testing.T) {
	input := `not json at all
{"id":"f1","source":"cam1","time":"2025-06-01T12:00:00Z","detections":[]}
`
	src := NewReaderSource("stdin", strings.NewReader(input))
	frames := collectFrames(t, src)

	require.Len(t, frames, 1)
	assert.Equal(t, "f1", frames[0].ID)
}

func TestReaderSourceDecodesEvidence(t *testing.T) {
	evidence := base64.StdEncoding.EncodeToString([]byte("jpeg bytes"))
	input := `{"id":"f1","source":"cam1","detections":[],"evidence":"` + evidence + `"}` + "\n"

	src := NewReaderSource("stdin", strings.NewReader(input))
	frames := collectFrames(t, src)

	require.Len(t, frames, 1)
	assert.Equal(t, []byte("jpeg bytes"), frames[0].Evidence)
}

func TestReaderSourceFallbacks(t *testing.T) {
	input := `{"id":"f1","detections":[]}` + "\n"
	src := NewReaderSource("gate-cam", strings.NewReader(input))
	frames := collectFrames(t, src)

	require.Len(t, frames, 1)
	assert.Equal(t, "gate-cam", frames[0].SourceID)
	assert.False(t, frames[0].Timestamp.IsZero())
}
