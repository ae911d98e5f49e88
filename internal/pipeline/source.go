package pipeline

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"time"

	"github.com/tphakala/rodentwatch/internal/detection"
	"github.com/tphakala/rodentwatch/internal/logging"
)

// frameLine is the wire format for one frame: a single NDJSON line produced
// by the external classifier process.
type frameLine struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Time       time.Time `json:"time"`
	Detections []struct {
		ClassID int     `json:"class_id"`
		Score   float64 `json:"score"`
		Box     struct {
			X float64 `json:"x"`
			Y float64 `json:"y"`
			W float64 `json:"w"`
			H float64 `json:"h"`
		} `json:"box"`
	} `json:"detections"`
	Evidence string `json:"evidence,omitempty"` // base64 encoded image
}

// ReaderSource reads NDJSON frames from an io.Reader, one frame per line.
// Malformed lines are logged and skipped, never fatal.
type ReaderSource struct {
	name   string
	reader io.Reader
}

// NewReaderSource wraps a reader, typically os.Stdin, as a FrameSource.
func NewReaderSource(name string, r io.Reader) *ReaderSource {
	return &ReaderSource{name: name, reader: r}
}

func (s *ReaderSource) Name() string { return s.name }

// maxLineSize bounds one NDJSON line; evidence images dominate the size.
const maxLineSize = 16 * 1024 * 1024

func (s *ReaderSource) Frames(ctx context.Context) (<-chan Frame, error) {
	out := make(chan Frame)

	go func() {
		defer close(out)

		scanner := bufio.NewScanner(s.reader)
		scanner.Buffer(make([]byte, 64*1024), maxLineSize)

		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}

			frame, err := parseFrameLine(line, s.name)
			if err != nil {
				logging.Warn("skipping malformed frame line",
					"source", s.name, "error", err)
				continue
			}

			select {
			case out <- frame:
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil && ctx.Err() == nil {
			logging.Error("frame source read failed", "source", s.name, "error", err)
		}
	}()

	return out, nil
}

func parseFrameLine(line []byte, fallbackSource string) (Frame, error) {
	var fl frameLine
	if err := json.Unmarshal(line, &fl); err != nil {
		return Frame{}, err
	}

	sourceID := fl.Source
	if sourceID == "" {
		sourceID = fallbackSource
	}
	frameTime := fl.Time
	if frameTime.IsZero() {
		frameTime = time.Now()
	}

	frame := Frame{
		ID:        fl.ID,
		SourceID:  sourceID,
		Timestamp: frameTime,
		Raw:       make([]detection.RawDetection, 0, len(fl.Detections)),
	}

	for _, d := range fl.Detections {
		frame.Raw = append(frame.Raw, detection.RawDetection{
			ClassID: d.ClassID,
			Score:   d.Score,
			Box: detection.Box{
				X: d.Box.X,
				Y: d.Box.Y,
				W: d.Box.W,
				H: d.Box.H,
			},
			FrameID:   fl.ID,
			FrameTime: frameTime,
		})
	}

	if fl.Evidence != "" {
		data, err := base64.StdEncoding.DecodeString(fl.Evidence)
		if err != nil {
			return Frame{}, err
		}
		frame.Evidence = data
	}

	return frame, nil
}
