// Package detection turns raw per-frame classifier output into canonical
// detection records: confidence filtering, species label mapping and
// class-aware non-max suppression.
package detection

import "time"

// Box is a normalized bounding box. Coordinates and dimensions are fractions
// of the frame size in [0, 1].
type Box struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"w"`
	H float64 `json:"h"`
}

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// IoU returns the intersection-over-union of two boxes.
func (b Box) IoU(o Box) float64 {
	x1 := max(b.X, o.X)
	y1 := max(b.Y, o.Y)
	x2 := min(b.X+b.W, o.X+o.W)
	y2 := min(b.Y+b.H, o.Y+o.H)

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	inter := (x2 - x1) * (y2 - y1)
	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// RawDetection is one candidate box as produced by the classifier for a
// single frame. Not owned by this core; the frame source yields these.
type RawDetection struct {
	ClassID   int
	Score     float64
	Box       Box
	FrameID   string
	FrameTime time.Time
}

// Detection is a normalized sighting of one object class. Immutable once
// created by Normalize.
type Detection struct {
	Species    string
	Confidence float64
	Box        Box
	Timestamp  time.Time
	SourceID   string
}
