package detection

import (
	"sort"

	"github.com/tphakala/rodentwatch/internal/conf"
)

// Skip reports a raw detection that was dropped during normalization,
// with the reason. Skips are informational, never fatal for the frame.
type Skip struct {
	ClassID int
	Score   float64
	Reason  string
}

const (
	SkipBelowThreshold = "below_confidence_threshold"
	SkipUnmappedClass  = "unmapped_class_id"
	SkipInvalidScore   = "invalid_score"
	SkipInvalidBox     = "invalid_box"
	SkipSuppressed     = "nms_suppressed"
)

// Normalize cleans the raw detections of one frame into an ordered list of
// canonical detections. A pure function of its input and configuration:
//
//   - raw detections with a score below the confidence threshold are dropped
//     (a score exactly at the threshold is retained)
//   - class ids without a species label are dropped and reported
//   - among detections of the same species, any pair with IoU above the NMS
//     threshold is collapsed to the higher-scoring box
//
// The result is sorted by descending confidence.
func Normalize(sourceID string, raw []RawDetection, cfg conf.DetectionSettings) ([]Detection, []Skip) {
	// candidate keeps the originating class id so suppressed boxes can be
	// reported against the right class.
	type candidate struct {
		Detection
		classID int
	}

	var skips []Skip
	candidates := make([]candidate, 0, len(raw))

	for i := range raw {
		rd := &raw[i]

		if rd.Score < 0 || rd.Score > 1 {
			skips = append(skips, Skip{ClassID: rd.ClassID, Score: rd.Score, Reason: SkipInvalidScore})
			continue
		}
		if rd.Box.W <= 0 || rd.Box.H <= 0 {
			skips = append(skips, Skip{ClassID: rd.ClassID, Score: rd.Score, Reason: SkipInvalidBox})
			continue
		}
		if rd.Score < cfg.ConfidenceThreshold {
			skips = append(skips, Skip{ClassID: rd.ClassID, Score: rd.Score, Reason: SkipBelowThreshold})
			continue
		}

		species, ok := SpeciesLabel(rd.ClassID)
		if !ok {
			skips = append(skips, Skip{ClassID: rd.ClassID, Score: rd.Score, Reason: SkipUnmappedClass})
			continue
		}

		candidates = append(candidates, candidate{
			Detection: Detection{
				Species:    species,
				Confidence: rd.Score,
				Box:        rd.Box,
				Timestamp:  rd.FrameTime,
				SourceID:   sourceID,
			},
			classID: rd.ClassID,
		})
	}

	// Sort by descending confidence so the greedy pass keeps the best box
	// of each overlapping cluster.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	kept := make([]Detection, 0, len(candidates))
	for i := range candidates {
		c := &candidates[i]
		suppressed := false
		for k := range kept {
			if kept[k].Species != c.Species {
				continue
			}
			if kept[k].Box.IoU(c.Box) > cfg.NMSThreshold {
				suppressed = true
				break
			}
		}
		if suppressed {
			skips = append(skips, Skip{ClassID: c.classID, Score: c.Confidence, Reason: SkipSuppressed})
			continue
		}
		kept = append(kept, c.Detection)
	}

	return kept, skips
}
