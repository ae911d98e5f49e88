package notify

import (
	"fmt"
	"strings"
)

// SpeciesDisplayName converts a canonical species label to a human-readable
// form, e.g. "norway_rat" becomes "Norway Rat".
func SpeciesDisplayName(species string) string {
	words := strings.Split(species, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// Title renders the short alert headline.
func Title(alert *Alert) string {
	return fmt.Sprintf("Rodent detected: %s", SpeciesDisplayName(alert.Species))
}

// Body renders the full alert message.
func Body(alert *Alert) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s detected with %.0f%% confidence\n", SpeciesDisplayName(alert.Species), alert.Confidence*100)
	fmt.Fprintf(&b, "Source: %s\n", alert.SourceID)
	fmt.Fprintf(&b, "Time: %s", alert.Timestamp.Format("2006-01-02T15:04:05-07:00"))
	if alert.EvidencePath != "" {
		fmt.Fprintf(&b, "\nEvidence: %s", alert.EvidencePath)
	}
	return b.String()
}
