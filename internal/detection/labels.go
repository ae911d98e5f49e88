package detection

// speciesLabels maps classifier class ids to canonical species labels.
// Ids without an entry are dropped during normalization and reported
// to the caller as skipped.
var speciesLabels = map[int]string{
	0: "norway_rat",
	1: "roof_rat",
	2: "mouse",
}

// SpeciesLabel returns the canonical label for a class id.
func SpeciesLabel(classID int) (string, bool) {
	label, ok := speciesLabels[classID]
	return label, ok
}

// KnownSpecies returns all canonical species labels, mainly for stats output.
func KnownSpecies() []string {
	labels := make([]string, 0, len(speciesLabels))
	for _, label := range speciesLabels {
		labels = append(labels, label)
	}
	return labels
}
