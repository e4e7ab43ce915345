package susc

// Resistance levels.
const (
	LevelSusceptible         = "susceptible"
	LevelLtResistant         = "lt-resistant"
	LevelGtPartialResistance = "gt-partial-resistance"
	LevelPartialResistance   = "partial-resistance"
	LevelResistant           = "resistant"
	LevelUndetermined        = "undetermined"
)

// Fold-change boundaries.
const (
	PartialResistFold = 3.0
	ResistFold        = 10.0
)

// ResistanceLevel derives the categorical level of one result. A curator
// supplied fallback always wins.
func ResistanceLevel(fallback, ineffective, foldCmp string, fold *float64, cumulativeCount int) string {
	if fallback != "" {
		return fallback
	}
	if ineffective == "both" || ineffective == "control" {
		return LevelUndetermined
	}
	switch foldCmp {
	case "<":
		switch {
		case fold != nil && *fold <= PartialResistFold:
			return LevelSusceptible
		case fold != nil && *fold <= ResistFold:
			return LevelLtResistant
		}
		return LevelUndetermined
	case ">":
		switch {
		case fold != nil && *fold >= ResistFold:
			return LevelResistant
		case fold != nil && *fold >= PartialResistFold:
			return LevelGtPartialResistance
		}
		return LevelUndetermined
	}
	if cumulativeCount == 1 {
		switch {
		case fold != nil && *fold < PartialResistFold:
			return LevelSusceptible
		case fold != nil && *fold < ResistFold:
			return LevelPartialResistance
		}
		return LevelResistant
	}
	return LevelUndetermined
}
