package engine

// Risk classifies a ticker by how close its streak is to the close-out deadline.
type Risk string

const (
	// RiskNone marks a ticker that is currently off the list.
	RiskNone Risk = "none"
	// RiskSafe covers streaks up to the warn threshold.
	RiskSafe Risk = "safe"
	// RiskWarning covers streaks between warn and danger thresholds.
	RiskWarning Risk = "warning"
	// RiskDanger covers streaks approaching the close-out deadline.
	RiskDanger Risk = "danger"
	// RiskBreach marks a streak past the close-out deadline. Close-out should
	// already have occurred; surfaced, never capped.
	RiskBreach Risk = "breach"
)

// Classify derives the risk band for a streak under the configured thresholds.
func (c Config) Classify(streak int) Risk {
	switch {
	case streak <= 0:
		return RiskNone
	case streak <= c.WarnAfter:
		return RiskSafe
	case streak <= c.DangerAfter:
		return RiskWarning
	case streak <= c.CloseoutDays:
		return RiskDanger
	default:
		return RiskBreach
	}
}

// AtLeast reports whether r is as severe as other.
func (r Risk) AtLeast(other Risk) bool {
	return riskRank[r] >= riskRank[other]
}

var riskRank = map[Risk]int{
	RiskNone:    0,
	RiskSafe:    1,
	RiskWarning: 2,
	RiskDanger:  3,
	RiskBreach:  4,
}
