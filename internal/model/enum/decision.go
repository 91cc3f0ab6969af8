package enum

// Decision approved, resized, rejected
type Decision uint8

const (
	_decision_beg Decision = iota
	DecisionApproved
	DecisionResized
	DecisionRejected
	_decision_end
)

func (d Decision) IsAvailable() bool {
	return d > _decision_beg && d < _decision_end
}

func (d Decision) String() string {
	switch d {
	case DecisionApproved:
		return "APPROVED"
	case DecisionResized:
		return "RESIZED"
	case DecisionRejected:
		return "REJECTED"
	default:
		return "UNKNOWN"
	}
}
