package enum

// PositionStatus open, closed, unreconciled
type PositionStatus uint8

const (
	_position_status_beg PositionStatus = iota
	PositionStatusOpen
	PositionStatusClosed

	// PositionStatusUnreconciled marks a processing record whose order
	// reached the settle deadline without a venue-confirmed fill quantity.
	// Ledger positions never carry it.
	PositionStatusUnreconciled

	_position_status_end
)

func (s PositionStatus) IsAvailable() bool {
	return s > _position_status_beg && s < _position_status_end
}

func ParsePositionStatus(s string) (PositionStatus, bool) {
	switch s {
	case "OPEN":
		return PositionStatusOpen, true
	case "CLOSED":
		return PositionStatusClosed, true
	case "UNRECONCILED":
		return PositionStatusUnreconciled, true
	default:
		return _position_status_beg, false
	}
}

func (s PositionStatus) String() string {
	switch s {
	case PositionStatusOpen:
		return "OPEN"
	case PositionStatusClosed:
		return "CLOSED"
	case PositionStatusUnreconciled:
		return "UNRECONCILED"
	default:
		return "UNKNOWN"
	}
}
