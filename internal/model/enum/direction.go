package enum

// Direction long, short
type Direction uint8

const (
	_direction_beg Direction = iota
	DirectionLong
	DirectionShort
	_direction_end
)

func (d Direction) IsAvailable() bool {
	return d > _direction_beg && d < _direction_end
}

func (d Direction) String() string {
	switch d {
	case DirectionLong:
		return "LONG"
	case DirectionShort:
		return "SHORT"
	default:
		return "UNKNOWN"
	}
}

// ParseDirection parses LONG/SHORT, case sensitive.
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "LONG":
		return DirectionLong, true
	case "SHORT":
		return DirectionShort, true
	default:
		return _direction_beg, false
	}
}
