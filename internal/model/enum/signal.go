package enum

// SignalAction entry, exit, scale in, scale out
type SignalAction uint8

const (
	_signal_action_beg SignalAction = iota
	SignalActionEntry
	SignalActionExit
	SignalActionScaleIn
	SignalActionScaleOut
	_signal_action_end
)

func (a SignalAction) IsAvailable() bool {
	return a > _signal_action_beg && a < _signal_action_end
}

// IsEntry reports whether the action opens or adds to a position.
func (a SignalAction) IsEntry() bool {
	return a == SignalActionEntry || a == SignalActionScaleIn
}

// IsExit reports whether the action reduces or closes a position.
func (a SignalAction) IsExit() bool {
	return a == SignalActionExit || a == SignalActionScaleOut
}

func (a SignalAction) String() string {
	switch a {
	case SignalActionEntry:
		return "ENTRY"
	case SignalActionExit:
		return "EXIT"
	case SignalActionScaleIn:
		return "SCALE_IN"
	case SignalActionScaleOut:
		return "SCALE_OUT"
	default:
		return "UNKNOWN"
	}
}

func ParseSignalAction(s string) (SignalAction, bool) {
	switch s {
	case "ENTRY":
		return SignalActionEntry, true
	case "EXIT":
		return SignalActionExit, true
	case "SCALE_IN":
		return SignalActionScaleIn, true
	case "SCALE_OUT":
		return SignalActionScaleOut, true
	default:
		return _signal_action_beg, false
	}
}
