package enum

// InstrumentType equity, future, option, forex
type InstrumentType uint8

const (
	_instrument_type_beg InstrumentType = iota
	InstrumentTypeEquity
	InstrumentTypeFuture
	InstrumentTypeOption
	InstrumentTypeForex
	_instrument_type_end
)

func (t InstrumentType) IsAvailable() bool {
	return t > _instrument_type_beg && t < _instrument_type_end
}

func (t InstrumentType) String() string {
	switch t {
	case InstrumentTypeEquity:
		return "EQUITY"
	case InstrumentTypeFuture:
		return "FUTURE"
	case InstrumentTypeOption:
		return "OPTION"
	case InstrumentTypeForex:
		return "FOREX"
	default:
		return "UNKNOWN"
	}
}

func ParseInstrumentType(s string) (InstrumentType, bool) {
	switch s {
	case "EQUITY":
		return InstrumentTypeEquity, true
	case "FUTURE":
		return InstrumentTypeFuture, true
	case "OPTION":
		return InstrumentTypeOption, true
	case "FOREX":
		return InstrumentTypeForex, true
	default:
		return _instrument_type_beg, false
	}
}
