package ltc2413

// Constants from the datasheet

// Output frame, 32 bits MSB first, shifted out as two 16 bit words:
//
//	bit31 EoC | bit30 DMY | bit29 SIG | bit28..0 data
const (
	// FrameBitEOC is the end of conversion bit (active low).
	FrameBitEOC = 1 << 31
	// FrameBitDMY is the dummy bit, always 0.
	FrameBitDMY = 1 << 30
	// FrameBitSIG is the sign bit, 1 = positive.
	FrameBitSIG = 1 << 29

	// DataBits is the number of data bits following the three status bits.
	DataBits = 29
)

// Resolution bounds.
const (
	MinResolution     = 8
	MaxResolution     = DataBits
	DefaultResolution = 24
)

// Reference voltage bounds, in volts.
const (
	MinReferenceVoltage     = 0.0
	MaxReferenceVoltage     = 5.0
	DefaultReferenceVoltage = 5.0
)

// DefaultClockHz is the SCK frequency used unless overridden.
const DefaultClockHz = 1000000

// Filler words clocked out while reading. The LTC2413 has no data input so the
// content is irrelevant, but keeping SDI high matches the datasheet timing diagrams.
const (
	filler8  = 0xFF
	filler16 = 0xFFFF
)
