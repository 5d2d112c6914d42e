package ltc2413

import (
	"fmt"
	"math"
)

// Polarity selects how the decoded magnitude is centered.
type Polarity uint8

const (
	Unipolar Polarity = iota + 1
	Bipolar
)

func (p Polarity) String() string {
	switch p {
	case Unipolar:
		return "unipolar"
	case Bipolar:
		return "bipolar"
	default:
		return "(invalid polarity)"
	}
}

// ParsePolarity accepts "unipolar" or "bipolar".
func ParsePolarity(s string) (Polarity, error) {
	switch s {
	case "unipolar", "uni", "u":
		return Unipolar, nil
	case "bipolar", "bi", "b":
		return Bipolar, nil
	default:
		return 0, fmt.Errorf("invalid polarity %q", s)
	}
}

// Factors are the decode parameters derived from a resolution and polarity.
type Factors struct {
	Resolution int
	BitShift   int
	MaxCode    int32
	MinCode    int32
	Polarity   Polarity
}

// NewFactors clamps resolution into [MinResolution, MaxResolution] and derives
// the shift and code range from it. An unknown polarity is treated as Bipolar.
func NewFactors(resolution int, polarity Polarity) Factors {
	resolution = clampResolution(resolution)
	if polarity != Unipolar && polarity != Bipolar {
		polarity = Bipolar
	}
	maxCode := int32(1) << (resolution - 1)
	return Factors{
		Resolution: resolution,
		BitShift:   DataBits - resolution,
		MaxCode:    maxCode,
		MinCode:    -maxCode,
		Polarity:   polarity,
	}
}

// Span is the number of codes between MinCode and MaxCode.
func (f Factors) Span() int64 {
	return int64(f.MaxCode) - int64(f.MinCode)
}

// Decode turns a raw frame into a signed conversion code. The status bits are
// not inspected, they are removed by the shift and centering.
//
// At 29 bits nothing is shifted out, so a corrupt frame with EoC set (e.g. a
// floating SDO reading all ones) lands above the int32 range. Such results
// saturate at math.MaxInt32 instead of wrapping negative.
func (f Factors) Decode(raw uint32) int32 {
	v := int64(raw >> uint(f.BitShift))
	switch f.Polarity {
	case Unipolar:
		v -= int64(f.MaxCode)
	default:
		v -= f.Span()
	}
	switch {
	case v > math.MaxInt32:
		return math.MaxInt32
	case v < math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}

func (f Factors) String() string {
	return fmt.Sprintf("Factors{Resolution:%d, BitShift:%d, MaxCode:%d, MinCode:%d, Polarity:%s}",
		f.Resolution, f.BitShift, f.MaxCode, f.MinCode, f.Polarity)
}

// Frame assembles the 32 bit output word from the two half-words as they came
// off the wire, high half first.
func Frame(hi, lo uint16) uint32 {
	return uint32(hi)<<16 | uint32(lo)
}

func clampResolution(r int) int {
	switch {
	case r < MinResolution:
		return MinResolution
	case r > MaxResolution:
		return MaxResolution
	default:
		return r
	}
}

func clampReferenceVoltage(v float64) float64 {
	switch {
	case v != v, v < MinReferenceVoltage: // NaN compares false
		return MinReferenceVoltage
	case v > MaxReferenceVoltage:
		return MaxReferenceVoltage
	default:
		return v
	}
}
