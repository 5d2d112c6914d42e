package ltc2413

import (
	"fmt"
	"math"
)

// ReferencePoint pairs a known input voltage with the code the device reported for it.
type ReferencePoint struct {
	Volts float64
	Code  int32
}

func (rp ReferencePoint) String() string {
	return fmt.Sprintf("%gV@%d", rp.Volts, rp.Code)
}

// Calibration is a linear code <-> voltage transform. It is never modified
// after construction; recalibrating means building a new one and swapping it in.
type Calibration struct {
	StepSize   float64 // volts per code
	ZeroOffset int32   // in codes, applied before scaling

	// Low and High are the points the calibration was fitted through.
	// Both are zero for a nominal calibration.
	Low, High ReferencePoint

	// Nominal is set when the calibration was derived from the reference
	// voltage rather than measured.
	Nominal bool
}

// NewCalibration fits a line through two reference points.
//
// The offset is rounded to a whole code. Equal codes or equal voltages do not
// define a usable line and yield ErrInvalidCalibration.
func NewCalibration(low, high ReferencePoint) (*Calibration, error) {
	if high.Code == low.Code {
		return nil, fmt.Errorf("%w: reference codes are equal (%d)", ErrInvalidCalibration, low.Code)
	}
	if !finite(low.Volts) || !finite(high.Volts) {
		return nil, fmt.Errorf("%w: non-finite reference voltage", ErrInvalidCalibration)
	}

	step := (high.Volts - low.Volts) / (float64(high.Code) - float64(low.Code))
	if step == 0 || !finite(step) {
		return nil, fmt.Errorf("%w: step size %g from %s and %s", ErrInvalidCalibration, step, low, high)
	}

	offset := math.Round(low.Volts/step - float64(low.Code))
	if offset > math.MaxInt32 || offset < math.MinInt32 {
		return nil, fmt.Errorf("%w: zero offset %g out of range", ErrInvalidCalibration, offset)
	}

	return &Calibration{
		StepSize:   step,
		ZeroOffset: int32(offset),
		Low:        low,
		High:       high,
	}, nil
}

// NewNominalCalibration is the factory default: the reference voltage (clamped
// to [0,5]V) spans -Vref/2..+Vref/2 across the full code range of the
// resolution, with no offset.
func NewNominalCalibration(vref float64, resolution int) *Calibration {
	f := NewFactors(resolution, Bipolar)
	vrefP := clampReferenceVoltage(vref) / 2
	vrefN := -vrefP

	step := (vrefP - vrefN) / float64(f.Span())
	if step == 0 {
		// 0V reference; keep the transform invertible.
		step = 1 / float64(f.Span())
	}

	return &Calibration{
		StepSize: step,
		Nominal:  true,
	}
}

// ToVoltage converts a conversion code to volts.
func (c *Calibration) ToVoltage(code int32) float64 {
	return (float64(code) + float64(c.ZeroOffset)) * c.StepSize
}

// ToCode converts volts to the nearest conversion code. It is the exact
// inverse of ToVoltage for every code, saturating at the int32 range.
func (c *Calibration) ToCode(volts float64) int32 {
	v := math.Round(volts/c.StepSize) - float64(c.ZeroOffset)
	switch {
	case v != v:
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	default:
		return int32(v)
	}
}

func (c *Calibration) String() string {
	if c.Nominal {
		return fmt.Sprintf("Calibration{StepSize:%g, ZeroOffset:%d, Nominal}", c.StepSize, c.ZeroOffset)
	}
	return fmt.Sprintf("Calibration{StepSize:%g, ZeroOffset:%d, Low:%s, High:%s}",
		c.StepSize, c.ZeroOffset, c.Low, c.High)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
