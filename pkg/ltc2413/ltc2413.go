// Package ltc2413 drives a Linear Technology LTC2413 delta-sigma ADC.
//
// The device converts continuously. A [Channel] polls for end of conversion by
// briefly pulling chip-select low and sampling SDO, reads the 32 bit result
// frame once one is pending, decodes it according to the configured
// resolution and polarity, and scales it to volts with the active
// [Calibration].
//
// The bus and the chip-select line are owned by the Channel. Backends for
// concrete hardware live in sibling packages.
package ltc2413

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

var (
	// ErrInvalidCalibration is returned for reference points that do not define a usable line.
	ErrInvalidCalibration = errors.New("invalid calibration")
	// ErrNotReady indicates polling gave up before the device finished a conversion.
	ErrNotReady = errors.New("conversion not ready")
	// ErrNilCollaborator is returned when the bus or a line is missing.
	ErrNilCollaborator = errors.New("nil transport or line")
	// ErrClosed indicates the channel is closed.
	ErrClosed = errors.New("closed")
)

// Channel is a single LTC2413 on a dedicated chip-select line.
//
// A Channel is either busy (converting) or ready (a result is pending and has
// not been read). Only [Channel.CheckReady] moves it to ready; reading or
// clearing the result moves it back to busy.
type Channel struct {
	mu sync.Mutex

	bus Transport
	cs  Line // chip select, active low
	sdo Line // serial data out, sampled for end of conversion

	settings Settings
	ready    bool
	closed   bool

	factors Factors
	vref    float64
	cal     atomic.Pointer[Calibration]

	log zerolog.Logger
}

// Option configures a Channel at construction.
type Option func(*Channel)

// WithSettings overrides the bus settings used for each transaction.
func WithSettings(s Settings) Option {
	return func(ch *Channel) {
		ch.settings = s
	}
}

// WithResolution sets the decode resolution, clamped to [8,29] bits.
func WithResolution(bits int) Option {
	return func(ch *Channel) {
		ch.factors = NewFactors(bits, ch.factors.Polarity)
	}
}

// WithPolarity sets the decode polarity.
func WithPolarity(p Polarity) Option {
	return func(ch *Channel) {
		ch.factors = NewFactors(ch.factors.Resolution, p)
	}
}

// WithReferenceVoltage sets the nominal reference voltage, clamped to [0,5]V.
func WithReferenceVoltage(v float64) Option {
	return func(ch *Channel) {
		ch.vref = clampReferenceVoltage(v)
	}
}

// WithLogger sets the logger. The default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(ch *Channel) {
		ch.log = log
	}
}

// NewChannel constructs a Channel on the given bus. cs is driven high (idle)
// before returning. sdo must read the device's SDO pin; on most wiring it is
// the bus MISO line.
func NewChannel(bus Transport, cs, sdo Line, opts ...Option) (*Channel, error) {
	if bus == nil || cs == nil || sdo == nil {
		return nil, ErrNilCollaborator
	}

	ch := &Channel{
		bus:      bus,
		cs:       cs,
		sdo:      sdo,
		settings: DefaultSettings(),
		factors:  NewFactors(DefaultResolution, Bipolar),
		vref:     DefaultReferenceVoltage,
		log:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(ch)
	}

	ch.cal.Store(NewNominalCalibration(ch.vref, ch.factors.Resolution))

	if err := ch.setCSHigh(); err != nil {
		return nil, fmt.Errorf("failed to deselect chip: %w", err)
	}

	ch.log.Debug().Stringer("factors", ch.factors).Float64("vref", ch.vref).Msg("ltc2413 channel initialized")

	return ch, nil
}

// CheckReady reports whether a conversion result is pending.
//
// While busy it pulls chip-select low, samples SDO and releases chip-select;
// SDO low means the conversion is complete. Once ready it returns true without
// touching the lines again, since toggling chip-select can start a new conversion.
func (ch *Channel) CheckReady() (bool, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return false, ErrClosed
	}
	if ch.ready {
		return true, nil
	}

	if err := ch.setCSLow(); err != nil {
		return false, errors.Join(err, ch.setCSHigh())
	}

	level, err := ch.sdo.Read()
	if err = errors.Join(err, ch.setCSHigh()); err != nil {
		ch.log.Warn().Err(err).Msg("end of conversion poll failed")
		return false, err
	}

	ch.ready = level == Low
	if ch.ready {
		ch.log.Debug().Msg("conversion ready")
	}

	return ch.ready, nil
}

// Ready returns the cached end of conversion state without any I/O.
func (ch *Channel) Ready() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.ready
}

// ClearConversion discards a pending result. The device starts a new
// conversion when chip-select rises after at least 5 clocks, so a single filler
// byte is shifted. It reports false, with no bus activity, when nothing was pending.
func (ch *Channel) ClearConversion() (bool, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return false, ErrClosed
	}
	if !ch.ready {
		return false, nil
	}

	err := ch.transaction(func() error {
		_, err := ch.bus.Transfer8(filler8)
		return err
	})
	ch.ready = false

	if err != nil {
		ch.log.Warn().Err(err).Msg("clearing conversion failed")
		return false, err
	}

	ch.log.Debug().Msg("conversion cleared")
	return true, nil
}

// ReadRaw reads the pending 32 bit frame and starts the next conversion.
// When no result is pending it returns false and does not touch the bus.
func (ch *Channel) ReadRaw() (uint32, bool, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.readDevice()
}

// Conversion reads the pending result and decodes it with the current
// resolution and polarity. It returns 0 when no result is pending.
func (ch *Channel) Conversion() (int32, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	raw, ok, err := ch.readDevice()
	if err != nil || !ok {
		return 0, err
	}
	return ch.factors.Decode(raw), nil
}

// Sample is one decoded conversion.
type Sample struct {
	Raw   uint32
	Code  int32
	Volts float64
}

func (s Sample) String() string {
	return fmt.Sprintf("Sample{Raw:0x%08X, Code:%d, Volts:%.9f}", s.Raw, s.Code, s.Volts)
}

// Read consumes the pending result and converts it to volts with the active
// calibration. The bool is false when no result was pending.
func (ch *Channel) Read() (Sample, bool, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	raw, ok, err := ch.readDevice()
	if err != nil || !ok {
		return Sample{}, false, err
	}

	code := ch.factors.Decode(raw)
	return Sample{
		Raw:   raw,
		Code:  code,
		Volts: ch.cal.Load().ToVoltage(code),
	}, true, nil
}

// readDevice shifts out the whole frame, high half-word first, in one
// chip-select window. The frame counts as consumed even when the transfer fails.
func (ch *Channel) readDevice() (uint32, bool, error) {
	if ch.closed {
		return 0, false, ErrClosed
	}
	if !ch.ready {
		return 0, false, nil
	}

	var hi, lo uint16
	err := ch.transaction(func() (err error) {
		if hi, err = ch.bus.Transfer16(filler16); err != nil {
			return err
		}
		lo, err = ch.bus.Transfer16(filler16)
		return err
	})
	ch.ready = false

	if err != nil {
		ch.log.Warn().Err(err).Msg("reading conversion failed")
		return 0, false, err
	}

	raw := Frame(hi, lo)
	ch.log.Trace().Uint32("raw", raw).Msg("conversion read")
	return raw, true, nil
}

// transaction runs fn with the bus claimed and chip-select low, releasing both
// whatever fn returns.
func (ch *Channel) transaction(fn func() error) error {
	if err := ch.bus.BeginTransaction(ch.settings); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := ch.setCSLow(); err != nil {
		return errors.Join(err, ch.setCSHigh(), ch.bus.EndTransaction())
	}
	err := fn()
	return errors.Join(err, ch.setCSHigh(), ch.bus.EndTransaction())
}

// SetResolution changes the decode resolution for subsequent reads and returns
// the effective, clamped value.
func (ch *Channel) SetResolution(bits int) int {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.factors = NewFactors(bits, ch.factors.Polarity)
	ch.refreshNominal()
	return ch.factors.Resolution
}

// SetPolarity changes the decode polarity for subsequent reads.
func (ch *Channel) SetPolarity(p Polarity) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.factors = NewFactors(ch.factors.Resolution, p)
}

// Factors returns the decode parameters currently in effect.
func (ch *Channel) Factors() Factors {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.factors
}

// SetReferenceVoltage changes the nominal reference voltage and returns the
// effective, clamped value. A field calibration, if any, stays active.
func (ch *Channel) SetReferenceVoltage(v float64) float64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.vref = clampReferenceVoltage(v)
	ch.refreshNominal()
	return ch.vref
}

// ReferenceVoltage returns the nominal reference voltage.
func (ch *Channel) ReferenceVoltage() float64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.vref
}

// refreshNominal must be called with mu held.
func (ch *Channel) refreshNominal() {
	if cur := ch.cal.Load(); cur == nil || cur.Nominal {
		ch.cal.Store(NewNominalCalibration(ch.vref, ch.factors.Resolution))
	}
}

// Calibrate fits a new calibration through two reference points and makes it
// active. On error the previous calibration is kept.
func (ch *Channel) Calibrate(low, high ReferencePoint) error {
	cal, err := NewCalibration(low, high)
	if err != nil {
		return err
	}
	ch.SetCalibration(cal)
	return nil
}

// SetCalibration replaces the active calibration. nil restores the nominal one.
func (ch *Channel) SetCalibration(cal *Calibration) {
	// held across the store so a concurrent refreshNominal cannot replace cal
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if cal == nil {
		cal = NewNominalCalibration(ch.vref, ch.factors.Resolution)
	}
	ch.cal.Store(cal)
	ch.log.Debug().Stringer("calibration", cal).Msg("calibration replaced")
}

// Calibration returns the active calibration.
func (ch *Channel) Calibration() *Calibration {
	return ch.cal.Load()
}

// Voltage converts a code to volts with the active calibration.
func (ch *Channel) Voltage(code int32) float64 {
	return ch.cal.Load().ToVoltage(code)
}

// Code converts volts to a code with the active calibration.
func (ch *Channel) Code(volts float64) int32 {
	return ch.cal.Load().ToCode(volts)
}

// Close deselects the chip and closes the transport if it is an [io.Closer].
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return ErrClosed
	}
	ch.closed = true
	ch.ready = false

	err := ch.setCSHigh()
	if c, ok := ch.bus.(io.Closer); ok {
		err = errors.Join(err, c.Close())
	}
	return err
}
