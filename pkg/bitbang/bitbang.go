// Package bitbang provides a bit bashed SPI transport for the LTC2413 built
// from Linux GPIO character device lines.
//
// It is not related to the SPI device drivers provided by Linux. The MISO line
// doubles as the SDO sense line the ltc2413 channel polls for end of conversion.
package bitbang

import (
	"errors"
	"fmt"
	"time"

	"github.com/warthog618/gpiod"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

var _ ltc2413.Transport = (*SPI)(nil)
var _ ltc2413.Line = (*Line)(nil)

// ErrClosed indicates the SPI is closed.
var ErrClosed = errors.New("closed")

var errNoTransaction = errors.New("transfer outside of a transaction")

// line is the subset of *gpiod.Line used here.
type line interface {
	SetValue(int) error
	Value() (int, error)
	Close() error
}

// SPI is a device connected to four GPIO lines.
type SPI struct {
	// time between clock edges (i.e. half the cycle time)
	Tclk time.Duration
	Sclk line
	Ssz  line
	Mosi line
	Miso line

	cpol  int
	cpha  int
	order ltc2413.BitOrder
	fixed bool // Tclk set by option, ignore ClockHz
	inTxn bool
}

// New requests the lines from chip c. ssz is held high until needed.
func New(c *gpiod.Chip, sclk, ssz, mosi, miso int, options ...Option) (*SPI, error) {
	s := SPI{}
	for _, option := range options {
		option(&s)
	}
	if s.Tclk == 0 {
		s.Tclk = halfCycle(ltc2413.DefaultClockHz)
	}

	var err error
	var l *gpiod.Line
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	if l, err = c.RequestLine(ssz, gpiod.AsOutput(1)); err != nil {
		return nil, fmt.Errorf("failed to request ssz line %d: %w", ssz, err)
	}
	s.Ssz = l
	if l, err = c.RequestLine(sclk, gpiod.AsOutput(s.cpol)); err != nil {
		return nil, fmt.Errorf("failed to request sclk line %d: %w", sclk, err)
	}
	s.Sclk = l
	if l, err = c.RequestLine(miso, gpiod.AsInput); err != nil {
		return nil, fmt.Errorf("failed to request miso line %d: %w", miso, err)
	}
	s.Miso = l
	if miso == mosi {
		err = errors.New("mosi and miso must be separate lines")
		return nil, err
	}
	if l, err = c.RequestLine(mosi, gpiod.AsOutput(1)); err != nil {
		return nil, fmt.Errorf("failed to request mosi line %d: %w", mosi, err)
	}
	s.Mosi = l

	return &s, nil
}

// Open opens the named chip (e.g. "gpiochip0") and requests the lines.
// The chip is only needed while requesting and is closed before returning.
func Open(chip string, sclk, ssz, mosi, miso int, options ...Option) (*SPI, error) {
	c, err := gpiod.NewChip(chip, gpiod.WithConsumer("ltc2413"))
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", chip, err)
	}
	s, err := New(c, sclk, ssz, mosi, miso, options...)
	return s, errors.Join(err, c.Close())
}

// Close releases allocated resources.
func (s *SPI) Close() error {
	var err error
	for _, l := range []*line{&s.Sclk, &s.Miso, &s.Mosi, &s.Ssz} {
		if *l != nil {
			err = errors.Join(err, (*l).Close())
			*l = nil
		}
	}
	return err
}

// CS returns the chip-select line.
func (s *SPI) CS() *Line {
	return &Line{l: s.Ssz}
}

// SDO returns the MISO line for end of conversion sensing.
func (s *SPI) SDO() *Line {
	return &Line{l: s.Miso}
}

func halfCycle(hz uint32) time.Duration {
	if hz == 0 {
		hz = ltc2413.DefaultClockHz
	}
	return time.Second / time.Duration(2*uint64(hz))
}

// BeginTransaction applies the mode, bit order and, unless fixed by WithTclk, the clock rate.
func (s *SPI) BeginTransaction(st ltc2413.Settings) error {
	if s.Sclk == nil {
		return ErrClosed
	}
	if s.inTxn {
		return errors.New("transaction already in progress")
	}
	if st.Mode > 3 {
		return fmt.Errorf("invalid SPI mode %d", st.Mode)
	}
	s.cpol = int(st.Mode>>1) & 1
	s.cpha = int(st.Mode) & 1
	s.order = st.BitOrder
	if !s.fixed {
		s.Tclk = halfCycle(st.ClockHz)
	}
	if err := s.Sclk.SetValue(s.cpol); err != nil {
		return err
	}
	s.inTxn = true
	return nil
}

// EndTransaction returns the clock to idle and marks the bus free.
func (s *SPI) EndTransaction() error {
	if !s.inTxn {
		return errNoTransaction
	}
	s.inTxn = false
	return s.Sclk.SetValue(s.cpol)
}

// Transfer16 shifts a half-word out on Mosi while shifting one in from Miso.
func (s *SPI) Transfer16(w uint16) (uint16, error) {
	v, err := s.transfer(uint32(w), 16)
	return uint16(v), err
}

// Transfer8 shifts a byte out on Mosi while shifting one in from Miso.
func (s *SPI) Transfer8(b byte) (byte, error) {
	v, err := s.transfer(uint32(b), 8)
	return byte(v), err
}

func (s *SPI) transfer(w uint32, n int) (uint32, error) {
	if !s.inTxn {
		return 0, errNoTransaction
	}
	var r uint32
	for i := 0; i < n; i++ {
		pos := n - 1 - i
		if s.order == ltc2413.LSBFirst {
			pos = i
		}
		v, err := s.clockBit(int(w>>uint(pos)) & 1)
		if err != nil {
			return 0, err
		}
		r |= uint32(v&1) << uint(pos)
	}
	return r, nil
}

// clockBit clocks one bit out on Mosi and one in on Miso. It starts and ends
// with the clock idle.
func (s *SPI) clockBit(out int) (int, error) {
	idle, active := s.cpol, s.cpol^1

	if s.cpha == 0 {
		if err := s.Mosi.SetValue(out); err != nil {
			return 0, err
		}
		time.Sleep(s.Tclk)
		if err := s.Sclk.SetValue(active); err != nil {
			return 0, err
		}
		v, err := s.Miso.Value()
		if err != nil {
			return 0, err
		}
		time.Sleep(s.Tclk)
		return v, s.Sclk.SetValue(idle)
	}

	if err := s.Sclk.SetValue(active); err != nil {
		return 0, err
	}
	if err := s.Mosi.SetValue(out); err != nil {
		return 0, err
	}
	time.Sleep(s.Tclk)
	if err := s.Sclk.SetValue(idle); err != nil {
		return 0, err
	}
	v, err := s.Miso.Value()
	if err != nil {
		return 0, err
	}
	time.Sleep(s.Tclk)
	return v, nil
}

// Line adapts a requested GPIO line to [ltc2413.Line].
type Line struct {
	l line
}

// Write sets the line value.
func (l *Line) Write(v ltc2413.Level) error {
	if l.l == nil {
		return ErrClosed
	}
	if v == ltc2413.High {
		return l.l.SetValue(1)
	}
	return l.l.SetValue(0)
}

// Read returns the line value.
func (l *Line) Read() (ltc2413.Level, error) {
	if l.l == nil {
		return ltc2413.High, ErrClosed
	}
	v, err := l.l.Value()
	if err != nil {
		return ltc2413.High, err
	}
	return ltc2413.Level(v != 0), nil
}

// Option specifies a construction option for the SPI.
type Option func(*SPI)

// WithTclk fixes the clock half-cycle period, overriding the rate requested
// by each transaction.
func WithTclk(tclk time.Duration) Option {
	return func(s *SPI) {
		s.Tclk = tclk
		s.fixed = true
	}
}

// WithMode sets the initial SPI mode, which determines the clock idle level
// before the first transaction.
func WithMode(mode uint8) Option {
	return func(s *SPI) {
		s.cpol = int(mode>>1) & 1
		s.cpha = int(mode) & 1
	}
}
