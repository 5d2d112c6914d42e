package ft232h

import (
	"errors"
	"fmt"

	"github.com/yunginnanet/ft232h"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

var _ ltc2413.Transport = (*FT232H)(nil)
var _ ltc2413.Line = (*Pin)(nil)

var errNoTransaction = errors.New("transfer outside of a transaction")

type spiParams struct {
	clock uint32
	mode  uint8
}

func paramsFor(s ltc2413.Settings) (spiParams, error) {
	if s.BitOrder != ltc2413.MSBFirst {
		return spiParams{}, errors.New("MPSSE SPI only supports MSB first")
	}
	if s.Mode > 3 {
		return spiParams{}, fmt.Errorf("invalid SPI mode %d", s.Mode)
	}
	if s.ClockHz == 0 {
		return spiParams{}, errors.New("zero SPI clock")
	}
	return spiParams{clock: s.ClockHz, mode: s.Mode}, nil
}

// BeginTransaction reconfigures the MPSSE engine if the settings changed since
// the last transaction. Chip-select is left to the caller.
func (ft *FT232H) BeginTransaction(s ltc2413.Settings) error {
	if ft.inTxn {
		return errors.New("transaction already in progress")
	}
	p, err := paramsFor(s)
	if err != nil {
		return err
	}

	if !ft.applied || p != ft.appliedCfg {
		cfg := ft.SPI.GetConfig()
		cfg.Clock = p.clock
		cfg.Mode = p.mode
		cfg.CS = ft.csPin
		cfg.ActiveLow = true
		if err = ft.SPI.Config(cfg); err != nil {
			return fmt.Errorf("failed to configure SPI: %w", err)
		}
		ft.applied = true
		ft.appliedCfg = p
	}

	ft.inTxn = true
	return nil
}

// Transfer16 clocks in one half-word, MSB first. The MPSSE read command keeps
// MOSI idle, which suits the LTC2413 as it has no data input; w is not shifted out.
func (ft *FT232H) Transfer16(_ uint16) (uint16, error) {
	b, err := ft.read(2)
	if err != nil {
		return 0, err
	}
	return uint16(b[0])<<8 | uint16(b[1]), nil
}

// Transfer8 clocks in one byte. As with Transfer16, b is not shifted out.
func (ft *FT232H) Transfer8(_ byte) (byte, error) {
	b, err := ft.read(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (ft *FT232H) read(n uint) ([]byte, error) {
	if !ft.inTxn {
		return nil, errNoTransaction
	}
	b, err := ft.SPI.Read(n, false, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read SPI: %w", err)
	}
	if uint(len(b)) < n {
		return nil, fmt.Errorf("short SPI read: expected %d bytes, got %d", n, len(b))
	}
	return b, nil
}

// EndTransaction marks the bus free.
func (ft *FT232H) EndTransaction() error {
	if !ft.inTxn {
		return errNoTransaction
	}
	ft.inTxn = false
	return nil
}

// Pin is a C-bus GPIO pin used as an [ltc2413.Line].
type Pin struct {
	ft   *FT232H
	pin  ft232h.CPin
	name string
}

func (p *Pin) String() string {
	return fmt.Sprintf("%s(%s)", p.name, p.pin.String())
}

// Write drives the pin.
func (p *Pin) Write(l ltc2413.Level) error {
	if p.pin == 0 {
		return fmt.Errorf("%s: %w", p.name, ErrPinNotSet)
	}
	if err := p.ft.GPIO.Set(p.pin, bool(l)); err != nil {
		return fmt.Errorf("failed to set %s pin: %w", p.name, err)
	}
	return nil
}

// Read samples the pin.
func (p *Pin) Read() (ltc2413.Level, error) {
	if p.pin == 0 {
		return ltc2413.High, fmt.Errorf("%s: %w", p.name, ErrPinNotSet)
	}
	hl, err := p.ft.GPIO.Get(p.pin)
	if err != nil {
		return ltc2413.High, fmt.Errorf("failed to read %s pin: %w", p.name, err)
	}
	return ltc2413.Level(hl), nil
}
