// Package tinyspi adapts a TinyGo SPI bus to the ltc2413 transport.
//
// Bus speed and mode belong to the board's machine.SPI configuration; the
// settings passed to BeginTransaction are only checked, not applied.
//
//	spi := machine.SPI0
//	spi.Configure(machine.SPIConfig{Frequency: 1e6, Mode: 0})
//	cs, sdo := machine.GP17, machine.GP16
//	cs.Configure(machine.PinConfig{Mode: machine.PinOutput})
//	ch, err := ltc2413.NewChannel(tinyspi.New(spi),
//		tinyspi.Pin{Set: cs.Set, Get: cs.Get},
//		tinyspi.Pin{Get: sdo.Get})
package tinyspi

import (
	"errors"
	"fmt"

	"tinygo.org/x/drivers"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

var _ ltc2413.Transport = (*Bus)(nil)
var _ ltc2413.Line = Pin{}

var errNoTransaction = errors.New("transfer outside of a transaction")

// Bus wraps a drivers.SPI.
type Bus struct {
	spi   drivers.SPI
	inTxn bool
}

// New wraps spi.
func New(spi drivers.SPI) *Bus {
	return &Bus{spi: spi}
}

// BeginTransaction rejects settings the hardware peripheral cannot honour on
// its own (LSB first) and marks the bus busy.
func (b *Bus) BeginTransaction(s ltc2413.Settings) error {
	if b.inTxn {
		return errors.New("transaction already in progress")
	}
	if s.BitOrder != ltc2413.MSBFirst {
		return errors.New("only MSB first is supported")
	}
	if s.Mode > 3 {
		return fmt.Errorf("invalid SPI mode %d", s.Mode)
	}
	b.inTxn = true
	return nil
}

// Transfer16 exchanges two bytes in one Tx, high byte first.
func (b *Bus) Transfer16(w uint16) (uint16, error) {
	if !b.inTxn {
		return 0, errNoTransaction
	}
	var r [2]byte
	if err := b.spi.Tx([]byte{byte(w >> 8), byte(w)}, r[:]); err != nil {
		return 0, err
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

// Transfer8 exchanges one byte.
func (b *Bus) Transfer8(w byte) (byte, error) {
	if !b.inTxn {
		return 0, errNoTransaction
	}
	return b.spi.Transfer(w)
}

// EndTransaction marks the bus free.
func (b *Bus) EndTransaction() error {
	if !b.inTxn {
		return errNoTransaction
	}
	b.inTxn = false
	return nil
}

// Pin turns a pair of pin methods (machine.Pin.Set and machine.Pin.Get) into
// an [ltc2413.Line]. Either may be nil for a line only used one way.
type Pin struct {
	Set func(high bool)
	Get func() bool
}

// Write drives the pin.
func (p Pin) Write(l ltc2413.Level) error {
	if p.Set == nil {
		return errors.New("pin is not an output")
	}
	p.Set(bool(l))
	return nil
}

// Read samples the pin.
func (p Pin) Read() (ltc2413.Level, error) {
	if p.Get == nil {
		return ltc2413.High, errors.New("pin is not an input")
	}
	return ltc2413.Level(p.Get()), nil
}
