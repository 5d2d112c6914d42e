// Package periph connects an LTC2413 through periph.io: a Linux spidev (or any
// registered SPI port) for the bus and two GPIO pins for chip-select and SDO sensing.
//
// Chip-select is driven by the ltc2413 channel itself, so the port is opened
// with [spi.NoCS]. Wire the ADC's CS to the GPIO, not to the controller's CE pin.
package periph

import (
	"errors"
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/host/v3"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

var _ ltc2413.Transport = (*Bus)(nil)
var _ ltc2413.Line = (*Pin)(nil)

var (
	// ErrSettingsChanged is returned when a transaction asks for different
	// settings than the port was connected with; periph ports connect once.
	ErrSettingsChanged = errors.New("spi settings cannot change after connect")
	errNoTransaction   = errors.New("transfer outside of a transaction")
)

// Bus is an SPI port used as an [ltc2413.Transport]. It connects on the first transaction.
type Bus struct {
	port      spi.PortCloser
	conn      spi.Conn
	connected ltc2413.Settings
	inTxn     bool
}

// NewBus wraps an already opened port.
func NewBus(port spi.PortCloser) *Bus {
	return &Bus{port: port}
}

func modeFor(s ltc2413.Settings) (spi.Mode, error) {
	if s.Mode > 3 {
		return 0, fmt.Errorf("invalid SPI mode %d", s.Mode)
	}
	m := spi.Mode(s.Mode) | spi.NoCS
	if s.BitOrder == ltc2413.LSBFirst {
		m |= spi.LSBFirst
	}
	return m, nil
}

// BeginTransaction connects the port on first use.
func (b *Bus) BeginTransaction(s ltc2413.Settings) error {
	if b.inTxn {
		return errors.New("transaction already in progress")
	}

	if b.conn == nil {
		mode, err := modeFor(s)
		if err != nil {
			return err
		}
		conn, err := b.port.Connect(physic.Frequency(s.ClockHz)*physic.Hertz, mode, 8)
		if err != nil {
			return fmt.Errorf("failed to connect SPI port: %w", err)
		}
		b.conn = conn
		b.connected = s
	} else if s != b.connected {
		return ErrSettingsChanged
	}

	b.inTxn = true
	return nil
}

// Transfer16 exchanges one half-word, high byte first.
func (b *Bus) Transfer16(w uint16) (uint16, error) {
	r, err := b.tx([]byte{byte(w >> 8), byte(w)})
	if err != nil {
		return 0, err
	}
	return uint16(r[0])<<8 | uint16(r[1]), nil
}

// Transfer8 exchanges one byte.
func (b *Bus) Transfer8(w byte) (byte, error) {
	r, err := b.tx([]byte{w})
	if err != nil {
		return 0, err
	}
	return r[0], nil
}

func (b *Bus) tx(w []byte) ([]byte, error) {
	if !b.inTxn {
		return nil, errNoTransaction
	}
	r := make([]byte, len(w))
	if err := b.conn.Tx(w, r); err != nil {
		return nil, fmt.Errorf("spi tx failed: %w", err)
	}
	return r, nil
}

// EndTransaction marks the bus free.
func (b *Bus) EndTransaction() error {
	if !b.inTxn {
		return errNoTransaction
	}
	b.inTxn = false
	return nil
}

// Close closes the port.
func (b *Bus) Close() error {
	return b.port.Close()
}

// Pin is a GPIO used as an [ltc2413.Line].
type Pin struct {
	p gpio.PinIO
}

// NewCSPin configures p as an output, idle high.
func NewCSPin(p gpio.PinIO) (*Pin, error) {
	if err := p.Out(gpio.High); err != nil {
		return nil, fmt.Errorf("failed to configure %s as output: %w", p, err)
	}
	return &Pin{p: p}, nil
}

// NewSDOPin configures p as a floating input.
func NewSDOPin(p gpio.PinIO) (*Pin, error) {
	if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, fmt.Errorf("failed to configure %s as input: %w", p, err)
	}
	return &Pin{p: p}, nil
}

func (p *Pin) String() string {
	return p.p.String()
}

// Write drives the pin.
func (p *Pin) Write(l ltc2413.Level) error {
	return p.p.Out(gpio.Level(l))
}

// Read samples the pin.
func (p *Pin) Read() (ltc2413.Level, error) {
	return ltc2413.Level(p.p.Read()), nil
}

// Device bundles everything a channel needs.
type Device struct {
	Bus *Bus
	CS  *Pin
	SDO *Pin
}

// Open initializes the host drivers and opens the named SPI port and pins,
// e.g. Open("/dev/spidev0.0", "GPIO8", "GPIO9").
func Open(port, cs, sdo string) (*Device, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph host: %w", err)
	}

	csPin := gpioreg.ByName(cs)
	if csPin == nil {
		return nil, fmt.Errorf("no such gpio: %q", cs)
	}
	sdoPin := gpioreg.ByName(sdo)
	if sdoPin == nil {
		return nil, fmt.Errorf("no such gpio: %q", sdo)
	}

	p, err := spireg.Open(port)
	if err != nil {
		return nil, fmt.Errorf("failed to open spi port %q: %w", port, err)
	}

	return newDevice(p, csPin, sdoPin)
}

func newDevice(p spi.PortCloser, cs, sdo gpio.PinIO) (*Device, error) {
	d := &Device{Bus: NewBus(p)}
	var err error
	if d.CS, err = NewCSPin(cs); err != nil {
		return nil, errors.Join(err, p.Close())
	}
	if d.SDO, err = NewSDOPin(sdo); err != nil {
		return nil, errors.Join(err, p.Close())
	}
	return d, nil
}

// Channel builds an ltc2413 channel on the device.
func (d *Device) Channel(opts ...ltc2413.Option) (*ltc2413.Channel, error) {
	return ltc2413.NewChannel(d.Bus, d.CS, d.SDO, opts...)
}
