package ltc2413

// Level is the logic level of a digital line.
type Level bool

const (
	Low  Level = false
	High Level = true
)

func (l Level) String() string {
	if l {
		return "HIGH"
	}
	return "LOW"
}

// BitOrder selects which end of a word is shifted onto the bus first.
type BitOrder uint8

const (
	MSBFirst BitOrder = iota
	LSBFirst
)

// Settings are the bus parameters requested at the start of every transaction.
type Settings struct {
	ClockHz  uint32
	BitOrder BitOrder
	Mode     uint8
}

// DefaultSettings is what the LTC2413 wants: 1MHz, MSB first, SPI mode 0.
func DefaultSettings() Settings {
	return Settings{
		ClockHz:  DefaultClockHz,
		BitOrder: MSBFirst,
		Mode:     0,
	}
}

// Transport is the serial bus the channel talks to the device through.
//
// Implementations must allow back-to-back half-word transfers while the
// chip-select line is held low by the channel.
type Transport interface {
	BeginTransaction(s Settings) error
	Transfer16(w uint16) (uint16, error)
	Transfer8(b byte) (byte, error)
	EndTransaction() error
}

// Line is a single digital I/O line.
type Line interface {
	Write(l Level) error
	Read() (Level, error)
}

func (ch *Channel) setCSLow() error {
	return ch.cs.Write(Low)
}

func (ch *Channel) setCSHigh() error {
	return ch.cs.Write(High)
}
