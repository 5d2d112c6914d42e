// Package ft232h connects an LTC2413 to a host through an FTDI FT232H USB
// bridge: the MPSSE engine clocks the SPI bus and two C-bus GPIO pins serve as
// chip-select and as the SDO sense line.
package ft232h

import (
	"errors"
	"fmt"

	"github.com/yunginnanet/ft232h"
)

// ErrBadDescriptor is returned by Validate and ConnectFT232h for descriptors that select nothing.
var ErrBadDescriptor = errors.New("invalid FT232H descriptor provided")

// ErrPinNotSet is returned when a line is used before its pin was configured.
var ErrPinNotSet = errors.New("pin not set")

// ErrBadPin is returned for a pin mask that does not select exactly one C-bus pin.
var ErrBadPin = errors.New("pin mask must select exactly one C-bus pin")

// ValidatePin checks that mask selects exactly one of the eight C-bus pins,
// i.e. it is one of 0x01, 0x02, 0x04 .. 0x80.
func ValidatePin(mask uint) error {
	if mask == 0 || mask > 0x80 || mask&(mask-1) != 0 {
		return fmt.Errorf("%w: 0x%02X", ErrBadPin, mask)
	}
	return nil
}

// DeviceInfo represents a snapshot of the device information for the [FT232H] device.
type DeviceInfo struct {
	Index       int
	Serial      string
	Description string
	ProductID   string
	VendorID    string
	IsOpen      bool
	IsHighSpeed bool
}

// String returns a string representation of the device information.
func (ft DeviceInfo) String() string {
	return fmt.Sprintf(
		"DeviceInfo{Index:%d, Serial:%s, Description:%s, ProductID:%s, VendorID:%s, IsOpen:%t, IsHighSpeed:%t}",
		ft.Index, ft.Serial, ft.Description, ft.ProductID, ft.VendorID, ft.IsOpen, ft.IsHighSpeed,
	)
}

// FT232H is an opened FT232H acting as the LTC2413 transport.
type FT232H struct {
	*ft232h.FT232H

	csPin  ft232h.CPin
	sdoPin ft232h.CPin

	applied    bool
	appliedCfg spiParams
	inTxn      bool
}

// Info returns a snapshot of the device information for the FT232H device. Read-only.
func (ft *FT232H) Info() DeviceInfo {
	vid, pid := ft.vidPid()
	return DeviceInfo{
		Index:       ft.Index(),
		Serial:      ft.Serial(),
		Description: ft.Desc(),
		ProductID:   pid,
		VendorID:    vid,
		IsOpen:      ft.IsOpen(),
		IsHighSpeed: ft.IsHiSpeed(),
	}
}

// String returns a string representation of the FT232H device. It includes the vendor ID, product ID, and description.
func (ft *FT232H) String() string {
	info := ft.Info()
	return fmt.Sprintf("FT232H[%s:%s]: %s", info.VendorID, info.ProductID, info.Description)
}

// ConnectFT232h opens the first FT232H found, or the one selected by a single descriptor.
func ConnectFT232h(choice ...Descriptor) (ft *FT232H, err error) {
	ft = &FT232H{}

	switch len(choice) {
	case 0:
		ft.FT232H, err = ft232h.New()
	case 1:
		if err = choice[0].Validate(); err != nil {
			return nil, err
		}
		ft.FT232H, err = ft232h.OpenMask(choice[0].Mask())
	default:
		return nil, fmt.Errorf("invalid number of arguments: %d", len(choice))
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open FT232H: %w", err)
	}
	return ft, nil
}

// SetCSPin configures a C-bus pin as the active low chip-select output, idle
// high. pin is a bitmask selecting a single pin, e.g. 0x01 for C0.
func (ft *FT232H) SetCSPin(pin uint) error {
	if err := ValidatePin(pin); err != nil {
		return err
	}
	ft.csPin = ft232h.CPin(pin)
	return ft.GPIO.ConfigPin(ft.csPin, ft232h.Output, true)
}

// SetSDOPin configures a C-bus pin, wired to the ADC's SDO, as an input. pin is
// a bitmask selecting a single pin, e.g. 0x02 for C1.
func (ft *FT232H) SetSDOPin(pin uint) error {
	if err := ValidatePin(pin); err != nil {
		return err
	}
	ft.sdoPin = ft232h.CPin(pin)
	return ft.GPIO.ConfigPin(ft.sdoPin, ft232h.Input, false)
}

// CS returns the chip-select line.
func (ft *FT232H) CS() *Pin {
	return &Pin{ft: ft, pin: ft.csPin, name: "CS"}
}

// SDO returns the SDO sense line.
func (ft *FT232H) SDO() *Pin {
	return &Pin{ft: ft, pin: ft.sdoPin, name: "SDO"}
}

// Close releases the SPI engine and the device.
func (ft *FT232H) Close() error {
	err := ft.SPI.Close()
	return errors.Join(err, ft.FT232H.Close())
}
