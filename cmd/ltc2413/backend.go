package main

import (
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/bitbang"
	"github.com/yunginnanet/ftdi-ltc2413/pkg/ft232h"
	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
	"github.com/yunginnanet/ftdi-ltc2413/pkg/periph"
)

var errUnknownBackend = errors.New("unknown backend")

var backends = []string{"ft232h", "periph", "bitbang"}

// openChannel connects to the configured backend and builds a channel on it.
// Closing the channel releases the backend.
func openChannel(opts options, log zerolog.Logger) (*ltc2413.Channel, error) {
	copts := opts.channelOptions(log)

	var (
		ch  *ltc2413.Channel
		err error
	)
	switch opts.Backend {
	case "ft232h":
		ch, err = openFT232H(opts.FT232H, log, copts)
	case "periph":
		ch, err = openPeriph(opts.Periph, copts)
	case "bitbang":
		ch, err = openBitbang(opts.Bitbang, copts)
	default:
		return nil, fmt.Errorf("%w %q, want one of %v", errUnknownBackend, opts.Backend, backends)
	}
	if err != nil {
		return nil, err
	}

	if opts.Low != nil && opts.High != nil {
		if err = ch.Calibrate(*opts.Low, *opts.High); err != nil {
			return nil, errors.Join(err, ch.Close())
		}
	}

	log.Debug().Str("backend", opts.Backend).
		Stringer("factors", ch.Factors()).
		Stringer("calibration", ch.Calibration()).
		Msg("channel ready")
	return ch, nil
}

func openFT232H(o ft232hOptions, log zerolog.Logger, copts []ltc2413.Option) (*ltc2413.Channel, error) {
	desc := ft232h.ByIndex(o.Index)
	if o.Serial != "" {
		desc = ft232h.BySerial(o.Serial)
	}

	ft, err := ft232h.ConnectFT232h(desc)
	if err != nil {
		return nil, err
	}
	log.Info().Any("info", ft.Info()).Msgf("connected to FT232H: %s", ft)

	if err = ft.SetCSPin(o.CS); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to configure CS pin: %w", err), ft.Close())
	}
	if err = ft.SetSDOPin(o.SDO); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to configure SDO pin: %w", err), ft.Close())
	}

	ch, err := ltc2413.NewChannel(ft, ft.CS(), ft.SDO(), copts...)
	if err != nil {
		return nil, errors.Join(err, ft.Close())
	}
	return ch, nil
}

func openPeriph(o periphOptions, copts []ltc2413.Option) (*ltc2413.Channel, error) {
	d, err := periph.Open(o.Port, o.CS, o.SDO)
	if err != nil {
		return nil, err
	}
	ch, err := d.Channel(copts...)
	if err != nil {
		return nil, errors.Join(err, d.Bus.Close())
	}
	return ch, nil
}

func openBitbang(o bitbangOptions, copts []ltc2413.Option) (*ltc2413.Channel, error) {
	s, err := bitbang.Open(o.Chip, o.Sclk, o.Ssz, o.Mosi, o.Miso)
	if err != nil {
		return nil, err
	}
	ch, err := ltc2413.NewChannel(s, s.CS(), s.SDO(), copts...)
	if err != nil {
		return nil, errors.Join(err, s.Close())
	}
	return ch, nil
}
