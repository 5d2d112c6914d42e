// ltc2413 reads conversions from an LTC2413 ADC attached over an FT232H, a
// Linux spidev port or bit bashed GPIO lines.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

var log zerolog.Logger

var opts options

func init() {
	cw := zerolog.ConsoleWriter{Out: os.Stderr}
	log = zerolog.New(cw).With().Timestamp().Logger()
}

func main() {
	cmd := newRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ltc2413",
		Short: "Read an LTC2413 delta sigma ADC",
		Long: `Read conversions from an LTC2413 delta sigma ADC.

Settings are taken from, in decreasing priority, command line flags,
environment variables prefixed with ` + envPrefix + ` (e.g. ` + envPrefix + `FT232H_CS),
a JSON config file (ltc2413.json unless --config-file is given) and the
built in defaults.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			if opts, err = optionsFrom(cfg); err != nil {
				return err
			}
			log = log.Level(opts.LogLevel)
			log.Debug().Any("options", opts).Msg("loaded configuration")
			return nil
		},
	}

	pf := cmd.PersistentFlags()
	pf.String("config-file", "ltc2413.json", "JSON configuration file")
	pf.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	pf.StringP("backend", "b", "ft232h", "transport: ft232h, periph or bitbang")
	pf.IntP("resolution", "r", ltc2413.DefaultResolution, "bits of the conversion to keep (8-29)")
	pf.StringP("polarity", "p", "bipolar", "unipolar or bipolar")
	pf.Float64("vref", ltc2413.DefaultReferenceVoltage, "reference voltage for the nominal calibration")
	pf.Int("clock", ltc2413.DefaultClockHz, "SPI clock in Hz")
	pf.Int("mode", 0, "SPI mode (0-3)")
	pf.IntP("samples", "n", 1, "number of samples, 0 to read until interrupted")
	pf.Duration("interval", 10*time.Millisecond, "delay between readiness polls")
	pf.Int("attempts", 100, "readiness polls per sample before giving up")
	pf.String("cal-low", "", "low calibration point as volts:code")
	pf.String("cal-high", "", "high calibration point as volts:code")

	pf.Int("ft232h-index", 0, "FT232H device index")
	pf.String("ft232h-serial", "", "FT232H serial number, overrides the index")
	pf.Uint("ft232h-cs", 0x01, "FT232H C-bus pin bitmask for chip-select (0x01 = C0 .. 0x80 = C7)")
	pf.Uint("ft232h-sdo", 0x02, "FT232H C-bus pin bitmask wired to SDO (0x01 = C0 .. 0x80 = C7)")

	pf.String("periph-port", "/dev/spidev0.0", "SPI port name")
	pf.String("periph-cs", "GPIO8", "GPIO used as chip-select")
	pf.String("periph-sdo", "GPIO9", "GPIO wired to SDO")

	pf.String("bitbang-chip", "gpiochip0", "GPIO chip")
	pf.Int("bitbang-sclk", 11, "SCLK line offset")
	pf.Int("bitbang-ssz", 8, "chip-select line offset")
	pf.Int("bitbang-mosi", 10, "MOSI line offset")
	pf.Int("bitbang-miso", 9, "MISO/SDO line offset")

	cmd.AddCommand(newReadCommand(), newCalibrateCommand())
	return cmd
}
