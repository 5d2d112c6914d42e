package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"github.com/warthog618/config"
	"github.com/warthog618/config/blob"
	"github.com/warthog618/config/blob/decoder/json"
	"github.com/warthog618/config/dict"
	"github.com/warthog618/config/env"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ft232h"
	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

const envPrefix = "LTC2413_"

func defaultConfig() map[string]interface{} {
	return map[string]interface{}{
		"backend":    "ft232h",
		"resolution": ltc2413.DefaultResolution,
		"polarity":   "bipolar",
		"vref":       ltc2413.DefaultReferenceVoltage,
		"clock":      ltc2413.DefaultClockHz,
		"mode":       0,
		"samples":    1,
		"interval":   "10ms",
		"attempts":   100,
		"log": map[string]interface{}{
			"level": "info",
		},
		"cal": map[string]interface{}{
			"low":  "",
			"high": "",
		},
		"ft232h": map[string]interface{}{
			"index":  0,
			"serial": "",
			"cs":     0x01,
			"sdo":    0x02,
		},
		"periph": map[string]interface{}{
			"port": "/dev/spidev0.0",
			"cs":   "GPIO8",
			"sdo":  "GPIO9",
		},
		"bitbang": map[string]interface{}{
			"chip": "gpiochip0",
			"sclk": 11,
			"ssz":  8,
			"mosi": 10,
			"miso": 9,
		},
	}
}

// flagConfig turns the flags set on the command line into a nested map. Flag
// names map onto config keys with '-' as the path separator, so --ft232h-cs
// sets ft232h.cs.
func flagConfig(fs *pflag.FlagSet) map[string]interface{} {
	m := map[string]interface{}{}
	fs.Visit(func(f *pflag.Flag) {
		setPath(m, strings.Split(f.Name, "-"), f.Value.String())
	})
	return m
}

func setPath(m map[string]interface{}, path []string, v interface{}) {
	for _, k := range path[:len(path)-1] {
		sub, ok := m[k].(map[string]interface{})
		if !ok {
			sub = map[string]interface{}{}
			m[k] = sub
		}
		m = sub
	}
	m[path[len(path)-1]] = v
}

// loadConfig layers flags over the environment over the config file over the
// defaults. The file is optional unless named by config.file, through
// --config-file or LTC2413_CONFIG_FILE.
func loadConfig(fs *pflag.FlagSet) (cfg *config.Config, err error) {
	// the config getters panic on a named file that cannot be loaded
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("failed to load configuration: %v", r)
		}
	}()

	cfg = config.New(
		dict.New(dict.WithMap(flagConfig(fs))),
		env.New(env.WithEnvPrefix(envPrefix)),
		config.WithDefault(defaults()))
	cfg.Append(
		blob.NewConfigFile(cfg, "config.file", "ltc2413.json", json.NewDecoder()))
	return cfg.GetConfig("", config.WithMust()), nil
}

func defaults() *dict.Getter {
	return dict.New(dict.WithMap(defaultConfig()))
}

type ft232hOptions struct {
	Index  int
	Serial string
	CS     uint
	SDO    uint
}

type periphOptions struct {
	Port string
	CS   string
	SDO  string
}

type bitbangOptions struct {
	Chip                   string
	Sclk, Ssz, Mosi, Miso int
}

type options struct {
	Backend    string
	Resolution int
	Polarity   ltc2413.Polarity
	VRef       float64
	Settings   ltc2413.Settings
	Samples    int
	Interval   time.Duration
	Attempts   int
	LogLevel   zerolog.Level

	// Low and High are nil unless both calibration points are configured.
	Low, High *ltc2413.ReferencePoint

	FT232H  ft232hOptions
	Periph  periphOptions
	Bitbang bitbangOptions
}

func optionsFrom(cfg *config.Config) (opts options, err error) {
	opts.Backend = strings.ToLower(cfg.MustGet("backend").String())
	opts.Resolution = cfg.MustGet("resolution").Int()
	if opts.Polarity, err = ltc2413.ParsePolarity(strings.ToLower(cfg.MustGet("polarity").String())); err != nil {
		return opts, err
	}
	opts.VRef = cfg.MustGet("vref").Float()

	mode := cfg.MustGet("mode").Int()
	if mode < 0 || mode > 3 {
		return opts, fmt.Errorf("invalid SPI mode %d", mode)
	}
	clock := cfg.MustGet("clock").Int()
	if clock <= 0 {
		return opts, fmt.Errorf("invalid SPI clock %d", clock)
	}
	opts.Settings = ltc2413.DefaultSettings()
	opts.Settings.ClockHz = uint32(clock)
	opts.Settings.Mode = uint8(mode)

	opts.Samples = cfg.MustGet("samples").Int()
	if opts.Samples < 0 {
		return opts, fmt.Errorf("invalid sample count %d", opts.Samples)
	}
	opts.Interval = cfg.MustGet("interval").Duration()
	opts.Attempts = cfg.MustGet("attempts").Int()

	if opts.LogLevel, err = zerolog.ParseLevel(cfg.MustGet("log.level").String()); err != nil {
		return opts, err
	}

	low, high := cfg.MustGet("cal.low").String(), cfg.MustGet("cal.high").String()
	switch {
	case low == "" && high == "":
	case low == "" || high == "":
		return opts, errors.New("cal.low and cal.high must be set together")
	default:
		l, err := parseReferencePoint(low)
		if err != nil {
			return opts, fmt.Errorf("cal.low: %w", err)
		}
		h, err := parseReferencePoint(high)
		if err != nil {
			return opts, fmt.Errorf("cal.high: %w", err)
		}
		opts.Low, opts.High = &l, &h
	}

	opts.FT232H = ft232hOptions{
		Index:  cfg.MustGet("ft232h.index").Int(),
		Serial: cfg.MustGet("ft232h.serial").String(),
		CS:     uint(cfg.MustGet("ft232h.cs").Int()),
		SDO:    uint(cfg.MustGet("ft232h.sdo").Int()),
	}
	opts.Periph = periphOptions{
		Port: cfg.MustGet("periph.port").String(),
		CS:   cfg.MustGet("periph.cs").String(),
		SDO:  cfg.MustGet("periph.sdo").String(),
	}
	if opts.Backend == "ft232h" {
		if err = ft232h.ValidatePin(opts.FT232H.CS); err != nil {
			return opts, fmt.Errorf("ft232h.cs: %w", err)
		}
		if err = ft232h.ValidatePin(opts.FT232H.SDO); err != nil {
			return opts, fmt.Errorf("ft232h.sdo: %w", err)
		}
		if opts.FT232H.CS == opts.FT232H.SDO {
			return opts, fmt.Errorf("ft232h.cs and ft232h.sdo are both 0x%02X", opts.FT232H.CS)
		}
	}
	opts.Bitbang = bitbangOptions{
		Chip: cfg.MustGet("bitbang.chip").String(),
		Sclk: cfg.MustGet("bitbang.sclk").Int(),
		Ssz:  cfg.MustGet("bitbang.ssz").Int(),
		Mosi: cfg.MustGet("bitbang.mosi").Int(),
		Miso: cfg.MustGet("bitbang.miso").Int(),
	}
	return opts, nil
}

// channelOptions are the ltc2413 options implied by the configuration.
func (o options) channelOptions(log zerolog.Logger) []ltc2413.Option {
	return []ltc2413.Option{
		ltc2413.WithSettings(o.Settings),
		ltc2413.WithResolution(o.Resolution),
		ltc2413.WithPolarity(o.Polarity),
		ltc2413.WithReferenceVoltage(o.VRef),
		ltc2413.WithLogger(log),
	}
}

// parseReferencePoint parses "volts:code", e.g. "0.5:1048576". The code may
// carry a 0x prefix.
func parseReferencePoint(s string) (ltc2413.ReferencePoint, error) {
	v, c, ok := strings.Cut(s, ":")
	if !ok {
		return ltc2413.ReferencePoint{}, fmt.Errorf("reference point %q is not volts:code", s)
	}
	volts, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		return ltc2413.ReferencePoint{}, fmt.Errorf("bad voltage in %q: %w", s, err)
	}
	code, err := strconv.ParseInt(strings.TrimSpace(c), 0, 32)
	if err != nil {
		return ltc2413.ReferencePoint{}, fmt.Errorf("bad code in %q: %w", s, err)
	}
	return ltc2413.ReferencePoint{Volts: volts, Code: int32(code)}, nil
}

func formatReferencePoint(rp ltc2413.ReferencePoint) string {
	return strconv.FormatFloat(rp.Volts, 'g', -1, 64) + ":" + strconv.FormatInt(int64(rp.Code), 10)
}
