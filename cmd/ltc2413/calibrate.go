package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

func newCalibrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "calibrate LOW_VOLTS HIGH_VOLTS",
		Aliases: []string{"cal"},
		Short:   "Measure a two point calibration",
		Long: `Measure the codes produced by two known input voltages and print the
resulting calibration as a config file fragment.

For each point you are asked to apply the voltage and press enter, then
--samples conversions are averaged.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			volts := make([]float64, 2)
			for i, a := range args {
				v, err := strconv.ParseFloat(a, 64)
				if err != nil {
					return fmt.Errorf("bad voltage %q: %w", a, err)
				}
				volts[i] = v
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			// measure against the nominal transform, not a configured one
			o := opts
			o.Low, o.High = nil, nil
			ch, err := openChannel(o, log)
			if err != nil {
				return err
			}
			defer func() {
				if cerr := ch.Close(); cerr != nil {
					log.Warn().Err(cerr).Msg("failed to close channel")
				}
			}()

			cal, err := calibrate(ctx, ch, o, volts[0], volts[1],
				bufio.NewReader(cmd.InOrStdin()), cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			log.Info().Stringer("calibration", cal).Msg("calibrated")
			return writeCalibration(cmd.OutOrStdout(), cal)
		},
	}
}

// calibrate prompts on w for each voltage, waits for a line on r, then
// measures the point.
func calibrate(ctx context.Context, ch *ltc2413.Channel, o options, low, high float64, r *bufio.Reader, w io.Writer) (*ltc2413.Calibration, error) {
	points := make([]ltc2413.ReferencePoint, 0, 2)
	for _, v := range []float64{low, high} {
		fmt.Fprintf(w, "apply %gV and press enter: ", v)
		if _, err := r.ReadString('\n'); err != nil {
			return nil, fmt.Errorf("waiting for %gV: %w", v, err)
		}
		code, err := measure(ctx, ch, o)
		if err != nil {
			return nil, fmt.Errorf("measuring %gV: %w", v, err)
		}
		log.Info().Float64("volts", v).Int32("code", code).Msg("measured")
		points = append(points, ltc2413.ReferencePoint{Volts: v, Code: code})
	}
	return ltc2413.NewCalibration(points[0], points[1])
}

// measure averages o.Samples conversions, at least one.
func measure(ctx context.Context, ch *ltc2413.Channel, o options) (int32, error) {
	n := max(o.Samples, 1)

	// the conversion in flight may predate the input change
	if err := ltc2413.WaitReady(ctx, ch, o.Interval, o.Attempts); err != nil {
		return 0, err
	}
	if _, err := ch.ClearConversion(); err != nil {
		return 0, err
	}

	var sum int64
	for i := 0; i < n; i++ {
		s, err := ltc2413.Acquire(ctx, ch, o.Interval, o.Attempts)
		if err != nil {
			return 0, err
		}
		sum += int64(s.Code)
	}
	return int32(math.Round(float64(sum) / float64(n))), nil
}

func writeCalibration(w io.Writer, cal *ltc2413.Calibration) error {
	frag := map[string]interface{}{
		"cal": map[string]string{
			"low":  formatReferencePoint(cal.Low),
			"high": formatReferencePoint(cal.High),
		},
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(frag)
}
