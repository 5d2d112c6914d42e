package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/yunginnanet/ftdi-ltc2413/pkg/ltc2413"
)

func newReadCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "read",
		Short: "Print conversions",
		Long: `Print conversions as index, raw frame, code and volts, one per line.

With --samples 0 conversions are printed until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			ch, err := openChannel(opts, log)
			if err != nil {
				return err
			}
			err = read(ctx, ch, opts, cmd.OutOrStdout())
			if cerr := ch.Close(); cerr != nil {
				log.Warn().Err(cerr).Msg("failed to close channel")
			}
			return err
		},
	}
}

func read(ctx context.Context, ch *ltc2413.Channel, o options, w io.Writer) error {
	if o.Samples == 0 {
		return watch(ctx, ch, o, w)
	}
	for i := 0; i < o.Samples; i++ {
		s, err := ltc2413.Acquire(ctx, ch, o.Interval, o.Attempts)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		printSample(w, i, s)
	}
	return nil
}

func watch(ctx context.Context, ch *ltc2413.Channel, o options, w io.Writer) error {
	i := 0
	m := ltc2413.NewMonitor(ch, o.Interval, o.Attempts, func(s ltc2413.Sample) {
		printSample(w, i, s)
		i++
	})
	if err := m.Start(ctx); err != nil {
		return err
	}
	log.Info().Msg("reading until interrupted")

	// returns early if the monitor gives up on its own
	err := m.Wait(ctx)
	if ctx.Err() != nil {
		m.Stop()
		err = m.Wait(context.Background())
	}
	log.Info().Int("samples", i).Msg("stopped")
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func printSample(w io.Writer, i int, s ltc2413.Sample) {
	fmt.Fprintf(w, "%d\t0x%08X\t%d\t%.9f\n", i, s.Raw, s.Code, s.Volts)
}
