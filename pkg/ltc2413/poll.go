package ltc2413

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// maxMonitorErrors is how many errors a Monitor tolerates before stopping itself.
const maxMonitorErrors = 50

// WaitReady polls ch until a conversion is pending, at most attempts times with
// interval between polls. It returns ErrNotReady when the attempts run out.
func WaitReady(ctx context.Context, ch *Channel, interval time.Duration, attempts int) error {
	if attempts < 1 {
		attempts = 1
	}

	var timer *time.Timer
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		ready, err := ch.CheckReady()
		if err != nil {
			return fmt.Errorf("failed to poll end of conversion: %w", err)
		}
		if ready {
			return nil
		}

		if i == attempts-1 || interval <= 0 {
			continue
		}
		if timer == nil {
			timer = time.NewTimer(interval)
			defer timer.Stop()
		} else {
			timer.Reset(interval)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("%w after %d attempts", ErrNotReady, attempts)
}

// Acquire waits for a conversion and reads it.
func Acquire(ctx context.Context, ch *Channel, interval time.Duration, attempts int) (Sample, error) {
	if err := WaitReady(ctx, ch, interval, attempts); err != nil {
		return Sample{}, err
	}
	s, ok, err := ch.Read()
	if err != nil {
		return Sample{}, err
	}
	if !ok {
		// Cleared or read by someone else between the poll and the read.
		return Sample{}, ErrNotReady
	}
	return s, nil
}

// SampleCallback receives each sample read by a Monitor.
type SampleCallback func(s Sample)

// Monitor reads samples from a Channel in the background and hands them to a callback.
type Monitor struct {
	Interval time.Duration
	Attempts int

	ch       *Channel
	callback SampleCallback
	done     *atomic.Bool
	started  *atomic.Bool
	running  *atomic.Bool
	stopped  chan struct{}
	err      []error
	errMu    sync.Mutex
}

// NewMonitor builds a Monitor. interval is the poll period while waiting for
// each conversion, attempts bounds how many polls a single sample may take.
func NewMonitor(ch *Channel, interval time.Duration, attempts int, onSample SampleCallback) *Monitor {
	return &Monitor{
		Interval: interval,
		Attempts: attempts,
		ch:       ch,
		callback: onSample,
		done:     &atomic.Bool{},
		started:  &atomic.Bool{},
		running:  &atomic.Bool{},
		stopped:  make(chan struct{}),
		err:      make([]error, 0),
	}
}

func (m *Monitor) addErr(err error) {
	if err == nil {
		return
	}
	m.errMu.Lock()
	m.err = append(m.err, err)
	if len(m.err) >= maxMonitorErrors {
		m.done.Store(true)
	}
	m.errMu.Unlock()
}

// Err returns every error collected so far, joined.
func (m *Monitor) Err() error {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	if len(m.err) == 0 {
		return nil
	}
	return fmt.Errorf("monitor errors: %w", errors.Join(m.err...))
}

// Start launches the sampling goroutine. It runs until ctx is done, Stop is
// called or too many errors accumulate.
func (m *Monitor) Start(ctx context.Context) error {
	if m.callback == nil {
		return errors.New("no sample callback")
	}
	if !m.started.CompareAndSwap(false, true) {
		return errors.New("monitor already started")
	}
	m.running.Store(true)

	go func() {
		defer close(m.stopped)
		defer m.running.Store(false)
		defer m.done.Store(true)

		for !m.done.Load() {
			s, err := Acquire(ctx, m.ch, m.Interval, m.Attempts)
			switch {
			case ctx.Err() != nil:
				return
			case errors.Is(err, ErrClosed):
				m.addErr(err)
				return
			case err != nil:
				m.addErr(err)
			default:
				m.callback(s)
			}
		}
	}()

	return nil
}

// Stop asks the goroutine to exit after the current sample.
func (m *Monitor) Stop() {
	m.done.Store(true)
}

// IsRunning reports whether the sampling goroutine is still alive.
func (m *Monitor) IsRunning() bool {
	return m.running.Load()
}

// IsDone reports whether the monitor has been told to stop or stopped itself.
func (m *Monitor) IsDone() bool {
	return m.done.Load()
}

// Wait blocks until the goroutine has exited or ctx is done, then returns Err.
// It returns at once if the monitor was never started.
func (m *Monitor) Wait(ctx context.Context) error {
	if !m.started.Load() {
		return m.Err()
	}
	select {
	case <-m.stopped:
	case <-ctx.Done():
		return errors.Join(ctx.Err(), m.Err())
	}
	return m.Err()
}
