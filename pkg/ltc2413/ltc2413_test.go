package ltc2413

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannel(t *testing.T) {
	t.Run("DeselectsChip", func(t *testing.T) {
		d := newFakeDevice()
		d.csLow = true
		cs, sdo := d.lines()
		ch, err := NewChannel(d, cs, sdo)
		require.NoError(t, err)
		assert.False(t, d.csLow)
		assert.Equal(t, []string{"cs:HIGH"}, d.log)
		assert.False(t, ch.Ready())
		assert.Equal(t, NewFactors(DefaultResolution, Bipolar), ch.Factors())
		assert.True(t, ch.Calibration().Nominal)
	})

	t.Run("NilCollaborators", func(t *testing.T) {
		d := newFakeDevice()
		cs, sdo := d.lines()
		_, err := NewChannel(nil, cs, sdo)
		assert.ErrorIs(t, err, ErrNilCollaborator)
		_, err = NewChannel(d, nil, sdo)
		assert.ErrorIs(t, err, ErrNilCollaborator)
		_, err = NewChannel(d, cs, nil)
		assert.ErrorIs(t, err, ErrNilCollaborator)
	})

	t.Run("Options", func(t *testing.T) {
		d := newFakeDevice()
		s := Settings{ClockHz: 500000, BitOrder: MSBFirst}
		ch := newTestChannel(t, d,
			WithSettings(s),
			WithResolution(40),
			WithPolarity(Unipolar),
			WithReferenceVoltage(2.5),
		)
		f := ch.Factors()
		assert.Equal(t, MaxResolution, f.Resolution)
		assert.Equal(t, Unipolar, f.Polarity)
		assert.Equal(t, 2.5, ch.ReferenceVoltage())
		assert.InDelta(t, 2.5/float64(f.Span()), ch.Calibration().StepSize, 1e-18)

		d.frames = []uint32{0x20000000}
		_, err := ch.CheckReady()
		require.NoError(t, err)
		_, err = ch.Conversion()
		require.NoError(t, err)
		assert.Equal(t, s, d.settings)
	})
}

func TestCheckReady(t *testing.T) {
	t.Run("BusySamplesEachCall", func(t *testing.T) {
		d := newFakeDevice()
		defer d.dump(t)
		ch := newTestChannel(t, d)

		for i := 0; i < 3; i++ {
			ready, err := ch.CheckReady()
			require.NoError(t, err)
			assert.False(t, ready)
		}
		assert.Equal(t, 3, d.count("sdo"))
		assert.Equal(t, 3, d.count("cs:LOW"))
		assert.Equal(t, 3, d.count("cs:HIGH"))
		assert.Zero(t, d.count("begin"))
		assert.False(t, d.csLow)
	})

	t.Run("IdempotentOnceReady", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		defer d.dump(t)
		ch := newTestChannel(t, d)

		ready, err := ch.CheckReady()
		require.NoError(t, err)
		require.True(t, ready)
		assert.Equal(t, []string{"cs:LOW", "sdo", "cs:HIGH"}, d.log)

		d.reset()
		for i := 0; i < 5; i++ {
			ready, err = ch.CheckReady()
			require.NoError(t, err)
			assert.True(t, ready)
		}
		assert.Empty(t, d.log)
		assert.True(t, ch.Ready())
	})

	t.Run("SampleErrorReleasesChip", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		d.sdoErr = errFakeBus
		ch := newTestChannel(t, d)

		ready, err := ch.CheckReady()
		assert.ErrorIs(t, err, errFakeBus)
		assert.False(t, ready)
		assert.False(t, d.csLow)
		assert.False(t, ch.Ready())
	})

	t.Run("SelectErrorReleasesChip", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		d.csErr = errFakeBus
		ch := newTestChannel(t, d)

		_, err := ch.CheckReady()
		assert.ErrorIs(t, err, errFakeBus)
		assert.Zero(t, d.count("sdo"))
		assert.Equal(t, "cs:HIGH", d.log[len(d.log)-1])
	})
}

func TestConversion(t *testing.T) {
	t.Run("BusyIsSentinel", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		ch := newTestChannel(t, d)

		code, err := ch.Conversion()
		require.NoError(t, err)
		assert.Zero(t, code)
		assert.Empty(t, d.log)

		raw, ok, err := ch.ReadRaw()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Zero(t, raw)

		s, ok, err := ch.Read()
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, Sample{}, s)
		assert.Empty(t, d.log)
	})

	t.Run("ReadyReadsOneFrame", func(t *testing.T) {
		d := newFakeDevice(0x40000000)
		defer d.dump(t)
		ch := newTestChannel(t, d)

		ready, err := ch.CheckReady()
		require.NoError(t, err)
		require.True(t, ready)
		d.reset()

		code, err := ch.Conversion()
		require.NoError(t, err)
		assert.Equal(t, int32(0x02000000-0x01000000), code)
		assert.Equal(t, []string{"begin", "cs:LOW", "xfer16", "xfer16", "cs:HIGH", "end"}, d.log)
		assert.False(t, ch.Ready())
		assert.Equal(t, DefaultSettings(), d.settings)

		d.reset()
		code, err = ch.Conversion()
		require.NoError(t, err)
		assert.Zero(t, code)
		assert.Empty(t, d.log)
	})

	t.Run("HighHalfFirst", func(t *testing.T) {
		d := newFakeDevice(0x2ABCDEF1)
		ch := newTestChannel(t, d, WithResolution(29))

		_, err := ch.CheckReady()
		require.NoError(t, err)
		raw, ok, err := ch.ReadRaw()
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, uint32(0x2ABCDEF1), raw)
	})

	t.Run("ReadVolts", func(t *testing.T) {
		d := newFakeDevice(0x30000000 + (1 << 27))
		ch := newTestChannel(t, d)
		require.NoError(t, ch.Calibrate(
			ReferencePoint{Volts: 0, Code: 0},
			ReferencePoint{Volts: 1, Code: 1000},
		))

		_, err := ch.CheckReady()
		require.NoError(t, err)
		s, ok, err := ch.Read()
		require.NoError(t, err)
		require.True(t, ok)

		want := NewFactors(24, Bipolar).Decode(0x30000000 + (1 << 27))
		assert.Equal(t, want, s.Code)
		assert.Equal(t, int32(1<<23+1<<22), s.Code)
		assert.InDelta(t, float64(s.Code)*0.001, s.Volts, 1e-9)
		assert.Equal(t, uint32(0x30000000+(1<<27)), s.Raw)
	})

	t.Run("ConfigAppliesAtReadTime", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		ch := newTestChannel(t, d)

		_, err := ch.CheckReady()
		require.NoError(t, err)

		assert.Equal(t, 8, ch.SetResolution(8))
		ch.SetPolarity(Unipolar)

		code, err := ch.Conversion()
		require.NoError(t, err)
		assert.Equal(t, int32(256-128), code)
	})

	t.Run("TransferErrorConsumesFrame", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		ch := newTestChannel(t, d)

		_, err := ch.CheckReady()
		require.NoError(t, err)

		d.xferErr = errFakeBus
		code, err := ch.Conversion()
		assert.ErrorIs(t, err, errFakeBus)
		assert.Zero(t, code)
		assert.False(t, ch.Ready())
		assert.False(t, d.csLow)
		assert.Equal(t, "end", d.log[len(d.log)-1])
	})

	t.Run("BeginErrorLeavesChipAlone", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		ch := newTestChannel(t, d)

		_, err := ch.CheckReady()
		require.NoError(t, err)
		d.reset()

		d.beginErr = errFakeBus
		_, _, err = ch.ReadRaw()
		assert.ErrorIs(t, err, errFakeBus)
		assert.Equal(t, []string{"begin"}, d.log)
		assert.False(t, ch.Ready())
	})
}

func TestClearConversion(t *testing.T) {
	t.Run("Busy", func(t *testing.T) {
		d := newFakeDevice()
		ch := newTestChannel(t, d)

		cleared, err := ch.ClearConversion()
		require.NoError(t, err)
		assert.False(t, cleared)
		assert.Empty(t, d.log)
	})

	t.Run("Ready", func(t *testing.T) {
		d := newFakeDevice(0x20000000, 0x20000001)
		defer d.dump(t)
		ch := newTestChannel(t, d)

		_, err := ch.CheckReady()
		require.NoError(t, err)
		d.reset()

		cleared, err := ch.ClearConversion()
		require.NoError(t, err)
		assert.True(t, cleared)
		assert.Equal(t, []string{"begin", "cs:LOW", "xfer8", "cs:HIGH", "end"}, d.log)
		assert.False(t, ch.Ready())
		assert.Len(t, d.frames, 1)

		cleared, err = ch.ClearConversion()
		require.NoError(t, err)
		assert.False(t, cleared)
	})

	t.Run("Error", func(t *testing.T) {
		d := newFakeDevice(0x20000000)
		ch := newTestChannel(t, d)

		_, err := ch.CheckReady()
		require.NoError(t, err)

		d.xferErr = errFakeBus
		cleared, err := ch.ClearConversion()
		assert.ErrorIs(t, err, errFakeBus)
		assert.False(t, cleared)
		assert.False(t, ch.Ready())
		assert.False(t, d.csLow)
	})
}

func TestChannelCalibration(t *testing.T) {
	t.Run("SwapOnSuccess", func(t *testing.T) {
		ch := newTestChannel(t, newFakeDevice())
		nominal := ch.Calibration()

		require.NoError(t, ch.Calibrate(
			ReferencePoint{Volts: 1, Code: 1000},
			ReferencePoint{Volts: 4, Code: 4000},
		))
		cal := ch.Calibration()
		assert.NotSame(t, nominal, cal)
		assert.False(t, cal.Nominal)
		assert.InDelta(t, 2.5, ch.Voltage(2500), 1e-9)
		assert.Equal(t, int32(2500), ch.Code(2.5))
	})

	t.Run("KeepOnFailure", func(t *testing.T) {
		ch := newTestChannel(t, newFakeDevice())
		before := ch.Calibration()

		err := ch.Calibrate(
			ReferencePoint{Volts: 1, Code: 1000},
			ReferencePoint{Volts: 4, Code: 1000},
		)
		assert.ErrorIs(t, err, ErrInvalidCalibration)
		assert.Same(t, before, ch.Calibration())
	})

	t.Run("NominalFollowsConfig", func(t *testing.T) {
		ch := newTestChannel(t, newFakeDevice())

		ch.SetResolution(16)
		assert.InDelta(t, 5.0/65536, ch.Calibration().StepSize, 1e-15)

		assert.Equal(t, 5.0, ch.SetReferenceVoltage(9))
		assert.Equal(t, 2.0, ch.SetReferenceVoltage(2))
		assert.InDelta(t, 2.0/65536, ch.Calibration().StepSize, 1e-15)
	})

	t.Run("FieldCalibrationSurvivesConfig", func(t *testing.T) {
		ch := newTestChannel(t, newFakeDevice())
		require.NoError(t, ch.Calibrate(
			ReferencePoint{Volts: 1, Code: 1000},
			ReferencePoint{Volts: 4, Code: 4000},
		))
		cal := ch.Calibration()

		ch.SetResolution(12)
		ch.SetReferenceVoltage(1)
		assert.Same(t, cal, ch.Calibration())

		ch.SetCalibration(nil)
		assert.True(t, ch.Calibration().Nominal)
		assert.InDelta(t, 1.0/4096, ch.Calibration().StepSize, 1e-15)
	})
	t.Run("FieldCalibrationSurvivesConcurrentConfig", func(t *testing.T) {
		ch := newTestChannel(t, newFakeDevice())
		cal, err := NewCalibration(
			ReferencePoint{Volts: 1, Code: 1000},
			ReferencePoint{Volts: 4, Code: 4000},
		)
		require.NoError(t, err)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				ch.SetResolution(MinResolution + i%(MaxResolution-MinResolution+1))
				ch.SetReferenceVoltage(float64(i%5) + 0.5)
			}
		}()
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			ch.SetCalibration(cal)
		}()
		wg.Wait()

		assert.Same(t, cal, ch.Calibration())
	})
}

func TestClose(t *testing.T) {
	d := newFakeDevice(0x20000000)
	ch := newTestChannel(t, d)

	_, err := ch.CheckReady()
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.True(t, d.closed)
	assert.False(t, d.csLow)
	assert.False(t, ch.Ready())

	assert.ErrorIs(t, ch.Close(), ErrClosed)
	_, err = ch.CheckReady()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ch.Conversion()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = ch.ClearConversion()
	assert.ErrorIs(t, err, ErrClosed)
}
