package ltc2413

import (
	"errors"
	"testing"

	"github.com/l0nax/go-spew/spew"
)

var pprint = spew.ConfigState{
	Indent:   "\t",
	SortKeys: true,
	SpewKeys: true,
}

var errFakeBus = errors.New("fake bus failure")

// fakeDevice emulates the LTC2413 end of the bus and records every call made
// by the channel, in order.
type fakeDevice struct {
	log []string

	csLow     bool
	settings  Settings
	frames    []uint32 // pending conversion results, oldest first
	busyPolls int      // SDO reads that report busy before a pending frame shows
	half      int      // half-words of frames[0] already shifted out

	beginErr error
	xferErr  error
	sdoErr   error
	csErr    error
	closed   bool
}

type fakeCS struct{ d *fakeDevice }

type fakeSDO struct{ d *fakeDevice }

func newFakeDevice(frames ...uint32) *fakeDevice {
	return &fakeDevice{frames: frames}
}

func (d *fakeDevice) lines() (Line, Line) {
	return fakeCS{d}, fakeSDO{d}
}

func (d *fakeDevice) record(op string) {
	d.log = append(d.log, op)
}

func (d *fakeDevice) reset() {
	d.log = nil
}

func (d *fakeDevice) count(op string) int {
	n := 0
	for _, o := range d.log {
		if o == op {
			n++
		}
	}
	return n
}

func (d *fakeDevice) dump(t *testing.T) {
	t.Helper()
	if t.Failed() {
		t.Logf("bus log:\n%s", pprint.Sdump(d.log))
	}
}

func (d *fakeDevice) BeginTransaction(s Settings) error {
	d.record("begin")
	if d.beginErr != nil {
		return d.beginErr
	}
	d.settings = s
	return nil
}

func (d *fakeDevice) Transfer16(w uint16) (uint16, error) {
	d.record("xfer16")
	if d.xferErr != nil {
		return 0, d.xferErr
	}
	if !d.csLow || len(d.frames) == 0 {
		return 0xFFFF, nil
	}
	f := d.frames[0]
	var out uint16
	if d.half == 0 {
		out = uint16(f >> 16)
		d.half = 1
	} else {
		out = uint16(f)
		d.half = 0
		d.frames = d.frames[1:]
	}
	return out, nil
}

func (d *fakeDevice) Transfer8(b byte) (byte, error) {
	d.record("xfer8")
	if d.xferErr != nil {
		return 0, d.xferErr
	}
	if d.csLow && len(d.frames) > 0 {
		d.frames = d.frames[1:]
		d.half = 0
	}
	return 0xFF, nil
}

func (d *fakeDevice) EndTransaction() error {
	d.record("end")
	return nil
}

func (d *fakeDevice) Close() error {
	d.record("close")
	d.closed = true
	return nil
}

func (cs fakeCS) Write(l Level) error {
	cs.d.record("cs:" + l.String())
	if cs.d.csErr != nil && l == Low {
		return cs.d.csErr
	}
	cs.d.csLow = l == Low
	return nil
}

func (cs fakeCS) Read() (Level, error) {
	return Level(!cs.d.csLow), nil
}

func (s fakeSDO) Read() (Level, error) {
	s.d.record("sdo")
	if s.d.sdoErr != nil {
		return High, s.d.sdoErr
	}
	if s.d.busyPolls > 0 {
		s.d.busyPolls--
		return High, nil
	}
	if s.d.csLow && len(s.d.frames) > 0 {
		return Low, nil
	}
	return High, nil
}

func (s fakeSDO) Write(Level) error {
	return errors.New("sdo is an input")
}

func newTestChannel(t *testing.T, d *fakeDevice, opts ...Option) *Channel {
	t.Helper()
	cs, sdo := d.lines()
	ch, err := NewChannel(d, cs, sdo, opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	d.reset()
	return ch
}
