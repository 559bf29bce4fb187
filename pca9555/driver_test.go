package pca9555

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestSetHighSingleLineTouchesOneBank(t *testing.T) {
	for line := 0; line < NumPins; line++ {
		bus := newMockBus()
		d := NewDriver(bus)
		mask := uint16(1) << line

		if err := d.SetLow(mask); err != nil {
			t.Fatalf("line %d: SetLow failed: %v", line, err)
		}
		if err := d.SetHigh(mask); err != nil {
			t.Fatalf("line %d: SetHigh failed: %v", line, err)
		}

		var want []tx
		if line < 8 {
			want = []tx{
				wr(OutputPort0, ^uint8(1<<line)),
				wr(OutputPort0, 0xFF),
			}
		} else {
			want = []tx{
				wr(OutputPort1, ^uint8(1<<(line-8))),
				wr(OutputPort1, 0xFF),
			}
		}
		if diff := cmp.Diff(want, bus.log); diff != "" {
			t.Errorf("line %d: unexpected transactions (-want +got):\n%s", line, diff)
		}
	}
}

func TestSetLowBothBanks(t *testing.T) {
	bus := newMockBus()
	d := NewDriver(bus)

	if err := d.SetLow(0x8001); err != nil {
		t.Fatalf("SetLow failed: %v", err)
	}
	if err := d.SetHigh(0x0100); err != nil {
		t.Fatalf("SetHigh failed: %v", err)
	}
	if err := d.SetLow(0x0210); err != nil {
		t.Fatalf("SetLow failed: %v", err)
	}

	want := []tx{
		wr(OutputPort0, 0xFE),
		wr(OutputPort1, 0x7F),
		wr(OutputPort1, 0x7F),
		wr(OutputPort0, 0xEE),
		wr(OutputPort1, 0x7D),
	}
	if diff := cmp.Diff(want, bus.log); diff != "" {
		t.Errorf("unexpected transactions (-want +got):\n%s", diff)
	}
	if got := d.Output(); got != 0x7DEE {
		t.Errorf("Expected shadow 0x7dee, got 0x%04x", got)
	}
}

func TestIsSetUsesShadowOnly(t *testing.T) {
	bus := newMockBus()
	d := NewDriver(bus)
	if err := d.SetLow(0x00F0); err != nil {
		t.Fatalf("SetLow failed: %v", err)
	}
	bus.reset()

	tests := []struct {
		mask    uint16
		setHigh bool
		setLow  bool
	}{
		{0x0010, false, true},
		{0x0001, true, false},
		{0x00F0, false, true},
		{0x00F1, true, false}, // any-bit test
		{0xFF00, true, false},
	}
	for _, tt := range tests {
		if got := d.IsSetHigh(tt.mask); got != tt.setHigh {
			t.Errorf("IsSetHigh(0x%04x): expected %v, got %v", tt.mask, tt.setHigh, got)
		}
		if got := d.IsSetLow(tt.mask); got != tt.setLow {
			t.Errorf("IsSetLow(0x%04x): expected %v, got %v", tt.mask, tt.setLow, got)
		}
	}
	if len(bus.log) != 0 {
		t.Errorf("Expected no bus traffic, got %v", bus.log)
	}
}

func TestIsHighReadsTouchedBanks(t *testing.T) {
	bus := newMockBus()
	bus.regs[InputPort0] = 0x80
	bus.regs[InputPort1] = 0x01
	d := NewDriver(bus)

	tests := []struct {
		mask uint16
		high bool
		want []tx
	}{
		{0x0080, true, []tx{rd(InputPort0, 0x80)}},
		{0x0040, false, []tx{rd(InputPort0, 0x80)}},
		{0x0100, true, []tx{rd(InputPort1, 0x01)}},
		{0x8000, false, []tx{rd(InputPort1, 0x01)}},
		{0x8040, false, []tx{rd(InputPort0, 0x80), rd(InputPort1, 0x01)}},
		{0x8080, true, []tx{rd(InputPort0, 0x80), rd(InputPort1, 0x01)}},
	}
	for _, tt := range tests {
		bus.reset()
		high, err := d.IsHigh(tt.mask)
		if err != nil {
			t.Fatalf("IsHigh(0x%04x) failed: %v", tt.mask, err)
		}
		if high != tt.high {
			t.Errorf("IsHigh(0x%04x): expected %v, got %v", tt.mask, tt.high, high)
		}
		if diff := cmp.Diff(tt.want, bus.log); diff != "" {
			t.Errorf("IsHigh(0x%04x): unexpected transactions (-want +got):\n%s", tt.mask, diff)
		}

		low, err := d.IsLow(tt.mask)
		if err != nil {
			t.Fatalf("IsLow(0x%04x) failed: %v", tt.mask, err)
		}
		if low == high {
			t.Errorf("IsLow(0x%04x) should be the negation of IsHigh, both %v", tt.mask, low)
		}
	}
}

func TestSetDirectionPreservesOtherBits(t *testing.T) {
	bus := newMockBus()
	bus.regs[Configuration0] = 0xA5
	bus.regs[Configuration1] = 0x3C
	d := NewDriver(bus)

	const mask = 0x0C03
	if err := d.SetDirection(mask, Output); err != nil {
		t.Fatalf("SetDirection(Output) failed: %v", err)
	}
	if bus.regs[Configuration0] != 0xA4 || bus.regs[Configuration1] != 0x30 {
		t.Errorf("After Output expected config 0xa4/0x30, got 0x%02x/0x%02x",
			bus.regs[Configuration0], bus.regs[Configuration1])
	}
	if err := d.SetDirection(mask, Input); err != nil {
		t.Fatalf("SetDirection(Input) failed: %v", err)
	}

	want := []tx{
		rd(Configuration0, 0xA5), wr(Configuration0, 0xA4),
		rd(Configuration1, 0x3C), wr(Configuration1, 0x30),
		rd(Configuration0, 0xA4), wr(Configuration0, 0xA7),
		rd(Configuration1, 0x30), wr(Configuration1, 0x3C),
	}
	if diff := cmp.Diff(want, bus.log); diff != "" {
		t.Errorf("unexpected transactions (-want +got):\n%s", diff)
	}

	// Only bits inside the mask may differ from the starting value.
	got := uint16(bus.regs[Configuration1])<<8 | uint16(bus.regs[Configuration0])
	if got&^mask != 0x3CA5&^mask {
		t.Errorf("Bits outside mask changed: start 0x3ca5, now 0x%04x", got)
	}
}

func TestDriverPropagatesBusErrors(t *testing.T) {
	busErr := errors.New("nack")

	tests := []struct {
		name string
		reg  Register
		op   func(d *Driver) error
	}{
		{"SetHigh bank0", OutputPort0, func(d *Driver) error { return d.SetHigh(0x0001) }},
		{"SetLow bank1", OutputPort1, func(d *Driver) error { return d.SetLow(0x0100) }},
		{"SetHigh second bank", OutputPort1, func(d *Driver) error { return d.SetHigh(0x0101) }},
		{"IsHigh", InputPort0, func(d *Driver) error { _, err := d.IsHigh(0x0001); return err }},
		{"IsLow", InputPort1, func(d *Driver) error { _, err := d.IsLow(0x0100); return err }},
		{"SetDirection", Configuration1, func(d *Driver) error { return d.SetDirection(0x8000, Output) }},
		{"Resync", OutputPort1, func(d *Driver) error { return d.Resync() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bus := newMockBus()
			bus.fail[tt.reg] = busErr
			if err := tt.op(NewDriver(bus)); err != busErr {
				t.Errorf("Expected bus error returned unchanged, got %v", err)
			}
		})
	}
}

func TestFailedWriteLeavesShadowAhead(t *testing.T) {
	bus := newMockBus()
	d := NewDriver(bus)
	bus.fail[OutputPort0] = errors.New("arbitration lost")

	if err := d.SetLow(0x0001); err == nil {
		t.Fatal("Expected SetLow to fail")
	}
	if d.Output() != 0xFFFE {
		t.Errorf("Expected shadow 0xfffe after failed write, got 0x%04x", d.Output())
	}
	if bus.regs[OutputPort0] != 0xFF {
		t.Errorf("Expected chip output 0xff, got 0x%02x", bus.regs[OutputPort0])
	}

	delete(bus.fail, OutputPort0)
	if err := d.Resync(); err != nil {
		t.Fatalf("Resync failed: %v", err)
	}
	if d.Output() != 0xFFFF {
		t.Errorf("Expected shadow 0xffff after resync, got 0x%04x", d.Output())
	}
}

func TestRegisterString(t *testing.T) {
	if got := Configuration1.String(); got != "Configuration1" {
		t.Errorf("Expected Configuration1, got %s", got)
	}
	if got := Register(0x2A).String(); got != "Register(0x2a)" {
		t.Errorf("Expected Register(0x2a), got %s", got)
	}
}
