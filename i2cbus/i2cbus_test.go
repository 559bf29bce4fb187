package i2cbus

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"periph.io/x/conn/v3/i2c"
	"tinygo.org/x/drivers/tester"
)

// periph buses plug in directly.
var _ Tx = i2c.Bus(nil)

type call struct {
	Addr uint16
	W    []byte
	R    int
}

type recorder struct {
	calls []call
	reply byte
	err   error
}

func (r *recorder) Tx(addr uint16, w, rd []byte) error {
	r.calls = append(r.calls, call{Addr: addr, W: append([]byte(nil), w...), R: len(rd)})
	if r.err != nil {
		return r.err
	}
	for i := range rd {
		rd[i] = r.reply
	}
	return nil
}

func TestTransactionFraming(t *testing.T) {
	rec := &recorder{reply: 0x5A}
	b := New(rec)

	if err := b.WriteRegister(0x41, 0x02, 0xFE); err != nil {
		t.Fatalf("WriteRegister failed: %v", err)
	}
	v, err := b.ReadRegister(0x41, 0x00)
	if err != nil {
		t.Fatalf("ReadRegister failed: %v", err)
	}
	if v != 0x5A {
		t.Errorf("Expected 0x5a, got 0x%02x", v)
	}
	if err := b.UpdateRegister(0x41, 0x06, 0x01, 0x50); err != nil {
		t.Fatalf("UpdateRegister failed: %v", err)
	}

	want := []call{
		{Addr: 0x41, W: []byte{0x02, 0xFE}},
		{Addr: 0x41, W: []byte{0x00}, R: 1},
		{Addr: 0x41, W: []byte{0x06}, R: 1},
		{Addr: 0x41, W: []byte{0x06, 0x0B}},
	}
	if diff := cmp.Diff(want, rec.calls); diff != "" {
		t.Errorf("unexpected transactions (-want +got):\n%s", diff)
	}
}

func TestErrorsReturnedUnchanged(t *testing.T) {
	busErr := errors.New("i2c: nack")
	b := New(&recorder{err: busErr})

	if err := b.WriteRegister(0x41, 0x02, 0); err != busErr {
		t.Errorf("WriteRegister: expected bus error, got %v", err)
	}
	if _, err := b.ReadRegister(0x41, 0x00); err != busErr {
		t.Errorf("ReadRegister: expected bus error, got %v", err)
	}
	if err := b.UpdateRegister(0x41, 0x06, 0, 1); err != busErr {
		t.Errorf("UpdateRegister: expected bus error, got %v", err)
	}
}

func TestUpdateRegisterOnFakeDevice(t *testing.T) {
	bus := tester.NewI2CBus(t)
	dev := tester.NewI2CDevice8(t, 0x41)
	bus.AddDevice(dev)
	dev.Registers[0x07] = 0xF0

	b := New(bus)
	if err := b.UpdateRegister(0x41, 0x07, 0x01, 0x30); err != nil {
		t.Fatalf("UpdateRegister failed: %v", err)
	}
	if got := dev.Registers[0x07]; got != 0xC1 {
		t.Errorf("Expected register 0xc1, got 0x%02x", got)
	}

	v, err := b.ReadRegister(0x41, 0x07)
	if err != nil {
		t.Fatalf("ReadRegister failed: %v", err)
	}
	if v != 0xC1 {
		t.Errorf("Expected read 0xc1, got 0x%02x", v)
	}
}
