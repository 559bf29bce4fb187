package pca9555_test

import (
	"testing"

	"pcaport/i2cbus"
	"pcaport/pca9555"

	"periph.io/x/conn/v3/i2c/i2ctest"
	"tinygo.org/x/drivers/tester"
)

func TestPlaybackOverI2C(t *testing.T) {
	const addr = 0x41
	io := func(w, r []byte) i2ctest.IO { return i2ctest.IO{Addr: addr, W: w, R: r} }
	bus := &i2ctest.Playback{
		Ops: []i2ctest.IO{
			// P00 output
			io([]byte{0x06}, []byte{0xFF}), io([]byte{0x06, 0xFE}, nil),
			// P07 output, then input
			io([]byte{0x06}, []byte{0xFE}), io([]byte{0x06, 0x7E}, nil),
			io([]byte{0x06}, []byte{0x7E}), io([]byte{0x06, 0xFE}, nil),
			// P10 output
			io([]byte{0x07}, []byte{0xFF}), io([]byte{0x07, 0xFE}, nil),
			// P00 high, low; P10 high, low
			io([]byte{0x02, 0xFF}, nil), io([]byte{0x02, 0xFE}, nil),
			io([]byte{0x03, 0xFF}, nil), io([]byte{0x03, 0xFE}, nil),
			// P07 reads
			io([]byte{0x00}, []byte{0x80}), io([]byte{0x00}, []byte{0x7F}),
		},
		DontPanic: true,
	}

	pins := pca9555.New(i2cbus.New(bus)).Split()
	p00, err := pins.P00.IntoOutput()
	if err != nil {
		t.Fatal(err)
	}
	p07out, err := pins.P07.IntoOutput()
	if err != nil {
		t.Fatal(err)
	}
	p07, err := p07out.IntoInput()
	if err != nil {
		t.Fatal(err)
	}
	p10, err := pins.P10.IntoOutput()
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range []func() error{p00.SetHigh, p00.SetLow, p10.SetHigh, p10.SetLow} {
		if err := step(); err != nil {
			t.Fatal(err)
		}
	}
	if high, err := p07.IsHigh(); err != nil || !high {
		t.Errorf("Expected P07 high, got %v (%v)", high, err)
	}
	if low, err := p07.IsLow(); err != nil || !low {
		t.Errorf("Expected P07 low, got %v (%v)", low, err)
	}

	if err := bus.Close(); err != nil {
		t.Errorf("playback not fully consumed: %v", err)
	}
}

func TestRegisterFileOverI2C(t *testing.T) {
	bus := tester.NewI2CBus(t)
	chip := tester.NewI2CDevice8(t, pca9555.Address)
	bus.AddDevice(chip)
	chip.Registers[uint8(pca9555.OutputPort0)] = 0xFF
	chip.Registers[uint8(pca9555.OutputPort1)] = 0xFF
	chip.Registers[uint8(pca9555.Configuration0)] = 0xFF
	chip.Registers[uint8(pca9555.Configuration1)] = 0xFF
	chip.Registers[uint8(pca9555.InputPort1)] = 0x40

	dev := pca9555.New(i2cbus.New(bus))
	pins := dev.Split()

	relay, err := pins.P13.IntoOutputLow()
	if err != nil {
		t.Fatal(err)
	}
	button, err := pins.P16.IntoInput()
	if err != nil {
		t.Fatal(err)
	}
	if chip.Registers[uint8(pca9555.Configuration1)] != 0xF7 {
		t.Errorf("Expected configuration 0xf7, got 0x%02x", chip.Registers[uint8(pca9555.Configuration1)])
	}
	if chip.Registers[uint8(pca9555.OutputPort1)] != 0xF7 {
		t.Errorf("Expected output 0xf7, got 0x%02x", chip.Registers[uint8(pca9555.OutputPort1)])
	}

	pressed, err := button.IsHigh()
	if err != nil {
		t.Fatal(err)
	}
	if !pressed {
		t.Error("Expected P16 high")
	}

	if err := relay.Toggle(); err != nil {
		t.Fatal(err)
	}
	if chip.Registers[uint8(pca9555.OutputPort1)] != 0xFF {
		t.Errorf("Expected output 0xff after toggle, got 0x%02x", chip.Registers[uint8(pca9555.OutputPort1)])
	}

	// Something else rewrote the latch behind the driver's back.
	chip.Registers[uint8(pca9555.OutputPort0)] = 0x0F
	if err := dev.Resync(); err != nil {
		t.Fatal(err)
	}
	err = dev.Port(func(d *pca9555.Driver) error {
		if d.Output() != 0xFF0F {
			t.Errorf("Expected shadow 0xff0f, got 0x%04x", d.Output())
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}
