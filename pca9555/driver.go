package pca9555

// Direction selects the configuration of a set of lines.
type Direction uint8

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Driver translates 16-bit line masks into register transactions on the
// two 8-bit banks of the expander. A mask touching only one bank never
// generates traffic on the other.
//
// Driver is not safe for concurrent use; Device serializes access to it.
type Driver struct {
	bus Bus

	// out mirrors the last value written to both output registers.
	// It is never read back from the chip except by Resync.
	out uint16
}

// NewDriver returns a driver for the expander at Address on bus.
// The output shadow starts at 0xFFFF, the chip's power-on value.
func NewDriver(bus Bus) *Driver {
	return &Driver{bus: bus, out: 0xFFFF}
}

// Output returns the cached output register value.
func (d *Driver) Output() uint16 {
	return d.out
}

// SetHigh commands the lines in mask high.
//
// The shadow is updated before the bus write. If the write fails the
// shadow is ahead of the chip until the next successful write of that bank
// or a Resync.
func (d *Driver) SetHigh(mask uint16) error {
	d.out |= mask
	return d.writeOutput(mask)
}

// SetLow commands the lines in mask low. See SetHigh for failure behavior.
func (d *Driver) SetLow(mask uint16) error {
	d.out &^= mask
	return d.writeOutput(mask)
}

func (d *Driver) writeOutput(mask uint16) error {
	if mask&bank0Mask != 0 {
		if err := d.bus.WriteRegister(Address, uint8(OutputPort0), uint8(d.out)); err != nil {
			return err
		}
	}
	if mask&bank1Mask != 0 {
		if err := d.bus.WriteRegister(Address, uint8(OutputPort1), uint8(d.out>>8)); err != nil {
			return err
		}
	}
	return nil
}

// IsSetHigh reports whether any line in mask is commanded high.
// It only consults the shadow.
func (d *Driver) IsSetHigh(mask uint16) bool {
	return d.out&mask != 0
}

// IsSetLow reports whether every line in mask is commanded low.
func (d *Driver) IsSetLow(mask uint16) bool {
	return d.out&mask == 0
}

// IsHigh reads the input registers of the banks touched by mask and
// reports whether any masked line is high.
func (d *Driver) IsHigh(mask uint16) (bool, error) {
	in, err := d.readInput(mask)
	if err != nil {
		return false, err
	}
	return in&mask != 0, nil
}

// IsLow is the negation of IsHigh over the same mask: it reports whether
// every masked line is low.
func (d *Driver) IsLow(mask uint16) (bool, error) {
	high, err := d.IsHigh(mask)
	if err != nil {
		return false, err
	}
	return !high, nil
}

func (d *Driver) readInput(mask uint16) (uint16, error) {
	var io0, io1 uint8
	var err error
	if mask&bank0Mask != 0 {
		if io0, err = d.bus.ReadRegister(Address, uint8(InputPort0)); err != nil {
			return 0, err
		}
	}
	if mask&bank1Mask != 0 {
		if io1, err = d.bus.ReadRegister(Address, uint8(InputPort1)); err != nil {
			return 0, err
		}
	}
	return uint16(io1)<<8 | uint16(io0), nil
}

// SetDirection configures the lines in mask. A configuration bit of 1
// means input. Bits outside mask are preserved by a read-modify-write per
// touched bank since the configuration registers are not cached.
func (d *Driver) SetDirection(mask uint16, dir Direction) error {
	var set, clear uint16
	if dir == Input {
		set = mask
	} else {
		clear = mask
	}
	if mask&bank0Mask != 0 {
		if err := d.bus.UpdateRegister(Address, uint8(Configuration0), uint8(set), uint8(clear)); err != nil {
			return err
		}
	}
	if mask&bank1Mask != 0 {
		if err := d.bus.UpdateRegister(Address, uint8(Configuration1), uint8(set>>8), uint8(clear>>8)); err != nil {
			return err
		}
	}
	return nil
}

// Resync reads both output registers and replaces the shadow with their
// contents. Use it after a failed SetHigh or SetLow.
func (d *Driver) Resync() error {
	lo, err := d.bus.ReadRegister(Address, uint8(OutputPort0))
	if err != nil {
		return err
	}
	hi, err := d.bus.ReadRegister(Address, uint8(OutputPort1))
	if err != nil {
		return err
	}
	d.out = uint16(hi)<<8 | uint16(lo)
	return nil
}
