package pca9555

import "fmt"

// Address is the 7-bit I2C address of the expander with A0 strapped high
// and A1/A2 low.
const Address uint8 = 0x41

// Register is a PCA9555 register address.
type Register uint8

const (
	InputPort0         Register = 0x00
	InputPort1         Register = 0x01
	OutputPort0        Register = 0x02
	OutputPort1        Register = 0x03
	PolarityInversion0 Register = 0x04
	PolarityInversion1 Register = 0x05
	Configuration0     Register = 0x06
	Configuration1     Register = 0x07
)

// Bank windows of a 16-bit line mask.
const (
	bank0Mask uint16 = 0x00FF
	bank1Mask uint16 = 0xFF00
)

func (r Register) String() string {
	switch r {
	case InputPort0:
		return "InputPort0"
	case InputPort1:
		return "InputPort1"
	case OutputPort0:
		return "OutputPort0"
	case OutputPort1:
		return "OutputPort1"
	case PolarityInversion0:
		return "PolarityInversion0"
	case PolarityInversion1:
		return "PolarityInversion1"
	case Configuration0:
		return "Configuration0"
	case Configuration1:
		return "Configuration1"
	}
	return fmt.Sprintf("Register(0x%02x)", uint8(r))
}
