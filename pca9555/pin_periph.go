package pca9555

import (
	"errors"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// OutputPin can be handed to periph device drivers as a gpio.PinOut.
var _ gpio.PinOut = (*OutputPin)(nil)

var errNoPWM = errors.New("pca9555: PWM not supported")

// Number implements pin.Pin.
func (p *OutputPin) Number() int {
	return p.Index()
}

// Function implements pin.Pin.
func (p *OutputPin) Function() string {
	return "Out"
}

// Halt implements conn.Resource. The line keeps its level.
func (p *OutputPin) Halt() error {
	return nil
}

// Out implements gpio.PinOut.
func (p *OutputPin) Out(l gpio.Level) error {
	return p.SetState(l == gpio.High)
}

// PWM implements gpio.PinOut. The expander has no PWM hardware.
func (p *OutputPin) PWM(gpio.Duty, physic.Frequency) error {
	return errNoPWM
}
