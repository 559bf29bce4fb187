package pca9555

import "fmt"

// pin is the state shared by every handle type: the line index and the
// device it belongs to. moved and the device generation are only read
// and written with the device lock held.
type pin struct {
	index uint8
	dev   *Device
	gen   uint32
	moved bool
}

// Index returns the line number, 0 to 15.
func (p *pin) Index() int {
	return int(p.index)
}

// Name returns the datasheet name of the line, P00 to P17.
func (p *pin) Name() string {
	return fmt.Sprintf("P%d%d", p.index/8, p.index%8)
}

func (p *pin) String() string {
	return "pca9555." + p.Name()
}

func (p *pin) mask() uint16 {
	return 1 << p.index
}

func (p *pin) checkLocked() error {
	if p.moved {
		return ErrPinMoved
	}
	if p.gen != p.dev.gen {
		return ErrStaleHandle
	}
	return nil
}

// do runs fn against the driver within one critical section.
func (p *pin) do(fn func(d *Driver, mask uint16) error) error {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return err
	}
	return fn(p.dev.driver, p.mask())
}

// latch selects the output level written ahead of a direction change.
type latch uint8

const (
	latchKeep latch = iota
	latchHigh
	latchLow
)

// into consumes p and reconfigures its line. Unless lvl is latchKeep the
// output latch is written before the direction changes. The old handle is
// spent even when the bus returns an error.
func (p *pin) into(dir Direction, lvl latch) (pin, error) {
	p.dev.mu.Lock()
	defer p.dev.mu.Unlock()
	if err := p.checkLocked(); err != nil {
		return pin{}, err
	}
	p.moved = true

	d, mask := p.dev.driver, p.mask()
	var err error
	switch lvl {
	case latchHigh:
		err = d.SetHigh(mask)
	case latchLow:
		err = d.SetLow(mask)
	}
	if err != nil {
		return pin{}, err
	}
	if err := d.SetDirection(mask, dir); err != nil {
		return pin{}, err
	}
	return pin{index: p.index, dev: p.dev, gen: p.gen}, nil
}

func intoInput(p *pin) (*InputPin, error) {
	next, err := p.into(Input, latchKeep)
	if err != nil {
		return nil, err
	}
	return &InputPin{next}, nil
}

func intoOutput(p *pin, lvl latch) (*OutputPin, error) {
	next, err := p.into(Output, lvl)
	if err != nil {
		return nil, err
	}
	return &OutputPin{next}, nil
}

// UnconfiguredPin is a line fresh from Split. The chip powers up with all
// lines as inputs but the handle makes no assumption; it must be converted
// before use.
type UnconfiguredPin struct {
	pin
}

// IntoInput configures the line as an input.
func (p *UnconfiguredPin) IntoInput() (*InputPin, error) {
	return intoInput(&p.pin)
}

// IntoOutput configures the line as an output driving the level currently
// held in the output latch.
func (p *UnconfiguredPin) IntoOutput() (*OutputPin, error) {
	return intoOutput(&p.pin, latchKeep)
}

// IntoOutputHigh latches a high level, then configures the line as output.
func (p *UnconfiguredPin) IntoOutputHigh() (*OutputPin, error) {
	return intoOutput(&p.pin, latchHigh)
}

// IntoOutputLow latches a low level, then configures the line as output.
func (p *UnconfiguredPin) IntoOutputLow() (*OutputPin, error) {
	return intoOutput(&p.pin, latchLow)
}

// InputPin is a line configured as input.
type InputPin struct {
	pin
}

// IsHigh reads the line level from the input register.
func (p *InputPin) IsHigh() (high bool, err error) {
	err = p.do(func(d *Driver, mask uint16) error {
		high, err = d.IsHigh(mask)
		return err
	})
	return high, err
}

// IsLow reads the line level from the input register.
func (p *InputPin) IsLow() (low bool, err error) {
	err = p.do(func(d *Driver, mask uint16) error {
		low, err = d.IsLow(mask)
		return err
	})
	return low, err
}

// IntoOutput configures the line as an output.
func (p *InputPin) IntoOutput() (*OutputPin, error) {
	return intoOutput(&p.pin, latchKeep)
}

// IntoOutputHigh latches a high level, then configures the line as output.
func (p *InputPin) IntoOutputHigh() (*OutputPin, error) {
	return intoOutput(&p.pin, latchHigh)
}

// IntoOutputLow latches a low level, then configures the line as output.
func (p *InputPin) IntoOutputLow() (*OutputPin, error) {
	return intoOutput(&p.pin, latchLow)
}

// OutputPin is a line configured as output.
type OutputPin struct {
	pin
}

// SetHigh drives the line high.
func (p *OutputPin) SetHigh() error {
	return p.do((*Driver).SetHigh)
}

// SetLow drives the line low.
func (p *OutputPin) SetLow() error {
	return p.do((*Driver).SetLow)
}

// SetState drives the line high when high is true, low otherwise.
func (p *OutputPin) SetState(high bool) error {
	if high {
		return p.SetHigh()
	}
	return p.SetLow()
}

// Toggle inverts the commanded level of the line.
func (p *OutputPin) Toggle() error {
	return p.do(func(d *Driver, mask uint16) error {
		if d.IsSetHigh(mask) {
			return d.SetLow(mask)
		}
		return d.SetHigh(mask)
	})
}

// IsSetHigh reports whether the line is commanded high. It does not
// touch the bus; the only possible errors are ErrPinMoved and
// ErrStaleHandle.
func (p *OutputPin) IsSetHigh() (high bool, err error) {
	err = p.do(func(d *Driver, mask uint16) error {
		high = d.IsSetHigh(mask)
		return nil
	})
	return high, err
}

// IsSetLow reports whether the line is commanded low.
func (p *OutputPin) IsSetLow() (low bool, err error) {
	err = p.do(func(d *Driver, mask uint16) error {
		low = d.IsSetLow(mask)
		return nil
	})
	return low, err
}

// IntoInput configures the line as an input.
func (p *OutputPin) IntoInput() (*InputPin, error) {
	return intoInput(&p.pin)
}
