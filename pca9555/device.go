// Package pca9555 drives the PCA9555 16-bit I2C I/O expander.
//
// A Device owns the register driver behind a lock. Split hands out one
// handle per line; each handle is typed by its mode, so level writes only
// exist on *OutputPin and level reads only on *InputPin:
//
//	dev := pca9555.New(bus)
//	pins := dev.Split()
//	led, err := pins.P00.IntoOutput()
//	if err != nil {
//		return err
//	}
//	err = led.SetHigh()
//
// Mode changes consume the handle they are called on. A consumed handle
// reports ErrPinMoved on every later call.
package pca9555

import (
	"errors"
	"sync"

	"github.com/go-logr/logr"
)

var (
	// ErrPinMoved is returned by a pin handle that was consumed by a
	// mode transition.
	ErrPinMoved = errors.New("pca9555: pin handle used after mode change")

	// ErrStaleHandle is returned by a pin handle from an earlier Split.
	ErrStaleHandle = errors.New("pca9555: pin handle from a previous split")
)

// Device is a PCA9555 with its register driver behind a lock.
type Device struct {
	mu     sync.Locker
	driver *Driver
	gen    uint32
	log    logr.Logger
}

// Option configures a Device.
type Option func(*Device)

// WithLocker replaces the default mutex guarding the driver.
func WithLocker(l sync.Locker) Option {
	return func(d *Device) {
		d.mu = l
	}
}

// WithLogger sets the logger used for lifecycle messages.
func WithLogger(l logr.Logger) Option {
	return func(d *Device) {
		d.log = l
	}
}

// NoLock is a sync.Locker that does nothing. It is only correct when all
// pins of the device are used from a single goroutine.
type NoLock struct{}

func (NoLock) Lock()   {}
func (NoLock) Unlock() {}

// New returns a device talking to the expander at Address on bus.
// No bus traffic is generated until a pin is used.
func New(bus Bus, opts ...Option) *Device {
	d := &Device{
		mu:     new(sync.Mutex),
		driver: NewDriver(bus),
		log:    logr.Discard(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Split returns one unconfigured handle per line. Handles from a previous
// Split stop working and report ErrStaleHandle.
func (d *Device) Split() *Parts {
	d.mu.Lock()
	d.gen++
	gen := d.gen
	d.mu.Unlock()

	d.log.V(1).Info("split", "generation", gen)

	var p Parts
	pins := [NumPins]**UnconfiguredPin{
		&p.P00, &p.P01, &p.P02, &p.P03, &p.P04, &p.P05, &p.P06, &p.P07,
		&p.P10, &p.P11, &p.P12, &p.P13, &p.P14, &p.P15, &p.P16, &p.P17,
	}
	for i, dst := range pins {
		*dst = &UnconfiguredPin{pin{index: uint8(i), dev: d, gen: gen}}
	}
	return &p
}

// Port runs fn with exclusive access to the driver, for operations that
// span several lines at once.
func (d *Device) Port(fn func(*Driver) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return fn(d.driver)
}

// Resync reloads the output shadow from the chip.
func (d *Device) Resync() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.driver.Resync(); err != nil {
		return err
	}
	d.log.V(1).Info("resynchronized output shadow", "output", d.driver.out)
	return nil
}

// NumPins is the number of I/O lines on the expander.
const NumPins = 16

// Parts holds the 16 line handles produced by Split. Pxy is line y of
// bank x, i.e. index 8*x+y.
type Parts struct {
	P00, P01, P02, P03, P04, P05, P06, P07 *UnconfiguredPin
	P10, P11, P12, P13, P14, P15, P16, P17 *UnconfiguredPin
}

// Pins returns the handles ordered by line index.
func (p *Parts) Pins() [NumPins]*UnconfiguredPin {
	return [NumPins]*UnconfiguredPin{
		p.P00, p.P01, p.P02, p.P03, p.P04, p.P05, p.P06, p.P07,
		p.P10, p.P11, p.P12, p.P13, p.P14, p.P15, p.P16, p.P17,
	}
}
