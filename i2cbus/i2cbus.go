// Package i2cbus adapts a raw I2C transaction interface to register-level
// reads and writes of 8-bit registers.
//
// Any value with a Tx(addr, w, r) method works: tinygo.org/x/drivers.I2C
// (machine.I2C on TinyGo targets) and periph.io/x/conn/v3/i2c.Bus both
// qualify.
package i2cbus

import (
	"sync"

	"tinygo.org/x/drivers"
)

// Tx is the I2C transaction primitive. It has the same method set as
// drivers.I2C.
type Tx interface {
	Tx(addr uint16, w, r []byte) error
}

var _ Tx = drivers.I2C(nil)

// Bus performs byte-wide register accesses over an I2C bus. Errors from
// the underlying bus are returned unchanged.
type Bus struct {
	mu  sync.Mutex
	i2c Tx
}

// New wraps bus.
func New(bus Tx) *Bus {
	return &Bus{i2c: bus}
}

// WriteRegister writes value to register reg of the device at addr.
func (b *Bus) WriteRegister(addr, reg uint8, value byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(addr, reg, value)
}

// ReadRegister reads register reg of the device at addr, using a
// repeated start between the register write and the read.
func (b *Bus) ReadRegister(addr, reg uint8) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(addr, reg)
}

// UpdateRegister reads reg, clears the bits in clear, sets the bits in set
// and writes the result back. No other access through b can happen
// between the read and the write.
func (b *Bus) UpdateRegister(addr, reg uint8, set, clear byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, err := b.read(addr, reg)
	if err != nil {
		return err
	}
	return b.write(addr, reg, cur&^clear|set)
}

func (b *Bus) write(addr, reg uint8, value byte) error {
	buf := [2]byte{reg, value}
	return b.i2c.Tx(uint16(addr), buf[:], nil)
}

func (b *Bus) read(addr, reg uint8) (byte, error) {
	w := [1]byte{reg}
	var r [1]byte
	if err := b.i2c.Tx(uint16(addr), w[:], r[:]); err != nil {
		return 0, err
	}
	return r[0], nil
}
