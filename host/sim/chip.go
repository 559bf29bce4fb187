// Package sim emulates PCA9555 expanders and a Klipper-protocol I2C bridge
// MCU in process, for tests and for running the tools without hardware.
package sim

import (
	"errors"
	"fmt"
	"sync"

	"pcaport/pca9555"
)

// ErrNoDevice is the simulated NACK of an address with no chip attached.
var ErrNoDevice = errors.New("sim: no device at address")

// Chip is a PCA9555 register file. Like the real part, a read or write
// that runs past the first register of a pair continues with its partner,
// so a two byte read of InputPort0 returns both input banks.
type Chip struct {
	mu      sync.Mutex
	regs    [8]byte
	ptr     uint8
	levels  uint16
	history []Access
}

// Access records one register read or write seen by the chip.
type Access struct {
	Write bool
	Reg   pca9555.Register
	Value byte
}

func (a Access) String() string {
	if a.Write {
		return fmt.Sprintf("W %v 0x%02x", a.Reg, a.Value)
	}
	return fmt.Sprintf("R %v 0x%02x", a.Reg, a.Value)
}

// NewChip returns a chip in its power-on state: every line an input with
// its output latch high, no inversion, external lines pulled up.
func NewChip() *Chip {
	c := &Chip{levels: 0xFFFF}
	for _, r := range []pca9555.Register{
		pca9555.OutputPort0, pca9555.OutputPort1,
		pca9555.Configuration0, pca9555.Configuration1,
	} {
		c.regs[r] = 0xFF
	}
	return c
}

// SetLevels sets the voltage applied to each line from outside. Only lines
// configured as inputs observe it.
func (c *Chip) SetLevels(levels uint16) {
	c.mu.Lock()
	c.levels = levels
	c.mu.Unlock()
}

// Register returns the stored value of r without recording an access.
func (c *Chip) Register(r pca9555.Register) byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read(uint8(r))
}

// Pins returns the level present on every line: the output latch for
// outputs and the external level for inputs.
func (c *Chip) Pins() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint16(c.pinBank(1))<<8 | uint16(c.pinBank(0))
}

// History returns and clears the recorded accesses.
func (c *Chip) History() []Access {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.history
	c.history = nil
	return h
}

func (c *Chip) pinBank(bank uint8) byte {
	cfg := c.regs[pca9555.Configuration0+pca9555.Register(bank)]
	out := c.regs[pca9555.OutputPort0+pca9555.Register(bank)]
	ext := byte(c.levels >> (8 * bank))
	return ext&cfg | out&^cfg
}

func (c *Chip) read(reg uint8) byte {
	switch pca9555.Register(reg) {
	case pca9555.InputPort0, pca9555.InputPort1:
		bank := reg & 1
		return c.pinBank(bank) ^ c.regs[pca9555.PolarityInversion0+pca9555.Register(bank)]
	}
	return c.regs[reg]
}

// Tx performs one I2C transaction. The first written byte selects the
// register; further written bytes are stored, then len(r) bytes are read.
func (c *Chip) Tx(w, r []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(w) > 0 {
		if w[0] > uint8(pca9555.Configuration1) {
			return fmt.Errorf("sim: invalid command byte 0x%02x", w[0])
		}
		c.ptr = w[0]
		for _, v := range w[1:] {
			// input registers ignore writes
			if c.ptr > uint8(pca9555.InputPort1) {
				c.regs[c.ptr] = v
			}
			c.history = append(c.history, Access{Write: true, Reg: pca9555.Register(c.ptr), Value: v})
			c.ptr ^= 1
		}
	}
	for i := range r {
		r[i] = c.read(c.ptr)
		c.history = append(c.history, Access{Reg: pca9555.Register(c.ptr), Value: r[i]})
		c.ptr ^= 1
	}
	return nil
}

// Bus routes transactions to the chips attached at 7-bit addresses.
type Bus struct {
	mu    sync.RWMutex
	chips map[uint16]*Chip
}

// NewBus returns a bus with no chips attached.
func NewBus() *Bus {
	return &Bus{chips: make(map[uint16]*Chip)}
}

// Attach places c at addr, replacing any chip already there.
func (b *Bus) Attach(addr uint16, c *Chip) {
	b.mu.Lock()
	b.chips[addr] = c
	b.mu.Unlock()
}

// Tx writes w to the chip at addr, then fills r from it. An address with
// no chip fails with ErrNoDevice.
func (b *Bus) Tx(addr uint16, w, r []byte) error {
	b.mu.RLock()
	c := b.chips[addr]
	b.mu.RUnlock()
	if c == nil {
		return fmt.Errorf("%w 0x%02x", ErrNoDevice, addr)
	}
	return c.Tx(w, r)
}
