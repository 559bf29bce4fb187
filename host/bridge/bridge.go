// Package bridge reaches I2C devices through a Klipper-protocol MCU using
// the config_i2c, i2c_set_bus, i2c_write and i2c_read commands.
package bridge

import (
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"pcaport/pca9555"
	"pcaport/protocol"
)

// Commander is the part of an mcu.MCU used by Bus.
type Commander interface {
	SendCommand(name string, args func(protocol.OutputBuffer)) error
	Query(name string, args func(protocol.OutputBuffer), response string, oid uint8, timeout time.Duration) ([]byte, error)
}

// Config selects the MCU side bus.
type Config struct {
	// Bus is the MCU's I2C bus number.
	Bus uint32 `json:"bus"`

	// Rate is the bus clock in Hz.
	Rate uint32 `json:"rate"`

	// FirstOID is the object id given to the first device used.
	FirstOID uint8 `json:"first_oid"`

	// Timeout bounds the wait for an i2c_read_response.
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig is bus 0 at 100kHz.
func DefaultConfig() Config {
	return Config{Rate: 100000, Timeout: time.Second}
}

// Bus implements pca9555.Bus. Each device address gets an MCU object id
// the first time it is used.
type Bus struct {
	mu   sync.Mutex
	mcu  Commander
	cfg  Config
	log  logr.Logger
	oids map[uint8]uint8
	next uint8
}

var _ pca9555.Bus = (*Bus)(nil)

// New returns a bus that forwards register access to m. Object ids are
// allocated from cfg.FirstOID as addresses are first used.
func New(m Commander, cfg Config, log logr.Logger) *Bus {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	return &Bus{
		mcu:  m,
		cfg:  cfg,
		log:  log,
		oids: make(map[uint8]uint8),
		next: cfg.FirstOID,
	}
}

// oid returns the object id for addr, configuring it on first use.
func (b *Bus) oid(addr uint8) (uint8, error) {
	if oid, ok := b.oids[addr]; ok {
		return oid, nil
	}
	oid := b.next
	err := b.mcu.SendCommand("config_i2c", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
	})
	if err != nil {
		return 0, fmt.Errorf("config_i2c oid=%d: %w", oid, err)
	}
	err = b.mcu.SendCommand("i2c_set_bus", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQUint(out, b.cfg.Bus)
		protocol.EncodeVLQUint(out, b.cfg.Rate)
		protocol.EncodeVLQUint(out, uint32(addr))
	})
	if err != nil {
		return 0, fmt.Errorf("i2c_set_bus oid=%d: %w", oid, err)
	}
	b.oids[addr] = oid
	b.next++
	b.log.Info("configured i2c device", "address", addr, "oid", oid, "bus", b.cfg.Bus, "rate", b.cfg.Rate)
	return oid, nil
}

func (b *Bus) write(addr, reg, value byte) error {
	oid, err := b.oid(addr)
	if err != nil {
		return err
	}
	return b.mcu.SendCommand("i2c_write", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQBytes(out, []byte{reg, value})
	})
}

func (b *Bus) read(addr, reg byte) (byte, error) {
	oid, err := b.oid(addr)
	if err != nil {
		return 0, err
	}
	args, err := b.mcu.Query("i2c_read", func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, uint32(oid))
		protocol.EncodeVLQBytes(out, []byte{reg})
		protocol.EncodeVLQUint(out, 1)
	}, "i2c_read_response", oid, b.cfg.Timeout)
	if err != nil {
		return 0, err
	}
	data, err := protocol.DecodeVLQBytes(&args)
	if err != nil {
		return 0, fmt.Errorf("i2c_read_response: %w", err)
	}
	if len(data) != 1 {
		return 0, fmt.Errorf("i2c_read_response: expected 1 byte, got %d", len(data))
	}
	return data[0], nil
}

// WriteRegister writes value to reg of the chip at addr.
func (b *Bus) WriteRegister(addr, reg uint8, value byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.write(addr, reg, value)
}

// ReadRegister reads reg of the chip at addr.
func (b *Bus) ReadRegister(addr, reg uint8) (byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.read(addr, reg)
}

// UpdateRegister reads reg, sets the bits in set, clears the bits in clear
// and writes it back. Nothing else reaches the MCU in between.
func (b *Bus) UpdateRegister(addr, reg uint8, set, clear byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, err := b.read(addr, reg)
	if err != nil {
		return err
	}
	return b.write(addr, reg, v&^clear|set)
}
