package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/go-logr/logr"

	"pcaport/i2cbus"
	"pcaport/protocol"
	"pcaport/tinycompress"
)

// Version is reported in the simulated dictionary.
const Version = "pcaport-sim"

type handler func(args *[]byte) error

type command struct {
	format  string
	handler handler
}

// registry numbers commands and responses in registration order. Responses
// have no handler.
type registry struct {
	entries []command
}

func (r *registry) add(format string, h handler) uint16 {
	r.entries = append(r.entries, command{format: format, handler: h})
	return uint16(len(r.entries) - 1)
}

func (r *registry) dispatch(id uint16, args *[]byte) error {
	if int(id) >= len(r.entries) || r.entries[id].handler == nil {
		return fmt.Errorf("sim: unknown command id %d", id)
	}
	return r.entries[id].handler(args)
}

func (r *registry) dictionary(config map[string]any) ([]byte, error) {
	commands := make(map[string]int)
	responses := make(map[string]int)
	for id, c := range r.entries {
		if c.handler == nil {
			responses[c.format] = id
		} else {
			commands[c.format] = id
		}
	}
	return json.Marshal(map[string]any{
		"version":        Version,
		"build_versions": "go",
		"config":         config,
		"commands":       commands,
		"responses":      responses,
	})
}

type i2cDevice struct {
	bus   uint32
	rate  uint32
	addr  uint16
	ready bool
}

// Firmware emulates an MCU exposing the Klipper I2C commands over an in
// memory serial link. Transactions go to bus.
type Firmware struct {
	bus  i2cbus.Tx
	log  logr.Logger
	reg  registry
	dict []byte

	identifyResponse uint16
	readResponse     uint16

	// oids is only used from the responder goroutine.
	oids map[uint8]*i2cDevice

	resp       *protocol.Responder
	host, conn net.Conn
	closeOnce  sync.Once
	done       chan struct{}
}

// NewFirmware starts a firmware instance. The host side of its link is
// returned by Port.
func NewFirmware(bus i2cbus.Tx, log logr.Logger) (*Firmware, error) {
	f := &Firmware{
		bus:  bus,
		log:  log,
		oids: make(map[uint8]*i2cDevice),
		done: make(chan struct{}),
	}
	// identify_response and identify must be 0 and 1
	f.identifyResponse = f.reg.add("identify_response offset=%u data=%.*s", nil)
	f.reg.add("identify offset=%u count=%c", f.identify)
	f.reg.add("config_i2c oid=%c", f.configI2C)
	f.reg.add("i2c_set_bus oid=%c i2c_bus=%u rate=%u address=%u", f.setBus)
	f.reg.add("i2c_write oid=%c data=%*s", f.write)
	f.reg.add("i2c_read oid=%c reg=%*s read_len=%u", f.read)
	f.readResponse = f.reg.add("i2c_read_response oid=%c response=%*s", nil)

	raw, err := f.reg.dictionary(map[string]any{
		"MCU":        "sim",
		"CLOCK_FREQ": 12000000,
	})
	if err != nil {
		return nil, err
	}
	f.dict = tinycompress.Compress(raw)

	f.host, f.conn = net.Pipe()
	f.resp = protocol.NewResponder(f.conn, f.reg.dispatch)
	go func() {
		defer close(f.done)
		if _, err := io.Copy(f.resp, f.conn); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			f.log.Error(err, "link failed")
		}
	}()
	return f, nil
}

// Port returns the host end of the serial link.
func (f *Firmware) Port() io.ReadWriteCloser {
	return f.host
}

// Close tears the link down.
func (f *Firmware) Close() error {
	f.closeOnce.Do(func() {
		f.host.Close()
		f.conn.Close()
		<-f.done
	})
	return nil
}

func (f *Firmware) identify(args *[]byte) error {
	offset, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	var chunk []byte
	if offset < uint32(len(f.dict)) {
		end := min(offset+count, uint32(len(f.dict)))
		chunk = f.dict[offset:end]
	}
	return f.resp.Send(f.identifyResponse, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQBytes(out, chunk)
	})
}

func (f *Firmware) configI2C(args *[]byte) error {
	oid, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	f.oids[uint8(oid)] = &i2cDevice{}
	f.log.V(1).Info("config_i2c", "oid", oid)
	return nil
}

func (f *Firmware) setBus(args *[]byte) error {
	var v [4]uint32
	for i := range v {
		var err error
		if v[i], err = protocol.DecodeVLQUint(args); err != nil {
			return err
		}
	}
	dev := f.oids[uint8(v[0])]
	if dev == nil {
		return fmt.Errorf("sim: i2c_set_bus on unknown oid %d", v[0])
	}
	dev.bus, dev.rate, dev.addr, dev.ready = v[1], v[2], uint16(v[3]&0x7F), true
	f.log.V(1).Info("i2c_set_bus", "oid", v[0], "bus", v[1], "rate", v[2], "address", dev.addr)
	return nil
}

func (f *Firmware) device(oid uint32) (*i2cDevice, error) {
	dev := f.oids[uint8(oid)]
	if dev == nil || !dev.ready {
		return nil, fmt.Errorf("sim: oid %d not configured", oid)
	}
	return dev, nil
}

func (f *Firmware) write(args *[]byte) error {
	oid, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	data, err := protocol.DecodeVLQBytes(args)
	if err != nil {
		return err
	}
	dev, err := f.device(oid)
	if err != nil {
		return err
	}
	if err := f.bus.Tx(dev.addr, data, nil); err != nil {
		f.log.Error(err, "i2c_write failed", "oid", oid)
		return err
	}
	return nil
}

func (f *Firmware) read(args *[]byte) error {
	oid, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	reg, err := protocol.DecodeVLQBytes(args)
	if err != nil {
		return err
	}
	n, err := protocol.DecodeVLQUint(args)
	if err != nil {
		return err
	}
	if n > protocol.MessagePayloadMax {
		return fmt.Errorf("sim: read_len %d too large", n)
	}
	dev, err := f.device(oid)
	if err != nil {
		return err
	}
	buf := make([]byte, n)
	if err := f.bus.Tx(dev.addr, reg, buf); err != nil {
		// no response; the host sees a timeout
		f.log.Error(err, "i2c_read failed", "oid", oid)
		return err
	}
	return f.resp.Send(f.readResponse, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, oid)
		protocol.EncodeVLQBytes(out, buf)
	})
}
