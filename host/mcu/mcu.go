// Package mcu talks to a Klipper-protocol MCU: it fetches the data
// dictionary and sends commands by name.
package mcu

import (
	"bytes"
	"compress/zlib"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"pcaport/host/serial"
	"pcaport/protocol"
)

const (
	identifyID         = 1
	identifyResponseID = 0
	identifyChunk      = 40
	identifyMaxChunks  = 1000
)

var (
	ErrNoDictionary   = errors.New("mcu: dictionary not loaded")
	ErrUnknownCommand = errors.New("mcu: unknown command")
)

// Dictionary is the MCU data dictionary. Commands and Responses are keyed by
// their full format string, e.g. "i2c_read oid=%c reg=%*s read_len=%u".
type Dictionary struct {
	Version       string                    `json:"version"`
	BuildVersions string                    `json:"build_versions"`
	Config        map[string]any            `json:"config"`
	Commands      map[string]int            `json:"commands"`
	Responses     map[string]int            `json:"responses"`
	Enumerations  map[string]map[string]int `json:"enumerations,omitempty"`
}

func lookup(formats map[string]int, name string) (uint16, bool) {
	for format, id := range formats {
		if n, _, _ := strings.Cut(format, " "); n == name {
			return uint16(id), true
		}
	}
	return 0, false
}

// CommandID returns the id of the command called name.
func (d *Dictionary) CommandID(name string) (uint16, bool) {
	return lookup(d.Commands, name)
}

// ResponseID returns the id of the response called name.
func (d *Dictionary) ResponseID(name string) (uint16, bool) {
	return lookup(d.Responses, name)
}

// Summary writes a human readable listing of the dictionary.
func (d *Dictionary) Summary(w io.Writer) {
	fmt.Fprintf(w, "version: %s\n", d.Version)
	if d.BuildVersions != "" {
		fmt.Fprintf(w, "build: %s\n", d.BuildVersions)
	}
	keys := make([]string, 0, len(d.Config))
	for k := range d.Config {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(w, "  %s = %v\n", k, d.Config[k])
	}
	list := func(title string, m map[string]int) {
		fmt.Fprintf(w, "%s (%d):\n", title, len(m))
		names := make([]string, 0, len(m))
		for f := range m {
			names = append(names, f)
		}
		sort.Slice(names, func(i, j int) bool { return m[names[i]] < m[names[j]] })
		for _, f := range names {
			fmt.Fprintf(w, "  [%d] %s\n", m[f], f)
		}
	}
	list("commands", d.Commands)
	list("responses", d.Responses)
}

// MCU is a connection to one microcontroller.
type MCU struct {
	transport *protocol.HostTransport
	log       logr.Logger
	dict      *Dictionary
	raw       []byte
}

// Connect opens the serial device described by cfg.
func Connect(cfg *serial.Config, log logr.Logger) (*MCU, error) {
	port, err := serial.Open(cfg)
	if err != nil {
		return nil, err
	}
	m := ConnectPort(port, log)
	// freshly enumerated USB devices drop the first bytes
	time.Sleep(100 * time.Millisecond)
	log.Info("connected", "device", cfg.Device, "baud", cfg.Baud)
	return m, nil
}

// ConnectPort runs the protocol over an already open link.
func ConnectPort(port io.ReadWriteCloser, log logr.Logger) *MCU {
	return &MCU{
		transport: protocol.NewHostTransport(port, log.WithName("transport")),
		log:       log,
	}
}

// Close shuts the link down.
func (m *MCU) Close() error {
	return m.transport.Close()
}

// RetrieveDictionary downloads the dictionary with identify commands and
// parses it. zlib compressed dictionaries are inflated first.
func (m *MCU) RetrieveDictionary() error {
	var buf bytes.Buffer
	for i := 0; i < identifyMaxChunks; i++ {
		offset := uint32(buf.Len())
		chunk, err := m.identify(offset, identifyChunk)
		if err != nil {
			return fmt.Errorf("identify at offset %d: %w", offset, err)
		}
		buf.Write(chunk)
		if len(chunk) < identifyChunk {
			break
		}
	}
	raw := buf.Bytes()
	m.log.V(1).Info("dictionary downloaded", "bytes", len(raw))

	data := raw
	if len(raw) >= 2 && raw[0] == 0x78 {
		zr, err := zlib.NewReader(bytes.NewReader(raw))
		if err != nil {
			return fmt.Errorf("inflate dictionary: %w", err)
		}
		data, err = io.ReadAll(zr)
		if err != nil {
			return fmt.Errorf("inflate dictionary: %w", err)
		}
		m.log.V(1).Info("dictionary inflated", "bytes", len(data))
	}

	dict := new(Dictionary)
	if err := json.Unmarshal(data, dict); err != nil {
		return fmt.Errorf("parse dictionary: %w", err)
	}
	m.dict, m.raw = dict, data
	m.log.Info("dictionary loaded", "version", dict.Version,
		"commands", len(dict.Commands), "responses", len(dict.Responses))
	return nil
}

func (m *MCU) identify(offset uint32, count uint8) ([]byte, error) {
	err := m.transport.SendCommand(identifyID, func(out protocol.OutputBuffer) {
		protocol.EncodeVLQUint(out, offset)
		protocol.EncodeVLQUint(out, uint32(count))
	})
	if err != nil {
		return nil, err
	}
	deadline := time.Now().Add(time.Second)
	for {
		args, err := m.receive(identifyResponseID, deadline)
		if err != nil {
			return nil, err
		}
		got, err := protocol.DecodeVLQUint(&args)
		if err != nil {
			return nil, err
		}
		if got != offset {
			m.log.V(1).Info("stale identify response", "offset", got, "want", offset)
			continue
		}
		return protocol.DecodeVLQBytes(&args)
	}
}

// receive waits until deadline for a response with id and returns its
// arguments. Other responses are discarded.
func (m *MCU) receive(id uint16, deadline time.Time) ([]byte, error) {
	for {
		wait := time.Until(deadline)
		if wait <= 0 {
			return nil, fmt.Errorf("response %d: %w", id, protocol.ErrTimeout)
		}
		msg, err := m.transport.ReceiveResponse(wait)
		if err != nil {
			return nil, err
		}
		payload := msg.Payload
		got, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			m.log.V(1).Info("undecodable response", "payload", msg.Payload)
			continue
		}
		if uint16(got) == id {
			return payload, nil
		}
		m.log.V(1).Info("unexpected response", "id", got)
	}
}

// Dictionary returns the parsed dictionary, nil before RetrieveDictionary.
func (m *MCU) Dictionary() *Dictionary {
	return m.dict
}

// RawDictionary returns the dictionary JSON as received.
func (m *MCU) RawDictionary() []byte {
	return m.raw
}

// SendCommand sends the command called name. args encodes its parameters in
// dictionary order.
func (m *MCU) SendCommand(name string, args func(protocol.OutputBuffer)) error {
	if m.dict == nil {
		return ErrNoDictionary
	}
	id, ok := m.dict.CommandID(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, name)
	}
	m.log.V(1).Info("command", "name", name, "id", id)
	return m.transport.SendCommand(id, args)
}

// Query sends the command called name and waits for the response called
// response whose first argument is oid. It returns the remaining
// arguments of that response. Responses queued before the command is sent
// are discarded.
func (m *MCU) Query(name string, args func(protocol.OutputBuffer), response string, oid uint8, timeout time.Duration) ([]byte, error) {
	if m.dict == nil {
		return nil, ErrNoDictionary
	}
	id, ok := m.dict.ResponseID(response)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, response)
	}
	// A response to an earlier query that timed out may still be queued.
	m.transport.DrainResponses()
	if err := m.SendCommand(name, args); err != nil {
		return nil, err
	}
	deadline := time.Now().Add(timeout)
	for {
		rest, err := m.receive(id, deadline)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		got, err := protocol.DecodeVLQUint(&rest)
		if err == nil && uint8(got) == oid {
			return rest, nil
		}
	}
}
