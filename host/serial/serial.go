// Package serial opens the USB CDC or UART link to a bridge MCU.
package serial

import (
	"io"
	"time"
)

// Port is an open serial link.
type Port interface {
	io.ReadWriteCloser

	// Flush discards data received but not yet read.
	Flush() error
}

// Config describes a serial link.
type Config struct {
	Device string `json:"device"`

	// Baud is ignored by USB CDC devices.
	Baud int `json:"baud"`

	// ReadTimeout of zero blocks reads until data arrives. A read that
	// times out returns no data and io.EOF; HostTransport keeps reading
	// after one and uses the wakeup to notice Close.
	ReadTimeout time.Duration `json:"read_timeout"`
}

// DefaultConfig returns the Klipper defaults for device, with a read
// timeout so the link can be closed while idle.
func DefaultConfig(device string) *Config {
	return &Config{
		Device:      device,
		Baud:        250000,
		ReadTimeout: 100 * time.Millisecond,
	}
}
