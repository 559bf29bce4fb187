// Command pcaport drives a PCA9555 expander from an interactive shell.
//
// The expander is reached through a Linux I2C bus (periph backend), through
// a Klipper-protocol MCU running I2C commands over serial (bridge backend)
// or through an in-process simulation (sim backend).
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"pcaport/host/bridge"
	"pcaport/host/config"
	"pcaport/host/mcu"
	"pcaport/host/sim"
	"pcaport/i2cbus"
	"pcaport/pca9555"
)

var (
	configPath = flag.String("config", "", "JSON config file")
	backend    = flag.String("backend", "", "periph, bridge or sim (overrides config)")
	i2cName    = flag.String("i2c", "", "Linux I2C bus name for the periph backend")
	device     = flag.String("device", "", "serial device of the bridge MCU")
	verbosity  = flag.Int("v", -1, "log verbosity (overrides config)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	stdr.SetVerbosity(cfg.Verbosity)
	logger := stdr.New(log.New(os.Stderr, "", log.LstdFlags)).WithName("pcaport")

	bus, chip, closer, err := open(cfg, logger)
	if err != nil {
		logger.Error(err, "open backend", "backend", cfg.Backend)
		os.Exit(1)
	}
	defer closer.Close()

	dev := pca9555.New(bus, pca9555.WithLogger(logger.WithName("pca9555")))
	sh := newShell(dev, chip, os.Stdout)
	if err := sh.run(os.Stdin); err != nil {
		logger.Error(err, "reading input")
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			return nil, err
		}
	}
	if *backend != "" {
		cfg.Backend = *backend
	}
	if *i2cName != "" {
		cfg.I2CBus = *i2cName
	}
	if *device != "" {
		cfg.Serial.Device = *device
	}
	if *verbosity >= 0 {
		cfg.Verbosity = *verbosity
	}
	return cfg, cfg.Validate()
}

type closers []io.Closer

func (c closers) Close() error {
	var first error
	for i := len(c) - 1; i >= 0; i-- {
		if err := c[i].Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// open connects the configured backend. chip is only set for sim.
func open(cfg *config.Config, logger logr.Logger) (bus pca9555.Bus, chip *sim.Chip, c closers, err error) {
	switch cfg.Backend {
	case config.BackendPeriph:
		if _, err := host.Init(); err != nil {
			return nil, nil, nil, fmt.Errorf("periph init: %w", err)
		}
		b, err := i2creg.Open(cfg.I2CBus)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("opened i2c bus", "bus", b.String())
		return i2cbus.New(b), nil, closers{b}, nil

	case config.BackendBridge:
		m, err := mcu.Connect(cfg.SerialPort(), logger.WithName("mcu"))
		if err != nil {
			return nil, nil, nil, err
		}
		if err := m.RetrieveDictionary(); err != nil {
			m.Close()
			return nil, nil, nil, err
		}
		return bridge.New(m, cfg.BridgeBus(), logger.WithName("bridge")), nil, closers{m}, nil

	case config.BackendSim:
		simBus := sim.NewBus()
		chip = sim.NewChip()
		simBus.Attach(uint16(pca9555.Address), chip)
		fw, err := sim.NewFirmware(simBus, logger.WithName("sim"))
		if err != nil {
			return nil, nil, nil, err
		}
		m := mcu.ConnectPort(fw.Port(), logger.WithName("mcu"))
		if err := m.RetrieveDictionary(); err != nil {
			m.Close()
			fw.Close()
			return nil, nil, nil, err
		}
		return bridge.New(m, cfg.BridgeBus(), logger.WithName("bridge")), chip, closers{fw, m}, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
