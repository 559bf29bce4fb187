package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"pcaport/host/sim"
	"pcaport/pca9555"
)

// line holds whichever handle currently owns an expander line.
type line struct {
	un  *pca9555.UnconfiguredPin
	in  *pca9555.InputPin
	out *pca9555.OutputPin
}

func (l *line) mode() string {
	switch {
	case l.in != nil:
		return "input"
	case l.out != nil:
		return "output"
	}
	return "unconfigured"
}

type shell struct {
	dev   *pca9555.Device
	chip  *sim.Chip
	w     io.Writer
	lines [pca9555.NumPins]line
}

var errQuit = errors.New("quit")

func newShell(dev *pca9555.Device, chip *sim.Chip, w io.Writer) *shell {
	s := &shell{dev: dev, chip: chip, w: w}
	s.split()
	return s
}

func (s *shell) split() {
	for i, p := range s.dev.Split().Pins() {
		s.lines[i] = line{un: p}
	}
}

// run executes commands from r until quit or end of input.
func (s *shell) run(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for {
		fmt.Fprint(s.w, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.w)
			return scanner.Err()
		}
		args, err := shlex.Split(scanner.Text())
		if err != nil {
			fmt.Fprintf(s.w, "Error: %v\n", err)
			continue
		}
		if len(args) == 0 {
			continue
		}
		err = s.exec(args)
		if err == errQuit {
			return nil
		}
		if err != nil {
			fmt.Fprintf(s.w, "Error: %v\n", err)
		}
	}
}

func (s *shell) exec(args []string) error {
	cmd, args := args[0], args[1:]
	switch cmd {
	case "quit", "exit", "q":
		return errQuit
	case "help", "?":
		s.help()
		return nil
	case "pins":
		return s.pins()
	case "resync":
		if err := s.dev.Resync(); err != nil {
			return err
		}
		return s.dev.Port(func(d *pca9555.Driver) error {
			fmt.Fprintf(s.w, "output 0x%04x\n", d.Output())
			return nil
		})
	case "split":
		s.split()
		fmt.Fprintln(s.w, "all lines unconfigured")
		return nil
	case "levels":
		return s.levels(args)
	}

	switch cmd {
	case "input", "output", "high", "low", "toggle", "read":
	default:
		return fmt.Errorf("unknown command %q (type 'help')", cmd)
	}
	if len(args) < 1 {
		return fmt.Errorf("%s: missing line", cmd)
	}
	n, err := parseLine(args[0])
	if err != nil {
		return err
	}
	l := &s.lines[n]

	switch cmd {
	case "input":
		return s.input(l)
	case "output":
		level := ""
		if len(args) > 1 {
			level = args[1]
		}
		return s.output(l, level)
	case "high", "low", "toggle":
		if l.out == nil {
			return fmt.Errorf("line %d is %s", n, l.mode())
		}
		switch cmd {
		case "high":
			return l.out.SetHigh()
		case "low":
			return l.out.SetLow()
		}
		return l.out.Toggle()
	case "read":
		high, err := s.read(l)
		if err != nil {
			return err
		}
		fmt.Fprintf(s.w, "%s %s\n", lineName(n), levelName(high))
		return nil
	}
	return nil
}

func (s *shell) input(l *line) error {
	var (
		in  *pca9555.InputPin
		err error
	)
	switch {
	case l.in != nil:
		return nil
	case l.out != nil:
		in, err = l.out.IntoInput()
	default:
		in, err = l.un.IntoInput()
	}
	if err != nil {
		return err
	}
	*l = line{in: in}
	return nil
}

func (s *shell) output(l *line, level string) error {
	type converter interface {
		IntoOutput() (*pca9555.OutputPin, error)
		IntoOutputHigh() (*pca9555.OutputPin, error)
		IntoOutputLow() (*pca9555.OutputPin, error)
	}
	if l.out != nil {
		switch level {
		case "high":
			return l.out.SetHigh()
		case "low":
			return l.out.SetLow()
		}
		return nil
	}
	var c converter = l.un
	if l.in != nil {
		c = l.in
	}
	var (
		out *pca9555.OutputPin
		err error
	)
	switch level {
	case "":
		out, err = c.IntoOutput()
	case "high":
		out, err = c.IntoOutputHigh()
	case "low":
		out, err = c.IntoOutputLow()
	default:
		return fmt.Errorf("level %q is not high or low", level)
	}
	if err != nil {
		return err
	}
	*l = line{out: out}
	return nil
}

func (s *shell) read(l *line) (bool, error) {
	switch {
	case l.in != nil:
		return l.in.IsHigh()
	case l.out != nil:
		return l.out.IsSetHigh()
	}
	return false, errors.New("line is unconfigured")
}

func (s *shell) pins() error {
	for i := range s.lines {
		l := &s.lines[i]
		state := "-"
		if l.in != nil || l.out != nil {
			high, err := s.read(l)
			if err != nil {
				return err
			}
			state = levelName(high)
		}
		fmt.Fprintf(s.w, "%s  %-12s %s\n", lineName(i), l.mode(), state)
	}
	return nil
}

func (s *shell) levels(args []string) error {
	if s.chip == nil {
		return errors.New("levels is only available with the sim backend")
	}
	if len(args) != 1 {
		return errors.New("usage: levels 0xNNNN")
	}
	v, err := strconv.ParseUint(args[0], 0, 16)
	if err != nil {
		return err
	}
	s.chip.SetLevels(uint16(v))
	return nil
}

func (s *shell) help() {
	fmt.Fprint(s.w, `Commands (N is 0-15 or P00-P17):
  input N              configure line as input
  output N [high|low]  configure line as output, optionally latching a level
  high N / low N       drive an output line
  toggle N             invert an output line
  read N               read an input, or the commanded level of an output
  pins                 show every line
  resync               reload the output cache from the chip
  split                discard all handles and start over
  levels 0xNNNN        set external line levels (sim backend)
  quit                 exit
`)
}

// parseLine accepts an index or a datasheet name such as P13.
func parseLine(s string) (int, error) {
	if name := strings.ToUpper(s); len(name) == 3 && name[0] == 'P' {
		bank, bit := name[1]-'0', name[2]-'0'
		if bank <= 1 && bit <= 7 {
			return int(bank)*8 + int(bit), nil
		}
	} else if n, err := strconv.Atoi(s); err == nil && n >= 0 && n < pca9555.NumPins {
		return n, nil
	}
	return 0, fmt.Errorf("bad line %q", s)
}

func lineName(n int) string {
	return fmt.Sprintf("P%d%d", n/8, n%8)
}

func levelName(high bool) string {
	if high {
		return "high"
	}
	return "low"
}
