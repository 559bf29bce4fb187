package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

var (
	ErrClosed  = errors.New("protocol: transport closed")
	ErrTimeout = errors.New("protocol: timeout")
)

const (
	// DefaultTimeout bounds the wait for an ACK in SendCommand.
	DefaultTimeout = 2 * time.Second

	// DefaultCloseWait bounds the wait for the reader in Close. A blocking
	// serial read is not interrupted by closing the port.
	DefaultCloseWait = time.Second

	idleBackoff = 10 * time.Millisecond
)

// HostTransport is the host end of a link. Commands are sent one block at
// a time and each waits for its ACK; responses are queued for
// ReceiveResponse.
type HostTransport struct {
	port io.ReadWriteCloser
	log  logr.Logger

	// sendMu serializes block/ACK round trips; seq is only touched with it
	// held.
	sendMu sync.Mutex
	seq    uint8

	acks      chan Message
	responses chan Message

	closeWait time.Duration
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewHostTransport starts reading from port.
func NewHostTransport(port io.ReadWriteCloser, log logr.Logger) *HostTransport {
	t := &HostTransport{
		port:      port,
		log:       log,
		seq:       MessageDest,
		acks:      make(chan Message, 1),
		responses: make(chan Message, 16),
		closeWait: DefaultCloseWait,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	go t.readLoop()
	return t
}

// SendCommand sends one command and waits DefaultTimeout for its ACK.
func (t *HostTransport) SendCommand(cmdID uint16, args func(OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultTimeout)
}

// SendCommandWithTimeout sends one command in its own block. A NAK is
// retried once with the sequence number the MCU asked for.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(OutputBuffer), timeout time.Duration) error {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	if args != nil {
		args(out)
	}
	if out.Overflow() {
		return ErrMessageTooLarge
	}
	payload := out.Result()

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	for attempt := 0; ; attempt++ {
		block, err := EncodeBlock(t.seq, payload)
		if err != nil {
			return err
		}
		t.drainAcks()
		t.log.V(2).Info("send", "seq", t.seq, "cmd", cmdID, "block", block)
		if _, err := t.port.Write(block); err != nil {
			return fmt.Errorf("write block: %w", err)
		}
		ack, err := t.waitAck(timeout)
		if err != nil {
			return fmt.Errorf("command %d: %w", cmdID, err)
		}
		want := NextSequence(t.seq)
		if ack.Sequence == want {
			t.seq = want
			return nil
		}
		t.log.V(1).Info("nak", "sent", t.seq, "expected", ack.Sequence)
		t.seq = ack.Sequence
		if attempt > 0 {
			return fmt.Errorf("command %d: nak, mcu expects sequence 0x%02x", cmdID, ack.Sequence)
		}
	}
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

func (t *HostTransport) waitAck(timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ack := <-t.acks:
		return ack, nil
	case <-timer.C:
		return Message{}, fmt.Errorf("no ack after %v: %w", timeout, ErrTimeout)
	case <-t.stop:
		return Message{}, ErrClosed
	}
}

// ReceiveResponse returns the oldest queued response block.
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (Message, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-t.responses:
		return msg, nil
	case <-timer.C:
		return Message{}, fmt.Errorf("no response after %v: %w", timeout, ErrTimeout)
	case <-t.stop:
		return Message{}, ErrClosed
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	var (
		scan    = scanner{synced: true}
		pending []byte
		buf     = make([]byte, 256)
	)
	for {
		n, err := t.port.Read(buf)
		if n > 0 {
			pending = append(pending, buf[:n]...)
			for {
				msg, used, ok, _ := scan.next(pending)
				pending = pending[used:]
				if !ok {
					break
				}
				t.dispatch(msg)
			}
		}
		if err == nil {
			continue
		}
		select {
		case <-t.stop:
			return
		default:
		}
		// Serial ports report a read timeout as an empty read with io.EOF.
		if err == io.EOF && n == 0 {
			time.Sleep(idleBackoff)
			continue
		}
		t.log.Error(err, "read failed")
		return
	}
}

func (t *HostTransport) dispatch(msg Message) {
	t.log.V(2).Info("recv", "seq", msg.Sequence, "payload", msg.Payload)
	if msg.IsAck() {
		select {
		case t.acks <- msg:
		default:
		}
		return
	}
	for {
		select {
		case t.responses <- msg:
			return
		default:
		}
		// full: drop the oldest
		select {
		case old := <-t.responses:
			t.log.V(1).Info("dropped response", "payload", old.Payload)
		default:
		}
	}
}

// DrainResponses drops every queued response and returns how many were
// dropped.
func (t *HostTransport) DrainResponses() int {
	n := 0
	for {
		select {
		case msg := <-t.responses:
			t.log.V(1).Info("discarded stale response", "payload", msg.Payload)
			n++
		default:
			return n
		}
	}
}

// Reset drops queued messages and restarts the sequence, which the MCU
// takes as a host restart.
func (t *HostTransport) Reset() {
	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	t.seq = MessageDest
	t.drainAcks()
	t.DrainResponses()
}

// Close closes the port and waits up to DefaultCloseWait for the reader to
// exit. A reader still blocked after that is left behind.
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		timer := time.NewTimer(t.closeWait)
		defer timer.Stop()
		select {
		case <-t.done:
		case <-timer.C:
			t.log.Info("reader still blocked after close", "wait", t.closeWait)
		}
	})
	return err
}
