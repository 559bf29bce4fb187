package protocol

import (
	"io"
	"sync"
)

// CommandHandler decodes the arguments of one command from *args,
// advancing it past them.
type CommandHandler func(cmdID uint16, args *[]byte) error

// Responder is the MCU end of a link. It accepts host blocks, runs the
// commands they carry and answers every block with an ACK or NAK holding
// the next expected sequence number. Responses sent from a handler go out
// before the ACK of the block that triggered them.
type Responder struct {
	mu      sync.Mutex
	out     io.Writer
	handler CommandHandler
	scan    scanner
	pending []byte
	next    uint8
}

// NewResponder returns a responder writing to out.
func NewResponder(out io.Writer, handler CommandHandler) *Responder {
	return &Responder{
		out:     out,
		handler: handler,
		scan:    scanner{synced: true},
		next:    MessageDest,
	}
}

// Write feeds received bytes to the responder. Handler errors abandon the
// rest of the block; they do not break the link.
func (r *Responder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = append(r.pending, p...)
	for {
		msg, n, ok, resynced := r.scan.next(r.pending)
		r.pending = r.pending[n:]
		if resynced {
			if err := r.ack(); err != nil {
				return len(p), err
			}
		}
		if !ok {
			break
		}
		if msg.Sequence == MessageDest && r.next != MessageDest {
			// host restarted
			r.next = MessageDest
		}
		if msg.Sequence == r.next {
			r.next = NextSequence(msg.Sequence)
			r.dispatch(msg.Payload)
		}
		if err := r.ack(); err != nil {
			return len(p), err
		}
	}
	if len(r.pending) == 0 {
		r.pending = nil
	}
	return len(p), nil
}

func (r *Responder) dispatch(payload []byte) {
	for len(payload) > 0 {
		id, err := DecodeVLQUint(&payload)
		if err != nil {
			r.scan.synced = false
			return
		}
		if r.handler == nil {
			return
		}
		if err := r.handler(uint16(id), &payload); err != nil {
			return
		}
	}
}

func (r *Responder) ack() error {
	block, _ := EncodeBlock(r.next, nil)
	_, err := r.out.Write(block)
	return err
}

// Send writes one response block. It must only be called from the command
// handler.
func (r *Responder) Send(cmdID uint16, args func(OutputBuffer)) error {
	out := NewScratchOutput()
	EncodeVLQUint(out, uint32(cmdID))
	if args != nil {
		args(out)
	}
	if out.Overflow() {
		return ErrMessageTooLarge
	}
	block, err := EncodeBlock(r.next, out.Result())
	if err != nil {
		return err
	}
	_, err = r.out.Write(block)
	return err
}
