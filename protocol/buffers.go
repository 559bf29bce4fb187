package protocol

// OutputBuffer receives encoded command arguments.
type OutputBuffer interface {
	Output(data []byte)
}

// ScratchOutput collects output in a bounded buffer. Writes past
// MessagePayloadMax are dropped and reported by Overflow.
type ScratchOutput struct {
	buf      [MessagePayloadMax]byte
	pos      int
	overflow bool
}

// NewScratchOutput returns an empty buffer.
func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

// Output appends data. Bytes past MessagePayloadMax are dropped and
// recorded as overflow.
func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

// Result returns the bytes written since the last Reset.
func (s *ScratchOutput) Result() []byte {
	return s.buf[:s.pos]
}

// Overflow reports whether any write was truncated.
func (s *ScratchOutput) Overflow() bool {
	return s.overflow
}

// Reset empties the buffer and clears the overflow flag.
func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}
