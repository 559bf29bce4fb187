// Package protocol implements the Klipper serial framing spoken between the
// host and a bridge MCU: VLQ argument encoding, CRC16 and message blocks.
//
// A block on the wire is
//
//	len seq payload... crc_hi crc_lo 0x7E
//
// where len counts the whole block and the upper nibble of seq is always
// MessageDest.
package protocol

import (
	"bytes"
	"errors"
)

const (
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePayloadMax  = MessageLengthMax - MessageLengthMin

	MessageValueSync = 0x7E
	MessageDest      = 0x10
	MessageSeqMask   = 0x0F
)

var (
	ErrMessageTooLarge = errors.New("protocol: payload exceeds block size")
	errBadBlock        = errors.New("protocol: malformed block")
)

// Message is one decoded block. Payload is empty for ACK/NAK blocks.
type Message struct {
	Sequence uint8
	Payload  []byte
}

// IsAck reports whether the block carries no commands.
func (m *Message) IsAck() bool {
	return len(m.Payload) == 0
}

// NextSequence returns the sequence number that follows seq.
func NextSequence(seq uint8) uint8 {
	return (seq+1)&MessageSeqMask | MessageDest
}

// EncodeBlock frames payload with sequence number seq.
func EncodeBlock(seq uint8, payload []byte) ([]byte, error) {
	if len(payload) > MessagePayloadMax {
		return nil, ErrMessageTooLarge
	}
	n := len(payload) + MessageLengthMin
	block := make([]byte, 0, n)
	block = append(block, byte(n), seq&MessageSeqMask|MessageDest)
	block = append(block, payload...)
	crc := CRC16(block)
	return append(block, byte(crc>>8), byte(crc), MessageValueSync), nil
}

// scanBlock decodes the block at the start of data. n is the number of
// bytes it occupies, or 0 when data holds only part of a block.
func scanBlock(data []byte) (msg Message, n int, err error) {
	if len(data) < MessageLengthMin {
		return msg, 0, nil
	}
	n = int(data[0])
	if n < MessageLengthMin || n > MessageLengthMax {
		return msg, 0, errBadBlock
	}
	if data[1]&^MessageSeqMask != MessageDest {
		return msg, 0, errBadBlock
	}
	if len(data) < n {
		return msg, 0, nil
	}
	if data[n-1] != MessageValueSync {
		return msg, 0, errBadBlock
	}
	crc := uint16(data[n-3])<<8 | uint16(data[n-2])
	if CRC16(data[:n-MessageTrailerSize]) != crc {
		return msg, 0, errBadBlock
	}
	msg.Sequence = data[1]
	msg.Payload = data[MessageHeaderSize : n-MessageTrailerSize]
	return msg, n, nil
}

// scanner splits a byte stream into blocks, resynchronizing on the sync
// byte after corruption.
type scanner struct {
	synced bool
}

// next returns the next block in data and the bytes consumed. ok is false
// when data holds no complete block; consumed may still be non-zero.
// resynced is set when the scanner had to skip to a sync byte.
func (s *scanner) next(data []byte) (msg Message, consumed int, ok, resynced bool) {
	for consumed < len(data) {
		rest := data[consumed:]
		if !s.synced {
			i := bytes.IndexByte(rest, MessageValueSync)
			if i < 0 {
				return msg, len(data), false, resynced
			}
			consumed += i + 1
			s.synced = true
			resynced = true
			continue
		}
		if rest[0] == MessageValueSync {
			consumed++
			continue
		}
		m, n, err := scanBlock(rest)
		if err != nil {
			s.synced = false
			continue
		}
		if n == 0 {
			return msg, consumed, false, resynced
		}
		// Payload must outlive the caller's buffer.
		m.Payload = append([]byte(nil), m.Payload...)
		return m, consumed + n, true, resynced
	}
	return msg, consumed, false, resynced
}
