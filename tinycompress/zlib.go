// Package tinycompress produces zlib streams made of stored DEFLATE blocks.
// The output is larger than its input but costs no tables or window, which
// suits firmware that only needs to hand out a dictionary in a format any
// zlib reader accepts.
package tinycompress

import (
	"encoding/binary"
	"hash/adler32"
)

const maxStored = 0xFFFF

// Compress wraps data in a zlib stream.
func Compress(data []byte) []byte {
	sum := adler32.Checksum(data)
	blocks := (len(data) + maxStored - 1) / maxStored
	if blocks == 0 {
		blocks = 1
	}
	out := make([]byte, 0, 2+5*blocks+len(data)+4)

	// CMF: deflate with 32K window; FLG: check bits, fastest level
	out = append(out, 0x78, 0x01)
	for {
		n := len(data)
		if n > maxStored {
			n = maxStored
		}
		final := byte(0)
		if n == len(data) {
			final = 1
		}
		out = append(out, final)
		out = binary.LittleEndian.AppendUint16(out, uint16(n))
		out = binary.LittleEndian.AppendUint16(out, ^uint16(n))
		out = append(out, data[:n]...)
		data = data[n:]
		if final == 1 {
			break
		}
	}
	return binary.BigEndian.AppendUint32(out, sum)
}
