package frame

import (
	"errors"
	"fmt"
)

// ECMA-182 polynomial, processed MSB first with a zero seed and no final xor.
const crcPoly uint64 = 0x42F0E1EBA9EA3693

var ErrCRCMismatch = errors.New("frame: crc mismatch")

var crcTable = func() (t [256]uint64) {
	for i := range t {
		c := uint64(i) << 56
		for range 8 {
			if c&(1<<63) != 0 {
				c = c<<1 ^ crcPoly
			} else {
				c <<= 1
			}
		}
		t[i] = c
	}
	return t
}()

// UpdateCRC64 continues a running digest over p.
func UpdateCRC64(crc uint64, p []byte) uint64 {
	for _, b := range p {
		crc = crcTable[byte(crc>>56)^b] ^ crc<<8
	}
	return crc
}

// CRC64 digests the concatenation of chunks.
func CRC64(chunks ...[]byte) uint64 {
	var crc uint64
	for _, c := range chunks {
		crc = UpdateCRC64(crc, c)
	}
	return crc
}

// Verify compares the header digest with the digest of body.
func Verify(h Header, body []byte) error {
	if got := CRC64(body); got != h.CRC {
		return fmt.Errorf("%w: header=%#016x body=%#016x", ErrCRCMismatch, h.CRC, got)
	}
	return nil
}
