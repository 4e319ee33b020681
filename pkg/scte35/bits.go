package scte35

import (
	"errors"
	"fmt"
)

var errBufferUnderflow = errors.New("buffer underflow")

// bitReader reads big-endian unsigned integers of arbitrary bit width from a
// byte slice. Errors are latched: after the first underflow all reads return
// zero and Err() reports the failure. No runtime-specific byte types are
// used, so the decoder is portable across environments.
type bitReader struct {
	data []byte
	pos  int // bit position
	err  error
}

func newBitReader(data []byte) *bitReader {
	return &bitReader{data: data}
}

func (r *bitReader) Err() error { return r.err }

func (r *bitReader) bitsLeft() int { return len(r.data)*8 - r.pos }

func (r *bitReader) readBit() bool {
	return r.readUint64(1) == 1
}

func (r *bitReader) skip(n int) {
	if r.err != nil {
		return
	}
	if r.bitsLeft() < n {
		r.err = errBufferUnderflow
		return
	}
	r.pos += n
}

func (r *bitReader) readUint64(n int) uint64 {
	if r.err != nil {
		return 0
	}
	if n > 64 || r.bitsLeft() < n {
		r.err = errBufferUnderflow
		return 0
	}
	var v uint64
	for i := 0; i < n; i++ {
		byteIdx := r.pos >> 3
		bitIdx := 7 - (r.pos & 7)
		v <<= 1
		v |= uint64(r.data[byteIdx]>>bitIdx) & 1
		r.pos++
	}
	return v
}

func (r *bitReader) readUint32(n int) uint32 {
	return uint32(r.readUint64(n))
}

// Byte-aligned big-endian accessors.

func (r *bitReader) readU8() uint8   { return uint8(r.readUint64(8)) }
func (r *bitReader) readU16() uint16 { return uint16(r.readUint64(16)) }
func (r *bitReader) readU32() uint32 { return uint32(r.readUint64(32)) }
func (r *bitReader) readU40() uint64 { return r.readUint64(40) }
func (r *bitReader) readU64() uint64 { return r.readUint64(64) }

func (r *bitReader) readBytes(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.pos&7 == 0 {
		// Fast path on byte boundary.
		start := r.pos >> 3
		if start+n > len(r.data) {
			r.err = errBufferUnderflow
			return nil
		}
		r.pos += n * 8
		out := make([]byte, n)
		copy(out, r.data[start:start+n])
		return out
	}
	out := make([]byte, n)
	for i := 0; i < n; i++ {
		out[i] = r.readU8()
	}
	if r.err != nil {
		return nil
	}
	return out
}

// bitWriter is the encoding counterpart of bitReader.
type bitWriter struct {
	data []byte
	pos  int // bit position
}

func newBitWriter(size int) *bitWriter {
	return &bitWriter{data: make([]byte, size)}
}

func (w *bitWriter) bytes() []byte { return w.data }

func (w *bitWriter) putBit(b bool) {
	var v uint64
	if b {
		v = 1
	}
	w.putUint64(1, v)
}

func (w *bitWriter) putUint32(n int, v uint32) { w.putUint64(n, uint64(v)) }

func (w *bitWriter) putUint64(n int, v uint64) {
	for i := n - 1; i >= 0; i-- {
		byteIdx := w.pos >> 3
		bitIdx := 7 - (w.pos & 7)
		if byteIdx >= len(w.data) {
			w.data = append(w.data, 0)
		}
		if v>>uint(i)&1 == 1 {
			w.data[byteIdx] |= 1 << bitIdx
		}
		w.pos++
	}
}

func (w *bitWriter) putBytes(b []byte) {
	for _, by := range b {
		w.putUint64(8, uint64(by))
	}
}

// MPEG-2 CRC32 with polynomial 0x04C11DB7.
var crcTable [256]uint32

func init() {
	for i := 0; i < 256; i++ {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ 0x04C11DB7
			} else {
				crc <<= 1
			}
		}
		crcTable[i] = crc
	}
}

func crc32MPEG2(data []byte) uint32 {
	crc := uint32(0xFFFFFFFF)
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}

// verifyCRC32 checks that the last 4 bytes of data hold the CRC-32/MPEG-2 of
// the preceding bytes.
func verifyCRC32(data []byte) error {
	if len(data) < 4 {
		return fmt.Errorf("scte35: %d bytes too short for CRC verification", len(data))
	}
	computed := crc32MPEG2(data[:len(data)-4])
	stored := uint32(data[len(data)-4])<<24 |
		uint32(data[len(data)-3])<<16 |
		uint32(data[len(data)-2])<<8 |
		uint32(data[len(data)-1])
	if computed != stored {
		return fmt.Errorf("scte35: CRC mismatch: computed 0x%08X, stored 0x%08X", computed, stored)
	}
	return nil
}
