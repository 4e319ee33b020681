package scte35

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBitReaderBits(t *testing.T) {
	r := newBitReader([]byte{0xA5}) // 10100101
	assert.True(t, r.readBit())
	assert.False(t, r.readBit())
	assert.Equal(t, uint32(0x25), r.readUint32(6))
	require.NoError(t, r.Err())
}

func TestBitReaderByteAccessors(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0A, 0x0B, 0x0C, 0x0D, 0x0E, 0x0F}
	r := newBitReader(data)
	assert.Equal(t, uint8(0x01), r.readU8())
	assert.Equal(t, uint16(0x0203), r.readU16())
	assert.Equal(t, uint32(0x04050607), r.readU32())
	assert.Equal(t, uint64(0x08090A0B0C), r.readU40())
	require.NoError(t, r.Err())
	assert.Equal(t, []byte{0x0D, 0x0E}, r.readBytes(2))
}

func TestBitReaderUnderflowLatches(t *testing.T) {
	r := newBitReader([]byte{0xFF})
	_ = r.readUint64(33)
	require.Error(t, r.Err())
	// Subsequent reads keep returning zero without panicking.
	assert.Equal(t, uint64(0), r.readUint64(8))
}

func TestBitReader33BitValue(t *testing.T) {
	// A 33-bit PTS must not be truncated: 0x1FFFFFFFF needs more than 32 bits.
	r := newBitReader([]byte{0xFF, 0xFF, 0xFF, 0xFF, 0x80})
	assert.Equal(t, uint64(0x1FFFFFFFF), r.readUint64(33))
	require.NoError(t, r.Err())
}

func TestBitWriterRoundTrip(t *testing.T) {
	w := newBitWriter(6)
	w.putBit(true)
	w.putUint32(6, 0x3F)
	w.putUint64(33, 0x123456789&((1<<33)-1))
	w.putUint32(8, 0xAB)

	r := newBitReader(w.bytes())
	assert.True(t, r.readBit())
	assert.Equal(t, uint32(0x3F), r.readUint32(6))
	assert.Equal(t, uint64(0x123456789&((1<<33)-1)), r.readUint64(33))
	assert.Equal(t, uint32(0xAB), r.readUint32(8))
}

func TestCRC32MPEG2KnownVector(t *testing.T) {
	// "123456789" is the standard check input for CRC-32/MPEG-2.
	assert.Equal(t, uint32(0x0376E6E7), crc32MPEG2([]byte("123456789")))
}

func TestVerifyCRC32(t *testing.T) {
	data := []byte{0xFC, 0x30, 0x27, 0x00, 0x00, 0x00, 0x00, 0x00}
	crc := crc32MPEG2(data)
	full := append(append([]byte{}, data...),
		byte(crc>>24), byte(crc>>16), byte(crc>>8), byte(crc))
	require.NoError(t, verifyCRC32(full))

	full[2] ^= 0xFF
	assert.Error(t, verifyCRC32(full))
	assert.Error(t, verifyCRC32([]byte{1, 2}))
}
