package core

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeEntry_Layout(t *testing.T) {
	buf, err := EncodeEntry([]byte("k"), []byte("v"), 42)
	require.NoError(t, err)
	require.Len(t, buf, EntryHeaderSize+2)

	assert.Equal(t, uint32(42), binary.BigEndian.Uint32(buf[4:8]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(buf[8:10]))
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(buf[10:14]))
	assert.Equal(t, byte('k'), buf[14])
	assert.Equal(t, byte('v'), buf[15])

	h, err := DecodeEntryHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), h.EntrySize())
	require.NoError(t, VerifyEntry(buf[:EntryHeaderSize], buf[14:15], buf[15:16]))
}

func TestDecodeEntry_RoundTrip(t *testing.T) {
	testCases := []struct {
		name  string
		key   []byte
		value []byte
	}{
		{"simple", []byte("key"), []byte("value")},
		{"empty value", []byte("key"), []byte{}},
		{"empty key", []byte{}, []byte("value")},
		{"binary", []byte{0, 1, 2, 255}, bytes.Repeat([]byte{0xAB}, 1024)},
		{"tombstone", []byte("gone"), Tombstone},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			buf, err := EncodeEntry(tc.key, tc.value, 7)
			require.NoError(t, err)

			rec, err := DecodeEntry(buf)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(tc.key, rec.Key))
			assert.True(t, bytes.Equal(tc.value, rec.Value))
			assert.Equal(t, uint32(7), rec.Timestamp)
			assert.Equal(t, uint32(len(buf)), rec.Size)
		})
	}
}

func TestVerifyEntry_DetectsEveryCoveredByte(t *testing.T) {
	buf, err := EncodeEntry([]byte("alpha"), []byte("omega"), 1234)
	require.NoError(t, err)

	for i := 4; i < len(buf); i++ {
		corrupted := append([]byte(nil), buf...)
		corrupted[i] ^= 0x01
		_, err := DecodeEntry(corrupted)
		require.Error(t, err, "flipping byte %d must be detected", i)
		if i >= EntryHeaderSize {
			assert.ErrorIs(t, err, ErrChecksumMismatch, "byte %d", i)
		}
	}

	// The CRC bytes themselves.
	for i := 0; i < 4; i++ {
		corrupted := append([]byte(nil), buf...)
		corrupted[i] ^= 0xFF
		_, err := DecodeEntry(corrupted)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	}
}

func TestEncodeEntry_SizeLimits(t *testing.T) {
	_, err := EncodeEntry(make([]byte, MaxKeySize+1), nil, 0)
	assert.ErrorIs(t, err, ErrKeyTooLarge)

	_, err = EncodeEntry(make([]byte, MaxKeySize), nil, 0)
	assert.NoError(t, err)

	_, err = EncodeHint(make([]byte, MaxKeySize+1), 0, 0, 0)
	assert.ErrorIs(t, err, ErrKeyTooLarge)
}

func TestDecodeHeaders_Truncated(t *testing.T) {
	_, err := DecodeEntryHeader(make([]byte, EntryHeaderSize-1))
	assert.ErrorIs(t, err, ErrTruncatedRecord)

	_, err = DecodeHintHeader(make([]byte, HintHeaderSize-1))
	assert.ErrorIs(t, err, ErrTruncatedRecord)

	buf, err := EncodeEntry([]byte("k"), []byte("value"), 1)
	require.NoError(t, err)
	_, err = DecodeEntry(buf[:len(buf)-1])
	assert.ErrorIs(t, err, ErrTruncatedRecord)
}

func TestEncodeHint_Layout(t *testing.T) {
	buf, err := EncodeHint([]byte("key"), 99, 1<<40, 512)
	require.NoError(t, err)
	require.Len(t, buf, HintHeaderSize+3)

	h, err := DecodeHintHeader(buf)
	require.NoError(t, err)
	assert.Equal(t, HintHeader{Timestamp: 99, KeySize: 3, EntrySize: 512, EntryOffset: 1 << 40}, h)
	assert.Equal(t, []byte("key"), buf[HintHeaderSize:])
}

func TestIsCorruption(t *testing.T) {
	assert.True(t, IsCorruption(ErrChecksumMismatch))
	assert.True(t, IsCorruption(&CorruptionError{Path: "1.bitcask.data", Offset: 10, Err: ErrBadEntrySize}))
	assert.False(t, IsCorruption(ErrNotFound))
	assert.False(t, IsCorruption(errors.New("other")))

	ce := &CorruptionError{Path: "p", Offset: 3, Err: ErrChecksumMismatch}
	assert.ErrorIs(t, ce, ErrChecksumMismatch)
	assert.Contains(t, ce.Error(), "offset 3")
}
