package core

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"math"
)

const (
	// EntryHeaderSize is crc32(4) + timestamp(4) + key length(2) + value length(4).
	EntryHeaderSize = 14
	// HintHeaderSize is timestamp(4) + key length(2) + entry size(4) + entry offset(8).
	HintHeaderSize = 18

	MaxKeySize   = math.MaxUint16
	MaxValueSize = math.MaxUint32
)

// EntryHeader is the fixed-size prefix of a data entry.
type EntryHeader struct {
	CRC       uint32
	Timestamp uint32
	KeySize   uint16
	ValueSize uint32
}

// EntrySize is the total on-disk size of the entry described by h.
func (h EntryHeader) EntrySize() uint32 {
	return EntryHeaderSize + uint32(h.KeySize) + h.ValueSize
}

// HintHeader is the fixed-size prefix of a hint entry.
type HintHeader struct {
	Timestamp   uint32
	KeySize     uint16
	EntrySize   uint32
	EntryOffset uint64
}

// Record is a fully decoded data entry together with its location.
type Record struct {
	Key       []byte
	Value     []byte
	Timestamp uint32
	Offset    uint64
	Size      uint32
}

// KeyRecord is what a key fold yields: a key and where its entry lives.
type KeyRecord struct {
	Key       []byte
	Timestamp uint32
	Offset    uint64
	Size      uint32
}

// EntrySize returns the encoded size of a data entry for key and value.
func EntrySize(key, value []byte) int64 {
	return int64(EntryHeaderSize) + int64(len(key)) + int64(len(value))
}

func checkSizes(key, value []byte) error {
	if len(key) > MaxKeySize {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	if uint64(len(value)) > MaxValueSize {
		return fmt.Errorf("%w: %d bytes", ErrValueTooLarge, len(value))
	}
	return nil
}

// EncodeEntry encodes key and value into a data entry stamped with ts.
func EncodeEntry(key, value []byte, ts uint32) ([]byte, error) {
	if err := checkSizes(key, value); err != nil {
		return nil, err
	}
	buf := make([]byte, EntryHeaderSize+len(key)+len(value))
	binary.BigEndian.PutUint32(buf[4:8], ts)
	binary.BigEndian.PutUint16(buf[8:10], uint16(len(key)))
	binary.BigEndian.PutUint32(buf[10:14], uint32(len(value)))
	copy(buf[EntryHeaderSize:], key)
	copy(buf[EntryHeaderSize+len(key):], value)
	binary.BigEndian.PutUint32(buf[0:4], crc32.ChecksumIEEE(buf[4:]))
	return buf, nil
}

// DecodeEntryHeader parses the first EntryHeaderSize bytes of b.
func DecodeEntryHeader(b []byte) (EntryHeader, error) {
	if len(b) < EntryHeaderSize {
		return EntryHeader{}, ErrTruncatedRecord
	}
	return EntryHeader{
		CRC:       binary.BigEndian.Uint32(b[0:4]),
		Timestamp: binary.BigEndian.Uint32(b[4:8]),
		KeySize:   binary.BigEndian.Uint16(b[8:10]),
		ValueSize: binary.BigEndian.Uint32(b[10:14]),
	}, nil
}

// VerifyEntry recomputes the checksum over header[4:14], key and value and
// compares it with the value stored in header[0:4].
func VerifyEntry(header, key, value []byte) error {
	if len(header) < EntryHeaderSize {
		return ErrTruncatedRecord
	}
	h := crc32.NewIEEE()
	h.Write(header[4:EntryHeaderSize])
	h.Write(key)
	h.Write(value)
	if h.Sum32() != binary.BigEndian.Uint32(header[0:4]) {
		return ErrChecksumMismatch
	}
	return nil
}

// DecodeEntry decodes and verifies a complete data entry held in buf.
// The returned key and value alias buf.
func DecodeEntry(buf []byte) (Record, error) {
	h, err := DecodeEntryHeader(buf)
	if err != nil {
		return Record{}, err
	}
	size := h.EntrySize()
	if uint64(len(buf)) < uint64(size) {
		return Record{}, ErrTruncatedRecord
	}
	key := buf[EntryHeaderSize : EntryHeaderSize+int(h.KeySize)]
	value := buf[EntryHeaderSize+int(h.KeySize) : size]
	if err := VerifyEntry(buf[:EntryHeaderSize], key, value); err != nil {
		return Record{}, err
	}
	return Record{Key: key, Value: value, Timestamp: h.Timestamp, Size: size}, nil
}

// EncodeHint encodes a hint entry pointing at a data entry of the given
// size and offset. Hint entries carry no checksum.
func EncodeHint(key []byte, ts uint32, offset uint64, size uint32) ([]byte, error) {
	if len(key) > MaxKeySize {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyTooLarge, len(key))
	}
	buf := make([]byte, HintHeaderSize+len(key))
	binary.BigEndian.PutUint32(buf[0:4], ts)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(key)))
	binary.BigEndian.PutUint32(buf[6:10], size)
	binary.BigEndian.PutUint64(buf[10:18], offset)
	copy(buf[HintHeaderSize:], key)
	return buf, nil
}

// DecodeHintHeader parses the first HintHeaderSize bytes of b.
func DecodeHintHeader(b []byte) (HintHeader, error) {
	if len(b) < HintHeaderSize {
		return HintHeader{}, ErrTruncatedRecord
	}
	return HintHeader{
		Timestamp:   binary.BigEndian.Uint32(b[0:4]),
		KeySize:     binary.BigEndian.Uint16(b[4:6]),
		EntrySize:   binary.BigEndian.Uint32(b[6:10]),
		EntryOffset: binary.BigEndian.Uint64(b[10:18]),
	}, nil
}
