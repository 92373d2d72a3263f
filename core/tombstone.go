package core

import "bytes"

// Tombstone is the value written by a delete.
var Tombstone = []byte("bitcask_tombstone")

// TombstoneEntrySize is the on-disk size of a tombstone entry for a key of
// keyLen bytes.
func TombstoneEntrySize(keyLen int) uint32 {
	return uint32(EntryHeaderSize + keyLen + len(Tombstone))
}

func IsTombstone(value []byte) bool {
	return bytes.Equal(value, Tombstone)
}
