package core

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIndexEntry_IsNewerThan(t *testing.T) {
	base := IndexEntry{FileID: 10, Timestamp: 100, Offset: 50}

	testCases := []struct {
		name  string
		entry IndexEntry
		want  bool
	}{
		{"later timestamp", IndexEntry{FileID: 1, Timestamp: 101, Offset: 0}, true},
		{"earlier timestamp", IndexEntry{FileID: 99, Timestamp: 99, Offset: 999}, false},
		{"same ts higher file", IndexEntry{FileID: 11, Timestamp: 100, Offset: 0}, true},
		{"same ts lower file", IndexEntry{FileID: 9, Timestamp: 100, Offset: 999}, false},
		{"same ts same file higher offset", IndexEntry{FileID: 10, Timestamp: 100, Offset: 51}, true},
		{"same ts same file lower offset", IndexEntry{FileID: 10, Timestamp: 100, Offset: 49}, false},
		{"identical", base, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.entry.IsNewerThan(base))
		})
	}
}

func TestNames(t *testing.T) {
	assert.Equal(t, "1700000000.bitcask.data", DataFileName(1700000000))
	assert.Equal(t, "/d/5.bitcask.hint", HintFileName("/d/5.bitcask.data"))
	assert.Equal(t, "/d/other.hint", HintFileName("/d/other"))

	id, ok := ParseDataFileName("123.bitcask.data")
	assert.True(t, ok)
	assert.Equal(t, uint32(123), id)

	for _, bad := range []string{"123.bitcask.hint", "abc.bitcask.data", "123.bitcask.data.tmp", "x123.bitcask.data", "99999999999.bitcask.data"} {
		_, ok := ParseDataFileName(bad)
		assert.False(t, ok, bad)
	}
}

func TestTombstone(t *testing.T) {
	assert.True(t, IsTombstone([]byte("bitcask_tombstone")))
	assert.False(t, IsTombstone([]byte("bitcask_tombstonE")))
	assert.Equal(t, uint32(EntryHeaderSize+3+17), TombstoneEntrySize(3))
}

func TestMockClock(t *testing.T) {
	start := time.Unix(1000, 0)
	c := NewMockClock(start)
	assert.Equal(t, uint32(1000), NowSeconds(c))
	c.Advance(2500 * time.Millisecond)
	assert.Equal(t, uint32(1002), NowSeconds(c))
	c.SetTime(time.Unix(5, 0))
	assert.Equal(t, uint32(5), NowSeconds(c))
}
