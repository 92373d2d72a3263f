package core

// IndexEntry locates the newest entry of a key. It is a value type; the
// key directory replaces entries, it never mutates them.
type IndexEntry struct {
	FileID    uint32
	Timestamp uint32
	Offset    uint64
	TotalSize uint32
}

// IsNewerThan orders entries by timestamp, then file id, then offset.
func (e IndexEntry) IsNewerThan(other IndexEntry) bool {
	if e.Timestamp != other.Timestamp {
		return e.Timestamp > other.Timestamp
	}
	if e.FileID != other.FileID {
		return e.FileID > other.FileID
	}
	return e.Offset > other.Offset
}
