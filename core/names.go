package core

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// This file centralizes file names used inside a store directory.

const (
	DataFileSuffix = ".bitcask.data"
	HintFileSuffix = ".bitcask.hint"

	// StoreSubdir is created under the user-supplied directory on open.
	StoreSubdir = "bitcask"
)

var dataFilePattern = regexp.MustCompile(`^[0-9]+\.bitcask\.data$`)

// DataFileName returns "{id}.bitcask.data".
func DataFileName(id uint32) string {
	return fmt.Sprintf("%d%s", id, DataFileSuffix)
}

// HintFileName derives the hint path from a data path by replacing the
// trailing ".data" with ".hint", or appending ".hint" otherwise.
func HintFileName(dataPath string) string {
	if strings.HasSuffix(dataPath, ".data") {
		return strings.TrimSuffix(dataPath, ".data") + ".hint"
	}
	return dataPath + ".hint"
}

// ParseDataFileName extracts the file id from a data file's base name.
func ParseDataFileName(name string) (uint32, bool) {
	if !dataFilePattern.MatchString(name) {
		return 0, false
	}
	id, err := strconv.ParseUint(strings.TrimSuffix(name, DataFileSuffix), 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(id), true
}

// IsDataFileName reports whether name matches the data file pattern.
func IsDataFileName(name string) bool {
	return dataFilePattern.MatchString(name)
}
