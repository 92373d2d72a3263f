package sys

import (
	"os"

	"github.com/shirou/gopsutil/v3/process"
)

// CurrentPID returns the id recorded in lock files. Tests replace it to
// simulate other processes.
var CurrentPID = func() int {
	return os.Getpid()
}

// PIDAlive reports whether a process with the given id exists. Errors from
// the platform query are treated as "alive" so a lock is never broken on a
// guess.
var PIDAlive = func(pid int) bool {
	if pid <= 0 {
		return false
	}
	alive, err := process.PidExists(int32(pid))
	if err != nil {
		return true
	}
	return alive
}
