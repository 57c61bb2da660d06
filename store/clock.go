package store

import "time"

// nowMs returns the current wall-clock time in epoch milliseconds. A
// monotonic clock would be wrong here: TTLs are persisted as absolute
// epoch times in the dump file and must keep meaning across a process
// restart, which only wall-clock time provides.
func nowMs() int64 {
	return time.Now().UnixMilli()
}
