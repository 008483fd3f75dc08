package admission

import "time"

// Clock supplies wall-clock timestamps. Injected so tests can run the engine
// against deterministic time.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

// Now returns the current wall-clock time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
