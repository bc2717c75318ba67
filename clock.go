package redislimit

import "time"

// Clock supplies the current time to the algorithm dispatchers. Scripts
// receive time as an argument rather than reading it server-side, so tests
// can substitute a fake clock and drive window rollover deterministically.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
