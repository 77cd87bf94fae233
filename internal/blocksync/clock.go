package blocksync

import "time"

// realClock is the production Clock, backed directly by the time
// package. Tests use a fake implementing the same interface instead.
type realClock struct{}

// NewRealClock returns the production Clock.
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return &realTimer{t: time.AfterFunc(d, f)}
}

type realTimer struct {
	t *time.Timer
}

func (rt *realTimer) Reset(d time.Duration) bool { return rt.t.Reset(d) }
func (rt *realTimer) Stop() bool                 { return rt.t.Stop() }
