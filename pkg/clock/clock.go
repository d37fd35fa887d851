// Package clock abstracts the few time operations tomcatd depends on:
// backup date suffixes, the grace delay between stop and start, and the
// polling loops that wait for a PID file to appear or a process to exit.
//
// Production code injects Real(); tests inject NewFake() so that a restart
// with a five second grace delay finishes instantly and deterministically.
package clock

import (
	"sync"
	"time"
)

// Clock abstracts time operations for testability.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Sleep pauses the current goroutine for at least d.
	Sleep(d time.Duration)
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// Fake is a Clock whose Sleep returns immediately after advancing the
// fake time by d. Every sleep is recorded so tests can assert on delays.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	sleeps  []time.Duration
}

// NewFake returns a Fake clock set to initial.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial}
}

// Now returns the current fake time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Sleep advances the fake time by d without blocking.
func (f *Fake) Sleep(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if d > 0 {
		f.current = f.current.Add(d)
	}
	f.sleeps = append(f.sleeps, d)
}

// Advance moves the fake time forward by d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.current = f.current.Add(d)
}

// Sleeps returns a copy of every duration passed to Sleep.
func (f *Fake) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]time.Duration, len(f.sleeps))
	copy(out, f.sleeps)
	return out
}
