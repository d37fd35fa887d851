// pkg/testutil/fakes.go
// DEPENDENCIES: lifecycle boundaries
// PURPOSE: In-process stand-ins for the start/stop script and the process table

package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/arthur-debert/tomcatd/pkg/lifecycle"
)

// FakeTomcat plays the part of bin/tomcat and the kernel's process table.
// "start" writes var/run/tomcat.pid with a fresh pid and marks it alive,
// "stop" marks the pid dead. It implements lifecycle.Runner,
// lifecycle.Liveness and lifecycle.Signaler.
type FakeTomcat struct {
	mu      sync.Mutex
	nextPID int
	alive   map[int]bool
	calls   []lifecycle.Command
	killed  []int

	// HangOn makes the named action ("start" or "stop") block until the
	// context is cancelled.
	HangOn map[string]bool
	// IgnoreStop leaves the process alive after "stop".
	IgnoreStop bool
	// NoPIDFile makes "start" launch without writing the PID file.
	NoPIDFile bool
	// FailOn makes the named action return an error.
	FailOn map[string]error
}

// NewFakeTomcat returns a fake with no running processes.
func NewFakeTomcat() *FakeTomcat {
	return &FakeTomcat{
		nextPID: 4000,
		alive:   make(map[int]bool),
		HangOn:  make(map[string]bool),
		FailOn:  make(map[string]error),
	}
}

// Run executes the fake script action.
func (f *FakeTomcat) Run(ctx context.Context, cmd lifecycle.Command) error {
	action := ""
	if len(cmd.Args) > 0 {
		action = cmd.Args[0]
	}

	f.mu.Lock()
	f.calls = append(f.calls, cmd)
	hang := f.HangOn[action]
	failure := f.FailOn[action]
	f.mu.Unlock()

	if hang {
		<-ctx.Done()
		return ctx.Err()
	}
	if failure != nil {
		return failure
	}

	pidFile := filepath.Join(cmd.Dir, "var", "run", "tomcat.pid")
	switch action {
	case "start":
		f.mu.Lock()
		f.nextPID++
		pid := f.nextPID
		f.alive[pid] = true
		f.mu.Unlock()
		if f.NoPIDFile {
			return nil
		}
		return os.WriteFile(pidFile, []byte(strconv.Itoa(pid)+"\n"), 0644)
	case "stop":
		if f.IgnoreStop {
			return nil
		}
		data, err := os.ReadFile(pidFile)
		if err != nil {
			return nil
		}
		pid, err := strconv.Atoi(string(trimNewline(data)))
		if err != nil {
			return nil
		}
		f.mu.Lock()
		delete(f.alive, pid)
		f.mu.Unlock()
		return nil
	default:
		return fmt.Errorf("fake tomcat: unknown action %q", action)
	}
}

// Alive reports whether pid was started and not yet stopped or killed.
func (f *FakeTomcat) Alive(pid int) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive[pid], nil
}

// Kill marks pid dead and records it.
func (f *FakeTomcat) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.alive, pid)
	f.killed = append(f.killed, pid)
	return nil
}

// SetAlive forces the liveness of pid.
func (f *FakeTomcat) SetAlive(pid int, alive bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if alive {
		f.alive[pid] = true
	} else {
		delete(f.alive, pid)
	}
}

// Calls returns the recorded script invocations.
func (f *FakeTomcat) Calls() []lifecycle.Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]lifecycle.Command, len(f.calls))
	copy(out, f.calls)
	return out
}

// Actions returns "<dir> <action>" for every invocation.
func (f *FakeTomcat) Actions() []string {
	var out []string
	for _, c := range f.Calls() {
		action := ""
		if len(c.Args) > 0 {
			action = c.Args[0]
		}
		out = append(out, filepath.Base(c.Dir)+" "+action)
	}
	return out
}

// Killed returns the pids that received SIGKILL.
func (f *FakeTomcat) Killed() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.killed))
	copy(out, f.killed)
	return out
}

func trimNewline(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r' || b[len(b)-1] == ' ') {
		b = b[:len(b)-1]
	}
	return b
}
