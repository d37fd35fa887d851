package types

import "sort"

// ReconcileResult is what one instance's reconciliation reports back to
// the fleet driver. Results are merged by the caller instead of threading
// shared accumulators through the managers.
type ReconcileResult struct {
	Instance string
	// Dirty is set when a consequential file changed and the running
	// process must be restarted to pick it up.
	Dirty bool
	// Orphans are absolute paths the driver should delete (stale work dirs).
	Orphans []string
	// Changed lists instance-relative paths that were written this pass.
	Changed []string
	// Installed is the runtime package version-and-release the ladder used.
	Installed string
	// State is the install state the manager detected.
	State string
}

// RestartSet collects the instances needing a restart after a pass.
type RestartSet struct {
	names map[string]struct{}
}

// NewRestartSet builds a set from reconcile results.
func NewRestartSet(results ...ReconcileResult) *RestartSet {
	rs := &RestartSet{names: make(map[string]struct{})}
	for _, r := range results {
		if r.Dirty {
			rs.Add(r.Instance)
		}
	}
	return rs
}

// Add marks an instance as needing a restart.
func (rs *RestartSet) Add(name string) {
	if rs.names == nil {
		rs.names = make(map[string]struct{})
	}
	rs.names[name] = struct{}{}
}

// Contains reports whether the instance needs a restart.
func (rs *RestartSet) Contains(name string) bool {
	_, ok := rs.names[name]
	return ok
}

// Len is the number of instances in the set.
func (rs *RestartSet) Len() int {
	return len(rs.names)
}

// Names returns the members in sorted order.
func (rs *RestartSet) Names() []string {
	out := make([]string, 0, len(rs.names))
	for n := range rs.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
