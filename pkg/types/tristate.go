package types

// Tristate is the outcome of a lifecycle operation. Unknown means the
// controller could not tell (manual instance never provisioned, or an
// unreadable PID file); callers must not assume the process is stopped.
type Tristate int

const (
	Unknown Tristate = iota
	False
	True
)

// String returns "unknown", "false" or "true".
func (t Tristate) String() string {
	switch t {
	case False:
		return "false"
	case True:
		return "true"
	default:
		return "unknown"
	}
}

// TristateOf converts a bool.
func TristateOf(b bool) Tristate {
	if b {
		return True
	}
	return False
}
