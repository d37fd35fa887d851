// Package types defines the data shared across tomcatd: the desired
// Instance with its sites and workers, the ReconcileResult a manager
// returns, the RestartSet built from those results, the three-valued
// Tristate used for process state, and the FS boundary.
package types
