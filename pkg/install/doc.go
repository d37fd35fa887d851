// Package install holds the primitive filesystem facts an instance tree is
// built from.
//
// An Action is an immutable value naming one desired fact (a directory, a
// link into the template installation, a seeded copy, a generated file).
// Applying it makes the fact true and reports whether anything on disk had
// to change. A second application of the same action is always a no-op,
// which is what makes repeated reconciliation write nothing.
//
// Link targets are never absolute. Each link is made relative to its own
// directory, hopping back up to the template root, so instance trees keep
// working when the filesystem is mounted elsewhere.
package install
