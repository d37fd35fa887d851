// Package filesystem provides the OS-backed implementation of types.FS.
//
// Tests that must not chown to other identities wrap this with the
// recording filesystem from pkg/testutil.
package filesystem
