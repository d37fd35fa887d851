// Package testutil provides a throwaway host for testing tomcatd components.
//
// Key components:
//   - Environment: temp-dir host with runtime templates and a shared root
//   - RecordingFS: real-disk FS with in-memory ownership and a mutation log
//   - FakeTomcat: stand-in for bin/tomcat and the process table
//   - BuildTemplate, SymlinkFarm, ResolvedFarm: template fixtures and link inspection
//
// Usage guidelines:
//   - Tests run unprivileged, so ownership must go through RecordingFS
//   - Idempotence is asserted by Reset() then checking Mutations() is empty
//   - Each test builds its own Environment, nothing is shared
package testutil
