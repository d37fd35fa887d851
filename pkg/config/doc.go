// Package config loads tomcatd's host configuration.
//
// Sources are layered, later ones winning:
//
//  1. the embedded embedded/defaults.toml
//  2. the config file: --config, else /etc/tomcatd/tomcatd.toml, else
//     tomcatd/tomcatd.toml in the XDG config directories
//  3. TOMCATD_ environment variables, with a double underscore separating
//     section and key (TOMCATD_LIFECYCLE__GRACE_DELAY=10s)
package config
