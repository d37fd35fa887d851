// Package marker reads and writes the change marker, the README.txt at the
// top of every auto-managed instance. Its content identifies the template
// and install plan the tree was last fully built from; when it differs
// from what the current descriptor would write, the manager re-applies the
// whole plan.
package marker

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/atomicfile"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/internal/hashutil"
	"github.com/arthur-debert/tomcatd/pkg/types"
)

// FileName is the marker's name at the instance root.
const FileName = "README.txt"

const banner = `This Tomcat instance is managed by tomcatd.

The directory layout, the links into the shared runtime and every
generated file (conf/server.xml, bin/tomcat, bin/profile.d/sites.sh) are
rebuilt on each reconciliation. Edits to generated files are replaced and
the previous version kept as a dated backup. To maintain this instance by
hand, switch it to manual mode first.

`

// Marker is the parsed content of the change marker.
type Marker struct {
	Version     string
	Topology    string
	Fingerprint string
	Source      string
}

// New builds the marker for a tree built from template at source with a
// plan whose fingerprint text is planFingerprint.
func New(version string, topology types.Topology, planFingerprint, source string) Marker {
	return Marker{
		Version:     version,
		Topology:    topology.String(),
		Fingerprint: hashutil.Checksum([]byte(planFingerprint)),
		Source:      source,
	}
}

// Render returns the exact file content. The source line is last.
func (m Marker) Render() []byte {
	var b bytes.Buffer
	b.WriteString(banner)
	b.WriteString("Version: " + m.Version + "\n")
	b.WriteString("Topology: " + m.Topology + "\n")
	b.WriteString("Fingerprint: " + m.Fingerprint + "\n")
	b.WriteString("Source: " + m.Source + "\n")
	return b.Bytes()
}

// Parse extracts the fields of a marker. Unknown lines are ignored.
func Parse(data []byte) Marker {
	var m Marker
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ": ")
		if !ok {
			continue
		}
		switch key {
		case "Version":
			m.Version = value
		case "Topology":
			m.Topology = value
		case "Fingerprint":
			m.Fingerprint = value
		case "Source":
			m.Source = value
		}
	}
	return m
}

// Path returns the marker path under an instance root.
func Path(root string) string {
	return filepath.Join(root, FileName)
}

// Read returns the marker of the instance at root, and false when there
// is none.
func Read(fsys types.FS, root string) (Marker, bool, error) {
	data, err := fsys.ReadFile(Path(root))
	if os.IsNotExist(err) {
		return Marker{}, false, nil
	}
	if err != nil {
		return Marker{}, false, errors.Wrapf(err, errors.ErrFileAccess, "reading marker in %s", root)
	}
	return Parse(data), true, nil
}

// Matches reports whether the marker on disk is byte-identical to want.
// A missing marker never matches.
func Matches(fsys types.FS, root string, want Marker) (bool, error) {
	data, err := fsys.ReadFile(Path(root))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, errors.ErrFileAccess, "reading marker in %s", root)
	}
	return bytes.Equal(data, want.Render()), nil
}

// Write stores the marker, owned by the instance user.
func Write(fsys types.FS, root string, m Marker, uid, gid int) (bool, error) {
	return atomicfile.Write(fsys, Path(root), m.Render(), atomicfile.Options{
		Mode: 0644,
		UID:  uid,
		GID:  gid,
	})
}
