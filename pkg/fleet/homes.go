package fleet

import (
	"bufio"
	"bytes"
	"path/filepath"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/types"
)

// HomeDirs returns the home directories named in a passwd(5) file.
// Orphaned instance directories that are still someone's home are never
// deleted.
func HomeDirs(fsys types.FS, passwdFile string) (map[string]bool, error) {
	data, err := fsys.ReadFile(passwdFile)
	if err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "reading %s", passwdFile)
	}
	homes := make(map[string]bool)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, ":")
		if len(fields) < 7 || fields[5] == "" {
			continue
		}
		homes[filepath.Clean(fields[5])] = true
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, errors.ErrFileAccess, "reading %s", passwdFile)
	}
	return homes, nil
}
