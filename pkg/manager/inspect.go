package manager

import (
	"bytes"
	"context"
	"os"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/versions"
)

// Inspect reports what Reconcile would find without writing anything:
// the install state, the installed release, and which derived files are
// out of date. Ladder moves are not predicted.
func (m *Manager) Inspect(ctx context.Context, inst types.Instance) (types.ReconcileResult, error) {
	result := types.ReconcileResult{Instance: inst.Name}

	p, err := m.prepare(ctx, inst)
	if err != nil {
		return result, err
	}
	result.Installed = p.installed

	state, exists, err := m.detect(inst, p.want)
	if err != nil {
		return result, err
	}
	result.State = state

	switch state {
	case StateFresh, StateRebuild:
		result.Dirty = true
	case StateManual:
		return result, nil
	}
	if !exists {
		return result, nil
	}

	derived := []struct {
		path string
		want []byte
	}{
		{versions.ServerXMLPath, p.serverXML},
		{versions.SitesPath, versions.SitesScript(inst)},
	}
	for _, d := range derived {
		path, want := d.path, d.want
		current, err := m.FS.ReadFile(p.env.Abs(path))
		if err != nil && !os.IsNotExist(err) {
			return result, errors.Wrapf(err, errors.ErrFileAccess, "reading %s", path)
		}
		if err != nil || !bytes.Equal(current, want) {
			result.Changed = append(result.Changed, path)
			result.Dirty = true
		}
	}
	return result, nil
}
