package install

import (
	"fmt"
	"strings"

	"github.com/arthur-debert/tomcatd/pkg/errors"
)

// Plan is an ordered list of actions. Order matters: directories come
// before the links placed in them.
type Plan []Action

// Apply applies every action in order and returns the instance-relative
// paths that changed. The first failure stops the plan; what was applied
// before it stays applied, and re-running converges.
func (p Plan) Apply(env Env) ([]string, error) {
	var changed []string
	for _, a := range p {
		c, err := a.Apply(env)
		if err != nil {
			return changed, errors.Wrapf(err, errors.GetErrorCode(err), "%s %s", a.Kind, a.Path).
				WithDetail("path", a.Path).
				WithDetail("instance_root", env.InstanceRoot)
		}
		if c {
			changed = append(changed, a.Path)
		}
	}
	return changed, nil
}

// Validate rejects plans that state two different facts about one path.
func (p Plan) Validate() error {
	seen := make(map[string]Action, len(p))
	for _, a := range p {
		prev, ok := seen[a.Path]
		if ok && (prev.Kind != a.Kind || prev.Target != a.Target || prev.Mode != a.Mode) {
			return errors.Newf(errors.ErrInstallPlanConflict, "%s declared as both %s and %s", a.Path, prev.Kind, a.Kind)
		}
		seen[a.Path] = a
	}
	return nil
}

// Fingerprint is a stable textual rendering of the plan. Generated content
// is not part of it; only which files are generated and how.
func (p Plan) Fingerprint() string {
	var b strings.Builder
	for _, a := range p {
		fmt.Fprintf(&b, "%s %s %04o", a.Kind, a.Path, a.Mode.Perm())
		if a.Target != "" {
			fmt.Fprintf(&b, " %s", a.Target)
		}
		if a.Literal {
			b.WriteString(" literal")
		}
		b.WriteByte('\n')
	}
	return b.String()
}
