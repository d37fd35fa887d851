package install

import (
	"path/filepath"

	"github.com/arthur-debert/tomcatd/pkg/types"
)

// Env is the context every primitive is applied in.
type Env struct {
	FS types.FS
	// TemplateRoot is the shared runtime installation, e.g.
	// /opt/apache-tomcat-9.0.
	TemplateRoot string
	// OptDir holds the runtimes, e.g. /opt. Profile scripts resolve
	// through it.
	OptDir       string
	InstanceRoot string
	UID          int
	GID          int
	// BackupSuffix names backups of replaced generated files.
	BackupSuffix string
}

// Abs returns the absolute path of an instance-relative path.
func (e Env) Abs(rel string) string {
	return filepath.Join(e.InstanceRoot, rel)
}

// TemplatePath returns the absolute path of a template-relative path.
func (e Env) TemplatePath(rel string) string {
	return filepath.Join(e.TemplateRoot, rel)
}

// LinkTarget returns the relative target a link at instance path rel must
// carry to reach the template-relative path templateRel.
func (e Env) LinkTarget(rel, templateRel string) (string, error) {
	return relativeTo(e.Abs(rel), e.TemplatePath(templateRel))
}

func relativeTo(link, absTarget string) (string, error) {
	return filepath.Rel(filepath.Dir(link), absTarget)
}
