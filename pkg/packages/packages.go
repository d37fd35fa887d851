// Package packages answers which release of a runtime package is
// installed. The production querier asks rpm; the fleet wraps it in a
// per-pass cache so a hundred instances on the same runtime cost one
// query.
package packages

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/logging"
	"golang.org/x/sync/singleflight"
)

// Querier returns the installed version-and-release of a package, as
// "[epoch:]version-release".
type Querier interface {
	Installed(ctx context.Context, pkg string) (string, error)
}

// QueryFormat is the rpm query format Installed parses.
const QueryFormat = "%{EPOCH}:%{VERSION}-%{RELEASE}\\n"

// RPM queries the rpm database.
type RPM struct {
	// Binary defaults to "rpm".
	Binary string
}

// Installed runs rpm -q for pkg.
func (r RPM) Installed(ctx context.Context, pkg string) (string, error) {
	binary := r.Binary
	if binary == "" {
		binary = "rpm"
	}
	args := []string{"-q", "--queryformat", QueryFormat, pkg}
	logging.LogCommand(logging.GetLogger("packages"), binary, args)

	cmd := exec.CommandContext(ctx, binary, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stdout.String() + " " + stderr.String())
		if strings.Contains(msg, "is not installed") {
			return "", errors.Newf(errors.ErrNotFound, "package %s is not installed", pkg).
				WithDetail("package", pkg)
		}
		return "", errors.Wrapf(err, errors.ErrPackageQuery, "querying %s: %s", pkg, msg).
			WithDetail("package", pkg)
	}
	return ParseQuery(stdout.String())
}

// ParseQuery turns rpm output in QueryFormat into a version string,
// dropping an empty epoch.
func ParseQuery(out string) (string, error) {
	line := strings.TrimSpace(out)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		// Several installed releases; rpm lists oldest first.
		lines := strings.Split(line, "\n")
		line = strings.TrimSpace(lines[len(lines)-1])
	}
	epoch, rest, ok := strings.Cut(line, ":")
	if !ok || rest == "" || !strings.Contains(rest, "-") {
		return "", errors.Newf(errors.ErrPackageQuery, "unexpected rpm output %q", out)
	}
	if epoch == "(none)" || epoch == "0" || epoch == "" {
		return rest, nil
	}
	return epoch + ":" + rest, nil
}

// Static is a fixed answer table, used for tests and the packages
// override in the config file.
type Static map[string]string

// Installed looks pkg up in the table.
func (s Static) Installed(_ context.Context, pkg string) (string, error) {
	v, ok := s[pkg]
	if !ok {
		return "", errors.Newf(errors.ErrNotFound, "package %s is not installed", pkg).
			WithDetail("package", pkg)
	}
	return v, nil
}

// Cache remembers answers for the lifetime of the value and collapses
// concurrent queries for the same package into one.
type Cache struct {
	next  Querier
	group singleflight.Group

	mu      sync.Mutex
	answers map[string]string
}

// NewCache wraps next.
func NewCache(next Querier) *Cache {
	return &Cache{next: next, answers: make(map[string]string)}
}

// Installed answers from the cache or asks the wrapped querier once.
func (c *Cache) Installed(ctx context.Context, pkg string) (string, error) {
	c.mu.Lock()
	v, ok := c.answers[pkg]
	c.mu.Unlock()
	if ok {
		return v, nil
	}

	res, err, _ := c.group.Do(pkg, func() (interface{}, error) {
		v, err := c.next.Installed(ctx, pkg)
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.answers[pkg] = v
		c.mu.Unlock()
		return v, nil
	})
	if err != nil {
		return "", err
	}
	return res.(string), nil
}
