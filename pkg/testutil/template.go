package testutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// BuildTemplate creates a fake template installation under root with one
// small file for every template-relative path in files. Paths ending in
// "/" are created as directories.
func BuildTemplate(t *testing.T, root string, files []string) {
	t.Helper()

	for _, rel := range files {
		full := filepath.Join(root, rel)
		if strings.HasSuffix(rel, "/") {
			if err := os.MkdirAll(full, 0755); err != nil {
				t.Fatalf("creating template dir %s: %v", full, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("creating template dir for %s: %v", full, err)
		}
		if err := os.WriteFile(full, []byte("template:"+rel+"\n"), 0644); err != nil {
			t.Fatalf("creating template file %s: %v", full, err)
		}
	}
}

// SymlinkFarm returns every symlink under root mapped to its target,
// keyed by root-relative path.
func SymlinkFarm(t *testing.T, root string) map[string]string {
	t.Helper()

	farm := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.Mode()&os.ModeSymlink == 0 {
			return nil
		}
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		farm[rel] = target
		return nil
	})
	if err != nil {
		t.Fatalf("walking %s: %v", root, err)
	}
	return farm
}

// ResolvedFarm is SymlinkFarm with relative targets resolved against the
// link's directory, so farms built under different roots compare equal
// when their links land on the same files.
func ResolvedFarm(t *testing.T, root string) map[string]string {
	t.Helper()

	farm := SymlinkFarm(t, root)
	for rel, target := range farm {
		if !filepath.IsAbs(target) {
			farm[rel] = filepath.Join(root, filepath.Dir(rel), target)
		}
	}
	return farm
}

// ReadFile reads a file or fails the test.
func ReadFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}
