// pkg/marker/marker_test.go
// TEST TYPE: Unit Test
// DEPENDENCIES: testutil.RecordingFS
// PURPOSE: Marker identity decides between a full rebuild and a targeted update

package marker_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/arthur-debert/tomcatd/pkg/marker"
	"github.com/arthur-debert/tomcatd/pkg/testutil"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEndsWithSource(t *testing.T) {
	m := marker.New("9.0", types.Shared, "mkdir bin 0755\n", "/opt/apache-tomcat-9.0")
	content := string(m.Render())

	assert.Contains(t, content, "managed by tomcatd")
	assert.Contains(t, content, "Version: 9.0\nTopology: shared\nFingerprint: blake3:")
	assert.True(t, len(content) > 0 && content[len(content)-1] == '\n')
	assert.Regexp(t, `Source: /opt/apache-tomcat-9\.0\n$`, content)
}

func TestFingerprintFollowsPlan(t *testing.T) {
	a := marker.New("9.0", types.Shared, "mkdir bin 0755\n", "/opt/apache-tomcat-9.0")
	b := marker.New("9.0", types.Shared, "mkdir bin 0755\n", "/opt/apache-tomcat-9.0")
	c := marker.New("9.0", types.Shared, "mkdir bin 0750\n", "/opt/apache-tomcat-9.0")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
	assert.Len(t, a.Fingerprint, len("blake3:")+64)
}

func TestParseRoundTrip(t *testing.T) {
	m := marker.New("10.1", types.Private, "x", "/opt/apache-tomcat-10.1")
	assert.Equal(t, m, marker.Parse(m.Render()))
}

func TestReadWriteMatches(t *testing.T) {
	root := t.TempDir()
	fsys := testutil.NewRecordingFS()
	want := marker.New("9.0", types.Shared, "plan", "/opt/apache-tomcat-9.0")

	_, found, err := marker.Read(fsys, root)
	require.NoError(t, err)
	assert.False(t, found)

	ok, err := marker.Matches(fsys, root, want)
	require.NoError(t, err)
	assert.False(t, ok)

	changed, err := marker.Write(fsys, root, want, 1001, 1001)
	require.NoError(t, err)
	assert.True(t, changed)

	got, found, err := marker.Read(fsys, root)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, want, got)

	ok, err = marker.Matches(fsys, root, want)
	require.NoError(t, err)
	assert.True(t, ok)

	upgraded := marker.New("10.1", types.Shared, "plan", "/opt/apache-tomcat-10.1")
	ok, err = marker.Matches(fsys, root, upgraded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHandEditedMarkerDoesNotMatch(t *testing.T) {
	root := t.TempDir()
	fsys := testutil.NewRecordingFS()
	want := marker.New("9.0", types.Shared, "plan", "/opt/apache-tomcat-9.0")
	content := append(want.Render(), []byte("local note\n")...)
	require.NoError(t, os.WriteFile(filepath.Join(root, marker.FileName), content, 0644))

	ok, err := marker.Matches(fsys, root, want)
	require.NoError(t, err)
	assert.False(t, ok)
}
