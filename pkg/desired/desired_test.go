package desired_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/arthur-debert/tomcatd/pkg/desired"
	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/testutil"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const demo = `
instances:
  - name: demo1
    version: "9.0"
    topology: shared
    uid: 1001
    gid: 1001
    shutdown_port: 8005
    shutdown_key: s3cret
    workers:
      - {name: demo1_ajp, protocol: ajp, bind: 127.0.0.1, port: 8009, secret: w}
    sites:
      - name: sitea
        gid: 2001
        primary_hostname: a.example.com
        aliases: [www.a.example.com]
        contexts:
          - path: /app
            doc_base: app
            parameters:
              - {name: mode, value: prod}
            data_sources:
              - {name: jdbc/main, driver_class_name: org.h2.Driver, url: "jdbc:h2:mem:", max_active: 8}
      - {name: siteb, gid: 2002, disabled: true}
  - name: solo
    version: "10.1"
    topology: standard
    root: /srv/www/solo/tomcat
    uid: 1002
    gid: 1002
    user: solo-web
    manual: true
`

var roots = desired.Roots{Shared: "/var/tomcat"}

func TestParse(t *testing.T) {
	instances, err := desired.Parse(strings.NewReader(demo), roots)
	require.NoError(t, err)
	require.Len(t, instances, 2)

	d := instances[0]
	assert.Equal(t, "/var/tomcat/demo1", d.Root)
	assert.Equal(t, "demo1", d.User)
	assert.Equal(t, types.Shared, d.Topology)
	assert.Equal(t, []types.Worker{{Name: "demo1_ajp", Protocol: "ajp", Bind: "127.0.0.1", Port: 8009, Secret: "w"}}, d.Workers)
	require.Len(t, d.Sites, 2)
	assert.Equal(t, []string{"www.a.example.com"}, d.Sites[0].Aliases)
	assert.True(t, d.Sites[1].Disabled)
	ctx := d.Sites[0].Contexts[0]
	assert.Equal(t, "prod", ctx.Parameters[0].Value)
	assert.Equal(t, 8, ctx.DataSources[0].MaxActive)
	assert.True(t, d.ShouldRun())

	s := instances[1]
	assert.Equal(t, types.Private, s.Topology)
	assert.Equal(t, "/srv/www/solo/tomcat", s.Root)
	assert.Equal(t, "solo-web", s.User)
	assert.True(t, s.Manual)
	assert.False(t, s.ShouldRun())
}

func TestPrivateRootDefault(t *testing.T) {
	doc := "instances:\n  - {name: solo, version: '9.0', topology: private, uid: 1, gid: 1}\n"
	instances, err := desired.Parse(strings.NewReader(doc), desired.Roots{Shared: "/var/tomcat", Private: "/srv/www"})
	require.NoError(t, err)
	assert.Equal(t, "/srv/www/solo", instances[0].Root)
}

func TestParseEmpty(t *testing.T) {
	instances, err := desired.Parse(strings.NewReader(""), roots)
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown key", "instances:\n  - {name: a, version: '9.0', topology: shared, uid: 1, gid: 1, colour: red}\n"},
		{"bad name", "instances:\n  - {name: ../a, version: '9.0', topology: shared, uid: 1, gid: 1}\n"},
		{"no version", "instances:\n  - {name: a, topology: shared, uid: 1, gid: 1}\n"},
		{"root uid", "instances:\n  - {name: a, version: '9.0', topology: shared, uid: 0, gid: 1}\n"},
		{"bad topology", "instances:\n  - {name: a, version: '9.0', topology: clustered, uid: 1, gid: 1}\n"},
		{"private without root", "instances:\n  - {name: a, version: '9.0', topology: private, uid: 1, gid: 1}\n"},
		{"relative root", "instances:\n  - {name: a, version: '9.0', topology: private, root: srv/a, uid: 1, gid: 1}\n"},
		{"duplicate name", "instances:\n  - {name: a, version: '9.0', topology: shared, uid: 1, gid: 1}\n  - {name: a, version: '9.0', topology: shared, uid: 1, gid: 1}\n"},
		{"duplicate root", "instances:\n  - {name: a, version: '9.0', topology: shared, uid: 1, gid: 1}\n  - {name: b, version: '9.0', topology: private, root: /var/tomcat/a, uid: 1, gid: 1}\n"},
		{"duplicate site", "instances:\n  - {name: a, version: '9.0', topology: shared, uid: 1, gid: 1, sites: [{name: s, gid: 1}, {name: s, gid: 1}]}\n"},
		{"not yaml", "instances: [\n"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := desired.Parse(strings.NewReader(tt.doc), roots)
			require.Error(t, err)
			assert.True(t, errors.IsErrorCode(err, errors.ErrDesiredState), err.Error())
		})
	}
}

func TestFileProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "instances.yaml")
	require.NoError(t, os.WriteFile(path, []byte(demo), 0644))

	p := &desired.File{FS: testutil.NewRecordingFS(), Path: path, Roots: roots}
	instances, err := p.Instances(context.Background())
	require.NoError(t, err)
	assert.Len(t, instances, 2)

	inst, err := desired.Lookup(instances, "solo")
	require.NoError(t, err)
	assert.Equal(t, "10.1", inst.Version)

	_, err = desired.Lookup(instances, "nope")
	assert.True(t, errors.IsErrorCode(err, errors.ErrInstanceNotFound))

	p.Path = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = p.Instances(context.Background())
	assert.True(t, errors.IsErrorCode(err, errors.ErrDesiredState))
}

func TestParseErrorsNameTheInstance(t *testing.T) {
	doc := "instances:\n" +
		"  - {name: good, version: '9.0', topology: shared, uid: 1, gid: 1}\n" +
		"  - {name: bad, version: '9.0', topology: shared, uid: 1, gid: 1, sites: [{name: 'Not Valid', gid: 1}]}\n"

	_, err := desired.Parse(strings.NewReader(doc), roots)
	require.Error(t, err)
	assert.True(t, errors.IsErrorCode(err, errors.ErrDesiredState))
	assert.Equal(t, "bad", errors.GetErrorDetails(err)["instance"])
	assert.Contains(t, err.Error(), "instance #2")
	assert.Contains(t, err.Error(), `invalid site name "Not Valid"`)
}

func TestParseKeepsRootsApart(t *testing.T) {
	doc := "instances:\n" +
		"  - {name: a, version: '9.0', topology: shared, uid: 1, gid: 1}\n" +
		"  - {name: b, version: '9.0', topology: shared, uid: 1, gid: 1}\n" +
		"  - {name: c, version: '9.0', topology: private, uid: 1, gid: 1}\n"
	both := desired.Roots{Shared: "/var/tomcat", Private: "/srv/www"}

	instances, err := desired.Parse(strings.NewReader(doc), both)
	require.NoError(t, err)
	require.Len(t, instances, 3)
	assert.Equal(t, "/var/tomcat/a", instances[0].Root)
	assert.Equal(t, "/var/tomcat/b", instances[1].Root)
	assert.Equal(t, "/srv/www/c", instances[2].Root)
}
