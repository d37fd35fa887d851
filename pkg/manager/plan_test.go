package manager

import (
	"testing"

	"github.com/arthur-debert/tomcatd/pkg/errors"
	"github.com/arthur-debert/tomcatd/pkg/install"
	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/arthur-debert/tomcatd/pkg/versions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedPlan install.Plan

func (p fixedPlan) Plan(types.Instance) install.Plan { return install.Plan(p) }

func TestCheckedPlanRejectsConflicts(t *testing.T) {
	inst := types.Instance{Name: "demo1", Version: "9.0"}
	conflicting := fixedPlan{
		install.Mkdir("lib", 0770),
		install.Symlink("lib/catalina.jar"),
		install.Delete("lib/catalina.jar"),
	}

	plan, err := checkedPlan(conflicting, inst)
	require.Error(t, err)
	assert.Nil(t, plan)
	assert.True(t, errors.IsErrorCode(err, errors.ErrInstallPlanConflict))
	assert.Equal(t, "demo1", errors.GetErrorDetails(err)["instance"])
}

func TestCheckedPlanAcceptsDescriptors(t *testing.T) {
	for _, d := range versions.All() {
		inst := types.Instance{Name: "demo1", Root: "/var/tomcat/demo1", Version: d.Version, Topology: types.Private}
		plan, err := checkedPlan(d, inst)
		require.NoError(t, err, d.Version)
		assert.NotEmpty(t, plan)
	}
}
