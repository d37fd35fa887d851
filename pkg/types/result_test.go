package types_test

import (
	"testing"

	"github.com/arthur-debert/tomcatd/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestRestartSetZeroValue(t *testing.T) {
	var rs types.RestartSet
	assert.False(t, rs.Contains("x"))
	rs.Add("x")
	rs.Add("x")
	assert.True(t, rs.Contains("x"))
	assert.Equal(t, 1, rs.Len())
}
