package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsProtected(t *testing.T) {
	assert.True(t, IsProtected("registry"))
	assert.True(t, IsProtected("clipping_master"))
	assert.True(t, IsProtected("spatial_ref_sys"))
	assert.False(t, IsProtected("demo--all-layers"))
}
