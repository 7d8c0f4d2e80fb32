package dbprovision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDBNameForSanitizesSlug(t *testing.T) {
	assert.Equal(t, "turbobackend_proj_abc123", DBNameFor("abc123"))
	assert.Equal(t, "turbobackend_proj_my_project_42", DBNameFor("My Project #42"))
}

func TestDBNameForIsDeterministic(t *testing.T) {
	assert.Equal(t, DBNameFor("proj-xyz"), DBNameFor("proj-xyz"))
}
