package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turbobackend/worker/internal/agentloop"
	"github.com/turbobackend/worker/internal/models"
)

func TestIsCreateTableMatchesCaseInsensitively(t *testing.T) {
	assert.True(t, isCreateTable("CREATE TABLE"))
	assert.True(t, isCreateTable("create table"))
	assert.True(t, isCreateTable("CREATE TABLE IF NOT EXISTS"))
	assert.False(t, isCreateTable("ALTER TABLE"))
	assert.False(t, isCreateTable(""))
}

func TestClassifyModificationNewRouteWins(t *testing.T) {
	filesModified := map[string]string{
		"server/api/orders/index.post.js": agentloop.FileRoute,
		"server/api/users/[id].get.js":    agentloop.FileRoute,
		"server/utils/format.js":          agentloop.FileUtility,
	}
	preExisting := map[string]bool{
		"server/api/users/[id].get.js": true,
	}

	assert.Equal(t, models.ActionEndpointsAdded, classifyModification(filesModified, preExisting))
}

func TestClassifyModificationChangedRouteOnly(t *testing.T) {
	filesModified := map[string]string{
		"server/api/users/[id].get.js": agentloop.FileRoute,
	}
	preExisting := map[string]bool{
		"server/api/users/[id].get.js": true,
	}

	assert.Equal(t, models.ActionEndpointsModified, classifyModification(filesModified, preExisting))
}

func TestClassifyModificationNoRoutesIsBusinessLogic(t *testing.T) {
	filesModified := map[string]string{
		"server/utils/format.js": agentloop.FileUtility,
	}

	assert.Equal(t, models.ActionBusinessLogicMod, classifyModification(filesModified, map[string]bool{}))
}
