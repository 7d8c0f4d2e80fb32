package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/turbobackend/worker/internal/agentloop"
)

func TestCountRoutesCountsOnlyRouteFiles(t *testing.T) {
	filesModified := map[string]string{
		"server/api/health.get.js":        agentloop.FileRoute,
		"server/api/users/index.post.js":  agentloop.FileRoute,
		"server/middleware/cors.js":       agentloop.FileMiddleware,
		"server/models/user.js":           agentloop.FileModel,
	}

	assert.Equal(t, 2, countRoutes(filesModified))
}

func TestCountRoutesEmpty(t *testing.T) {
	assert.Equal(t, 0, countRoutes(nil))
}
