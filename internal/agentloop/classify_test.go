package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyPathRoute(t *testing.T) {
	assert.Equal(t, FileRoute, ClassifyPath("server/api/orders/index.post.ts"))
}

func TestClassifyPathMiddleware(t *testing.T) {
	assert.Equal(t, FileMiddleware, ClassifyPath("server/middleware/auth.js"))
}

func TestClassifyPathModel(t *testing.T) {
	assert.Equal(t, FileModel, ClassifyPath("server/models/user.js"))
}

func TestClassifyPathUtility(t *testing.T) {
	assert.Equal(t, FileUtility, ClassifyPath("server/utils/format.js"))
}

func TestClassifyPathConfig(t *testing.T) {
	assert.Equal(t, FileConfig, ClassifyPath("nuxt.config.ts"))
}

func TestClassifyPathOther(t *testing.T) {
	assert.Equal(t, FileOther, ClassifyPath("README.md"))
}

func TestClassifyPathRouteTakesPrecedenceOverModel(t *testing.T) {
	assert.Equal(t, FileRoute, ClassifyPath("server/api/models/index.get.js"))
}
