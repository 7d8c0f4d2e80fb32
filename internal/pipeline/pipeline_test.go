package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreationRequestTextPrefersUserPrompt(t *testing.T) {
	assert.Equal(t, "build a todo api", creationRequestText(map[string]any{"userPrompt": "build a todo api"}))
	assert.Equal(t, "fallback text", creationRequestText(map[string]any{"requestText": "fallback text"}))
	assert.Equal(t, "", creationRequestText(map[string]any{}))
	assert.Equal(t, "", creationRequestText(map[string]any{"userPrompt": 42}))
}

func TestModificationRequestTextPrefersModificationRequest(t *testing.T) {
	assert.Equal(t, "add GET /api/users/[id]", modificationRequestText(map[string]any{"modificationRequest": "add GET /api/users/[id]"}))
	assert.Equal(t, "fallback text", modificationRequestText(map[string]any{"requestText": "fallback text"}))
	assert.Equal(t, "", modificationRequestText(map[string]any{}))
}

func TestRequestEnvironmentDefaultsToProduction(t *testing.T) {
	assert.Equal(t, "production", requestEnvironment(map[string]any{}))
	assert.Equal(t, "staging", requestEnvironment(map[string]any{"environment": "staging"}))
}

func TestRequestRedeployOnModifyDefaultsTrue(t *testing.T) {
	assert.True(t, requestRedeployOnModify(map[string]any{}))
	assert.False(t, requestRedeployOnModify(map[string]any{"redeploy": false}))
	assert.True(t, requestRedeployOnModify(map[string]any{"redeploy": true}))
}

func TestDeploymentURLForFormatsFlyDevHost(t *testing.T) {
	assert.Equal(t, "https://turbobackend-abc.fly.dev", deploymentURLFor("turbobackend-abc"))
}

func TestStripBlueprintMetadataRemovesDisallowedFields(t *testing.T) {
	in := map[string]any{
		"projectId":   "proj-1",
		"projectName": "Todo API",
		"version":     "1.0",
		"database":    map[string]any{"tables": []any{}},
		"endpoints":   []any{"GET /api/health"},
	}
	out := stripBlueprintMetadata(in)

	assert.NotContains(t, out, "projectId")
	assert.NotContains(t, out, "projectName")
	assert.NotContains(t, out, "version")
	assert.NotContains(t, out, "database")
	assert.Contains(t, out, "endpoints")

	// the input map must not be mutated
	assert.Contains(t, in, "projectId")
}

func TestContentMessageMarshalsContent(t *testing.T) {
	msg := contentMessage("apiBlueprint", map[string]any{"endpoints": []any{"GET /api/health"}})
	assert.Equal(t, "apiBlueprint", msg.Type)
	assert.Contains(t, string(msg.Content), "endpoints")
}
