package projectcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveEndpointSimpleRoute(t *testing.T) {
	ep, ok := deriveEndpoint("server/api/health.get.js")
	assert.True(t, ok)
	assert.Equal(t, "GET", ep.Method)
	assert.Equal(t, "/api/health", ep.Path)
}

func TestDeriveEndpointNestedIndexRoute(t *testing.T) {
	ep, ok := deriveEndpoint("server/api/orders/index.post.ts")
	assert.True(t, ok)
	assert.Equal(t, "POST", ep.Method)
	assert.Equal(t, "/api/orders", ep.Path)
}

func TestDeriveEndpointDynamicSegment(t *testing.T) {
	ep, ok := deriveEndpoint("server/api/users/[id].get.js")
	assert.True(t, ok)
	assert.Equal(t, "GET", ep.Method)
	assert.Equal(t, "/api/users/:id", ep.Path)
}

func TestDeriveEndpointSkipsUnrecognizedSuffix(t *testing.T) {
	_, ok := deriveEndpoint("server/api/users/helpers.js")
	assert.False(t, ok)
}
