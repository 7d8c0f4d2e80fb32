package agentloop

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResponseValidJSON(t *testing.T) {
	text := `{"reasoning": "looks good", "commands": [], "taskComplete": true, "summary": "done"}`
	resp, ok := parseResponse(text)
	require.True(t, ok)
	assert.True(t, resp.TaskComplete)
	assert.Equal(t, "done", resp.Summary)
}

func TestParseResponseStripsCodeFence(t *testing.T) {
	text := "```json\n{\"reasoning\": \"r\", \"commands\": [], \"taskComplete\": false, \"summary\": \"\"}\n```"
	resp, ok := parseResponse(text)
	require.True(t, ok)
	assert.False(t, resp.TaskComplete)
	assert.Equal(t, "r", resp.Reasoning)
}

func TestParseResponseRecoversFromRawControlCharacterInString(t *testing.T) {
	text := "{\"reasoning\": \"line1\nline2\", \"commands\": [], \"taskComplete\": true, \"summary\": \"ok\"}"
	resp, ok := parseResponse(text)
	require.True(t, ok)
	assert.Equal(t, "line1\nline2", resp.Reasoning)
}

func TestParseResponseFailsWithNoJSONObject(t *testing.T) {
	_, ok := parseResponse("not json at all")
	assert.False(t, ok)
}

func TestFallbackResponseIsIncomplete(t *testing.T) {
	resp := fallbackResponse("boom")
	assert.False(t, resp.TaskComplete)
	assert.Contains(t, resp.Reasoning, "boom")
}
