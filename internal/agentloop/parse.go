package agentloop

import (
	"encoding/json"
	"strings"

	"github.com/turbobackend/worker/internal/agentcmd"
)

// Response is one iteration's required JSON envelope (§4.8 "Required
// response shape").
type Response struct {
	Reasoning    string             `json:"reasoning"`
	Commands     []agentcmd.Command `json:"commands"`
	TaskComplete bool               `json:"taskComplete"`
	Summary      string             `json:"summary"`
	APIBlueprint map[string]any     `json:"apiBlueprint,omitempty"`
}

// parseResponse parses raw LLM text into a Response. On a first parse
// failure it sanitizes control characters and retries once (§4.8
// "Parsing and recovery"). If that also fails, it returns ok=false; the
// loop then keeps the raw text as the assistant turn and appends
// correctiveUserTurn rather than aborting (no fallback Response is built).
func parseResponse(text string) (Response, bool) {
	if resp, err := unmarshalResponse(text); err == nil {
		return resp, true
	}
	sanitized := sanitizeControlCharacters(text)
	if resp, err := unmarshalResponse(sanitized); err == nil {
		return resp, true
	}
	return Response{}, false
}

func unmarshalResponse(text string) (Response, error) {
	trimmed := strings.TrimSpace(text)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start == -1 || end == -1 || end < start {
		var zero Response
		return zero, errNoJSONObject
	}

	var resp Response
	if err := json.Unmarshal([]byte(trimmed[start:end+1]), &resp); err != nil {
		return Response{}, err
	}
	return resp, nil
}

// sanitizeControlCharacters escapes raw newlines, carriage returns and tabs
// (common inside unescaped multi-line string content the model emits) and
// drops every other control character below 0x20, so a strict JSON parser
// can accept the payload on the second attempt.
func sanitizeControlCharacters(text string) string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch r {
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 {
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// fallbackResponse builds an empty, incomplete Response noting a parse
// failure. Loop.Run does not use it: on a failed parse the loop records
// the raw text and appends correctiveUserTurn instead.
func fallbackResponse(reason string) Response {
	return Response{
		Reasoning:    "parse failure: " + reason,
		Commands:     nil,
		TaskComplete: false,
		Summary:      "",
	}
}

const correctiveUserTurn = "Your previous response was not valid JSON. Re-emit a single valid JSON object matching the required response shape, with no text before or after it."

var errNoJSONObject = parseError("response contained no JSON object")

type parseError string

func (e parseError) Error() string { return string(e) }
