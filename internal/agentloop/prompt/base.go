// Package prompt assembles the agentic loop's system prompt from
// independent, composable sections — one per concern — mirroring the
// teacher's composable-template idiom (pkg/agent/prompt/components.go,
// templates.go), retargeted from alert-investigation instructions to
// backend-generation instructions.
package prompt

import "strings"

// Section is one composable piece of the system prompt.
type Section struct {
	Title string
	Body  string
}

// Assemble joins sections in order into the final system prompt text.
func Assemble(sections []Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Title)
		b.WriteString("\n")
		b.WriteString(s.Body)
	}
	return b.String()
}

// Base returns the role prompt every iteration carries: environment
// invariants and the required JSON response shape (§4.8 step 1).
func Base() Section {
	return Section{
		Title: "Role and environment",
		Body: `You are an autonomous engineer building a small HTTP API inside a Linux
sandbox running bash. All file paths you reference are relative to the
project root, which is your home directory. You do not have direct shell
access yourself — you issue structured commands and the runtime executes
them on your behalf and reports results back to you.

Every response you produce must be a single JSON document, with no text
before or after it, matching exactly this shape:

{
  "reasoning": string,
  "commands": [ {"type": "execute"|"write"|"read"|"delete"|"db_query", ...} ],
  "taskComplete": boolean,
  "summary": string,
  "apiBlueprint": object (only when taskComplete is true and this is a new project)
}

Command shapes:
  {"type": "execute", "command": string}
  {"type": "write", "path": string, "content": string}
  {"type": "read", "path": string}
  {"type": "delete", "path": string}
  {"type": "db_query", "query": string, "schemaName": string, "queryType": string}

Set taskComplete to true only once the API fully satisfies the request. Keep
working, one JSON response per turn, until then.`,
	}
}
