package agentloop

import "strings"

// File classification buckets for a written path (§4.8 step 4).
const (
	FileRoute      = "route"
	FileMiddleware = "middleware"
	FileModel      = "model"
	FileUtility    = "utility"
	FileConfig     = "config"
	FileOther      = "other"
)

// ClassifyPath applies the static per-path rule that decides whether a
// written file is a route, middleware, model, utility, config, or other —
// used both to build the final filesModified report and, by the pipeline,
// to classify a modification's type (§4.11.3).
func ClassifyPath(path string) string {
	return classifyPath(path)
}

func classifyPath(path string) string {
	lower := strings.ToLower(path)
	switch {
	case strings.Contains(lower, "/api/"):
		return FileRoute
	case strings.Contains(lower, "middleware"):
		return FileMiddleware
	case strings.Contains(lower, "model"):
		return FileModel
	case strings.Contains(lower, "utility") || strings.Contains(lower, "utils"):
		return FileUtility
	case strings.Contains(lower, "config"):
		return FileConfig
	default:
		return FileOther
	}
}
