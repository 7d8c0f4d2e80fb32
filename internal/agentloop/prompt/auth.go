package prompt

import (
	"embed"
	"fmt"
	"strings"
	"sync"
)

//go:embed examples/auth
var authExamplesFS embed.FS

var (
	authSectionOnce sync.Once
	authSectionBody string
)

var authExampleFiles = []string{
	"examples/auth/middleware.js",
	"examples/auth/protected_endpoint.js",
	"examples/auth/current_user.js",
	"examples/auth/signup_webhook.js",
}

// Auth returns the auth section (§4.8 step 3): curated documentation plus
// a fixed set of example files, loaded once and cached for the process
// lifetime since the embedded content never changes at runtime.
func Auth() Section {
	authSectionOnce.Do(func() {
		authSectionBody = buildDocAndExamplesBody(authExamplesFS, "examples/auth/docs.md", authExampleFiles)
	})
	return Section{Title: "Authentication", Body: authSectionBody}
}

func buildDocAndExamplesBody(fs embed.FS, docsPath string, examplePaths []string) string {
	var b strings.Builder

	docs, err := fs.ReadFile(docsPath)
	if err == nil {
		b.Write(docs)
		b.WriteString("\n\n")
	}

	b.WriteString("Reference examples (adapt imports to this project's actual layout; these paths are illustrative only):\n\n")
	for _, path := range examplePaths {
		content, err := fs.ReadFile(path)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "--- %s ---\n%s\n\n", path, string(content))
	}
	return b.String()
}
