package prompt

import (
	"fmt"
	"strings"
)

// Endpoint is one discovered existing route, as derived by the project
// context loader (§4.12).
type Endpoint struct {
	Method string
	Path   string
	File   string
}

// ExistingEndpoints returns the existing-endpoints section (§4.8 step 5),
// used for modification-intent jobs.
func ExistingEndpoints(endpoints []Endpoint) Section {
	var b strings.Builder
	b.WriteString("This project already has the following routes. Preserve their existing\n")
	b.WriteString("behavior unless the user explicitly asked you to change it:\n\n")
	for _, e := range endpoints {
		fmt.Fprintf(&b, "- %s %s (%s)\n", e.Method, e.Path, e.File)
	}
	return Section{Title: "Existing endpoints", Body: b.String()}
}
