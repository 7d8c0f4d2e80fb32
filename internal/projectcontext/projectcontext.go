// Package projectcontext implements the Project Context Loader that
// supports the modification pipeline (§4.12): it reconstructs enough of an
// existing project's shape — its database connection info and its route
// list — for the agentic loop to extend it safely. Grounded on the
// teacher's read-before-you-touch idiom in pkg/runbook/context.go, which
// assembles a similar "what already exists" snapshot before an automated
// remediation step runs.
package projectcontext

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/turbobackend/worker/internal/agentloop/prompt"
	"github.com/turbobackend/worker/internal/dbprovision"
	"github.com/turbobackend/worker/internal/sandbox"
	"github.com/turbobackend/worker/internal/store"
)

// Context is everything the modification pipeline needs to know about a
// project before it starts a new agentic loop against it.
type Context struct {
	DatabaseInfo   *dbprovision.DatabaseInfo
	DatabaseSchema *dbprovision.Schema // always nil (§4.12: "databaseSchema: nil")
	Files          []string
	Endpoints      []prompt.Endpoint
}

// Loader reads a project's current state out of the control database and
// the project's own sandbox working tree.
type Loader struct {
	cluster store.ClusterConfig
}

func NewLoader(cluster store.ClusterConfig) *Loader {
	return &Loader{cluster: cluster}
}

// Load assembles the context for projectID using sb's already-checked-out
// working tree.
func (l *Loader) Load(ctx context.Context, queries *store.Queries, sb *sandbox.Sandbox, projectID string) (*Context, error) {
	var dbInfo *dbprovision.DatabaseInfo
	dbRow, err := queries.GetActiveProjectDatabase(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("load active project database: %w", err)
	}
	if dbRow != nil {
		dbInfo = &dbprovision.DatabaseInfo{
			Host:     l.cluster.Host,
			Port:     l.cluster.Port,
			User:     l.cluster.User,
			Password: l.cluster.Password,
			DBName:   dbRow.DBName,
		}
	}

	files, err := l.discoverRouteFiles(ctx, sb)
	if err != nil {
		return nil, fmt.Errorf("discover route files: %w", err)
	}

	endpoints := make([]prompt.Endpoint, 0, len(files))
	for _, f := range files {
		if ep, ok := deriveEndpoint(f); ok {
			endpoints = append(endpoints, ep)
		}
	}

	return &Context{
		DatabaseInfo: dbInfo,
		Files:        files,
		Endpoints:    endpoints,
	}, nil
}

// discoverRouteFiles finds every *.js/*.ts file under server/api (§4.12:
// "two patterns: *.js, *.ts").
func (l *Loader) discoverRouteFiles(ctx context.Context, sb *sandbox.Sandbox) ([]string, error) {
	resp, err := sb.Exec(ctx, `find server/api -type f \( -name '*.js' -o -name '*.ts' \) 2>/dev/null`)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, line := range strings.Split(resp.Stdout, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// deriveEndpoint derives {method, path} from a route file's name, following
// the scaffold's filename-suffix convention (e.g. server/api/users/[id].get.js
// -> GET /api/users/:id). Files with no recognized HTTP-method suffix are
// skipped rather than guessed at.
func deriveEndpoint(file string) (prompt.Endpoint, bool) {
	base := path.Base(file)
	base = strings.TrimSuffix(strings.TrimSuffix(base, ".js"), ".ts")

	idx := strings.LastIndex(base, ".")
	if idx < 0 {
		return prompt.Endpoint{}, false
	}
	name, suffix := base[:idx], strings.ToUpper(base[idx+1:])

	switch suffix {
	case "GET", "POST", "PUT", "PATCH", "DELETE":
	default:
		return prompt.Endpoint{}, false
	}

	dir := strings.TrimPrefix(path.Dir(file), "server/api")
	dir = strings.TrimPrefix(dir, "/")

	segments := []string{"api"}
	if dir != "" && dir != "." {
		segments = append(segments, strings.Split(dir, "/")...)
	}
	if name != "index" {
		segments = append(segments, name)
	}

	urlPath := "/" + strings.Join(segments, "/")
	urlPath = strings.ReplaceAll(urlPath, "[", ":")
	urlPath = strings.ReplaceAll(urlPath, "]", "")

	return prompt.Endpoint{Method: suffix, Path: urlPath, File: file}, true
}
