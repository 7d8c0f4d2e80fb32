package sourcehost

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/turbobackend/worker/internal/activity"
	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/sandbox"
	"github.com/turbobackend/worker/internal/store"
)

// ErrNoActiveRepo is returned when a modification job expects an active
// Source-Repo row and finds none (§4.9 "Branching for modification" step 1).
var ErrNoActiveRepo = errors.New("sourcehost: project has no active repository")

// Integration ties the GitHub REST client to the per-job sandbox and
// control-database writes.
type Integration struct {
	github  *Client
	queries *store.Queries
	ledger  *activity.Ledger
}

func NewIntegration(github *Client, queries *store.Queries, ledger *activity.Ledger) *Integration {
	return &Integration{github: github, queries: queries, ledger: ledger}
}

// InitialPush creates the repo if needed, stages everything, commits,
// renames the default branch to main, adds the authenticated remote, and
// pushes (§4.9 "Initial push").
func (in *Integration) InitialPush(ctx context.Context, sb *sandbox.Sandbox, projectID, userID string) error {
	repoName := RepoNameFor(projectID)
	repo, err := in.github.CreateRepo(ctx, repoName)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}

	remote := in.github.AuthenticatedRemote(repoName)
	commands := []string{
		"git add -A",
		`git commit -m "Generated backend" --allow-empty`,
		"git branch -M main",
		fmt.Sprintf("git remote add origin %s", remote),
		"git push -u origin main",
	}
	for _, cmd := range commands {
		if _, err := sb.Exec(ctx, cmd); err != nil {
			return fmt.Errorf("initial push: %w", err)
		}
	}

	record := models.SourceRepository{
		RepoID:    uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		RepoURL:   repo.HTMLURL,
		RepoName:  repoName,
		Branch:    "main",
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	if err := in.queries.SetActiveSourceRepository(ctx, record); err != nil {
		return fmt.Errorf("record source repository: %w", err)
	}

	return in.recordPush(ctx, sb, projectID, repo.HTMLURL)
}

// SubsequentPush commits (if there are changes) and pushes, surfacing any
// unpushed local commits even when nothing new was staged (§4.9).
func (in *Integration) SubsequentPush(ctx context.Context, sb *sandbox.Sandbox, projectID string) error {
	repo, err := in.queries.GetActiveSourceRepository(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load active repository: %w", err)
	}
	if repo == nil {
		return ErrNoActiveRepo
	}

	if _, err := sb.Exec(ctx, "git add -A"); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}
	commitMsg := fmt.Sprintf("Update %s", time.Now().UTC().Format(time.RFC3339))
	if _, err := sb.Exec(ctx, fmt.Sprintf(`git commit -m %q --allow-empty`, commitMsg)); err != nil {
		return fmt.Errorf("commit changes: %w", err)
	}
	if _, err := sb.Exec(ctx, "git push origin main"); err != nil {
		return fmt.Errorf("push to main: %w", err)
	}

	return in.recordPush(ctx, sb, projectID, repo.RepoURL)
}

// recordPush reads HEAD's commit SHA, writes a Push-History row with the
// changed file list, and emits a github_push activity row (§4.9).
func (in *Integration) recordPush(ctx context.Context, sb *sandbox.Sandbox, projectID, repoURL string) error {
	shaResp, err := sb.Exec(ctx, "git rev-parse HEAD")
	if err != nil {
		return fmt.Errorf("read HEAD commit sha: %w", err)
	}
	sha := strings.TrimSpace(shaResp.Stdout)

	filesResp, err := sb.Exec(ctx, "git show --stat --format= HEAD")
	if err != nil {
		return fmt.Errorf("read changed files: %w", err)
	}
	files := parseChangedFiles(filesResp.Stdout)

	pushID := uuid.NewString()
	push := models.PushHistory{
		PushID:        pushID,
		ProjectID:     projectID,
		CommitSHA:     sha,
		CommitMessage: "",
		FilesChanged:  files,
		RepoURL:       repoURL,
		PushedAt:      time.Now(),
	}
	if err := in.queries.CreatePushHistory(ctx, push); err != nil {
		return fmt.Errorf("record push history: %w", err)
	}

	in.ledger.Record(ctx, models.ActivityEntry{
		ActionID:   uuid.NewString(),
		ProjectID:  projectID,
		ActionType: models.ActionGithubPush,
		ReferenceIDs: map[string]string{
			"github_push_id": pushID,
			"commit_sha":     sha,
		},
		CreatedAt: time.Now(),
	})
	return nil
}

func parseChangedFiles(statOutput string) []string {
	var files []string
	for _, line := range strings.Split(statOutput, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "changed,") {
			continue
		}
		if idx := strings.Index(line, "|"); idx > 0 {
			files = append(files, strings.TrimSpace(line[:idx]))
		}
	}
	return files
}
