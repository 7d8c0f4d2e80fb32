package sourcehost

import (
	"context"
	"fmt"
	"time"

	"github.com/turbobackend/worker/internal/sandbox"
)

// BeginModification obtains the active repo and prepares the sandbox for a
// modification job: init + authenticated remote + fetch + checkout — not
// a plain clone, because the sandbox's working directory may be
// non-empty if it was reused from a prior attempt (§4.9 "Branching for
// modification" step 2, Open Question #4 — this tolerant path is kept
// intentionally).
func (in *Integration) BeginModification(ctx context.Context, sb *sandbox.Sandbox, projectID string) (string, error) {
	repo, err := in.queries.GetActiveSourceRepository(ctx, projectID)
	if err != nil {
		return "", fmt.Errorf("load active repository: %w", err)
	}
	if repo == nil {
		return "", ErrNoActiveRepo
	}

	remote := in.github.AuthenticatedRemote(repo.RepoName)
	commands := []string{
		"git init",
		`git config user.email "worker@turbobackend.dev"`,
		`git config user.name "turbobackend-worker"`,
		fmt.Sprintf("git remote add origin %s", remote),
		fmt.Sprintf("git fetch origin %s", repo.Branch),
		fmt.Sprintf("git checkout %s", repo.Branch),
	}
	for _, cmd := range commands {
		if _, err := sb.Exec(ctx, cmd); err != nil {
			return "", fmt.Errorf("prepare modification checkout: %w", err)
		}
	}

	return repo.Branch, nil
}

// CreateFeatureBranch creates feature/modification-<epoch-ms> (§M4).
func CreateFeatureBranch(ctx context.Context, sb *sandbox.Sandbox) (string, error) {
	branch := fmt.Sprintf("feature/modification-%d", time.Now().UnixMilli())
	if _, err := sb.Exec(ctx, fmt.Sprintf("git checkout -b %s", branch)); err != nil {
		return "", fmt.Errorf("create feature branch: %w", err)
	}
	return branch, nil
}

// FinishModification commits with the original modification message,
// pushes the feature branch, checks out main, merges, and pushes main
// (§4.9 step 4, §M8).
func (in *Integration) FinishModification(ctx context.Context, sb *sandbox.Sandbox, featureBranch, mainBranch, commitMessage string) error {
	commands := []string{
		"git add -A",
		fmt.Sprintf(`git commit -m %q --allow-empty`, commitMessage),
		fmt.Sprintf("git push origin %s", featureBranch),
		fmt.Sprintf("git checkout %s", mainBranch),
		fmt.Sprintf("git merge --no-ff %s -m %q", featureBranch, "Merge "+featureBranch),
		fmt.Sprintf("git push origin %s", mainBranch),
	}
	for _, cmd := range commands {
		if _, err := sb.Exec(ctx, cmd); err != nil {
			return fmt.Errorf("finish modification: %w", err)
		}
	}
	return nil
}
