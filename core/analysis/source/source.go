// Package source fetches repositories into a workspace with a shallow git clone.
package source

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/cordum/cjcard/core/infra/logging"
)

// ErrEmptyRepository is returned when the clone has no resolvable HEAD.
var ErrEmptyRepository = errors.New("repository has no resolvable HEAD")

var revisionPattern = regexp.MustCompile(`^([0-9a-f]{40}|[0-9a-f]{64})$`)

// CloneOutcome is the checked-out tree and its HEAD revision.
type CloneOutcome struct {
	Path   string
	Commit string
}

// Fetcher runs git as a subprocess.
type Fetcher struct {
	Git     string
	Timeout time.Duration
}

func NewFetcher(git string, timeout time.Duration) *Fetcher {
	if strings.TrimSpace(git) == "" {
		git = "git"
	}
	return &Fetcher{Git: git, Timeout: timeout}
}

// Fetch clones the default branch of repoURL at depth 1 into dir, which must
// exist and be empty, and resolves HEAD. No retries are attempted.
func (f *Fetcher) Fetch(ctx context.Context, repoURL, dir string) (*CloneOutcome, error) {
	repoURL = strings.TrimSpace(repoURL)
	if repoURL == "" {
		return nil, errors.New("repository url required")
	}
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	out, err := f.git(ctx, "", "clone", "--depth", "1", "--quiet", "--", repoURL, dir)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("git clone %s: %w", repoURL, ctxErr)
		}
		return nil, fmt.Errorf("git clone %s: %w: %s", repoURL, err, strings.TrimSpace(out))
	}
	if out = strings.TrimSpace(out); out != "" {
		logging.Info("source", "git clone output", "repo", repoURL, "output", out)
	}

	out, err = f.git(ctx, dir, "rev-parse", "--verify", "--quiet", "HEAD^{commit}")
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("resolve HEAD: %w", ctxErr)
		}
		return nil, fmt.Errorf("%w: %s", ErrEmptyRepository, repoURL)
	}
	commit := strings.TrimSpace(out)
	if !revisionPattern.MatchString(commit) {
		return nil, fmt.Errorf("unexpected revision %q for %s", commit, repoURL)
	}
	return &CloneOutcome{Path: dir, Commit: commit}, nil
}

func (f *Fetcher) git(ctx context.Context, dir string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, f.Git, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	cmd.WaitDelay = 5 * time.Second
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf
	err := cmd.Run()
	return buf.String(), err
}
