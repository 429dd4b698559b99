package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

const gitOpTimeout = 5 * time.Minute

// SourceConnector checks repositories out into the build workspace.
type SourceConnector struct {
	// WorkDir is the root directory repository checkouts live under.
	WorkDir string
	logger  *slog.Logger
	client  *http.Client
}

// NewSourceConnector creates a SourceConnector rooted at workDir.
func NewSourceConnector(workDir string, logger *slog.Logger) *SourceConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &SourceConnector{
		WorkDir: workDir,
		logger:  logger.With("component", "source"),
		client:  &http.Client{Timeout: 2 * time.Minute},
	}
}

// RepoDir returns the checkout directory for a repository.
func (s *SourceConnector) RepoDir(repoName string) string {
	return filepath.Join(s.WorkDir, repoName)
}

// Checkout ensures a fresh checkout of the branch: clone when the repository
// is not present, otherwise fetch and hard-reset to the remote branch head.
func (s *SourceConnector) Checkout(ctx context.Context, repoOwner, repoName, branch string) (string, error) {
	dir := s.RepoDir(repoName)
	if _, statErr := os.Stat(filepath.Join(dir, ".git")); statErr == nil {
		if err := s.update(ctx, dir, branch); err != nil {
			return "", err
		}
		return dir, nil
	}

	if err := os.MkdirAll(s.WorkDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}
	url := fmt.Sprintf("https://github.com/%s/%s.git", repoOwner, repoName)
	s.logger.InfoContext(ctx, "cloning repository", "repo", repoOwner+"/"+repoName, "branch", branch)
	if _, err := s.git(ctx, s.WorkDir, "clone", "--branch", branch, url, repoName); err != nil {
		return "", fmt.Errorf("clone %s/%s: %w", repoOwner, repoName, err)
	}
	return dir, nil
}

func (s *SourceConnector) update(ctx context.Context, dir, branch string) error {
	if _, err := s.git(ctx, dir, "fetch", "origin", branch); err != nil {
		return fmt.Errorf("fetch %s: %w", branch, err)
	}
	if _, err := s.git(ctx, dir, "checkout", branch); err != nil {
		return fmt.Errorf("checkout %s: %w", branch, err)
	}
	if _, err := s.git(ctx, dir, "reset", "--hard", "origin/"+branch); err != nil {
		return fmt.Errorf("reset to origin/%s: %w", branch, err)
	}
	return nil
}

// VerifyCommit checks that the pushed head commit is reachable from the branch.
// A push that was force-removed or rewritten fails here instead of building
// stale content.
func (s *SourceConnector) VerifyCommit(ctx context.Context, dir, branch, head string) error {
	if head == "" {
		return nil
	}
	out, err := s.git(ctx, dir, "branch", "--contains", head, "--format", "%(refname:short)")
	if err != nil {
		return fmt.Errorf("commit %s does not exist on %s branch", head, branch)
	}
	for _, name := range strings.Split(out, "\n") {
		if strings.TrimSpace(name) == branch {
			return nil
		}
	}
	return fmt.Errorf("commit %s does not exist on %s branch", head, branch)
}

// ApplyPatch applies an inline patch to the checkout. Used for preview builds
// of uncommitted changes.
func (s *SourceConnector) ApplyPatch(ctx context.Context, dir, patch string) error {
	patchFile := filepath.Join(dir, "docworker.patch")
	if err := os.WriteFile(patchFile, []byte(patch), 0o644); err != nil {
		return fmt.Errorf("write patch file: %w", err)
	}
	defer func() {
		_ = os.Remove(patchFile)
	}()
	if _, err := s.git(ctx, dir, "apply", patchFile); err != nil {
		return fmt.Errorf("apply patch: %w", err)
	}
	return nil
}

// FetchSupportFile downloads an auxiliary build file into the checkout.
func (s *SourceConnector) FetchSupportFile(ctx context.Context, dir, url, name string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build support file request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch support file: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch support file: unexpected status %d", resp.StatusCode)
	}

	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return fmt.Errorf("create support file: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := io.Copy(f, resp.Body); err != nil {
		return fmt.Errorf("write support file: %w", err)
	}
	return nil
}

// Cleanup removes a repository checkout. Missing directories are not an error.
func (s *SourceConnector) Cleanup(repoName string) error {
	dir := s.RepoDir(repoName)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove checkout %s: %w", dir, err)
	}
	return nil
}

// git runs one git subcommand directly, no shell, so ref names and format
// strings never need quoting.
func (s *SourceConnector) git(ctx context.Context, dir string, args ...string) (string, error) {
	gitCtx, cancel := context.WithTimeout(ctx, gitOpTimeout)
	defer cancel()

	cmd := exec.CommandContext(gitCtx, "git", args...)
	cmd.Dir = dir
	out := &limitedBuffer{cap: defaultMaxOutputBytes}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return out.String(), fmt.Errorf("git %s: exit code %d: %s", args[0], exitErr.ExitCode(), firstLine(out.String()))
		}
		return out.String(), fmt.Errorf("git %s: %w", args[0], err)
	}
	return out.String(), nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
