package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// GitRunner executes the git binary found on PATH as a subprocess. Timeouts
// are wall-clock and measured against a background context, not the
// inbound HTTP request's context: an agent disconnecting mid-request must
// not abort a running git invocation, it simply discards the eventual
// response.
type GitRunner struct {
	Bin                string
	Timeout            time.Duration
	BranchProbeTimeout time.Duration
}

// NewGitRunner returns a runner with the default timeouts: 300 seconds for
// the tool itself, 10 seconds for the current-branch probe.
func NewGitRunner() *GitRunner {
	return &GitRunner{Bin: "git", Timeout: 300 * time.Second, BranchProbeTimeout: 10 * time.Second}
}

// Run executes args in cwd with env, unauthenticated.
func (g *GitRunner) Run(args []string, cwd string, env []string) (int, string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), g.Timeout)
	defer cancel()
	return g.run(ctx, args, cwd, env)
}

func (g *GitRunner) run(ctx context.Context, args []string, cwd string, env []string) (int, string, string) {
	cmd := exec.CommandContext(ctx, g.Bin, args...)
	cmd.Dir = cwd
	cmd.Env = env
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	if ctx.Err() == context.DeadlineExceeded {
		return 1, "", "yolo-cage: git command timed out after 5 minutes\n"
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), stdout.String(), stderr.String()
		}
		return 1, "", fmt.Sprintf("yolo-cage: failed to execute git: %v\n", err)
	}
	return 0, stdout.String(), stderr.String()
}

// CurrentBranch runs "git rev-parse --abbrev-ref HEAD" in cwd with a short,
// fixed timeout. Any failure (missing repo, timeout, non-zero exit) yields
// ("", false); callers treat that as "does not match the assigned branch".
func (g *GitRunner) CurrentBranch(cwd string) (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), g.BranchProbeTimeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, g.Bin, "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = cwd
	out, err := cmd.Output()
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(out)), true
}
