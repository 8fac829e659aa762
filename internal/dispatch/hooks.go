package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"
)

// HookRunner runs a configured list of shell commands in order as pre-push
// hooks (TruffleHog scanning by default), in the working tree of the push
// being guarded. It accumulates captured output across every hook it runs
// and stops at the first failure.
type HookRunner struct {
	Commands []string
	Timeout  time.Duration
}

// NewHookRunner builds a runner with the default 120-second per-hook
// timeout.
func NewHookRunner(commands []string) *HookRunner {
	return &HookRunner{Commands: commands, Timeout: 120 * time.Second}
}

// Run executes every configured hook in cwd with env. Returns (true, output)
// if every hook exits zero, or (false, output) at the first non-zero exit,
// timeout, or launch failure; output always carries whatever was captured
// up to and including the failing hook.
func (h *HookRunner) Run(cwd string, env []string) (bool, string) {
	if len(h.Commands) == 0 {
		return true, ""
	}
	var out bytes.Buffer
	for _, c := range h.Commands {
		ctx, cancel := context.WithTimeout(context.Background(), h.Timeout)
		cmd := exec.CommandContext(ctx, "sh", "-c", c)
		cmd.Dir = cwd
		cmd.Env = env
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		err := cmd.Run()
		timedOut := ctx.Err() == context.DeadlineExceeded
		cancel()

		out.WriteString(stdout.String())
		out.WriteString(stderr.String())

		if timedOut {
			fmt.Fprintf(&out, "Hook timed out: %s\n", c)
			return false, out.String()
		}
		if err != nil {
			if _, isExit := err.(*exec.ExitError); !isExit {
				fmt.Fprintf(&out, "Hook failed: %s: %v\n", c, err)
			}
			return false, out.String()
		}
	}
	return true, out.String()
}
