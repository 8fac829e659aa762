// Package dispatch implements the yolo-cage Git Dispatcher: an HTTP service
// that executes git on behalf of sandboxed agents, enforcing per-pod branch
// restrictions and running pre-push hooks before any push reaches a remote.
package dispatch

import (
	"path/filepath"
	"strings"
)

// AgentWorkspace is the fixed mount point every sandboxed agent sees its
// working tree under, regardless of which branch it has been assigned.
const AgentWorkspace = "/home/dev/workspace"

// InvalidPathError is returned when an agent-supplied cwd does not resolve
// to a path under AgentWorkspace, including attempted traversal.
type InvalidPathError struct{ reason string }

func (e *InvalidPathError) Error() string { return e.reason }

// TranslateCwd maps an agent-visible working directory to the dispatcher's
// on-disk path for the caller's assigned branch. The agent always sees
// AgentWorkspace; the dispatcher keeps one checkout per branch under
// workspaceRoot/branch. This is the sole trust boundary binding a request
// to the right tree, so it never follows a path that would escape
// workspaceRoot/branch even via an encoded ".." segment.
func TranslateCwd(agentCwd, branch, workspaceRoot string) (string, error) {
	if workspaceRoot == "" {
		workspaceRoot = "/workspaces"
	}
	normalized := filepath.Clean(agentCwd)

	if normalized == AgentWorkspace {
		return workspaceRoot + "/" + branch, nil
	}

	prefix := AgentWorkspace + "/"
	if strings.HasPrefix(normalized, prefix) {
		relative := normalized[len(prefix):]
		if strings.Contains(relative, "..") {
			return "", &InvalidPathError{reason: "yolo-cage: path traversal not allowed: " + agentCwd}
		}
		return workspaceRoot + "/" + branch + "/" + relative, nil
	}

	return "", &InvalidPathError{reason: "yolo-cage: path must be within " + AgentWorkspace + ", got: " + agentCwd}
}
