package dispatch

import "strings"

// Category is the classifier's verdict for a git invocation.
type Category string

const (
	Local       Category = "local"
	Branch      Category = "branch"
	Merge       Category = "merge"
	RemoteRead  Category = "remote_read"
	RemoteWrite Category = "remote_write"
	Denied      Category = "denied"
	Unknown     Category = "unknown"
)

var allowLocal = map[string]struct{}{
	"add": {}, "rm": {}, "status": {}, "log": {}, "diff": {}, "show": {},
	"stash": {}, "reset": {}, "restore": {}, "rev-parse": {}, "ls-files": {},
	"blame": {}, "shortlog": {}, "describe": {}, "tag": {},
}

var allowBranch = map[string]struct{}{
	"branch": {}, "checkout": {}, "switch": {},
}

var allowMerge = map[string]struct{}{
	"merge": {}, "rebase": {}, "cherry-pick": {},
}

var allowRemoteRead = map[string]struct{}{
	"fetch": {}, "pull": {},
}

var allowRemoteWrite = map[string]struct{}{
	"push": {},
}

var denyWithMessage = map[string]string{
	"remote":     "yolo-cage: remote management is not permitted",
	"clone":      "yolo-cage: clone is not permitted; use the provided workspace",
	"submodule":  "yolo-cage: submodules are not supported",
	"credential": "yolo-cage: credential management is not permitted",
	"config": "yolo-cage: direct git configuration is not permitted.\n" +
		"User identity and settings are managed via deployment configuration.",
}

// firstSubcommand returns the first argv token that does not begin with
// "-", which git treats as its subcommand regardless of where flags to the
// top-level git binary appear before it.
func firstSubcommand(args []string) (string, bool) {
	for _, a := range args {
		if !strings.HasPrefix(a, "-") {
			return a, true
		}
	}
	return "", false
}

// Classify is a pure function from argv to (category, optional denial
// message). It performs no I/O and is total: every argv maps to exactly one
// category.
func Classify(args []string) (Category, string) {
	cmd, ok := firstSubcommand(args)
	if !ok {
		return Unknown, ""
	}
	if msg, ok := denyWithMessage[cmd]; ok {
		return Denied, msg
	}
	if _, ok := allowLocal[cmd]; ok {
		return Local, ""
	}
	if _, ok := allowBranch[cmd]; ok {
		return Branch, ""
	}
	if _, ok := allowMerge[cmd]; ok {
		return Merge, ""
	}
	if _, ok := allowRemoteRead[cmd]; ok {
		return RemoteRead, ""
	}
	if _, ok := allowRemoteWrite[cmd]; ok {
		return RemoteWrite, ""
	}
	return Unknown, ""
}

// branchSwitchTarget scans args for the first "checkout" or "switch" token
// and returns the following positional argument, if any and if it doesn't
// look like a flag. A flag-shaped next token does not break the scan, it
// simply yields no target from that occurrence.
func branchSwitchTarget(args []string) (string, bool) {
	for i, a := range args {
		if a == "checkout" || a == "switch" {
			if i+1 < len(args) {
				next := args[i+1]
				if !strings.HasPrefix(next, "-") {
					return next, true
				}
			}
		}
	}
	return "", false
}

// checkRefspecs applies the push guard's refspec heuristic: any argv token
// containing ":" and not starting with "-" is treated as local:remote; if
// the remote half is non-empty and differs from the assigned branch, the
// push is denied.
func checkRefspecs(args []string, assignedBranch string) (string, bool) {
	for _, a := range args {
		if strings.HasPrefix(a, "-") {
			continue
		}
		if !strings.Contains(a, ":") {
			continue
		}
		parts := strings.SplitN(a, ":", 2)
		remote := parts[1]
		if remote != "" && remote != assignedBranch {
			return "yolo-cage: you can only push to branch '" + assignedBranch + "'\n", true
		}
	}
	return "", false
}
