package dispatch

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/yolocage/gatekeeper/internal/httpx"
	"github.com/yolocage/gatekeeper/internal/localdb"
	"github.com/yolocage/gatekeeper/internal/metrics"
)

// unregisteredMessage is the fixed 403 body for a caller with no assigned
// branch. It is the only denial that does not carry the out-of-band exit
// code header; the shim never got far enough to run git at all.
const unregisteredMessage = "yolo-cage: pod not registered. Contact cluster admin."

// GitRequest is the body of POST /git, mirroring the shim's request shape.
type GitRequest struct {
	Args []string `json:"args"`
	Cwd  string   `json:"cwd"`
}

// Handler implements the dispatcher's full request lifecycle: identify,
// classify, translate, guard, execute, reply.
type Handler struct {
	Config   *Config
	Registry *Registry
	Git      *GitRunner
	Hooks    *HookRunner
	Token    *TokenBox
	History  *localdb.DB
	Logger   *log.Logger
}

// NewHandler wires a Handler from its dependencies.
func NewHandler(cfg *Config, reg *Registry, token *TokenBox, history *localdb.DB) *Handler {
	return &Handler{
		Config:   cfg,
		Registry: reg,
		Git:      NewGitRunner(),
		Hooks:    NewHookRunner(cfg.PrePushHooks),
		Token:    token,
		History:  history,
		Logger:   httpx.Logger(),
	}
}

func callerAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) gitEnv() []string {
	env := append([]string{}, os.Environ()...)
	env = append(env,
		"GIT_AUTHOR_NAME="+h.Config.GitUserName,
		"GIT_AUTHOR_EMAIL="+h.Config.GitUserEmail,
		"GIT_COMMITTER_NAME="+h.Config.GitUserName,
		"GIT_COMMITTER_EMAIL="+h.Config.GitUserEmail,
		"GIT_TERMINAL_PROMPT=0",
	)
	return env
}

func (h *Handler) writePlain(w http.ResponseWriter, r *http.Request, status int, body string, exitCode int, withExitHeader bool) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if rid := httpx.ReqIDFromCtx(r.Context()); rid != "" {
		w.Header().Set("X-Request-Id", rid)
	}
	if withExitHeader {
		w.Header().Set("X-Yolo-Cage-Exit-Code", strconv.Itoa(exitCode))
	}
	w.WriteHeader(status)
	io.WriteString(w, body)
}

// denyWithExit1 is the shape every policy/guard denial shares: HTTP 200,
// the denial text as the body, exit code 1 in the out-of-band header.
func (h *Handler) denyWithExit1(w http.ResponseWriter, r *http.Request, body string) {
	h.writePlain(w, r, http.StatusOK, body, 1, true)
}

// HandleGit implements POST /git end-to-end.
func (h *Handler) HandleGit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpx.JSONError(w, http.StatusMethodNotAllowed, "method not allowed", "method_not_allowed")
		return
	}

	var req GitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.JSONError(w, http.StatusBadRequest, "malformed request body: "+err.Error(), "bad_request")
		return
	}
	if len(req.Args) == 0 {
		httpx.JSONError(w, http.StatusBadRequest, "args must be a non-empty list", "bad_request")
		return
	}
	if strings.TrimSpace(req.Cwd) == "" {
		httpx.JSONError(w, http.StatusBadRequest, "cwd is required", "bad_request")
		return
	}

	// Step 1: identify.
	caller := callerAddress(r)
	assignedBranch, ok := h.Registry.Lookup(caller)
	if !ok {
		h.Logger.Printf("req_id=%s caller=%s event=unregistered args=%v", httpx.ReqIDFromCtx(r.Context()), caller, req.Args)
		h.writePlain(w, r, http.StatusForbidden, unregisteredMessage, 0, false)
		return
	}

	// Step 2: classify.
	category, denyMsg := Classify(req.Args)
	metrics.IncCategory(string(category))
	h.Logger.Printf("req_id=%s caller=%s branch=%s category=%s args=%v", httpx.ReqIDFromCtx(r.Context()), caller, assignedBranch, category, req.Args)

	// Step 3: translate cwd.
	serverCwd, perr := TranslateCwd(req.Cwd, assignedBranch, h.Config.WorkspaceRoot)
	if perr != nil {
		h.denyWithExit1(w, r, perr.Error()+"\n")
		return
	}

	// Step 4: terminal categories.
	switch category {
	case Denied:
		h.denyWithExit1(w, r, denyMsg+"\n")
		return
	case Unknown:
		h.denyWithExit1(w, r, "yolo-cage: unrecognized or disallowed git operation\n")
		return
	}

	var prefix strings.Builder

	// Step 5: branch observation.
	if category == Branch {
		if target, found := branchSwitchTarget(req.Args); found && target != assignedBranch {
			prefix.WriteString(fmt.Sprintf(
				"yolo-cage: you are now viewing branch '%s'.\nYour assigned branch is '%s'.\nCommits and pushes to other branches are not permitted.\n\n",
				target, assignedBranch))
		}
	}

	// Step 6: merge guard.
	if category == Merge {
		current, _ := h.Git.CurrentBranch(serverCwd)
		if current != assignedBranch {
			cmd, _ := firstSubcommand(req.Args)
			h.denyWithExit1(w, r, fmt.Sprintf(
				"yolo-cage: you can only %s while on your assigned branch '%s'.\nRun 'git checkout %s' first.\n",
				cmd, assignedBranch, assignedBranch))
			return
		}
	}

	// Steps 7-8: push guard and pre-push hooks.
	if category == RemoteWrite {
		current, _ := h.Git.CurrentBranch(serverCwd)
		if current != assignedBranch {
			h.denyWithExit1(w, r, fmt.Sprintf(
				"yolo-cage: you can only push from your assigned branch '%s'.\nCurrent branch is '%s'.\n",
				assignedBranch, current))
			return
		}
		if body, blocked := checkRefspecs(req.Args, assignedBranch); blocked {
			h.denyWithExit1(w, r, body)
			return
		}

		ok, hookOutput := h.Hooks.Run(serverCwd, h.gitEnv())
		appendHookRecord(h.History, caller, assignedBranch, h.Config.PrePushHooks, ok, hookOutput)
		if !ok {
			h.denyWithExit1(w, r, fmt.Sprintf("yolo-cage: push rejected by pre-push hooks\n\n%s", hookOutput))
			return
		}
		// Hook output on success is recorded in the history index and the
		// server log, not echoed back to the shim.
		h.Logger.Printf("req_id=%s event=hooks_passed caller=%s branch=%s", httpx.ReqIDFromCtx(r.Context()), caller, assignedBranch)
	}

	// Step 9: execute.
	var exitCode int
	var stdout, stderr string
	if category == RemoteRead || category == RemoteWrite {
		exitCode, stdout, stderr = h.execAuthenticated(req.Args, serverCwd)
	} else {
		exitCode, stdout, stderr = h.Git.Run(req.Args, serverCwd, h.gitEnv())
	}

	// Step 10: reply.
	h.writePlain(w, r, http.StatusOK, prefix.String()+stdout+stderr, exitCode, true)
}

// execAuthenticated runs a remote git operation, installing a scoped
// askpass helper when an access token is configured.
func (h *Handler) execAuthenticated(args []string, cwd string) (int, string, string) {
	env := h.gitEnv()
	if h.Token == nil {
		return h.Git.Run(args, cwd, env)
	}
	token, err := h.Token.Reveal()
	if err != nil || token == "" {
		return h.Git.Run(args, cwd, env)
	}
	askpassPath, cleanup, err := InstallAskpass(h.Config.StateDir, token)
	if err != nil {
		return h.Git.Run(args, cwd, env)
	}
	defer cleanup()
	env = append(env, "GIT_ASKPASS="+askpassPath, "GIT_TERMINAL_PROMPT=0")
	return h.Git.Run(args, cwd, env)
}
