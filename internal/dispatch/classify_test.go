package dispatch

import "testing"

// Classify and its helpers operate on git's argv with the "git" binary
// name itself already stripped off: it's what's left after the shim's
// "git <args...>" invocation, which is what Handler passes through as
// GitRequest.Args.
func TestClassify(t *testing.T) {
	cases := []struct {
		args []string
		want Category
	}{
		{[]string{"status"}, Local},
		{[]string{"diff"}, Local},
		{[]string{"log"}, Local},
		{[]string{"add", "."}, Local},
		{[]string{"-C", "/tmp/repo", "status"}, Local},
		{[]string{"checkout", "feature/x"}, Branch},
		{[]string{"switch", "feature/x"}, Branch},
		{[]string{"merge", "main"}, Merge},
		{[]string{"fetch"}, RemoteRead},
		{[]string{"pull"}, RemoteRead},
		{[]string{"push"}, RemoteWrite},
		{[]string{"clone", "https://example.com/repo.git"}, Denied},
		{[]string{"remote", "add", "origin", "https://example.com/repo.git"}, Denied},
		{[]string{"submodule", "update"}, Denied},
		{[]string{"config", "user.name", "x"}, Denied},
		{[]string{"credential", "fill"}, Denied},
		{[]string{"rebase", "main"}, Merge},
		{[]string{"log", "--oneline"}, Local},
		{[]string{}, Unknown},
	}
	for _, c := range cases {
		got, _ := Classify(c.args)
		if got != c.want {
			t.Errorf("Classify(%v) = %v, want %v", c.args, got, c.want)
		}
	}
}

func TestClassifyDeniedMessages(t *testing.T) {
	_, msg := Classify([]string{"config", "user.name", "x"})
	want := "yolo-cage: direct git configuration is not permitted.\n" +
		"User identity and settings are managed via deployment configuration."
	if msg != want {
		t.Errorf("config denial message = %q, want %q", msg, want)
	}
}

func TestCheckRefspecsDeniesOtherBranch(t *testing.T) {
	body, blocked := checkRefspecs([]string{"push", "origin", "my-branch:other-branch"}, "my-branch")
	if !blocked {
		t.Fatalf("expected refspec denial for mismatched remote ref")
	}
	want := "yolo-cage: you can only push to branch 'my-branch'\n"
	if body != want {
		t.Errorf("refspec denial body = %q, want %q", body, want)
	}
}

func TestCheckRefspecsAllowsAssignedBranch(t *testing.T) {
	_, blocked := checkRefspecs([]string{"push", "origin", "my-branch:my-branch"}, "my-branch")
	if blocked {
		t.Fatalf("expected push refspec targeting the assigned branch to pass")
	}
}

func TestCheckRefspecsAllowsPlainPush(t *testing.T) {
	// "push origin my-branch" has no ":" token, so it carries no explicit
	// refspec; the current-branch guard in Handler.HandleGit covers this
	// case separately, not checkRefspecs.
	_, blocked := checkRefspecs([]string{"push", "origin", "my-branch"}, "my-branch")
	if blocked {
		t.Fatalf("expected bare push with no refspec token to pass the refspec check")
	}
}

func TestBranchSwitchTarget(t *testing.T) {
	target, ok := branchSwitchTarget([]string{"checkout", "feature/x"})
	if !ok || target != "feature/x" {
		t.Errorf("branchSwitchTarget(checkout) = (%q, %v), want (feature/x, true)", target, ok)
	}

	target, ok = branchSwitchTarget([]string{"switch", "feature/y"})
	if !ok || target != "feature/y" {
		t.Errorf("branchSwitchTarget(switch) = (%q, %v), want (feature/y, true)", target, ok)
	}

	if _, ok := branchSwitchTarget([]string{"status"}); ok {
		t.Errorf("branchSwitchTarget(status) should not report a target")
	}

	if _, ok := branchSwitchTarget([]string{"checkout", "-b"}); ok {
		t.Errorf("branchSwitchTarget(checkout -b) should not report a flag as a target")
	}
}

func TestFirstSubcommand(t *testing.T) {
	if got, ok := firstSubcommand([]string{"-C", "/tmp", "status"}); !ok || got != "status" {
		t.Errorf("firstSubcommand with -C flag = (%q, %v), want (status, true)", got, ok)
	}
	if _, ok := firstSubcommand([]string{"-C", "/tmp"}); ok {
		t.Errorf("firstSubcommand with only flags should report no subcommand")
	}
	if _, ok := firstSubcommand(nil); ok {
		t.Errorf("firstSubcommand(nil) should report no subcommand")
	}
}
