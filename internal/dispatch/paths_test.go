package dispatch

import "testing"

func TestTranslateCwdRoot(t *testing.T) {
	got, err := TranslateCwd(AgentWorkspace, "feature-x", "/workspaces")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/workspaces/feature-x"
	if got != want {
		t.Errorf("TranslateCwd(root) = %q, want %q", got, want)
	}
}

func TestTranslateCwdSubdirectory(t *testing.T) {
	got, err := TranslateCwd(AgentWorkspace+"/src/pkg", "feature-x", "/workspaces")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "/workspaces/feature-x/src/pkg"
	if got != want {
		t.Errorf("TranslateCwd(subdir) = %q, want %q", got, want)
	}
}

func TestTranslateCwdDefaultWorkspaceRoot(t *testing.T) {
	got, err := TranslateCwd(AgentWorkspace, "feature-x", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "/workspaces/feature-x" {
		t.Errorf("TranslateCwd with empty workspaceRoot = %q, want default /workspaces prefix", got)
	}
}

func TestTranslateCwdRejectsOutsideWorkspace(t *testing.T) {
	_, err := TranslateCwd("/etc/passwd", "feature-x", "/workspaces")
	if err == nil {
		t.Fatalf("expected error for a cwd outside AgentWorkspace")
	}
	if _, ok := err.(*InvalidPathError); !ok {
		t.Errorf("expected *InvalidPathError, got %T", err)
	}
}

func TestTranslateCwdRejectsTraversal(t *testing.T) {
	_, err := TranslateCwd(AgentWorkspace+"/../../etc", "feature-x", "/workspaces")
	if err == nil {
		t.Fatalf("expected error for a traversal attempt")
	}
}

func TestTranslateCwdRejectsEncodedTraversal(t *testing.T) {
	// filepath.Clean collapses "a/../../b" segments, but TranslateCwd also
	// rejects any residual ".." substring left in the relative remainder
	// after cleaning, even one that isn't a real ".." path segment, like a
	// directory literally named "foo..bar".
	_, err := TranslateCwd(AgentWorkspace+"/foo..bar", "feature-x", "/workspaces")
	if err == nil {
		t.Fatalf("expected error for a relative path containing a \"..\" substring")
	}
}
