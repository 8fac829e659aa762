package dispatch

import (
	"os"
	"strings"
	"testing"
)

func TestInstallAskpassWritesExecutableScript(t *testing.T) {
	dir := t.TempDir()
	path, cleanup, err := InstallAskpass(dir, "super-secret-token")
	if err != nil {
		t.Fatalf("InstallAskpass: %v", err)
	}
	defer cleanup()

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat askpass script: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Errorf("askpass script mode = %v, want 0700", info.Mode().Perm())
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read askpass script: %v", err)
	}
	if !strings.Contains(string(contents), "super-secret-token") {
		t.Errorf("askpass script does not echo the token: %q", contents)
	}
	if !strings.HasPrefix(string(contents), "#!/bin/sh\n") {
		t.Errorf("askpass script missing shebang: %q", contents)
	}
}

func TestInstallAskpassCleanupRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path, cleanup, err := InstallAskpass(dir, "t")
	if err != nil {
		t.Fatalf("InstallAskpass: %v", err)
	}
	cleanup()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("expected askpass script to be removed after cleanup, stat err = %v", err)
	}
}

func TestShellQuoteEscapesSingleQuotes(t *testing.T) {
	got := shellQuote("it's a secret")
	want := `'it'\''s a secret'`
	if got != want {
		t.Errorf("shellQuote = %q, want %q", got, want)
	}
}
