package dispatch

import (
	"fmt"
	"os"
	"strings"
)

// InstallAskpass writes a scoped GIT_ASKPASS helper that echoes token to
// standard output and nothing else. The file is created with owner-only
// read/write/execute permission and lives under dir (falling back to the
// process temp directory). The returned cleanup func must be called on
// every exit path (success, timeout, or error) so the helper never
// outlives the single invocation it was created for.
func InstallAskpass(dir, token string) (string, func(), error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", func() {}, err
	}
	f, err := os.CreateTemp(dir, "git-askpass-*.sh")
	if err != nil {
		return "", func() {}, err
	}
	path := f.Name()
	script := fmt.Sprintf("#!/bin/sh\necho %s\n", shellQuote(token))
	if _, err := f.WriteString(script); err != nil {
		f.Close()
		os.Remove(path)
		return "", func() {}, err
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", func() {}, err
	}
	if err := os.Chmod(path, 0o700); err != nil {
		os.Remove(path)
		return "", func() {}, err
	}
	cleanup := func() { _ = os.Remove(path) }
	return path, cleanup, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
