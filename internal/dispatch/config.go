package dispatch

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Config is the dispatcher's immutable, environment-derived configuration:
// built by LoadConfig, checked by Validate, read once at startup.
type Config struct {
	WorkspaceRoot string
	GitUserName   string
	GitUserEmail  string
	AccessToken   string
	Version       string
	PrePushHooks  []string
	CommitFooter  string
	StateDir      string
	ListenAddr    string
	MasterKey     string
	TSLoginServer string
	TSAuthKey     string
	TSHostname    string
}

func defaultHooks() []string {
	return []string{"trufflehog git file://. --since-commit HEAD~10 --fail --no-update"}
}

// LoadConfig reads the dispatcher's configuration from the environment
// and validates it.
func LoadConfig() (*Config, error) {
	c := &Config{
		WorkspaceRoot: getenv("WORKSPACE_ROOT", "/workspaces"),
		GitUserName:   getenv("GIT_USER_NAME", "yolo-cage"),
		GitUserEmail:  getenv("GIT_USER_EMAIL", "yolo-cage@localhost"),
		AccessToken:   os.Getenv("GITHUB_PAT"),
		Version:       getenv("YOLO_CAGE_VERSION", "0.2.0"),
		StateDir:      getenv("STATE_DIR", "."),
		ListenAddr:    getenv("LISTEN_ADDR", ":8080"),
		MasterKey:     os.Getenv("DISPATCH_MASTER_KEY"),
		TSLoginServer: os.Getenv("TS_LOGIN_SERVER"),
		TSAuthKey:     os.Getenv("TS_AUTH_KEY"),
		TSHostname:    getenv("TS_HOSTNAME", "yolo-cage-dispatcher"),
	}
	c.CommitFooter = getenv("COMMIT_FOOTER", fmt.Sprintf("Built autonomously using yolo-cage v%s", c.Version))

	hooksRaw := os.Getenv("PRE_PUSH_HOOKS")
	if strings.TrimSpace(hooksRaw) == "" {
		c.PrePushHooks = defaultHooks()
	} else {
		var hooks []string
		if err := json.Unmarshal([]byte(hooksRaw), &hooks); err != nil {
			return nil, fmt.Errorf("PRE_PUSH_HOOKS must be a JSON array of strings: %w", err)
		}
		c.PrePushHooks = hooks
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate fails fast on configuration that would leave the dispatcher
// unable to serve safely.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WorkspaceRoot) == "" {
		return fmt.Errorf("workspace root must not be empty")
	}
	if strings.TrimSpace(c.GitUserName) == "" || strings.TrimSpace(c.GitUserEmail) == "" {
		return fmt.Errorf("git user name and email must not be empty")
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if c.TSAuthKey != "" && strings.TrimSpace(c.TSHostname) == "" {
		return fmt.Errorf("tailnet hostname must not be empty when an auth key is configured")
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
