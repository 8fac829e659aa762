package egress

import (
	"fmt"
	"os"
	"strings"
)

// Config is the egress proxy's immutable, environment-derived
// configuration, read once at startup and validated before Listen.
type Config struct {
	ListenAddr    string
	DiagAddr      string
	DetectorURL   string
	DetectorToken string
	AuditLogPath  string
	StateDir      string
	CAName        string
	TSLoginServer string
	TSAuthKey     string
	TSHostname    string
}

// LoadConfig reads the egress proxy's configuration from the environment.
func LoadConfig() (*Config, error) {
	c := &Config{
		ListenAddr:    getenv("PROXY_LISTEN_ADDR", ":8443"),
		DiagAddr:      getenv("PROXY_DIAG_ADDR", ":8444"),
		DetectorURL:   os.Getenv("DETECTOR_URL"),
		DetectorToken: os.Getenv("DETECTOR_TOKEN"),
		StateDir:      getenv("STATE_DIR", "."),
		CAName:        getenv("PROXY_CA_NAME", "yolo-cage egress proxy"),
		TSLoginServer: os.Getenv("TS_LOGIN_SERVER"),
		TSAuthKey:     os.Getenv("TS_AUTH_KEY"),
		TSHostname:    getenv("TS_HOSTNAME", "yolo-cage-egress"),
	}
	c.AuditLogPath = getenv("AUDIT_LOG_PATH", c.StateDir+"/audit.jsonl")

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate fails fast on configuration that would leave the proxy unable
// to serve safely.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.ListenAddr) == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if strings.TrimSpace(c.AuditLogPath) == "" {
		return fmt.Errorf("audit log path must not be empty")
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
