// Package egress implements the yolo-cage Egress Policy Proxy: an
// in-flight HTTP interception addon that applies a GitHub-API method/path
// policy, a destination-host blocklist, and a remote secret-scan to every
// outbound request from a sandboxed agent, with fail-closed semantics and
// structured audit logging.
package egress

import (
	"regexp"
	"strings"
)

// apiPattern is one entry of the ordered API method/path policy: requests
// whose method matches and whose path matches pattern at its start are
// denied. Compiled once at startup.
type apiPattern struct {
	method  string
	pattern string
	re      *regexp.Regexp
}

// apiHosts is the set of destination hosts the API policy applies to.
var apiHosts = map[string]struct{}{
	"api.github.com": {},
	"github.com":     {},
}

// apiBlockedPatterns is the ordered GitHub API method/path policy
// (destructive or secret-exposing operations). Order matters: the
// first match wins.
var apiBlockedPatterns = compilePatterns([][2]string{
	{"PUT", `^/repos/[^/]+/[^/]+/pulls/\d+/merge`},
	{"DELETE", `^/repos/.*`},
	{"DELETE", `^/orgs/.*`},
	{"DELETE", `^/user/.*`},
	{"GET", `^/repos/[^/]+/[^/]+/actions/secrets.*`},
	{"GET", `^/orgs/[^/]+/actions/secrets.*`},
	{"PATCH", `^/repos/[^/]+/[^/]+$`},
	{"PUT", `^/repos/[^/]+/[^/]+/collaborators.*`},
	{"POST", `^/repos/[^/]+/[^/]+/hooks`},
	{"PATCH", `^/repos/[^/]+/[^/]+/hooks/\d+`},
	{"PUT", `^/repos/[^/]+/[^/]+/branches/[^/]+/protection`},
	{"DELETE", `^/repos/[^/]+/[^/]+/branches/[^/]+/protection`},
})

// blockedDomains is the exact/suffix destination-host blocklist of known
// exfiltration sinks.
var blockedDomains = map[string]struct{}{
	"pastebin.com": {},
	"paste.ee":     {},
	"hastebin.com": {},
	"dpaste.org":   {},
	"file.io":      {},
	"transfer.sh":  {},
	"0x0.st":       {},
	"ix.io":        {},
	"sprunge.us":   {},
	"termbin.com":  {},
}

func compilePatterns(raw [][2]string) []apiPattern {
	out := make([]apiPattern, 0, len(raw))
	for _, p := range raw {
		out = append(out, apiPattern{method: p[0], pattern: p[1], re: regexp.MustCompile(p[1])})
	}
	return out
}

// minScanLen is the minimum body length, in bytes, the body scan considers
// for a scan. Bodies shorter than this never reach the detector.
const minScanLen = 10

// urlScanThreshold is the URL length, in bytes, above which a URL is
// separately submitted to the detector.
const urlScanThreshold = 100

// Decision is the policy engine's verdict for one intercepted request.
type Decision struct {
	Blocked       bool
	StatusBody    string // plain-text body written when Blocked
	Reason        string // structured audit reason, empty when allowed
	DetectedItems []string
}

// RequestInfo is the subset of an intercepted request the policy engine
// needs, independent of whatever HTTP interception mechanism supplies it.
type RequestInfo struct {
	Method string
	URL    string // full URL as the client requested it
	Host   string // canonicalized destination host, no port
	Body   string // decoded request body text; empty if binary or absent
}

// hostBlocked reports whether host matches the blocklist exactly or as a
// subdomain (".example.com" suffix). Comparison is case-sensitive on the
// canonicalized host header.
func hostBlocked(host string) (string, bool) {
	for blocked := range blockedDomains {
		if host == blocked || strings.HasSuffix(host, "."+blocked) {
			return blocked, true
		}
	}
	return "", false
}

// matchAPIPolicy returns the first matching blocked (method, pattern) pair
// for host/method/path, or ok=false if none match. Iteration follows
// apiBlockedPatterns' fixed order so the first match always wins.
func matchAPIPolicy(host, method, path string) (apiPattern, bool) {
	if _, isAPIHost := apiHosts[host]; !isAPIHost {
		return apiPattern{}, false
	}
	for _, p := range apiBlockedPatterns {
		if p.method == method && p.re.MatchString(path) {
			return p, true
		}
	}
	return apiPattern{}, false
}

// Engine evaluates the four-step proxy policy for each intercepted
// request, calling out to a Detector for the secret-scan steps.
type Engine struct {
	Detector *Detector
}

// NewEngine builds a policy engine backed by detector.
func NewEngine(detector *Detector) *Engine {
	return &Engine{Detector: detector}
}

// Decide applies the ordered policy steps to req and returns the
// verdict. No step is skipped on a prior allow; the first blocking step
// short-circuits the rest.
func (e *Engine) Decide(req RequestInfo) Decision {
	path := pathOf(req.URL)
	if p, ok := matchAPIPolicy(req.Host, req.Method, path); ok {
		return Decision{
			Blocked:    true,
			StatusBody: "Blocked: this GitHub API operation is not permitted in yolo-cage",
			Reason:     "github_api_blocked:" + p.method + " " + p.pattern,
		}
	}

	if domain, ok := hostBlocked(req.Host); ok {
		return Decision{
			Blocked:    true,
			StatusBody: "Blocked: destination is on blocklist",
			Reason:     "blocked_domain:" + domain,
		}
	}

	if len(req.Body) >= minScanLen {
		hasSecrets, detected := e.Detector.Scan(req.Body)
		if hasSecrets {
			return Decision{
				Blocked:       true,
				StatusBody:    "Blocked: request body contains potential secrets",
				Reason:        "secrets_detected",
				DetectedItems: detected,
			}
		}
	}

	if len(req.URL) > urlScanThreshold {
		hasSecrets, detected := e.Detector.Scan(req.URL)
		if hasSecrets {
			return Decision{
				Blocked:       true,
				StatusBody:    "Blocked: URL contains potential secrets",
				Reason:        "secrets_in_url",
				DetectedItems: detected,
			}
		}
	}

	return Decision{Blocked: false}
}

// pathOf extracts the path component of a URL string without pulling in a
// full net/url parse on the hot path; it tolerates a bare path as input
// too, which is what the CONNECT-tunnel interceptor passes.
func pathOf(rawURL string) string {
	u := rawURL
	if i := strings.Index(u, "://"); i >= 0 {
		u = u[i+3:]
		if j := strings.IndexByte(u, '/'); j >= 0 {
			u = u[j:]
		} else {
			u = "/"
		}
	}
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	if u == "" {
		u = "/"
	}
	return u
}
