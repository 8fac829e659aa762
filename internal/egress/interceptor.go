package egress

import (
	"bufio"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/yolocage/gatekeeper/internal/metrics"
)

// maxCapturedBody bounds how much of a request body the interceptor reads
// into memory for policy evaluation; bodies are small for the traffic this
// proxy polices (API calls, not file uploads).
const maxCapturedBody = 64 * 1024

// Interceptor is the CONNECT-tunnel TLS-intercepting HTTP proxy that
// applies Engine's policy to every request and writes one AuditEntry per
// decision. It is the egress proxy's sole HTTP handler; agents configure
// HTTP_PROXY/HTTPS_PROXY to route outbound traffic through it.
type Interceptor struct {
	CA     *CA
	Engine *Engine
	Audit  *AuditLogger
}

// NewInterceptor builds an Interceptor backed by ca, engine, and audit.
func NewInterceptor(ca *CA, engine *Engine, audit *AuditLogger) *Interceptor {
	return &Interceptor{CA: ca, Engine: engine, Audit: audit}
}

// ServeHTTP dispatches CONNECT requests to the MITM tunnel and all other
// methods to the plain-HTTP forwarding path; egress traffic is HTTPS in
// practice, so the CONNECT path carries the policy-relevant volume.
func (ic *Interceptor) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		ic.handleConnect(w, r)
		return
	}
	ic.handleHTTP(w, r)
}

func (ic *Interceptor) handleHTTP(w http.ResponseWriter, r *http.Request) {
	body, rest := captureBody(r.Body)
	r.Body = rest

	host := r.URL.Hostname()
	info := RequestInfo{
		Method: r.Method,
		URL:    r.URL.String(),
		Host:   host,
		Body:   body,
	}
	decision := ic.Engine.Decide(info)
	ic.audit(callerAddress(r), info, decision)
	if decision.Blocked {
		writeBlocked(w, decision)
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, r.URL.String(), io.NopCloser(stringsReader(body)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	outReq.Header = r.Header.Clone()
	outReq.Header.Del("Proxy-Connection")
	outReq.Header.Del("Proxy-Authorization")

	resp, err := http.DefaultTransport.RoundTrip(outReq)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for key, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(key, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

func (ic *Interceptor) handleConnect(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.Host)
	if err != nil {
		host = r.Host
	}

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	cert, err := ic.CA.GenerateCert(host)
	if err != nil {
		return
	}

	tlsConn := tls.Server(clientConn, &tls.Config{
		Certificates: []tls.Certificate{*cert},
		MinVersion:   tls.VersionTLS12,
	})
	if err := tlsConn.Handshake(); err != nil {
		return
	}
	defer tlsConn.Close()

	// This transport forwards HTTP/1.1 requests read off the intercepted TLS
	// connection; enabling HTTP/2 here causes framing mismatches with the
	// upstream server and hangs the tunnel.
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{MinVersion: tls.VersionTLS12},
		MaxIdleConns:    100,
		IdleConnTimeout: 90 * time.Second,
	}

	reader := bufio.NewReader(tlsConn)
	for {
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}

		body, rest := captureBody(req.Body)
		req.Body = rest
		req.URL.Scheme = "https"
		req.URL.Host = r.Host
		req.RequestURI = ""

		info := RequestInfo{
			Method: req.Method,
			URL:    req.URL.String(),
			Host:   host,
			Body:   body,
		}
		decision := ic.Engine.Decide(info)
		ic.audit(callerAddress(r), info, decision)

		if decision.Blocked {
			resp := blockedResponse(decision)
			_ = resp.Write(tlsConn)
			continue
		}

		resp, err := transport.RoundTrip(req)
		if err != nil {
			errResp := &http.Response{
				StatusCode: http.StatusBadGateway,
				ProtoMajor: 1,
				ProtoMinor: 1,
				Header:     make(http.Header),
				Body:       http.NoBody,
			}
			_ = errResp.Write(tlsConn)
			continue
		}
		_ = resp.Write(tlsConn)
		resp.Body.Close()

		if resp.Close || req.Close {
			return
		}
	}
}

func (ic *Interceptor) audit(caller string, info RequestInfo, decision Decision) {
	if decision.Blocked {
		metrics.IncDecision(decision.Reason)
	} else {
		metrics.IncDecision("allow")
	}
	if ic.Audit == nil {
		return
	}
	var reason *string
	if decision.Reason != "" {
		reason = &decision.Reason
	}
	ic.Audit.Log(AuditEntry{
		CallerAddress:   caller,
		Method:          info.Method,
		URL:             info.URL,
		Host:            info.Host,
		Blocked:         decision.Blocked,
		Reason:          reason,
		DetectedSecrets: decision.DetectedItems,
		RequestSize:     len(info.Body),
	})
}

func callerAddress(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// captureBody reads up to maxCapturedBody bytes of body as text for policy
// evaluation and returns a ReadCloser that forwards the full body
// unmodified: the captured prefix replayed first, then any untouched
// remainder. Bodies this proxy polices (JSON API payloads) are always well
// within the cap; anything beyond it is still forwarded upstream, just not
// available to the secret scan.
func captureBody(body io.ReadCloser) (string, io.ReadCloser) {
	if body == nil {
		return "", nil
	}
	b, err := io.ReadAll(io.LimitReader(body, maxCapturedBody))
	if err != nil {
		body.Close()
		return "", io.NopCloser(stringsReader(""))
	}
	if len(b) < maxCapturedBody {
		body.Close()
		return string(b), io.NopCloser(stringsReader(string(b)))
	}
	rest := struct {
		io.Reader
		io.Closer
	}{io.MultiReader(stringsReader(string(b)), body), body}
	return string(b), rest
}

func stringsReader(s string) io.Reader { return &onceReader{s: s} }

// onceReader is a minimal strings.Reader equivalent kept local so this
// file doesn't need an extra import purely for re-wrapping captured bytes.
type onceReader struct {
	s   string
	pos int
}

func (r *onceReader) Read(p []byte) (int, error) {
	if r.pos >= len(r.s) {
		return 0, io.EOF
	}
	n := copy(p, r.s[r.pos:])
	r.pos += n
	return n, nil
}

func writeBlocked(w http.ResponseWriter, decision Decision) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte(decision.StatusBody))
}

func blockedResponse(decision Decision) *http.Response {
	body := decision.StatusBody
	return &http.Response{
		StatusCode:    http.StatusForbidden,
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Body:          io.NopCloser(stringsReader(body)),
		ContentLength: int64(len(body)),
	}
}
