package egress

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync/atomic"
	"time"
)

// detectorState models the Detector client's three-state lifecycle:
// unknown until the first probe, then available or unavailable. Once
// unavailable, the next Scan call re-probes before deciding; a successful
// probe flips the state back to available.
type detectorState int32

const (
	stateUnknown detectorState = iota
	stateAvailable
	stateUnavailable
)

// Detector is a client for the remote secret-detection service. It is
// fail-closed: if the service cannot be reached, Scan reports a match
// rather than allowing the request through.
type Detector struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	state      atomic.Int32
}

// NewDetector builds a Detector client for baseURL, authenticating analyze
// calls with a bearer token when one is configured, and probes the health
// endpoint once up front so the first scan starts from a known state.
func NewDetector(baseURL, token string) *Detector {
	d := &Detector{
		BaseURL: baseURL,
		Token:   token,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	if baseURL != "" {
		d.probe()
	}
	return d
}

type analyzeRequest struct {
	Prompt string `json:"prompt"`
}

type analyzeResponse struct {
	IsValid  bool               `json:"is_valid"`
	Scanners map[string]float64 `json:"scanners"`
}

// Scan submits text to the detector and reports whether it contains
// potential secrets, along with the flagged scanner names. When the
// detector is known-unavailable and the re-probe fails, Scan fails closed:
// it returns (true, []string{"scanner_unavailable"}), treating "can't
// tell" as "assume secrets". A transport error on the analyze call itself
// reports no finding but flips the state to unavailable, so every
// subsequent scan takes the fail-closed path until a probe succeeds.
func (d *Detector) Scan(text string) (bool, []string) {
	if d == nil || d.BaseURL == "" {
		return true, []string{"scanner_unavailable"}
	}

	if detectorState(d.state.Load()) == stateUnavailable {
		if !d.probe() {
			return true, []string{"scanner_unavailable"}
		}
	}

	flagged, err := d.analyze(text)
	if err != nil {
		d.state.Store(int32(stateUnavailable))
		return false, nil
	}
	d.state.Store(int32(stateAvailable))
	return len(flagged) > 0, flagged
}

// probe checks the detector's health endpoint and updates state
// accordingly, returning whether the detector is currently reachable.
func (d *Detector) probe() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.BaseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		d.state.Store(int32(stateUnavailable))
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	if ok {
		d.state.Store(int32(stateAvailable))
	} else {
		d.state.Store(int32(stateUnavailable))
	}
	return ok
}

// analyze submits text to the detector's /analyze/prompt endpoint. A
// negative overall verdict (is_valid false) flags every scanner whose
// reported score is strictly below 1.0; a positive verdict flags nothing.
func (d *Detector) analyze(text string) ([]string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	body, err := json.Marshal(analyzeRequest{Prompt: text})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/analyze/prompt", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if d.Token != "" {
		req.Header.Set("Authorization", "Bearer "+d.Token)
	}

	resp, err := d.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errDetectorStatus(resp.StatusCode)
	}

	var parsed analyzeResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, err
	}

	// is_valid true means the detector passed the text overall; individual
	// sub-1.0 scores only count when the verdict itself is negative.
	if parsed.IsValid {
		return nil, nil
	}
	var flagged []string
	for name, score := range parsed.Scanners {
		if score < 1.0 {
			flagged = append(flagged, name)
		}
	}
	sort.Strings(flagged)
	return flagged, nil
}

type errDetectorStatus int

func (e errDetectorStatus) Error() string {
	return "detector returned non-200 status"
}
