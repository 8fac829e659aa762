package dispatch

import "github.com/yolocage/gatekeeper/internal/secrets"

// TokenBox holds the injected access token in envelope-encrypted form,
// decrypting it only for the instant it must be written into the askpass
// helper script (see askpass.go). A nil *TokenBox means no token is
// configured; remote operations then fall back to ambient credentials.
type TokenBox struct {
	mgr    *secrets.Manager
	sealed string
}

// NewTokenBox seals token under mgr. Returns (nil, nil) when token is
// empty, so callers can treat "no token configured" and "sealing failed"
// distinctly.
func NewTokenBox(mgr *secrets.Manager, token string) (*TokenBox, error) {
	if token == "" {
		return nil, nil
	}
	sealed, err := mgr.Encrypt(token)
	if err != nil {
		return nil, err
	}
	return &TokenBox{mgr: mgr, sealed: sealed}, nil
}

// Reveal decrypts and returns the plaintext token. Safe to call on a nil
// receiver, returning ("", nil).
func (b *TokenBox) Reveal() (string, error) {
	if b == nil {
		return "", nil
	}
	return b.mgr.Decrypt(b.sealed)
}
