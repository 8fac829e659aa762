package egress

import (
	"crypto/x509"
	"testing"
)

func TestGenerateCertSignedByRoot(t *testing.T) {
	ca, err := NewCA("test-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}

	cert, err := ca.GenerateCert("example.com")
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}

	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse leaf: %v", err)
	}
	if len(leaf.DNSNames) != 1 || leaf.DNSNames[0] != "example.com" {
		t.Errorf("leaf DNSNames = %v, want [example.com]", leaf.DNSNames)
	}

	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(ca.RootPEM()) {
		t.Fatalf("RootPEM did not parse as a certificate")
	}
	if _, err := leaf.Verify(x509.VerifyOptions{Roots: roots, DNSName: "example.com"}); err != nil {
		t.Errorf("leaf does not verify against the root: %v", err)
	}
}

func TestGenerateCertCachesPerHost(t *testing.T) {
	ca, err := NewCA("test-ca")
	if err != nil {
		t.Fatalf("NewCA: %v", err)
	}
	a, err := ca.GenerateCert("example.com")
	if err != nil {
		t.Fatalf("GenerateCert: %v", err)
	}
	b, err := ca.GenerateCert("example.com")
	if err != nil {
		t.Fatalf("GenerateCert (cached): %v", err)
	}
	if a != b {
		t.Errorf("expected the cached certificate for a repeated host")
	}

	other, err := ca.GenerateCert("other.example.com")
	if err != nil {
		t.Fatalf("GenerateCert (other host): %v", err)
	}
	if other == a {
		t.Errorf("distinct hosts must not share a leaf certificate")
	}
}
