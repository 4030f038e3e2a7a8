// Package testpki issues throwaway CAs, leaves, and CRLs for tests.
package testpki

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"net/url"
	"testing"
	"time"
)

// CA is a self-signed test certificate authority.
type CA struct {
	Key  *ecdsa.PrivateKey
	Cert *x509.Certificate

	nextSerial int64
}

// CAOpts shapes a test CA.
type CAOpts struct {
	// URI is an optional SPIFFE URI SAN for the CA certificate, e.g.
	// "spiffe://example.org". Bundle-map entries require it.
	URI string

	// NotAfter overrides the default one-day validity.
	NotAfter time.Time

	CommonName string
}

// NewCA creates a self-signed CA.
func NewCA(t *testing.T, opts CAOpts) *CA {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	cn := opts.CommonName
	if cn == "" {
		cn = "Test CA"
	}
	notAfter := opts.NotAfter
	if notAfter.IsZero() {
		notAfter = time.Now().Add(24 * time.Hour)
	}

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: cn},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:              notAfter,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	if opts.URI != "" {
		u, err := url.Parse(opts.URI)
		if err != nil {
			t.Fatal(err)
		}
		tmpl.URIs = []*url.URL{u}
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return &CA{Key: key, Cert: cert, nextSerial: 2}
}

// LeafOpts shapes an issued leaf certificate.
type LeafOpts struct {
	// URIs are the leaf's URI SANs, e.g. "spiffe://example.org/workload".
	URIs []string

	DNSNames []string

	// IsCA marks the leaf as a CA (used to exercise precheck rejection).
	IsCA bool

	// KeyUsage overrides the default digital-signature usage.
	KeyUsage x509.KeyUsage

	NotBefore time.Time
	NotAfter  time.Time
}

// IssueLeaf signs a leaf certificate with the CA.
func (ca *CA) IssueLeaf(t *testing.T, opts LeafOpts) *x509.Certificate {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}

	notBefore := opts.NotBefore
	if notBefore.IsZero() {
		notBefore = time.Now().Add(-time.Hour)
	}
	notAfter := opts.NotAfter
	if notAfter.IsZero() {
		notAfter = time.Now().Add(time.Hour)
	}
	keyUsage := opts.KeyUsage
	if keyUsage == 0 {
		keyUsage = x509.KeyUsageDigitalSignature
	}

	ca.nextSerial++
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(ca.nextSerial),
		Subject:               pkix.Name{CommonName: "test leaf"},
		NotBefore:             notBefore,
		NotAfter:              notAfter,
		KeyUsage:              keyUsage,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  opts.IsCA,
	}
	for _, raw := range opts.URIs {
		u, err := url.Parse(raw)
		if err != nil {
			t.Fatal(err)
		}
		tmpl.URIs = append(tmpl.URIs, u)
	}
	tmpl.DNSNames = opts.DNSNames

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	return cert
}

// CRL issues a revocation list signed by the CA covering the given serials.
func (ca *CA) CRL(t *testing.T, revoked ...*big.Int) *x509.RevocationList {
	t.Helper()

	tmpl := &x509.RevocationList{
		Number:     big.NewInt(1),
		ThisUpdate: time.Now().Add(-time.Hour),
		NextUpdate: time.Now().Add(24 * time.Hour),
	}
	for _, serial := range revoked {
		tmpl.RevokedCertificateEntries = append(tmpl.RevokedCertificateEntries,
			x509.RevocationListEntry{SerialNumber: serial, RevocationTime: time.Now()})
	}

	der, err := x509.CreateRevocationList(rand.Reader, tmpl, ca.Cert, ca.Key)
	if err != nil {
		t.Fatal(err)
	}
	crl, err := x509.ParseRevocationList(der)
	if err != nil {
		t.Fatal(err)
	}
	return crl
}

// CertPEM encodes a certificate as PEM.
func CertPEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}

// CRLPEM encodes a revocation list as PEM.
func CRLPEM(crl *x509.RevocationList) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "X509 CRL", Bytes: crl.Raw})
}

// X5C encodes a certificate as a base64 DER string for a bundle-map x5c
// array.
func X5C(cert *x509.Certificate) string {
	return base64.StdEncoding.EncodeToString(cert.Raw)
}
