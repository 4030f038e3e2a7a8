// Package domain holds the SPIFFE value logic shared by the bundle loaders
// and the chain verifier: trust-domain extraction from SPIFFE URIs and the
// leaf-side URI SAN scan.
//
// Trust domains here are raw, case-sensitive strings taken verbatim from the
// authority component of a spiffe:// URI. No DNS-label validation or case
// normalization is applied; the bundle file is the source of truth for what
// a domain is called, and store lookup is an exact string match.
package domain

import (
	"crypto/x509"
	"strings"
)

// Prefix is the URI scheme prefix that marks a SPIFFE identity.
const Prefix = "spiffe://"

// ExtractTrustDomain returns the trust domain of a SPIFFE URI: the substring
// between the spiffe:// prefix and the first following '/', or everything
// after the prefix when the URI has no path. A string that does not start
// with the prefix yields "".
//
//	ExtractTrustDomain("spiffe://example.org/svc") == "example.org"
//	ExtractTrustDomain("spiffe://example.org")     == "example.org"
//	ExtractTrustDomain("https://example.org")      == ""
func ExtractTrustDomain(san string) string {
	if !strings.HasPrefix(san, Prefix) {
		return ""
	}
	rest := san[len(Prefix):]
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		return rest[:i]
	}
	return rest
}

// SpiffeURISAN returns the first URI SAN of cert that carries the spiffe://
// prefix. Certificates without such a SAN report ok == false; the bundle
// loader skips them rather than treating them as an error.
func SpiffeURISAN(cert *x509.Certificate) (san string, ok bool) {
	for _, uri := range cert.URIs {
		s := uri.String()
		if strings.HasPrefix(s, Prefix) {
			return s, true
		}
	}
	return "", false
}

// LeafTrustDomain returns the trust domain derived from the first URI SAN of
// a leaf certificate. A valid SVID carries exactly one URI SAN, so only the
// first one is consulted; if it is not a SPIFFE URI, or the leaf has no URI
// SAN at all, the result is "".
func LeafTrustDomain(leaf *x509.Certificate) (san string, trustDomain string) {
	for _, uri := range leaf.URIs {
		s := uri.String()
		return s, ExtractTrustDomain(s)
	}
	return "", ""
}
