package trusttls

import (
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// VerifyPeerCertificate adapts the verifier to the crypto/tls callback of
// the same name. Plug it into a tls.Config together with
// tls.RequireAnyClientCert:
//
//	verifier := v.Worker(0)
//	cfg := &tls.Config{
//	    MinVersion:            tls.VersionTLS13,
//	    ClientAuth:            tls.RequireAnyClientCert,
//	    GetCertificate:        getCert,
//	    VerifyPeerCertificate: verifier.VerifyPeerCertificate,
//	}
//
// RequireAnyClientCert is deliberate: Go's built-in verifier knows nothing
// about SPIFFE trust domains or hot-reloaded bundles, so the full chain
// verification happens here instead.
func (c *ChainVerifier) VerifyPeerCertificate(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	if len(rawCerts) == 0 {
		return errors.New("verify cert failed: empty cert chain")
	}
	chain := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return fmt.Errorf("parsing peer certificate: %w", err)
		}
		chain = append(chain, cert)
	}

	res := c.VerifyChain(chain, VerifyParams{
		Time:      time.Now(),
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
	})
	if !res.Successful() {
		return errors.New(res.Detail)
	}
	return nil
}

// Peer is the authenticated identity extracted from an mTLS connection.
type Peer struct {
	// ID is the peer's SPIFFE ID from its certificate's URI SAN.
	ID spiffeid.ID

	// ExpiresAt is when the peer's certificate expires.
	ExpiresAt time.Time
}

// PeerInfo extracts the authenticated caller's SPIFFE identity from an mTLS
// HTTP request.
//
// The result is only trustworthy when the server's tls.Config verified the
// client with ChainVerifier.VerifyPeerCertificate; on a server without that
// callback the certificate in r.TLS is unverified, attacker-controlled data.
func PeerInfo(r *http.Request) (Peer, bool) {
	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		return Peer{}, false
	}
	leaf := r.TLS.PeerCertificates[0]
	for _, uri := range leaf.URIs {
		if uri.Scheme != "spiffe" {
			continue
		}
		id, err := spiffeid.FromURI(uri)
		if err != nil {
			return Peer{}, false
		}
		return Peer{ID: id, ExpiresAt: leaf.NotAfter}, true
	}
	return Peer{}, false
}
