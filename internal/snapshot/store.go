package snapshot

import (
	"crypto/x509"
	"errors"
	"fmt"
	"time"
)

// DomainStore is the verification store for a single trust domain: the CA
// certificates trusted to sign identities in that domain, plus any revocation
// lists that came with them. It is populated during snapshot construction and
// read-only afterwards.
type DomainStore struct {
	roots *x509.CertPool
	certs []*x509.Certificate
	crls  []*x509.RevocationList

	// enforceCRL is set when the domain's bundle contributed at least one
	// CRL. Every certificate in a presented chain must then be covered by a
	// CRL issued by its issuer, and must not be revoked.
	enforceCRL bool
}

func newDomainStore() *DomainStore {
	return &DomainStore{roots: x509.NewCertPool()}
}

func (s *DomainStore) addCert(cert *x509.Certificate) {
	s.roots.AddCert(cert)
	s.certs = append(s.certs, cert)
}

func (s *DomainStore) addCRL(crl *x509.RevocationList) {
	s.crls = append(s.crls, crl)
	s.enforceCRL = true
}

// Certificates returns the CA certificates held by the store, in the order
// they were loaded.
func (s *DomainStore) Certificates() []*x509.Certificate { return s.certs }

// EnforcesCRL reports whether revocation checking is active for this domain.
func (s *DomainStore) EnforcesCRL() bool { return s.enforceCRL }

// VerifyParams carries the caller-supplied policy for one path validation.
type VerifyParams struct {
	// Time is the reference instant for validity-period checks. The zero
	// value means "now" (crypto/x509 semantics).
	Time time.Time

	// KeyUsages restricts the acceptable extended key usages of the chain.
	// Empty means ExtKeyUsageServerAuth (crypto/x509 semantics).
	KeyUsages []x509.ExtKeyUsage

	// AllowExpired tolerates expired certificates: when path validation
	// fails solely because a certificate in the presented chain is outside
	// its validity period, validation is retried pinned to the instant just
	// before the earliest NotAfter in the chain.
	AllowExpired bool
}

// Verify runs generic X.509 path validation of leaf against this store's
// roots, with the remaining presented certificates as intermediates. When the
// store enforces CRLs, every certificate in the validated chain is also
// checked for revocation.
func (s *DomainStore) Verify(leaf *x509.Certificate, intermediates []*x509.Certificate, params VerifyParams) error {
	interPool := x509.NewCertPool()
	for _, cert := range intermediates {
		interPool.AddCert(cert)
	}

	opts := x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: interPool,
		CurrentTime:   params.Time,
		KeyUsages:     params.KeyUsages,
	}

	chains, err := leaf.Verify(opts)
	if err != nil && params.AllowExpired && isExpired(err) {
		opts.CurrentTime = lastValidInstant(leaf, intermediates)
		chains, err = leaf.Verify(opts)
	}
	if err != nil {
		return err
	}

	if s.enforceCRL {
		if err := s.checkRevocation(chains[0], params.Time); err != nil {
			return err
		}
	}
	return nil
}

func isExpired(err error) bool {
	var invalid x509.CertificateInvalidError
	return errors.As(err, &invalid) && invalid.Reason == x509.Expired
}

// lastValidInstant returns the instant one second before the earliest
// NotAfter among the presented certificates, i.e. the latest time at which
// none of them had expired yet.
func lastValidInstant(leaf *x509.Certificate, intermediates []*x509.Certificate) time.Time {
	earliest := leaf.NotAfter
	for _, cert := range intermediates {
		if cert.NotAfter.Before(earliest) {
			earliest = cert.NotAfter
		}
	}
	return earliest.Add(-time.Second)
}

// checkRevocation applies the store's CRLs to every non-root certificate in
// a validated chain. Each certificate must be covered by a CRL signed by its
// issuer; a missing or stale CRL is a verification failure, matching
// full-chain CRL enforcement.
func (s *DomainStore) checkRevocation(chain []*x509.Certificate, now time.Time) error {
	if now.IsZero() {
		now = time.Now()
	}
	for i := 0; i+1 < len(chain); i++ {
		cert, issuer := chain[i], chain[i+1]
		if err := s.checkCertRevocation(cert, issuer, now); err != nil {
			return err
		}
	}
	return nil
}

func (s *DomainStore) checkCertRevocation(cert, issuer *x509.Certificate, now time.Time) error {
	for _, crl := range s.crls {
		if crl.Issuer.String() != issuer.Subject.String() {
			continue
		}
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			continue
		}
		if now.After(crl.NextUpdate) {
			return fmt.Errorf("revocation list for %q is stale", issuer.Subject.String())
		}
		for _, entry := range crl.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return fmt.Errorf("certificate %q is revoked", cert.Subject.String())
			}
		}
		return nil
	}
	return fmt.Errorf("no revocation list available for issuer %q", issuer.Subject.String())
}
