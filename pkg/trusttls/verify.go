package trusttls

import (
	"crypto/x509"
	"time"

	"github.com/sufield/trustbundle/internal/domain"
	"github.com/sufield/trustbundle/internal/snapshot"
)

// Status is the outcome of one chain verification.
type Status int

const (
	// StatusSuccessful means the chain validated and satisfied SAN policy.
	StatusSuccessful Status = iota
	// StatusFailed means the chain was rejected; Result.Detail says why.
	StatusFailed
)

// Result reports one chain verification.
type Result struct {
	Status Status

	// Detail is the diagnostic string for failed verifications.
	Detail string

	// SPIFFEID is the leaf's SPIFFE URI SAN, set on success.
	SPIFFEID string
}

// Successful reports whether the chain was accepted.
func (r Result) Successful() bool { return r.Status == StatusSuccessful }

// VerifyParams carries the caller-supplied verification policy, passed
// through to path validation unmodified.
type VerifyParams struct {
	// Time is the reference instant for validity checks; zero means now.
	Time time.Time

	// KeyUsages restricts the chain's extended key usages; empty means
	// server auth. TLS termination of client certificates should pass
	// x509.ExtKeyUsageClientAuth.
	KeyUsages []x509.ExtKeyUsage
}

// ChainVerifier validates peer certificate chains using one worker's current
// snapshot. Obtain one per worker via Validator.Worker; it performs no
// cross-worker coordination.
type ChainVerifier struct {
	validator *Validator
	slot      *snapshot.Slot
}

// VerifyChain validates a peer certificate chain. The first certificate must
// be the leaf; the rest are treated as intermediates.
//
// The leaf must be an end-entity certificate (non-CA, no cert- or
// CRL-signing key usage) carrying a SPIFFE URI SAN whose trust domain is
// configured. Path validation runs against that domain's store only, then
// SAN-matcher policy is applied. Each failure category increments its
// counter; SAN-policy failures are counted separately from the rest.
func (c *ChainVerifier) VerifyChain(chain []*x509.Certificate, params VerifyParams) Result {
	if len(chain) == 0 {
		c.validator.stats.FailVerifyError.Inc()
		return failed("verify cert failed: empty cert chain")
	}
	leaf := chain[0]

	if !certificatePrecheck(leaf) {
		c.validator.stats.FailVerifyError.Inc()
		return failed("verify cert failed: cert precheck")
	}

	san, trustDomain := domain.LeafTrustDomain(leaf)
	if trustDomain == "" {
		c.validator.stats.FailVerifyError.Inc()
		return failed("verify cert failed: no trust bundle store")
	}

	snap := c.slot.Current()
	store, ok := snap.StoreFor(trustDomain)
	if !ok {
		c.validator.stats.FailVerifyError.Inc()
		return failed("verify cert failed: no trust bundle store")
	}

	err := store.Verify(leaf, chain[1:], snapshot.VerifyParams{
		Time:         params.Time,
		KeyUsages:    params.KeyUsages,
		AllowExpired: c.validator.allowExpired,
	})
	if err != nil {
		c.validator.stats.FailVerifyError.Inc()
		return failed("verify cert failed: " + err.Error())
	}

	if len(c.validator.matchers) > 0 && !matchSubjectAltName(leaf, c.validator.matchers) {
		c.validator.stats.FailVerifySAN.Inc()
		return failed("verify cert failed: SAN match")
	}

	return Result{Status: StatusSuccessful, SPIFFEID: san}
}

// certificatePrecheck enforces SPIFFE leaf requirements: an SVID must be an
// end-entity certificate, so a CA leaf or one with cert- or CRL-signing key
// usage is rejected before path validation.
// https://github.com/spiffe/spiffe/blob/main/standards/X509-SVID.md#52-leaf-validation
func certificatePrecheck(leaf *x509.Certificate) bool {
	if leaf.IsCA {
		return false
	}
	return leaf.KeyUsage&(x509.KeyUsageCertSign|x509.KeyUsageCRLSign) == 0
}

func failed(detail string) Result {
	return Result{Status: StatusFailed, Detail: detail}
}
