// Package snapshot models trust material as immutable point-in-time
// snapshots and replicates them to worker-local slots.
//
// A Snapshot is built once, by a Builder, and never mutated afterwards.
// Reloads produce a wholly new Snapshot that the Distributor swaps into each
// worker's slot with a single atomic pointer store, so a verification in
// flight keeps the snapshot it captured while the next one on that worker
// observes the replacement.
package snapshot

import (
	"crypto/sha256"
	"crypto/x509"
	"fmt"
	"io"
	"math"
	"sort"
	"time"

	"github.com/spiffe/go-spiffe/v2/bundle/x509bundle"
	"github.com/spiffe/go-spiffe/v2/spiffeid"
)

// InfiniteDays is the sentinel returned by DaysUntilFirstExpiry when the
// snapshot holds no CA certificates.
const InfiniteDays = math.MaxUint32

// Snapshot is an immutable aggregate of all configured trust bundles:
// one DomainStore per trust domain, plus the flattened CA list used by the
// digest and expiration aggregates (in load order, never for lookup).
//
// The refresh hint and sequence number are populated from the bundle file
// but consumed by nothing; they are carried for introspection only.
type Snapshot struct {
	stores  map[string]*DomainStore
	caCerts []*x509.Certificate

	refreshHint time.Duration
	sequence    uint64
}

// StoreFor returns the verification store for a trust domain. Lookup is an
// exact, case-sensitive string match.
func (s *Snapshot) StoreFor(trustDomain string) (*DomainStore, bool) {
	store, ok := s.stores[trustDomain]
	return store, ok
}

// Domains returns the configured trust domain names, sorted.
func (s *Snapshot) Domains() []string {
	names := make([]string, 0, len(s.stores))
	for name := range s.stores {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CACertificates returns the flattened CA list across all domains, in load
// order.
func (s *Snapshot) CACertificates() []*x509.Certificate { return s.caCerts }

// RefreshHint returns the refresh hint carried by the bundle file, or zero.
func (s *Snapshot) RefreshHint() time.Duration { return s.refreshHint }

// Sequence returns the sequence number carried by the bundle file, or zero.
func (s *Snapshot) Sequence() uint64 { return s.sequence }

// UpdateSessionDigest writes the SHA-256 fingerprint of every CA certificate,
// in CA-list order, into w. Binding the digest into the TLS session-ID
// context ties session resumption to the active trust material, so a bundle
// change invalidates stale session caches.
func (s *Snapshot) UpdateSessionDigest(w io.Writer) error {
	for _, ca := range s.caCerts {
		sum := sha256.Sum256(ca.Raw)
		if _, err := w.Write(sum[:]); err != nil {
			return fmt.Errorf("updating session digest: %w", err)
		}
	}
	return nil
}

// DaysUntilFirstExpiry returns the smallest number of whole days until any
// CA certificate in the snapshot expires. With no CA certificates it returns
// InfiniteDays. If any certificate's expiration cannot be determined the
// aggregate is unknown and ok is false.
func (s *Snapshot) DaysUntilFirstExpiry(now time.Time) (days uint32, ok bool) {
	min := uint32(InfiniteDays)
	for _, ca := range s.caCerts {
		if ca.NotAfter.IsZero() {
			return 0, false
		}
		remaining := ca.NotAfter.Sub(now)
		var d uint32
		if remaining > 0 {
			d = uint32(remaining.Hours() / 24)
		}
		if d < min {
			min = d
		}
	}
	return min, true
}

// CAInfo describes a single CA certificate for introspection.
type CAInfo struct {
	Subject      string
	Issuer       string
	SerialNumber string
	NotBefore    time.Time
	NotAfter     time.Time
	URIs         []string
}

// FirstCAInfo returns details of the first CA certificate recorded in the
// snapshot. Only one representative certificate is reported even when
// multiple trust domains are configured; callers depend on the single-record
// shape of this answer.
func (s *Snapshot) FirstCAInfo() (CAInfo, bool) {
	if len(s.caCerts) == 0 {
		return CAInfo{}, false
	}
	ca := s.caCerts[0]
	info := CAInfo{
		Subject:      ca.Subject.String(),
		Issuer:       ca.Issuer.String(),
		SerialNumber: ca.SerialNumber.Text(16),
		NotBefore:    ca.NotBefore,
		NotAfter:     ca.NotAfter,
	}
	for _, uri := range ca.URIs {
		info.URIs = append(info.URIs, uri.String())
	}
	return info, true
}

// X509BundleSet exports the snapshot as a go-spiffe bundle set, one
// x509bundle per trust domain. Domains whose names do not form a valid
// SPIFFE trust domain cannot be represented and make the export fail.
func (s *Snapshot) X509BundleSet() (*x509bundle.Set, error) {
	set := x509bundle.NewSet()
	for name, store := range s.stores {
		td, err := spiffeid.TrustDomainFromString(name)
		if err != nil {
			return nil, fmt.Errorf("exporting trust domain %q: %w", name, err)
		}
		set.Add(x509bundle.FromX509Authorities(td, store.Certificates()))
	}
	return set, nil
}

// Builder accumulates trust material and produces an immutable Snapshot.
// It is not safe for concurrent use; loading happens on the control
// goroutine only.
type Builder struct {
	snap Snapshot
}

// NewBuilder returns an empty Builder.
func NewBuilder() *Builder {
	return &Builder{snap: Snapshot{stores: make(map[string]*DomainStore)}}
}

// HasDomain reports whether a store already exists for the domain.
func (b *Builder) HasDomain(name string) bool {
	_, ok := b.snap.stores[name]
	return ok
}

// Store returns the domain's store, creating an empty one on first use.
// Repeated calls for the same domain return the same store, so certificates
// from repeated bundle entries accumulate.
func (b *Builder) Store(name string) *DomainStore {
	store, ok := b.snap.stores[name]
	if !ok {
		store = newDomainStore()
		b.snap.stores[name] = store
	}
	return store
}

// AddCA adds a CA certificate to the domain's store and to the flattened
// CA list.
func (b *Builder) AddCA(name string, cert *x509.Certificate) {
	b.Store(name).addCert(cert)
	b.snap.caCerts = append(b.snap.caCerts, cert)
}

// AddCRL adds a revocation list to the domain's store and marks the store
// as CRL-enforcing.
func (b *Builder) AddCRL(name string, crl *x509.RevocationList) {
	b.Store(name).addCRL(crl)
}

// ObserveRefreshHint records the largest refresh hint seen across domains.
func (b *Builder) ObserveRefreshHint(hint time.Duration) {
	if hint > b.snap.refreshHint {
		b.snap.refreshHint = hint
	}
}

// ObserveSequence records the largest sequence number seen across domains.
func (b *Builder) ObserveSequence(seq uint64) {
	if seq > b.snap.sequence {
		b.snap.sequence = seq
	}
}

// Domains returns the number of domains registered so far.
func (b *Builder) Domains() int { return len(b.snap.stores) }

// Snapshot finalizes the builder. The builder must not be used afterwards.
func (b *Builder) Snapshot() *Snapshot {
	snap := b.snap
	b.snap = Snapshot{}
	return &snap
}
