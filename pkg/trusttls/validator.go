// Package trusttls validates peer certificate chains against SPIFFE trust
// domains for a TLS termination path.
//
// A Validator owns one verification store per configured trust domain. Each
// incoming chain is validated against the store selected by the trust domain
// embedded in the leaf's SPIFFE URI SAN, then checked against SAN-matcher
// policy. Trust material comes either from a hot-reloaded JSON bundle-map
// file or from a static trust-domain list, and is replicated to per-worker
// snapshot slots so the handshake path never takes a lock.
//
// Quick start:
//
//	v, err := trusttls.New(trusttls.Config{
//	    TrustBundleMap: "/etc/proxy/trust_bundles.json",
//	}, trusttls.WithWorkers(runtime.GOMAXPROCS(0)))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer v.Close()
//
//	verifier := v.Worker(0)
//	res := verifier.VerifyChain(peerChain, trusttls.VerifyParams{Time: time.Now()})
//	if !res.Successful() {
//	    log.Printf("rejected: %s", res.Detail)
//	}
package trusttls

import (
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sufield/trustbundle/internal/bundlemap"
	"github.com/sufield/trustbundle/internal/snapshot"
	"github.com/sufield/trustbundle/internal/stats"
)

// Validator maintains the trust-domain stores and hands out per-worker chain
// verifiers. Construction loads the initial snapshot and installs it on every
// worker slot before returning, so no verification can observe an empty slot.
type Validator struct {
	distributor *snapshot.Distributor
	watcher     *bundlemap.Watcher

	matchers     []sanMatcher
	allowExpired bool
	stats        *stats.Verify
	logger       *slog.Logger
	caFileName   string
}

type options struct {
	workers    int
	logger     *slog.Logger
	registerer prometheus.Registerer
}

// Option customizes validator construction.
type Option func(*options)

// WithWorkers fixes the number of worker slots. Defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithRegisterer registers the failure counters with reg. Defaults to no
// registration; counters still count.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// New builds a Validator from cfg.
//
// In bundle-map mode the file is loaded immediately (a failure here is fatal)
// and then watched: later reload failures are logged and discarded while the
// previous snapshot keeps serving. In static mode the trust-domain list is
// loaded once and no watch is installed.
func New(cfg Config, opts ...Option) (*Validator, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	o := options{workers: runtime.GOMAXPROCS(0), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	matchers, err := buildSANMatchers(cfg.SANMatchers)
	if err != nil {
		return nil, err
	}

	v := &Validator{
		matchers:     matchers,
		allowExpired: cfg.AllowExpiredCertificate,
		stats:        stats.NewVerify(o.registerer),
		logger:       o.logger,
	}

	if cfg.TrustBundleMap != "" {
		snap, err := bundlemap.Load(cfg.TrustBundleMap, o.logger)
		if err != nil {
			return nil, fmt.Errorf("loading trust bundle map: %w", err)
		}
		v.distributor = snapshot.NewDistributor(o.workers, o.logger)
		v.distributor.InstallSync(snap)

		watcher, err := bundlemap.NewWatcher(cfg.TrustBundleMap, v.distributor.InstallAsync, o.logger)
		if err != nil {
			v.distributor.Close()
			return nil, err
		}
		v.watcher = watcher
		return v, nil
	}

	snap, caFileName, err := loadStaticDomains(cfg.TrustDomains)
	if err != nil {
		return nil, err
	}
	v.caFileName = caFileName
	v.distributor = snapshot.NewDistributor(o.workers, o.logger)
	v.distributor.InstallSync(snap)
	return v, nil
}

// Workers returns the number of worker slots.
func (v *Validator) Workers() int { return v.distributor.Workers() }

// Worker returns the chain verifier bound to worker i's snapshot slot.
// Each verifier is intended for use by exactly one worker goroutine.
func (v *Validator) Worker(i int) *ChainVerifier {
	return &ChainVerifier{validator: v, slot: v.distributor.Slot(i)}
}

// Close stops the file watcher (if any) and the snapshot distributor.
// In-flight verifications keep the snapshot they captured.
func (v *Validator) Close() error {
	var err error
	if v.watcher != nil {
		err = v.watcher.Close()
	}
	v.distributor.Close()
	return err
}

// current returns the control-plane view of the trust material: the snapshot
// most recently installed. Introspection accessors below read it.
func (v *Validator) current() *snapshot.Snapshot {
	return v.distributor.Slot(0).Current()
}

// CAFileName returns the provenance of the first statically loaded CA
// certificate ("<domain>: <file or inline>"), or "" in bundle-map mode.
func (v *Validator) CAFileName() string { return v.caFileName }

// CACertInfo returns details of the first CA certificate in the active
// snapshot. Only one representative certificate is reported even when
// multiple trust domains are configured.
func (v *Validator) CACertInfo() (snapshot.CAInfo, bool) {
	return v.current().FirstCAInfo()
}

// DaysUntilFirstCertExpires returns the smallest number of whole days until
// any CA certificate in the active snapshot expires; snapshot.InfiniteDays
// with no CAs, ok == false when any expiration cannot be determined.
func (v *Validator) DaysUntilFirstCertExpires(now time.Time) (uint32, bool) {
	return v.current().DaysUntilFirstExpiry(now)
}

// UpdateSessionDigest feeds each active CA certificate's SHA-256 fingerprint
// into w, binding TLS session resumption to the active trust material.
func (v *Validator) UpdateSessionDigest(w io.Writer) error {
	return v.current().UpdateSessionDigest(w)
}

// ClientCASubjects returns the distinct subject names (DER-encoded) of all
// CA certificates in the active snapshot, suitable for advertising acceptable
// client CAs during the handshake.
func (v *Validator) ClientCASubjects() [][]byte {
	seen := make(map[string]struct{})
	var subjects [][]byte
	for _, ca := range v.current().CACertificates() {
		key := string(ca.RawSubject)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		subjects = append(subjects, ca.RawSubject)
	}
	return subjects
}
