// Package bundlemap loads SPIFFE trust-bundle-map files and keeps them fresh.
//
// A bundle map is a JSON document mapping trust domain names to JWKS-style
// key sets:
//
//	{"trust_domains": {"example.org": {"keys": [{"use": "x509-svid", "x5c": ["<base64 DER>"]}]}}}
//
// Loading is all-or-nothing: any malformed record fails the whole load and
// the caller keeps whatever snapshot was previously active.
package bundlemap

import (
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/sufield/trustbundle/internal/domain"
	"github.com/sufield/trustbundle/internal/snapshot"
)

var (
	// ErrNoTrustDomains indicates a document without a non-empty
	// trust_domains object.
	ErrNoTrustDomains = errors.New("bundle map has no trust domains")

	// ErrNoKeys indicates a trust domain entry with a missing or empty keys
	// array.
	ErrNoKeys = errors.New("trust domain has no keys")

	// ErrDomainMismatch indicates a certificate filed under one trust domain
	// whose embedded SPIFFE URI SAN belongs to another.
	ErrDomainMismatch = errors.New("trust domain in bundle map does not match certificate SAN")
)

// keySetDoc is one trust domain's entry in the bundle map. The refresh hint
// and sequence fields are recorded on the snapshot but drive no behavior.
type keySetDoc struct {
	Keys        []keyDoc `json:"keys"`
	RefreshHint int64    `json:"spiffe_refresh_hint"`
	Sequence    uint64   `json:"spiffe_sequence"`
}

type keyDoc struct {
	Use string   `json:"use"`
	X5C []string `json:"x5c"`
}

// Load reads and parses the bundle map at path into a new snapshot.
func Load(path string, logger *slog.Logger) (*snapshot.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening bundle map: %w", err)
	}
	defer f.Close()

	snap, err := Parse(f, logger)
	if err != nil {
		return nil, fmt.Errorf("parsing bundle map %q: %w", path, err)
	}
	return snap, nil
}

// Parse decodes a bundle-map document from r.
//
// The document is walked token by token rather than unmarshaled into a map:
// trust domains must be processed in document order, and a repeated domain
// key must be observable so its certificates accumulate into the existing
// store with a warning instead of silently replacing it.
func Parse(r io.Reader, logger *slog.Logger) (*snapshot.Snapshot, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dec := json.NewDecoder(r)
	if err := expectDelim(dec, '{'); err != nil {
		return nil, err
	}

	builder := snapshot.NewBuilder()
	sawTrustDomains := false

	for dec.More() {
		key, err := stringToken(dec)
		if err != nil {
			return nil, err
		}
		if key != "trust_domains" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return nil, fmt.Errorf("decoding %q: %w", key, err)
			}
			continue
		}

		sawTrustDomains = true
		if err := expectDelim(dec, '{'); err != nil {
			return nil, err
		}
		for dec.More() {
			name, err := stringToken(dec)
			if err != nil {
				return nil, err
			}
			var doc keySetDoc
			if err := dec.Decode(&doc); err != nil {
				return nil, fmt.Errorf("decoding trust domain %q: %w", name, err)
			}
			if err := loadDomain(builder, name, doc, logger); err != nil {
				return nil, err
			}
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
	}

	if !sawTrustDomains || builder.Domains() == 0 {
		return nil, ErrNoTrustDomains
	}
	return builder.Snapshot(), nil
}

func loadDomain(builder *snapshot.Builder, name string, doc keySetDoc, logger *slog.Logger) error {
	if builder.HasDomain(name) {
		logger.Warn("duplicate trust domain in bundle map", "trust_domain", name)
	}
	builder.Store(name)

	if len(doc.Keys) == 0 {
		return fmt.Errorf("trust domain %q: %w", name, ErrNoKeys)
	}

	for _, key := range doc.Keys {
		if key.Use != "x509-svid" {
			continue
		}
		for _, encoded := range key.X5C {
			der, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return fmt.Errorf("trust domain %q: decoding x5c certificate: %w", name, err)
			}
			if len(der) == 0 {
				return fmt.Errorf("trust domain %q: x5c entry decoded to empty certificate", name)
			}
			cert, err := x509.ParseCertificate(der)
			if err != nil {
				return fmt.Errorf("trust domain %q: parsing x5c certificate: %w", name, err)
			}

			san, ok := domain.SpiffeURISAN(cert)
			if !ok {
				// Not a SPIFFE CA certificate; belongs to no store.
				continue
			}
			if embedded := domain.ExtractTrustDomain(san); embedded != name {
				return fmt.Errorf("bundle map declares %q but certificate SAN %q is in %q: %w",
					name, san, embedded, ErrDomainMismatch)
			}
			builder.AddCA(name, cert)
		}
	}

	if doc.RefreshHint > 0 {
		builder.ObserveRefreshHint(time.Duration(doc.RefreshHint) * time.Second)
	}
	builder.ObserveSequence(doc.Sequence)

	logger.Info("loaded trust domain from bundle map",
		"trust_domain", name,
		"keys", len(doc.Keys))
	return nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("decoding bundle map: %w", err)
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != want {
		return fmt.Errorf("decoding bundle map: expected %q, got %v", want, tok)
	}
	return nil
}

func stringToken(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("decoding bundle map: %w", err)
	}
	s, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("decoding bundle map: expected object key, got %v", tok)
	}
	return s, nil
}
