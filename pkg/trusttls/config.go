package trusttls

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/sufield/trustbundle/internal/datasource"
)

// Config selects and shapes the validator's trust material.
//
// Exactly one of TrustBundleMap and TrustDomains must be set. A bundle map is
// re-read on every file modification; a static trust-domain list is loaded
// once at construction and never reloaded.
type Config struct {
	// TrustBundleMap is the path to a JSON bundle-map file:
	//
	//	{"trust_domains": {"example.org": {"keys": [{"use": "x509-svid", "x5c": ["..."]}]}}}
	//
	// The file is watched and hot-reloaded.
	TrustBundleMap string `yaml:"trust_bundle_map,omitempty"`

	// TrustDomains is a static list of trust domains, each backed by a PEM
	// bundle of CA certificates and optional CRLs.
	TrustDomains []TrustDomainConfig `yaml:"trust_domains,omitempty"`

	// AllowExpiredCertificate tolerates expired certificates during path
	// validation.
	AllowExpiredCertificate bool `yaml:"allow_expired_certificate,omitempty"`

	// SANMatchers restricts accepted leaves to those with at least one SAN
	// satisfying at least one matcher. Empty means accept unconditionally.
	// Only URI-type matchers participate; SPIFFE does not constrain values
	// in other SAN types, so matchers on those types are ignored.
	SANMatchers []SANMatcherConfig `yaml:"san_matchers,omitempty"`
}

// TrustDomainConfig names one trust domain and its PEM bundle source.
type TrustDomainConfig struct {
	Name        string            `yaml:"name"`
	TrustBundle datasource.Source `yaml:"trust_bundle"`
}

// LoadConfig reads a YAML validator configuration from path.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("reading validator config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing validator config: %w", err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.TrustBundleMap != "" && len(c.TrustDomains) > 0 {
		return errors.New("cannot configure both trust_domains and trust_bundle_map")
	}
	if c.TrustBundleMap == "" && len(c.TrustDomains) == 0 {
		return errors.New("one of trust_domains or trust_bundle_map must be configured")
	}
	return nil
}
