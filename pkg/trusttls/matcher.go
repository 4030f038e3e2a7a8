package trusttls

import (
	"crypto/x509"
	"fmt"
	"regexp"
	"strings"
)

// SANType names an X.509 Subject Alternative Name entry type.
type SANType string

// Supported SAN entry types.
const (
	SANTypeURI   SANType = "uri"
	SANTypeDNS   SANType = "dns"
	SANTypeEmail SANType = "email"
	SANTypeIP    SANType = "ip_address"
)

// SANMatcherConfig configures one SAN matcher: a SAN entry type plus exactly
// one matching strategy.
type SANMatcherConfig struct {
	SANType SANType `yaml:"san_type"`

	Exact    string `yaml:"exact,omitempty"`
	Prefix   string `yaml:"prefix,omitempty"`
	Suffix   string `yaml:"suffix,omitempty"`
	Contains string `yaml:"contains,omitempty"`
	Regex    string `yaml:"regex,omitempty"`
}

// sanMatcher is one configured matcher: it matches a SAN entry when the
// entry's type equals the configured type and the value satisfies the
// configured predicate.
type sanMatcher struct {
	sanType SANType
	match   func(string) bool
}

func newSANMatcher(cfg SANMatcherConfig) (sanMatcher, error) {
	var predicates []func(string) bool
	if cfg.Exact != "" {
		want := cfg.Exact
		predicates = append(predicates, func(s string) bool { return s == want })
	}
	if cfg.Prefix != "" {
		prefix := cfg.Prefix
		predicates = append(predicates, func(s string) bool { return strings.HasPrefix(s, prefix) })
	}
	if cfg.Suffix != "" {
		suffix := cfg.Suffix
		predicates = append(predicates, func(s string) bool { return strings.HasSuffix(s, suffix) })
	}
	if cfg.Contains != "" {
		sub := cfg.Contains
		predicates = append(predicates, func(s string) bool { return strings.Contains(s, sub) })
	}
	if cfg.Regex != "" {
		re, err := regexp.Compile(cfg.Regex)
		if err != nil {
			return sanMatcher{}, fmt.Errorf("compiling SAN matcher regex: %w", err)
		}
		predicates = append(predicates, re.MatchString)
	}
	if len(predicates) != 1 {
		return sanMatcher{}, fmt.Errorf("SAN matcher must set exactly one of exact, prefix, suffix, contains, regex")
	}
	return sanMatcher{sanType: cfg.SANType, match: predicates[0]}, nil
}

// buildSANMatchers constructs the matcher list from configuration, keeping
// only URI-type matchers.
func buildSANMatchers(cfgs []SANMatcherConfig) ([]sanMatcher, error) {
	var matchers []sanMatcher
	for _, cfg := range cfgs {
		if cfg.SANType != SANTypeURI {
			continue
		}
		m, err := newSANMatcher(cfg)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
	}
	return matchers, nil
}

type sanEntry struct {
	sanType SANType
	value   string
}

func leafSANs(leaf *x509.Certificate) []sanEntry {
	var entries []sanEntry
	for _, uri := range leaf.URIs {
		entries = append(entries, sanEntry{SANTypeURI, uri.String()})
	}
	for _, dns := range leaf.DNSNames {
		entries = append(entries, sanEntry{SANTypeDNS, dns})
	}
	for _, email := range leaf.EmailAddresses {
		entries = append(entries, sanEntry{SANTypeEmail, email})
	}
	for _, ip := range leaf.IPAddresses {
		entries = append(entries, sanEntry{SANTypeIP, ip.String()})
	}
	return entries
}

// matchSubjectAltName reports whether any SAN entry of the leaf satisfies any
// configured matcher.
func matchSubjectAltName(leaf *x509.Certificate, matchers []sanMatcher) bool {
	for _, entry := range leafSANs(leaf) {
		for _, m := range matchers {
			if entry.sanType == m.sanType && m.match(entry.value) {
				return true
			}
		}
	}
	return false
}
