package trusttls

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"

	"github.com/sufield/trustbundle/internal/snapshot"
)

// loadStaticDomains builds a snapshot from a static trust-domain list. Any
// failure here is fatal to construction: duplicate domain names, unreadable
// sources, and bundles with no parseable PEM entries all abort.
//
// The returned caFileName describes the provenance of the first CA
// certificate only; with the current introspection interface there is no way
// to report every domain's source, so the first one stands in for all.
func loadStaticDomains(domains []TrustDomainConfig) (*snapshot.Snapshot, string, error) {
	builder := snapshot.NewBuilder()
	caFileName := ""

	for _, td := range domains {
		if builder.HasDomain(td.Name) {
			return nil, "", fmt.Errorf("multiple trust bundles are given for one trust domain %q", td.Name)
		}
		builder.Store(td.Name)

		data, err := td.TrustBundle.Read()
		if err != nil {
			return nil, "", fmt.Errorf("trust domain %q: %w", td.Name, err)
		}

		certs, crls, err := parsePEMBundle(data)
		if err != nil {
			return nil, "", fmt.Errorf("failed to load trusted CA certificates for %q: %w", td.Name, err)
		}

		for _, cert := range certs {
			builder.AddCA(td.Name, cert)
			if caFileName == "" {
				caFileName = td.Name + ": " + td.TrustBundle.Describe()
			}
		}
		for _, crl := range crls {
			builder.AddCRL(td.Name, crl)
		}
	}

	return builder.Snapshot(), caFileName, nil
}

// parsePEMBundle splits a PEM bundle into its certificates and CRLs. A
// bundle yielding neither is an error.
func parsePEMBundle(data []byte) ([]*x509.Certificate, []*x509.RevocationList, error) {
	var certs []*x509.Certificate
	var crls []*x509.RevocationList

	rest := data
	for {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		switch block.Type {
		case "CERTIFICATE":
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parsing certificate: %w", err)
			}
			certs = append(certs, cert)
		case "X509 CRL":
			crl, err := x509.ParseRevocationList(block.Bytes)
			if err != nil {
				return nil, nil, fmt.Errorf("parsing CRL: %w", err)
			}
			crls = append(crls, crl)
		}
	}

	if len(certs) == 0 && len(crls) == 0 {
		return nil, nil, fmt.Errorf("no PEM certificates or CRLs found")
	}
	return certs, crls, nil
}
