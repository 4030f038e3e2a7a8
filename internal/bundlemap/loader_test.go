package bundlemap_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/trustbundle/internal/bundlemap"
	"github.com/sufield/trustbundle/internal/testpki"
)

// bundleMapJSON assembles a bundle-map document from raw domain entries,
// preserving entry order (including repeated keys, which encoding/json maps
// cannot express).
func bundleMapJSON(entries ...string) string {
	return `{"trust_domains": {` + strings.Join(entries, ",") + `}}`
}

func domainEntry(name string, x5c ...string) string {
	quoted := make([]string, len(x5c))
	for i, c := range x5c {
		quoted[i] = fmt.Sprintf("%q", c)
	}
	return fmt.Sprintf(`%q: {"keys": [{"use": "x509-svid", "x5c": [%s]}]}`,
		name, strings.Join(quoted, ","))
}

func TestParse_SingleDomain(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://example.org"})
	doc := bundleMapJSON(domainEntry("example.org", testpki.X5C(ca.Cert)))

	snap, err := bundlemap.Parse(strings.NewReader(doc), nil)
	require.NoError(t, err)

	store, ok := snap.StoreFor("example.org")
	require.True(t, ok)
	assert.Len(t, store.Certificates(), 1)
	assert.Len(t, snap.CACertificates(), 1)

	_, ok = snap.StoreFor("unconfigured.org")
	assert.False(t, ok)
}

func TestParse_MultipleDomains(t *testing.T) {
	t.Parallel()

	caA := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://a.org"})
	caB := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://b.org"})
	doc := bundleMapJSON(
		domainEntry("a.org", testpki.X5C(caA.Cert)),
		domainEntry("b.org", testpki.X5C(caB.Cert)),
	)

	snap, err := bundlemap.Parse(strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.org", "b.org"}, snap.Domains())
	assert.Len(t, snap.CACertificates(), 2)
}

func TestParse_Failures(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://a.org"})

	tests := []struct {
		name    string
		doc     string
		wantErr error
	}{
		{
			name:    "missing trust_domains",
			doc:     `{"other": {}}`,
			wantErr: bundlemap.ErrNoTrustDomains,
		},
		{
			name:    "empty trust_domains",
			doc:     `{"trust_domains": {}}`,
			wantErr: bundlemap.ErrNoTrustDomains,
		},
		{
			name:    "empty keys array",
			doc:     `{"trust_domains": {"a.org": {"keys": []}}}`,
			wantErr: bundlemap.ErrNoKeys,
		},
		{
			name:    "missing keys",
			doc:     `{"trust_domains": {"a.org": {}}}`,
			wantErr: bundlemap.ErrNoKeys,
		},
		{
			name: "domain mismatch between key and SAN",
			doc:  bundleMapJSON(domainEntry("b.org", testpki.X5C(ca.Cert))),
			// CA's SAN is spiffe://a.org but it is filed under b.org.
			wantErr: bundlemap.ErrDomainMismatch,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := bundlemap.Parse(strings.NewReader(tt.doc), nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("undecodable base64", func(t *testing.T) {
		t.Parallel()
		doc := bundleMapJSON(domainEntry("a.org", "!!!not-base64!!!"))
		_, err := bundlemap.Parse(strings.NewReader(doc), nil)
		assert.Error(t, err)
	})

	t.Run("empty certificate bytes", func(t *testing.T) {
		t.Parallel()
		doc := bundleMapJSON(domainEntry("a.org", ""))
		_, err := bundlemap.Parse(strings.NewReader(doc), nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "empty certificate")
	})

	t.Run("unparsable certificate", func(t *testing.T) {
		t.Parallel()
		doc := bundleMapJSON(domainEntry("a.org", "bm90IGEgY2VydA==")) // "not a cert"
		_, err := bundlemap.Parse(strings.NewReader(doc), nil)
		assert.Error(t, err)
	})

	t.Run("malformed JSON", func(t *testing.T) {
		t.Parallel()
		_, err := bundlemap.Parse(strings.NewReader(`{"trust_domains": {`), nil)
		assert.Error(t, err)
	})
}

func TestParse_SkipsAndAccumulates(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://a.org"})
	ca2 := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://a.org", CommonName: "second"})
	noSAN := testpki.NewCA(t, testpki.CAOpts{CommonName: "plain root"})

	t.Run("non x509-svid keys ignored", func(t *testing.T) {
		t.Parallel()
		doc := fmt.Sprintf(`{"trust_domains": {"a.org": {"keys": [
			{"use": "jwt-svid", "x5c": ["garbage that must never be decoded"]},
			{"use": "x509-svid", "x5c": [%q]}
		]}}}`, testpki.X5C(ca.Cert))

		snap, err := bundlemap.Parse(strings.NewReader(doc), nil)
		require.NoError(t, err)
		store, _ := snap.StoreFor("a.org")
		assert.Len(t, store.Certificates(), 1)
	})

	t.Run("certificate without SPIFFE SAN is skipped silently", func(t *testing.T) {
		t.Parallel()
		doc := bundleMapJSON(domainEntry("a.org", testpki.X5C(noSAN.Cert), testpki.X5C(ca.Cert)))

		snap, err := bundlemap.Parse(strings.NewReader(doc), nil)
		require.NoError(t, err)
		store, _ := snap.StoreFor("a.org")
		assert.Len(t, store.Certificates(), 1, "SAN-less certificate belongs to no store")
	})

	t.Run("duplicate domain accumulates into one store", func(t *testing.T) {
		t.Parallel()
		doc := bundleMapJSON(
			domainEntry("a.org", testpki.X5C(ca.Cert)),
			domainEntry("a.org", testpki.X5C(ca2.Cert)),
		)

		snap, err := bundlemap.Parse(strings.NewReader(doc), nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"a.org"}, snap.Domains())
		store, _ := snap.StoreFor("a.org")
		assert.Len(t, store.Certificates(), 2)
	})
}

func TestParse_Metadata(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://a.org"})
	doc := fmt.Sprintf(`{"trust_domains": {"a.org": {
		"spiffe_refresh_hint": 300,
		"spiffe_sequence": 42,
		"keys": [{"use": "x509-svid", "x5c": [%q]}]
	}}}`, testpki.X5C(ca.Cert))

	snap, err := bundlemap.Parse(strings.NewReader(doc), nil)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, snap.RefreshHint())
	assert.Equal(t, uint64(42), snap.Sequence())
}

func TestParse_Idempotent(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://example.org"})
	doc := bundleMapJSON(domainEntry("example.org", testpki.X5C(ca.Cert)))

	first, err := bundlemap.Parse(strings.NewReader(doc), nil)
	require.NoError(t, err)
	second, err := bundlemap.Parse(strings.NewReader(doc), nil)
	require.NoError(t, err)

	assert.Equal(t, first.Domains(), second.Domains())
	firstStore, _ := first.StoreFor("example.org")
	secondStore, _ := second.StoreFor("example.org")
	require.Len(t, secondStore.Certificates(), len(firstStore.Certificates()))
	assert.Equal(t, firstStore.Certificates()[0].Raw, secondStore.Certificates()[0].Raw)
}

func TestLoad(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://example.org"})
	path := filepath.Join(t.TempDir(), "bundles.json")
	doc := bundleMapJSON(domainEntry("example.org", testpki.X5C(ca.Cert)))
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	snap, err := bundlemap.Load(path, nil)
	require.NoError(t, err)
	_, ok := snap.StoreFor("example.org")
	assert.True(t, ok)

	_, err = bundlemap.Load(filepath.Join(t.TempDir(), "absent.json"), nil)
	assert.Error(t, err)
}
