package snapshot_test

import (
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/trustbundle/internal/snapshot"
	"github.com/sufield/trustbundle/internal/testpki"
)

func TestDomainStore_Verify(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://example.org"})
	other := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://other.org", CommonName: "Other CA"})

	b := snapshot.NewBuilder()
	b.AddCA("example.org", ca.Cert)
	snap := b.Snapshot()
	store, ok := snap.StoreFor("example.org")
	require.True(t, ok)

	t.Run("chain signed by store root", func(t *testing.T) {
		t.Parallel()
		leaf := ca.IssueLeaf(t, testpki.LeafOpts{URIs: []string{"spiffe://example.org/workload"}})
		err := store.Verify(leaf, nil, snapshot.VerifyParams{Time: time.Now()})
		assert.NoError(t, err)
	})

	t.Run("chain signed by unknown root", func(t *testing.T) {
		t.Parallel()
		leaf := other.IssueLeaf(t, testpki.LeafOpts{URIs: []string{"spiffe://example.org/workload"}})
		err := store.Verify(leaf, nil, snapshot.VerifyParams{Time: time.Now()})
		assert.Error(t, err)
	})

	t.Run("key usage restriction honored", func(t *testing.T) {
		t.Parallel()
		leaf := ca.IssueLeaf(t, testpki.LeafOpts{URIs: []string{"spiffe://example.org/workload"}})
		err := store.Verify(leaf, nil, snapshot.VerifyParams{
			Time:      time.Now(),
			KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth},
		})
		assert.NoError(t, err)
	})
}

func TestDomainStore_Verify_Expired(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://example.org"})
	b := snapshot.NewBuilder()
	b.AddCA("example.org", ca.Cert)
	store, _ := b.Snapshot().StoreFor("example.org")

	expired := ca.IssueLeaf(t, testpki.LeafOpts{
		URIs:      []string{"spiffe://example.org/workload"},
		NotBefore: time.Now().Add(-2 * time.Hour),
		NotAfter:  time.Now().Add(-time.Hour),
	})

	t.Run("rejected by default", func(t *testing.T) {
		t.Parallel()
		err := store.Verify(expired, nil, snapshot.VerifyParams{Time: time.Now()})
		assert.Error(t, err)
	})

	t.Run("accepted with AllowExpired", func(t *testing.T) {
		t.Parallel()
		err := store.Verify(expired, nil, snapshot.VerifyParams{Time: time.Now(), AllowExpired: true})
		assert.NoError(t, err)
	})

	t.Run("AllowExpired does not mask an untrusted chain", func(t *testing.T) {
		t.Parallel()
		other := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://other.org", CommonName: "Other CA"})
		leaf := other.IssueLeaf(t, testpki.LeafOpts{URIs: []string{"spiffe://example.org/workload"}})
		err := store.Verify(leaf, nil, snapshot.VerifyParams{Time: time.Now(), AllowExpired: true})
		assert.Error(t, err)
	})
}

func TestDomainStore_CRLEnforcement(t *testing.T) {
	t.Parallel()

	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://example.org"})

	revokedLeaf := ca.IssueLeaf(t, testpki.LeafOpts{URIs: []string{"spiffe://example.org/revoked"}})
	goodLeaf := ca.IssueLeaf(t, testpki.LeafOpts{URIs: []string{"spiffe://example.org/good"}})
	crl := ca.CRL(t, revokedLeaf.SerialNumber)

	b := snapshot.NewBuilder()
	b.AddCA("example.org", ca.Cert)
	b.AddCRL("example.org", crl)
	store, _ := b.Snapshot().StoreFor("example.org")
	require.True(t, store.EnforcesCRL())

	t.Run("unrevoked leaf accepted", func(t *testing.T) {
		t.Parallel()
		err := store.Verify(goodLeaf, nil, snapshot.VerifyParams{Time: time.Now()})
		assert.NoError(t, err)
	})

	t.Run("revoked leaf rejected", func(t *testing.T) {
		t.Parallel()
		err := store.Verify(revokedLeaf, nil, snapshot.VerifyParams{Time: time.Now()})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "revoked")
	})

	t.Run("store without CRLs does not enforce", func(t *testing.T) {
		t.Parallel()
		b := snapshot.NewBuilder()
		b.AddCA("example.org", ca.Cert)
		plain, _ := b.Snapshot().StoreFor("example.org")
		assert.False(t, plain.EnforcesCRL())
		err := plain.Verify(revokedLeaf, nil, snapshot.VerifyParams{Time: time.Now()})
		assert.NoError(t, err)
	})
}
