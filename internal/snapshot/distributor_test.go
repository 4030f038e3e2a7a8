package snapshot_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sufield/trustbundle/internal/snapshot"
	"github.com/sufield/trustbundle/internal/testpki"
)

func buildSnapshot(t *testing.T, domain string) *snapshot.Snapshot {
	t.Helper()
	ca := testpki.NewCA(t, testpki.CAOpts{URI: "spiffe://" + domain})
	b := snapshot.NewBuilder()
	b.AddCA(domain, ca.Cert)
	return b.Snapshot()
}

func TestDistributor_InstallSync(t *testing.T) {
	t.Parallel()

	d := snapshot.NewDistributor(4, slog.Default())
	defer d.Close()

	snap := buildSnapshot(t, "example.org")
	d.InstallSync(snap)

	// Every worker slot observes the snapshot immediately after InstallSync
	// returns; no worker can see an uninitialized slot.
	for i := 0; i < d.Workers(); i++ {
		assert.Same(t, snap, d.Slot(i).Current(), "worker %d", i)
	}
}

func TestDistributor_InstallAsync(t *testing.T) {
	t.Parallel()

	d := snapshot.NewDistributor(2, slog.Default())
	defer d.Close()

	first := buildSnapshot(t, "example.org")
	d.InstallSync(first)

	second := buildSnapshot(t, "other.org")
	d.InstallAsync(second)

	require.Eventually(t, func() bool {
		for i := 0; i < d.Workers(); i++ {
			if d.Slot(i).Current() != second {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond, "async install must reach every worker")
}

func TestDistributor_InFlightSnapshotSurvivesReplacement(t *testing.T) {
	t.Parallel()

	d := snapshot.NewDistributor(1, slog.Default())
	defer d.Close()

	first := buildSnapshot(t, "example.org")
	d.InstallSync(first)

	// A verification in flight captures the slot's snapshot once...
	captured := d.Slot(0).Current()

	second := buildSnapshot(t, "other.org")
	d.InstallSync(second)

	// ...and keeps a fully usable view even after replacement.
	_, ok := captured.StoreFor("example.org")
	assert.True(t, ok)
	assert.Same(t, second, d.Slot(0).Current())
}

func TestDistributor_MinimumOneWorker(t *testing.T) {
	t.Parallel()

	d := snapshot.NewDistributor(0, nil)
	defer d.Close()
	assert.Equal(t, 1, d.Workers())
}
