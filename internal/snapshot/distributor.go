package snapshot

import (
	"log/slog"
	"sync/atomic"
)

// Slot is one worker's holder of the current Snapshot. It is written only by
// the Distributor's broadcasts and read only by that worker's verifications,
// so the hot path is a single atomic load with no locks.
type Slot struct {
	current atomic.Pointer[Snapshot]
}

// Current returns the snapshot most recently installed in this slot. The
// returned snapshot is immutable and stays valid for as long as the caller
// holds it, even after a newer one is installed.
func (s *Slot) Current() *Snapshot {
	return s.current.Load()
}

// Distributor replicates snapshots to a fixed set of worker slots. Startup
// installs are synchronous so no worker can ever observe an empty slot;
// reload installs go through a control goroutine and are fire-and-forget.
type Distributor struct {
	slots   []Slot
	updates chan *Snapshot
	done    chan struct{}
	stopped chan struct{}
	logger  *slog.Logger
}

// NewDistributor creates a distributor with one slot per worker and starts
// its control goroutine. workers must be at least 1.
func NewDistributor(workers int, logger *slog.Logger) *Distributor {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Distributor{
		slots:   make([]Slot, workers),
		updates: make(chan *Snapshot, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		logger:  logger,
	}
	go d.run()
	return d
}

// Workers returns the number of worker slots.
func (d *Distributor) Workers() int { return len(d.slots) }

// Slot returns worker i's slot.
func (d *Distributor) Slot(i int) *Slot { return &d.slots[i] }

// InstallSync installs snap into every worker slot before returning. Used
// exactly once, at construction, so the initial snapshot is strictly ordered
// before any verification.
func (d *Distributor) InstallSync(snap *Snapshot) {
	d.broadcast(snap)
}

// InstallAsync hands snap to the control goroutine for broadcast and returns
// immediately. Pending updates are coalesced to the newest snapshot; there is
// no completion signal beyond the broadcast log line.
func (d *Distributor) InstallAsync(snap *Snapshot) {
	for {
		select {
		case d.updates <- snap:
			d.logger.Debug("queued snapshot broadcast", "sequence", snap.Sequence())
			return
		case <-d.done:
			return
		default:
			// Queue holds a stale snapshot; drop it in favor of this one.
			select {
			case <-d.updates:
			default:
			}
		}
	}
}

// Close stops the control goroutine. Slots keep serving their last-installed
// snapshot; Close only prevents further broadcasts.
func (d *Distributor) Close() {
	close(d.done)
	<-d.stopped
}

func (d *Distributor) run() {
	defer close(d.stopped)
	for {
		select {
		case snap := <-d.updates:
			d.broadcast(snap)
			d.logger.Debug("snapshot installed on all workers",
				"workers", len(d.slots),
				"trust_domains", len(snap.stores),
				"sequence", snap.Sequence())
		case <-d.done:
			return
		}
	}
}

func (d *Distributor) broadcast(snap *Snapshot) {
	for i := range d.slots {
		d.slots[i].current.Store(snap)
	}
}
