// Package board is the client-side counterpart of the relay: a WebSocket
// client for joining a workspace room plus the reconciliation logic that
// keeps a received snapshot from being mistaken for a local edit and
// broadcast straight back.
package board

import "sync"

// Marker identifies the origin of a canvas mutation. MarkerLocal tags
// edits the user made; every remote apply is stamped with its own
// non-zero marker issued by a Reconciler.
type Marker uint64

const MarkerLocal Marker = 0

// Reconciler decides whether a canvas change event should be broadcast.
// Each incoming remote snapshot gets a fresh marker before it is applied,
// and the change event the apply produces carries that marker. The
// broadcast decision compares the event's own marker instead of reading a
// shared "is remote update" flag, so two remote updates applied in quick
// succession cannot reset each other's suppression.
type Reconciler struct {
	mu  sync.Mutex
	seq uint64
}

func NewReconciler() *Reconciler {
	return &Reconciler{}
}

// NextRemoteMarker issues the marker for one incoming remote snapshot.
func (r *Reconciler) NextRemoteMarker() Marker {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	return Marker(r.seq)
}

// ShouldBroadcast reports whether a change event was a genuine local edit.
// Events carrying a marker this reconciler issued are remote echoes and
// are suppressed, no matter how many applies happened in between. A
// marker that was never issued here is treated as local.
func (r *Reconciler) ShouldBroadcast(m Marker) bool {
	if m == MarkerLocal {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint64(m) > r.seq
}
