// Package lastcontact implements the last-contact matrix (spec.md §4.E):
// each node's view of when every peer was last heard from, directly or via
// a third party's gossip, plus the reachability and routing decisions
// built on top of it. Grounded on the peer reachability bookkeeping in
// client/doublezerod/internal/liveness/session.go.
package lastcontact

import (
	"time"

	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/oxenmesh/oxen/pkg/table"
)

// Matrix tracks, for every (observer, subject) pair, the last time subject
// was seen reachable from observer's perspective. Row me is this node's own
// observations and must never be overwritten by gossip from a peer.
type Matrix struct {
	me  sid.Sid
	tbl *table.Table[sid.Sid, time.Time]
}

// New creates an empty Matrix for the local node me.
func New(me sid.Sid) *Matrix {
	return &Matrix{me: me, tbl: table.New[sid.Sid, time.Time]()}
}

// Touch records a direct, first-hand contact with peer at t. Only the
// local node may call this; it writes into the me row.
func (m *Matrix) Touch(peer sid.Sid, t time.Time) {
	m.tbl.Put(m.me, peer, t)
}

// Seen returns the last time observer believed subject was reachable, and
// whether there is any record at all.
func (m *Matrix) Seen(observer, subject sid.Sid) (time.Time, bool) {
	return m.tbl.Get(observer, subject)
}

// direct reports whether the local node has itself seen peer within
// threshold of now, with no relay involved.
func (m *Matrix) direct(peer sid.Sid, now time.Time, threshold time.Duration) bool {
	t, ok := m.tbl.Get(m.me, peer)
	if !ok {
		return false
	}
	return now.Sub(t) <= threshold
}

// twoHopWitness searches for the freshest q such that the local node
// directly reaches q and q's own last contact with peer is within
// threshold, the witness spec.md §4.E's two-hop reachability clause
// relies on. Ties between equally fresh witnesses are broken by Sid
// order, so every node agrees on the same hop given identical matrices.
func (m *Matrix) twoHopWitness(peer sid.Sid, now time.Time, threshold time.Duration) (hop sid.Sid, at time.Time, found bool) {
	for _, q := range m.tbl.Keys() {
		if q == m.me || q == peer {
			continue
		}
		if !m.direct(q, now, threshold) {
			continue
		}
		t, ok := m.tbl.Get(q, peer)
		if !ok || now.Sub(t) > threshold {
			continue
		}
		switch {
		case !found:
			hop, at, found = q, t, true
		case t.After(at):
			hop, at = q, t
		case t.Equal(at) && q.Less(hop):
			hop = q
		}
	}
	return hop, at, found
}

// Reachable reports whether peer is reachable from the local node: either
// directly, or via some two-hop witness q with fresh contact to both the
// local node and peer. This is spec.md §4.E's simplified, sufficient
// reachability definition, shared with Route so that routing and status
// transitions never disagree.
func (m *Matrix) Reachable(peer sid.Sid, now time.Time, threshold time.Duration) bool {
	if m.direct(peer, now, threshold) {
		return true
	}
	_, _, found := m.twoHopWitness(peer, now, threshold)
	return found
}

// Route decides how to reach peer: directly if the local node has seen it
// within threshold, otherwise via the best two-hop witness (see
// twoHopWitness). It returns the next hop and whether any route exists at
// all.
func (m *Matrix) Route(peer sid.Sid, now time.Time, threshold time.Duration) (sid.Sid, bool) {
	if m.direct(peer, now, threshold) {
		return peer, true
	}
	hop, _, found := m.twoHopWitness(peer, now, threshold)
	return hop, found
}

// MergeGossip folds a peer's gossiped view of the matrix (rows keyed by
// the peers it names, each a per-column slice of timestamps aligned with
// cols) into this matrix. The local node's own row is never touched by
// gossip, per spec.md §4.E.
func (m *Matrix) MergeGossip(from sid.Sid, rows map[sid.Sid][]time.Time, cols []sid.Sid) {
	if from == m.me {
		return
	}
	for subject, values := range rows {
		if subject == m.me {
			continue
		}
		for i, t := range values {
			if i >= len(cols) {
				break
			}
			m.tbl.Put(subject, cols[i], t)
		}
	}
}

// Snapshot returns the local node's own row (subject -> last contact time)
// suitable for embedding in an outgoing LcGossip parcel, along with the
// column order it was built in.
func (m *Matrix) Snapshot() (row map[sid.Sid]time.Time, cols []sid.Sid) {
	row = m.tbl.Row(m.me)
	cols = make([]sid.Sid, 0, len(row))
	for peer := range row {
		cols = append(cols, peer)
	}
	return row, cols
}
