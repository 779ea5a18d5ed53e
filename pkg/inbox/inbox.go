// Package inbox implements the per-peer, per-class reorder-and-dedup
// buffer described in spec.md §4.F: each source/class pair gets its own
// sequence space, and incoming payloads are held until every earlier
// sequence number has been delivered or given up as a duplicate. Ported
// from the Inbox/Inboxes types in original_source/src/oxen/core.rs, with
// the heap reordering buffer restyled on
// client/doublezerod/internal/liveness/scheduler.go's EventQueue.
package inbox

import (
	"container/heap"
	"log/slog"

	"github.com/oxenmesh/oxen/pkg/seqnum"
	"github.com/oxenmesh/oxen/pkg/sid"
)

// Class distinguishes broadcast streams from one-to-one streams at the
// type level, so an Inbox[Broadcast] and an Inbox[OneToOne] can never be
// mixed up by a caller. Neither variant carries any data; the marker
// method exists purely to close the type set.
type Class interface {
	isClass()
}

// Broadcast marks an Inbox carrying a peer's broadcast stream.
type Broadcast struct{}

func (Broadcast) isClass() {}

// OneToOne marks an Inbox carrying a peer's one-to-one stream addressed
// to the local node.
type OneToOne struct{}

func (OneToOne) isClass() {}

type pendingItem struct {
	seq  seqnum.Num
	data []byte
}

// pendingHeap is a min-heap over pendingItem.seq using wraparound-aware
// ordering, so reordering stays correct across a sequence-number wrap.
type pendingHeap []pendingItem

func (h pendingHeap) Len() int            { return len(h) }
func (h pendingHeap) Less(i, j int) bool  { return seqnum.Less(h[i].seq, h[j].seq) }
func (h pendingHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *pendingHeap) Push(x interface{}) { *h = append(*h, x.(pendingItem)) }
func (h *pendingHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// Inbox reassembles one peer's stream of class C into delivery order,
// dropping duplicates and buffering out-of-order arrivals.
type Inbox[C Class] struct {
	logger       *slog.Logger
	synchronized bool
	synSeq       seqnum.Num
	nextSeq      seqnum.Num
	pending      pendingHeap
}

// New returns an unsynchronized Inbox. logger may be nil, in which case
// slog.Default() is used.
func New[C Class](logger *slog.Logger) *Inbox[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inbox[C]{logger: logger}
}

// Synchronize establishes the sequence number the sender started from.
// The first call wins; a later call with a different seq indicates the
// sender desynchronized without the receiver noticing, which is logged
// but not fatal (spec.md §4.F).
func (ib *Inbox[C]) Synchronize(seq seqnum.Num) {
	if !ib.synchronized {
		ib.synchronized = true
		ib.synSeq = seq
		ib.nextSeq = seqnum.Next(seq)
		return
	}
	if seq != ib.synSeq {
		ib.logger.Error("inbox: received a second, differing synchronize", "prev_syn_seq", ib.synSeq, "new_syn_seq", seq)
	}
}

// Incoming admits one arrival at seq carrying data, invoking deliver for
// it and for any previously-buffered arrivals that are now in order.
// Arrivals at or before the last delivered sequence number are dropped as
// duplicates. Incoming before Synchronize is a caller bug in the
// original; here it does not panic, consistent with spec.md §7's
// never-crash posture. nextSeq is then zero, so an arrival at zero is
// delivered, arrivals after zero are buffered, and arrivals before zero
// in wrapped order are dropped as duplicates. A later Synchronize does
// not drain the buffer; that happens on the next Incoming.
func (ib *Inbox[C]) Incoming(seq seqnum.Num, data []byte, deliver func([]byte)) {
	heap.Push(&ib.pending, pendingItem{seq: seq, data: data})

	for len(ib.pending) > 0 {
		top := ib.pending[0]
		if !seqnum.LessOrEqual(top.seq, ib.nextSeq) {
			return
		}
		item := heap.Pop(&ib.pending).(pendingItem)
		if item.seq == ib.nextSeq {
			deliver(item.data)
			ib.nextSeq = seqnum.Next(ib.nextSeq)
		}
		// item.seq < nextSeq: a duplicate of something already delivered;
		// dropping it silently is correct, so nothing else happens here.
	}
}

// Pending returns the number of arrivals buffered awaiting in-order
// delivery, for diagnostics.
func (ib *Inbox[C]) Pending() int { return len(ib.pending) }

// Synchronized reports whether Synchronize has been called at least once.
func (ib *Inbox[C]) Synchronized() bool { return ib.synchronized }

// NextSeq reports the next sequence number this Inbox expects to deliver.
func (ib *Inbox[C]) NextSeq() seqnum.Num { return ib.nextSeq }

// LogStats emits one diagnostic line for this Inbox, mirroring the
// original implementation's periodic stats dump.
func (ib *Inbox[C]) LogStats(peer sid.Sid) {
	if !ib.synchronized {
		ib.logger.Info("inbox: not synchronized", "peer", peer.String())
		return
	}
	ib.logger.Info("inbox: stats", "peer", peer.String(), "pending", len(ib.pending), "next_seq", ib.nextSeq)
}

// Inboxes maps each known source peer to its own Inbox of class C,
// creating one lazily on first access.
type Inboxes[C Class] struct {
	logger *slog.Logger
	byPeer map[sid.Sid]*Inbox[C]
}

// NewInboxes returns an empty Inboxes. logger may be nil.
func NewInboxes[C Class](logger *slog.Logger) *Inboxes[C] {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inboxes[C]{logger: logger, byPeer: make(map[sid.Sid]*Inbox[C])}
}

// Get returns the Inbox for peer, creating it if this is the first time
// peer has been seen.
func (ibs *Inboxes[C]) Get(peer sid.Sid) *Inbox[C] {
	ib, ok := ibs.byPeer[peer]
	if !ok {
		ib = New[C](ibs.logger)
		ibs.byPeer[peer] = ib
	}
	return ib
}

// LogStats emits one diagnostic line per known peer.
func (ibs *Inboxes[C]) LogStats() {
	for peer, ib := range ibs.byPeer {
		ib.LogStats(peer)
	}
}
