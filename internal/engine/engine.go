package engine

import (
	"log/slog"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/oxenmesh/oxen/pkg/inbox"
	"github.com/oxenmesh/oxen/pkg/lastcontact"
	"github.com/oxenmesh/oxen/pkg/parcel"
	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/oxenmesh/oxen/pkg/xenc"
)

// Event is something the caller of Engine may want to react to. A
// MessageEvent is delivered through the callback passed to Incoming;
// PeerVisibleEvent and PeerVanishedEvent go to Config.OnEvent.
type Event interface{ isEvent() }

// MessageEvent is an application payload that arrived from From.
type MessageEvent struct {
	From sid.Sid
	Data []byte
}

func (MessageEvent) isEvent() {}

// PeerVisibleEvent fires the first time a peer transitions into (or back
// into) Available.
type PeerVisibleEvent struct{ Peer sid.Sid }

func (PeerVisibleEvent) isEvent() {}

// PeerVanishedEvent fires when an Available peer is no longer reachable.
type PeerVanishedEvent struct{ Peer sid.Sid }

func (PeerVanishedEvent) isEvent() {}

// PeerStatus tracks a peer's believed reachability, mirroring the
// Unchecked/Available/Unavailable states in original_source's Oxen core.
type PeerStatus uint8

const (
	StatusUnchecked PeerStatus = iota
	StatusAvailable
	StatusUnavailable
)

func (s PeerStatus) String() string {
	switch s {
	case StatusAvailable:
		return "available"
	case StatusUnavailable:
		return "unavailable"
	default:
		return "unchecked"
	}
}

type kaKey struct {
	peer sid.Sid
	id   parcel.KeepaliveId
}

type msgKey struct {
	peer sid.Sid
	id   parcel.MsgId
}

type pendingMessage struct {
	to       sid.Sid
	id       parcel.MsgId
	timer    Timer
	backoff  *backoff.ExponentialBackOff
	msg      parcel.MsgData
	class    string
}

// Engine is the Oxen core: one instance per local node. It is not safe
// for concurrent use; like the original, all mutation happens through
// Incoming/Timeout/AddPeer/SendBroadcast/SendOne calls from a single
// goroutine (internal/transport supplies that goroutine over UDP).
type Engine struct {
	cfg Config

	me      sid.Sid
	backend Backend
	logger  *slog.Logger
	metrics *Metrics
	rng     *rand.Rand

	peers      map[sid.Sid]struct{}
	matrix     *lastcontact.Matrix
	peerStatus map[sid.Sid]PeerStatus

	pendingKA        map[kaKey]time.Time
	pendingMsgs      map[msgKey]*pendingMessage
	pendingMsgTimers map[Timer]msgKey

	brdSeq uint32
	oneSeq map[sid.Sid]uint32

	brdInbox *inbox.Inboxes[inbox.Broadcast]
	oneInbox *inbox.Inboxes[inbox.OneToOne]

	gossipTimer    Timer
	lcTimer        Timer
	kaCleanupTimer Timer
}

const (
	classBroadcast = "broadcast"
	classOneToOne  = "one_to_one"
)

// New constructs an Engine and starts its three recurring timers
// (last-contact polling, gossip, and keepalive cleanup), matching
// Oxen::new in the original.
func New(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		me:      cfg.Me,
		backend: cfg.Backend,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
		rng:     cfg.Rand,

		peers:      map[sid.Sid]struct{}{cfg.Me: {}},
		matrix:     lastcontact.New(cfg.Me),
		peerStatus: make(map[sid.Sid]PeerStatus),

		pendingKA:        make(map[kaKey]time.Time),
		pendingMsgs:      make(map[msgKey]*pendingMessage),
		pendingMsgTimers: make(map[Timer]msgKey),

		brdSeq: cfg.Rand.Uint32(),
		oneSeq: make(map[sid.Sid]uint32),

		brdInbox: inbox.NewInboxes[inbox.Broadcast](cfg.Logger),
		oneInbox: inbox.NewInboxes[inbox.OneToOne](cfg.Logger),
	}

	e.lastContactGossip()
	e.checkLastContact()
	e.cleanOldKeepalives()

	return e, nil
}

// LogStats emits one diagnostic snapshot, mirroring Oxen::dump_stats.
func (e *Engine) LogStats() {
	e.logger.Info("engine stats",
		"me", e.me.String(),
		"pending_keepalives", len(e.pendingKA),
		"pending_messages", len(e.pendingMsgs),
	)
	now := e.backend.Now()
	for p := range e.peers {
		if p == e.me {
			continue
		}
		t, ok := e.matrix.Seen(e.me, p)
		age := "never"
		if ok {
			age = now.Sub(t).String()
		}
		e.logger.Info("  last contact", "peer", p.String(), "age", age, "status", e.peerStatus[p].String())
	}
	e.brdInbox.LogStats()
	e.oneInbox.LogStats()
}

// AddPeer makes the engine aware of peer, initiating a synchronization
// handshake so its inbox sequence numbers are established.
func (e *Engine) AddPeer(peer sid.Sid) {
	if peer == e.me {
		return
	}
	e.peers[peer] = struct{}{}
	if _, ok := e.peerStatus[peer]; !ok {
		e.peerStatus[peer] = StatusUnchecked
	}

	oneSeq, ok := e.oneSeq[peer]
	if !ok {
		oneSeq = e.rng.Uint32()
		e.oneSeq[peer] = oneSeq
	}

	e.logger.Info("synchronizing with peer", "peer", peer.String())
	e.sendWithRedelivery(peer, classOneToOne, parcel.MsgDataBody{
		Kind: parcel.MsgDataSync,
		Sync: &parcel.MsgSync{Brd: e.brdSeq, One: oneSeq},
	})
}

// SendBroadcast sends data to every known peer.
func (e *Engine) SendBroadcast(data []byte) {
	e.brdSeq++
	brdSeq := e.brdSeq

	for p := range e.peers {
		if p == e.me {
			continue
		}
		cp := make([]byte, len(data))
		copy(cp, data)
		e.sendWithRedelivery(p, classBroadcast, parcel.MsgDataBody{
			Kind: parcel.MsgDataBrd,
			Brd:  &parcel.MsgBrd{Seq: brdSeq, Data: cp},
		})
	}
}

// SendOne sends data to a single peer, which must have already been
// added via AddPeer.
func (e *Engine) SendOne(to sid.Sid, data []byte) {
	if to == e.me {
		e.logger.Error("tried to send a one-to-one message to ourself, dropping")
		return
	}
	seq, ok := e.oneSeq[to]
	if !ok {
		e.logger.Error("tried to send to a non-synced peer, dropping", "peer", to.String())
		return
	}
	seq++
	e.oneSeq[to] = seq

	e.sendWithRedelivery(to, classOneToOne, parcel.MsgDataBody{
		Kind: parcel.MsgDataOne,
		One:  &parcel.MsgOne{Seq: seq, Data: data},
	})
}

// Incoming processes one parcel received from from, invoking cb for any
// resulting application events.
func (e *Engine) Incoming(from sid.Sid, v xenc.Value, cb func(Event)) {
	p, err := parcel.FromValue(v)
	if err != nil {
		e.logger.Error("could not decode parcel", "from", from.String(), "err", err)
		return
	}

	if p.KaRq != nil {
		ka := *p.KaRq
		e.logger.Debug("responding to keepalive", "from", from.String(), "ka", ka)
		e.backend.QueueSend(from, parcel.Parcel{KaOk: &ka}.ToValue())
	}

	if p.KaOk != nil {
		kk := *p.KaOk
		key := kaKey{peer: from, id: kk}
		if at, ok := e.pendingKA[key]; ok {
			delete(e.pendingKA, key)
			e.matrix.Touch(from, at)
		} else {
			e.logger.Warn("stray keepalive", "from", from.String(), "ka", kk)
			e.metrics.StrayKeepalives.Inc()
		}
	}

	switch p.Body.Kind {
	case parcel.BodyMsgData:
		e.handleMsgData(*p.Body.MsgData, cb)
	case parcel.BodyMsgAck:
		e.handleMsgAck(*p.Body.MsgAck)
	case parcel.BodyLcGossip:
		e.handleLcGossip(from, *p.Body.LcGossip)
	}
}

// Timeout is called when a timer obtained from Backend.TimerSet fires.
func (e *Engine) Timeout(t Timer) {
	switch t {
	case e.lcTimer:
		e.checkLastContact()
		return
	case e.gossipTimer:
		e.lastContactGossip()
		return
	case e.kaCleanupTimer:
		e.cleanOldKeepalives()
		return
	}

	key, ok := e.pendingMsgTimers[t]
	if !ok {
		e.logger.Error("unknown timer fired", "timer", t)
		return
	}
	delete(e.pendingMsgTimers, t)
	pending, ok := e.pendingMsgs[key]
	if !ok {
		e.logger.Error("inconsistent pending message tables")
		return
	}
	delete(e.pendingMsgs, key)
	e.redeliver(pending)
}

func (e *Engine) redeliver(pending *pendingMessage) {
	next := pending.backoff.NextBackOff()
	if next == backoff.Stop {
		e.logger.Warn("giving up on redelivery", "peer", pending.to.String(), "id", pending.id)
		e.metrics.RedeliveryGiveups.Inc()
		e.metrics.PendingMessages.Dec()
		return
	}

	e.logger.Debug("redelivering", "peer", pending.to.String(), "id", pending.id)
	e.metrics.RedeliveryAttempts.Inc()

	pending.timer = e.backend.TimerSet(next)
	e.routed(pending.to, parcel.Parcel{
		Body: parcel.ParcelBody{Kind: parcel.BodyMsgData, MsgData: &pending.msg},
	})

	key := msgKey{peer: pending.to, id: pending.id}
	e.pendingMsgTimers[pending.timer] = key
	e.pendingMsgs[key] = pending
}

func (e *Engine) sendWithRedelivery(to sid.Sid, class string, body parcel.MsgDataBody) {
	if to == e.me {
		e.logger.Error("tried to send a message to ourself, dropping")
		return
	}

	id := e.rng.Uint32()
	msg := parcel.MsgData{To: to, From: e.me, ID: &id, Body: body}

	eb := e.cfg.Retry.newBackoff(e.backend)
	timer := e.backend.TimerSet(e.cfg.Retry.InitialInterval)

	pending := &pendingMessage{to: to, id: id, timer: timer, backoff: eb, msg: msg, class: class}

	e.routed(to, parcel.Parcel{Body: parcel.ParcelBody{Kind: parcel.BodyMsgData, MsgData: &msg}})
	e.metrics.MessagesSent.WithLabelValues(class).Inc()
	e.metrics.PendingMessages.Inc()

	key := msgKey{peer: to, id: id}
	e.pendingMsgTimers[timer] = key
	e.pendingMsgs[key] = pending
}

// routed sends data toward to, hopping through an intermediate peer if
// necessary, per the last-contact matrix. It returns false if no route
// currently exists.
func (e *Engine) routed(to sid.Sid, p parcel.Parcel) bool {
	if to == e.me {
		e.logger.Error("tried to route a message to ourself, dropping")
		return false
	}
	hop, ok := e.matrix.Route(to, e.backend.Now(), e.cfg.ReachabilityThreshold)
	if !ok {
		return false
	}
	e.backend.QueueSend(hop, p.ToValue())
	return true
}

func (e *Engine) checkLastContact() {
	e.lcTimer = e.backend.TimerSet(e.cfg.LastContactPollInterval)

	now := e.backend.Now()
	reachableCount := 0

	for p := range e.peers {
		if p == e.me {
			continue
		}

		if e.keepaliveDue(p, now) {
			ka := e.rng.Uint32()
			e.pendingKA[kaKey{peer: p, id: ka}] = now
			e.backend.QueueSend(p, parcel.Parcel{KaRq: &ka}.ToValue())
		}

		reachable := e.matrix.Reachable(p, now, e.cfg.ReachabilityThreshold)
		if reachable {
			reachableCount++
		}

		status := e.peerStatus[p]
		switch status {
		case StatusUnchecked:
			if reachable {
				e.logger.Info("peer promoted out of unchecked", "peer", p.String())
				e.peerStatus[p] = StatusAvailable
				e.cfg.OnEvent(PeerVisibleEvent{Peer: p})
			}
		case StatusAvailable:
			if !reachable {
				e.logger.Info("peer became unavailable", "peer", p.String())
				e.peerStatus[p] = StatusUnavailable
				e.cfg.OnEvent(PeerVanishedEvent{Peer: p})
			}
		case StatusUnavailable:
			if reachable {
				e.logger.Info("peer available again", "peer", p.String())
				e.peerStatus[p] = StatusAvailable
				e.cfg.OnEvent(PeerVisibleEvent{Peer: p})
			}
		}
	}

	e.metrics.PeersReachable.Set(float64(reachableCount))
}

func (e *Engine) cleanOldKeepalives() {
	e.kaCleanupTimer = e.backend.TimerSet(e.cfg.KeepaliveCleanupInterval)

	now := e.backend.Now()
	for k, at := range e.pendingKA {
		if now.Sub(at) > e.cfg.PendingKeepaliveExpiry {
			delete(e.pendingKA, k)
		}
	}
}

func (e *Engine) handleMsgData(data parcel.MsgData, cb func(Event)) {
	if data.To != e.me {
		e.routed(data.To, parcel.Parcel{Body: parcel.ParcelBody{Kind: parcel.BodyMsgData, MsgData: &data}})
		return
	}

	if data.ID != nil {
		e.routed(data.From, parcel.Parcel{
			Body: parcel.ParcelBody{Kind: parcel.BodyMsgAck, MsgAck: &parcel.MsgAck{To: data.From, From: e.me, ID: *data.ID}},
		})
	}

	switch data.Body.Kind {
	case parcel.MsgDataSync:
		e.logger.Info("got synchronization", "from", data.From.String())
		e.brdInbox.Get(data.From).Synchronize(data.Body.Sync.Brd)
		e.oneInbox.Get(data.From).Synchronize(data.Body.Sync.One)

	case parcel.MsgDataBrd:
		from := data.From
		e.brdInbox.Get(from).Incoming(data.Body.Brd.Seq, data.Body.Brd.Data, func(d []byte) {
			e.metrics.MessagesDelivered.WithLabelValues(classBroadcast).Inc()
			cb(MessageEvent{From: from, Data: d})
		})

	case parcel.MsgDataOne:
		from := data.From
		e.oneInbox.Get(from).Incoming(data.Body.One.Seq, data.Body.One.Data, func(d []byte) {
			e.metrics.MessagesDelivered.WithLabelValues(classOneToOne).Inc()
			cb(MessageEvent{From: from, Data: d})
		})
	}
}

func (e *Engine) handleMsgAck(ack parcel.MsgAck) {
	if ack.To != e.me {
		e.routed(ack.To, parcel.Parcel{Body: parcel.ParcelBody{Kind: parcel.BodyMsgAck, MsgAck: &ack}})
		return
	}

	key := msgKey{peer: ack.From, id: ack.ID}
	pending, ok := e.pendingMsgs[key]
	if !ok {
		return
	}
	delete(e.pendingMsgs, key)
	delete(e.pendingMsgTimers, pending.timer)
	e.backend.TimerCancel(pending.timer)
	e.metrics.PendingMessages.Dec()
}

func (e *Engine) lastContactGossip() {
	e.gossipTimer = e.backend.TimerSet(e.cfg.GossipInterval)

	g := e.makeGossip()
	now := e.backend.Now()
	for p := range e.peers {
		if p == e.me {
			continue
		}

		out := parcel.Parcel{Body: parcel.ParcelBody{Kind: parcel.BodyLcGossip, LcGossip: &g}}

		// Piggyback a keepalive request on the gossip parcel rather than
		// sending a second datagram, mirroring the original's habit of
		// folding ka_rq into whatever parcel is already going out.
		if e.keepaliveDue(p, now) {
			ka := e.rng.Uint32()
			e.pendingKA[kaKey{peer: p, id: ka}] = now
			out.KaRq = &ka
		}

		e.backend.QueueSend(p, out.ToValue())
	}
}

func (e *Engine) keepaliveDue(peer sid.Sid, now time.Time) bool {
	t, ok := e.matrix.Seen(e.me, peer)
	if !ok {
		return true
	}
	return now.Sub(t) >= e.cfg.KeepaliveTriggerAge
}

func (e *Engine) handleLcGossip(from sid.Sid, g parcel.LcGossip) {
	e.matrix.MergeGossip(from, g.Rows, g.Cols)
}

func (e *Engine) makeGossip() parcel.LcGossip {
	cols := make([]sid.Sid, 0, len(e.peers))
	for p := range e.peers {
		cols = append(cols, p)
	}

	meRow, _ := e.matrix.Snapshot()

	rows := make(map[sid.Sid][]time.Time, len(e.peers))
	for p := range e.peers {
		row := make([]time.Time, len(cols))
		for i, q := range cols {
			var t time.Time
			var ok bool
			if p == e.me {
				t, ok = meRow[q]
			} else {
				t, ok = e.matrix.Seen(p, q)
			}
			if ok {
				row[i] = t
			}
		}
		rows[p] = row
	}

	return parcel.LcGossip{Rows: rows, Cols: cols}
}
