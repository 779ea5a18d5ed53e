// Package simnet drives a set of Engines over an in-memory lossy network
// instead of real sockets: one discrete-event loop owns a packet heap and
// a timer heap, rolling dice for loss and latency on every send. Grounded
// on original_source/oxensim/netsim.rs's NetSim/BackSim/run, translated
// from its single binary heap of Event into two earliest-wins heaps, each
// using the time-then-sequence ordering of internal/transport/timers.go.
package simnet

import (
	"container/heap"
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/oxenmesh/oxen/internal/engine"
	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/oxenmesh/oxen/pkg/table"
	"github.com/oxenmesh/oxen/pkg/xenc"
)

// LinkConfig describes the loss and latency characteristics of every
// ordered pair of peers in a simulated network.
type LinkConfig struct {
	peers map[sid.Sid]struct{}

	loss *table.Table[sid.Sid, float64]

	// latencyMean/latencyDev are in seconds, matching the original's use
	// of a Normal distribution over floating-point seconds.
	latencyMean *table.Table[sid.Sid, float64]
	latencyDev  *table.Table[sid.Sid, float64]

	defaultLatencyMean float64
	defaultLatencyDev  float64
}

// NewCompleteLinkConfig builds a fully-connected network where every
// ordered pair of peers shares the same loss ratio and latency
// distribution, mirroring NetConfig::complete.
func NewCompleteLinkConfig(peers []sid.Sid, loss, latencyMeanSec, latencyDevSec float64) *LinkConfig {
	cfg := &LinkConfig{
		peers:              make(map[sid.Sid]struct{}, len(peers)),
		loss:               table.New[sid.Sid, float64](),
		latencyMean:        table.New[sid.Sid, float64](),
		latencyDev:         table.New[sid.Sid, float64](),
		defaultLatencyMean: latencyMeanSec,
		defaultLatencyDev:  latencyDevSec,
	}
	for _, p := range peers {
		cfg.peers[p] = struct{}{}
	}
	for _, p := range peers {
		for _, q := range peers {
			cfg.loss.Put(p, q, loss)
		}
	}
	return cfg
}

// SetLoss overrides the loss ratio (0..1) for the directed link from -> to.
func (c *LinkConfig) SetLoss(from, to sid.Sid, loss float64) {
	c.loss.Put(from, to, loss)
}

// SetLatency overrides the latency distribution for the directed link
// from -> to, in seconds.
func (c *LinkConfig) SetLatency(from, to sid.Sid, meanSec, devSec float64) {
	c.latencyMean.Put(from, to, meanSec)
	c.latencyDev.Put(from, to, devSec)
}

// Partition sets 100% loss in both directions between every peer in
// sids and every peer not in sids, matching NetConfig::partition.
func (c *LinkConfig) Partition(sids []sid.Sid) {
	half := make(map[sid.Sid]struct{}, len(sids))
	for _, s := range sids {
		half[s] = struct{}{}
	}
	for p := range c.peers {
		if _, in := half[p]; in {
			continue
		}
		for q := range half {
			c.loss.Put(p, q, 1.0)
			c.loss.Put(q, p, 1.0)
		}
	}
}

// Heal removes any loss override between every peer in sids and every
// peer not in sids, restoring the network's baseline loss ratio between
// them. There is no counterpart to this in the original; it exists so
// scenario tests can rejoin a partition without rebuilding the config.
func (c *LinkConfig) Heal(sids []sid.Sid, baselineLoss float64) {
	half := make(map[sid.Sid]struct{}, len(sids))
	for _, s := range sids {
		half[s] = struct{}{}
	}
	for p := range c.peers {
		if _, in := half[p]; in {
			continue
		}
		for q := range half {
			c.loss.Put(p, q, baselineLoss)
			c.loss.Put(q, p, baselineLoss)
		}
	}
}

func (c *LinkConfig) willDropPacket(rng *rand.Rand, from, to sid.Sid) bool {
	if from == to {
		return false
	}
	loss, ok := c.loss.Get(from, to)
	if !ok {
		// no configured link means total loss, same as the original.
		return true
	}
	return rng.Float64() < loss
}

func (c *LinkConfig) someLatency(rng *rand.Rand, from, to sid.Sid) time.Duration {
	if from == to {
		return time.Millisecond
	}
	mean, hasMean := c.latencyMean.Get(from, to)
	dev, hasDev := c.latencyDev.Get(from, to)
	if !hasMean || !hasDev {
		mean, dev = c.defaultLatencyMean, c.defaultLatencyDev
	}
	sample := mean + rng.NormFloat64()*dev
	if sample < 0 {
		sample = 0
	}
	return time.Duration(sample * float64(time.Second))
}

type packetEvent struct {
	deliverAt time.Time
	from, to  sid.Sid
	data      []byte
	seq       uint64
}

type packetHeap []*packetEvent

func (h packetHeap) Len() int { return len(h) }
func (h packetHeap) Less(i, j int) bool {
	if h[i].deliverAt.Equal(h[j].deliverAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].deliverAt.Before(h[j].deliverAt)
}
func (h packetHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *packetHeap) Push(x any)   { *h = append(*h, x.(*packetEvent)) }
func (h *packetHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

type timerEvent struct {
	fireAt time.Time
	on     sid.Sid
	token  engine.Timer
	seq    uint64
}

type timerHeap []*timerEvent

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].fireAt.Equal(h[j].fireAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].fireAt.Before(h[j].fireAt)
}
func (h timerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *timerHeap) Push(x any)   { *h = append(*h, x.(*timerEvent)) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// Stats accumulates counters over a Network's run, for scenario
// reporting in place of the original's ad-hoc println! driven stats.
type Stats struct {
	PacketsSent      int
	PacketsDelivered int
	PacketsDropped   int
}

// Network is an in-memory discrete-event simulation of a lossy datagram
// network carrying Engine traffic. It owns every Engine it creates and
// is the single driver of their Incoming/Timeout calls, so it satisfies
// the same single-goroutine-caller requirement internal/transport does
// over real sockets.
type Network struct {
	cfg    *LinkConfig
	rng    *rand.Rand
	logger *slog.Logger

	now time.Time

	packets packetHeap
	timers  timerHeap
	seq     uint64

	canceledTimers map[engine.Timer]bool
	nextToken      engine.Timer

	nodes    map[sid.Sid]*engine.Engine
	backends map[sid.Sid]*nodeBackend

	// OnDeliver, if set, is invoked whenever an application payload is
	// delivered to a node, mirroring internal/transport.Config.OnMessage.
	OnDeliver func(to, from sid.Sid, data []byte)

	Stats Stats
}

// NewNetwork builds a Network starting at the given simulated time. rng
// drives both packet loss and latency sampling; pass a seeded
// *rand.Rand for reproducible scenarios.
func NewNetwork(cfg *LinkConfig, rng *rand.Rand, logger *slog.Logger, start time.Time) *Network {
	if logger == nil {
		logger = slog.Default()
	}
	return &Network{
		cfg:            cfg,
		rng:            rng,
		logger:         logger,
		now:            start,
		canceledTimers: make(map[engine.Timer]bool),
		nodes:          make(map[sid.Sid]*engine.Engine),
		backends:       make(map[sid.Sid]*nodeBackend),
	}
}

// AddNode creates an Engine for peer me backed by this Network and
// registers it. Each node gets its own metrics registry so that
// many-node scenarios don't collide on prometheus collector names.
func (n *Network) AddNode(me sid.Sid, overrides engine.Config) (*engine.Engine, error) {
	if _, exists := n.nodes[me]; exists {
		return nil, fmt.Errorf("simnet: node %s already added", me.String())
	}

	b := &nodeBackend{net: n, me: me}
	n.backends[me] = b

	cfg := overrides
	cfg.Me = me
	cfg.Backend = b
	if cfg.Logger == nil {
		cfg.Logger = n.logger.With("node", me.String())
	}
	if cfg.Metrics == nil {
		cfg.Metrics = engine.NewMetrics(prometheus.NewRegistry())
	}

	e, err := engine.New(cfg)
	if err != nil {
		return nil, fmt.Errorf("simnet: new engine for %s: %w", me.String(), err)
	}
	n.nodes[me] = e
	return e, nil
}

// Now returns the network's current simulated time.
func (n *Network) Now() time.Time { return n.now }

func (n *Network) queueSend(from, to sid.Sid, data []byte) {
	n.Stats.PacketsSent++
	if n.cfg.willDropPacket(n.rng, from, to) {
		n.Stats.PacketsDropped++
		return
	}
	latency := n.cfg.someLatency(n.rng, from, to)
	n.seq++
	heap.Push(&n.packets, &packetEvent{
		deliverAt: n.now.Add(latency),
		from:      from,
		to:        to,
		data:      data,
		seq:       n.seq,
	})
}

func (n *Network) queueTimer(on sid.Sid, at time.Time) engine.Timer {
	n.nextToken++
	tok := n.nextToken
	n.seq++
	heap.Push(&n.timers, &timerEvent{fireAt: at, on: on, token: tok, seq: n.seq})
	return tok
}

func (n *Network) cancelTimer(tok engine.Timer) {
	n.canceledTimers[tok] = true
}

func (n *Network) clearCanceledTimers() {
	for len(n.timers) > 0 {
		tok := n.timers[0].token
		if !n.canceledTimers[tok] {
			return
		}
		delete(n.canceledTimers, tok)
		heap.Pop(&n.timers)
	}
}

// step pops and processes the single earliest pending event (packet or
// timer), returning false if none remain.
func (n *Network) step() bool {
	n.clearCanceledTimers()

	var nextPacket, nextTimer time.Time
	havePacket := len(n.packets) > 0
	haveTimer := len(n.timers) > 0
	if havePacket {
		nextPacket = n.packets[0].deliverAt
	}
	if haveTimer {
		nextTimer = n.timers[0].fireAt
	}

	switch {
	case !havePacket && !haveTimer:
		return false

	case haveTimer && (!havePacket || nextTimer.Before(nextPacket)):
		t := heap.Pop(&n.timers).(*timerEvent)
		n.now = t.fireAt
		if e, ok := n.nodes[t.on]; ok {
			e.Timeout(t.token)
		}
		return true

	default:
		p := heap.Pop(&n.packets).(*packetEvent)
		n.now = p.deliverAt
		e, ok := n.nodes[p.to]
		if !ok {
			return true
		}
		v, rest, err := xenc.Decode(p.data)
		if err != nil || len(rest) != 0 {
			n.logger.Warn("simnet: malformed packet, dropping", "to", p.to.String(), "from", p.from.String())
			return true
		}
		n.Stats.PacketsDelivered++
		e.Incoming(p.from, v, func(ev engine.Event) {
			if msg, ok := ev.(engine.MessageEvent); ok && n.OnDeliver != nil {
				n.OnDeliver(p.to, msg.From, msg.Data)
			}
		})
		return true
	}
}

// Run drains events until the simulated clock reaches start+dur or no
// events remain, whichever comes first, matching netsim::run's loop
// shape but bounded instead of running forever.
func (n *Network) Run(dur time.Duration) {
	deadline := n.now.Add(dur)
	for {
		if len(n.timers) == 0 && len(n.packets) == 0 {
			return
		}
		if n.earliestEventAt().After(deadline) {
			return
		}
		if !n.step() {
			return
		}
	}
}

func (n *Network) earliestEventAt() time.Time {
	n.clearCanceledTimers()
	switch {
	case len(n.packets) == 0 && len(n.timers) == 0:
		return n.now
	case len(n.packets) == 0:
		return n.timers[0].fireAt
	case len(n.timers) == 0:
		return n.packets[0].deliverAt
	case n.timers[0].fireAt.Before(n.packets[0].deliverAt):
		return n.timers[0].fireAt
	default:
		return n.packets[0].deliverAt
	}
}

// nodeBackend implements engine.Backend for one node in a Network,
// mirroring BackSim's per-node (sim, now, me) triple.
type nodeBackend struct {
	net *Network
	me  sid.Sid
}

func (b *nodeBackend) Now() time.Time { return b.net.now }

func (b *nodeBackend) QueueSend(peer sid.Sid, v xenc.Value) {
	b.net.queueSend(b.me, peer, xenc.Encode(v))
}

func (b *nodeBackend) TimerSet(d time.Duration) engine.Timer {
	return b.net.queueTimer(b.me, b.net.now.Add(d))
}

func (b *nodeBackend) TimerCancel(t engine.Timer) {
	b.net.cancelTimer(t)
}
