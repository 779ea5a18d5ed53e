// Package transport implements engine.Backend over a UDP socket: one
// encoded xenc.Value per datagram, a heap-based timer wheel standing in
// for the original's event loop timers, and a clockwork.Clock so tests
// can drive time deterministically. Grounded on the errgroup-coordinated
// loops in lake/api/handlers and the clockwork Config pattern in
// tools/mcp/internal/dz/serviceability/view.go.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	oxenengine "github.com/oxenmesh/oxen/internal/engine"
	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/oxenmesh/oxen/pkg/xenc"
)

const (
	maxDatagramSize  = 16 * 1024
	defaultIdleSleep = 1 * time.Second
)

// Config controls a Transport.
type Config struct {
	Logger *slog.Logger
	Clock  clockwork.Clock
	Metrics *Metrics

	// ListenAddr is the local UDP address to bind, e.g. ":7070".
	ListenAddr string

	// OnMessage, if set, is invoked with every application payload the
	// Engine delivers. May be nil if the caller only cares about
	// transport-level plumbing.
	OnMessage func(from sid.Sid, data []byte)
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(nil)
	}
	if cfg.ListenAddr == "" {
		return fmt.Errorf("transport: ListenAddr is required")
	}
	return nil
}

// Transport is a concrete engine.Backend backed by a UDP socket. It must
// be given its owning Engine via SetEngine before Run is called.
type Transport struct {
	cfg     Config
	logger  *slog.Logger
	clock   clockwork.Clock
	metrics *Metrics

	conn *net.UDPConn

	mu        sync.Mutex
	peerAddrs map[sid.Sid]*net.UDPAddr
	addrPeers map[string]sid.Sid

	wheel     *timerWheel
	nextTimer oxenengine.Timer

	statsRequests chan struct{}

	engine *oxenengine.Engine
}

// New binds the configured UDP socket and returns a Transport ready to
// have its Engine attached via SetEngine.
func New(cfg Config) (*Transport, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addr, err := net.ResolveUDPAddr("udp", cfg.ListenAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %q: %w", cfg.ListenAddr, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen %q: %w", cfg.ListenAddr, err)
	}

	return &Transport{
		cfg:           cfg,
		logger:        cfg.Logger,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		conn:          conn,
		peerAddrs:     make(map[sid.Sid]*net.UDPAddr),
		addrPeers:     make(map[string]sid.Sid),
		wheel:         newTimerWheel(),
		statsRequests: make(chan struct{}, 1),
	}, nil
}

// SetEngine attaches the Engine this Transport serves as a Backend for.
// Must be called exactly once, before Run.
func (t *Transport) SetEngine(e *oxenengine.Engine) {
	t.engine = e
}

// RegisterPeer tells the transport which UDP address a peer's Sid maps
// to. It is safe to call concurrently with Run.
func (t *Transport) RegisterPeer(s sid.Sid, addr *net.UDPAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peerAddrs[s] = addr
	t.addrPeers[addr.String()] = s
}

// LocalAddr returns the bound local address.
func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

// RequestStats asks the dispatch loop to call Engine.LogStats on its next
// iteration. Safe to call from any goroutine, including a periodic
// ticker: the Engine itself is only ever touched from the dispatch loop,
// so this hands off rather than calling LogStats directly. A request
// pending from a prior, not-yet-drained call is coalesced.
func (t *Transport) RequestStats() {
	select {
	case t.statsRequests <- struct{}{}:
	default:
	}
}

// --- engine.Backend ---

func (t *Transport) Now() time.Time { return t.clock.Now() }

func (t *Transport) QueueSend(peer sid.Sid, v xenc.Value) {
	t.mu.Lock()
	addr, ok := t.peerAddrs[peer]
	t.mu.Unlock()
	if !ok {
		t.logger.Warn("transport: no known address for peer, dropping", "peer", peer.String())
		return
	}

	b := xenc.Encode(v)
	if len(b) > maxDatagramSize {
		t.logger.Error("transport: encoded parcel exceeds datagram size, dropping", "peer", peer.String(), "size", len(b))
		return
	}
	if _, err := t.conn.WriteToUDP(b, addr); err != nil {
		t.logger.Warn("transport: write failed", "peer", peer.String(), "err", err)
		return
	}
	t.metrics.DatagramsSent.Inc()
}

func (t *Transport) TimerSet(d time.Duration) oxenengine.Timer {
	t.nextTimer++
	id := t.nextTimer
	t.wheel.arm(id, t.clock.Now().Add(d))
	return id
}

func (t *Transport) TimerCancel(id oxenengine.Timer) {
	t.wheel.cancel(id)
}

// --- run loop ---

type datagram struct {
	from sid.Sid
	v    xenc.Value
}

// Run drives the transport until ctx is canceled: a reader goroutine
// decodes incoming datagrams onto a channel, while this goroutine
// dispatches them to the Engine and fires due timers, in the single
// sequential loop the Engine requires.
func (t *Transport) Run(ctx context.Context) error {
	if t.engine == nil {
		return errors.New("transport: SetEngine must be called before Run")
	}

	g, ctx := errgroup.WithContext(ctx)
	inbound := make(chan datagram, 256)

	g.Go(func() error { return t.readLoop(ctx, inbound) })
	g.Go(func() error { return t.dispatchLoop(ctx, inbound) })

	return g.Wait()
}

func (t *Transport) readLoop(ctx context.Context, out chan<- datagram) error {
	buf := make([]byte, maxDatagramSize)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		t.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, addr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			t.logger.Warn("transport: read failed", "err", err)
			continue
		}

		t.mu.Lock()
		peer, known := t.addrPeers[addr.String()]
		t.mu.Unlock()
		if !known {
			t.logger.Warn("transport: datagram from unregistered peer address", "addr", addr.String())
			continue
		}

		v, rest, err := xenc.Decode(buf[:n])
		if err != nil || len(rest) != 0 {
			t.logger.Warn("transport: malformed datagram", "peer", peer.String(), "err", err)
			continue
		}
		t.metrics.DatagramsReceived.Inc()

		select {
		case out <- datagram{from: peer, v: v}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (t *Transport) dispatchLoop(ctx context.Context, in <-chan datagram) error {
	for {
		wait := t.wheel.until(t.clock.Now(), defaultIdleSleep)

		select {
		case <-ctx.Done():
			return ctx.Err()

		case dg := <-in:
			t.engine.Incoming(dg.from, dg.v, t.handleEvent)
			t.drainDueTimers()

		case <-t.statsRequests:
			t.engine.LogStats()
			t.drainDueTimers()

		case <-t.clock.After(wait):
			t.drainDueTimers()
		}
	}
}

func (t *Transport) drainDueTimers() {
	now := t.clock.Now()
	for {
		id, ok := t.wheel.nextDue(now)
		if !ok {
			return
		}
		t.engine.Timeout(id)
	}
}

// handleEvent is the callback passed to Engine.Incoming.
func (t *Transport) handleEvent(ev oxenengine.Event) {
	msg, ok := ev.(oxenengine.MessageEvent)
	if !ok {
		return
	}
	t.logger.Debug("transport: delivered message", "from", msg.From.String(), "bytes", len(msg.Data))
	if t.cfg.OnMessage != nil {
		t.cfg.OnMessage(msg.From, msg.Data)
	}
}

// Close releases the UDP socket.
func (t *Transport) Close() error {
	return t.conn.Close()
}
