// Command oxen-node runs a single Oxen peer over a real UDP socket:
// flag parsing, JSON logging to stderr, a prometheus /metrics endpoint,
// and a UDP transport wired to an Engine. Grounded on
// controlplane/monitor/cmd/monitor/main.go's shape (plain flag daemon,
// background metrics listener, signal.NotifyContext shutdown).
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/oxenmesh/oxen/internal/engine"
	"github.com/oxenmesh/oxen/internal/transport"
	"github.com/oxenmesh/oxen/pkg/sid"
)

// peerFlags collects repeated -peer sid@host:port arguments, mirroring
// the groupPortPairs pattern in e2e/cmd/mmonitor/main.go.
type peerFlags []string

func (p *peerFlags) String() string { return strings.Join(*p, ", ") }
func (p *peerFlags) Set(v string) error {
	*p = append(*p, v)
	return nil
}

var (
	me           = flag.String("me", "", "this node's 3-character Sid")
	listenAddr   = flag.String("listen", ":7070", "UDP address to listen on")
	metricsAddr  = flag.String("metrics-addr", ":8080", "address to serve Prometheus metrics on")
	verbose      = flag.Bool("verbose", false, "enable debug logging")
	statsEvery   = flag.Duration("stats-interval", 0, "if set, log Engine.LogStats on this interval")
	showVersion  = flag.Bool("version", false, "print version and exit")
	peers        peerFlags

	version = "dev"
	commit  = "none"
)

func main() {
	flag.Var(&peers, "peer", "a peer as sid@host:port; may be repeated")
	flag.Parse()

	if *showVersion {
		fmt.Printf("oxen-node %s (%s)\n", version, commit)
		return
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	if *me == "" {
		log.Error("missing required flag", "flag", "me")
		flag.Usage()
		os.Exit(1)
	}
	meSid, err := parseSid(*me)
	if err != nil {
		log.Error("invalid -me", "error", err)
		os.Exit(1)
	}

	parsedPeers, err := parsePeers(peers)
	if err != nil {
		log.Error("invalid -peer", "error", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()

	tr, err := transport.New(transport.Config{
		Logger:     log,
		ListenAddr: *listenAddr,
		Metrics:    transport.NewMetrics(reg),
		OnMessage: func(from sid.Sid, data []byte) {
			log.Info("message delivered", "from", from.String(), "bytes", len(data))
		},
	})
	if err != nil {
		log.Error("failed to start transport", "error", err)
		os.Exit(1)
	}
	defer tr.Close()

	eng, err := engine.New(engine.Config{
		Me:      meSid,
		Backend: tr,
		Logger:  log,
		Metrics: engine.NewMetrics(reg),
		OnEvent: func(ev engine.Event) {
			switch e := ev.(type) {
			case engine.PeerVisibleEvent:
				log.Info("peer visible", "peer", e.Peer.String())
			case engine.PeerVanishedEvent:
				log.Warn("peer vanished", "peer", e.Peer.String())
			}
		},
	})
	if err != nil {
		log.Error("failed to start engine", "error", err)
		os.Exit(1)
	}
	tr.SetEngine(eng)

	for _, p := range parsedPeers {
		tr.RegisterPeer(p.id, p.addr)
		eng.AddPeer(p.id)
	}

	go func() {
		listener, err := net.Listen("tcp", *metricsAddr)
		if err != nil {
			log.Error("failed to start metrics listener", "error", err)
			return
		}
		log.Info("prometheus metrics listening", "address", listener.Addr().String())
		http.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		if err := http.Serve(listener, nil); err != nil {
			log.Error("metrics server stopped", "error", err)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *statsEvery > 0 {
		go func() {
			ticker := time.NewTicker(*statsEvery)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					tr.RequestStats()
				}
			}
		}()
	}

	log.Info("oxen-node starting", "me", meSid.String(), "listen", *listenAddr, "peers", len(parsedPeers))
	if err := tr.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("transport run failed", "error", err)
		os.Exit(1)
	}
	log.Info("oxen-node stopped")
}

func parseSid(s string) (sid.Sid, error) {
	if len(s) != sid.Size {
		return sid.Sid{}, fmt.Errorf("sid %q must be exactly %d characters", s, sid.Size)
	}
	return sid.New(s), nil
}

type namedPeer struct {
	id   sid.Sid
	addr *net.UDPAddr
}

func parsePeers(raw []string) ([]namedPeer, error) {
	out := make([]namedPeer, 0, len(raw))
	for _, r := range raw {
		idPart, addrPart, ok := strings.Cut(r, "@")
		if !ok {
			return nil, fmt.Errorf("peer %q must be of the form sid@host:port", r)
		}
		id, err := parseSid(idPart)
		if err != nil {
			return nil, err
		}
		addr, err := net.ResolveUDPAddr("udp", addrPart)
		if err != nil {
			return nil, fmt.Errorf("peer %q: %w", r, err)
		}
		out = append(out, namedPeer{id: id, addr: addr})
	}
	return out, nil
}
