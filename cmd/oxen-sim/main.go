// Command oxen-sim drives internal/simnet from the command line: a
// cobra-based multi-subcommand CLI for exploring Oxen's behavior over
// an in-memory lossy network, without needing real sockets or multiple
// hosts. Grounded on
// controlplane/internet-latency-collector/cmd/collector/main.go's
// cobra root+subcommand shape and its tint-based interactive logger.
package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"

	"github.com/oxenmesh/oxen/internal/engine"
	"github.com/oxenmesh/oxen/internal/simnet"
	"github.com/oxenmesh/oxen/pkg/sid"
)

var (
	version = "dev"
	commit  = "none"

	logLevel string
	seed     int64
)

func newLogger(level string) *slog.Logger {
	lv := slog.LevelInfo
	switch level {
	case "debug":
		lv = slog.LevelDebug
	case "warn":
		lv = slog.LevelWarn
	case "error":
		lv = slog.LevelError
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{Level: lv}))
}

func fastEngineConfig() engine.Config {
	return engine.Config{
		ReachabilityThreshold:    2 * time.Second,
		KeepaliveTriggerAge:      50 * time.Millisecond,
		LastContactPollInterval:  100 * time.Millisecond,
		GossipInterval:           100 * time.Millisecond,
		KeepaliveCleanupInterval: time.Second,
		Retry: engine.RetryPolicy{
			InitialInterval: 50 * time.Millisecond,
			Multiplier:      1.2,
			MaxInterval:     500 * time.Millisecond,
			MaxElapsedTime:  10 * time.Second,
		},
	}
}

func sidsFromNames(names ...string) []sid.Sid {
	out := make([]sid.Sid, len(names))
	for i, n := range names {
		out[i] = sid.New(n)
	}
	return out
}

var rootCmd = &cobra.Command{
	Use:   "oxen-sim",
	Short: "Drive Oxen engines over a simulated lossy network",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("oxen-sim %s (%s)\n", version, commit)
	},
}

var scenarioCmd = &cobra.Command{
	Use:       "scenario {basic|partition|two-hop}",
	Short:     "Run one of the built-in scenarios from the spec's testable-properties section",
	Args:      cobra.ExactValidArgs(1),
	ValidArgs: []string{"basic", "partition", "two-hop"},
	Run: func(cmd *cobra.Command, args []string) {
		log := newLogger(logLevel)
		rng := rand.New(rand.NewSource(seed))

		switch args[0] {
		case "basic":
			runBasicScenario(log, rng)
		case "partition":
			runPartitionScenario(log, rng)
		case "two-hop":
			runTwoHopScenario(log, rng)
		}
	},
}

func logEvent(log *slog.Logger, who sid.Sid) func(engine.Event) {
	return func(ev engine.Event) {
		switch e := ev.(type) {
		case engine.PeerVisibleEvent:
			log.Info("peer visible", "node", who.String(), "peer", e.Peer.String())
		case engine.PeerVanishedEvent:
			log.Warn("peer vanished", "node", who.String(), "peer", e.Peer.String())
		}
	}
}

func runBasicScenario(log *slog.Logger, rng *rand.Rand) {
	a, b := sid.New("aaa"), sid.New("bbb")
	cfg := simnet.NewCompleteLinkConfig([]sid.Sid{a, b}, 0.1, 0.01, 0.002)
	net := simnet.NewNetwork(cfg, rng, log, time.Unix(0, 0))

	cfgA, cfgB := fastEngineConfig(), fastEngineConfig()
	cfgA.OnEvent = logEvent(log, a)
	cfgB.OnEvent = logEvent(log, b)

	engA, err := net.AddNode(a, cfgA)
	must(log, err)
	engB, err := net.AddNode(b, cfgB)
	must(log, err)

	net.OnDeliver = func(to, from sid.Sid, data []byte) {
		log.Info("delivered", "to", to.String(), "from", from.String(), "payload", string(data))
	}

	engA.AddPeer(b)
	engB.AddPeer(a)
	net.Run(2 * time.Second)

	engA.SendBroadcast([]byte("hello from a"))
	engB.SendOne(a, []byte("hi a, it's b"))
	net.Run(3 * time.Second)

	log.Info("scenario complete", "sent", net.Stats.PacketsSent, "delivered", net.Stats.PacketsDelivered, "dropped", net.Stats.PacketsDropped)
}

func runPartitionScenario(log *slog.Logger, rng *rand.Rand) {
	sids := sidsFromNames("0N1", "0N2", "0N3", "0N4", "0N5")
	cfg := simnet.NewCompleteLinkConfig(sids, 0.1, 0.01, 0.002)
	net := simnet.NewNetwork(cfg, rng, log, time.Unix(0, 0))

	engines := make([]*engine.Engine, len(sids))
	for i, s := range sids {
		c := fastEngineConfig()
		c.OnEvent = logEvent(log, s)
		e, err := net.AddNode(s, c)
		must(log, err)
		engines[i] = e
	}
	for i, e := range engines {
		for j, s := range sids {
			if i != j {
				e.AddPeer(s)
			}
		}
	}

	net.Run(5 * time.Second)
	log.Info("fully connected, partitioning 0N1/0N2 from the rest")

	cfg.Partition(sidsFromNames("0N1", "0N2"))
	net.Run(25 * time.Second)

	log.Info("scenario complete", "sent", net.Stats.PacketsSent, "delivered", net.Stats.PacketsDelivered, "dropped", net.Stats.PacketsDropped)
}

func runTwoHopScenario(log *slog.Logger, rng *rand.Rand) {
	a, b, c := sid.New("aaa"), sid.New("bbb"), sid.New("ccc")
	cfg := simnet.NewCompleteLinkConfig([]sid.Sid{a, b, c}, 0.0, 0.01, 0.002)
	cfg.SetLoss(a, c, 1.0)
	cfg.SetLoss(c, a, 1.0)

	net := simnet.NewNetwork(cfg, rng, log, time.Unix(0, 0))
	engA, err := net.AddNode(a, fastEngineConfig())
	must(log, err)
	engB, err := net.AddNode(b, fastEngineConfig())
	must(log, err)
	engC, err := net.AddNode(c, fastEngineConfig())
	must(log, err)

	net.OnDeliver = func(to, from sid.Sid, data []byte) {
		log.Info("delivered", "to", to.String(), "from", from.String(), "payload", string(data))
	}

	engA.AddPeer(b)
	engA.AddPeer(c)
	engB.AddPeer(a)
	engB.AddPeer(c)
	engC.AddPeer(b)
	engC.AddPeer(a)
	net.Run(3 * time.Second)

	engA.SendOne(c, []byte("routed via b"))
	net.Run(5 * time.Second)

	log.Info("scenario complete", "sent", net.Stats.PacketsSent, "delivered", net.Stats.PacketsDelivered, "dropped", net.Stats.PacketsDropped)
}

func must(log *slog.Logger, err error) {
	if err != nil {
		log.Error("scenario setup failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", 1, "seed for the simulated network's RNG")

	cobra.EnableCommandSorting = false
	rootCmd.AddCommand(scenarioCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
