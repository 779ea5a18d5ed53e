package engine

import (
	"fmt"
	"log/slog"
	"math/rand"
	"time"

	"github.com/oxenmesh/oxen/pkg/sid"
)

const (
	defaultReachabilityThreshold     = 20 * time.Second
	defaultKeepaliveTriggerAge       = 2 * time.Second
	defaultLastContactPollInterval   = 1 * time.Second
	defaultGossipInterval            = 1 * time.Second
	defaultKeepaliveCleanupInterval  = 20 * time.Second
	defaultPendingKeepaliveExpiry    = defaultReachabilityThreshold
)

// Config controls one Engine. Me and Backend are required; everything
// else defaults to the values the original implementation hard-coded.
type Config struct {
	Me      sid.Sid
	Backend Backend
	Logger  *slog.Logger
	Metrics *Metrics
	Retry   RetryPolicy
	Rand    *rand.Rand

	// OnEvent, if set, receives PeerVisibleEvent/PeerVanishedEvent as
	// status transitions happen during the last-contact poll. Message
	// events are instead delivered through the callback passed to each
	// Incoming call, since those are inherently tied to the parcel that
	// produced them.
	OnEvent func(Event)

	// ReachabilityThreshold is how stale a direct last-contact entry may
	// be before the peer is considered unreachable.
	ReachabilityThreshold time.Duration
	// KeepaliveTriggerAge is how stale direct contact must be before a
	// keepalive request is sent proactively.
	KeepaliveTriggerAge time.Duration
	// PendingKeepaliveExpiry bounds how long an outstanding keepalive
	// request is tracked before being discarded unanswered.
	PendingKeepaliveExpiry time.Duration

	LastContactPollInterval  time.Duration
	GossipInterval           time.Duration
	KeepaliveCleanupInterval time.Duration
}

// Validate checks required fields and fills in defaults for the rest.
func (c *Config) Validate() error {
	if c.Backend == nil {
		return fmt.Errorf("engine: Backend is required")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Metrics == nil {
		c.Metrics = NewMetrics(nil)
	}
	if c.OnEvent == nil {
		c.OnEvent = func(Event) {}
	}
	if c.Rand == nil {
		c.Rand = rand.New(rand.NewSource(int64(seedFromSid(c.Me))))
	}
	if c.Retry == (RetryPolicy{}) {
		c.Retry = DefaultRetryPolicy()
	}
	if c.ReachabilityThreshold <= 0 {
		c.ReachabilityThreshold = defaultReachabilityThreshold
	}
	if c.KeepaliveTriggerAge <= 0 {
		c.KeepaliveTriggerAge = defaultKeepaliveTriggerAge
	}
	if c.PendingKeepaliveExpiry <= 0 {
		c.PendingKeepaliveExpiry = defaultPendingKeepaliveExpiry
	}
	if c.LastContactPollInterval <= 0 {
		c.LastContactPollInterval = defaultLastContactPollInterval
	}
	if c.GossipInterval <= 0 {
		c.GossipInterval = defaultGossipInterval
	}
	if c.KeepaliveCleanupInterval <= 0 {
		c.KeepaliveCleanupInterval = defaultKeepaliveCleanupInterval
	}
	return nil
}

func seedFromSid(s sid.Sid) uint32 {
	var h uint32 = 2166136261
	for _, b := range s {
		h ^= uint32(b)
		h *= 16777619
	}
	if h == 0 {
		return 1
	}
	return h
}
