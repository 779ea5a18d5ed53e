// Package engine implements the Oxen core: peer bookkeeping, the three
// recurring timers, reliable delivery with bounded backoff, and dispatch
// of incoming parcels. Grounded on Oxen (original_source/src/oxen/core.rs)
// for the control flow, and on the BFD-like session machinery in
// client/doublezerod/internal/liveness/session.go for the Go idiom: a
// small handler/backend trait, single-threaded state, explicit timer
// tokens rather than goroutine-per-timer.
package engine

import (
	"time"

	"github.com/oxenmesh/oxen/pkg/xenc"
	"github.com/oxenmesh/oxen/pkg/sid"
)

// Timer identifies a scheduled timeout. The zero value never refers to a
// live timer, mirroring the original's use of 0 as "no timer yet".
type Timer uint64

// Backend decouples the engine from its transport and clock, the same
// role original_source/src/oxen/core.rs's OxenHandler trait plays. A
// single Engine must only ever be driven from one goroutine; Backend
// implementations are not required to be safe for concurrent use by the
// engine itself (the transport layer may use its own internal
// concurrency to feed the engine from one loop).
type Backend interface {
	// Now returns the current time.
	Now() time.Time

	// QueueSend asks the backend to deliver v to peer, best-effort.
	QueueSend(peer sid.Sid, v xenc.Value)

	// TimerSet arms a one-shot timer that fires after d by a later call to
	// Engine.Timeout with the returned Timer.
	TimerSet(d time.Duration) Timer

	// TimerCancel releases a timer set with TimerSet. Calling Timeout
	// after cancellation is tolerated, not an error.
	TimerCancel(t Timer)
}
