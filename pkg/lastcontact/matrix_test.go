package lastcontact_test

import (
	"testing"
	"time"

	"github.com/oxenmesh/oxen/pkg/lastcontact"
	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/stretchr/testify/require"
)

var (
	me = sid.New("me0")
	a  = sid.New("aaa")
	b  = sid.New("bbb")
	c  = sid.New("ccc")
)

func TestReachableDirect(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	m.Touch(a, now.Add(-5*time.Second))
	require.True(t, m.Reachable(a, now, 10*time.Second))
	require.False(t, m.Reachable(a, now, 2*time.Second))
	require.False(t, m.Reachable(b, now, 10*time.Second))
}

func TestReachableTwoHop(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	// me can reach b directly; b has recently seen c, which me cannot reach
	// directly. c must still count as reachable so routing and status agree.
	m.Touch(b, now)
	m.MergeGossip(b, map[sid.Sid][]time.Time{
		b: {now.Add(-1 * time.Second)},
	}, []sid.Sid{c})

	require.True(t, m.Reachable(c, now, 10*time.Second))
	_, routeOk := m.Route(c, now, 10*time.Second)
	require.True(t, routeOk)

	require.False(t, m.Reachable(c, now, 500*time.Millisecond))
}

func TestRouteDirectPreferred(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	m.Touch(a, now)
	hop, ok := m.Route(a, now, 10*time.Second)
	require.True(t, ok)
	require.Equal(t, a, hop)
}

func TestRouteTwoHop(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	// me can reach b directly; b has recently seen c, which me cannot reach.
	m.Touch(b, now)
	m.MergeGossip(b, map[sid.Sid][]time.Time{
		b: {now.Add(-1 * time.Second)},
	}, []sid.Sid{c})

	hop, ok := m.Route(c, now, 10*time.Second)
	require.True(t, ok)
	require.Equal(t, b, hop)
}

func TestRouteNoneFound(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	_, ok := m.Route(a, now, 10*time.Second)
	require.False(t, ok)
}

func TestRouteTieBrokenBySidOrder(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	m.Touch(a, now)
	m.Touch(b, now)
	m.MergeGossip(a, map[sid.Sid][]time.Time{a: {now}}, []sid.Sid{c})
	m.MergeGossip(b, map[sid.Sid][]time.Time{b: {now}}, []sid.Sid{c})

	hop, ok := m.Route(c, now, 10*time.Second)
	require.True(t, ok)
	want := a
	if b.Less(a) {
		want = b
	}
	require.Equal(t, want, hop)
}

func TestMergeGossipNeverOverwritesOwnRow(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	m.Touch(a, now)

	m.MergeGossip(b, map[sid.Sid][]time.Time{
		me: {now.Add(time.Hour)},
	}, []sid.Sid{a})

	t1, ok := m.Seen(me, a)
	require.True(t, ok)
	require.True(t, t1.Equal(now))
}

func TestMergeGossipIgnoresSelfReportedGossip(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	m.Touch(a, now)

	// Gossip purportedly "from" ourselves must be a no-op.
	m.MergeGossip(me, map[sid.Sid][]time.Time{a: {now.Add(time.Hour)}}, []sid.Sid{a})
	t1, _ := m.Seen(me, a)
	require.True(t, t1.Equal(now))
}

func TestSnapshotReflectsOwnRowOnly(t *testing.T) {
	m := lastcontact.New(me)
	now := time.Unix(1000, 0)
	m.Touch(a, now)
	m.Touch(b, now.Add(time.Second))
	m.MergeGossip(a, map[sid.Sid][]time.Time{c: {now}}, []sid.Sid{a})

	row, cols := m.Snapshot()
	require.Len(t, row, 2)
	require.Len(t, cols, 2)
	require.Contains(t, row, a)
	require.Contains(t, row, b)
}
