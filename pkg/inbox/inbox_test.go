package inbox_test

import (
	"testing"

	"github.com/oxenmesh/oxen/pkg/inbox"
	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/stretchr/testify/require"
)

func collect(ib *inbox.Inbox[inbox.Broadcast], seq uint32, data string, out *[]byte) {
	ib.Incoming(seq, []byte(data), func(d []byte) { *out = append(*out, d[0]) })
}

func TestInboxEasyInOrder(t *testing.T) {
	ib := inbox.New[inbox.Broadcast](nil)
	ib.Synchronize(99)

	var got []byte
	collect(ib, 100, "a", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 103, "d", &got)

	require.Equal(t, "abcd", string(got))
}

func TestInboxBackwards(t *testing.T) {
	ib := inbox.New[inbox.Broadcast](nil)
	ib.Synchronize(99)

	var got []byte
	collect(ib, 103, "d", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 100, "a", &got)

	require.Equal(t, "abcd", string(got))
}

func TestInboxDuplicates(t *testing.T) {
	ib := inbox.New[inbox.Broadcast](nil)
	ib.Synchronize(99)

	var got []byte
	collect(ib, 100, "a", &got)
	collect(ib, 100, "a", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 103, "d", &got)

	require.Equal(t, "abcd", string(got))
}

func TestInboxMishmash(t *testing.T) {
	ib := inbox.New[inbox.Broadcast](nil)
	ib.Synchronize(99)

	var got []byte
	collect(ib, 103, "d", &got)
	collect(ib, 100, "a", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 100, "a", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 103, "d", &got)
	collect(ib, 103, "d", &got)

	require.Equal(t, "abcd", string(got))
}

func TestInboxResyncWithSameSeqIsHarmless(t *testing.T) {
	ib := inbox.New[inbox.Broadcast](nil)
	ib.Synchronize(99)

	var got []byte
	collect(ib, 103, "d", &got)
	collect(ib, 100, "a", &got)
	collect(ib, 101, "b", &got)

	ib.Synchronize(99) // duplicate sync, same seq: no-op

	collect(ib, 101, "b", &got)
	collect(ib, 100, "a", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 101, "b", &got)
	collect(ib, 102, "c", &got)
	collect(ib, 103, "d", &got)
	collect(ib, 103, "d", &got)

	require.Equal(t, "abcd", string(got))
}

func TestInboxResyncWithDifferentSeqIsLoggedNotFatal(t *testing.T) {
	ib := inbox.New[inbox.Broadcast](nil)
	ib.Synchronize(50)
	require.NotPanics(t, func() {
		ib.Synchronize(200) // differing resync: logged, existing sync state kept
	})
	require.True(t, ib.Synchronized())
	require.Equal(t, uint32(51), ib.NextSeq())
}

func TestInboxesLazilyCreatesPerPeer(t *testing.T) {
	ibs := inbox.NewInboxes[inbox.OneToOne](nil)
	a := sid.New("aaa")
	b := sid.New("bbb")

	require.False(t, ibs.Get(a).Synchronized())
	ibs.Get(a).Synchronize(10)
	require.True(t, ibs.Get(a).Synchronized())
	require.False(t, ibs.Get(b).Synchronized())
}

func TestInboxPendingCountReflectsBuffered(t *testing.T) {
	ib := inbox.New[inbox.Broadcast](nil)
	ib.Synchronize(0) // nextSeq starts at 1

	var got []byte
	collect(ib, 3, "d", &got)
	require.Equal(t, 1, ib.Pending())
	collect(ib, 2, "c", &got)
	require.Equal(t, 2, ib.Pending())

	// Delivering seq 1 drains the whole buffered chain 1,2,3.
	collect(ib, 1, "b", &got)
	require.Equal(t, 0, ib.Pending())
	require.Equal(t, "bcd", string(got))

	// A late duplicate of something already delivered is dropped.
	collect(ib, 1, "b", &got)
	require.Equal(t, 0, ib.Pending())
	require.Equal(t, "bcd", string(got))
}
