package sid_test

import (
	"sort"
	"testing"

	"github.com/oxenmesh/oxen/pkg/sid"
	"github.com/stretchr/testify/require"
)

func TestNewAndString(t *testing.T) {
	s := sid.New("abc")
	require.Equal(t, "abc", s.String())
}

func TestFromBytes(t *testing.T) {
	s, ok := sid.FromBytes([]byte("xyz"))
	require.True(t, ok)
	require.Equal(t, "xyz", s.String())

	_, ok = sid.FromBytes([]byte("xy"))
	require.False(t, ok)
}

func TestOrdering(t *testing.T) {
	ids := []sid.Sid{sid.New("ccc"), sid.New("aaa"), sid.New("bbb")}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })

	require.Equal(t, []sid.Sid{sid.New("aaa"), sid.New("bbb"), sid.New("ccc")}, ids)
}

func TestCompare(t *testing.T) {
	require.Equal(t, 0, sid.New("abc").Compare(sid.New("abc")))
	require.Equal(t, -1, sid.New("aaa").Compare(sid.New("aab")))
	require.Equal(t, 1, sid.New("aab").Compare(sid.New("aaa")))
}

func TestEquality(t *testing.T) {
	require.Equal(t, sid.New("abc"), sid.New("abc"))
	require.NotEqual(t, sid.New("abc"), sid.New("abd"))
}

func TestIdentity(t *testing.T) {
	require.Equal(t, "000", sid.Identity.String())
}
