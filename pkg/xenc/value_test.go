package xenc_test

import (
	"testing"
	"time"

	"github.com/oxenmesh/oxen/pkg/xenc"
	"github.com/stretchr/testify/require"
)

func roundtrip(t *testing.T, v xenc.Value) xenc.Value {
	t.Helper()
	encoded := xenc.Encode(v)
	decoded, rest, err := xenc.Decode(encoded)
	require.NoError(t, err)
	require.Empty(t, rest)
	return decoded
}

func TestRoundTripInt(t *testing.T) {
	for _, n := range []int64{0, 1, -1, 42, -12345, 1 << 40} {
		got := roundtrip(t, xenc.Int(n))
		v, ok := got.Int64()
		require.True(t, ok)
		require.Equal(t, n, v)
	}
}

func TestRoundTripTime(t *testing.T) {
	ts := time.Unix(1700000000, 123456789).UTC()
	got := roundtrip(t, xenc.Time(ts))
	v, ok := got.AsTime()
	require.True(t, ok)
	require.True(t, ts.Equal(v))
}

func TestRoundTripOctets(t *testing.T) {
	for _, s := range [][]byte{{}, []byte("hello"), {0, 1, 2, 255}} {
		got := roundtrip(t, xenc.Octets(s))
		v, ok := got.AsOctets()
		require.True(t, ok)
		require.Equal(t, s, v)
	}
}

func TestRoundTripList(t *testing.T) {
	v := xenc.List([]xenc.Value{xenc.Int(1), xenc.Str("a"), xenc.List(nil)})
	got := roundtrip(t, v)
	list, ok := got.AsList()
	require.True(t, ok)
	require.Len(t, list, 3)
}

func TestRoundTripDict(t *testing.T) {
	v := xenc.Dict(map[string]xenc.Value{
		"a": xenc.Int(1),
		"b": xenc.Str("hi"),
	})
	got := roundtrip(t, v)
	m, ok := got.AsDict()
	require.True(t, ok)
	require.Len(t, m, 2)
	n, ok := m["a"].Int64()
	require.True(t, ok)
	require.Equal(t, int64(1), n)
}

func TestDecodeErrors(t *testing.T) {
	_, _, err := xenc.Decode([]byte("x"))
	require.ErrorIs(t, err, xenc.ErrMalformedHeader)

	_, _, err = xenc.Decode([]byte("i10"))
	require.ErrorIs(t, err, xenc.ErrMissingTerminator)

	_, _, err = xenc.Decode([]byte("5:ab"))
	require.ErrorIs(t, err, xenc.ErrTruncated)

	_, _, err = xenc.Decode([]byte("di5eie"))
	require.ErrorIs(t, err, xenc.ErrNonOctetsKey)

	_, _, err = xenc.Decode([]byte("l1:a"))
	require.ErrorIs(t, err, xenc.ErrMissingTerminator)
}

func TestDictKeyOrderDoesNotAffectEquality(t *testing.T) {
	a := xenc.Dict(map[string]xenc.Value{"a": xenc.Int(1), "b": xenc.Int(2)})
	b := xenc.Dict(map[string]xenc.Value{"b": xenc.Int(2), "a": xenc.Int(1)})

	ma, _ := a.AsDict()
	mb, _ := b.AsDict()
	require.Equal(t, len(ma), len(mb))
	for k, v := range ma {
		ov, ok := mb[k]
		require.True(t, ok)
		vi, _ := v.Int64()
		ovi, _ := ov.Int64()
		require.Equal(t, vi, ovi)
	}
}
