package table_test

import (
	"testing"

	"github.com/oxenmesh/oxen/pkg/table"
	"github.com/stretchr/testify/require"
)

func TestGetMissing(t *testing.T) {
	tb := table.New[string, int]()
	_, ok := tb.Get("a", "b")
	require.False(t, ok)
}

func TestPutGet(t *testing.T) {
	tb := table.New[string, int]()
	tb.Put("a", "b", 7)
	v, ok := tb.Get("a", "b")
	require.True(t, ok)
	require.Equal(t, 7, v)

	_, ok = tb.Get("b", "a")
	require.False(t, ok)
}

func TestRowAndPutRow(t *testing.T) {
	tb := table.New[string, int]()
	tb.Put("a", "b", 1)
	tb.Put("a", "c", 2)

	row := tb.Row("a")
	require.Equal(t, map[string]int{"b": 1, "c": 2}, row)

	// Mutating the returned row must not affect the table.
	row["b"] = 99
	v, _ := tb.Get("a", "b")
	require.Equal(t, 1, v)

	tb.PutRow("a", map[string]int{"x": 10})
	_, ok := tb.Get("a", "b")
	require.False(t, ok)
	v, ok = tb.Get("a", "x")
	require.True(t, ok)
	require.Equal(t, 10, v)
}

func TestKeys(t *testing.T) {
	tb := table.New[string, int]()
	tb.Put("a", "x", 1)
	tb.Put("b", "y", 2)
	require.ElementsMatch(t, []string{"a", "b"}, tb.Keys())
}
