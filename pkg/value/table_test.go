package value

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_SetGet(t *testing.T) {
	tbl := NewTable()
	assert.True(t, tbl.Set("a", Number(1)))
	assert.False(t, tbl.Set("a", Number(2)), "overwrite is not a new entry")

	v, ok := tbl.Get("a")
	require.True(t, ok)
	assert.Equal(t, 2.0, v.AsNumber())

	_, ok = tbl.Get("missing")
	assert.False(t, ok)
}

func TestTable_Delete(t *testing.T) {
	tbl := NewTable()
	tbl.Set("k", Bool(true))
	require.True(t, tbl.Has("k"))

	assert.True(t, tbl.Delete("k"))
	assert.False(t, tbl.Has("k"))
	assert.False(t, tbl.Delete("k"), "double delete")
	assert.Equal(t, 0, tbl.Count())
}

func TestTable_TombstoneKeepsProbeChainReachable(t *testing.T) {
	// Insert enough keys that some collide, delete one in the middle of a
	// probe chain, and verify the keys past it are still reachable.
	tbl := NewTable()
	keys := make([]string, 32)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
		tbl.Set(keys[i], Number(float64(i)))
	}
	for i := 0; i < len(keys); i += 3 {
		tbl.Delete(keys[i])
	}
	for i, k := range keys {
		v, ok := tbl.Get(k)
		if i%3 == 0 {
			assert.False(t, ok, "%s was deleted", k)
		} else {
			require.True(t, ok, "%s must survive neighboring deletes", k)
			assert.Equal(t, float64(i), v.AsNumber())
		}
	}
}

func TestTable_TombstoneSlotReusedOnInsert(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 8; i++ {
		tbl.Set(fmt.Sprintf("k%d", i), Number(float64(i)))
	}
	tbl.Delete("k3")
	tbl.Set("k3", Number(99))

	v, ok := tbl.Get("k3")
	require.True(t, ok)
	assert.Equal(t, 99.0, v.AsNumber())
}

func TestTable_GrowthUnderChurn(t *testing.T) {
	// count includes tombstones, so repeated insert/delete of the same key
	// must not lose entries or corrupt probing.
	tbl := NewTable()
	for i := 0; i < 1000; i++ {
		k := fmt.Sprintf("churn-%d", i%10)
		tbl.Set(k, Number(float64(i)))
		if i%2 == 1 {
			tbl.Delete(k)
		}
	}
	live := tbl.Count()
	assert.Equal(t, 5, live)
}

func TestTable_Each(t *testing.T) {
	tbl := NewTable()
	for i := 0; i < 5; i++ {
		tbl.Set(fmt.Sprintf("e%d", i), Number(float64(i)))
	}
	tbl.Delete("e2")

	seen := map[string]bool{}
	tbl.Each(func(k string, _ Value) bool {
		seen[k] = true
		return true
	})
	assert.Len(t, seen, 4)
	assert.False(t, seen["e2"])

	count := 0
	tbl.Each(func(string, Value) bool {
		count++
		return false // early stop
	})
	assert.Equal(t, 1, count)
}

func TestTable_ManyKeys(t *testing.T) {
	tbl := NewTable()
	const n = 4096
	for i := 0; i < n; i++ {
		tbl.Set(fmt.Sprintf("key-%d", i), Number(float64(i)))
	}
	assert.Equal(t, n, tbl.Count())
	for i := 0; i < n; i++ {
		v, ok := tbl.Get(fmt.Sprintf("key-%d", i))
		require.True(t, ok)
		require.Equal(t, float64(i), v.AsNumber())
	}
}
