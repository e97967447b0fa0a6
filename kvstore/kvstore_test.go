package kvstore

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T, opts Options) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "kv.db"), opts)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSetGetDelete(t *testing.T) {
	store := openTestStore(t, Options{})

	_, found, err := store.Get("job_a", "cursor")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.Set("job_a", "cursor", "2025-03-14"))

	value, found, err := store.Get("job_a", "cursor")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "2025-03-14", value)

	// Overwrite
	require.NoError(t, store.Set("job_a", "cursor", "2025-03-15"))
	value, _, err = store.Get("job_a", "cursor")
	require.NoError(t, err)
	assert.Equal(t, "2025-03-15", value)

	require.NoError(t, store.Delete("job_a", "cursor"))
	_, found, err = store.Get("job_a", "cursor")
	require.NoError(t, err)
	assert.False(t, found)

	// Deleting again is fine
	require.NoError(t, store.Delete("job_a", "cursor"))
}

func TestNamespaceIsolation(t *testing.T) {
	store := openTestStore(t, Options{})

	require.NoError(t, store.Set("job_a", "k", "from a"))
	require.NoError(t, store.Set("job_b", "k", "from b"))

	va, _, err := store.Get("job_a", "k")
	require.NoError(t, err)
	vb, _, err := store.Get("job_b", "k")
	require.NoError(t, err)
	assert.Equal(t, "from a", va)
	assert.Equal(t, "from b", vb)
}

func TestKeyCountBound(t *testing.T) {
	store := openTestStore(t, Options{MaxKeysPerJob: 3})

	for i := 0; i < 3; i++ {
		require.NoError(t, store.Set("job_a", fmt.Sprintf("k%d", i), "v"))
	}

	err := store.Set("job_a", "k3", "v")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit is 3")

	// Overwriting an existing key is still allowed at the cap
	assert.NoError(t, store.Set("job_a", "k0", "updated"))

	// Other jobs are unaffected
	assert.NoError(t, store.Set("job_b", "k0", "v"))

	count, err := store.Count("job_a")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestValueSizeBound(t *testing.T) {
	store := openTestStore(t, Options{MaxValueBytes: 10})

	assert.NoError(t, store.Set("job_a", "small", "ten chars!"))

	err := store.Set("job_a", "big", strings.Repeat("x", 11))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "limit is 10")
}

func TestDeleteJobClearsNamespace(t *testing.T) {
	store := openTestStore(t, Options{})

	require.NoError(t, store.Set("job_a", "k1", "v"))
	require.NoError(t, store.Set("job_a", "k2", "v"))
	require.NoError(t, store.Set("job_b", "k1", "v"))

	require.NoError(t, store.DeleteJob("job_a"))

	count, err := store.Count("job_a")
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	count, err = store.Count("job_b")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
