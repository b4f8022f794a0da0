package registry

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivansantander-hub/docuchat/internal/chunk"
	"github.com/ivansantander-hub/docuchat/internal/errors"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := New(t.TempDir(), 4, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

func docChunks(source string, texts []string, vecs [][]float32) []chunk.Chunk {
	chunks := make([]chunk.Chunk, len(texts))
	for i := range texts {
		chunks[i] = chunk.Chunk{Text: texts[i], Source: source, Index: i, Embedding: vecs[i]}
	}
	return chunks
}

func TestStoreKeyValidate(t *testing.T) {
	assert.NoError(t, UserStore("alice", "alice_policy").Validate())
	assert.NoError(t, SystemStore("combined").Validate())

	cases := []StoreKey{
		{Scope: ScopeUser, Owner: "", Name: "x"},
		{Scope: ScopeUser, Owner: "alice", Name: ""},
		{Scope: ScopeUser, Owner: "alice", Name: "../etc"},
		{Scope: ScopeSystem, Owner: "alice", Name: "combined"},
		{Scope: "group", Owner: "alice", Name: "x"},
	}
	for _, key := range cases {
		err := key.Validate()
		require.Error(t, err)
		assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidName))
	}
}

func TestRegistryGetOrCreate(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_policy")

	desc, err := r.GetOrCreate(key, 3, "static-fnv")
	require.NoError(t, err)
	assert.Equal(t, "alice_policy", desc.Name)
	assert.Equal(t, ScopeUser, desc.Scope)
	assert.Equal(t, 3, desc.Dimensions)
	assert.Empty(t, desc.Documents)

	// Second call returns the existing store unchanged, even with other dims.
	again, err := r.GetOrCreate(key, 7, "other-model")
	require.NoError(t, err)
	assert.Equal(t, 3, again.Dimensions)
	assert.Equal(t, "static-fnv", again.EmbeddingModel)
}

func TestRegistryOpenMissing(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Open(UserStore("alice", "nope"))
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStoreNotFound))
}

func TestRegistryUpsertAndSearch(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_policy")

	err := r.Upsert(key, "policy.txt", docChunks("policy.txt",
		[]string{"badge in by 9am", "remote fridays"},
		[][]float32{{1, 0, 0}, {0, 1, 0}}), "static-fnv")
	require.NoError(t, err)

	results, err := r.Search(key, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "badge in by 9am", results[0].Chunk.Text)

	desc, err := r.Open(key)
	require.NoError(t, err)
	assert.Equal(t, 2, desc.Documents["policy.txt"].ChunkCount)
}

func TestRegistryUpsertReplacesDocument(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_policy")

	require.NoError(t, r.Upsert(key, "policy.txt", docChunks("policy.txt",
		[]string{"old rule one", "old rule two", "old rule three"},
		[][]float32{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}}), "static-fnv"))

	require.NoError(t, r.Upsert(key, "policy.txt", docChunks("policy.txt",
		[]string{"new rule"},
		[][]float32{{1, 0, 0}}), "static-fnv"))

	desc, err := r.Open(key)
	require.NoError(t, err)
	assert.Equal(t, 1, desc.Documents["policy.txt"].ChunkCount)
	assert.Equal(t, 1, desc.ChunkCount())

	// No trace of the old version in search results.
	results, err := r.Search(key, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "new rule", results[0].Chunk.Text)
}

func TestRegistryUpsertDimensionMismatch(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_policy")

	require.NoError(t, r.Upsert(key, "a.txt", docChunks("a.txt",
		[]string{"x"}, [][]float32{{1, 0, 0}}), "static-fnv"))

	err := r.Upsert(key, "b.txt", docChunks("b.txt",
		[]string{"y"}, [][]float32{{1, 0}}), "static-fnv")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeInvalidInput))
}

func TestRegistryRemoveDocument(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_combined")

	require.NoError(t, r.Upsert(key, "a.txt", docChunks("a.txt",
		[]string{"a"}, [][]float32{{1, 0, 0}}), "static-fnv"))
	require.NoError(t, r.Upsert(key, "b.txt", docChunks("b.txt",
		[]string{"b"}, [][]float32{{0, 1, 0}}), "static-fnv"))

	require.NoError(t, r.RemoveDocument(key, "a.txt"))

	desc, err := r.Open(key)
	require.NoError(t, err)
	assert.NotContains(t, desc.Documents, "a.txt")
	assert.Contains(t, desc.Documents, "b.txt")

	// Removing an absent document is a no-op.
	require.NoError(t, r.RemoveDocument(key, "a.txt"))
}

func TestRegistryPersistenceAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	r, err := New(dir, 4, testLogger())
	require.NoError(t, err)
	key := UserStore("alice", "alice_policy")
	require.NoError(t, r.Upsert(key, "policy.txt", docChunks("policy.txt",
		[]string{"badge in by 9am"}, [][]float32{{1, 0, 0}}), "static-fnv"))
	require.NoError(t, r.Close())

	reopened, err := New(dir, 4, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	desc, err := reopened.Open(key)
	require.NoError(t, err)
	assert.Equal(t, 1, desc.Documents["policy.txt"].ChunkCount)

	results, err := reopened.Search(key, []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "badge in by 9am", results[0].Chunk.Text)
}

func TestRegistryDirectoryLock(t *testing.T) {
	dir := t.TempDir()

	r, err := New(dir, 4, testLogger())
	require.NoError(t, err)
	defer r.Close()

	_, err = New(dir, 4, testLogger())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodePersistenceFailed))
}

func TestRegistryListAndListFor(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.GetOrCreate(UserStore("alice", "alice_policy"), 3, "static-fnv")
	require.NoError(t, err)
	_, err = r.GetOrCreate(UserStore("bob", "bob_notes"), 3, "static-fnv")
	require.NoError(t, err)
	_, err = r.GetOrCreate(SystemStore("combined"), 3, "static-fnv")
	require.NoError(t, err)

	all, err := r.List()
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Sorted by scope, then owner, then name.
	assert.Equal(t, "combined", all[0].Name)
	assert.Equal(t, "alice_policy", all[1].Name)
	assert.Equal(t, "bob_notes", all[2].Name)

	mine, err := r.ListFor("alice")
	require.NoError(t, err)
	require.Len(t, mine, 2)
	assert.Equal(t, "combined", mine[0].Name)
	assert.Equal(t, "alice_policy", mine[1].Name)
}

func TestRegistryDelete(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_policy")

	require.NoError(t, r.Upsert(key, "a.txt", docChunks("a.txt",
		[]string{"a"}, [][]float32{{1, 0, 0}}), "static-fnv"))
	require.NoError(t, r.Delete(key))

	_, err := r.Open(key)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStoreNotFound))

	err = r.Delete(key)
	assert.True(t, errors.HasCode(err, errors.ErrCodeStoreNotFound))
}

func TestRegistryConcurrentUpserts(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_combined")

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := fmt.Sprintf("doc%d.txt", i)
			errs[i] = r.Upsert(key, doc, docChunks(doc,
				[]string{"text"}, [][]float32{{1, 0, 0}}), "static-fnv")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}

	desc, err := r.Open(key)
	require.NoError(t, err)
	assert.Len(t, desc.Documents, workers)
	assert.Equal(t, workers, desc.ChunkCount())
}

func TestRegistrySameKeyWritersSerialize(t *testing.T) {
	r := newTestRegistry(t)
	key := UserStore("alice", "alice_combined")

	var inFlight atomic.Int32
	var overlapped atomic.Bool
	r.mutateHook = func(string) {
		if inFlight.Add(1) > 1 {
			overlapped.Store(true)
		}
		time.Sleep(time.Millisecond)
		inFlight.Add(-1)
	}

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc := fmt.Sprintf("doc%d.txt", i)
			errs[i] = r.Upsert(key, doc, docChunks(doc,
				[]string{"text"}, [][]float32{{1, 0, 0}}), "static-fnv")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "worker %d", i)
	}
	assert.False(t, overlapped.Load(), "saw more than one in-flight writer for one store")
}

func TestRegistryDifferentKeysWriteInParallel(t *testing.T) {
	r := newTestRegistry(t)
	keyA := UserStore("alice", "alice_a")
	keyB := UserStore("bob", "bob_b")

	entered := make(chan string, 2)
	release := make(chan struct{})
	r.mutateHook = func(id string) {
		entered <- id
		<-release
	}

	var wg sync.WaitGroup
	for _, key := range []StoreKey{keyA, keyB} {
		wg.Add(1)
		go func(key StoreKey) {
			defer wg.Done()
			_ = r.Upsert(key, "doc.txt", docChunks("doc.txt",
				[]string{"text"}, [][]float32{{1, 0, 0}}), "static-fnv")
		}(key)
	}

	// Both writers must reach their critical sections while the other is
	// still inside its own.
	seen := make(map[string]bool)
	for i := 0; i < 2; i++ {
		select {
		case id := <-entered:
			seen[id] = true
		case <-time.After(3 * time.Second):
			t.Fatal("writers to different stores blocked each other")
		}
	}
	close(release)
	wg.Wait()

	assert.True(t, seen[keyA.ID()])
	assert.True(t, seen[keyB.ID()])
}

func TestRegistryLockIdentitySurvivesEviction(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, 1, testLogger())
	require.NoError(t, err)
	defer r.Close()

	keyA := UserStore("alice", "alice_a")
	keyB := UserStore("bob", "bob_b")
	require.NoError(t, r.Upsert(keyA, "seed.txt", docChunks("seed.txt",
		[]string{"seed"}, [][]float32{{1, 0, 0}}), "static-fnv"))

	// Capacity one: touching another store evicts A's handle. Writers to A
	// must still serialize on the same mutex afterwards.
	lockBefore := r.lockFor(keyA.ID())
	require.NoError(t, r.Upsert(keyB, "evictor.txt", docChunks("evictor.txt",
		[]string{"evictor"}, [][]float32{{1, 0, 0}}), "static-fnv"))
	assert.Same(t, lockBefore, r.lockFor(keyA.ID()))
}

func TestRegistryConcurrentUpsertsAcrossEviction(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, 1, testLogger())
	require.NoError(t, err)

	keyA := UserStore("alice", "alice_a")
	keyB := UserStore("bob", "bob_b")
	require.NoError(t, r.Upsert(keyA, "seed.txt", docChunks("seed.txt",
		[]string{"seed"}, [][]float32{{1, 0, 0}}), "static-fnv"))

	// With capacity one, every upsert to the other store forces an eviction,
	// so writers keep loading fresh handles. No acknowledged write may be
	// lost in the churn.
	const workers = 8
	var wg sync.WaitGroup
	upsertErrs := make([]error, 2*workers)
	for i := 0; i < workers; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			doc := fmt.Sprintf("doc%d.txt", i)
			upsertErrs[2*i] = r.Upsert(keyA, doc, docChunks(doc,
				[]string{"a"}, [][]float32{{1, 0, 0}}), "static-fnv")
		}(i)
		go func(i int) {
			defer wg.Done()
			doc := fmt.Sprintf("doc%d.txt", i)
			upsertErrs[2*i+1] = r.Upsert(keyB, doc, docChunks(doc,
				[]string{"b"}, [][]float32{{1, 0, 0}}), "static-fnv")
		}(i)
	}
	wg.Wait()
	for i, err := range upsertErrs {
		require.NoError(t, err, "upsert %d", i)
	}
	require.NoError(t, r.Close())

	reopened, err := New(dir, 4, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	descA, err := reopened.Open(keyA)
	require.NoError(t, err)
	assert.Len(t, descA.Documents, workers+1)
	assert.Contains(t, descA.Documents, "seed.txt")

	descB, err := reopened.Open(keyB)
	require.NoError(t, err)
	assert.Len(t, descB.Documents, workers)
}

func TestRegistryIgnoresLeftoverTmpFiles(t *testing.T) {
	dir := t.TempDir()
	key := UserStore("alice", "alice_policy")

	r, err := New(dir, 4, testLogger())
	require.NoError(t, err)
	require.NoError(t, r.Upsert(key, "policy.txt", docChunks("policy.txt",
		[]string{"badge in by 9am"}, [][]float32{{1, 0, 0}}), "static-fnv"))
	require.NoError(t, r.Close())

	// Simulate a crash mid-replace: partially written temp files next to
	// the real ones.
	id := key.ID()
	storeTmp := filepath.Join(dir, id+storeExt+tmpFileSuffix)
	sidecarTmp := filepath.Join(dir, id+sidecarExt+tmpFileSuffix)
	require.NoError(t, os.WriteFile(storeTmp, []byte("partial"), 0o644))
	require.NoError(t, os.WriteFile(sidecarTmp, []byte("{"), 0o644))

	reopened, err := New(dir, 4, testLogger())
	require.NoError(t, err)
	defer reopened.Close()

	desc, err := reopened.Open(key)
	require.NoError(t, err)
	assert.Equal(t, 1, desc.Documents["policy.txt"].ChunkCount)

	all, err := reopened.List()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// The next persist replaces the leftovers.
	require.NoError(t, reopened.Upsert(key, "notes.txt", docChunks("notes.txt",
		[]string{"remote fridays"}, [][]float32{{0, 1, 0}}), "static-fnv"))
	_, err = os.Stat(storeTmp)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(sidecarTmp)
	assert.True(t, os.IsNotExist(err))
}

func TestRegistryLRUEvictionReloads(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, 2, testLogger())
	require.NoError(t, err)
	defer r.Close()

	// Three stores with capacity two forces an eviction.
	for i := 0; i < 3; i++ {
		name := fmt.Sprintf("alice_doc%d", i)
		require.NoError(t, r.Upsert(UserStore("alice", name), "doc.txt", docChunks("doc.txt",
			[]string{fmt.Sprintf("text %d", i)}, [][]float32{{1, 0, 0}}), "static-fnv"))
	}

	// The evicted store reloads transparently from disk.
	results, err := r.Search(UserStore("alice", "alice_doc0"), []float32{1, 0, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "text 0", results[0].Chunk.Text)
}
