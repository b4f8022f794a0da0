package registry

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ivansantander-hub/docuchat/internal/chunk"
	"github.com/ivansantander-hub/docuchat/internal/errors"
	"github.com/ivansantander-hub/docuchat/internal/store"
)

// File extensions under the stores directory.
const (
	storeExt      = ".store" // gob: descriptor + serialized index, the source of truth
	sidecarExt    = ".json"  // descriptor mirror for cheap listing
	lockFileName  = ".lock"
	tmpFileSuffix = ".tmp"
)

// handle is a resident store: the loaded index plus its descriptor. Access is
// guarded by the registry's keyed lock for the store, not by the handle
// itself, so eviction and reload never change which mutex a key serializes on.
type handle struct {
	index *store.Index
	desc  Descriptor
}

// storeFile is the gob wire form of a persisted store. Descriptor and index
// travel in one file so a reader can never observe one without the other.
type storeFile struct {
	Descriptor Descriptor
	Index      []byte
}

// Registry is the catalog of vector stores. Stores are loaded lazily on
// first access and kept resident in a bounded LRU; every write persists
// synchronously before returning.
type Registry struct {
	dir     string
	logger  *slog.Logger
	dirLock *flock.Flock

	resident *lru.Cache[string, *handle]
	loading  singleflight.Group

	// locks holds one RWMutex per store key. Lock identity outlives
	// residency: a writer that triggers eviction of another store, or whose
	// own store is evicted and reloaded, still contends on the same mutex
	// as every other writer to that key.
	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex

	mu     sync.Mutex
	closed bool

	// mutateHook, when set, runs inside a store's write critical section.
	// Tests use it to observe writer serialization.
	mutateHook func(id string)
}

// New opens the registry rooted at dir, creating it if needed. The directory
// is guarded by a cross-process file lock; a second process gets an error
// instead of silently corrupting shared state.
func New(dir string, maxResident int, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxResident <= 0 {
		maxResident = 16
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to create stores directory", err)
	}

	dirLock := flock.New(filepath.Join(dir, lockFileName))
	locked, err := dirLock.TryLock()
	if err != nil {
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to acquire stores lock", err)
	}
	if !locked {
		return nil, errors.Newf(errors.ErrCodePersistenceFailed,
			"stores directory %s is locked by another process", dir)
	}

	resident, err := lru.NewWithEvict[string, *handle](maxResident, func(id string, _ *handle) {
		// Evicted stores are already durable; the index is simply dropped
		// and reloaded on next access.
		logger.Debug("evicting resident store", slog.String("store", id))
	})
	if err != nil {
		_ = dirLock.Unlock()
		return nil, errors.New(errors.ErrCodeInternal, "failed to create store cache", err)
	}

	return &Registry{
		dir:      dir,
		logger:   logger,
		dirLock:  dirLock,
		resident: resident,
		locks:    make(map[string]*sync.RWMutex),
	}, nil
}

// GetOrCreate returns the descriptor for the keyed store, creating and
// persisting an empty store if it does not exist. dims and model describe
// the embedding space a new store is created for.
func (r *Registry) GetOrCreate(key StoreKey, dims int, model string) (Descriptor, error) {
	if err := key.Validate(); err != nil {
		return Descriptor{}, err
	}

	lock := r.lockFor(key.ID())
	lock.Lock()
	defer lock.Unlock()

	h, err := r.acquire(key)
	if err == nil {
		return h.desc.clone(), nil
	}
	if !errors.HasCode(err, errors.ErrCodeStoreNotFound) {
		return Descriptor{}, err
	}
	if dims <= 0 {
		return Descriptor{}, errors.Newf(errors.ErrCodeInvalidInput,
			"cannot create store %q with dimension %d", key.Name, dims)
	}

	h, err = r.create(key, dims, model)
	if err != nil {
		return Descriptor{}, err
	}
	return h.desc.clone(), nil
}

// Open returns the descriptor of an existing store. It never creates.
func (r *Registry) Open(key StoreKey) (Descriptor, error) {
	if err := key.Validate(); err != nil {
		return Descriptor{}, err
	}

	lock := r.lockFor(key.ID())
	lock.RLock()
	defer lock.RUnlock()

	h, err := r.acquire(key)
	if err != nil {
		return Descriptor{}, err
	}
	return h.desc.clone(), nil
}

// Upsert replaces the chunks of a member document and persists the store
// before returning. A document that was ingested before is replaced whole;
// on any failure the durable state keeps its prior contents.
//
// When the store does not exist yet it is created from the chunks' embedding
// dimension. Upserts to the same store serialize; different stores proceed
// in parallel.
func (r *Registry) Upsert(key StoreKey, document string, chunks []chunk.Chunk, model string) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if document == "" {
		return errors.Newf(errors.ErrCodeInvalidInput, "document name must not be empty")
	}
	if len(chunks) == 0 {
		return errors.Newf(errors.ErrCodeInvalidInput,
			"no chunks to upsert for document %q", document)
	}

	lock := r.lockFor(key.ID())
	lock.Lock()
	defer lock.Unlock()

	h, err := r.acquire(key)
	if errors.HasCode(err, errors.ErrCodeStoreNotFound) {
		h, err = r.create(key, len(chunks[0].Embedding), model)
	}
	if err != nil {
		return err
	}

	if r.mutateHook != nil {
		r.mutateHook(key.ID())
	}

	if dims := h.index.Dimensions(); len(chunks[0].Embedding) != dims {
		return errors.Newf(errors.ErrCodeInvalidInput,
			"store %q expects %d-dimensional embeddings, got %d",
			key.Name, dims, len(chunks[0].Embedding))
	}

	h.index.RemoveDocument(document)
	if err := h.index.Add(chunks); err != nil {
		// The in-memory index lost the old version of the document; drop
		// it so the next access reloads the durable state.
		r.resident.Remove(key.ID())
		return err
	}

	now := time.Now().UTC()
	h.desc.Documents[document] = DocumentInfo{ChunkCount: len(chunks), IngestedAt: now}
	h.desc.UpdatedAt = now

	if err := r.persist(h); err != nil {
		r.resident.Remove(key.ID())
		return err
	}

	r.logger.Info("upserted document",
		slog.String("store", key.ID()),
		slog.String("document", document),
		slog.Int("chunks", len(chunks)))
	return nil
}

// RemoveDocument drops a member document from an existing store and persists
// the change. Removing a document the store does not have is a no-op.
func (r *Registry) RemoveDocument(key StoreKey, document string) error {
	if err := key.Validate(); err != nil {
		return err
	}

	lock := r.lockFor(key.ID())
	lock.Lock()
	defer lock.Unlock()

	h, err := r.acquire(key)
	if err != nil {
		return err
	}

	if h.index.RemoveDocument(document) == 0 {
		return nil
	}
	delete(h.desc.Documents, document)
	h.desc.UpdatedAt = time.Now().UTC()

	if err := r.persist(h); err != nil {
		r.resident.Remove(key.ID())
		return err
	}
	return nil
}

// Search returns up to k nearest chunks to the query from an existing store.
func (r *Registry) Search(key StoreKey, query []float32, k int) ([]store.Result, error) {
	if err := key.Validate(); err != nil {
		return nil, err
	}

	lock := r.lockFor(key.ID())
	lock.RLock()
	defer lock.RUnlock()

	h, err := r.acquire(key)
	if err != nil {
		return nil, err
	}
	return h.index.Search(query, k)
}

// List returns the descriptors of all persisted stores, ordered by scope,
// owner, and name. It reads the JSON sidecars and does not load indexes.
func (r *Registry) List() ([]Descriptor, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to read stores directory", err)
	}

	descs := make([]Descriptor, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, sidecarExt) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, name))
		if err != nil {
			return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to read store descriptor", err)
		}
		var desc Descriptor
		if err := json.Unmarshal(data, &desc); err != nil {
			r.logger.Warn("skipping unreadable store descriptor",
				slog.String("file", name), slog.String("error", err.Error()))
			continue
		}
		descs = append(descs, desc)
	}

	sort.Slice(descs, func(i, j int) bool {
		if descs[i].Scope != descs[j].Scope {
			return descs[i].Scope < descs[j].Scope
		}
		if descs[i].Owner != descs[j].Owner {
			return descs[i].Owner < descs[j].Owner
		}
		return descs[i].Name < descs[j].Name
	})
	return descs, nil
}

// ListFor returns the stores visible to a user: their own plus system stores.
func (r *Registry) ListFor(owner string) ([]Descriptor, error) {
	all, err := r.List()
	if err != nil {
		return nil, err
	}

	visible := make([]Descriptor, 0, len(all))
	for _, desc := range all {
		if desc.Scope == ScopeSystem || desc.Owner == owner {
			visible = append(visible, desc)
		}
	}
	return visible, nil
}

// Delete removes a store and its files. Deleting a missing store returns
// StoreNotFound.
func (r *Registry) Delete(key StoreKey) error {
	if err := key.Validate(); err != nil {
		return err
	}

	id := key.ID()
	lock := r.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	storePath := filepath.Join(r.dir, id+storeExt)
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		return errors.StoreNotFound(string(key.Scope), key.Owner, key.Name)
	}

	r.resident.Remove(id)
	if err := os.Remove(storePath); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to delete store", err)
	}
	if err := os.Remove(filepath.Join(r.dir, id+sidecarExt)); err != nil && !os.IsNotExist(err) {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to delete store descriptor", err)
	}

	r.logger.Info("deleted store", slog.String("store", id))
	return nil
}

// Close releases the cross-process lock. Resident stores are already durable.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.resident.Purge()
	return r.dirLock.Unlock()
}

// lockFor returns the mutex guarding a store key, creating it on first use.
func (r *Registry) lockFor(id string) *sync.RWMutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.RWMutex{}
		r.locks[id] = lock
	}
	return lock
}

// acquire returns the resident handle for the key, loading it from disk on
// first access. Concurrent loads of the same store are deduplicated. The
// caller holds the key's lock, so the handle reflects the latest durable
// state for as long as the lock is held.
func (r *Registry) acquire(key StoreKey) (*handle, error) {
	id := key.ID()
	if h, ok := r.resident.Get(id); ok {
		return h, nil
	}

	v, err, _ := r.loading.Do(id, func() (any, error) {
		if h, ok := r.resident.Get(id); ok {
			return h, nil
		}
		h, err := r.loadFromDisk(key)
		if err != nil {
			return nil, err
		}
		r.resident.Add(id, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*handle), nil
}

// create builds a fresh empty store, persists it, and makes it resident.
// The caller holds the key's write lock.
func (r *Registry) create(key StoreKey, dims int, model string) (*handle, error) {
	id := key.ID()

	now := time.Now().UTC()
	h := &handle{
		index: store.New(dims, store.DefaultOptions()),
		desc: Descriptor{
			Name:           key.Name,
			Scope:          key.Scope,
			Owner:          key.Owner,
			Dimensions:     dims,
			EmbeddingModel: model,
			Documents:      make(map[string]DocumentInfo),
			CreatedAt:      now,
			UpdatedAt:      now,
		},
	}
	if err := r.persist(h); err != nil {
		return nil, err
	}
	r.resident.Add(id, h)
	r.logger.Info("created store", slog.String("store", id), slog.Int("dimensions", dims))
	return h, nil
}

// loadFromDisk reads the store file and rebuilds the index.
func (r *Registry) loadFromDisk(key StoreKey) (*handle, error) {
	path := filepath.Join(r.dir, key.ID()+storeExt)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.StoreNotFound(string(key.Scope), key.Owner, key.Name)
		}
		return nil, errors.New(errors.ErrCodePersistenceFailed, "failed to read store file", err)
	}

	var sf storeFile
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&sf); err != nil {
		return nil, errors.New(errors.ErrCodeCorruptStore, "failed to decode store file", err)
	}

	index, err := store.Import(bytes.NewReader(sf.Index))
	if err != nil {
		return nil, err
	}
	if sf.Descriptor.Documents == nil {
		sf.Descriptor.Documents = make(map[string]DocumentInfo)
	}

	return &handle{index: index, desc: sf.Descriptor}, nil
}

// persist writes the store file and its descriptor sidecar atomically, store
// file first. The caller holds the key's write lock.
func (r *Registry) persist(h *handle) error {
	id := h.desc.Key().ID()

	indexBytes, err := h.index.Bytes()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(storeFile{Descriptor: h.desc, Index: indexBytes}); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to encode store file", err)
	}
	if err := atomicWrite(filepath.Join(r.dir, id+storeExt), buf.Bytes()); err != nil {
		return err
	}

	sidecar, err := json.MarshalIndent(h.desc, "", "  ")
	if err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to encode store descriptor", err)
	}
	return atomicWrite(filepath.Join(r.dir, id+sidecarExt), sidecar)
}

// atomicWrite writes data to path via a temp file and rename.
func atomicWrite(path string, data []byte) error {
	tmp := path + tmpFileSuffix
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.New(errors.ErrCodePersistenceFailed, "failed to write temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.New(errors.ErrCodePersistenceFailed, "failed to replace file", err)
	}
	return nil
}
