// Package memstore is an in-memory, content-addressed implementation of
// store.Store (spec.md §4.A, §4.G "Reference store implementation"). It
// backs every other package's tests and doubles as a runnable example.
//
// Grounded on the shape of the teacher's modules/zeta/backend/odb.go object
// backend, simplified to a map since this engine owns no on-disk format.
package memstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/dgraph-io/ristretto/v2"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/antgroup/mergevcs/object"
	"github.com/antgroup/mergevcs/store"
	"github.com/antgroup/mergevcs/vcsid"
)

// compressionThreshold is the blob size above which content is zstd
// compressed before being held in memory, matching the teacher's practice
// of compressing large blobs in its on-disk backend
// (modules/zeta/backend/odb.go).
const compressionThreshold = 256

// Store is a goroutine-safe, map-backed store.Store.
type Store struct {
	mu        sync.RWMutex
	commits   map[vcsid.CommitId]*object.Commit
	trees     map[vcsid.TreeId]*object.Tree
	blobs     map[vcsid.FileId][]byte
	conflicts map[vcsid.ConflictId][]object.TreeValue
	emptyTree vcsid.TreeId

	cache       *ristretto.Cache[string, []byte]
	concurrency int
	log         *logrus.Entry
}

// Option configures a Store at construction time.
type Option func(*Store)

// WithConcurrency sets the value returned by Concurrency(); the async diff
// uses this to size its in-flight window (spec.md §4.C).
func WithConcurrency(n int) Option {
	return func(s *Store) { s.concurrency = n }
}

// New builds an empty Store containing only the well-known empty tree.
func New(opts ...Option) *Store {
	empty := object.NewTree(nil)
	s := &Store{
		commits:     make(map[vcsid.CommitId]*object.Commit),
		trees:       map[vcsid.TreeId]*object.Tree{empty.ID(): empty},
		blobs:       make(map[vcsid.FileId][]byte),
		conflicts:   make(map[vcsid.ConflictId][]object.TreeValue),
		emptyTree:   empty.ID(),
		concurrency: 8,
		log:         logrus.WithField("component", "memstore"),
	}
	for _, o := range opts {
		o(s)
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	cache, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 1e4,
		MaxCost:     1 << 20,
		BufferItems: 64,
	})
	if err == nil {
		s.cache = cache
	} else {
		s.log.WithError(err).Warn("blob read cache unavailable, continuing without it")
	}
	return s
}

var _ store.Store = (*Store)(nil)

func (s *Store) GetCommit(_ context.Context, id vcsid.CommitId) (*object.Commit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.commits[id]
	if !ok {
		return nil, store.NewBackendError(store.ReadObject, "", fmt.Errorf("commit %s not found", id))
	}
	return c, nil
}

// PutCommit stores a commit; memstore has no write-path typed errors since
// it never fails except on nil input.
func (s *Store) PutCommit(c *object.Commit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits[c.CommitID] = c
}

func (s *Store) GetTree(_ context.Context, path string, id vcsid.TreeId) (*object.Tree, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.trees[id]
	if !ok {
		return nil, store.NewBackendError(store.ReadObject, path, fmt.Errorf("tree %s not found", id))
	}
	return t, nil
}

func (s *Store) GetTreeAsync(ctx context.Context, path string, id vcsid.TreeId) (func() (*object.Tree, error), error) {
	// memstore's reads never actually block; the resolver is still
	// deferred to a closure so callers exercise the same async contract
	// real backends (network, disk) would require.
	return func() (*object.Tree, error) {
		return s.GetTree(ctx, path, id)
	}, nil
}

func (s *Store) ReadFile(_ context.Context, path string, id vcsid.FileId) (store.ByteStream, error) {
	if cached, ok := s.cacheGet(id); ok {
		return io.NopCloser(bytes.NewReader(cached)), nil
	}
	s.mu.RLock()
	raw, ok := s.blobs[id]
	s.mu.RUnlock()
	if !ok {
		return nil, store.NewBackendError(store.ReadObject, path, fmt.Errorf("blob %s not found", id))
	}
	content, err := s.decompress(raw)
	if err != nil {
		return nil, store.NewBackendError(store.InvalidObject, path, err)
	}
	s.cachePut(id, content)
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *Store) WriteFile(_ context.Context, path string, r io.Reader) (vcsid.FileId, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return vcsid.FileId{}, store.NewBackendError(store.Io, path, err)
	}
	id := vcsid.NewFileId(content)
	raw, err := s.compress(content)
	if err != nil {
		return vcsid.FileId{}, store.NewBackendError(store.WriteObject, path, err)
	}
	s.mu.Lock()
	s.blobs[id] = raw
	s.mu.Unlock()
	s.cachePut(id, content)
	return id, nil
}

func (s *Store) ReadConflict(_ context.Context, path string, id vcsid.ConflictId) ([]object.TreeValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	values, ok := s.conflicts[id]
	if !ok {
		return nil, store.NewBackendError(store.ReadObject, path, fmt.Errorf("conflict %s not found", id))
	}
	return values, nil
}

func (s *Store) WriteConflict(_ context.Context, _ string, values []object.TreeValue) (vcsid.ConflictId, error) {
	var buf bytes.Buffer
	for _, v := range values {
		fmt.Fprintf(&buf, "%d:%s|", v.Kind, v.FileID)
	}
	id := vcsid.NewConflictId(buf.Bytes())
	s.mu.Lock()
	s.conflicts[id] = values
	s.mu.Unlock()
	return id, nil
}

func (s *Store) WriteTree(_ context.Context, _ string, tree *object.Tree) (vcsid.TreeId, error) {
	s.mu.Lock()
	s.trees[tree.ID()] = tree
	s.mu.Unlock()
	return tree.ID(), nil
}

func (s *Store) EmptyTreeID() vcsid.TreeId { return s.emptyTree }

func (s *Store) Concurrency() int { return s.concurrency }

func (s *Store) cacheGet(id vcsid.FileId) ([]byte, bool) {
	if s.cache == nil {
		return nil, false
	}
	return s.cache.Get(id.String())
}

func (s *Store) cachePut(id vcsid.FileId, content []byte) {
	if s.cache == nil {
		return
	}
	s.cache.Set(id.String(), content, int64(len(content)))
}

func (s *Store) compress(content []byte) ([]byte, error) {
	if len(content) < compressionThreshold {
		return append([]byte{0}, content...), nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	compressed := enc.EncodeAll(content, make([]byte, 0, len(content)))
	return append([]byte{1}, compressed...), nil
}

func (s *Store) decompress(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty blob record")
	}
	flag, body := raw[0], raw[1:]
	if flag == 0 {
		return body, nil
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(body, nil)
}
