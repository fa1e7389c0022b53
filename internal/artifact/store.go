package artifact

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("artifact not found")

type Kind string

const (
	KindChart  Kind = "chart"
	KindReport Kind = "report"
)

// Artifact is a downloadable file produced during a session. Its ID is
// assigned once and never depends on the conversation position.
type Artifact struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Filename  string    `json:"filename"`
	MIMEType  string    `json:"mime_type"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
	SessionID string    `json:"session_id,omitempty"`
}

func (a *Artifact) Size() int {
	return len(a.Data)
}

type Store interface {
	Put(ctx context.Context, a *Artifact) (string, error)
	Get(ctx context.Context, id string) (*Artifact, error)
	List(ctx context.Context, sessionID string) ([]*Artifact, error)
}

// prepare fills ID and CreatedAt and copies the payload so later mutation
// by the caller cannot change what is served.
func prepare(a *Artifact, now time.Time) *Artifact {
	stored := *a
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.Data = append([]byte(nil), a.Data...)
	return &stored
}

func sortByCreated(items []*Artifact) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}

const (
	DefaultMemoryTTL      = 24 * time.Hour
	DefaultMemoryMaxItems = 500
)

// MemoryConfig bounds a MemoryStore. Entries expire TTL after they were
// stored; past MaxItems the oldest entries are evicted.
type MemoryConfig struct {
	TTL      time.Duration
	MaxItems int
}

type memoryEntry struct {
	artifact *Artifact
	storedAt time.Time
}

type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryEntry
	// order holds ids oldest first.
	order []string
	ttl   time.Duration
	max   int
	now   func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return NewMemoryStoreWithConfig(MemoryConfig{})
}

func NewMemoryStoreWithConfig(cfg MemoryConfig) *MemoryStore {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultMemoryTTL
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMemoryMaxItems
	}
	return &MemoryStore{
		items: make(map[string]memoryEntry),
		ttl:   cfg.TTL,
		max:   cfg.MaxItems,
		now:   time.Now,
	}
}

func (s *MemoryStore) Put(_ context.Context, a *Artifact) (string, error) {
	now := s.now()
	stored := prepare(a, now)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[stored.ID]; ok {
		s.forget(stored.ID)
	}
	s.items[stored.ID] = memoryEntry{artifact: stored, storedAt: now}
	s.order = append(s.order, stored.ID)
	s.sweep(now)
	return stored.ID, nil
}

// sweep drops expired entries, then the oldest ones beyond the cap. Callers
// hold the write lock.
func (s *MemoryStore) sweep(now time.Time) {
	drop := 0
	for drop < len(s.order) {
		id := s.order[drop]
		if !s.expired(s.items[id], now) && len(s.order)-drop <= s.max {
			break
		}
		delete(s.items, id)
		drop++
	}
	s.order = s.order[drop:]
}

func (s *MemoryStore) forget(id string) {
	delete(s.items, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

func (s *MemoryStore) expired(e memoryEntry, now time.Time) bool {
	return now.Sub(e.storedAt) > s.ttl
}

// Len reports how many entries are held, expired ones included until the next
// Put sweeps them.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Artifact, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.items[id]
	if !ok || s.expired(e, now) {
		return nil, ErrNotFound
	}
	out := *e.artifact
	out.Data = append([]byte(nil), e.artifact.Data...)
	return &out, nil
}

// List returns the artifacts of a session, oldest first. An empty sessionID
// lists everything.
func (s *MemoryStore) List(_ context.Context, sessionID string) ([]*Artifact, error) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Artifact
	for _, e := range s.items {
		if s.expired(e, now) {
			continue
		}
		if sessionID != "" && e.artifact.SessionID != sessionID {
			continue
		}
		meta := *e.artifact
		meta.Data = nil
		result = append(result, &meta)
	}
	sortByCreated(result)
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
