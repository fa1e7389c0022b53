package pipeline

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/strrl/sensor-chat/internal/intent"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Turn struct {
	Role        string         `json:"role"`
	Text        string         `json:"text"`
	Intent      *intent.Intent `json:"intent,omitempty"`
	ArtifactIDs []string       `json:"artifact_ids,omitempty"`
	At          time.Time      `json:"at"`
}

// Session is one conversation. Handle holds run for the whole pipeline so a
// session processes one message at a time; the log has its own lock so it can
// be read while a message is in flight.
type Session struct {
	ID        string
	CreatedAt time.Time

	run sync.Mutex

	mu     sync.RWMutex
	turns  []Turn
	last   *intent.Intent
	active time.Time
}

func NewSession() *Session {
	now := time.Now()
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: now,
		active:    now,
	}
}

func (s *Session) append(t Turn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns = append(s.turns, t)
	if t.At.After(s.active) {
		s.active = t.At
	}
}

// LastActive is the time of the latest turn, or the creation time.
func (s *Session) LastActive() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.active
}

func (s *Session) Turns() []Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Turn(nil), s.turns...)
}

// ArtifactIDs lists every artifact referenced by the conversation, oldest
// first.
func (s *Session) ArtifactIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []string
	for _, t := range s.turns {
		ids = append(ids, t.ArtifactIDs...)
	}
	return ids
}

func (s *Session) previousIntent() *intent.Intent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return nil
	}
	prev := *s.last
	return &prev
}

func (s *Session) setIntent(in intent.Intent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last = &in
}

// history renders the last n turns for the LLM prompt.
func (s *Session) history(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.turns) - n
	if start < 0 {
		start = 0
	}
	var lines []string
	for _, t := range s.turns[start:] {
		role := "usuario"
		if t.Role == RoleAssistant {
			role = "asistente"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, t.Text))
	}
	return lines
}

const (
	DefaultSessionIdleTTL = 2 * time.Hour
	DefaultMaxSessions    = 1000
)

// SessionsConfig bounds a Sessions set. Sessions idle longer than IdleTTL are
// dropped; past MaxSessions the least recently active one is dropped.
type SessionsConfig struct {
	IdleTTL     time.Duration
	MaxSessions int
}

// Sessions is the set of live conversations of a serve process.
type Sessions struct {
	mu    sync.RWMutex
	items map[string]*Session
	ttl   time.Duration
	max   int
	now   func() time.Time
}

func NewSessions() *Sessions {
	return NewSessionsWithConfig(SessionsConfig{})
}

func NewSessionsWithConfig(cfg SessionsConfig) *Sessions {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultSessionIdleTTL
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultMaxSessions
	}
	return &Sessions{
		items: make(map[string]*Session),
		ttl:   cfg.IdleTTL,
		max:   cfg.MaxSessions,
		now:   time.Now,
	}
}

func (s *Sessions) Create() *Session {
	sess := NewSession()
	now := s.now()
	sess.active = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sweep(now)
	s.items[sess.ID] = sess
	return sess
}

// sweep drops idle sessions and makes room for one more. Callers hold the
// write lock.
func (s *Sessions) sweep(now time.Time) {
	for id, sess := range s.items {
		if s.idle(sess, now) {
			delete(s.items, id)
		}
	}
	for len(s.items) >= s.max {
		var oldest *Session
		for _, sess := range s.items {
			if oldest == nil || sess.LastActive().Before(oldest.LastActive()) {
				oldest = sess
			}
		}
		delete(s.items, oldest.ID)
	}
}

func (s *Sessions) idle(sess *Session, now time.Time) bool {
	return now.Sub(sess.LastActive()) > s.ttl
}

func (s *Sessions) Get(id string) (*Session, bool) {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.items[id]
	if !ok || s.idle(sess, now) {
		return nil, false
	}
	return sess, true
}

func (s *Sessions) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (s *Sessions) List() []*Session {
	now := s.now()
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*Session, 0, len(s.items))
	for _, sess := range s.items {
		if s.idle(sess, now) {
			continue
		}
		result = append(result, sess)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result
}
