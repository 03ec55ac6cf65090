package presence

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"levelverse.io/internal/hooks"
	"levelverse.io/internal/store"
)

// Manager tracks every active session.
type Manager struct {
	resolver Resolver
	hooks    hooks.Dispatcher
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closed   bool
}

func NewManager(resolver Resolver, dispatcher hooks.Dispatcher, logger zerolog.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		hooks:    dispatcher,
		log:      logger.With().Str("component", "presence").Logger(),
		sessions: map[*Session]struct{}{},
	}
}

// Subscribe starts a currentLevel session. It returns a nil session and a
// nil projection when the user is not authenticated.
func (m *Manager) Subscribe(ctx context.Context, userID string, sink Sink) (*Session, store.Doc, error) {
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return nil, nil, nil
	}

	s := NewSession(userID, m.resolver, m.hooks, sink, m.log)
	s.onStop = m.remove

	level, err := s.Start(ctx)
	if err != nil {
		return nil, nil, err
	}
	if s.State() != Active {
		return nil, nil, nil
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.Stop()
		return nil, nil, nil
	}
	m.sessions[s] = struct{}{}
	m.mu.Unlock()
	return s, level, nil
}

func (m *Manager) remove(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, s)
}

func (m *Manager) snapshot() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// LevelChanged pushes the current projection of levelID to every session
// watching it.
func (m *Manager) LevelChanged(ctx context.Context, levelID string) {
	for _, s := range m.snapshot() {
		if s.LevelID() != levelID {
			continue
		}
		if err := s.Refresh(ctx); err != nil {
			m.log.Warn().Err(err).Str("level_id", levelID).Str("user_id", s.UserID()).Msg("presence refresh failed")
		}
	}
}

func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// ActiveByLevel counts active sessions per level id.
func (m *Manager) ActiveByLevel() map[string]int {
	out := map[string]int{}
	for _, s := range m.snapshot() {
		out[s.LevelID()]++
	}
	return out
}

// LevelIDs returns the levels with at least one active session, sorted.
func (m *Manager) LevelIDs() []string {
	counts := m.ActiveByLevel()
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StopAll stops every session, firing their leave hooks, and refuses new
// subscriptions.
func (m *Manager) StopAll() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	sessions := m.snapshot()
	for _, s := range sessions {
		s.Stop()
	}
	m.log.Info().Int("sessions", len(sessions)).Msg("presence: all sessions stopped")
}
