// Package presence binds a user's live view to the level they occupy and
// fires the enter/leave hooks exactly once per subscription.
package presence

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"levelverse.io/internal/hooks"
	"levelverse.io/internal/levels"
	"levelverse.io/internal/store"
)

type State int

const (
	Inactive State = iota
	Active
	Stopped
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Resolver finds the level a user occupies. *levels.Service implements it.
type Resolver interface {
	CurrentLevel(ctx context.Context, userID string) (levels.CurrentView, error)
	// Projection is what subscribers see of a level.
	Projection(ctx context.Context, levelID string) (store.Doc, error)
	// LevelDoc is the whole level document handed to hooks.
	LevelDoc(ctx context.Context, levelID string) (store.Doc, error)
}

// Update is pushed to a session's sink when its level changes.
type Update struct {
	LevelID string
	// Fields is the new projection; nil when Removed.
	Fields  store.Doc
	Removed bool
}

type Sink func(Update)

// Session is one currentLevel subscription. Hook handlers must not call back
// into the session that fired them.
type Session struct {
	userID   string
	resolver Resolver
	hooks    hooks.Dispatcher
	sink     Sink
	log      zerolog.Logger
	onStop   func(*Session)

	mu      sync.Mutex
	state   State
	levelID string
	meta    hooks.Meta
	level   store.Doc
	// full is the level document as of Start.
	full store.Doc

	// refreshMu keeps pushes in fetch order without holding mu.
	refreshMu sync.Mutex
}

func NewSession(userID string, resolver Resolver, dispatcher hooks.Dispatcher, sink Sink, logger zerolog.Logger) *Session {
	if dispatcher == nil {
		dispatcher = hooks.Nop{}
	}
	return &Session{
		userID:   userID,
		resolver: resolver,
		hooks:    dispatcher,
		sink:     sink,
		log:      logger,
	}
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) LevelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.levelID
}

// Start resolves the user's level, fires userEnteredLevel and returns the
// level projection. An unauthenticated or unknown user gets (nil, nil) and
// the session ends without firing anything. Calling Start again is a no-op.
func (s *Session) Start(ctx context.Context) (store.Doc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Inactive {
		return s.level.Clone(), nil
	}
	if s.userID == "" {
		s.state = Stopped
		return nil, nil
	}

	view, err := s.resolver.CurrentLevel(ctx, s.userID)
	if levels.CodeOf(err) == levels.CodeMissingUser {
		s.state = Stopped
		return nil, nil
	}
	if err != nil {
		s.state = Stopped
		return nil, err
	}

	full, err := s.resolver.LevelDoc(ctx, view.LevelID)
	if err != nil {
		s.state = Stopped
		return nil, err
	}

	s.levelID = view.LevelID
	s.meta = hooks.Meta{Name: view.UserName}
	s.level = view.Level
	s.full = full
	s.state = Active

	s.hooks.CallHooks(ctx, s.hookDoc(full), hooks.UserEnteredLevel, hooks.Activity{UserID: s.userID, Meta: s.meta})
	s.log.Debug().Str("user_id", s.userID).Str("level_id", s.levelID).Msg("presence: entered")
	return s.level.Clone(), nil
}

// Stop ends the subscription. userLeavedLevel fires only when the session
// was active; every later call is a no-op.
func (s *Session) Stop() {
	s.mu.Lock()
	prev := s.state
	s.state = Stopped
	if prev != Active {
		s.mu.Unlock()
		return
	}

	ctx := context.Background()
	level, err := s.resolver.LevelDoc(ctx, s.levelID)
	if err != nil {
		s.log.Warn().Err(err).Str("level_id", s.levelID).Msg("presence: reload level for leave")
		level = s.full
	}
	s.hooks.CallHooks(ctx, s.hookDoc(level), hooks.UserLeavedLevel, hooks.Activity{UserID: s.userID, Meta: s.meta})
	s.log.Debug().Str("user_id", s.userID).Str("level_id", s.levelID).Msg("presence: left")
	onStop := s.onStop
	s.mu.Unlock()

	if onStop != nil {
		onStop(s)
	}
}

// Refresh re-reads the level and pushes it to the sink. The sink runs
// without the session lock held.
func (s *Session) Refresh(ctx context.Context) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return nil
	}
	levelID := s.levelID
	s.mu.Unlock()

	fresh, err := s.resolver.Projection(ctx, levelID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != Active {
		s.mu.Unlock()
		return nil
	}
	s.level = fresh
	s.mu.Unlock()

	if s.sink == nil {
		return nil
	}
	if fresh == nil {
		s.sink(Update{LevelID: levelID, Removed: true})
		return nil
	}
	s.sink(Update{LevelID: levelID, Fields: fresh.Clone()})
	return nil
}

// hookDoc guarantees hooks always see the level id, even for a level that
// no longer exists.
func (s *Session) hookDoc(level store.Doc) store.Doc {
	if level == nil {
		return store.Doc{store.IDField: s.levelID}
	}
	return level.Clone()
}
