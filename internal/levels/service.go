// Package levels owns the level lifecycle: creation from scratch or from a
// template, cascading teardown, editor permissions, level settings, visit
// counting and the level listings published to clients.
package levels

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"levelverse.io/internal/analytics"
	"levelverse.io/internal/store"
)

// DefaultSpawn is used when neither the config nor a template provides one.
var DefaultSpawn = Position{X: 200, Y: 200}

type Config struct {
	// DefaultLevelID receives users displaced by a deletion and users with
	// no current level.
	DefaultLevelID string
	DefaultSpawn   Position
	// TransactionalCascades runs CreateLevel and DeleteLevel in a store
	// transaction when the store supports one.
	TransactionalCascades bool
}

// ChangeNotifier is told whenever a level document changes or disappears.
type ChangeNotifier interface {
	LevelChanged(ctx context.Context, levelID string)
}

type Service struct {
	cfg     Config
	store   store.Store
	tracker analytics.Tracker
	log     zerolog.Logger
	now     func() time.Time

	mu       sync.RWMutex
	notifier ChangeNotifier
}

func NewService(cfg Config, st store.Store, tracker analytics.Tracker, logger zerolog.Logger) *Service {
	if cfg.DefaultSpawn == (Position{}) {
		cfg.DefaultSpawn = DefaultSpawn
	}
	if tracker == nil {
		tracker = analytics.Nop{}
	}
	return &Service{
		cfg:     cfg,
		store:   st,
		tracker: tracker,
		log:     logger.With().Str("component", "levels").Logger(),
		now:     time.Now,
	}
}

func (s *Service) Config() Config { return s.cfg }

func (s *Service) Store() store.Store { return s.store }

func (s *Service) SetNotifier(n ChangeNotifier) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifier = n
}

func (s *Service) notify(ctx context.Context, levelID string) {
	s.mu.RLock()
	n := s.notifier
	s.mu.RUnlock()
	if n != nil && levelID != "" {
		n.LevelChanged(ctx, levelID)
	}
}

func (s *Service) atomic(ctx context.Context, fn func(store.Store) error) error {
	return store.RunAtomic(ctx, s.store, s.cfg.TransactionalCascades, fn)
}

// EnsureDefaultLevel creates the configured default level when it is missing.
func (s *Service) EnsureDefaultLevel(ctx context.Context, name string) (bool, error) {
	id := s.cfg.DefaultLevelID
	if err := checkID("default level id", id); err != nil {
		return false, err
	}
	_, err := s.store.Collection(store.Levels).FindOne(ctx, store.ByID(id), store.FindOptions{Fields: []string{"name"}})
	if err == nil {
		return false, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return false, internal(err, "find default level %s", id)
	}
	if name == "" {
		name = "Default world"
	}
	now := s.now().UTC()
	doc, err := store.Encode(Level{
		ID:        id,
		Name:      name,
		Spawn:     s.cfg.DefaultSpawn,
		CreatedAt: now,
		APIKey:    NewAPIKey(now),
	})
	if err != nil {
		return false, internal(err, "encode default level")
	}
	if _, err := s.store.Collection(store.Levels).Insert(ctx, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateID) {
			return false, nil
		}
		return false, internal(err, "insert default level %s", id)
	}
	s.log.Info().Str("level_id", id).Msg("default level created")
	return true, nil
}

func (s *Service) loadUser(ctx context.Context, st store.Store, userID string) (User, error) {
	if userID == "" {
		return User{}, ErrMissingUser
	}
	d, err := st.Collection(store.Users).FindOne(ctx, store.ByID(userID), store.FindOptions{})
	if errors.Is(err, store.ErrNotFound) {
		return User{}, ErrMissingUser
	}
	if err != nil {
		return User{}, internal(err, "find user %s", userID)
	}
	u, err := decodeUser(d)
	if err != nil {
		return User{}, internal(err, "decode user %s", userID)
	}
	return u, nil
}

// currentLevelID is the user's profile.levelId, or the default level.
func (s *Service) currentLevelID(u User) string {
	if u.Profile.LevelID != "" {
		return u.Profile.LevelID
	}
	return s.cfg.DefaultLevelID
}

// findLevel returns nil without error when the level does not exist.
func (s *Service) findLevel(ctx context.Context, st store.Store, levelID string, fields []string) (store.Doc, error) {
	if levelID == "" {
		return nil, nil
	}
	d, err := st.Collection(store.Levels).FindOne(ctx, store.ByID(levelID), store.FindOptions{Fields: fields})
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, internal(err, "find level %s", levelID)
	}
	return d, nil
}

// userLevel resolves the level a user currently occupies; nil when it is gone.
func (s *Service) userLevel(ctx context.Context, st store.Store, userID string) (User, store.Doc, error) {
	u, err := s.loadUser(ctx, st, userID)
	if err != nil {
		return User{}, nil, err
	}
	level, err := s.findLevel(ctx, st, s.currentLevelID(u), nil)
	return u, level, err
}

// Level returns the full level document, or ErrInvalidLevel.
func (s *Service) Level(ctx context.Context, levelID string) (Level, error) {
	if err := checkID("level id", levelID); err != nil {
		return Level{}, err
	}
	d, err := s.findLevel(ctx, s.store, levelID, nil)
	if err != nil {
		return Level{}, err
	}
	if d == nil {
		return Level{}, ErrInvalidLevel
	}
	var l Level
	if err := store.Decode(d, &l); err != nil {
		return Level{}, internal(err, "decode level %s", levelID)
	}
	return l, nil
}
