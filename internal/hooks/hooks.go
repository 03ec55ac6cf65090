// Package hooks dispatches level activity (users entering and leaving
// levels) to registered handlers.
package hooks

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"levelverse.io/internal/store"
)

type ActivityType string

const (
	UserEnteredLevel ActivityType = "userEnteredLevel"
	UserLeavedLevel  ActivityType = "userLeavedLevel"
)

type Meta struct {
	Name string `json:"name"`
}

type Activity struct {
	UserID string `json:"userId"`
	Meta   Meta   `json:"meta"`
}

// Dispatcher is fire-and-forget: callers never see handler failures. level
// is the whole level document, or just its _id when the level is gone.
type Dispatcher interface {
	CallHooks(ctx context.Context, level store.Doc, kind ActivityType, act Activity)
}

type Handler func(ctx context.Context, level store.Doc, act Activity)

type Registry struct {
	log zerolog.Logger

	mu       sync.RWMutex
	handlers map[ActivityType][]Handler
}

func NewRegistry(logger zerolog.Logger) *Registry {
	return &Registry{
		log:      logger.With().Str("component", "hooks").Logger(),
		handlers: map[ActivityType][]Handler{},
	}
}

// On registers h for kind. Handlers run in registration order.
func (r *Registry) On(kind ActivityType, h Handler) {
	if h == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = append(r.handlers[kind], h)
}

func (r *Registry) CallHooks(ctx context.Context, level store.Doc, kind ActivityType, act Activity) {
	r.mu.RLock()
	hs := append([]Handler(nil), r.handlers[kind]...)
	r.mu.RUnlock()

	for _, h := range hs {
		r.run(ctx, h, level, kind, act)
	}
}

func (r *Registry) run(ctx context.Context, h Handler, level store.Doc, kind ActivityType, act Activity) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error().
				Interface("panic", p).
				Str("kind", string(kind)).
				Str("user_id", act.UserID).
				Str("level_id", level.ID()).
				Msg("hook handler panicked")
		}
	}()
	h(ctx, level, act)
}

// Nop discards every activity.
type Nop struct{}

func (Nop) CallHooks(context.Context, store.Doc, ActivityType, Activity) {}
