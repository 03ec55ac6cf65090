package hooks

import (
	"context"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	plog "levelverse.io/internal/persistence/log"
	"levelverse.io/internal/store"
)

// ActivityRecord is one line of the activity log.
type ActivityRecord struct {
	At        time.Time    `json:"at"`
	Kind      ActivityType `json:"kind"`
	LevelID   string       `json:"level_id"`
	LevelName string       `json:"level_name,omitempty"`
	UserID    string       `json:"user_id"`
	Meta      Meta         `json:"meta"`
}

// ActivityLog persists every enter/leave activity to compressed segments
// under <dataDir>/activity.
type ActivityLog struct {
	w   *plog.JSONLZstdWriter
	log zerolog.Logger
	now func() time.Time
}

func NewActivityLog(dataDir string, opts plog.WriterOptions, logger zerolog.Logger) *ActivityLog {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &ActivityLog{
		w:   plog.NewJSONLZstdWriter(filepath.Join(dataDir, "activity"), "activity", opts),
		log: logger.With().Str("component", "activity_log").Logger(),
		now: now,
	}
}

// Register subscribes the log to both activity types.
func (a *ActivityLog) Register(r *Registry) {
	for _, kind := range []ActivityType{UserEnteredLevel, UserLeavedLevel} {
		kind := kind
		r.On(kind, func(ctx context.Context, level store.Doc, act Activity) {
			a.Record(kind, level, act)
		})
	}
}

func (a *ActivityLog) Record(kind ActivityType, level store.Doc, act Activity) {
	rec := ActivityRecord{
		At:        a.now().UTC(),
		Kind:      kind,
		LevelID:   level.ID(),
		LevelName: level.String("name"),
		UserID:    act.UserID,
		Meta:      act.Meta,
	}
	if err := a.w.Write(rec); err != nil {
		a.log.Warn().Err(err).Str("kind", string(kind)).Str("user_id", act.UserID).Msg("activity write failed")
	}
}

func (a *ActivityLog) Dir() string { return a.w.Dir() }

func (a *ActivityLog) Close() error { return a.w.Close() }
