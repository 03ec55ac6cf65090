// Package analytics forwards product events (level created, sign in) to
// fire-and-forget sinks.
package analytics

import (
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	plog "levelverse.io/internal/persistence/log"
)

const (
	EventLevelCreated = "🐣 Level Created"
	EventSignIn       = "👋 Sign In"
)

// Tracker never reports failures back to the caller.
type Tracker interface {
	Track(userID, event string, props map[string]any)
}

type Event struct {
	At     time.Time      `json:"at"`
	UserID string         `json:"user_id"`
	Event  string         `json:"event"`
	Props  map[string]any `json:"props,omitempty"`
}

type Nop struct{}

func (Nop) Track(string, string, map[string]any) {}

// Multi fans an event out to every tracker.
type Multi []Tracker

func (m Multi) Track(userID, event string, props map[string]any) {
	for _, t := range m {
		if t != nil {
			t.Track(userID, event, props)
		}
	}
}

// JSONL appends events to compressed segments under <dataDir>/analytics.
type JSONL struct {
	w   *plog.JSONLZstdWriter
	log zerolog.Logger
	now func() time.Time
}

func NewJSONL(dataDir string, opts plog.WriterOptions, logger zerolog.Logger) *JSONL {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &JSONL{
		w:   plog.NewJSONLZstdWriter(filepath.Join(dataDir, "analytics"), "analytics", opts),
		log: logger.With().Str("component", "analytics_jsonl").Logger(),
		now: now,
	}
}

func (j *JSONL) Track(userID, event string, props map[string]any) {
	ev := Event{At: j.now().UTC(), UserID: userID, Event: event, Props: props}
	if err := j.w.Write(ev); err != nil {
		j.log.Warn().Err(err).Str("event", event).Str("user_id", userID).Msg("analytics write failed")
	}
}

func (j *JSONL) Dir() string { return j.w.Dir() }

func (j *JSONL) Close() error { return j.w.Close() }
