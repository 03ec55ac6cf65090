package analytics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	plog "levelverse.io/internal/persistence/log"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Track(userID, event string, props map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, userID+" "+event)
}

func TestMultiFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	Multi{a, nil, b, Nop{}}.Track("usr_1", EventSignIn, nil)
	assert.Equal(t, []string{"usr_1 " + EventSignIn}, a.events)
	assert.Equal(t, a.events, b.events)
}

func TestJSONL_WritesEvents(t *testing.T) {
	dir := t.TempDir()
	j := NewJSONL(dir, plog.WriterOptions{}, zerolog.Nop())
	j.Track("usr_1", EventLevelCreated, map[string]any{"level_id": "lvl_1", "level_name": "home"})
	require.NoError(t, j.Close())

	segs, err := plog.Segments(j.Dir(), "analytics")
	require.NoError(t, err)
	require.Len(t, segs, 1)

	var got []Event
	require.NoError(t, plog.ReadSegment(segs[0], func(line json.RawMessage) error {
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return err
		}
		got = append(got, ev)
		return nil
	}))
	require.Len(t, got, 1)
	assert.Equal(t, EventLevelCreated, got[0].Event)
	assert.Equal(t, "lvl_1", got[0].Props["level_id"])
}

func TestHTTP_BatchesAndFlushesOnClose(t *testing.T) {
	var (
		mu       sync.Mutex
		received []Event
		tokens   []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Events []Event `json:"events"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		received = append(received, body.Events...)
		tokens = append(tokens, r.Header.Get("x-lv-ingest-token"))
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{Endpoint: srv.URL, Token: "secret", BatchSize: 2, FlushInterval: time.Hour, Logger: zerolog.Nop()})
	require.NoError(t, err)

	h.Track("usr_1", EventSignIn, nil)
	h.Track("usr_2", EventSignIn, nil)
	h.Track("usr_3", EventLevelCreated, map[string]any{"level_id": "lvl_3"})
	require.NoError(t, h.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 3)
	assert.Equal(t, "usr_3", received[2].UserID)
	assert.Equal(t, []string{"secret", "secret"}, tokens)
	assert.Equal(t, uint64(3), h.Stats().SentTotal)

	// Tracking after close is ignored.
	h.Track("usr_4", EventSignIn, nil)
	assert.Equal(t, uint64(0), h.Stats().DroppedTotal)
}

func TestHTTP_RetriesThenCountsFailure(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	h, err := NewHTTP(HTTPConfig{Endpoint: srv.URL, BatchSize: 1, FlushInterval: time.Hour, Logger: zerolog.Nop()})
	require.NoError(t, err)
	h.Track("usr_1", EventSignIn, nil)
	require.NoError(t, h.Close())

	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, uint64(1), h.Stats().FailedTotal)
}

func TestNewHTTP_RequiresEndpoint(t *testing.T) {
	_, err := NewHTTP(HTTPConfig{Endpoint: "  "})
	require.Error(t, err)
}
