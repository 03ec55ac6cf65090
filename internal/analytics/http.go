package analytics

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/oops"
)

type HTTPConfig struct {
	Endpoint      string
	Token         string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	QueueSize     int
	Logger        zerolog.Logger
}

type HTTPStats struct {
	QueueDepth   int
	SentTotal    uint64
	FailedTotal  uint64
	DroppedTotal uint64
}

// HTTP batches events and POSTs them as {"events": [...]} to an ingest
// endpoint. Events are dropped, not blocked on, when the queue is full.
type HTTP struct {
	cfg        HTTPConfig
	httpClient *http.Client
	now        func() time.Time

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	sentTotal    atomic.Uint64
	failedTotal  atomic.Uint64
	droppedTotal atomic.Uint64
}

func NewHTTP(cfg HTTPConfig) (*HTTP, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, oops.Errorf("empty analytics ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 8192
	}
	cfg.Logger = cfg.Logger.With().Str("component", "analytics_http").Logger()

	h := &HTTP{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		now:        time.Now,
		ch:         make(chan Event, cfg.QueueSize),
	}
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		h.loop()
	}()
	return h, nil
}

// Close flushes queued events and stops the sender.
func (h *HTTP) Close() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.closed.Store(true)
		close(h.ch)
		h.wg.Wait()
	})
	return nil
}

func (h *HTTP) Track(userID, event string, props map[string]any) {
	if h == nil || h.closed.Load() {
		return
	}
	ev := Event{At: h.now().UTC(), UserID: userID, Event: event, Props: props}
	select {
	case h.ch <- ev:
	default:
		dropped := h.droppedTotal.Add(1)
		h.cfg.Logger.Warn().Str("event", event).Uint64("dropped_total", dropped).Msg("analytics queue full; drop")
	}
}

func (h *HTTP) Stats() HTTPStats {
	if h == nil {
		return HTTPStats{}
	}
	return HTTPStats{
		QueueDepth:   len(h.ch),
		SentTotal:    h.sentTotal.Load(),
		FailedTotal:  h.failedTotal.Load(),
		DroppedTotal: h.droppedTotal.Load(),
	}
}

func (h *HTTP) loop() {
	ticker := time.NewTicker(h.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, h.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := h.sendBatch(batch); err != nil {
			h.failedTotal.Add(uint64(len(batch)))
			h.cfg.Logger.Error().Err(err).Int("batch", len(batch)).Msg("analytics flush failed")
		} else {
			h.sentTotal.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-h.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= h.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (h *HTTP) sendBatch(events []Event) error {
	body := struct {
		Events []Event `json:"events"`
	}{Events: events}
	buf, err := json.Marshal(body)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, h.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if h.cfg.Token != "" {
			req.Header.Set("x-lv-ingest-token", h.cfg.Token)
		}

		resp, err := h.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = oops.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}
