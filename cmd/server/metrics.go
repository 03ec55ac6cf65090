package main

import (
	"fmt"
	"io"
	"net/http"

	"levelverse.io/internal/store"
)

// metricsHandler writes a minimal Prometheus exposition.
func (rt *runtime) metricsHandler(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

	levelCount, err := rt.store.Collection(store.Levels).Count(r.Context(), store.Selector{})
	if err != nil {
		rt.log.Warn().Err(err).Msg("metrics: count levels")
		levelCount = -1
	}
	gauge(rw, "levelverse_levels", "Number of stored levels.")
	fmt.Fprintf(rw, "levelverse_levels %d\n", levelCount)

	gauge(rw, "levelverse_ws_connections", "Open websocket connections.")
	fmt.Fprintf(rw, "levelverse_ws_connections %d\n", rt.ws.Connections())

	gauge(rw, "levelverse_presence_sessions", "Active currentLevel sessions per level.")
	byLevel := rt.presence.ActiveByLevel()
	for _, id := range rt.presence.LevelIDs() {
		fmt.Fprintf(rw, "levelverse_presence_sessions{level=%q} %d\n", id, byLevel[id])
	}

	if rt.httpSink != nil {
		s := rt.httpSink.Stats()
		gauge(rw, "levelverse_analytics_queue_depth", "Buffered analytics events.")
		fmt.Fprintf(rw, "levelverse_analytics_queue_depth %d\n", s.QueueDepth)
		counter(rw, "levelverse_analytics_events_total", "Analytics events by outcome.")
		fmt.Fprintf(rw, "levelverse_analytics_events_total{outcome=%q} %d\n", "sent", s.SentTotal)
		fmt.Fprintf(rw, "levelverse_analytics_events_total{outcome=%q} %d\n", "failed", s.FailedTotal)
		fmt.Fprintf(rw, "levelverse_analytics_events_total{outcome=%q} %d\n", "dropped", s.DroppedTotal)
	}

	if rt.mirror != nil {
		s := rt.mirror.Stats()
		gauge(rw, "levelverse_mirror_queue_depth", "Segments waiting for upload.")
		fmt.Fprintf(rw, "levelverse_mirror_queue_depth %d\n", s.QueueDepth)
		counter(rw, "levelverse_mirror_segments_total", "Mirrored segments by outcome.")
		fmt.Fprintf(rw, "levelverse_mirror_segments_total{outcome=%q} %d\n", "enqueued", s.EnqueuedTotal)
		fmt.Fprintf(rw, "levelverse_mirror_segments_total{outcome=%q} %d\n", "uploaded", s.UploadedTotal)
		fmt.Fprintf(rw, "levelverse_mirror_segments_total{outcome=%q} %d\n", "failed", s.FailedTotal)
		fmt.Fprintf(rw, "levelverse_mirror_segments_total{outcome=%q} %d\n", "dropped", s.DroppedTotal)
		gauge(rw, "levelverse_mirror_last_upload_unix", "Unix time of the last successful upload.")
		fmt.Fprintf(rw, "levelverse_mirror_last_upload_unix %d\n", s.LastUploadUnix)
	}
}

func gauge(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n", name, help, name)
}

func counter(w io.Writer, name, help string) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n", name, help, name)
}
