package api

import (
	"net/http"
	"runtime"
	"time"

	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/kg"
)

// StatsResponse is the body of GET /stats.
type StatsResponse struct {
	Timestamp     string             `json:"timestamp"`
	Version       string             `json:"version"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	Messages      kg.MessageStats    `json:"messages"`
	StateSeconds  map[string]float64 `json:"state_seconds"`
	CurrentState  string             `json:"current_state"`
	Devices       device.Stats       `json:"devices"`
	CorpusRows    int                `json:"corpus_rows"`
	Runtime       RuntimeMetrics     `json:"runtime"`
	WebSocket     WSMetrics          `json:"websocket"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int    `json:"connected_clients"`
	DroppedEvents    uint64 `json:"dropped_events"`
}

// handleStats returns message statistics, time spent per activity and
// registry counts.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	tracker := s.engine.Tracker()
	durations := tracker.Durations()
	stateSeconds := make(map[string]float64, len(durations))
	for activity, d := range durations {
		stateSeconds[activity.String()] = d.Seconds()
	}

	resp := StatsResponse{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Messages:      s.engine.Stats(),
		StateSeconds:  stateSeconds,
		CurrentState:  tracker.Current().String(),
		Devices:       s.engine.Registry().GetStats(),
		CorpusRows:    s.engine.Corpus().Len(),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
	}
	if s.hub != nil {
		resp.WebSocket.ConnectedClients = s.hub.ClientCount()
		resp.WebSocket.DroppedEvents = s.hub.Dropped()
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleListClasses returns the device classes in the similarity corpus.
func (s *Server) handleListClasses(w http.ResponseWriter, _ *http.Request) {
	corpus := s.engine.Corpus()
	classes := corpus.Classes()
	writeJSON(w, http.StatusOK, map[string]any{
		"classes": classes,
		"count":   len(classes),
		"rows":    corpus.Len(),
	})
}
