package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/gray-logic-kg/internal/device"
)

// DeviceSummary is the list view of a device.
type DeviceSummary struct {
	ID           string       `json:"id"`
	Class        string       `json:"class"`
	State        device.State `json:"state"`
	Modules      []string     `json:"modules"`
	Samples      int          `json:"samples"`
	PeriodMS     int64        `json:"period_ms"`
	LastSeen     *time.Time   `json:"last_seen,omitempty"`
	Bootstrapped bool         `json:"bootstrapped,omitempty"`
}

func summarise(d *device.Device) DeviceSummary {
	s := DeviceSummary{
		ID:           d.ID,
		Class:        d.Class,
		State:        d.State,
		Modules:      d.ModuleSet(),
		Samples:      d.Samples(),
		PeriodMS:     d.Period.Milliseconds(),
		Bootstrapped: d.Bootstrapped,
	}
	if last := d.LastSeen(); !last.IsZero() {
		s.LastSeen = &last
	}
	return s
}

// handleListDevices returns device summaries, sorted by id.
//
// Query parameters:
//   - state: filter by lifecycle state (buffering, integrated, ...)
//   - class: filter by device class
func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	state := device.State(r.URL.Query().Get("state"))
	class := r.URL.Query().Get("class")

	devices := s.engine.Registry().Select(func(d *device.Device) bool {
		return (state == "" || d.State == state) && (class == "" || d.Class == class)
	})

	summaries := make([]DeviceSummary, len(devices))
	for i, d := range devices {
		summaries[i] = summarise(d)
	}
	writeJSON(w, http.StatusOK, map[string]any{"devices": summaries, "count": len(summaries)})
}

// handleGetDevice returns one device with its buffers.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	dev, err := s.engine.Registry().Get(id)
	if err != nil {
		if errors.Is(err, device.ErrDeviceNotFound) {
			writeNotFound(w, "device not found")
			return
		}
		writeInternalError(w, "failed to get device")
		return
	}
	writeJSON(w, http.StatusOK, dev)
}

// handleListTransitions returns a device's lifecycle history, newest first.
//
// Query parameters:
//   - limit: max results (default 50, max 200)
//
// History outlives the device, so retired ids still answer.
func (s *Server) handleListTransitions(w http.ResponseWriter, r *http.Request) {
	if s.transitions == nil {
		writeUnavailable(w, "transition history not configured")
		return
	}

	id := chi.URLParam(r, "id")
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeBadRequest(w, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	history, err := s.transitions.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("failed to list transitions", "device_id", id, "error", err)
		writeInternalError(w, "failed to list transitions")
		return
	}
	if history == nil {
		history = []device.Transition{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"device_id": id, "transitions": history, "count": len(history)})
}
