package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/lens-logic-core/internal/eventlog"
)

// healthCheckTimeout bounds each dependency probe in the status report.
const healthCheckTimeout = 3 * time.Second

// handleSystemStatus reports the health of the server's dependencies and
// the fleet counters in one document.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	components := map[string]string{
		"api": "ok",
	}

	if s.mqtt != nil {
		components["mqtt"] = probeStatus(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			return s.mqtt.HealthCheck(ctx)
		})
	}
	if s.influx != nil {
		components["influxdb"] = probeStatus(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			return s.influx.HealthCheck(ctx)
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"version":    s.version,
		"components": components,
		"fleet":      s.engine.Stats(),
		"websocket": map[string]any{
			"clients": s.hub.ClientCount(),
		},
	})
}

// handleFleetStats returns the engine counters alone, for pollers that
// only care about fleet health.
func (s *Server) handleFleetStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// handleFleetEvents returns the persisted lifecycle event history,
// newest first. Supports event, camera, limit and offset query params.
func (s *Server) handleFleetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeNotFound(w, "event log not available")
		return
	}

	q := r.URL.Query()
	filter := eventlog.Filter{
		Event:    q.Get("event"),
		CameraID: q.Get("camera"),
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "limit must be an integer")
			return
		}
		filter.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeBadRequest(w, "offset must be an integer")
			return
		}
		filter.Offset = n
	}

	res, err := s.events.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing fleet events", "error", err)
		writeInternalError(w, "failed to list fleet events")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// probeStatus renders a health check result as "ok" or the error text.
func probeStatus(check func() error) string {
	if err := check(); err != nil {
		return err.Error()
	}
	return "ok"
}
