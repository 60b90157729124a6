package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/voltwise/enpi-engine/pkg/events"
	"github.com/voltwise/enpi-engine/pkg/models"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 30 * time.Second

// EventsHandler streams bus events to clients over SSE.
type EventsHandler struct {
	bus    *events.Bus
	logger *zap.Logger
}

func NewEventsHandler(bus *events.Bus, logger *zap.Logger) *EventsHandler {
	return &EventsHandler{bus: bus, logger: logger}
}

// RegisterRoutes registers the events handler's routes on the given mux.
func (h *EventsHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/events", h.Stream)
}

// Stream handles GET /api/events?groups=dashboard,anomalies.
// Sends one SSE data frame per event until the client disconnects.
func (h *EventsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	groups := splitGroups(r.URL.Query().Get("groups"))
	if len(groups) == 0 {
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_groups", "At least one valid group is required: dashboard, anomalies, training, events"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.logger.Error("SSE not supported")
		if err := ErrorResponse(w, http.StatusInternalServerError, "sse_unsupported", "SSE not supported"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}

	sub := h.bus.Subscribe(groups)
	defer h.bus.Unsubscribe(sub)

	h.logger.Debug("SSE subscriber connected",
		zap.String("subscriber_id", sub.ID.String()),
		zap.Strings("groups", groups))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-sub.Done:
			return
		case <-heartbeat.C:
			// Comment frame; clients ignore it.
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		case event := <-sub.C:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("Failed to marshal event", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func splitGroups(raw string) []string {
	var groups []string
	for _, g := range strings.Split(raw, ",") {
		g = strings.TrimSpace(g)
		if models.ValidGroup(g) {
			groups = append(groups, g)
		}
	}
	return groups
}
