package http

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/internal/router"
)

// StreamHandler serves GET /api/esp32/stream as Server-Sent Events. Each
// appended record is sent as a "record" event; an optional sensorId
// parameter restricts the feed to one device.
type StreamHandler struct {
	notifier  *router.Notifier
	keepAlive time.Duration
	logger    zerolog.Logger
}

// NewStreamHandler creates a live feed handler.
func NewStreamHandler(notifier *router.Notifier, keepAlive time.Duration, logger zerolog.Logger) *StreamHandler {
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &StreamHandler{notifier: notifier, keepAlive: keepAlive, logger: logger}
}

type streamEvent struct {
	Partition string      `json:"partition"`
	SensorID  string      `json:"sensorId,omitempty"`
	Record    interface{} `json:"record"`
}

// ServeHTTP holds the connection open until the client leaves or the
// notifier closes.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported",
			logging.RequestIDFromContext(r.Context()))
		return
	}

	// The server write timeout would otherwise cut long-lived streams.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	var filters []string
	if id := strings.TrimSpace(r.URL.Query().Get("sensorId")); id != "" {
		filters = append(filters, id)
	}
	sub := h.notifier.Subscribe(filters...)
	defer h.notifier.Unsubscribe(sub.ID)

	observability.StreamSubscribers.Inc()
	defer observability.StreamSubscribers.Dec()

	log := logging.Ctx(r.Context(), h.logger)
	log.Debug().Str("subscriber", sub.ID).Strs("filters", filters).Msg("stream opened")

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeEvent(w, 0, "ready", map[string]interface{}{"subscriber": sub.ID, "filters": filters}); err != nil {
		return
	}
	flusher.Flush()

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Debug().Str("subscriber", sub.ID).Msg("stream closed by client")
			return
		case <-ticker.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case n, ok := <-sub.Ch:
			if !ok {
				return
			}
			if n.Type != router.RecordAppended {
				continue
			}
			err := writeEvent(w, n.LSN, "record", streamEvent{
				Partition: n.Partition,
				SensorID:  n.SensorID,
				Record:    n.Record,
			})
			if err != nil {
				log.Debug().Err(err).Str("subscriber", sub.ID).Msg("stream write failed")
				return
			}
			flusher.Flush()
		}
	}
}

// writeEvent writes one SSE frame. id 0 omits the id line.
func writeEvent(w http.ResponseWriter, id uint64, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal event data: %w", err)
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return nil
}
