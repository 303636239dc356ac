package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/internal/observability"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// Store is the telemetry store the handlers serve.
type Store interface {
	Append(ctx context.Context, rec types.Record) bool
	Query(ctx context.Context, opts types.QueryOptions) ([]types.Record, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Prune(ctx context.Context, retentionDays int) (int, error)
}

// IngestResponse is returned for an accepted record.
type IngestResponse struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	ReceivedAt string `json:"receivedAt"`
}

// QueryResponse carries matching records, newest first.
type QueryResponse struct {
	Success bool           `json:"success"`
	Count   int            `json:"count"`
	Data    []types.Record `json:"data"`
}

// StatsResponse wraps store statistics.
type StatsResponse struct {
	Success bool         `json:"success"`
	Stats   *types.Stats `json:"stats"`
}

// PruneResponse reports a prune run.
type PruneResponse struct {
	Success       bool `json:"success"`
	DeletedFiles  int  `json:"deletedFiles"`
	RetentionDays int  `json:"retentionDays"`
}

// SensorsResponse lists the most active sensors.
type SensorsResponse struct {
	Success bool                        `json:"success"`
	Sensors []observability.SensorStats `json:"sensors"`
}

// IngestHandler handles POST /api/esp32/data.
type IngestHandler struct {
	store        Store
	maxBodyBytes int64
	now          func() time.Time
	logger       zerolog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(store Store, maxBodyBytes int64, logger zerolog.Logger) *IngestHandler {
	return &IngestHandler{
		store:        store,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
		logger:       logger,
	}
}

// ServeHTTP handles the ingest HTTP request.
func (h *IngestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := logging.RequestIDFromContext(r.Context())

	body := io.Reader(r.Body)
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", requestID)
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body", requestID)
		return
	}

	rec, err := decodeRecord(data)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), requestID)
		return
	}

	if !h.store.Append(r.Context(), rec) {
		writeError(w, http.StatusInternalServerError, "failed to store data", requestID)
		return
	}

	writeJSON(w, http.StatusCreated, IngestResponse{
		Success:    true,
		Message:    "Data received successfully",
		ReceivedAt: h.now().UTC().Format(types.ReceivedAtLayout),
	})
}

// decodeRecord accepts exactly one JSON object. Numbers keep their textual
// form so stored values round-trip unchanged.
func decodeRecord(data []byte) (types.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var rec map[string]interface{}
	if err := dec.Decode(&rec); err != nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if rec == nil {
		return nil, errors.New("request body must be a JSON object")
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("request body must contain a single JSON object")
	}
	return types.Record(rec), nil
}

// QueryHandler handles GET /api/esp32/data.
type QueryHandler struct {
	store Store
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(store Store) *QueryHandler {
	return &QueryHandler{store: store}
}

// ServeHTTP handles the query HTTP request.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := parseQueryParams(r.URL.Query())
	if err != nil {
		writeFrostError(w, r, err)
		return
	}

	records, err := h.store.Query(r.Context(), types.QueryOptions{
		Limit:    intOr(params.Limit, 0),
		SensorID: params.SensorID,
		Hours:    intOr(params.Hours, 0),
	})
	if err != nil {
		writeFrostError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, QueryResponse{
		Success: true,
		Count:   len(records),
		Data:    records,
	})
}

// StatsHandler handles GET /api/esp32/stats.
type StatsHandler struct {
	store Store
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(store Store) *StatsHandler {
	return &StatsHandler{store: store}
}

// ServeHTTP handles the stats HTTP request.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.Stats(r.Context())
	if err != nil {
		writeFrostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, StatsResponse{Success: true, Stats: stats})
}

// PruneHandler handles POST /api/esp32/prune.
type PruneHandler struct {
	store Store
}

// NewPruneHandler creates a new prune handler.
func NewPruneHandler(store Store) *PruneHandler {
	return &PruneHandler{store: store}
}

// ServeHTTP handles the prune HTTP request.
func (h *PruneHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := parsePruneParams(r.URL.Query())
	if err != nil {
		writeFrostError(w, r, err)
		return
	}
	days := intOr(params.Days, types.DefaultRetentionDays)

	deleted, err := h.store.Prune(r.Context(), days)
	if err != nil {
		writeFrostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, PruneResponse{
		Success:       true,
		DeletedFiles:  deleted,
		RetentionDays: days,
	})
}

// SensorsHandler handles GET /api/esp32/sensors.
type SensorsHandler struct {
	activity *observability.SensorActivity
}

// NewSensorsHandler creates a new sensor activity handler.
func NewSensorsHandler(activity *observability.SensorActivity) *SensorsHandler {
	return &SensorsHandler{activity: activity}
}

// ServeHTTP handles the sensors HTTP request.
func (h *SensorsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	params, err := parseSensorsParams(r.URL.Query())
	if err != nil {
		writeFrostError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SensorsResponse{
		Success: true,
		Sensors: h.activity.Top(intOr(params.Top, 10)),
	})
}

// writeFrostError maps err to a status code and error body.
func writeFrostError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := logging.RequestIDFromContext(r.Context())
	status := ferrors.HTTPStatus(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusServiceUnavailable
	}

	resp := ErrorResponse{Error: err.Error(), RequestID: requestID}
	var fe *ferrors.FrostError
	if errors.As(err, &fe) {
		resp.Error = fe.Message
		if len(fe.Details) > 0 {
			resp.Details = fe.Details
		}
	}
	if status >= http.StatusInternalServerError {
		log := logging.Ctx(r.Context(), logging.Component("http"))
		log.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}
