package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	ferrors "github.com/frostwatch/frostwatch/internal/errors"
	"github.com/frostwatch/frostwatch/internal/logging"
	"github.com/frostwatch/frostwatch/internal/validation"
	"github.com/frostwatch/frostwatch/pkg/types"
)

// Store is the telemetry store served over gRPC.
type Store interface {
	Append(ctx context.Context, rec types.Record) bool
	Query(ctx context.Context, opts types.QueryOptions) ([]types.Record, error)
	Stats(ctx context.Context) (*types.Stats, error)
	Prune(ctx context.Context, retentionDays int) (int, error)
}

// Server implements TelemetryServiceServer on a Store.
type Server struct {
	store  Store
	now    func() time.Time
	logger zerolog.Logger
}

var _ TelemetryServiceServer = (*Server)(nil)

// NewServer creates a gRPC telemetry server.
func NewServer(store Store, logger zerolog.Logger) *Server {
	return &Server{store: store, now: time.Now, logger: logger}
}

// NewGRPCServer returns a grpc.Server with the telemetry service and the
// request-ID and recovery interceptors installed.
func NewGRPCServer(store Store, logger zerolog.Logger, opts ...grpc.ServerOption) *grpc.Server {
	opts = append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(RequestIDInterceptor(), RecoveryInterceptor(logger), LoggingInterceptor(logger)),
	}, opts...)
	s := grpc.NewServer(opts...)
	RegisterTelemetryServiceServer(s, NewServer(store, logger))
	return s
}

// queryRequest mirrors the HTTP query parameters; zero means default.
type queryRequest struct {
	Limit    int    `json:"limit" validate:"gte=0"`
	SensorID string `json:"sensorId" validate:"max=128"`
	Hours    int    `json:"hours" validate:"gte=0"`
}

type pruneRequest struct {
	Days *int `json:"days" validate:"omitnil,gte=0,lte=3650"`
}

// Append stores the request struct as one record.
func (s *Server) Append(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "record is required")
	}
	rec := types.Record(normalizeMap(req.AsMap()))
	if !s.store.Append(ctx, rec) {
		return nil, status.Error(codes.Internal, "failed to store data")
	}
	return structpb.NewStruct(map[string]interface{}{
		"success":    true,
		"message":    "Data received successfully",
		"receivedAt": s.now().UTC().Format(types.ReceivedAtLayout),
	})
}

// Query returns recent records.
func (s *Server) Query(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var params queryRequest
	if err := decodeRequest(req, &params); err != nil {
		return nil, err
	}

	records, err := s.store.Query(ctx, types.QueryOptions{
		Limit:    params.Limit,
		SensorID: params.SensorID,
		Hours:    params.Hours,
	})
	if err != nil {
		return nil, toStatus(err)
	}

	data := make([]interface{}, len(records))
	for i, r := range records {
		data[i] = map[string]interface{}(r)
	}
	return newStruct(map[string]interface{}{
		"success": true,
		"count":   len(records),
		"data":    data,
	})
}

// Stats returns aggregate statistics.
func (s *Server) Stats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, toStatus(err)
	}
	ids := make([]interface{}, len(stats.SensorIDs))
	for i, id := range stats.SensorIDs {
		ids[i] = id
	}
	return newStruct(map[string]interface{}{
		"success": true,
		"stats": map[string]interface{}{
			"totalFiles":    stats.TotalFiles,
			"totalRecords":  stats.TotalRecords,
			"totalSizeMB":   stats.TotalSizeMB,
			"uniqueSensors": stats.UniqueSensors,
			"sensorIds":     ids,
		},
	})
}

// Prune deletes old partitions. Days defaults to 30.
func (s *Server) Prune(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	var params pruneRequest
	if err := decodeRequest(req, &params); err != nil {
		return nil, err
	}
	days := types.DefaultRetentionDays
	if params.Days != nil {
		days = *params.Days
	}

	deleted, err := s.store.Prune(ctx, days)
	if err != nil {
		return nil, toStatus(err)
	}
	return newStruct(map[string]interface{}{
		"success":       true,
		"deletedFiles":  deleted,
		"retentionDays": days,
	})
}

// decodeRequest maps a request struct onto a params struct and validates it.
func decodeRequest(req *structpb.Struct, dst interface{}) error {
	if req == nil {
		req = &structpb.Struct{}
	}
	raw, err := req.MarshalJSON()
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	if err := validation.Struct(dst); err != nil {
		return toStatus(err)
	}
	return nil
}

// toStatus maps store and validation errors to gRPC status errors.
func toStatus(err error) error {
	switch {
	case ferrors.GetCategory(err) == ferrors.ErrCategoryValidation:
		return status.Error(codes.InvalidArgument, err.Error())
	case ferrors.GetCode(err) == ferrors.CodeArchiveNotFound:
		return status.Error(codes.NotFound, err.Error())
	case ferrors.GetCode(err) == ferrors.CodeAlreadyExists:
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// newStruct builds a Struct from JSON-shaped values, converting
// json.Number, which structpb does not accept.
func newStruct(m map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(toProtoMap(m))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to encode response: %v", err)
	}
	return s, nil
}

func toProtoMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = toProtoValue(v)
	}
	return out
}

func toProtoValue(v interface{}) interface{} {
	switch x := v.(type) {
	case json.Number:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	case map[string]interface{}:
		return toProtoMap(x)
	case types.Record:
		return toProtoMap(x)
	case []interface{}:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = toProtoValue(e)
		}
		return out
	default:
		return v
	}
}

// normalizeMap turns Struct numbers (always float64) into json.Number so
// stored records keep integer formatting.
func normalizeMap(m map[string]interface{}) map[string]interface{} {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
	return m
}

func normalizeValue(v interface{}) interface{} {
	switch x := v.(type) {
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return json.Number(strconv.FormatInt(int64(x), 10))
		}
		return json.Number(strconv.FormatFloat(x, 'g', -1, 64))
	case map[string]interface{}:
		return normalizeMap(x)
	case []interface{}:
		for i, e := range x {
			x[i] = normalizeValue(e)
		}
		return x
	default:
		return v
	}
}

// RequestIDInterceptor attaches the x-request-id metadata value, or a new
// UUID, to the request context.
func RequestIDInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		requestID := ""
		if md, ok := metadata.FromIncomingContext(ctx); ok {
			if ids := md.Get("x-request-id"); len(ids) > 0 {
				requestID = ids[0]
			}
		}
		if requestID == "" {
			requestID = uuid.New().String()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs("x-request-id", requestID))
		return handler(logging.ContextWithRequestID(ctx, requestID), req)
	}
}

// RecoveryInterceptor converts handler panics into Internal errors.
func RecoveryInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log := logging.Ctx(ctx, logger)
				log.Error().Str("panic", fmt.Sprint(r)).Str("method", info.FullMethod).Msg("grpc handler panicked")
				err = status.Error(codes.Internal, "internal server error")
			}
		}()
		return handler(ctx, req)
	}
}

// LoggingInterceptor logs each call with its status code.
func LoggingInterceptor(logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		log := logging.Ctx(ctx, logger)
		ev := log.Debug()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).
			Str("code", status.Code(err).String()).
			Dur("duration", time.Since(start)).
			Msg("grpc call")
		return resp, err
	}
}
