package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/frostwatch/frostwatch/pkg/types"
)

// Client calls TelemetryService over an established connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection, typically from grpc.NewClient.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Append sends one record and returns the server's receivedAt timestamp.
func (c *Client) Append(ctx context.Context, rec types.Record, opts ...grpc.CallOption) (string, error) {
	req, err := structpb.NewStruct(toProtoMap(rec))
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, AppendMethod, req, out, opts...); err != nil {
		return "", err
	}
	return out.GetFields()["receivedAt"].GetStringValue(), nil
}

// Query returns records matching opts, newest first.
func (c *Client) Query(ctx context.Context, opts types.QueryOptions, callOpts ...grpc.CallOption) ([]types.Record, error) {
	fields := map[string]interface{}{
		"limit": opts.Limit,
		"hours": opts.Hours,
	}
	if opts.SensorID != "" {
		fields["sensorId"] = opts.SensorID
	}
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, QueryMethod, req, out, callOpts...); err != nil {
		return nil, err
	}

	var resp struct {
		Data []types.Record `json:"data"`
	}
	if err := decodeResponse(out, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		resp.Data = []types.Record{}
	}
	return resp.Data, nil
}

// Stats fetches aggregate statistics.
func (c *Client) Stats(ctx context.Context, opts ...grpc.CallOption) (*types.Stats, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, StatsMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	var resp struct {
		Stats *types.Stats `json:"stats"`
	}
	if err := decodeResponse(out, &resp); err != nil {
		return nil, err
	}
	return resp.Stats, nil
}

// Prune asks the server to delete partitions older than days and returns
// how many were removed.
func (c *Client) Prune(ctx context.Context, days int, opts ...grpc.CallOption) (int, error) {
	req, err := structpb.NewStruct(map[string]interface{}{"days": days})
	if err != nil {
		return 0, fmt.Errorf("encode prune: %w", err)
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PruneMethod, req, out, opts...); err != nil {
		return 0, err
	}
	return int(out.GetFields()["deletedFiles"].GetNumberValue()), nil
}

// decodeResponse goes through JSON so records keep json.Number values.
func decodeResponse(s *structpb.Struct, dst interface{}) error {
	raw, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
