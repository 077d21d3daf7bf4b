package server

import (
	"context"
	"fmt"

	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/declaration"
	"github.com/triage-ai/palisade/services/capability_registry/internal/registry"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// Client calls a remote CapabilityRegistryService.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts ...grpc.CallOption) error {
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// Register declares b with the registry.
func (c *Client) Register(ctx context.Context, b capability.Bundle, opts ...grpc.CallOption) error {
	if err := b.Validate(); err != nil {
		return fmt.Errorf("Register: %w", err)
	}
	data, err := declaration.EncodeBundle(b)
	if err != nil {
		return err
	}
	in := &structpb.Struct{}
	if err := protojson.Unmarshal(data, in); err != nil {
		return fmt.Errorf("Register: %w", err)
	}
	return c.invoke(ctx, "Register", in, &structpb.Struct{}, opts...)
}

// GetWorker fetches one worker's bundle.
func (c *Client) GetWorker(ctx context.Context, id string, opts ...grpc.CallOption) (capability.Bundle, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "GetWorker", wrapperspb.String(id), out, opts...); err != nil {
		return capability.Bundle{}, err
	}
	var b capability.Bundle
	if err := fromStruct(out, &b); err != nil {
		return capability.Bundle{}, err
	}
	return b, nil
}

// RemoveWorker removes a worker. Reports false if it was not registered.
func (c *Client) RemoveWorker(ctx context.Context, id string, opts ...grpc.CallOption) (bool, error) {
	out := &wrapperspb.BoolValue{}
	if err := c.invoke(ctx, "RemoveWorker", wrapperspb.String(id), out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// FindWithCapability returns workers with a live tool in category that is
// among available.
func (c *Client) FindWithCapability(ctx context.Context, category string, available []string, opts ...grpc.CallOption) ([]capability.Bundle, error) {
	return c.findWorkers(ctx, "FindWithCapability", capabilityQuery{Category: category, AvailableTools: available}, opts...)
}

// FindWithAllRequiredTools returns workers whose required tools are all
// among available.
func (c *Client) FindWithAllRequiredTools(ctx context.Context, available []string, opts ...grpc.CallOption) ([]capability.Bundle, error) {
	return c.findWorkers(ctx, "FindWithAllRequiredTools", capabilityQuery{AvailableTools: available}, opts...)
}

// FindWithPermission returns workers with a tool in category granting
// permission.
func (c *Client) FindWithPermission(ctx context.Context, category, permission string, opts ...grpc.CallOption) ([]capability.Bundle, error) {
	return c.findWorkers(ctx, "FindWithPermission", permissionQuery{Category: category, Permission: permission}, opts...)
}

// FindWithMetadata returns workers whose metadata key equals value.
func (c *Client) FindWithMetadata(ctx context.Context, key, value string, opts ...grpc.CallOption) ([]capability.Bundle, error) {
	return c.findWorkers(ctx, "FindWithMetadata", metadataQuery{Key: key, Value: value}, opts...)
}

// FindWithFlag returns workers with flag set.
func (c *Client) FindWithFlag(ctx context.Context, flag string, opts ...grpc.CallOption) ([]capability.Bundle, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "FindWithFlag", wrapperspb.String(flag), out, opts...); err != nil {
		return nil, err
	}
	return decodeWorkers(out)
}

// FindVerifiedWorkers returns workers whose every tool verifies.
func (c *Client) FindVerifiedWorkers(ctx context.Context, opts ...grpc.CallOption) ([]capability.Bundle, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "FindVerifiedWorkers", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	return decodeWorkers(out)
}

// ListToolNames returns every declared tool name.
func (c *Client) ListToolNames(ctx context.Context, opts ...grpc.CallOption) ([]string, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "ListToolNames", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	var resp toolNamesResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.ToolNames, nil
}

// RevokeWorker revokes every tool of a worker.
func (c *Client) RevokeWorker(ctx context.Context, id, reason string, opts ...grpc.CallOption) (bool, error) {
	in, err := toStruct(revokeRequest{WorkerID: id, Reason: reason})
	if err != nil {
		return false, err
	}
	out := &wrapperspb.BoolValue{}
	if err := c.invoke(ctx, "RevokeWorker", in, out, opts...); err != nil {
		return false, err
	}
	return out.GetValue(), nil
}

// SecurityReport returns the per-tool trust report of a worker.
func (c *Client) SecurityReport(ctx context.Context, id string, opts ...grpc.CallOption) ([]capability.SecurityReport, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "SecurityReport", wrapperspb.String(id), out, opts...); err != nil {
		return nil, err
	}
	var resp securityReportResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Tools, nil
}

// VerifyAllWorkers reports per worker whether it verifies.
func (c *Client) VerifyAllWorkers(ctx context.Context, opts ...grpc.CallOption) (map[string]bool, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "VerifyAllWorkers", &emptypb.Empty{}, out, opts...); err != nil {
		return nil, err
	}
	var resp verificationResponse
	if err := fromStruct(out, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}

// Statistics returns registry-wide counts.
func (c *Client) Statistics(ctx context.Context, opts ...grpc.CallOption) (registry.Statistics, error) {
	out := &structpb.Struct{}
	if err := c.invoke(ctx, "Statistics", &emptypb.Empty{}, out, opts...); err != nil {
		return registry.Statistics{}, err
	}
	var s registry.Statistics
	if err := fromStruct(out, &s); err != nil {
		return registry.Statistics{}, err
	}
	return s, nil
}

func (c *Client) findWorkers(ctx context.Context, method string, query any, opts ...grpc.CallOption) ([]capability.Bundle, error) {
	in, err := toStruct(query)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{}
	if err := c.invoke(ctx, method, in, out, opts...); err != nil {
		return nil, err
	}
	return decodeWorkers(out)
}

func decodeWorkers(s *structpb.Struct) ([]capability.Bundle, error) {
	var resp workersResponse
	if err := fromStruct(s, &resp); err != nil {
		return nil, err
	}
	return resp.Workers, nil
}
