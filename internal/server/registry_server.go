package server

import (
	"context"
	"errors"

	"github.com/triage-ai/palisade/services/capability_registry/internal/auth"
	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/declaration"
	"github.com/triage-ai/palisade/services/capability_registry/internal/registry"
	"github.com/triage-ai/palisade/services/capability_registry/internal/toolcheck"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// CapabilityRegistryServer implements CapabilityRegistryService over a
// Registry.
type CapabilityRegistryServer struct {
	registry *registry.Registry
	auth     auth.Authenticator
	host     capability.ToolChecker
	logger   *zap.Logger
}

// NewCapabilityRegistryServer creates a server. host answers probe_host
// queries and may be nil, in which case only client-supplied tools count.
func NewCapabilityRegistryServer(
	reg *registry.Registry,
	authenticator auth.Authenticator,
	host capability.ToolChecker,
	logger *zap.Logger,
) *CapabilityRegistryServer {
	return &CapabilityRegistryServer{
		registry: reg,
		auth:     authenticator,
		host:     host,
		logger:   logger,
	}
}

// authorize authenticates the caller and checks it holds one of roles.
func (s *CapabilityRegistryServer) authorize(ctx context.Context, roles ...auth.Role) (*auth.Principal, error) {
	p, err := s.auth.Authenticate(ctx)
	if err != nil {
		if errors.Is(err, auth.ErrPermissionDenied) {
			return nil, status.Errorf(codes.PermissionDenied, "authentication failed: %v", err)
		}
		return nil, status.Errorf(codes.Unauthenticated, "authentication failed: %v", err)
	}
	if len(roles) > 0 && !p.Allowed(roles...) {
		s.logger.Warn("principal denied",
			zap.String("principal_id", p.ID),
			zap.String("role", string(p.Role)),
		)
		return nil, status.Errorf(codes.PermissionDenied, "role %s may not perform this operation", p.Role)
	}
	return p, nil
}

var anyRole = []auth.Role{auth.RoleWorker, auth.RoleOrchestrator, auth.RoleAdmin}

func (s *CapabilityRegistryServer) Register(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	p, err := s.authorize(ctx, auth.RoleWorker, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}

	data, err := structJSON(req)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	b, err := declaration.DecodeBundle(data)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	// Workers may only declare themselves.
	if p.Role == auth.RoleWorker && b.ID != p.ID {
		return nil, status.Errorf(codes.PermissionDenied, "worker %s may not register %s", p.ID, b.ID)
	}

	// A revoked worker cannot restore its own trust by re-registering.
	register := s.registry.Register
	if p.Role == auth.RoleWorker {
		register = s.registry.RegisterUnlessRevoked
	}
	if err := register(b, p.ID); err != nil {
		switch {
		case errors.Is(err, registry.ErrRegistryFull):
			return nil, status.Errorf(codes.ResourceExhausted, "%v", err)
		case errors.Is(err, registry.ErrWorkerRevoked):
			return nil, status.Errorf(codes.FailedPrecondition, "%v; an admin must re-register it", err)
		}
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return s.reply(registerResponse{WorkerID: b.ID, ToolCount: b.ToolCount()})
}

func (s *CapabilityRegistryServer) GetWorker(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	b, ok := s.registry.Get(req.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "worker %q not registered", req.GetValue())
	}
	return s.reply(b)
}

func (s *CapabilityRegistryServer) RemoveWorker(ctx context.Context, req *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	p, err := s.authorize(ctx, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	return wrapperspb.Bool(s.registry.Remove(req.GetValue(), p.ID)), nil
}

func (s *CapabilityRegistryServer) FindWithCapability(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	var q capabilityQuery
	if err := fromStruct(req, &q); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	// Unknown categories resolve to CategoryUnknown and match nothing.
	c, _ := capability.ParseCategory(q.Category)
	return s.workers(s.registry.FindWithCapability(c, s.checker(q)))
}

func (s *CapabilityRegistryServer) FindVerifiedWorkers(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	return s.workers(s.registry.FindVerifiedWorkers())
}

func (s *CapabilityRegistryServer) FindWithPermission(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	var q permissionQuery
	if err := fromStruct(req, &q); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	c, _ := capability.ParseCategory(q.Category)
	return s.workers(s.registry.FindWorkersWithPermission(c, q.Permission))
}

func (s *CapabilityRegistryServer) FindWithFlag(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	return s.workers(s.registry.FindWorkersWithFlag(req.GetValue()))
}

func (s *CapabilityRegistryServer) FindWithMetadata(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	var q metadataQuery
	if err := fromStruct(req, &q); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return s.workers(s.registry.FindWorkersWithMetadata(q.Key, q.Value))
}

func (s *CapabilityRegistryServer) FindWithAllRequiredTools(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	var q capabilityQuery
	if err := fromStruct(req, &q); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	return s.workers(s.registry.FindWorkersWithAllRequiredTools(s.checker(q)))
}

func (s *CapabilityRegistryServer) ListToolNames(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	return s.reply(toolNamesResponse{ToolNames: s.registry.AllToolNames()})
}

func (s *CapabilityRegistryServer) RevokeWorker(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	p, err := s.authorize(ctx, auth.RoleAdmin)
	if err != nil {
		return nil, err
	}
	var r revokeRequest
	if err := fromStruct(req, &r); err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%v", err)
	}
	if r.Reason == "" {
		return nil, status.Error(codes.InvalidArgument, "revocation reason is required")
	}
	return wrapperspb.Bool(s.registry.RevokeWorkerCapabilities(r.WorkerID, r.Reason, p.ID)), nil
}

func (s *CapabilityRegistryServer) SecurityReport(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	report, ok := s.registry.SecurityReport(req.GetValue())
	if !ok {
		return nil, status.Errorf(codes.NotFound, "worker %q not registered", req.GetValue())
	}
	return s.reply(securityReportResponse{WorkerID: req.GetValue(), Tools: report})
}

func (s *CapabilityRegistryServer) VerifyAllWorkers(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	return s.reply(verificationResponse{Workers: s.registry.VerifyAllWorkers()})
}

func (s *CapabilityRegistryServer) Statistics(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	if _, err := s.authorize(ctx, anyRole...); err != nil {
		return nil, err
	}
	return s.reply(s.registry.Statistics())
}

// checker builds the availability view for one query. Host probing is
// snapshotted up front so the answer cannot change mid-query.
func (s *CapabilityRegistryServer) checker(q capabilityQuery) capability.ToolChecker {
	declared := capability.NewToolSet(q.AvailableTools...)
	if !q.ProbeHost || s.host == nil {
		return declared
	}
	return capability.AnyOf(declared, toolcheck.Snapshot(s.host, s.registry.AllToolNames()))
}

func (s *CapabilityRegistryServer) workers(bundles []capability.Bundle) (*structpb.Struct, error) {
	if bundles == nil {
		bundles = []capability.Bundle{}
	}
	return s.reply(workersResponse{Workers: bundles})
}

func (s *CapabilityRegistryServer) reply(v any) (*structpb.Struct, error) {
	out, err := toStruct(v)
	if err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
		return nil, status.Error(codes.Internal, "failed to encode response")
	}
	return out, nil
}
