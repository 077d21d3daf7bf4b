package server

import (
	"context"
	"net"
	"reflect"
	"testing"
	"time"

	"github.com/triage-ai/palisade/services/capability_registry/internal/attestation"
	"github.com/triage-ai/palisade/services/capability_registry/internal/auth"
	"github.com/triage-ai/palisade/services/capability_registry/internal/capability"
	"github.com/triage-ai/palisade/services/capability_registry/internal/registry"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

var testNow = time.Unix(1_700_000_000, 0)

const (
	workerToken = "csk_worker_A"
	orchToken   = "csk_orchestrator"
	adminToken  = "csk_admin_key"
)

// tokenAuthenticator maps fixed tokens to principals.
type tokenAuthenticator map[string]*auth.Principal

func (a tokenAuthenticator) Authenticate(ctx context.Context) (*auth.Principal, error) {
	token, err := auth.ExtractBearerToken(ctx)
	if err != nil {
		return nil, err
	}
	p, ok := a[token]
	if !ok {
		return nil, auth.ErrInvalidAPIKey
	}
	return p, nil
}

type testEnv struct {
	client *Client
	conn   *grpc.ClientConn
	svc    *attestation.Service
	reg    *registry.Registry
}

func setupTestServer(t *testing.T, host capability.ToolChecker) *testEnv {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	clock := capability.FixedClock(testNow)

	svc := attestation.NewService(attestation.ServiceConfig{Clock: clock, Logger: logger})
	reg := registry.New(registry.Config{Verifier: svc, Clock: clock, Logger: logger})
	authn := tokenAuthenticator{
		workerToken: {ID: "A", Role: auth.RoleWorker},
		orchToken:   {ID: "scheduler", Role: auth.RoleOrchestrator},
		adminToken:  {ID: "secops", Role: auth.RoleAdmin},
	}

	grpcServer := grpc.NewServer()
	RegisterCapabilityRegistryServiceServer(grpcServer, NewCapabilityRegistryServer(reg, authn, host, logger))

	lis, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		_ = grpcServer.Serve(lis)
	}()

	conn, err := grpc.NewClient(
		lis.Addr().String(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		grpcServer.GracefulStop()
	})

	return &testEnv{client: NewClient(conn), conn: conn, svc: svc, reg: reg}
}

func authedCtx(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func factory() *capability.Factory {
	return capability.NewFactory(capability.DefaultConfig(), capability.FixedClock(testNow))
}

func bundleIDs(bundles []capability.Bundle) []string {
	out := make([]string, len(bundles))
	for i, b := range bundles {
		out[i] = b.ID
	}
	return out
}

func expectCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func TestServer_RegisterAndGet(t *testing.T) {
	env := setupTestServer(t, nil)
	f := factory()

	tool, err := env.svc.Attest(f.NewTool("clippy", true).WithAlternatives("cargo-clippy"), "worker-secret", "ci")
	if err != nil {
		t.Fatal(err)
	}
	b := capability.NewBundle("A").
		WithStaticAnalysis(tool).
		WithFuzzing(f.NewTool("cargo-fuzz", false)).
		WithFlag("sandboxed").
		WithMetadata("region", "eu")

	if err := env.client.Register(authedCtx(workerToken), b); err != nil {
		t.Fatalf("Register: %v", err)
	}

	got, err := env.client.GetWorker(authedCtx(orchToken), "A")
	if err != nil {
		t.Fatalf("GetWorker: %v", err)
	}
	if !reflect.DeepEqual(got, b) {
		t.Fatalf("bundle changed over the wire:\n got %+v\nwant %+v", got, b)
	}

	_, err = env.client.GetWorker(authedCtx(orchToken), "ghost")
	expectCode(t, err, codes.NotFound)
}

func TestServer_RegisterAuthorization(t *testing.T) {
	env := setupTestServer(t, nil)
	b := capability.NewBundle("B").WithStaticAnalysis(factory().NewTool("eslint", true))

	expectCode(t, env.client.Register(context.Background(), b), codes.Unauthenticated)
	expectCode(t, env.client.Register(authedCtx("csk_unknown_key"), b), codes.Unauthenticated)
	expectCode(t, env.client.Register(authedCtx(orchToken), b), codes.PermissionDenied)
	// A worker may only declare itself.
	expectCode(t, env.client.Register(authedCtx(workerToken), b), codes.PermissionDenied)

	if err := env.client.Register(authedCtx(adminToken), b); err != nil {
		t.Fatalf("expected admin to register any worker, got %v", err)
	}
}

func TestServer_RegisterRejectsInvalidBundle(t *testing.T) {
	env := setupTestServer(t, nil)
	in, err := structpb.NewStruct(map[string]any{
		"id":    "A",
		"flags": "not-a-map",
	})
	if err != nil {
		t.Fatal(err)
	}
	err = env.conn.Invoke(authedCtx(adminToken), "/"+ServiceName+"/Register", in, &structpb.Struct{})
	expectCode(t, err, codes.InvalidArgument)
}

func TestServer_FindWithCapability(t *testing.T) {
	env := setupTestServer(t, nil)
	f := factory()
	ctx := authedCtx(adminToken)
	for _, b := range []capability.Bundle{
		capability.NewBundle("A").WithStaticAnalysis(f.NewTool("clippy", true)),
		capability.NewBundle("B").WithSecurityScanning(f.NewTool("bandit", true)),
		capability.NewBundle("C").WithStaticAnalysis(f.NewTool("eslint", true)),
	} {
		if err := env.client.Register(ctx, b); err != nil {
			t.Fatalf("Register(%s): %v", b.ID, err)
		}
	}

	got, err := env.client.FindWithCapability(authedCtx(orchToken), "static_analysis", []string{"clippy", "eslint"})
	if err != nil {
		t.Fatalf("FindWithCapability: %v", err)
	}
	if ids := bundleIDs(got); !reflect.DeepEqual(ids, []string{"A", "C"}) {
		t.Fatalf("expected [A C], got %v", ids)
	}

	got, err = env.client.FindWithCapability(authedCtx(orchToken), "linting", []string{"clippy"})
	if err != nil {
		t.Fatalf("expected unknown category to be a normal empty result, got %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("expected no workers for unknown category, got %v", bundleIDs(got))
	}

	names, err := env.client.ListToolNames(authedCtx(orchToken))
	if err != nil {
		t.Fatalf("ListToolNames: %v", err)
	}
	if !reflect.DeepEqual(names, []string{"bandit", "clippy", "eslint"}) {
		t.Fatalf("unexpected tool names %v", names)
	}
}

func TestServer_ProbeHost(t *testing.T) {
	env := setupTestServer(t, capability.NewToolSet("eslint"))
	f := factory()
	if err := env.client.Register(authedCtx(adminToken), capability.NewBundle("C").WithStaticAnalysis(f.NewTool("eslint", true))); err != nil {
		t.Fatal(err)
	}

	in, err := toStruct(capabilityQuery{Category: "static_analysis", ProbeHost: true})
	if err != nil {
		t.Fatal(err)
	}
	out := &structpb.Struct{}
	if err := env.conn.Invoke(authedCtx(orchToken), "/"+ServiceName+"/FindWithCapability", in, out); err != nil {
		t.Fatalf("FindWithCapability: %v", err)
	}
	got, err := decodeWorkers(out)
	if err != nil {
		t.Fatal(err)
	}
	if ids := bundleIDs(got); !reflect.DeepEqual(ids, []string{"C"}) {
		t.Fatalf("expected host-installed eslint to satisfy C, got %v", ids)
	}
}

func TestServer_RevokeAndReport(t *testing.T) {
	env := setupTestServer(t, nil)
	f := factory()
	tool, err := env.svc.Attest(f.NewTool("clippy", true), "worker-secret", "ci")
	if err != nil {
		t.Fatal(err)
	}
	if err := env.client.Register(authedCtx(workerToken), capability.NewBundle("A").WithStaticAnalysis(tool)); err != nil {
		t.Fatal(err)
	}

	verified, err := env.client.FindVerifiedWorkers(authedCtx(orchToken))
	if err != nil {
		t.Fatal(err)
	}
	if ids := bundleIDs(verified); !reflect.DeepEqual(ids, []string{"A"}) {
		t.Fatalf("expected A verified, got %v", ids)
	}

	_, err = env.client.RevokeWorker(authedCtx(orchToken), "A", "key leak")
	expectCode(t, err, codes.PermissionDenied)
	_, err = env.client.RevokeWorker(authedCtx(adminToken), "A", "")
	expectCode(t, err, codes.InvalidArgument)

	ok, err := env.client.RevokeWorker(authedCtx(adminToken), "ghost", "key leak")
	if err != nil || ok {
		t.Fatalf("expected false for unknown worker, got %v, %v", ok, err)
	}
	ok, err = env.client.RevokeWorker(authedCtx(adminToken), "A", "key leak")
	if err != nil || !ok {
		t.Fatalf("expected revoke to succeed, got %v, %v", ok, err)
	}

	report, err := env.client.SecurityReport(authedCtx(orchToken), "A")
	if err != nil {
		t.Fatalf("SecurityReport: %v", err)
	}
	if len(report) != 1 {
		t.Fatalf("expected 1 tool in report, got %d", len(report))
	}
	r := report[0]
	if r.Category != capability.CategoryStaticAnalysis || !r.HasAttestation || !r.AttestationVerified || !r.IsRevoked || r.IsExpired {
		t.Fatalf("unexpected report %+v", r)
	}
	if r.Expiration.RevokedBy == nil || *r.Expiration.RevokedBy != "secops" {
		t.Fatal("expected revoker to be the authenticated admin")
	}

	verified, err = env.client.FindVerifiedWorkers(authedCtx(orchToken))
	if err != nil {
		t.Fatal(err)
	}
	if len(verified) != 0 {
		t.Fatalf("expected no verified workers after revoke, got %v", bundleIDs(verified))
	}
	all, err := env.client.VerifyAllWorkers(authedCtx(orchToken))
	if err != nil || !reflect.DeepEqual(all, map[string]bool{"A": false}) {
		t.Fatalf("unexpected verification map %v, %v", all, err)
	}
}

func TestServer_WorkerCannotUndoRevocation(t *testing.T) {
	env := setupTestServer(t, nil)
	tool, err := env.svc.Attest(factory().NewTool("clippy", true), "worker-secret", "ci")
	if err != nil {
		t.Fatal(err)
	}
	b := capability.NewBundle("A").WithStaticAnalysis(tool)
	if err := env.client.Register(authedCtx(workerToken), b); err != nil {
		t.Fatal(err)
	}
	if ok, err := env.client.RevokeWorker(authedCtx(adminToken), "A", "key leak"); err != nil || !ok {
		t.Fatalf("expected revoke to succeed, got %v, %v", ok, err)
	}

	err = env.client.Register(authedCtx(workerToken), b)
	expectCode(t, err, codes.FailedPrecondition)

	verified, err := env.client.FindVerifiedWorkers(authedCtx(orchToken))
	if err != nil {
		t.Fatal(err)
	}
	if len(verified) != 0 {
		t.Fatalf("expected A to stay revoked, got %v", bundleIDs(verified))
	}

	// An admin may reinstate the worker.
	if err := env.client.Register(authedCtx(adminToken), b); err != nil {
		t.Fatalf("admin Register: %v", err)
	}
	verified, err = env.client.FindVerifiedWorkers(authedCtx(orchToken))
	if err != nil {
		t.Fatal(err)
	}
	if ids := bundleIDs(verified); !reflect.DeepEqual(ids, []string{"A"}) {
		t.Fatalf("expected A verified after admin re-registration, got %v", ids)
	}
}

func TestServer_FiltersAndStatistics(t *testing.T) {
	env := setupTestServer(t, nil)
	f := factory()
	netPerms := capability.DefaultPermissions()
	netPerms.NetworkAccess = true
	ctx := authedCtx(adminToken)

	if err := env.client.Register(ctx, capability.NewBundle("scanner").
		WithDynamicAnalysis(f.NewSecureTool("zap", true, netPerms, f.ExpiresIn(time.Hour))).
		WithFuzzing(f.NewTool("afl", false)).
		WithFlag("sandboxed").
		WithMetadata("region", "eu")); err != nil {
		t.Fatal(err)
	}
	if err := env.client.Register(ctx, capability.NewBundle("offline").
		WithDynamicAnalysis(f.NewTool("valgrind", true)).
		WithMetadata("region", "us")); err != nil {
		t.Fatal(err)
	}

	q := authedCtx(orchToken)
	got, err := env.client.FindWithPermission(q, "dynamic_analysis", capability.PermissionNetworkAccess)
	if err != nil || !reflect.DeepEqual(bundleIDs(got), []string{"scanner"}) {
		t.Fatalf("FindWithPermission: %v, %v", bundleIDs(got), err)
	}
	got, err = env.client.FindWithFlag(q, "sandboxed")
	if err != nil || !reflect.DeepEqual(bundleIDs(got), []string{"scanner"}) {
		t.Fatalf("FindWithFlag: %v, %v", bundleIDs(got), err)
	}
	got, err = env.client.FindWithMetadata(q, "region", "us")
	if err != nil || !reflect.DeepEqual(bundleIDs(got), []string{"offline"}) {
		t.Fatalf("FindWithMetadata: %v, %v", bundleIDs(got), err)
	}
	got, err = env.client.FindWithAllRequiredTools(q, []string{"zap"})
	if err != nil || !reflect.DeepEqual(bundleIDs(got), []string{"scanner"}) {
		t.Fatalf("FindWithAllRequiredTools: %v, %v", bundleIDs(got), err)
	}

	stats, err := env.client.Statistics(q)
	if err != nil {
		t.Fatalf("Statistics: %v", err)
	}
	want := registry.Statistics{TotalWorkers: 2, TotalTools: 3, RequiredTools: 2}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}

	_, err = env.client.RemoveWorker(q, "offline")
	expectCode(t, err, codes.PermissionDenied)
	removed, err := env.client.RemoveWorker(ctx, "offline")
	if err != nil || !removed {
		t.Fatalf("expected admin remove to succeed, got %v, %v", removed, err)
	}
	if env.reg.Len() != 1 {
		t.Fatalf("expected 1 worker left, got %d", env.reg.Len())
	}
}
