package capability

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
	"time"
)

// stubVerifier accepts any attestation whose hash matches the tool.
type stubVerifier struct{}

func (stubVerifier) VerifyIntegrity(tool *ToolCapability, _ time.Time) bool {
	return tool.Attestation != nil && tool.Attestation.CapabilityHash == tool.Hash()
}

func attest(tool ToolCapability) ToolCapability {
	return tool.WithAttestation(Attestation{
		CapabilityHash: tool.Hash(),
		Signature:      "sig",
		PublicKey:      "key",
		Timestamp:      testNow.Unix(),
		Algorithm:      "test",
		Attester:       "ci",
	})
}

func TestHasAllRequiredTools_OptionalNeverBlocks(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").
		WithStaticAnalysis(f.NewTool("lint", true)).
		WithFuzzing(f.NewTool("fuzz", false))

	if !b.HasAllRequiredTools(NewToolSet("lint"), testNow) {
		t.Fatal("expected optional fuzz tool not to block")
	}
}

func TestHasAllRequiredTools_StrictWorker(t *testing.T) {
	f := testFactory()
	b := NewBundle("strict-worker").
		WithStaticAnalysis(f.NewTool("required-tool", true)).
		WithSecurityScanning(f.NewTool("optional-tool", false))

	if !b.HasAllRequiredTools(NewToolSet("required-tool"), testNow) {
		t.Fatal("expected true when the required tool is available")
	}
	if b.HasAllRequiredTools(NewToolSet(), testNow) {
		t.Fatal("expected false when nothing is available")
	}
}

func TestHasAllRequiredTools_AcrossCategories(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").
		WithStaticAnalysis(f.NewTool("clippy", true)).
		WithTestFramework(f.NewTool("nextest", true))

	if b.HasAllRequiredTools(NewToolSet("clippy"), testNow) {
		t.Fatal("expected missing required test framework tool to fail the check")
	}
	if !b.HasAllRequiredTools(NewToolSet("clippy", "nextest"), testNow) {
		t.Fatal("expected pass with both required tools available")
	}
}

func TestHasCapability_EmptyAndUnknownCategory(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").WithStaticAnalysis(f.NewTool("clippy", true))
	all := ToolCheckerFunc(func(string) bool { return true })

	if b.HasCapability(CategoryFuzzing, all, testNow) {
		t.Fatal("empty category must never be satisfied")
	}
	if b.HasCapability(CategoryUnknown, all, testNow) {
		t.Fatal("unknown category must never be satisfied")
	}
	if b.HasCapability(Category(42), all, testNow) {
		t.Fatal("out-of-range category must never be satisfied")
	}
	if !b.HasCapability(CategoryStaticAnalysis, all, testNow) {
		t.Fatal("expected static analysis satisfied")
	}
}

func TestHasCapability_AnyToolSuffices(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").
		WithSecurityScanning(f.NewTool("trivy", false)).
		WithSecurityScanning(f.NewTool("grype", false).WithAlternatives("syft"))

	if !b.HasCapability(CategorySecurityScanning, NewToolSet("syft"), testNow) {
		t.Fatal("expected second tool's alternative to satisfy the category")
	}
}

func TestWith_ValueSemantics(t *testing.T) {
	f := testFactory()
	base := NewBundle("w1").WithStaticAnalysis(f.NewTool("clippy", true))
	extended := base.WithStaticAnalysis(f.NewTool("rustfmt", false)).WithFlag("ast").WithMetadata("lang", "rust")

	if len(base.StaticAnalysis) != 1 {
		t.Fatalf("expected base to keep 1 tool, got %d", len(base.StaticAnalysis))
	}
	if base.HasFlag("ast") {
		t.Fatal("expected base flags untouched")
	}
	if len(extended.StaticAnalysis) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(extended.StaticAnalysis))
	}

	extended.StaticAnalysis[0].Revoke("x", "y", testNow)
	if base.StaticAnalysis[0].IsRevoked() {
		t.Fatal("revoking a tool in the copy must not affect the original")
	}
}

func TestBuilder(t *testing.T) {
	f := testFactory()
	bb := NewBuilder("w1").
		Add(CategoryDynamicAnalysis, f.NewTool("valgrind", true)).
		Add(CategoryUnknown, f.NewTool("ignored", true)).
		Flag("llm_support").
		Metadata("arch", "amd64")
	first := bb.Build()
	bb.Add(CategoryFuzzing, f.NewTool("afl", false))

	if first.ToolCount() != 1 {
		t.Fatalf("expected 1 tool in first build, got %d", first.ToolCount())
	}
	second := bb.Build()
	if second.ToolCount() != 2 {
		t.Fatal("expected builder to keep accumulating")
	}
	if v, ok := first.MetadataValue("arch"); !ok || v != "amd64" {
		t.Fatalf("expected arch=amd64, got %q", v)
	}
}

func TestVerifyAllCapabilities(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").
		WithStaticAnalysis(attest(f.NewTool("clippy", true))).
		WithFuzzing(attest(f.NewTool("afl", false)))

	if !b.VerifyAllCapabilities(stubVerifier{}, testNow) {
		t.Fatal("expected all attested tools to verify")
	}
	if b.VerifyAllCapabilities(nil, testNow) {
		t.Fatal("nil verifier must verify nothing")
	}
	if !b.HasCapability(CategoryStaticAnalysis, NewToolSet("clippy"), testNow) {
		t.Fatal("expected capability present")
	}

	unattested := b.WithTestFramework(f.NewTool("pytest", false))
	if unattested.VerifyAllCapabilities(stubVerifier{}, testNow) {
		t.Fatal("expected unattested tool to fail verification")
	}

	if b.VerifyAllCapabilities(stubVerifier{}, testNow.Add(DefaultExpiration+time.Second)) {
		t.Fatal("expected expired tools to fail verification")
	}

	tampered := b.Clone()
	tampered.StaticAnalysis[0].Permissions.SystemAccess = true
	if tampered.VerifyAllCapabilities(stubVerifier{}, testNow) {
		t.Fatal("expected tampered tool to fail verification")
	}
}

func TestRevokeAll_PerToolTimestamps(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").
		WithStaticAnalysis(f.NewTool("clippy", true)).
		WithSecurityScanning(f.NewTool("trivy", true)).
		WithFuzzing(f.NewTool("afl", false))

	tick := testNow
	clock := ClockFunc(func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	})

	if n := b.RevokeAll("host compromised", "secops", clock); n != 3 {
		t.Fatalf("expected 3 revocations, got %d", n)
	}

	reports := b.SecurityReport(nil, testNow)
	seen := map[int64]bool{}
	for _, r := range reports {
		if !r.IsRevoked {
			t.Fatalf("expected %s revoked", r.ToolName)
		}
		if *r.Expiration.RevocationReason != "host compromised" || *r.Expiration.RevokedBy != "secops" {
			t.Fatalf("unexpected revocation group on %s", r.ToolName)
		}
		seen[*r.Expiration.RevokedAt] = true
	}
	if len(seen) != 3 {
		t.Fatalf("expected each tool to get its own timestamp, got %d distinct", len(seen))
	}
}

func TestHasRevokedTool(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").
		WithStaticAnalysis(f.NewTool("clippy", true)).
		WithFuzzing(f.NewTool("afl", false))
	if b.HasRevokedTool() {
		t.Fatal("fresh bundle must not report a revoked tool")
	}
	b.Fuzzing[0].Revoke("leaked", "secops", testNow)
	if !b.HasRevokedTool() {
		t.Fatal("expected the revoked fuzzer to be reported")
	}
	empty := NewBundle("empty")
	if empty.HasRevokedTool() {
		t.Fatal("empty bundle has no revoked tools")
	}
}

func TestSecurityReportAndStatistics(t *testing.T) {
	f := testFactory()
	b := NewBundle("w1").
		WithStaticAnalysis(attest(f.NewTool("clippy", true))).
		WithStaticAnalysis(f.NewTool("rustfmt", false)).
		WithFlag("ast").
		WithMetadata("lang", "rust").
		WithMetadata("arch", "arm64")

	reports := b.SecurityReport(stubVerifier{}, testNow)
	if len(reports) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(reports))
	}
	if !reports[0].HasAttestation || !reports[0].AttestationVerified {
		t.Fatal("expected clippy attested and verified")
	}
	if reports[1].HasAttestation || reports[1].AttestationVerified {
		t.Fatal("expected rustfmt unattested")
	}
	if reports[0].Category != CategoryStaticAnalysis {
		t.Fatalf("expected static_analysis, got %s", reports[0].Category)
	}

	stats := b.Statistics(stubVerifier{}, testNow)
	want := Statistics{TotalTools: 2, RequiredTools: 1, VerifiedTools: 1, FlagsCount: 1, MetadataCount: 2}
	if stats != want {
		t.Fatalf("expected %+v, got %+v", want, stats)
	}
}

func TestHasRequiredPermission(t *testing.T) {
	f := testFactory()
	perms := DefaultPermissions()
	perms.ProcessSpawn = true
	b := NewBundle("w1").
		WithDynamicAnalysis(f.NewTool("strace", true)).
		WithDynamicAnalysis(f.NewTool("valgrind", true).WithPermissions(perms))

	if !b.HasRequiredPermission(CategoryDynamicAnalysis, PermissionProcessSpawn) {
		t.Fatal("expected one tool granting process_spawn to suffice")
	}
	if b.HasRequiredPermission(CategoryDynamicAnalysis, PermissionNetworkAccess) {
		t.Fatal("expected network_access not granted")
	}
	if b.HasRequiredPermission(CategoryUnknown, PermissionProcessSpawn) {
		t.Fatal("expected unknown category to match nothing")
	}
}

func TestBundle_JSONRoundTrip(t *testing.T) {
	f := testFactory()
	revoked := f.NewTool("afl", false)
	revoked.Revoke("stale", "admin", testNow)
	b := NewBundle("w1").
		WithStaticAnalysis(attest(f.NewTool("clippy", true).WithAlternatives("cargo-clippy"))).
		WithFuzzing(revoked).
		WithFlag("ast").
		WithMetadata("lang", "rust")

	data, err := json.Marshal(b)
	if err != nil {
		t.Fatal(err)
	}
	var decoded Bundle
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(b, decoded) {
		t.Fatalf("round trip mismatch:\n%+v\n%+v", b, decoded)
	}
	if err := decoded.Validate(); err != nil {
		t.Fatalf("expected decoded bundle valid, got %v", err)
	}
}

func TestBundle_Validate(t *testing.T) {
	f := testFactory()
	b := NewBundle("")
	if err := b.Validate(); !errors.Is(err, ErrInvalidBundle) {
		t.Fatalf("expected ErrInvalidBundle for empty id, got %v", err)
	}

	b = NewBundle("w1").WithStaticAnalysis(f.NewTool("", true))
	err := b.Validate()
	if !errors.Is(err, ErrInvalidBundle) || !errors.Is(err, ErrInvalidTool) {
		t.Fatalf("expected bundle and tool errors, got %v", err)
	}

	bb := NewBuilder("w1")
	for i := 0; i <= MaxToolsPerWorker; i++ {
		bb.Add(CategoryStaticAnalysis, f.NewTool("t", false))
	}
	big := bb.Build()
	if err := big.Validate(); err == nil {
		t.Fatal("expected error above tool limit")
	}
}

func TestCategory_JSON(t *testing.T) {
	var c Category
	if err := json.Unmarshal([]byte(`"fuzzing"`), &c); err != nil {
		t.Fatal(err)
	}
	if c != CategoryFuzzing {
		t.Fatalf("expected fuzzing, got %s", c)
	}
	if err := json.Unmarshal([]byte(`"quantum"`), &c); err != nil {
		t.Fatal(err)
	}
	if c != CategoryUnknown {
		t.Fatalf("expected unknown, got %s", c)
	}
	if _, err := json.Marshal(CategoryUnknown); err == nil {
		t.Fatal("expected encoding an unknown category to fail")
	}
	if _, ok := ParseCategory("static_analysis"); !ok {
		t.Fatal("expected static_analysis to parse")
	}
}
