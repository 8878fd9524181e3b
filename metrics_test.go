package guardian_test

import (
	"context"
	"testing"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
)

func TestEngineMetricsCountOperations(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.EnableLatencyHistograms = true
	env := newTestEnv(t, cfg)
	u := env.register(t, "a@example.com", guardian.RoleParent)
	env.dir.AddChild("c1", u.ID)
	ctx := context.Background()

	_, _ = env.engine.Authenticate(ctx, "a@example.com", "Wrong-Horse-9")
	pair, claims := env.login(t, "a@example.com")
	_, _ = env.engine.Authorize(ctx, claims, child("c1"), authz.ActionRead)
	_, _ = env.engine.Authorize(ctx, claims, child("nope"), authz.ActionRead)
	_ = env.engine.Logout(ctx, pair.RefreshToken)

	snap := env.engine.MetricsSnapshot()
	want := map[guardian.MetricID]uint64{
		guardian.MetricRegisterSuccess: 1,
		guardian.MetricLoginFailure:    1,
		guardian.MetricLoginSuccess:    1,
		guardian.MetricSessionCreated:  1,
		guardian.MetricAuthzAllow:      1,
		guardian.MetricAuthzNotFound:   1,
		guardian.MetricLogout:          1,
		guardian.MetricReplayDetected:  0,
	}
	for id, n := range want {
		if got := snap.Counters[id]; got != n {
			t.Errorf("counter %d = %d, want %d", id, got, n)
		}
	}

	var verifies, authorizes uint64
	for _, n := range snap.Histograms[guardian.MetricVerifyAccessLatency] {
		verifies += n
	}
	for _, n := range snap.Histograms[guardian.MetricAuthorizeLatency] {
		authorizes += n
	}
	if verifies != 1 || authorizes != 2 {
		t.Fatalf("histogram samples: verify=%d authorize=%d", verifies, authorizes)
	}
}

func TestEngineMetricsDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Metrics.Enabled = false
	env := newTestEnv(t, cfg)
	env.register(t, "a@example.com", guardian.RoleParent)
	env.login(t, "a@example.com")

	snap := env.engine.MetricsSnapshot()
	if len(snap.Counters) != 0 || len(snap.Histograms) != 0 {
		t.Fatalf("disabled metrics produced a snapshot: %+v", snap)
	}
}
