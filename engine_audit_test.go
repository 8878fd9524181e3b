package guardian_test

import (
	"context"
	"testing"

	"github.com/MrEthical07/guardian"
	"github.com/MrEthical07/guardian/authz"
)

func TestAuditTrailOfALoginSession(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Enabled = true
	cfg.Audit.BufferSize = 64
	cfg.Audit.DropIfFull = false
	sink := guardian.NewChannelSink(64)
	env := newTestEnv(t, cfg, func(b *guardian.Builder) {
		b.WithAuditSink(sink)
	})

	u := env.register(t, "a@example.com", guardian.RoleParent)
	env.dir.AddChild("c1", u.ID)
	ctx := guardian.WithClientIP(context.Background(), "203.0.113.9")

	_, _ = env.engine.Authenticate(ctx, "a@example.com", "Wrong-Horse-9")
	pair, err := env.engine.Authenticate(ctx, "a@example.com", testPassword)
	if err != nil {
		t.Fatal(err)
	}
	claims, _ := env.engine.VerifyAccess(ctx, pair.AccessToken)
	if _, err := env.engine.Authorize(ctx, claims, child("c1"), authz.ActionRead); err != nil {
		t.Fatal(err)
	}
	if _, err := env.engine.Refresh(ctx, pair.RefreshToken); err != nil {
		t.Fatal(err)
	}
	_, _ = env.engine.Refresh(ctx, pair.RefreshToken)

	env.engine.Close()

	var events []guardian.AuditEvent
	for len(sink.Events()) > 0 {
		events = append(events, <-sink.Events())
	}

	want := []struct {
		eventType string
		success   bool
		errCode   string
	}{
		{"register_success", true, ""},
		{"login_failure", false, "invalid_credentials"},
		{"login_success", true, ""},
		{"authz_decision", true, ""},
		{"refresh_success", true, ""},
		{"refresh_replay_detected", false, "refresh_replay"},
	}
	if len(events) != len(want) {
		t.Fatalf("got %d events: %+v", len(events), events)
	}
	for i, w := range want {
		ev := events[i]
		if ev.EventType != w.eventType || ev.Success != w.success || ev.Error != w.errCode {
			t.Errorf("event %d = %s/%v/%q, want %s/%v/%q", i, ev.EventType, ev.Success, ev.Error, w.eventType, w.success, w.errCode)
		}
	}
	if events[1].IP != "203.0.113.9" {
		t.Errorf("client IP not recorded: %q", events[1].IP)
	}
	if events[1].UserID != u.ID {
		t.Errorf("failure not attributed to the account: %q", events[1].UserID)
	}
	if events[3].Metadata["effect"] != "allow" || events[3].Metadata["reason"] != authz.ReasonOwner {
		t.Errorf("authz metadata = %v", events[3].Metadata)
	}
	if env.engine.AuditDropped() != 0 {
		t.Errorf("dropped = %d", env.engine.AuditDropped())
	}
}
