package policy_test

import (
	"bytes"
	"context"
	"errors"
	"log"
	"testing"

	"orchestrator/internal/catalog"
	"orchestrator/internal/db"
	"orchestrator/internal/domain"
	"orchestrator/internal/migrate"
	"orchestrator/internal/policy"
	"orchestrator/internal/repo"
)

type testEnv struct {
	Resolver policy.Resolver
	Repo     repo.Repo
	Log      *bytes.Buffer
	Ctx      context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	r := repo.Repo{DB: conn}
	ctx := context.Background()
	if err := r.InsertTenant(ctx, domain.Tenant{ID: "t1", Name: "Tenant One"}); err != nil {
		t.Fatalf("insert tenant: %v", err)
	}
	var buf bytes.Buffer
	return testEnv{
		Resolver: policy.Resolver{Repo: r, Logger: log.New(&buf, "", 0), PlatformAI: true},
		Repo:     r,
		Log:      &buf,
		Ctx:      ctx,
	}
}

func seedConfig(t *testing.T, env testEnv, doc string) {
	t.Helper()
	if err := env.Repo.UpsertTenantSetting(env.Ctx, "t1", policy.SettingKey, doc); err != nil {
		t.Fatalf("seed config: %v", err)
	}
}

func TestGetByPathFailsClosedWithoutConfig(t *testing.T) {
	env := newTestEnv(t)
	val, err := env.Resolver.GetByPath(env.Ctx, "t1", "auto_notification.payment_due_reminder.enabled", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != nil {
		t.Fatalf("expected nil for missing config, got %v", val)
	}
}

func TestGetByPathExistenceNotTruthiness(t *testing.T) {
	env := newTestEnv(t)
	seedConfig(t, env, `{"auto_notification":{"payment_due_reminder":{"enabled":false,"daily_limit":0,"channel":""}}}`)

	val, err := env.Resolver.GetByPath(env.Ctx, "t1", "auto_notification.payment_due_reminder.enabled", "")
	if err != nil {
		t.Fatal(err)
	}
	if b, ok := val.(bool); !ok || b {
		t.Fatalf("stored false must come back as false, got %v", val)
	}
	val, err = env.Resolver.GetByPath(env.Ctx, "t1", "auto_notification.payment_due_reminder.daily_limit", "")
	if err != nil {
		t.Fatal(err)
	}
	if n, ok := val.(float64); !ok || n != 0 {
		t.Fatalf("stored 0 must come back as 0, got %v", val)
	}
	val, err = env.Resolver.GetByPath(env.Ctx, "t1", "auto_notification.payment_due_reminder.channel", "")
	if err != nil {
		t.Fatal(err)
	}
	if s, ok := val.(string); !ok || s != "" {
		t.Fatalf("stored empty string must come back, got %v", val)
	}
	// absent key stays nil
	val, err = env.Resolver.GetByPath(env.Ctx, "t1", "auto_notification.payment_due_reminder.template", "")
	if err != nil {
		t.Fatal(err)
	}
	if val != nil {
		t.Fatalf("absent key must be nil, got %v", val)
	}
}

func TestGetByPathLegacyFallback(t *testing.T) {
	env := newTestEnv(t)
	seedConfig(t, env, `{"auto_notification":{"overdue":{"enabled":true}}}`)

	val, err := env.Resolver.GetByPath(env.Ctx, "t1",
		"auto_notification.overdue_outstanding_over_limit.enabled",
		"auto_notification.overdue.enabled")
	if err != nil {
		t.Fatal(err)
	}
	if b, ok := val.(bool); !ok || !b {
		t.Fatalf("expected legacy true, got %v", val)
	}
	if !bytes.Contains(env.Log.Bytes(), []byte("legacy path")) {
		t.Fatalf("legacy fallback must be logged, log: %s", env.Log.String())
	}

	// primary path wins when both exist
	seedConfig(t, env, `{"auto_notification":{"overdue":{"enabled":true},"overdue_outstanding_over_limit":{"enabled":false}}}`)
	env.Log.Reset()
	val, err = env.Resolver.GetByPath(env.Ctx, "t1",
		"auto_notification.overdue_outstanding_over_limit.enabled",
		"auto_notification.overdue.enabled")
	if err != nil {
		t.Fatal(err)
	}
	if b, ok := val.(bool); !ok || b {
		t.Fatalf("primary path must win, got %v", val)
	}
	if env.Log.Len() != 0 {
		t.Fatalf("no legacy log expected, got %s", env.Log.String())
	}
}

func TestGetByPathRejectsUnknownEventType(t *testing.T) {
	env := newTestEnv(t)
	seedConfig(t, env, `{"auto_notification":{"bogus_event":{"enabled":true}}}`)
	_, err := env.Resolver.GetByPath(env.Ctx, "t1", "auto_notification.bogus_event.enabled", "")
	var invalid *catalog.InvalidEventTypeError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidEventTypeError, got %v", err)
	}
	// a bare two-segment path is validated too
	_, err = env.Resolver.GetByPath(env.Ctx, "t1", "auto_notification.bogus_event", "")
	if !errors.As(err, &invalid) {
		t.Fatalf("two-segment path: expected InvalidEventTypeError, got %v", err)
	}

	// legacy paths are not validated
	val, err := env.Resolver.GetByPath(env.Ctx, "t1",
		"auto_notification.payment_due_reminder.enabled",
		"auto_notification.bogus_event.enabled")
	if err != nil {
		t.Fatalf("legacy path must skip validation: %v", err)
	}
	if b, ok := val.(bool); !ok || !b {
		t.Fatalf("expected legacy value, got %v", val)
	}
}

func TestEventPolicyPath(t *testing.T) {
	path, err := policy.EventPolicyPath("payment_due_reminder", "enabled")
	if err != nil {
		t.Fatal(err)
	}
	if path != "auto_notification.payment_due_reminder.enabled" {
		t.Fatalf("got %q", path)
	}
	path, err = policy.EventPolicyPath("payment_due_reminder", "throttle_daily_limit", "throttle.daily_limit")
	if err != nil {
		t.Fatal(err)
	}
	if path != "auto_notification.payment_due_reminder.throttle.daily_limit" {
		t.Fatalf("got %q", path)
	}
	if _, err := policy.EventPolicyPath("nope", "enabled"); err == nil {
		t.Fatal("expected catalog error")
	}
}

func TestAIEnabledNeedsBothSwitches(t *testing.T) {
	env := newTestEnv(t)
	on, err := env.Resolver.AIEnabled(env.Ctx, "t1")
	if err != nil || on {
		t.Fatalf("no tenant flag: want off, got %v err %v", on, err)
	}
	if err := env.Repo.SetTenantFeature(env.Ctx, "t1", "ai", true); err != nil {
		t.Fatal(err)
	}
	on, err = env.Resolver.AIEnabled(env.Ctx, "t1")
	if err != nil || !on {
		t.Fatalf("both switches on: want on, got %v err %v", on, err)
	}
	env.Resolver.PlatformAI = false
	on, err = env.Resolver.AIEnabled(env.Ctx, "t1")
	if err != nil || on {
		t.Fatalf("platform off must win, got %v err %v", on, err)
	}
}

func TestNormalizeChannel(t *testing.T) {
	env := newTestEnv(t)
	if got := env.Resolver.NormalizeChannel("t1", "kakao"); got != "kakao_at" {
		t.Fatalf("got %q", got)
	}
	if env.Log.Len() == 0 {
		t.Fatal("kakao rewrite must be logged")
	}
	for _, ch := range []string{"kakao_at", "sms", "email", "app_push"} {
		if got := env.Resolver.NormalizeChannel("t1", ch); got != ch {
			t.Fatalf("%q changed to %q", ch, got)
		}
	}
}
