package orchestrator_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"testing"
	"time"

	"orchestrator/internal/audit"
	"orchestrator/internal/catalog"
	"orchestrator/internal/db"
	"orchestrator/internal/domain"
	"orchestrator/internal/migrate"
	"orchestrator/internal/orchestrator"
	"orchestrator/internal/policy"
	"orchestrator/internal/repo"
	"orchestrator/internal/taskcard"
	"orchestrator/internal/throttle"
)

func fixedNow() time.Time {
	// 2024-05-02 in Seoul
	return time.Date(2024, 5, 1, 23, 30, 0, 0, time.UTC)
}

type testEnv struct {
	Repo repo.Repo
	Ctx  context.Context
	Log  *bytes.Buffer
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
	return testEnv{Repo: repo.Repo{DB: conn}, Ctx: context.Background(), Log: &bytes.Buffer{}}
}

func (e testEnv) runner() orchestrator.Runner {
	logger := log.New(e.Log, "", 0)
	pol := policy.Resolver{Repo: e.Repo, Logger: logger}
	return orchestrator.Runner{
		Repo:     e.Repo,
		Policy:   pol,
		Throttle: throttle.Throttle{Repo: e.Repo, Policy: pol, Now: fixedNow},
		Creator:  taskcard.Creator{Repo: e.Repo, Now: fixedNow},
		Audit:    audit.Writer{DB: e.Repo.DB, Logger: logger, Now: fixedNow},
		Logger:   logger,
		Now:      fixedNow,
	}
}

func (e testEnv) seedTenant(t *testing.T, id string, config string) domain.Tenant {
	t.Helper()
	tenant := domain.Tenant{ID: id, Name: "Tenant " + id, Timezone: "Asia/Seoul"}
	if err := e.Repo.InsertTenant(e.Ctx, tenant); err != nil {
		t.Fatal(err)
	}
	if config != "" {
		if err := e.Repo.UpsertTenantSetting(e.Ctx, id, policy.SettingKey, config); err != nil {
			t.Fatal(err)
		}
	}
	return tenant
}

const absenceConfig = `{"auto_notification":{"absence_first_day":{"enabled":true,"throttle":{"daily_limit":5}}}}`

func (e testEnv) seedAbsence(t *testing.T, tenantID, personID, name string, dates ...string) {
	t.Helper()
	if err := e.Repo.InsertPerson(e.Ctx, domain.Person{ID: personID, TenantID: tenantID, Name: name}); err != nil {
		t.Fatal(err)
	}
	for i, date := range dates {
		a := domain.Attendance{
			ID:       fmt.Sprintf("%s-%s-%d", tenantID, personID, i),
			TenantID: tenantID,
			PersonID: personID,
			Date:     date,
			Status:   "absent",
		}
		if err := e.Repo.InsertAttendance(e.Ctx, a); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunEventRejectsUnknownEventType(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner()
	_, err := r.RunEvent(env.Ctx, "no_such_event", r.Effects()["absence_first_day"])
	var invalid *catalog.InvalidEventTypeError
	if !errors.As(err, &invalid) {
		t.Fatalf("got %v", err)
	}
}

func TestRunEventRejectsPlannedEventType(t *testing.T) {
	env := newTestEnv(t)
	r := env.runner()
	noop := func(ctx context.Context, tenant domain.Tenant) ([]taskcard.CardInput, error) { return nil, nil }
	_, err := r.RunEvent(env.Ctx, "birthday_greeting", noop)
	if err == nil || !strings.Contains(err.Error(), "not yet runnable") {
		t.Fatalf("got %v", err)
	}
}

func TestRunEventCreatesFirstAbsenceCards(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedTenant(t, "t1", absenceConfig)
	// first-day absentee: absent today only
	env.seedAbsence(t, tenant.ID, "p1", "김철수", "2024-05-02")
	// absent two days running, not a first day
	env.seedAbsence(t, tenant.ID, "p2", "박소영", "2024-05-01", "2024-05-02")
	// never absent
	env.seedAbsence(t, tenant.ID, "p3", "이민준")

	r := env.runner()
	summary, err := r.RunEvent(env.Ctx, "absence_first_day", r.Effects()["absence_first_day"])
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 1 || summary.Failed != 0 || summary.Errors != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	cards, err := env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: tenant.ID, Status: "pending"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 {
		t.Fatalf("pending cards = %d", len(cards))
	}
	if cards[0].DedupKey != "t1:absence:student:p1:2024-05-02" {
		t.Fatalf("dedup key = %q", cards[0].DedupKey)
	}
	if cards[0].Source != "absence_first_day" {
		t.Fatalf("source = %q", cards[0].Source)
	}

	// the same run repeated merges rather than duplicating
	summary2, err := r.RunEvent(env.Ctx, "absence_first_day", r.Effects()["absence_first_day"])
	if err != nil {
		t.Fatal(err)
	}
	if summary2.Created != 0 || summary2.Merged != 1 {
		t.Fatalf("second summary = %+v", summary2)
	}
	cards, err = env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: tenant.ID, Status: "pending"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 {
		t.Fatalf("pending cards after rerun = %d", len(cards))
	}
}

func TestRunEventCardCarriesNormalizedChannel(t *testing.T) {
	env := newTestEnv(t)
	config := `{"auto_notification":{"absence_first_day":{"enabled":true,"channel":"kakao","throttle":{"daily_limit":5}}}}`
	tenant := env.seedTenant(t, "t1", config)
	env.seedAbsence(t, tenant.ID, "p1", "김철수", "2024-05-02")

	r := env.runner()
	if _, err := r.RunEvent(env.Ctx, "absence_first_day", r.Effects()["absence_first_day"]); err != nil {
		t.Fatal(err)
	}
	cards, err := env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: tenant.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 {
		t.Fatalf("cards = %d", len(cards))
	}
	card := cards[0]
	if card.EntityID == nil || *card.EntityID != "p1" || card.EntityType != "student" {
		t.Fatalf("entity = %v %q", card.EntityID, card.EntityType)
	}
	if card.MetadataJSON == nil || !strings.Contains(*card.MetadataJSON, `"channel":"kakao_at"`) {
		t.Fatalf("metadata = %v", card.MetadataJSON)
	}

	// normalization is read-side only, the stored policy keeps 'kakao'
	stored, err := env.Repo.GetTenantSetting(env.Ctx, tenant.ID, policy.SettingKey)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(stored, `"channel":"kakao"`) {
		t.Fatalf("stored policy rewritten: %s", stored)
	}
}

func TestRunEventSkipsDisabledTenants(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, "on", absenceConfig)
	env.seedTenant(t, "off", `{"auto_notification":{"absence_first_day":{"enabled":false}}}`)
	env.seedTenant(t, "silent", "")
	env.seedAbsence(t, "off", "p1", "김철수", "2024-05-02")

	r := env.runner()
	summary, err := r.RunEvent(env.Ctx, "absence_first_day", r.Effects()["absence_first_day"])
	if err != nil {
		t.Fatal(err)
	}
	if summary.Tenants != 3 || summary.Disabled != 2 {
		t.Fatalf("summary = %+v", summary)
	}
	cards, err := env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: "off"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 0 {
		t.Fatalf("disabled tenant got %d cards", len(cards))
	}
}

func TestRunEventHonorsThrottle(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedTenant(t, "t1",
		`{"auto_notification":{"absence_first_day":{"enabled":true,"throttle":{"daily_limit":1}}}}`)
	env.seedAbsence(t, tenant.ID, "p1", "김철수", "2024-05-02")

	r := env.runner()
	if _, err := r.RunEvent(env.Ctx, "absence_first_day", r.Effects()["absence_first_day"]); err != nil {
		t.Fatal(err)
	}
	summary, err := r.RunEvent(env.Ctx, "absence_first_day", r.Effects()["absence_first_day"])
	if err != nil {
		t.Fatal(err)
	}
	if summary.Throttled != 1 || summary.Created != 0 || summary.Merged != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.Contains(env.Log.String(), "denied") {
		t.Fatalf("log = %q", env.Log.String())
	}
}

func TestRunEventIsolatesTenantFailures(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, "bad", absenceConfig)
	good := env.seedTenant(t, "good", absenceConfig)
	env.seedAbsence(t, good.ID, "p1", "김철수", "2024-05-02")

	r := env.runner()
	effect := func(ctx context.Context, tenant domain.Tenant) ([]taskcard.CardInput, error) {
		if tenant.ID == "bad" {
			return nil, errors.New("boom")
		}
		return r.Effects()["absence_first_day"](ctx, tenant)
	}
	summary, err := r.RunEvent(env.Ctx, "absence_first_day", effect)
	if err != nil {
		t.Fatal(err)
	}
	if summary.Errors != 1 || summary.Created != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	if !strings.Contains(env.Log.String(), "boom") {
		t.Fatalf("log = %q", env.Log.String())
	}
}

func TestOverdueDigestRespectsThreshold(t *testing.T) {
	env := newTestEnv(t)
	tenant := env.seedTenant(t, "t1",
		`{"auto_notification":{"overdue_outstanding_over_limit":{"enabled":true,"threshold":200000,"throttle":{"daily_limit":5}}}}`)
	if err := env.Repo.InsertPerson(env.Ctx, domain.Person{ID: "p1", TenantID: tenant.ID, Name: "김철수"}); err != nil {
		t.Fatal(err)
	}
	if err := env.Repo.InsertInvoice(env.Ctx, domain.Invoice{ID: "i1", TenantID: tenant.ID, PersonID: "p1", AmountDue: 150000, DueDate: "2024-04-01"}); err != nil {
		t.Fatal(err)
	}

	r := env.runner()
	summary, err := r.RunEvent(env.Ctx, "overdue_outstanding_over_limit", r.Effects()["overdue_outstanding_over_limit"])
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 0 {
		t.Fatalf("below threshold created %d", summary.Created)
	}

	if err := env.Repo.InsertInvoice(env.Ctx, domain.Invoice{ID: "i2", TenantID: tenant.ID, PersonID: "p1", AmountDue: 100000, DueDate: "2024-04-15"}); err != nil {
		t.Fatal(err)
	}
	summary, err = r.RunEvent(env.Ctx, "overdue_outstanding_over_limit", r.Effects()["overdue_outstanding_over_limit"])
	if err != nil {
		t.Fatal(err)
	}
	if summary.Created != 1 {
		t.Fatalf("summary = %+v", summary)
	}
	cards, err := env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: tenant.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 || cards[0].DedupKey != "t1:billing:tenant:global:2024-05-02" {
		t.Fatalf("cards = %+v", cards)
	}
}

func TestRunEventWritesAuditRun(t *testing.T) {
	env := newTestEnv(t)
	env.seedTenant(t, "t1", absenceConfig)

	r := env.runner()
	if _, err := r.RunEvent(env.Ctx, "absence_first_day", r.Effects()["absence_first_day"]); err != nil {
		t.Fatal(err)
	}
	runs, err := r.Audit.Recent(env.Ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("audit runs = %d", len(runs))
	}
	if runs[0].Kind != "event_run" || runs[0].EventType != "absence_first_day" || runs[0].Outcome != "ok" {
		t.Fatalf("run = %+v", runs[0])
	}
}
