package taskcard_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"orchestrator/internal/db"
	"orchestrator/internal/domain"
	"orchestrator/internal/migrate"
	"orchestrator/internal/repo"
	"orchestrator/internal/taskcard"
)

type testEnv struct {
	Creator taskcard.Creator
	Repo    repo.Repo
	Ctx     context.Context
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
	creator := taskcard.Creator{
		Repo: r,
		Now:  func() time.Time { return time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC) },
	}
	return testEnv{Creator: creator, Repo: r, Ctx: ctx}
}

func intp(v int) *int { return &v }

func input(key string, priority int) taskcard.CardInput {
	return taskcard.CardInput{
		TenantID: "t1",
		Title:    "Follow up",
		TaskType: "billing.exec.send_overdue_notice_1st",
		Priority: intp(priority),
		DedupKey: key,
		Source:   "automation",
	}
}

func TestDedupKeyFormat(t *testing.T) {
	key := taskcard.DedupKey("t1", "absence_first_day", "student", "p9", "2024-05-01")
	if key != "t1:absence_first_day:student:p9:2024-05-01" {
		t.Fatalf("got %q", key)
	}
	key = taskcard.DedupKey("t1", "monthly_business_report", "tenant", "", "2024-05")
	if key != "t1:monthly_business_report:tenant:global:2024-05" {
		t.Fatalf("tenant scope must use global segment, got %q", key)
	}
}

func TestPriorityRequired(t *testing.T) {
	env := newTestEnv(t)
	in := input("k1", 50)
	in.Priority = nil
	if _, _, err := env.Creator.Create(env.Ctx, in); err != taskcard.ErrPriorityRequired {
		t.Fatalf("want ErrPriorityRequired, got %v", err)
	}
	in.Priority = intp(101)
	if _, _, err := env.Creator.Create(env.Ctx, in); err != taskcard.ErrPriorityRange {
		t.Fatalf("want ErrPriorityRange, got %v", err)
	}
}

func TestRepeatedTriggersCollapse(t *testing.T) {
	env := newTestEnv(t)
	first, created, err := env.Creator.Create(env.Ctx, input("k1", 40))
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	second, created, err := env.Creator.Create(env.Ctx, input("k1", 60))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Fatal("second trigger must merge, not insert")
	}
	if second.ID != first.ID {
		t.Fatalf("merged into different card: %s vs %s", second.ID, first.ID)
	}
	if second.Priority != 60 {
		t.Fatalf("priority must rise to 60, got %d", second.Priority)
	}

	// lower priority never lowers the card
	third, _, err := env.Creator.Create(env.Ctx, input("k1", 10))
	if err != nil {
		t.Fatal(err)
	}
	if third.Priority != 60 {
		t.Fatalf("priority must not drop, got %d", third.Priority)
	}

	cards, err := env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: "t1", Status: "pending"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 {
		t.Fatalf("exactly one pending card expected, got %d", len(cards))
	}
}

func TestResolvedCardFreesDedupSlot(t *testing.T) {
	env := newTestEnv(t)
	card, _, err := env.Creator.Create(env.Ctx, input("k1", 50))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	if err := env.Repo.UpdateTaskCardStatus(env.Ctx, "t1", card.ID, "approved", now); err != nil {
		t.Fatal(err)
	}
	fresh, created, err := env.Creator.Create(env.Ctx, input("k1", 50))
	if err != nil {
		t.Fatal(err)
	}
	if !created || fresh.ID == card.ID {
		t.Fatalf("approved card must not block a new insert: created=%v", created)
	}
}

func TestMergeRefreshesSuggestionLeavesActionURL(t *testing.T) {
	env := newTestEnv(t)
	firstURL := "https://app.example.com/students/p9"
	in := input("k1", 50)
	in.EntityID = "p9"
	in.EntityType = "student"
	in.ActionURL = &firstURL
	in.SuggestedAction = map[string]any{"action_key": "send_notice", "params": map[string]any{"round": 1}}
	card, created, err := env.Creator.Create(env.Ctx, in)
	if err != nil || !created {
		t.Fatalf("first create: created=%v err=%v", created, err)
	}
	if card.EntityID == nil || *card.EntityID != "p9" || card.EntityType != "student" {
		t.Fatalf("entity not stored: %+v", card)
	}

	otherURL := "https://app.example.com/somewhere-else"
	again := input("k1", 50)
	again.Description = "second trigger"
	again.ActionURL = &otherURL
	again.SuggestedAction = map[string]any{"action_key": "send_notice", "params": map[string]any{"round": 2}}
	merged, created, err := env.Creator.Create(env.Ctx, again)
	if err != nil || created {
		t.Fatalf("second create must merge: created=%v err=%v", created, err)
	}
	if merged.Description != "second trigger" {
		t.Fatalf("description not refreshed: %q", merged.Description)
	}
	if merged.SuggestedActionJSON == nil || !strings.Contains(*merged.SuggestedActionJSON, `"round":2`) {
		t.Fatalf("suggested action not refreshed: %v", merged.SuggestedActionJSON)
	}
	if merged.ActionURL == nil || *merged.ActionURL != firstURL {
		t.Fatalf("action url must keep its first value, got %v", merged.ActionURL)
	}

	stored, err := env.Repo.GetTaskCard(env.Ctx, "t1", card.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.ActionURL == nil || *stored.ActionURL != firstURL {
		t.Fatalf("stored action url changed: %v", stored.ActionURL)
	}
	if stored.SuggestedActionJSON == nil || !strings.Contains(*stored.SuggestedActionJSON, `"round":2`) {
		t.Fatalf("stored suggested action stale: %v", stored.SuggestedActionJSON)
	}
}

func TestMergeFillsMissingActionURL(t *testing.T) {
	env := newTestEnv(t)
	if _, _, err := env.Creator.Create(env.Ctx, input("k1", 50)); err != nil {
		t.Fatal(err)
	}
	url := "https://app.example.com/tasks"
	in := input("k1", 50)
	in.ActionURL = &url
	merged, _, err := env.Creator.Create(env.Ctx, in)
	if err != nil {
		t.Fatal(err)
	}
	if merged.ActionURL == nil || *merged.ActionURL != url {
		t.Fatalf("unset action url must take the merge value, got %v", merged.ActionURL)
	}
}

func TestConcurrentCreatesYieldOnePendingCard(t *testing.T) {
	env := newTestEnv(t)
	const callers = 10
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			if _, _, err := env.Creator.Create(env.Ctx, input("k1", p)); err != nil {
				t.Errorf("concurrent create: %v", err)
			}
		}(40 + i%5)
	}
	wg.Wait()
	cards, err := env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: "t1", Status: "pending"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 {
		t.Fatalf("exactly one pending card expected, got %d", len(cards))
	}
}

func TestCreateBatch(t *testing.T) {
	env := newTestEnv(t)
	var inputs []taskcard.CardInput
	for _, key := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		inputs = append(inputs, input("k-"+key, 50))
	}
	inputs = append(inputs, input("k-a", 70)) // duplicate, merges
	bad := input("k-bad", 50)
	bad.Priority = nil
	inputs = append(inputs, bad)

	out := env.Creator.CreateBatch(env.Ctx, inputs)
	if out.Created != 7 || out.Merged != 1 || out.Failed != 1 {
		t.Fatalf("got %+v", out)
	}
}

func TestExpireSweep(t *testing.T) {
	env := newTestEnv(t)
	past := "2024-04-01T00:00:00Z"
	future := "2024-06-01T00:00:00Z"
	in := input("old", 50)
	in.ExpiresAt = &past
	if _, _, err := env.Creator.Create(env.Ctx, in); err != nil {
		t.Fatal(err)
	}
	in = input("fresh", 50)
	in.ExpiresAt = &future
	if _, _, err := env.Creator.Create(env.Ctx, in); err != nil {
		t.Fatal(err)
	}

	n, err := env.Creator.ExpireSweep(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired card, got %d", n)
	}
	cards, err := env.Repo.ListTaskCards(env.Ctx, repo.TaskCardFilters{TenantID: "t1", Status: "expired"})
	if err != nil {
		t.Fatal(err)
	}
	if len(cards) != 1 || !strings.HasSuffix(cards[0].DedupKey, "old") {
		t.Fatalf("wrong card expired: %+v", cards)
	}
}
