package orchestrator

import (
	"context"
	"fmt"
	"time"

	"orchestrator/internal/domain"
	"orchestrator/internal/policy"
	"orchestrator/internal/taskcard"
	"orchestrator/internal/throttle"
)

// Batch card priorities. Policy may override per event via the priority
// field; these are the floors when it does not.
const (
	absenceCardPriority = 70
	overdueCardPriority = 60
)

// Effects maps event types to their built-in effect. Scheduled callers look
// their event up here; events without an entry need an effect supplied by
// the caller.
func (r Runner) Effects() map[string]Effect {
	return map[string]Effect{
		"absence_first_day":              r.absenceFirstDay,
		"overdue_outstanding_over_limit": r.overdueOutstandingOverLimit,
	}
}

func (r Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Runner) cardPriority(ctx context.Context, tenantID, eventType string, floor int) (int, error) {
	path, err := policy.EventPolicyPath(eventType, "priority")
	if err != nil {
		return 0, err
	}
	v, err := r.Policy.GetByPath(ctx, tenantID, path, "")
	if err != nil {
		return 0, err
	}
	if n, ok := v.(float64); ok {
		return int(n), nil
	}
	return floor, nil
}

// cardChannel reads the delivery channel a tenant configured for an event.
// Retired channel names are normalized for dispatch; the stored policy is
// never rewritten. An unset channel returns "".
func (r Runner) cardChannel(ctx context.Context, tenantID, eventType string) (string, error) {
	path, err := policy.EventPolicyPath(eventType, "channel")
	if err != nil {
		return "", err
	}
	v, err := r.Policy.GetByPath(ctx, tenantID, path, "")
	if err != nil {
		return "", err
	}
	channel, ok := v.(string)
	if !ok || channel == "" {
		return "", nil
	}
	return r.Policy.NormalizeChannel(tenantID, channel), nil
}

// absenceFirstDay emits one card per student whose absence today is their
// first: absent today, not absent yesterday.
func (r Runner) absenceFirstDay(ctx context.Context, tenant domain.Tenant) ([]taskcard.CardInput, error) {
	const eventType = "absence_first_day"
	now := r.now()
	day := throttle.WindowStart(tenant, now)
	prev := prevDay(tenant, now)

	absentees, err := r.Repo.FirstDayAbsentees(ctx, tenant.ID, day, prev)
	if err != nil {
		return nil, fmt.Errorf("first day absentees: %w", err)
	}
	priority, err := r.cardPriority(ctx, tenant.ID, eventType, absenceCardPriority)
	if err != nil {
		return nil, err
	}
	channel, err := r.cardChannel(ctx, tenant.ID, eventType)
	if err != nil {
		return nil, err
	}

	cards := make([]taskcard.CardInput, 0, len(absentees))
	for _, person := range absentees {
		p := priority
		metadata := map[string]any{
			"event_type": eventType,
			"student_id": person.ID,
			"date":       day,
		}
		if channel != "" {
			metadata["channel"] = channel
		}
		cards = append(cards, taskcard.CardInput{
			TenantID:    tenant.ID,
			EntityID:    person.ID,
			EntityType:  "student",
			Title:       fmt.Sprintf("%s 첫 결석 보호자 안내", person.Name),
			Description: fmt.Sprintf("%s 학생이 %s에 처음 결석했습니다. 보호자 안내 발송을 검토하세요.", person.Name, day),
			TaskType:    "ai_suggested",
			Priority:    &p,
			DedupKey:    taskcard.DedupKey(tenant.ID, "absence", "student", person.ID, day),
			Source:      eventType,
			Metadata:    metadata,
		})
	}
	return cards, nil
}

// overdueOutstandingOverLimit emits a single tenant digest card when the
// summed overdue balance crosses the policy threshold. No threshold in
// policy means the automation is not configured, not "threshold zero".
func (r Runner) overdueOutstandingOverLimit(ctx context.Context, tenant domain.Tenant) ([]taskcard.CardInput, error) {
	const eventType = "overdue_outstanding_over_limit"
	now := r.now()
	day := throttle.WindowStart(tenant, now)

	path, err := policy.EventPolicyPath(eventType, "threshold")
	if err != nil {
		return nil, err
	}
	v, err := r.Policy.GetByPath(ctx, tenant.ID, path, "")
	if err != nil {
		return nil, err
	}
	threshold, ok := v.(float64)
	if !ok {
		return nil, fmt.Errorf("tenant %s has no threshold for %s", tenant.ID, eventType)
	}

	balances, err := r.Repo.OverdueBalances(ctx, tenant.ID, day)
	if err != nil {
		return nil, fmt.Errorf("overdue balances: %w", err)
	}
	var total int64
	for _, b := range balances {
		total += b.Total
	}
	if float64(total) < threshold {
		return nil, nil
	}

	priority, err := r.cardPriority(ctx, tenant.ID, eventType, overdueCardPriority)
	if err != nil {
		return nil, err
	}
	channel, err := r.cardChannel(ctx, tenant.ID, eventType)
	if err != nil {
		return nil, err
	}
	metadata := map[string]any{
		"event_type": eventType,
		"total":      total,
		"threshold":  threshold,
		"debtors":    len(balances),
	}
	if channel != "" {
		metadata["channel"] = channel
	}
	return []taskcard.CardInput{{
		TenantID:    tenant.ID,
		EntityType:  "tenant",
		Title:       "연체 잔액 한도 초과",
		Description: fmt.Sprintf("연체 %d명, 총 %d원이 한도 %.0f원을 넘었습니다.", len(balances), total, threshold),
		TaskType:    "ops",
		Priority:    &priority,
		DedupKey:    taskcard.DedupKey(tenant.ID, "billing", "tenant", "", day),
		Source:      eventType,
		Metadata:    metadata,
	}}, nil
}

func prevDay(tenant domain.Tenant, now time.Time) string {
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).AddDate(0, 0, -1).Format("2006-01-02")
}
