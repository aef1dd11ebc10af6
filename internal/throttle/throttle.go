// Package throttle is the per-tenant, per-action, per-day circuit breaker.
// Each (tenant, action, day) window carries a budget from tenant policy.
// Once the budget is spent the window trips to paused and stays paused until
// a new day starts a fresh window.
package throttle

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"orchestrator/internal/domain"
	"orchestrator/internal/policy"
	"orchestrator/internal/repo"
)

const (
	ReasonOK             = "ok"
	ReasonPolicyNotFound = "policy_not_found"
	ReasonPaused         = "paused"
	ReasonLimitExceeded  = "limit_exceeded"
)

type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason" enum:"ok,policy_not_found,paused,limit_exceeded"`
}

type Throttle struct {
	Repo   repo.Repo
	Policy policy.Resolver

	// Now is injectable for tests.
	Now func() time.Time
}

func (t Throttle) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}

// WindowStart returns the tenant-local calendar day containing now.
// An unknown timezone falls back to UTC rather than failing the check.
func WindowStart(tenant domain.Tenant, now time.Time) string {
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return now.In(loc).Format("2006-01-02")
}

// WindowEnd returns the exclusive end of the window that starts on the
// given tenant-local day: the next calendar day.
func WindowEnd(windowStart string) string {
	day, err := time.Parse("2006-01-02", windowStart)
	if err != nil {
		return windowStart
	}
	return day.AddDate(0, 0, 1).Format("2006-01-02")
}

// CheckAndConsume spends one slot of the tenant's daily budget for
// actionType, creating the window row on first use. The budget is read
// from maxPolicyPath (with optional legacy fallback) only when the window
// row does not exist yet; a tenant without one is denied with
// policy_not_found and no row is created, so there is no
// unlimited-by-default state. Once a window row exists its stored budget
// governs for the rest of the window, even if the policy is edited or
// deleted mid-window.
//
// The increment is a single conditional UPDATE, so concurrent calls for the
// same window can never jointly overshoot the budget. A window that fails
// the conditional update trips to paused and every later call in that
// window is denied.
func (t Throttle) CheckAndConsume(ctx context.Context, tenant domain.Tenant, actionType, maxPolicyPath, legacyPath string) (Decision, error) {
	now := t.now().UTC().Format(time.RFC3339)
	window := WindowStart(tenant, t.now())

	_, err := t.Repo.GetSafetyState(ctx, tenant.ID, actionType, window)
	if err == repo.ErrNotFound {
		maxAllowed, found, err := t.resolveLimit(ctx, tenant.ID, maxPolicyPath, legacyPath)
		if err != nil {
			return Decision{}, err
		}
		if !found {
			return Decision{Reason: ReasonPolicyNotFound}, nil
		}
		if err := t.Repo.EnsureSafetyRow(ctx, uuid.NewString(), tenant.ID, actionType, window, WindowEnd(window), maxAllowed, now); err != nil {
			return Decision{}, fmt.Errorf("ensure safety row: %w", err)
		}
	} else if err != nil {
		return Decision{}, fmt.Errorf("read safety state: %w", err)
	}

	consumed, err := t.Repo.ConsumeSafetySlot(ctx, tenant.ID, actionType, window, now)
	if err != nil {
		return Decision{}, fmt.Errorf("consume safety slot: %w", err)
	}
	if consumed {
		return Decision{Allowed: true, Reason: ReasonOK}, nil
	}

	state, err := t.Repo.GetSafetyState(ctx, tenant.ID, actionType, window)
	if err != nil {
		return Decision{}, fmt.Errorf("read safety state: %w", err)
	}
	if state.State == "paused" {
		return Decision{Reason: ReasonPaused}, nil
	}
	if err := t.Repo.PauseSafetyRow(ctx, tenant.ID, actionType, window, now); err != nil {
		return Decision{}, fmt.Errorf("pause safety row: %w", err)
	}
	return Decision{Reason: ReasonLimitExceeded}, nil
}

// resolveLimit reads the budget from policy. A stored zero is a real budget
// of zero, only an absent or non-numeric value reads as not found.
func (t Throttle) resolveLimit(ctx context.Context, tenantID, path, legacyPath string) (int, bool, error) {
	val, err := t.Policy.GetByPath(ctx, tenantID, path, legacyPath)
	if err != nil {
		return 0, false, err
	}
	switch v := val.(type) {
	case float64:
		return int(v), true, nil
	case int:
		return v, true, nil
	default:
		return 0, false, nil
	}
}
