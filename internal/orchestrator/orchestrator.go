// Package orchestrator fans an automation event out across every active
// tenant. A tenant only reaches its effect after the event passes the
// catalog, the tenant's enabled policy, and the daily throttle; the effect's
// cards then go through the idempotent creation path. One tenant's failure
// never stops the run.
package orchestrator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"orchestrator/internal/audit"
	"orchestrator/internal/catalog"
	"orchestrator/internal/domain"
	"orchestrator/internal/policy"
	"orchestrator/internal/repo"
	"orchestrator/internal/taskcard"
	"orchestrator/internal/throttle"
)

const (
	defaultWorkers      = 4
	defaultStoreTimeout = 10 * time.Second

	// retired policy roots still found in old tenant documents
	legacyPolicyRoot = "notification."
)

// Effect produces the cards an event wants to create for one tenant. It
// runs only after policy and throttle both said yes.
type Effect func(ctx context.Context, tenant domain.Tenant) ([]taskcard.CardInput, error)

type Runner struct {
	Repo     repo.Repo
	Policy   policy.Resolver
	Throttle throttle.Throttle
	Creator  taskcard.Creator
	Audit    audit.Writer
	Logger   *log.Logger
	Now      func() time.Time

	// Workers bounds tenant fan-out; StoreTimeout bounds one tenant's
	// store work.
	Workers      int
	StoreTimeout time.Duration
}

func (r Runner) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Summary aggregates one event run across all tenants.
type Summary struct {
	EventType string `json:"event_type"`
	Tenants   int    `json:"tenants"`
	Disabled  int    `json:"disabled"`
	Throttled int    `json:"throttled"`
	Created   int    `json:"created"`
	Merged    int    `json:"merged"`
	Failed    int    `json:"failed"`
	Errors    int    `json:"errors"`
}

// RunEvent executes one event type across every active tenant. The event
// must be catalogued and active; per-tenant failures are logged and counted,
// never returned. The returned error covers only run-level problems such as
// an unknown event type or a failed tenant listing.
func (r Runner) RunEvent(ctx context.Context, eventType string, effect Effect) (Summary, error) {
	if err := catalog.Assert(eventType); err != nil {
		return Summary{}, err
	}
	if status, _ := catalog.StatusOf(eventType); status != catalog.StatusActive {
		return Summary{}, fmt.Errorf("event type %q is not yet runnable", eventType)
	}
	if effect == nil {
		return Summary{}, fmt.Errorf("event type %q has no effect", eventType)
	}

	tenants, err := r.Repo.ListActiveTenants(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list tenants: %w", err)
	}

	workers := r.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}

	summary := Summary{EventType: eventType, Tenants: len(tenants)}
	var mu sync.Mutex
	var wg sync.WaitGroup
	queue := make(chan domain.Tenant)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tenant := range queue {
				outcome := r.runTenant(ctx, eventType, tenant, effect)
				mu.Lock()
				summary.Disabled += outcome.Disabled
				summary.Throttled += outcome.Throttled
				summary.Created += outcome.Created
				summary.Merged += outcome.Merged
				summary.Failed += outcome.Failed
				summary.Errors += outcome.Errors
				mu.Unlock()
			}
		}()
	}
	for _, tenant := range tenants {
		queue <- tenant
	}
	close(queue)
	wg.Wait()

	r.Audit.Record(ctx, "", "event_run", eventType, runOutcome(summary), audit.Payload{
		"tenants":   summary.Tenants,
		"disabled":  summary.Disabled,
		"throttled": summary.Throttled,
		"created":   summary.Created,
		"merged":    summary.Merged,
		"failed":    summary.Failed,
		"errors":    summary.Errors,
	})
	return summary, nil
}

func runOutcome(s Summary) string {
	if s.Errors > 0 || s.Failed > 0 {
		return "partial"
	}
	return "ok"
}

type tenantOutcome struct {
	Disabled  int
	Throttled int
	Created   int
	Merged    int
	Failed    int
	Errors    int
}

func (r Runner) runTenant(parent context.Context, eventType string, tenant domain.Tenant, effect Effect) tenantOutcome {
	timeout := r.StoreTimeout
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	enabledPath, err := policy.EventPolicyPath(eventType, "enabled")
	if err != nil {
		r.logger().Printf("orchestrator: %s tenant %s: %v", eventType, tenant.ID, err)
		return tenantOutcome{Errors: 1}
	}
	enabled, err := r.Policy.GetByPath(ctx, tenant.ID, enabledPath, legacyPolicyRoot+eventType+".enabled")
	if err != nil {
		r.logger().Printf("orchestrator: %s tenant %s: read enabled policy: %v", eventType, tenant.ID, err)
		return tenantOutcome{Errors: 1}
	}
	if on, ok := enabled.(bool); !ok || !on {
		return tenantOutcome{Disabled: 1}
	}

	limitPath, err := policy.EventPolicyPath(eventType, "", "throttle.daily_limit")
	if err != nil {
		r.logger().Printf("orchestrator: %s tenant %s: %v", eventType, tenant.ID, err)
		return tenantOutcome{Errors: 1}
	}
	decision, err := r.Throttle.CheckAndConsume(ctx, tenant, eventType, limitPath, legacyPolicyRoot+eventType+".daily_limit")
	if err != nil {
		r.logger().Printf("orchestrator: %s tenant %s: throttle: %v", eventType, tenant.ID, err)
		return tenantOutcome{Errors: 1}
	}
	if !decision.Allowed {
		r.logger().Printf("orchestrator: %s tenant %s: denied (%s)", eventType, tenant.ID, decision.Reason)
		return tenantOutcome{Throttled: 1}
	}

	cards, err := effect(ctx, tenant)
	if err != nil {
		r.logger().Printf("orchestrator: %s tenant %s: effect: %v", eventType, tenant.ID, err)
		return tenantOutcome{Errors: 1}
	}
	if len(cards) == 0 {
		return tenantOutcome{}
	}

	batch := r.Creator.CreateBatch(ctx, cards)
	if batch.Failed > 0 {
		r.logger().Printf("orchestrator: %s tenant %s: %d of %d cards failed", eventType, tenant.ID, batch.Failed, len(cards))
	}
	return tenantOutcome{Created: batch.Created, Merged: batch.Merged, Failed: batch.Failed}
}
