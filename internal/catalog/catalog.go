// Package catalog is the single source of truth for automation event types.
// An event type that is not listed here cannot be scheduled, executed, or
// referenced by tenant policy. Adding a new automation starts by adding its
// event type to Events.
package catalog

import (
	"fmt"
	"strings"
)

// Status describes whether an event type is runnable or merely announced.
type Status string

const (
	// StatusActive marks event types that can be executed today.
	StatusActive Status = "active"
	// StatusPlanned marks event types that are announced but not yet runnable.
	StatusPlanned Status = "planned"
)

// Events lists every known automation event type, grouped by business
// category. The order is stable and surfaced as-is in error messages.
var Events = []string{
	// financial health
	"payment_due_reminder",
	"invoice_partial_balance",
	"recurring_payment_failed",
	"revenue_target_under",
	"collection_rate_drop",
	"overdue_outstanding_over_limit",
	"revenue_required_per_day",
	"top_overdue_customers_digest",
	"refund_spike",
	"monthly_business_report",

	// capacity optimization
	"class_fill_rate_low_persistent",
	"ai_suggest_class_merge",
	"time_slot_fill_rate_low",
	"high_fill_rate_expand_candidate",
	"unused_class_persistent",
	"weekly_ops_summary",

	// customer retention
	"class_reminder_today",
	"class_schedule_tomorrow",
	"consultation_reminder",
	"absence_first_day",
	"churn_increase",
	"ai_suggest_churn_focus",
	"attendance_rate_drop_weekly",
	"risk_students_weekly_kpi",

	// growth marketing
	"new_member_drop",
	"inquiry_conversion_drop",
	"birthday_greeting",
	"enrollment_anniversary",
	"regional_underperformance",
	"regional_rank_drop",

	// safety and compliance
	"class_change_or_cancel",
	"checkin_reminder",
	"checkout_missing_alert",
	"announcement_urgent",
	"announcement_digest",
	"consultation_summary_ready",
	"attendance_pattern_anomaly",

	// workforce ops
	"teacher_workload_imbalance",
	"staff_absence_schedule_risk",
}

// planned holds event types that are announced but not yet executable.
var planned = map[string]bool{
	"inquiry_conversion_drop":     true,
	"birthday_greeting":           true,
	"enrollment_anniversary":      true,
	"announcement_urgent":         true,
	"announcement_digest":         true,
	"staff_absence_schedule_risk": true,
}

var eventSet = func() map[string]bool {
	set := make(map[string]bool, len(Events))
	for _, e := range Events {
		set[e] = true
	}
	return set
}()

// InvalidEventTypeError reports a string that is not in the catalog.
type InvalidEventTypeError struct {
	EventType string
}

func (e *InvalidEventTypeError) Error() string {
	return fmt.Sprintf("invalid automation event_type %q, must be one of: %s",
		e.EventType, strings.Join(Events, ", "))
}

// IsValid reports whether v names a catalogued event type.
func IsValid(v string) bool {
	return eventSet[v]
}

// Assert fails closed: it returns an *InvalidEventTypeError when v is not in
// the catalog, nil otherwise. Callers on execution paths must check the error
// before touching tenant policy or creating work.
func Assert(v string) error {
	if !IsValid(v) {
		return &InvalidEventTypeError{EventType: v}
	}
	return nil
}

// StatusOf returns the lifecycle status for a catalogued event type.
// The second return is false when v is not in the catalog.
func StatusOf(v string) (Status, bool) {
	if !IsValid(v) {
		return "", false
	}
	if planned[v] {
		return StatusPlanned, true
	}
	return StatusActive, true
}

// ActiveEvents returns the event types that are runnable today, in catalog
// order.
func ActiveEvents() []string {
	out := make([]string, 0, len(Events)-len(planned))
	for _, e := range Events {
		if !planned[e] {
			out = append(out, e)
		}
	}
	return out
}
