package repo

import (
	"context"
	"database/sql"

	"orchestrator/internal/domain"
)

// EnsureSafetyRow lazily creates the counter row for (tenant, action, window).
// INSERT OR IGNORE keeps concurrent first calls from racing each other.
func (r Repo) EnsureSafetyRow(ctx context.Context, id, tenantID, actionType, windowStart, windowEnd string, maxAllowed int, now string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT OR IGNORE INTO automation_safety_state(id,tenant_id,action_type,window_start,window_end,executed_count,max_allowed,state,created_at,updated_at)
VALUES (?,?,?,?,?,0,?,'normal',?,?)`, id, tenantID, actionType, windowStart, windowEnd, maxAllowed, now, now)
	return err
}

// ConsumeSafetySlot atomically increments the counter, but only while the row
// is normal and under its limit. Returns true when the increment landed.
func (r Repo) ConsumeSafetySlot(ctx context.Context, tenantID, actionType, windowStart, now string) (bool, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE automation_safety_state
SET executed_count=executed_count+1, updated_at=?
WHERE tenant_id=? AND action_type=? AND window_start=? AND state='normal' AND executed_count<max_allowed`,
		now, tenantID, actionType, windowStart)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// PauseSafetyRow flips the row from normal to paused. The transition is one
// way; nothing in this package sets a paused row back to normal.
func (r Repo) PauseSafetyRow(ctx context.Context, tenantID, actionType, windowStart, now string) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE automation_safety_state SET state='paused', updated_at=?
WHERE tenant_id=? AND action_type=? AND window_start=? AND state='normal'`,
		now, tenantID, actionType, windowStart)
	return err
}

func (r Repo) GetSafetyState(ctx context.Context, tenantID, actionType, windowStart string) (domain.SafetyState, error) {
	var s domain.SafetyState
	err := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,action_type,window_start,window_end,executed_count,max_allowed,state,created_at,updated_at
FROM automation_safety_state WHERE tenant_id=? AND action_type=? AND window_start=?`,
		tenantID, actionType, windowStart).
		Scan(&s.ID, &s.TenantID, &s.ActionType, &s.WindowStart, &s.WindowEnd, &s.ExecutedCount, &s.MaxAllowed, &s.State, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return s, ErrNotFound
	}
	return s, err
}

func (r Repo) ListSafetyStates(ctx context.Context, tenantID string) ([]domain.SafetyState, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,action_type,window_start,window_end,executed_count,max_allowed,state,created_at,updated_at
FROM automation_safety_state WHERE tenant_id=? ORDER BY window_start DESC, action_type ASC`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.SafetyState
	for rows.Next() {
		var s domain.SafetyState
		if err := rows.Scan(&s.ID, &s.TenantID, &s.ActionType, &s.WindowStart, &s.WindowEnd, &s.ExecutedCount, &s.MaxAllowed, &s.State, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, s)
	}
	return res, rows.Err()
}
