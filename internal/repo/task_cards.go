package repo

import (
	"context"
	"database/sql"
	"strings"

	"orchestrator/internal/domain"
)

const taskCardColumns = `id,tenant_id,entity_id,COALESCE(entity_type,''),title,COALESCE(description,''),task_type,status,priority,dedup_key,COALESCE(source,''),action_url,suggested_action_json,metadata_json,expires_at,created_at,updated_at`

func scanTaskCard(scan func(dest ...any) error) (domain.TaskCard, error) {
	var c domain.TaskCard
	var entityID, actionURL, suggested, metadata, expiresAt sql.NullString
	err := scan(&c.ID, &c.TenantID, &entityID, &c.EntityType, &c.Title, &c.Description, &c.TaskType, &c.Status,
		&c.Priority, &c.DedupKey, &c.Source, &actionURL, &suggested, &metadata, &expiresAt, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	if err != nil {
		return c, err
	}
	if entityID.Valid {
		c.EntityID = &entityID.String
	}
	if actionURL.Valid {
		c.ActionURL = &actionURL.String
	}
	if suggested.Valid {
		c.SuggestedActionJSON = &suggested.String
	}
	if metadata.Valid {
		c.MetadataJSON = &metadata.String
	}
	if expiresAt.Valid {
		c.ExpiresAt = &expiresAt.String
	}
	return c, nil
}

func (r Repo) InsertTaskCard(ctx context.Context, c domain.TaskCard) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO task_cards(id,tenant_id,entity_id,entity_type,title,description,task_type,status,priority,dedup_key,source,action_url,suggested_action_json,metadata_json,expires_at,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.TenantID, nullableStringPtr(c.EntityID), nullable(c.EntityType), c.Title, nullable(c.Description),
		c.TaskType, c.Status, c.Priority, c.DedupKey, nullable(c.Source), nullableStringPtr(c.ActionURL),
		nullableStringPtr(c.SuggestedActionJSON), nullableStringPtr(c.MetadataJSON), nullableStringPtr(c.ExpiresAt),
		c.CreatedAt, c.UpdatedAt)
	return err
}

func (r Repo) GetTaskCard(ctx context.Context, tenantID, id string) (domain.TaskCard, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCardColumns+` FROM task_cards WHERE tenant_id=? AND id=?`, tenantID, id)
	return scanTaskCard(row.Scan)
}

// GetPendingTaskCardByDedupKey returns the pending card holding the dedup
// slot for (tenant_id, dedup_key), if any.
func (r Repo) GetPendingTaskCardByDedupKey(ctx context.Context, tenantID, dedupKey string) (domain.TaskCard, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+taskCardColumns+` FROM task_cards WHERE tenant_id=? AND dedup_key=? AND status='pending'`, tenantID, dedupKey)
	return scanTaskCard(row.Scan)
}

// MergeTaskCard refreshes an existing pending card in place. Priority must
// already be the resolved value (callers keep the higher of old and new).
// An action_url already on the card wins over the incoming one; COALESCE
// only fills it when the column is still null.
func (r Repo) MergeTaskCard(ctx context.Context, id, description string, suggestedActionJSON, metadataJSON *string, priority int, actionURL *string, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_cards SET description=?, suggested_action_json=?, metadata_json=?, priority=?, action_url=COALESCE(action_url, ?), updated_at=? WHERE id=? AND status='pending'`,
		nullable(description), nullableStringPtr(suggestedActionJSON), nullableStringPtr(metadataJSON), priority, nullableStringPtr(actionURL), updatedAt, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateTaskCardStatus(ctx context.Context, tenantID, id, status, updatedAt string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_cards SET status=?, updated_at=? WHERE tenant_id=? AND id=?`, status, updatedAt, tenantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

type TaskCardFilters struct {
	TenantID string
	Status   string
	TaskType string
	Source   string
	Limit    int
}

func (r Repo) ListTaskCards(ctx context.Context, f TaskCardFilters) ([]domain.TaskCard, error) {
	clauses := []string{"tenant_id=?"}
	args := []any{f.TenantID}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.TaskType != "" {
		clauses = append(clauses, "task_type=?")
		args = append(args, f.TaskType)
	}
	if f.Source != "" {
		clauses = append(clauses, "source=?")
		args = append(args, f.Source)
	}
	query := `SELECT ` + taskCardColumns + ` FROM task_cards WHERE ` + strings.Join(clauses, " AND ") +
		` ORDER BY priority DESC, created_at DESC, id DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.TaskCard
	for rows.Next() {
		c, err := scanTaskCard(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// ExpirePendingBefore flips pending cards whose expiry is at or before the
// cutoff to expired. Returns the number of cards flipped.
func (r Repo) ExpirePendingBefore(ctx context.Context, cutoff, updatedAt string) (int64, error) {
	res, err := r.DB.ExecContext(ctx, `UPDATE task_cards SET status='expired', updated_at=? WHERE status='pending' AND expires_at IS NOT NULL AND expires_at<=?`,
		updatedAt, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
