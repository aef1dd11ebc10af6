// Package audit records orchestration runs. Audit is observability, not
// control flow: a failed write is logged and swallowed so it can never
// change the outcome of the run it describes.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"orchestrator/internal/domain"
)

type Writer struct {
	DB     *sql.DB
	Logger *log.Logger
	Now    func() time.Time
}

func (w Writer) logger() *log.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return log.Default()
}

type Payload map[string]any

// Record inserts one audit run. Errors are logged, never returned.
func (w Writer) Record(ctx context.Context, tenantID, kind, eventType, outcome string, payload Payload) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if payload == nil {
		payload = Payload{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		w.logger().Printf("audit: marshal payload for %s/%s: %v", kind, eventType, err)
		return
	}
	_, err = w.DB.ExecContext(ctx, `INSERT INTO audit_runs(ts,tenant_id,kind,event_type,outcome,payload_json) VALUES (?,?,?,?,?,?)`,
		ts, nullable(tenantID), kind, nullable(eventType), outcome, string(data))
	if err != nil {
		w.logger().Printf("audit: record %s/%s: %v", kind, eventType, err)
	}
}

// Recent returns the newest runs, newest first.
func (w Writer) Recent(ctx context.Context, limit int) ([]domain.AuditRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := w.DB.QueryContext(ctx, `SELECT id,ts,COALESCE(tenant_id,''),kind,COALESCE(event_type,''),outcome,payload_json FROM audit_runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var runs []domain.AuditRun
	for rows.Next() {
		var run domain.AuditRun
		if err := rows.Scan(&run.ID, &run.TS, &run.TenantID, &run.Kind, &run.EventType, &run.Outcome, &run.PayloadJSON); err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
