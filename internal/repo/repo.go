package repo

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"orchestrator/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// IsUniqueViolation reports whether err is a SQLite unique constraint
// failure. modernc.org/sqlite does not expose a typed error for this.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil {
		return nil
	}
	if *v == "" {
		return nil
	}
	return *v
}

func (r Repo) InsertTenant(ctx context.Context, t domain.Tenant) error {
	if t.CreatedAt == "" {
		t.CreatedAt = nowRFC3339()
	}
	if t.Status == "" {
		t.Status = "active"
	}
	if t.Timezone == "" {
		t.Timezone = "Asia/Seoul"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenants(id,name,status,timezone,created_at) VALUES (?,?,?,?,?)`,
		t.ID, t.Name, t.Status, t.Timezone, t.CreatedAt)
	return err
}

func (r Repo) GetTenant(ctx context.Context, id string) (domain.Tenant, error) {
	var t domain.Tenant
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,status,timezone,created_at FROM tenants WHERE id=?`, id).
		Scan(&t.ID, &t.Name, &t.Status, &t.Timezone, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	return t, err
}

func (r Repo) ListTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,timezone,created_at FROM tenants ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.Timezone, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

func (r Repo) ListActiveTenants(ctx context.Context) ([]domain.Tenant, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,name,status,timezone,created_at FROM tenants WHERE status='active' ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Tenant
	for rows.Next() {
		var t domain.Tenant
		if err := rows.Scan(&t.ID, &t.Name, &t.Status, &t.Timezone, &t.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// UpsertTenantSetting stores a JSON document under (tenant_id, key).
func (r Repo) UpsertTenantSetting(ctx context.Context, tenantID, key, valueJSON string) error {
	now := nowRFC3339()
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenant_settings(tenant_id,key,value_json,updated_at) VALUES (?,?,?,?)
ON CONFLICT(tenant_id,key) DO UPDATE SET value_json=excluded.value_json, updated_at=excluded.updated_at`,
		tenantID, key, valueJSON, now)
	return err
}

// GetTenantSetting returns the raw JSON document for (tenant_id, key).
func (r Repo) GetTenantSetting(ctx context.Context, tenantID, key string) (string, error) {
	var payload string
	err := r.DB.QueryRowContext(ctx, `SELECT value_json FROM tenant_settings WHERE tenant_id=? AND key=?`, tenantID, key).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return payload, err
}

func (r Repo) SetTenantFeature(ctx context.Context, tenantID, feature string, enabled bool) error {
	val := 0
	if enabled {
		val = 1
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO tenant_features(tenant_id,feature,enabled) VALUES (?,?,?)
ON CONFLICT(tenant_id,feature) DO UPDATE SET enabled=excluded.enabled`, tenantID, feature, val)
	return err
}

// GetTenantFeature returns (enabled, found). Missing rows report found=false
// so callers can apply their own default.
func (r Repo) GetTenantFeature(ctx context.Context, tenantID, feature string) (bool, bool, error) {
	var enabled int
	err := r.DB.QueryRowContext(ctx, `SELECT enabled FROM tenant_features WHERE tenant_id=? AND feature=?`, tenantID, feature).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, err
	}
	return enabled != 0, true, nil
}
