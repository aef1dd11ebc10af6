package repo

import (
	"context"
	"database/sql"

	"orchestrator/internal/domain"
)

func (r Repo) InsertPerson(ctx context.Context, p domain.Person) error {
	if p.CreatedAt == "" {
		p.CreatedAt = nowRFC3339()
	}
	if p.Status == "" {
		p.Status = "enrolled"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO persons(id,tenant_id,name,phone,class_id,status,created_at) VALUES (?,?,?,?,?,?,?)`,
		p.ID, p.TenantID, p.Name, nullableStringPtr(p.Phone), nullableStringPtr(p.ClassID), p.Status, p.CreatedAt)
	return err
}

func (r Repo) GetPerson(ctx context.Context, tenantID, id string) (domain.Person, error) {
	var p domain.Person
	var phone, classID sql.NullString
	err := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,name,phone,class_id,status,created_at FROM persons WHERE tenant_id=? AND id=?`, tenantID, id).
		Scan(&p.ID, &p.TenantID, &p.Name, &phone, &classID, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if phone.Valid {
		p.Phone = &phone.String
	}
	if classID.Valid {
		p.ClassID = &classID.String
	}
	return p, nil
}

// FindPersonByName resolves a display name to a person. Exact match wins;
// otherwise a single LIKE match is accepted. Zero or multiple LIKE matches
// report ErrNotFound so callers never act on a guess.
func (r Repo) FindPersonByName(ctx context.Context, tenantID, name string) (domain.Person, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,name,phone,class_id,status,created_at FROM persons WHERE tenant_id=? AND name=? LIMIT 1`, tenantID, name)
	p, err := scanPerson(row)
	if err == nil {
		return p, nil
	}
	if err != ErrNotFound {
		return domain.Person{}, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,name,phone,class_id,status,created_at FROM persons WHERE tenant_id=? AND name LIKE ? LIMIT 2`, tenantID, "%"+name+"%")
	if err != nil {
		return domain.Person{}, err
	}
	defer rows.Close()
	var matches []domain.Person
	for rows.Next() {
		var m domain.Person
		var phone, classID sql.NullString
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &phone, &classID, &m.Status, &m.CreatedAt); err != nil {
			return domain.Person{}, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Person{}, err
	}
	if len(matches) != 1 {
		return domain.Person{}, ErrNotFound
	}
	return matches[0], nil
}

func scanPerson(row *sql.Row) (domain.Person, error) {
	var p domain.Person
	var phone, classID sql.NullString
	err := row.Scan(&p.ID, &p.TenantID, &p.Name, &phone, &classID, &p.Status, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	if phone.Valid {
		p.Phone = &phone.String
	}
	if classID.Valid {
		p.ClassID = &classID.String
	}
	return p, nil
}

func (r Repo) InsertClass(ctx context.Context, c domain.Class) error {
	if c.CreatedAt == "" {
		c.CreatedAt = nowRFC3339()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO classes(id,tenant_id,name,capacity,created_at) VALUES (?,?,?,?,?)`,
		c.ID, c.TenantID, c.Name, c.Capacity, c.CreatedAt)
	return err
}

// FindClassByName resolves a class name the same way FindPersonByName does.
func (r Repo) FindClassByName(ctx context.Context, tenantID, name string) (domain.Class, error) {
	var c domain.Class
	err := r.DB.QueryRowContext(ctx, `SELECT id,tenant_id,name,capacity,created_at FROM classes WHERE tenant_id=? AND name=? LIMIT 1`, tenantID, name).
		Scan(&c.ID, &c.TenantID, &c.Name, &c.Capacity, &c.CreatedAt)
	if err == nil {
		return c, nil
	}
	if err != sql.ErrNoRows {
		return domain.Class{}, err
	}
	rows, err := r.DB.QueryContext(ctx, `SELECT id,tenant_id,name,capacity,created_at FROM classes WHERE tenant_id=? AND name LIKE ? LIMIT 2`, tenantID, "%"+name+"%")
	if err != nil {
		return domain.Class{}, err
	}
	defer rows.Close()
	var matches []domain.Class
	for rows.Next() {
		var m domain.Class
		if err := rows.Scan(&m.ID, &m.TenantID, &m.Name, &m.Capacity, &m.CreatedAt); err != nil {
			return domain.Class{}, err
		}
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Class{}, err
	}
	if len(matches) != 1 {
		return domain.Class{}, ErrNotFound
	}
	return matches[0], nil
}

func (r Repo) InsertAttendance(ctx context.Context, a domain.Attendance) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO attendance(id,tenant_id,person_id,date,status) VALUES (?,?,?,?,?)`,
		a.ID, a.TenantID, a.PersonID, a.Date, a.Status)
	return err
}

// ListAttendanceByStatus returns attendance rows for one tenant, date and
// status, joined with the person name.
func (r Repo) ListAttendanceByStatus(ctx context.Context, tenantID, date, status string) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.id,p.tenant_id,p.name,p.phone,p.class_id,p.status,p.created_at
FROM attendance a JOIN persons p ON p.id=a.person_id
WHERE a.tenant_id=? AND a.date=? AND a.status=? ORDER BY p.name ASC`, tenantID, date, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		var phone, classID sql.NullString
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &phone, &classID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		if phone.Valid {
			p.Phone = &phone.String
		}
		if classID.Valid {
			p.ClassID = &classID.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// FirstDayAbsentees returns persons absent on date but not absent the day
// before. These are the candidates for the first-day absence follow-up.
func (r Repo) FirstDayAbsentees(ctx context.Context, tenantID, date, prevDate string) ([]domain.Person, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.id,p.tenant_id,p.name,p.phone,p.class_id,p.status,p.created_at
FROM attendance a JOIN persons p ON p.id=a.person_id
WHERE a.tenant_id=? AND a.date=? AND a.status='absent'
AND NOT EXISTS (
    SELECT 1 FROM attendance prev
    WHERE prev.tenant_id=a.tenant_id AND prev.person_id=a.person_id AND prev.date=? AND prev.status='absent'
)
ORDER BY p.name ASC`, tenantID, date, prevDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Person
	for rows.Next() {
		var p domain.Person
		var phone, classID sql.NullString
		if err := rows.Scan(&p.ID, &p.TenantID, &p.Name, &phone, &classID, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		if phone.Valid {
			p.Phone = &phone.String
		}
		if classID.Valid {
			p.ClassID = &classID.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

func (r Repo) InsertInvoice(ctx context.Context, inv domain.Invoice) error {
	if inv.CreatedAt == "" {
		inv.CreatedAt = nowRFC3339()
	}
	if inv.Status == "" {
		inv.Status = "open"
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO invoices(id,tenant_id,person_id,amount_due,status,due_date,created_at) VALUES (?,?,?,?,?,?,?)`,
		inv.ID, inv.TenantID, inv.PersonID, inv.AmountDue, inv.Status, inv.DueDate, inv.CreatedAt)
	return err
}

type OverdueBalance struct {
	PersonID   string
	PersonName string
	Total      int64
}

// OverdueBalances sums open invoices past their due date per person,
// largest balance first.
func (r Repo) OverdueBalances(ctx context.Context, tenantID, asOf string) ([]OverdueBalance, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT i.person_id, p.name, SUM(i.amount_due)
FROM invoices i JOIN persons p ON p.id=i.person_id
WHERE i.tenant_id=? AND i.status='open' AND i.due_date<?
GROUP BY i.person_id, p.name
ORDER BY SUM(i.amount_due) DESC, p.name ASC`, tenantID, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []OverdueBalance
	for rows.Next() {
		var b OverdueBalance
		if err := rows.Scan(&b.PersonID, &b.PersonName, &b.Total); err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, rows.Err()
}
