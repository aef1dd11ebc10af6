package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orchestrator/internal/domain"
	"orchestrator/internal/repo"
	"orchestrator/internal/throttle"
)

type l0Handler func(ctx context.Context, r Resolver, tenant domain.Tenant, params map[string]any) (result any, response string, err error)

// l0Handlers is the implemented query surface. Keys absent here answer with
// a refusal in runQuery.
var l0Handlers = map[string]l0Handler{
	"attendance.query.late":      attendanceQuery("late", "지각"),
	"attendance.query.absent":    attendanceQuery("absent", "결석"),
	"billing.query.overdue_list": overdueListQuery,
	"student.query.search":       studentSearchQuery,
}

func queryDate(r Resolver, tenant domain.Tenant, params map[string]any) string {
	if d, ok := params["date"].(string); ok && d != "" {
		return d
	}
	return throttle.WindowStart(tenant, r.now())
}

func attendanceQuery(status, label string) l0Handler {
	return func(ctx context.Context, r Resolver, tenant domain.Tenant, params map[string]any) (any, string, error) {
		date := queryDate(r, tenant, params)
		persons, err := r.Repo.ListAttendanceByStatus(ctx, tenant.ID, date, status)
		if err != nil {
			return nil, "", err
		}
		if len(persons) == 0 {
			return persons, fmt.Sprintf("%s에 %s한 학생이 없어요.", date, label), nil
		}
		names := make([]string, len(persons))
		for i, p := range persons {
			names[i] = p.Name
		}
		response := fmt.Sprintf("%s %s %d명: %s", date, label, len(persons), strings.Join(names, ", "))
		return persons, response, nil
	}
}

func overdueListQuery(ctx context.Context, r Resolver, tenant domain.Tenant, params map[string]any) (any, string, error) {
	asOf := queryDate(r, tenant, params)
	balances, err := r.Repo.OverdueBalances(ctx, tenant.ID, asOf)
	if err != nil {
		return nil, "", err
	}
	if len(balances) == 0 {
		return balances, "연체 중인 학생이 없어요.", nil
	}
	var total int64
	for _, b := range balances {
		total += b.Total
	}
	response := fmt.Sprintf("연체 %d명, 총 %d원입니다.", len(balances), total)
	return balances, response, nil
}

func studentSearchQuery(ctx context.Context, r Resolver, tenant domain.Tenant, params map[string]any) (any, string, error) {
	var person domain.Person
	var err error
	if id, ok := params["student_id"].(string); ok && id != "" {
		person, err = r.Repo.GetPerson(ctx, tenant.ID, id)
	} else if name, ok := params["name"].(string); ok && name != "" {
		person, err = r.Repo.FindPersonByName(ctx, tenant.ID, name)
	} else {
		return nil, "찾을 학생 이름을 알려주세요.", nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return nil, "학생을 찾지 못했어요.", nil
	}
	if err != nil {
		return nil, "", err
	}
	response := fmt.Sprintf("%s (%s)", person.Name, person.Status)
	return person, response, nil
}
