package intent

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"orchestrator/internal/domain"
	"orchestrator/internal/repo"
)

// ResolveFailedKey marks params whose human-readable reference could not be
// resolved to an identifier. The failure is carried in the params rather
// than raised, so the conversation continues and a later approval step can
// refuse to act on it.
const ResolveFailedKey = "_resolve_failed"

type Normalizer struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (n Normalizer) now() time.Time {
	if n.Now != nil {
		return n.Now()
	}
	return time.Now()
}

func isUUID(v any) bool {
	s, ok := v.(string)
	if !ok {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// Normalize rewrites model-extracted params into the identifiers handlers
// expect: display names become tenant-scoped person or class IDs and
// free-form dates become YYYY-MM-DD in the tenant's timezone. All rules are
// generic; nothing here switches on the intent key.
func (n Normalizer) Normalize(ctx context.Context, tenant domain.Tenant, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}
	n.resolveStudent(ctx, tenant, out)
	n.resolveClass(ctx, tenant, out)
	n.normalizeDate(tenant, out)
	return out
}

// resolveStudent fills student_id from a display name. A non-UUID
// student_id is treated as a name the model misplaced.
func (n Normalizer) resolveStudent(ctx context.Context, tenant domain.Tenant, params map[string]any) {
	if isUUID(params["student_id"]) {
		return
	}
	name := ""
	if s, ok := params["name"].(string); ok && strings.TrimSpace(s) != "" {
		name = strings.TrimSpace(s)
	} else if s, ok := params["student_id"].(string); ok && strings.TrimSpace(s) != "" {
		name = strings.TrimSpace(s)
	}
	if name == "" {
		return
	}
	person, err := n.Repo.FindPersonByName(ctx, tenant.ID, name)
	if err == nil {
		params["student_id"] = person.ID
		return
	}
	params[ResolveFailedKey] = map[string]any{
		"field":          "student_id",
		"original_value": name,
		"reason":         "student not found",
	}
	if s, ok := params["student_id"].(string); ok && s == name {
		delete(params, "student_id")
	}
}

func (n Normalizer) resolveClass(ctx context.Context, tenant domain.Tenant, params map[string]any) {
	name, ok := params["class_name"].(string)
	if !ok || strings.TrimSpace(name) == "" {
		return
	}
	if _, has := params["class_id"]; has {
		return
	}
	class, err := n.Repo.FindClassByName(ctx, tenant.ID, strings.TrimSpace(name))
	if err == nil {
		params["class_id"] = class.ID
		return
	}
	params[ResolveFailedKey] = map[string]any{
		"field":          "class_id",
		"original_value": strings.TrimSpace(name),
		"reason":         "class not found",
	}
}

var dateLayouts = []string{"2006/01/02", "2006.01.02", "2006-1-2", time.RFC3339, "2006-01-02T15:04:05"}

// normalizeDate resolves relative day words server side in the tenant's
// timezone, then coerces other recognizable layouts to YYYY-MM-DD. An
// unrecognizable date passes through untouched.
func (n Normalizer) normalizeDate(tenant domain.Tenant, params map[string]any) {
	raw, ok := params["date"].(string)
	if !ok || raw == "" {
		return
	}
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		loc = time.UTC
	}
	today := n.now().In(loc)

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "오늘", "today":
		params["date"] = today.Format("2006-01-02")
		return
	case "어제", "yesterday":
		params["date"] = today.AddDate(0, 0, -1).Format("2006-01-02")
		return
	case "내일", "tomorrow":
		params["date"] = today.AddDate(0, 0, 1).Format("2006-01-02")
		return
	}
	if _, err := time.Parse("2006-01-02", raw); err == nil {
		return
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			params["date"] = t.Format("2006-01-02")
			return
		}
	}
}
