// Package resolver turns a free-text operator message into an outcome: a
// synchronous query answer, a deferred work item, or a plain reply. The
// model proposes an intent, the parser validates it against the closed
// registry, and a keyword fallback covers model failure. L0 intents run
// immediately; L1 and L2 intents become task cards that a human reviews
// before anything irreversible happens.
package resolver

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"orchestrator/internal/domain"
	"orchestrator/internal/intent"
	"orchestrator/internal/policy"
	"orchestrator/internal/repo"
	"orchestrator/internal/taskcard"
	"orchestrator/internal/throttle"
)

const (
	cardSource = "chatops"

	priorityPolicyPath = "chatops.task_card.priority"
	ttlPolicyPath      = "chatops.task_card.ttl_days"
	defaultTTLDays     = 7
)

// Outcome is the result of resolving one message.
type Outcome struct {
	Response   string         `json:"response"`
	Intent     *intent.Intent `json:"intent,omitempty"`
	L0Result   any            `json:"l0_result,omitempty"`
	TaskCardID string         `json:"task_card_id,omitempty"`
}

type Resolver struct {
	Model   Model
	Creator taskcard.Creator
	Policy  policy.Resolver
	Repo    repo.Repo
	Logger  *log.Logger
	Now     func() time.Time
}

func (r Resolver) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r Resolver) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Resolve runs the full pipeline for one message. Model and parse failures
// degrade to the keyword fallback and then to a plain reply; they are never
// surfaced as errors. An error return means a store operation failed.
//
// The model is only consulted when AI is enabled for the tenant. A failed
// enablement read counts as disabled, so the gate fails closed.
func (r Resolver) Resolve(ctx context.Context, tenant domain.Tenant, message string) (Outcome, error) {
	reply := ""
	if r.Model != nil {
		enabled, err := r.Policy.AIEnabled(ctx, tenant.ID)
		if err != nil {
			r.logger().Printf("resolver: ai enablement read failed for tenant %s, treating as disabled: %v", tenant.ID, err)
			enabled = false
		}
		if enabled {
			reply, err = r.Model.Complete(ctx, buildPrompt(message))
			if err != nil {
				r.logger().Printf("resolver: model call failed for tenant %s: %v", tenant.ID, err)
				reply = ""
			}
		} else {
			r.logger().Printf("resolver: ai disabled for tenant %s, using keyword fallback", tenant.ID)
		}
	}

	in, matched := r.matchIntent(tenant.ID, message, reply)
	if !matched {
		return Outcome{Response: plainResponse(reply)}, nil
	}
	item, _ := intent.Get(in.Key)

	norm := intent.Normalizer{Repo: r.Repo, Now: r.Now}
	in.Params = norm.Normalize(ctx, tenant, in.Params)

	if item.Level == intent.LevelL0 {
		return r.runQuery(ctx, tenant, in)
	}
	return r.createCard(ctx, tenant, message, in, item)
}

func (r Resolver) matchIntent(tenantID, message, reply string) (intent.Intent, bool) {
	if reply != "" {
		in, err := intent.Parse(reply)
		if err == nil {
			return in, true
		}
		r.logger().Printf("resolver: model reply for tenant %s carried no usable intent: %v", tenantID, err)
	}
	return intent.Fallback(message)
}

func plainResponse(reply string) string {
	resp := strings.TrimSpace(intent.StripIntentJSON(reply))
	if resp == "" {
		resp = "요청을 이해하지 못했어요. 다른 표현으로 다시 말씀해 주세요."
	}
	return resp
}

// runQuery dispatches an L0 intent to its handler. L0 keys without a
// handler get a polite refusal rather than an error; the registry is wider
// than the implemented query surface.
func (r Resolver) runQuery(ctx context.Context, tenant domain.Tenant, in intent.Intent) (Outcome, error) {
	handler, ok := l0Handlers[in.Key]
	if !ok {
		return Outcome{
			Response: "아직 지원하지 않는 조회입니다.",
			Intent:   &in,
		}, nil
	}
	result, response, err := handler(ctx, r, tenant, in.Params)
	if err != nil {
		return Outcome{}, fmt.Errorf("query %s: %w", in.Key, err)
	}
	return Outcome{Response: response, Intent: &in, L0Result: result}, nil
}

// createCard materializes an L1/L2 intent as a task card. The card is the
// approval artifact: nothing outbound or state-changing happens here.
func (r Resolver) createCard(ctx context.Context, tenant domain.Tenant, message string, in intent.Intent, item intent.RegistryItem) (Outcome, error) {
	if marker, failed := in.Params[intent.ResolveFailedKey]; failed {
		return Outcome{
			Response: clarifyResponse(marker),
			Intent:   &in,
		}, nil
	}

	entityID, err := cardEntityID(item, in.Params)
	if err != nil {
		return Outcome{
			Response: "대상을 알 수 없어요. 학생이나 반 이름을 함께 알려주세요.",
			Intent:   &in,
		}, nil
	}

	now := r.now()
	window := throttle.WindowStart(tenant, now)
	if item.Card.Window == "month" {
		window = monthWindow(tenant, now)
	}

	priority, err := r.policyInt(ctx, tenant.ID, priorityPolicyPath, taskcard.DefaultPriority)
	if err != nil {
		return Outcome{}, err
	}
	ttlDays, err := r.policyInt(ctx, tenant.ID, ttlPolicyPath, defaultTTLDays)
	if err != nil {
		return Outcome{}, err
	}
	expires := now.In(tenantLoc(tenant)).AddDate(0, 0, ttlDays).Format("2006-01-02")

	metadata := map[string]any{
		"intent_key":       in.Key,
		"automation_level": in.Level,
		"message":          message,
	}
	if in.Class != "" {
		metadata["execution_class"] = in.Class
	}

	suggested := map[string]any{"params": in.Params}
	if item.EventType != "" {
		suggested["event_type"] = item.EventType
	}
	if item.ActionKey != "" {
		suggested["action_key"] = item.ActionKey
	}

	card, created, err := r.Creator.Create(ctx, taskcard.CardInput{
		TenantID:        tenant.ID,
		EntityID:        entityID,
		EntityType:      item.Card.EntityType,
		Title:           item.Description,
		Description:     message,
		TaskType:        item.Card.TaskType,
		Priority:        &priority,
		DedupKey:        taskcard.DedupKey(tenant.ID, cardSource, item.Card.EntityType, entityID, window),
		Source:          cardSource,
		SuggestedAction: suggested,
		Metadata:        metadata,
		ExpiresAt:       &expires,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("create card for %s: %w", in.Key, err)
	}

	response := fmt.Sprintf("'%s' 작업 카드를 만들었어요. 작업 목록에서 확인 후 승인해 주세요.", item.Description)
	if !created {
		response = fmt.Sprintf("이미 대기 중인 '%s' 작업이 있어 요청을 합쳤어요.", item.Description)
	}
	return Outcome{Response: response, Intent: &in, TaskCardID: card.ID}, nil
}

func clarifyResponse(marker any) string {
	if m, ok := marker.(map[string]any); ok {
		if v, ok := m["original_value"].(string); ok && v != "" {
			return fmt.Sprintf("'%s'(을)를 찾지 못했어요. 이름을 확인해 주세요.", v)
		}
	}
	return "대상을 찾지 못했어요. 이름을 확인해 주세요."
}

// cardEntityID picks the dedup entity for a card spec. The entity types
// form a closed set; a registry item with an unknown one is a programming
// error surfaced here.
func cardEntityID(item intent.RegistryItem, params map[string]any) (string, error) {
	switch item.Card.EntityType {
	case "student":
		id, _ := params["student_id"].(string)
		if id == "" {
			return "", fmt.Errorf("intent %s needs student_id", item.Key)
		}
		return id, nil
	case "class":
		id, _ := params["class_id"].(string)
		if id == "" {
			return "", fmt.Errorf("intent %s needs class_id", item.Key)
		}
		return id, nil
	case "tenant":
		return "", nil
	default:
		return "", fmt.Errorf("intent %s has unknown entity type %q", item.Key, item.Card.EntityType)
	}
}

func tenantLoc(tenant domain.Tenant) *time.Location {
	loc, err := time.LoadLocation(tenant.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func monthWindow(tenant domain.Tenant, now time.Time) string {
	return now.In(tenantLoc(tenant)).Format("2006-01")
}

func (r Resolver) policyInt(ctx context.Context, tenantID, path string, fallback int) (int, error) {
	v, err := r.Policy.GetByPath(ctx, tenantID, path, "")
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	}
	return fallback, nil
}

// buildPrompt frames the message for the model: the closed intent list plus
// the reply contract. The parser tolerates prose around the JSON block.
func buildPrompt(message string) string {
	keys := make([]string, 0, len(intent.Registry))
	for k := range intent.Registry {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("당신은 학원 운영 비서입니다. 아래 의도 목록에서만 선택하세요.\n\n")
	for _, k := range keys {
		item := intent.Registry[k]
		fmt.Fprintf(&b, "- %s (%s", item.Key, item.Level)
		if item.Class != "" {
			fmt.Fprintf(&b, "-%s", item.Class)
		}
		fmt.Fprintf(&b, "): %s\n", item.Description)
	}
	b.WriteString("\n해당하는 의도가 있으면 답변에 아래 형식의 JSON 블록을 포함하세요:\n")
	b.WriteString("```json\n{\"intent_key\": \"...\", \"automation_level\": \"L0|L1|L2\", \"execution_class\": \"A|B\", \"params\": {}}\n```\n")
	b.WriteString("목록에 없는 의도는 절대 만들지 마세요. 해당 의도가 없으면 일반 답변만 하세요.\n\n")
	b.WriteString("사용자 메시지: " + message)
	return b.String()
}
