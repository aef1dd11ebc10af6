package server

import (
	"orchestrator/internal/domain"
	"orchestrator/internal/resolver"
)

type chatRequest struct {
	Body struct {
		Message string `json:"message" minLength:"1" example:"오늘 지각한 학생 알려줘"`
	}
}

type chatResponse struct {
	Body resolver.Outcome
}

type taskCardPayload struct {
	EntityID        string         `json:"entity_id,omitempty"`
	EntityType      string         `json:"entity_type,omitempty"`
	Title           string         `json:"title" minLength:"1"`
	Description     string         `json:"description,omitempty"`
	TaskType        string         `json:"task_type" minLength:"1"`
	Priority        *int           `json:"priority" minimum:"0" maximum:"100"`
	DedupKey        string         `json:"dedup_key" minLength:"1"`
	Source          string         `json:"source,omitempty"`
	ActionURL       *string        `json:"action_url,omitempty"`
	SuggestedAction map[string]any `json:"suggested_action,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	ExpiresAt       *string        `json:"expires_at,omitempty" format:"date"`
}

type taskCardCreateRequest struct {
	Body taskCardPayload
}

type taskCardCreated struct {
	Card    domain.TaskCard `json:"card"`
	Created bool            `json:"created"`
}

type taskCardCreateResponse struct {
	Body taskCardCreated
}

type taskCardListRequest struct {
	Status   string `query:"status" enum:"pending,approved,executed,expired" required:"false"`
	TaskType string `query:"task_type" required:"false"`
	Source   string `query:"source" required:"false"`
	Limit    int    `query:"limit" minimum:"0" maximum:"500" required:"false"`
}

type taskCardList struct {
	Items []domain.TaskCard `json:"items"`
}

type taskCardListResponse struct {
	Body taskCardList
}

type taskCardStatusRequest struct {
	CardID string `path:"card_id"`
	Body   struct {
		Status string `json:"status" enum:"pending,approved,executed,expired"`
	}
}

type taskCardResponse struct {
	Body domain.TaskCard
}

type safetyStateList struct {
	Items []domain.SafetyState `json:"items"`
}

type safetyStateResponse struct {
	Body safetyStateList
}
