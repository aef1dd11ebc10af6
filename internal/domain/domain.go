package domain

type Tenant struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Status    string `json:"status" enum:"active,suspended"`
	Timezone  string `json:"timezone"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type TaskCard struct {
	ID                  string  `json:"id"`
	TenantID            string  `json:"tenant_id"`
	EntityID            *string `json:"entity_id,omitempty"`
	EntityType          string  `json:"entity_type,omitempty"`
	Title               string  `json:"title"`
	Description         string  `json:"description,omitempty"`
	TaskType            string  `json:"task_type"`
	Status              string  `json:"status" enum:"pending,approved,executed,expired"`
	Priority            int     `json:"priority"`
	DedupKey            string  `json:"dedup_key"`
	Source              string  `json:"source,omitempty"`
	ActionURL           *string `json:"action_url,omitempty"`
	SuggestedActionJSON *string `json:"suggested_action_json,omitempty"`
	MetadataJSON        *string `json:"metadata_json,omitempty"`
	ExpiresAt           *string `json:"expires_at,omitempty" format:"date"`
	CreatedAt           string  `json:"created_at" format:"date-time"`
	UpdatedAt           string  `json:"updated_at" format:"date-time"`
}

type SafetyState struct {
	ID            string `json:"id"`
	TenantID      string `json:"tenant_id"`
	ActionType    string `json:"action_type"`
	WindowStart   string `json:"window_start" format:"date"`
	WindowEnd     string `json:"window_end" format:"date"`
	ExecutedCount int    `json:"executed_count"`
	MaxAllowed    int    `json:"max_allowed"`
	State         string `json:"state" enum:"normal,paused"`
	CreatedAt     string `json:"created_at" format:"date-time"`
	UpdatedAt     string `json:"updated_at" format:"date-time"`
}

type Person struct {
	ID        string  `json:"id"`
	TenantID  string  `json:"tenant_id"`
	Name      string  `json:"name"`
	Phone     *string `json:"phone,omitempty"`
	ClassID   *string `json:"class_id,omitempty"`
	Status    string  `json:"status" enum:"enrolled,paused,discharged"`
	CreatedAt string  `json:"created_at" format:"date-time"`
}

type Class struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name"`
	Capacity  int    `json:"capacity"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Attendance struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`
	PersonID string `json:"person_id"`
	Date     string `json:"date" format:"date"`
	Status   string `json:"status" enum:"present,late,absent"`
}

type Invoice struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	PersonID  string `json:"person_id"`
	AmountDue int64  `json:"amount_due"`
	Status    string `json:"status" enum:"open,paid,void"`
	DueDate   string `json:"due_date" format:"date"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type AuditRun struct {
	ID          int64  `json:"id"`
	TS          string `json:"ts" format:"date-time"`
	TenantID    string `json:"tenant_id,omitempty"`
	Kind        string `json:"kind"`
	EventType   string `json:"event_type,omitempty"`
	Outcome     string `json:"outcome"`
	PayloadJSON string `json:"payload_json,omitempty"`
}

type APIKey struct {
	ID        string `json:"id"`
	TenantID  string `json:"tenant_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
