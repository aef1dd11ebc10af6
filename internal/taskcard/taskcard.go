// Package taskcard creates work items idempotently. For a fixed dedup key at
// most one pending card exists at any instant; repeated triggers collapse
// into that card and can only raise its priority.
package taskcard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"orchestrator/internal/domain"
	"orchestrator/internal/repo"
)

// DefaultPriority is used only by the interactive conversational path, where
// no event policy carries a priority. Every batch caller must resolve a
// priority from policy and pass it explicitly.
const DefaultPriority = 50

var (
	ErrPriorityRequired = errors.New("priority required")
	ErrPriorityRange    = errors.New("priority must be between 0 and 100")
)

// BatchSize caps concurrent writes per group in CreateBatch.
const BatchSize = 5

type Creator struct {
	Repo repo.Repo
	Now  func() time.Time
}

func (c Creator) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// DedupKey builds the idempotency token for one logical unit of work.
// An empty entityID means tenant-wide scope and uses the "global" segment.
func DedupKey(tenantID, trigger, entityType, entityID, window string) string {
	if entityID == "" {
		entityID = "global"
	}
	return fmt.Sprintf("%s:%s:%s:%s:%s", tenantID, trigger, entityType, entityID, window)
}

type CardInput struct {
	TenantID        string
	EntityID        string
	EntityType      string
	Title           string
	Description     string
	TaskType        string
	Priority        *int
	DedupKey        string
	Source          string
	ActionURL       *string
	SuggestedAction map[string]any
	Metadata        map[string]any
	ExpiresAt       *string
}

func (in CardInput) validate() error {
	if in.TenantID == "" {
		return errors.New("tenant_id required")
	}
	if in.Title == "" {
		return errors.New("title required")
	}
	if in.TaskType == "" {
		return errors.New("task_type required")
	}
	if in.DedupKey == "" {
		return errors.New("dedup_key required")
	}
	if in.Priority == nil {
		return ErrPriorityRequired
	}
	if *in.Priority < 0 || *in.Priority > 100 {
		return ErrPriorityRange
	}
	return nil
}

func marshalField(name string, m map[string]any) (*string, error) {
	if len(m) == 0 {
		return nil, nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", name, err)
	}
	s := string(raw)
	return &s, nil
}

// Create inserts a pending card or merges into the pending card already
// holding the dedup slot. The merge keeps the higher priority, refreshes
// description, suggested action and metadata, and leaves an already-set
// action_url alone. The second return is true for a fresh insert.
//
// Uniqueness is conditional on status='pending', so the algorithm is
// read, merge-or-insert, and on an insert race re-read and merge. No lock
// is taken; the partial unique index arbitrates the race.
func (c Creator) Create(ctx context.Context, in CardInput) (domain.TaskCard, bool, error) {
	if err := in.validate(); err != nil {
		return domain.TaskCard{}, false, err
	}
	suggested, err := marshalField("suggested_action", in.SuggestedAction)
	if err != nil {
		return domain.TaskCard{}, false, err
	}
	metadata, err := marshalField("metadata", in.Metadata)
	if err != nil {
		return domain.TaskCard{}, false, err
	}
	now := c.now().UTC().Format(time.RFC3339)

	existing, err := c.Repo.GetPendingTaskCardByDedupKey(ctx, in.TenantID, in.DedupKey)
	if err == nil {
		merged, err := c.merge(ctx, existing, in, suggested, metadata, now)
		return merged, false, err
	}
	if err != repo.ErrNotFound {
		return domain.TaskCard{}, false, err
	}

	card := domain.TaskCard{
		ID:                  uuid.NewString(),
		TenantID:            in.TenantID,
		EntityType:          in.EntityType,
		Title:               in.Title,
		Description:         in.Description,
		TaskType:            in.TaskType,
		Status:              "pending",
		Priority:            *in.Priority,
		DedupKey:            in.DedupKey,
		Source:              in.Source,
		ActionURL:           in.ActionURL,
		SuggestedActionJSON: suggested,
		MetadataJSON:        metadata,
		ExpiresAt:           in.ExpiresAt,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if in.EntityID != "" {
		id := in.EntityID
		card.EntityID = &id
	}
	err = c.Repo.InsertTaskCard(ctx, card)
	if err == nil {
		return card, true, nil
	}
	if !repo.IsUniqueViolation(err) {
		return domain.TaskCard{}, false, err
	}

	// Lost the insert race: another call created the pending card between
	// our read and insert. Merge into the winner.
	existing, err = c.Repo.GetPendingTaskCardByDedupKey(ctx, in.TenantID, in.DedupKey)
	if err != nil {
		return domain.TaskCard{}, false, fmt.Errorf("re-read after dedup conflict: %w", err)
	}
	merged, err := c.merge(ctx, existing, in, suggested, metadata, now)
	return merged, false, err
}

func (c Creator) merge(ctx context.Context, existing domain.TaskCard, in CardInput, suggested, metadata *string, now string) (domain.TaskCard, error) {
	priority := existing.Priority
	if *in.Priority > priority {
		priority = *in.Priority
	}
	if err := c.Repo.MergeTaskCard(ctx, existing.ID, in.Description, suggested, metadata, priority, in.ActionURL, now); err != nil {
		return domain.TaskCard{}, err
	}
	existing.Description = in.Description
	existing.SuggestedActionJSON = suggested
	existing.MetadataJSON = metadata
	existing.Priority = priority
	if existing.ActionURL == nil {
		existing.ActionURL = in.ActionURL
	}
	existing.UpdatedAt = now
	return existing, nil
}

type BatchOutcome struct {
	Created int `json:"created"`
	Merged  int `json:"merged"`
	Failed  int `json:"failed"`
}

// CreateBatch processes inputs in groups of BatchSize, concurrent within a
// group and sequential across groups. A failed input is counted and skipped,
// it never aborts the rest of the batch.
func (c Creator) CreateBatch(ctx context.Context, inputs []CardInput) BatchOutcome {
	var out BatchOutcome
	var mu sync.Mutex
	for start := 0; start < len(inputs); start += BatchSize {
		end := start + BatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		var wg sync.WaitGroup
		for _, in := range inputs[start:end] {
			wg.Add(1)
			go func(in CardInput) {
				defer wg.Done()
				_, created, err := c.Create(ctx, in)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err != nil:
					out.Failed++
				case created:
					out.Created++
				default:
					out.Merged++
				}
			}(in)
		}
		wg.Wait()
	}
	return out
}

// ExpireSweep flips pending cards past their expiry to expired and returns
// how many were flipped.
func (c Creator) ExpireSweep(ctx context.Context) (int64, error) {
	now := c.now().UTC().Format(time.RFC3339)
	return c.Repo.ExpirePendingBefore(ctx, now, now)
}
