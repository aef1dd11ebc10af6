// Package policy resolves tenant automation policy. Every automation decision
// is policy driven: a missing policy value means "do not act", never a
// default. Values are read from the tenant_settings KV row key='config'.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"orchestrator/internal/catalog"
	"orchestrator/internal/repo"
)

// SettingKey is the tenant_settings key holding the policy document.
const SettingKey = "config"

type Resolver struct {
	Repo   repo.Repo
	Logger *log.Logger

	// PlatformAI gates AI features globally. Tenant-level flags cannot
	// turn AI on when the platform has it off.
	PlatformAI bool
}

func (p Resolver) logger() *log.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return log.Default()
}

// Config returns the tenant's policy document, or nil when the tenant has
// none. A nil document is a valid state meaning every lookup fails closed.
func (p Resolver) Config(ctx context.Context, tenantID string) (map[string]any, error) {
	payload, err := p.Repo.GetTenantSetting(ctx, tenantID, SettingKey)
	if err == repo.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return nil, fmt.Errorf("tenant %s policy document: %w", tenantID, err)
	}
	return doc, nil
}

// walk follows a dotted path through nested objects. The second return
// distinguishes "key absent" from a stored zero value: false, 0, "" and
// null are all real policy values and walk reports them as found.
func walk(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, key := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		val, ok := obj[key]
		if !ok {
			return nil, false
		}
		current = val
	}
	return current, true
}

// GetByPath returns the policy value at a dotted path, or nil when the path
// is absent (fail closed). When legacyPath is non-empty and the primary path
// misses, the legacy path is tried against the same document; a legacy hit
// is logged so the tenant can be migrated.
//
// Paths of the form auto_notification.<event_type>.* have their event type
// checked against the catalog before any lookup. Legacy paths are exempt
// from that check, they predate the catalog.
func (p Resolver) GetByPath(ctx context.Context, tenantID, path, legacyPath string) (any, error) {
	if rest, ok := strings.CutPrefix(path, "auto_notification."); ok && rest != "" {
		eventType, _, _ := strings.Cut(rest, ".")
		if err := catalog.Assert(eventType); err != nil {
			return nil, err
		}
	}
	doc, err := p.Config(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	if val, ok := walk(doc, path); ok {
		return val, nil
	}
	if legacyPath != "" {
		if val, ok := walk(doc, legacyPath); ok {
			p.logger().Printf("policy: tenant %s uses legacy path %q, migrate to %q", tenantID, legacyPath, path)
			return val, nil
		}
	}
	return nil, nil
}

// EventPolicyPath builds the canonical auto_notification path for an event
// policy field. The event type must be catalogued. An optional nested path
// replaces the field for deeper structures, e.g. "throttle.daily_limit".
func EventPolicyPath(eventType, field string, nested ...string) (string, error) {
	if err := catalog.Assert(eventType); err != nil {
		return "", err
	}
	if len(nested) > 0 && nested[0] != "" {
		return "auto_notification." + eventType + "." + nested[0], nil
	}
	return "auto_notification." + eventType + "." + field, nil
}

// FeatureEnabled reports whether a tenant feature flag is on. Missing flags
// read as off.
func (p Resolver) FeatureEnabled(ctx context.Context, tenantID, feature string) (bool, error) {
	enabled, found, err := p.Repo.GetTenantFeature(ctx, tenantID, feature)
	if err != nil {
		return false, err
	}
	return found && enabled, nil
}

// AIEnabled reports whether AI features may run for a tenant. Both the
// platform switch and the tenant 'ai' feature flag must be on.
func (p Resolver) AIEnabled(ctx context.Context, tenantID string) (bool, error) {
	if !p.PlatformAI {
		return false, nil
	}
	return p.FeatureEnabled(ctx, tenantID, "ai")
}

// NormalizeChannel maps retired channel names to their replacements for
// dispatch. The stored policy value is left alone; only the in-flight value
// changes.
func (p Resolver) NormalizeChannel(tenantID, channel string) string {
	if channel == "kakao" {
		p.logger().Printf("policy: tenant %s channel 'kakao' read as 'kakao_at'", tenantID)
		return "kakao_at"
	}
	return channel
}
