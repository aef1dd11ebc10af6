// Package app wires a workspace into the runtime handles the CLI and server
// share: an opened, migrated database plus the repo, policy, throttle, card
// and audit layers built on it.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"orchestrator/internal/audit"
	"orchestrator/internal/config"
	"orchestrator/internal/db"
	"orchestrator/internal/domain"
	"orchestrator/internal/migrate"
	"orchestrator/internal/policy"
	"orchestrator/internal/repo"
	"orchestrator/internal/taskcard"
	"orchestrator/internal/throttle"
)

// Runtime bundles the shared service handles for one workspace.
type Runtime struct {
	DB       *sql.DB
	Repo     repo.Repo
	Policy   policy.Resolver
	Throttle throttle.Throttle
	Creator  taskcard.Creator
	Audit    audit.Writer
	Logger   *log.Logger
}

// Open opens the workspace database, runs migrations, and builds the
// runtime. platformAI is the process-wide AI switch; tenant feature flags
// narrow it further.
func Open(workspace string, platformAI bool, logger *log.Logger) (Runtime, error) {
	if logger == nil {
		logger = log.Default()
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return Runtime{}, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return Runtime{}, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	pol := policy.Resolver{Repo: r, Logger: logger, PlatformAI: platformAI}
	return Runtime{
		DB:       conn,
		Repo:     r,
		Policy:   pol,
		Throttle: throttle.Throttle{Repo: r, Policy: pol},
		Creator:  taskcard.Creator{Repo: r},
		Audit:    audit.Writer{DB: conn, Logger: logger},
		Logger:   logger,
	}, nil
}

// Close releases the runtime's database handle.
func (rt Runtime) Close() error {
	return rt.DB.Close()
}

// SeedTenants imports the config's tenant seeds: tenants are created when
// missing, policy documents and feature flags are upserted either way.
// Returns how many tenants were newly created.
func (rt Runtime) SeedTenants(ctx context.Context, cfg *config.Config) (int, error) {
	created := 0
	for _, seed := range cfg.Tenants {
		_, err := rt.Repo.GetTenant(ctx, seed.ID)
		switch {
		case errors.Is(err, repo.ErrNotFound):
			tz := seed.Timezone
			if tz == "" {
				tz = "Asia/Seoul"
			}
			if err := rt.Repo.InsertTenant(ctx, tenantFromSeed(seed, tz)); err != nil {
				return created, fmt.Errorf("tenant %s: %w", seed.ID, err)
			}
			created++
		case err != nil:
			return created, err
		}

		doc, err := seed.PolicyJSON()
		if err != nil {
			return created, err
		}
		if doc != "" {
			if err := rt.Repo.UpsertTenantSetting(ctx, seed.ID, policy.SettingKey, doc); err != nil {
				return created, fmt.Errorf("tenant %s: store policy: %w", seed.ID, err)
			}
		}
		for _, feature := range seed.Features {
			if err := rt.Repo.SetTenantFeature(ctx, seed.ID, feature, true); err != nil {
				return created, fmt.Errorf("tenant %s: feature %s: %w", seed.ID, feature, err)
			}
		}
	}
	return created, nil
}

func tenantFromSeed(seed config.TenantSeed, tz string) domain.Tenant {
	return domain.Tenant{
		ID:        seed.ID,
		Name:      seed.Name,
		Status:    "active",
		Timezone:  tz,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
}
