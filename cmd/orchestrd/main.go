package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"orchestrator/internal/app"
	"orchestrator/internal/config"
	"orchestrator/internal/db"
	"orchestrator/internal/domain"
	"orchestrator/internal/orchestrator"
	"orchestrator/internal/repo"
	"orchestrator/internal/resolver"
	"orchestrator/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "orchestrd",
	Short: "Multi-tenant automation orchestrator",
	Long: `orchestrd decides whether autonomous actions may run and records the
work they produce. Per-tenant policy gates each automation event, a daily
throttle caps repeats, and every resulting task card is created exactly once
per dedup key. The same creation path also serves the conversational
endpoint.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("ORCHESTRATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().Bool("ai", false, "enable platform AI features")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("ai", rootCmd.PersistentFlags().Lookup("ai"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sweepExpiredCmd())
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(cardCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(auditCmd())
}

func withRuntime(ctx context.Context, fn func(context.Context, app.Runtime) error) error {
	rt, err := app.Open(viper.GetString("workspace"), viper.GetBool("ai"), log.Default())
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	var addr, basePath, modelURL string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("ORCHESTRATOR_JWT_SECRET"), Logger: rt.Logger}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("ORCHESTRATOR_JWT_SECRET is required for bearer auth")
				}
				res := resolver.Resolver{
					Creator: rt.Creator,
					Policy:  rt.Policy,
					Repo:    rt.Repo,
					Logger:  rt.Logger,
				}
				if modelURL != "" {
					res.Model = resolver.NewHTTPModel(modelURL, os.Getenv("ORCHESTRATOR_MODEL_API_KEY"))
				}
				handler, err := server.New(server.Config{
					Runtime:  rt,
					Resolver: res,
					BasePath: basePath,
					Auth:     authCfg,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				fmt.Printf("Serving orchestrator API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringVar(&modelURL, "model-url", "", "completion model endpoint for /chat")
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				// app.Open already migrates; reaching here means it worked
				fmt.Println("schema up to date")
				return nil
			})
		},
	}
}

func runCmd() *cobra.Command {
	var eventType string
	var workers int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one automation event across all active tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				runner := orchestrator.Runner{
					Repo:     rt.Repo,
					Policy:   rt.Policy,
					Throttle: rt.Throttle,
					Creator:  rt.Creator,
					Audit:    rt.Audit,
					Logger:   rt.Logger,
					Workers:  workers,
				}
				effect, ok := runner.Effects()[eventType]
				if !ok {
					return fmt.Errorf("no built-in effect for event type %q", eventType)
				}
				summary, err := runner.RunEvent(ctx, eventType, effect)
				if err != nil {
					return err
				}
				return printJSON(summary)
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "event", "", "event type to run")
	cmd.Flags().IntVar(&workers, "workers", 0, "tenant fan-out width")
	_ = cmd.MarkFlagRequired("event")
	return cmd
}

func sweepExpiredCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep-expired",
		Short: "Expire pending task cards past their due date",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				n, err := rt.Creator.ExpireSweep(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("expired %d card(s)\n", n)
				return nil
			})
		},
	}
}

func tenantCmd() *cobra.Command {
	tenant := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	tenant.AddCommand(tenantListCmd())
	tenant.AddCommand(tenantSeedCmd())
	return tenant
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				tenants, err := rt.Repo.ListTenants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tenants)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Timezone"})
				for _, t := range tenants {
					tw.AppendRow(table.Row{t.ID, t.Name, t.Status, t.Timezone})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func tenantSeedCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import tenants and policy from orchestrator.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				var cfg *config.Config
				var err error
				if file != "" {
					cfg, err = config.FromFile(file)
				} else {
					cfg, err = config.Load(viper.GetString("workspace"))
				}
				if err != nil {
					return err
				}
				created, err := rt.SeedTenants(ctx, cfg)
				if err != nil {
					return err
				}
				fmt.Printf("seeded %d tenant(s), %d newly created\n", len(cfg.Tenants), created)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "config file (default <workspace>/orchestrator.yml)")
	return cmd
}

func cardCmd() *cobra.Command {
	card := &cobra.Command{Use: "card", Short: "Inspect task cards"}
	card.AddCommand(cardListCmd())
	return card
}

func cardListCmd() *cobra.Command {
	var f repo.TaskCardFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List task cards for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				if f.TenantID == "" {
					return fmt.Errorf("--tenant is required")
				}
				cards, err := rt.Repo.ListTaskCards(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(cards)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Type", "Status", "Priority", "Source", "Expires"})
				for _, c := range cards {
					expires := ""
					if c.ExpiresAt != nil {
						expires = *c.ExpiresAt
					}
					tw.AppendRow(table.Row{c.ID, c.Title, c.TaskType, c.Status, c.Priority, c.Source, expires})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.TenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.TaskType, "type", "", "task type filter")
	cmd.Flags().StringVar(&f.Source, "source", "", "source filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max rows")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	apiKey := &cobra.Command{Use: "api-key", Short: "Manage API keys"}
	apiKey.AddCommand(apiKeyCreateCmd())
	apiKey.AddCommand(apiKeyListCmd())
	apiKey.AddCommand(apiKeyDeleteCmd())
	return apiKey
}

func apiKeyCreateCmd() *cobra.Command {
	var tenantID, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for a tenant",
		Long:  "Prints the raw key once. Only the hash is stored.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				if _, err := rt.Repo.GetTenant(ctx, tenantID); err != nil {
					return fmt.Errorf("tenant %s: %w", tenantID, err)
				}
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:       uuid.NewString(),
					TenantID: tenantID,
					Name:     name,
					KeyHash:  repo.HashAPIKey(raw),
				}
				if err := rt.Repo.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"id": key.ID, "key": raw})
				}
				fmt.Printf("created key %s\nX-Api-Key: %s\n", key.ID, raw)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	_ = cmd.MarkFlagRequired("tenant")
	return cmd
}

func apiKeyListCmd() *cobra.Command {
	var tenantID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				keys, err := rt.Repo.ListAPIKeys(ctx, tenantID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(keys)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Tenant", "Name", "Created"})
				for _, k := range keys {
					tw.AppendRow(table.Row{k.ID, k.TenantID, k.Name, k.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&tenantID, "tenant", "", "tenant id filter")
	return cmd
}

func apiKeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				if err := rt.Repo.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func auditCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show recent orchestration runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt app.Runtime) error {
				runs, err := rt.Audit.Recent(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(runs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Kind", "Event", "Outcome"})
				for _, run := range runs {
					tw.AppendRow(table.Row{run.ID, run.TS, run.Kind, run.EventType, run.Outcome})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max rows")
	return cmd
}
