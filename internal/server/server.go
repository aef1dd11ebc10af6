// Package server exposes the orchestrator HTTP API: the conversational
// endpoint plus tenant-scoped task card and safety window access. Every
// request except health runs as an authenticated tenant; the tenant never
// comes from the request body.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"orchestrator/internal/app"
	"orchestrator/internal/catalog"
	"orchestrator/internal/repo"
	"orchestrator/internal/resolver"
	"orchestrator/internal/taskcard"
)

// Config for the HTTP API handler.
type Config struct {
	Runtime  app.Runtime
	Resolver resolver.Resolver
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"task card not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the orchestrator API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Runtime.Repo))
	hcfg := huma.DefaultConfig("Orchestrator API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerChat(group, cfg)
	registerTaskCards(group, cfg.Runtime)
	registerSafetyState(group, cfg.Runtime)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, taskcard.ErrPriorityRequired) || errors.Is(err, taskcard.ErrPriorityRange) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var invalid *catalog.InvalidEventTypeError
	if errors.As(err, &invalid) {
		return newAPIError(http.StatusBadRequest, "invalid_event_type", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	if strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required") {
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerChat(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "chat",
		Method:      http.MethodPost,
		Path:        "/chat",
		Summary:     "Resolve a natural-language message",
	}, func(ctx context.Context, input *chatRequest) (*chatResponse, error) {
		tenant, authErr := tenantFromRequest(ctx, cfg.Runtime.Repo)
		if authErr != nil {
			return nil, authErr
		}
		outcome, err := cfg.Resolver.Resolve(ctx, tenant, input.Body.Message)
		if err != nil {
			return nil, handleError(err)
		}
		return &chatResponse{Body: outcome}, nil
	})
}

func registerTaskCards(api huma.API, rt app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "task-card-create",
		Method:      http.MethodPost,
		Path:        "/task-cards",
		Summary:     "Create a task card idempotently",
		Description: "A pending card with the same dedup key absorbs the request instead of duplicating it.",
	}, func(ctx context.Context, input *taskCardCreateRequest) (*taskCardCreateResponse, error) {
		tenant, authErr := tenantFromRequest(ctx, rt.Repo)
		if authErr != nil {
			return nil, authErr
		}
		card, created, err := rt.Creator.Create(ctx, taskcard.CardInput{
			TenantID:        tenant.ID,
			EntityID:        input.Body.EntityID,
			EntityType:      input.Body.EntityType,
			Title:           input.Body.Title,
			Description:     input.Body.Description,
			TaskType:        input.Body.TaskType,
			Priority:        input.Body.Priority,
			DedupKey:        input.Body.DedupKey,
			Source:          input.Body.Source,
			ActionURL:       input.Body.ActionURL,
			SuggestedAction: input.Body.SuggestedAction,
			Metadata:        input.Body.Metadata,
			ExpiresAt:       input.Body.ExpiresAt,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskCardCreateResponse{Body: taskCardCreated{Card: card, Created: created}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-card-list",
		Method:      http.MethodGet,
		Path:        "/task-cards",
		Summary:     "List task cards",
	}, func(ctx context.Context, input *taskCardListRequest) (*taskCardListResponse, error) {
		tenant, authErr := tenantFromRequest(ctx, rt.Repo)
		if authErr != nil {
			return nil, authErr
		}
		cards, err := rt.Repo.ListTaskCards(ctx, repo.TaskCardFilters{
			TenantID: tenant.ID,
			Status:   input.Status,
			TaskType: input.TaskType,
			Source:   input.Source,
			Limit:    input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &taskCardListResponse{Body: taskCardList{Items: cards}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-card-status",
		Method:      http.MethodPatch,
		Path:        "/task-cards/{card_id}",
		Summary:     "Update a task card's status",
	}, func(ctx context.Context, input *taskCardStatusRequest) (*taskCardResponse, error) {
		tenant, authErr := tenantFromRequest(ctx, rt.Repo)
		if authErr != nil {
			return nil, authErr
		}
		now := time.Now().UTC().Format(time.RFC3339)
		if err := rt.Repo.UpdateTaskCardStatus(ctx, tenant.ID, input.CardID, input.Body.Status, now); err != nil {
			return nil, handleError(err)
		}
		card, err := rt.Repo.GetTaskCard(ctx, tenant.ID, input.CardID)
		if err != nil {
			return nil, handleError(err)
		}
		return &taskCardResponse{Body: card}, nil
	})
}

func registerSafetyState(api huma.API, rt app.Runtime) {
	huma.Register(api, huma.Operation{
		OperationID: "safety-state-list",
		Method:      http.MethodGet,
		Path:        "/safety-state",
		Summary:     "List throttle windows",
	}, func(ctx context.Context, _ *struct{}) (*safetyStateResponse, error) {
		tenant, authErr := tenantFromRequest(ctx, rt.Repo)
		if authErr != nil {
			return nil, authErr
		}
		states, err := rt.Repo.ListSafetyStates(ctx, tenant.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &safetyStateResponse{Body: safetyStateList{Items: states}}, nil
	})
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Orchestrator API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}
