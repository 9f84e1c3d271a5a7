package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"ndjobi/internal/domain"
	"ndjobi/internal/engine"
	"ndjobi/internal/engine/auth"
	"ndjobi/internal/hub"
	"ndjobi/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	Authz    auth.Service
	Hub      *hub.Hub
	BasePath string
	Auth     AuthConfig
	Logger   *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_transition"`
	Message string         `json:"message" example:"invalid status transition resolved -> pending"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the triage API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Auth.Logger == nil {
		cfg.Auth.Logger = logger
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
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Ndjobi Triage API", "1.0.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerOpenAPI(router, api, basePath)
	registerHealth(group)
	registerReports(group, cfg.Engine, cfg.Authz)
	registerDecisions(group, cfg.Engine, cfg.Authz)
	registerAssessments(group, cfg.Engine, cfg.Authz)
	registerRoles(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerWebsocket(router, basePath, cfg.Hub, cfg.Authz, logger)

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

// handleError maps the engine's typed errors onto the wire envelope with
// enough detail to render a dashboard message.
func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var unroutable engine.UnroutableTypeError
	if errors.As(err, &unroutable) {
		return newAPIError(http.StatusUnprocessableEntity, "unroutable_type", err.Error(), map[string]any{"type": unroutable.Type})
	}
	var transition engine.InvalidTransitionError
	if errors.As(err, &transition) {
		return newAPIError(http.StatusConflict, "invalid_transition", err.Error(), map[string]any{
			"from": string(transition.From),
			"to":   string(transition.To),
		})
	}
	var validation engine.ValidationError
	if errors.As(err, &validation) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var concurrent engine.ConcurrentModificationError
	if errors.As(err, &concurrent) {
		return newAPIError(http.StatusConflict, "concurrent_modification", err.Error(), map[string]any{"report_id": concurrent.ReportID})
	}
	var duplicate engine.DuplicateDecisionError
	if errors.As(err, &duplicate) {
		// Success-equivalent for the caller: the prior decision rides along.
		return newAPIError(http.StatusConflict, "duplicate_decision", err.Error(), map[string]any{
			"decision": duplicate.Existing,
		})
	}
	var forbidden auth.ForbiddenError
	if errors.As(err, &forbidden) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": forbidden.Role})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var repoErr engine.RepositoryError
	if errors.As(err, &repoErr) {
		return newAPIError(http.StatusInternalServerError, "repository_error", "persistence failure", nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", nil)
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

func registerReports(api huma.API, e engine.Engine, authz auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-report",
		Method:        http.MethodPost,
		Path:          "/reports",
		Summary:       "Submit a report",
		Description:   "Routes the report to its specialized agent queue and creates it at the pending status.",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusUnprocessableEntity},
	}, func(ctx context.Context, input *struct {
		Body CreateReportRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := authz.RequireIntake(p); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.CreateReport(ctx, engine.CreateReportOptions{
			Title:       input.Body.Title,
			Type:        input.Body.Type,
			Description: input.Body.Description,
			Location:    input.Body.Location,
			Priority:    domain.Priority(input.Body.Priority),
			SubmittedBy: p.ActorID,
			ActorID:     p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-reports",
		Method:      http.MethodGet,
		Path:        "/reports",
		Summary:     "List reports",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Role     string `query:"role"`
		Status   string `query:"status"`
		Type     string `query:"type"`
		Priority string `query:"priority"`
		Limit    int    `query:"limit"`
	}) (*struct {
		Body ReportListResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		f := repo.ReportFilters{
			Role:     input.Role,
			Status:   input.Status,
			Type:     input.Type,
			Priority: input.Priority,
			Limit:    input.Limit,
		}
		// Agents see their own queue regardless of the filter they ask for.
		if !authz.IsAdmin(p.Role) && !authz.IsAuthority(p.Role) {
			f.Role = p.Role
		}
		items, err := e.Repo.ListReports(ctx, f)
		if err != nil {
			return nil, handleError(engine.RepositoryError{Op: "list reports", Err: err})
		}
		return &struct {
			Body ReportListResponse `json:"body"`
		}{Body: ReportListResponse{Items: items}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-report",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}",
		Summary:     "Get report",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "track-report",
		Method:      http.MethodGet,
		Path:        "/reports/reference/{reference}",
		Summary:     "Track a report by reference",
		Description: "Public endpoint: citizens follow their signalement with the reference alone.",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Reference string `path:"reference"`
	}) (*struct {
		Body ReferenceStatusResponse `json:"body"`
	}, error) {
		rep, err := e.Repo.GetReportByReference(ctx, strings.ToUpper(strings.TrimSpace(input.Reference)))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ReferenceStatusResponse `json:"body"`
		}{Body: ReferenceStatusResponse{
			Reference:  rep.Reference,
			Status:     string(rep.Status),
			Type:       rep.Type,
			Priority:   string(rep.Priority),
			CreatedAt:  rep.CreatedAt,
			ResolvedAt: rep.ResolvedAt,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "transition-report",
		Method:      http.MethodPatch,
		Path:        "/reports/{report_id}/status",
		Summary:     "Change report status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ReportID string            `path:"report_id"`
		Body     TransitionRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rep, err := e.Repo.GetReport(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		if err := authz.RequireTransition(p, rep); err != nil {
			return nil, handleError(err)
		}
		updated, err := e.Transition(ctx, engine.TransitionOptions{
			ReportID:  input.ReportID,
			Target:    domain.Status(input.Body.Status),
			ActorID:   p.ActorID,
			IfVersion: input.Body.IfVersion,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: updated}, nil
	})
}

func registerDecisions(api huma.API, e engine.Engine, authz auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID:   "record-decision",
		Method:        http.MethodPost,
		Path:          "/reports/{report_id}/decisions",
		Summary:       "Record an authoritative decision",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ReportID string          `path:"report_id"`
		Body     DecisionRequest `json:"body"`
	}) (*struct {
		Body domain.Decision `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := authz.RequireDecision(p); err != nil {
			return nil, handleError(err)
		}
		d, err := e.RecordDecision(ctx, engine.RecordDecisionOptions{
			ReportID:   input.ReportID,
			Kind:       domain.DecisionKind(input.Body.Kind),
			ActorID:    p.ActorID,
			Rationale:  input.Body.Rationale,
			DedupToken: input.Body.DedupToken,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Decision `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-decisions",
		Method:      http.MethodGet,
		Path:        "/reports/{report_id}/decisions",
		Summary:     "Decision trail for a report",
		Errors:      []int{http.StatusNotFound, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		ReportID string `path:"report_id"`
	}) (*struct {
		Body DecisionListResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.ListDecisions(ctx, input.ReportID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body DecisionListResponse `json:"body"`
		}{Body: DecisionListResponse{Items: items}}, nil
	})
}

func registerAssessments(api huma.API, e engine.Engine, authz auth.Service) {
	huma.Register(api, huma.Operation{
		OperationID: "attach-assessment",
		Method:      http.MethodPut,
		Path:        "/reports/{report_id}/assessment",
		Summary:     "Attach AI assessment",
		Description: "Merges externally computed scoring onto the report. The engine treats the scores as opaque.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
		},
	}, func(ctx context.Context, input *struct {
		ReportID string            `path:"report_id"`
		Body     AssessmentRequest `json:"body"`
	}) (*struct {
		Body domain.Report `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := authz.RequireAssessment(p); err != nil {
			return nil, handleError(err)
		}
		rep, err := e.AttachAssessment(ctx, input.ReportID, domain.AIAssessment{
			PriorityScore:    input.Body.PriorityScore,
			CredibilityScore: input.Body.CredibilityScore,
			Summary:          input.Body.Summary,
			Category:         input.Body.Category,
		}, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Report `json:"body"`
		}{Body: rep}, nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-roles",
		Method:      http.MethodGet,
		Path:        "/roles",
		Summary:     "List agent roles",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body RoleListResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body RoleListResponse `json:"body"`
		}{Body: RoleListResponse{Items: e.Catalog.Roles()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "role-stats",
		Method:      http.MethodGet,
		Path:        "/roles/{role}/stats",
		Summary:     "Per-role statistics snapshot",
		Description: "Recomputed from the current report set on every call.",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Role string `path:"role"`
	}) (*struct {
		Body domain.StatsSnapshot `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		snap, err := e.Snapshot(ctx, input.Role, time.Now())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.StatsSnapshot `json:"body"`
		}{Body: snap}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "Tail the event ledger",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		N        int    `query:"n"`
		Type     string `query:"type"`
		ReportID string `query:"report_id"`
		Role     string `query:"role"`
	}) (*struct {
		Body EventListResponse `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		n := input.N
		if n <= 0 || n > 500 {
			n = 50
		}
		items, err := e.Repo.LatestEvents(ctx, n, input.Type, input.ReportID, input.Role)
		if err != nil {
			return nil, handleError(engine.RepositoryError{Op: "latest events", Err: err})
		}
		return &struct {
			Body EventListResponse `json:"body"`
		}{Body: EventListResponse{Items: items}}, nil
	})
}
