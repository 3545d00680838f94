package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/brainsait/claimguard/internal/bus"
	"github.com/brainsait/claimguard/internal/cache"
	"github.com/brainsait/claimguard/internal/domain"
	"github.com/brainsait/claimguard/internal/engine"
	"github.com/brainsait/claimguard/internal/history"
	"github.com/brainsait/claimguard/internal/repository"
	"github.com/brainsait/claimguard/internal/rules"
	"github.com/brainsait/claimguard/internal/validator"
	"github.com/brainsait/claimguard/internal/worker"
)

// GlobalTenantID is used for rules that apply to all tenants.
const GlobalTenantID = "*"

// maxBodyBytes bounds request bodies; a full batch of 1000 claims with
// history fits comfortably.
const maxBodyBytes = 32 << 20

// Deps are the collaborators the handlers use. Engine is required; the
// rest may be nil and the routes that need them answer 503.
type Deps struct {
	Engine    *engine.Engine
	Rules     *rules.Engine
	Repo      domain.Repository
	Cache     domain.Cache
	Bus       domain.EventBus
	History   *history.Service
	Version   string
	ReportTTL time.Duration

	// Worker is the configuration async batches are routed by.
	Worker worker.Config
}

// Handler holds dependencies for API handlers.
type Handler struct {
	engine   *engine.Engine
	rules    *rules.Engine
	repo     domain.Repository
	cache    domain.Cache
	bus      domain.EventBus
	history  *history.Service
	screener *worker.Screener
	worker   worker.Config
	version  string
}

// NewHandler creates a new API handler.
func NewHandler(deps Deps) *Handler {
	if deps.ReportTTL <= 0 {
		deps.ReportTTL = time.Hour
	}
	return &Handler{
		engine:  deps.Engine,
		rules:   deps.Rules,
		repo:    deps.Repo,
		cache:   deps.Cache,
		bus:     deps.Bus,
		history: deps.History,
		screener: &worker.Screener{
			Engine:    deps.Engine,
			Repo:      deps.Repo,
			Cache:     deps.Cache,
			Bus:       deps.Bus,
			History:   deps.History,
			ReportTTL: deps.ReportTTL,
		},
		worker:  deps.Worker,
		version: deps.Version,
	}
}

// Analyze handles POST /api/ai/fraud-detection. The batch is screened
// synchronously and the full report is returned.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	var in engine.Input
	if !decodeBody(w, r, &in) {
		return
	}
	if len(in.Claims) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("claims are required"))
		return
	}

	report, err := h.screener.Screen(ctx, tenantID, &in)
	if err != nil {
		writeRunError(w, tenantID, err)
		return
	}

	w.Header().Set("X-Report-ID", report.ID)
	writeJSON(w, http.StatusOK, report)
}

// AcceptedResponse is the response for POST /api/ai/fraud-detection/async.
type AcceptedResponse struct {
	ReportID string `json:"report_id"`
	Status   string `json:"status"`
	Claims   int    `json:"claims"`
	Location string `json:"location"`
}

// AnalyzeAsync handles POST /api/ai/fraud-detection/async. The batch is
// published for the worker and the report id is handed out immediately.
func (h *Handler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("event bus not available"))
		return
	}

	var in engine.Input
	if !decodeBody(w, r, &in) {
		return
	}
	if len(in.Claims) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("claims are required"))
		return
	}
	if limit := h.engine.Config().MaxBatchSize; len(in.Claims) > limit {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]interface{}{
			"error": engine.ErrBatchTooLarge.Error(),
			"limit": limit,
		})
		return
	}

	in.TenantID = tenantID
	if in.AsOf.IsZero() {
		in.AsOf = time.Now().UTC()
	}
	reportID := engine.ReportID(&in)

	msg := worker.BatchMessage{ReportID: reportID, Input: in}
	route := h.worker.Route(tenantID)
	if err := bus.PublishJSON(ctx, h.bus, route, domain.TopicBatchSubmitted, msg); err != nil {
		slog.Error("failed to publish batch",
			"tenant_id", tenantID,
			"route", route,
			"report_id", reportID,
			"error", err,
		)
		writeJSON(w, http.StatusServiceUnavailable, errorBody("failed to queue batch"))
		return
	}

	slog.Info("batch queued",
		"tenant_id", tenantID,
		"report_id", reportID,
		"claims", len(in.Claims),
	)
	location := "/api/reports/" + reportID
	w.Header().Set("Location", location)
	writeJSON(w, http.StatusAccepted, AcceptedResponse{
		ReportID: reportID,
		Status:   "accepted",
		Claims:   len(in.Claims),
		Location: location,
	})
}

// GetReport handles GET /api/reports/{id}, reading the cache first.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if h.cache != nil {
		cached, err := cache.GetJSON[domain.FraudAnalysisReport](ctx, h.cache, tenantID, cache.ReportKey(reportID))
		if err != nil {
			slog.Warn("report cache read failed", "report_id", reportID, "error", err)
		} else if cached != nil {
			w.Header().Set("X-Cache", "HIT")
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	if h.repo == nil {
		writeJSON(w, http.StatusNotFound, errorBody("report not found"))
		return
	}

	report, err := h.repo.GetReport(ctx, tenantID, reportID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("report not found"))
		return
	}
	if err != nil {
		slog.Error("failed to get report", "report_id", reportID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to load report"))
		return
	}

	if h.cache != nil {
		if err := cache.SetJSON(ctx, h.cache, tenantID, cache.ReportKey(reportID), report, h.screener.ReportTTL); err != nil {
			slog.Warn("failed to cache report", "report_id", reportID, "error", err)
		}
	}

	w.Header().Set("X-Cache", "MISS")
	writeJSON(w, http.StatusOK, report)
}

// ListReports handles GET /api/reports?limit=N.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	reports, err := h.repo.ListReports(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list reports", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to list reports"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// GetPhysicianRisk handles GET /api/physicians/{id}/risk: the physician's
// stored risk profiles, newest first.
func (h *Handler) GetPhysicianRisk(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	physicianID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	records, err := h.repo.ListPhysicianRisks(ctx, tenantID, physicianID, limit)
	if err != nil {
		slog.Error("failed to list physician risk", "physician_id", physicianID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to load physician risk"))
		return
	}
	if len(records) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody("no risk profile for physician"))
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"physician_id": physicianID,
		"latest":       records[0].Profile,
		"history":      records,
	})
}

// OperationOutcome is the validation response for POST /api/fhir/validate.
type OperationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Valid        bool           `json:"valid"`
	Issue        []OutcomeIssue `json:"issue"`
}

// OutcomeIssue is one entry of an OperationOutcome.
type OutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics"`
	Expression  []string `json:"expression,omitempty"`
	RuleID      string   `json:"rule_id,omitempty"`
	Suggestion  string   `json:"suggestion,omitempty"`
}

// ValidateClaim handles POST /api/fhir/validate. A claim that cannot be
// parsed answers 400 with a single fatal issue.
func (h *Handler) ValidateClaim(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var rec domain.ClaimRecord
	if !decodeBody(w, r, &rec) {
		return
	}

	issues, err := h.engine.ValidateClaim(ctx, &rec, time.Time{})
	if err != nil {
		var ie *domain.InputError
		if !errors.As(err, &ie) {
			slog.Error("claim validation failed", "error", err)
			writeJSON(w, http.StatusInternalServerError, errorBody("validation failed"))
			return
		}
		writeJSON(w, http.StatusBadRequest, OperationOutcome{
			ResourceType: "OperationOutcome",
			Issue: []OutcomeIssue{{
				Severity:    "fatal",
				Code:        "structure",
				Diagnostics: ie.Reason,
			}},
		})
		return
	}

	writeJSON(w, http.StatusOK, toOutcome(issues))
}

func toOutcome(issues []domain.ValidationIssue) OperationOutcome {
	out := OperationOutcome{
		ResourceType: "OperationOutcome",
		Valid:        true,
		Issue:        make([]OutcomeIssue, 0, len(issues)),
	}
	for _, is := range issues {
		severity := "information"
		switch is.Severity {
		case domain.IssueError:
			severity = "error"
			out.Valid = false
		case domain.IssueWarning:
			severity = "warning"
		}

		code := "invalid"
		switch is.RuleID {
		case validator.RuleRequiredField, validator.RuleMinimumDataSet:
			code = "required"
		}

		issue := OutcomeIssue{
			Severity:    severity,
			Code:        code,
			Diagnostics: is.Message,
			RuleID:      is.RuleID,
			Suggestion:  is.Suggestion,
		}
		if is.Field != "" {
			issue.Expression = []string{is.Field}
		}
		out.Issue = append(out.Issue, issue)
	}
	return out
}

// IngestHistoryRequest is the request body for POST /api/history/claims.
type IngestHistoryRequest struct {
	Claims []domain.HistoricalRecord `json:"claims"`
}

// IngestHistory handles POST /api/history/claims.
func (h *Handler) IngestHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.history == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("history store not available"))
		return
	}

	var req IngestHistoryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Claims) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("claims are required"))
		return
	}

	res, err := h.history.Ingest(ctx, tenantID, req.Claims)
	if err != nil {
		slog.Error("failed to ingest history", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to store historical claims"))
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready":           "true",
		"catalog_version": h.engine.Catalog().Version(),
	})
}

// GetCatalog returns the loaded rule catalog.
func (h *Handler) GetCatalog(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.engine.Catalog().Spec())
}

// ListRules returns the extension rules loaded in the rule engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("rule engine not available"))
		return
	}

	loadedRules := h.rules.GetLoadedRules()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": loadedRules,
		"count": len(loadedRules),
	})
}

// GetRule retrieves a rule by ID from the loaded engine rules.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("rule engine not available"))
		return
	}

	for _, rule := range h.rules.GetLoadedRules() {
		if rule.ID == ruleID {
			writeJSON(w, http.StatusOK, rule)
			return
		}
	}

	writeJSON(w, http.StatusNotFound, errorBody("rule not found"))
}

// CreateRuleRequest is the request body for creating a rule.
type CreateRuleRequest struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Expression  string               `json:"expression"`
	Field       string               `json:"field"`
	Severity    domain.IssueSeverity `json:"severity"`
	Message     string               `json:"message"`
	Suggestion  string               `json:"suggestion,omitempty"`
	Bands       []domain.RuleBand    `json:"bands,omitempty"`
	Enabled     bool                 `json:"enabled"`
}

// CreateRule validates a rule and saves it globally (tenant_id = "*").
// Call POST /api/rules/reload to apply it.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil || h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("rule storage not available"))
		return
	}

	var req CreateRuleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if req.ID == "" || req.Name == "" || req.Expression == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("id, name, and expression are required"))
		return
	}
	if len(req.Bands) == 0 && req.Severity == "" {
		req.Severity = domain.IssueError
	}

	ruleConfig := &domain.RuleConfig{
		ID:          req.ID,
		TenantID:    GlobalTenantID,
		Name:        req.Name,
		Description: req.Description,
		Version:     "1.0.0",
		Expression:  req.Expression,
		Field:       req.Field,
		Severity:    req.Severity,
		Message:     req.Message,
		Suggestion:  req.Suggestion,
		Bands:       req.Bands,
		Enabled:     req.Enabled,
	}

	if err := h.rules.ValidateRule(ruleConfig); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid rule: "+err.Error()))
		return
	}

	if err := h.repo.SaveRuleConfig(ctx, GlobalTenantID, ruleConfig); err != nil {
		slog.Error("failed to save rule config", "id", ruleConfig.ID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to save rule"))
		return
	}

	slog.Info("rule created", "id", ruleConfig.ID, "name", ruleConfig.Name)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"rule":    ruleConfig,
		"message": "Rule created. Call POST /api/rules/reload to apply changes.",
	})
}

// DeleteRule disables a stored rule. Call POST /api/rules/reload to apply it.
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	ruleID := chi.URLParam(r, "id")

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("repository not available"))
		return
	}

	err := h.repo.DeleteRuleConfig(ctx, GlobalTenantID, ruleID)
	if errors.Is(err, repository.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, errorBody("rule not found"))
		return
	}
	if err != nil {
		slog.Error("failed to delete rule config", "id", ruleID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to delete rule"))
		return
	}

	slog.Info("rule deleted", "id", ruleID)
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Rule deleted. Call POST /api/rules/reload to apply changes.",
	})
}

// ReloadRules rebuilds the rule engine from the catalog rules overlaid with
// the stored global rules, without a restart.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if h.repo == nil || h.rules == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody("rule storage not available"))
		return
	}

	dbRules, err := h.repo.ListRuleConfigs(ctx, GlobalTenantID)
	if err != nil {
		slog.Error("failed to list rules from database", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to load rules from database"))
		return
	}

	merged := rules.Merge(h.engine.Catalog().Rules(), dbRules)
	if err := h.rules.ReloadRules(merged); err != nil {
		slog.Error("failed to reload rules into engine", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("failed to reload rules: "+err.Error()))
		return
	}

	slog.Info("rules reloaded",
		"stored", len(dbRules),
		"loaded", h.rules.RulesCount(),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"count":   h.rules.RulesCount(),
	})
}

// writeRunError maps an engine error to a status code.
func writeRunError(w http.ResponseWriter, tenantID string, err error) {
	var ce *domain.ConfigError
	switch {
	case errors.Is(err, engine.ErrBatchTooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody(err.Error()))
	case errors.As(err, &ce):
		slog.Error("engine configuration error", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("engine configuration error"))
	default:
		slog.Error("screening failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody("screening failed"))
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON request body"))
		return false
	}
	return true
}

func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("limit must be a non-negative integer"))
		return 0, false
	}
	return limit, true
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
