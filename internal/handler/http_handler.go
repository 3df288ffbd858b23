package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
	"github.com/claimdesk/be-expense-approvals/internal/service"
)

// HTTPHandler handles HTTP requests.
type HTTPHandler struct {
	expenses    *service.ExpenseService
	approvals   *service.ApprovalService
	workflows   *service.WorkflowService
	conditional *service.ConditionalService
	log         zerolog.Logger
}

// NewHTTPHandler creates a new HTTP handler.
func NewHTTPHandler(
	expenses *service.ExpenseService,
	approvals *service.ApprovalService,
	workflows *service.WorkflowService,
	conditional *service.ConditionalService,
	log zerolog.Logger,
) *HTTPHandler {
	return &HTTPHandler{
		expenses:    expenses,
		approvals:   approvals,
		workflows:   workflows,
		conditional: conditional,
		log:         log,
	}
}

// Register mounts all routes on the router.
func (h *HTTPHandler) Register(r *mux.Router) {
	api := r.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/expenses", h.CreateExpense).Methods(http.MethodPost)
	api.HandleFunc("/expenses", h.ListExpenses).Methods(http.MethodGet)
	api.HandleFunc("/expenses/{id}", h.GetExpense).Methods(http.MethodGet)
	api.HandleFunc("/expenses/{id}", h.UpdateExpense).Methods(http.MethodPatch)
	api.HandleFunc("/expenses/{id}", h.DeleteExpense).Methods(http.MethodDelete)
	api.HandleFunc("/expenses/{id}/submit", h.SubmitExpense).Methods(http.MethodPost)
	api.HandleFunc("/expenses/{id}/action", h.ActOnExpense).Methods(http.MethodPost)
	api.HandleFunc("/expenses/{id}/pay", h.MarkPaid).Methods(http.MethodPost)
	api.HandleFunc("/expenses/{id}/classify", h.ClassifyExpense).Methods(http.MethodGet)
	api.HandleFunc("/expenses/{id}/history", h.ExpenseHistory).Methods(http.MethodGet)

	api.HandleFunc("/approvals/pending", h.PendingApprovals).Methods(http.MethodGet)
	api.HandleFunc("/approvals/statistics", h.ApprovalStatistics).Methods(http.MethodGet)

	api.HandleFunc("/flows", h.CreateFlow).Methods(http.MethodPost)
	api.HandleFunc("/flows", h.ListFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}", h.GetFlow).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}/rules", h.AttachRules).Methods(http.MethodPost)

	api.HandleFunc("/rules", h.CreateRule).Methods(http.MethodPost)
	api.HandleFunc("/rules", h.ListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules/summary", h.RulesSummary).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id}/active", h.SetRuleActive).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id}", h.DeleteRule).Methods(http.MethodDelete)

	api.HandleFunc("/categories", h.CreateCategory).Methods(http.MethodPost)
	api.HandleFunc("/categories", h.ListCategories).Methods(http.MethodGet)

	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
}

// actorID extracts the acting user from the X-User-ID header set by the API
// gateway after authentication.
func actorID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// ── expenses ──────────────────────────────────────────────────────────────────

// CreateExpense handles create expense requests.
func (h *HTTPHandler) CreateExpense(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		h.respondError(w, r, apperrors.InvalidInput("X-User-ID", "header is required"))
		return
	}

	var req service.CreateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}
	req.SubmittedBy = actor

	expense, err := h.expenses.CreateExpense(r.Context(), &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, expense)
}

// GetExpense handles get expense requests.
func (h *HTTPHandler) GetExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := h.expenses.GetExpense(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, expense)
}

// ListExpenses handles list expense requests.
func (h *HTTPHandler) ListExpenses(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		h.respondError(w, r, apperrors.InvalidInput("company_id", "is required"))
		return
	}

	filter := repository.ExpenseFilter{}
	if v := r.URL.Query().Get("submitted_by"); v != "" {
		filter.SubmittedBy = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status := repository.ExpenseStatus(v)
		filter.Status = &status
	}
	if v := r.URL.Query().Get("category_id"); v != "" {
		filter.CategoryID = &v
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	filter.Limit = pageSize
	filter.Offset = (page - 1) * pageSize

	expenses, total, err := h.expenses.ListExpenses(r.Context(), companyID, filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"expenses":  expenses,
		"total":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// UpdateExpense handles draft expense update requests.
func (h *HTTPHandler) UpdateExpense(w http.ResponseWriter, r *http.Request) {
	var req service.UpdateExpenseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}
	expense, err := h.expenses.UpdateExpense(r.Context(), mux.Vars(r)["id"], actorID(r), &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, expense)
}

// DeleteExpense handles draft expense deletion requests.
func (h *HTTPHandler) DeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := h.expenses.DeleteDraft(r.Context(), mux.Vars(r)["id"], actorID(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SubmitExpense handles submit for approval requests.
func (h *HTTPHandler) SubmitExpense(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		h.respondError(w, r, apperrors.InvalidInput("X-User-ID", "header is required"))
		return
	}
	expense, err := h.approvals.Submit(r.Context(), mux.Vars(r)["id"], actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, expense)
}

// ActOnExpense handles approve/reject/escalate requests.
func (h *HTTPHandler) ActOnExpense(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		h.respondError(w, r, apperrors.InvalidInput("X-User-ID", "header is required"))
		return
	}

	var req struct {
		Action   string `json:"action"`
		Comments string `json:"comments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}

	action, err := service.ParseAction(req.Action)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	expense, err := h.approvals.Act(r.Context(), mux.Vars(r)["id"], actor, action, req.Comments)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, expense)
}

// MarkPaid handles mark-paid requests.
func (h *HTTPHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	expense, err := h.expenses.MarkPaid(r.Context(), mux.Vars(r)["id"], actorID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, expense)
}

// ClassifyExpense handles advisory classification requests.
func (h *HTTPHandler) ClassifyExpense(w http.ResponseWriter, r *http.Request) {
	expense, err := h.expenses.GetExpense(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, h.conditional.Classify(expense))
}

// ExpenseHistory handles audit trail requests.
func (h *HTTPHandler) ExpenseHistory(w http.ResponseWriter, r *http.Request) {
	entries, err := h.expenses.History(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"history": entries})
}

// ── approvals ─────────────────────────────────────────────────────────────────

// PendingApprovals handles pending approval queue requests.
func (h *HTTPHandler) PendingApprovals(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		h.respondError(w, r, apperrors.InvalidInput("X-User-ID", "header is required"))
		return
	}
	expenses, err := h.expenses.PendingApprovals(r.Context(), actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"expenses": expenses})
}

// ApprovalStatistics handles approver workload requests.
func (h *HTTPHandler) ApprovalStatistics(w http.ResponseWriter, r *http.Request) {
	actor := actorID(r)
	if actor == "" {
		h.respondError(w, r, apperrors.InvalidInput("X-User-ID", "header is required"))
		return
	}
	stats, err := h.approvals.Statistics(r.Context(), actor)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, stats)
}

// ── flows and rules ───────────────────────────────────────────────────────────

// CreateFlow handles create approval flow requests.
func (h *HTTPHandler) CreateFlow(w http.ResponseWriter, r *http.Request) {
	var req service.CreateFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}
	flow, err := h.workflows.CreateFlow(r.Context(), &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, flow)
}

// ListFlows handles list approval flow requests.
func (h *HTTPHandler) ListFlows(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		h.respondError(w, r, apperrors.InvalidInput("company_id", "is required"))
		return
	}
	flows, err := h.workflows.ListFlows(r.Context(), companyID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"flows": flows})
}

// GetFlow handles get approval flow requests.
func (h *HTTPHandler) GetFlow(w http.ResponseWriter, r *http.Request) {
	flow, err := h.workflows.GetFlow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, flow)
}

// AttachRules handles attach rules to flow requests.
func (h *HTTPHandler) AttachRules(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RuleIDs []string `json:"rule_ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}
	flow, err := h.workflows.AttachRules(r.Context(), mux.Vars(r)["id"], req.RuleIDs)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, flow)
}

// CreateRule handles create approval rule requests.
func (h *HTTPHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req service.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}
	rule, err := h.workflows.CreateRule(r.Context(), &req)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, rule)
}

// ListRules handles list approval rule requests.
func (h *HTTPHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		h.respondError(w, r, apperrors.InvalidInput("company_id", "is required"))
		return
	}
	activeOnly := r.URL.Query().Get("active_only") == "true"
	rules, err := h.workflows.ListRules(r.Context(), companyID, activeOnly)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"rules": rules})
}

// RulesSummary handles classifier policy requests.
func (h *HTTPHandler) RulesSummary(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, h.conditional.RulesSummary())
}

// SetRuleActive handles rule activation toggle requests.
func (h *HTTPHandler) SetRuleActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active bool `json:"active"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}
	rule, err := h.workflows.SetRuleActive(r.Context(), mux.Vars(r)["id"], req.Active)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, rule)
}

// DeleteRule handles delete approval rule requests.
func (h *HTTPHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	if err := h.workflows.DeleteRule(r.Context(), mux.Vars(r)["id"]); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ── categories ────────────────────────────────────────────────────────────────

// CreateCategory handles create expense category requests.
func (h *HTTPHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string  `json:"name"`
		Description *string `json:"description,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, r, apperrors.New(apperrors.CodeValidation, "invalid request body"))
		return
	}
	category, err := h.expenses.CreateCategory(r.Context(), req.Name, req.Description)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusCreated, category)
}

// ListCategories handles list expense category requests.
func (h *HTTPHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := h.expenses.ListCategories(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{"categories": categories})
}

// Health handles health check requests.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ── responses ─────────────────────────────────────────────────────────────────

func (h *HTTPHandler) respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.log.Warn().Err(err).Msg("Failed to encode response body")
	}
}

func (h *HTTPHandler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		h.log.Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected")
	}

	body := map[string]interface{}{
		"error": err.Error(),
		"code":  string(apperrors.CodeOf(err)),
	}
	h.respondJSON(w, status, body)
}
