package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/repository"
)

// In-memory fakes for the store and collaborator interfaces. They implement
// just enough semantics for the services under test; no locking is needed
// because tests are single-goroutine.

type fakeTx struct{}

func (fakeTx) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var idCounter int

func nextID(prefix string) string {
	idCounter++
	return fmt.Sprintf("%s-%d", prefix, idCounter)
}

// ── expenses ──────────────────────────────────────────────────────────────────

type fakeExpenseStore struct {
	expenses   map[string]*repository.Expense
	categories []*repository.ExpenseCategory
}

func newFakeExpenseStore() *fakeExpenseStore {
	return &fakeExpenseStore{expenses: make(map[string]*repository.Expense)}
}

func (s *fakeExpenseStore) Create(_ context.Context, e *repository.Expense) error {
	if e.ID == "" {
		e.ID = nextID("exp")
	}
	e.CreatedAt = time.Now()
	e.UpdatedAt = e.CreatedAt
	cp := *e
	s.expenses[e.ID] = &cp
	return nil
}

func (s *fakeExpenseStore) GetByID(_ context.Context, id string) (*repository.Expense, error) {
	e, ok := s.expenses[id]
	if !ok {
		return nil, apperrors.NotFound("expense", id)
	}
	cp := *e
	return &cp, nil
}

func (s *fakeExpenseStore) GetByIDForUpdate(ctx context.Context, id string) (*repository.Expense, error) {
	return s.GetByID(ctx, id)
}

func (s *fakeExpenseStore) Update(_ context.Context, e *repository.Expense) error {
	if _, ok := s.expenses[e.ID]; !ok {
		return apperrors.NotFound("expense", e.ID)
	}
	e.UpdatedAt = time.Now()
	cp := *e
	s.expenses[e.ID] = &cp
	return nil
}

func (s *fakeExpenseStore) List(_ context.Context, companyID string, f repository.ExpenseFilter) ([]*repository.Expense, int64, error) {
	var out []*repository.Expense
	for _, e := range s.expenses {
		if e.CompanyID != companyID {
			continue
		}
		if f.SubmittedBy != nil && e.SubmittedBy != *f.SubmittedBy {
			continue
		}
		if f.Status != nil && e.Status != *f.Status {
			continue
		}
		if f.CategoryID != nil && (e.CategoryID == nil || *e.CategoryID != *f.CategoryID) {
			continue
		}
		cp := *e
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, int64(len(out)), nil
}

func (s *fakeExpenseStore) ListPendingForApprover(_ context.Context, approverID string) ([]*repository.Expense, error) {
	var out []*repository.Expense
	for _, e := range s.expenses {
		if e.Status == repository.ExpensePending && e.CurrentApprover != nil && *e.CurrentApprover == approverID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *fakeExpenseStore) Delete(_ context.Context, id string) error {
	if _, ok := s.expenses[id]; !ok {
		return apperrors.NotFound("expense", id)
	}
	delete(s.expenses, id)
	return nil
}

func (s *fakeExpenseStore) CreateCategory(_ context.Context, c *repository.ExpenseCategory) error {
	if c.ID == "" {
		c.ID = nextID("cat")
	}
	s.categories = append(s.categories, c)
	return nil
}

func (s *fakeExpenseStore) ListCategories(_ context.Context) ([]*repository.ExpenseCategory, error) {
	return s.categories, nil
}

// ── flows ─────────────────────────────────────────────────────────────────────

type fakeFlowStore struct {
	flows     map[string]*repository.ApprovalFlow
	steps     map[string][]*repository.ApprovalStep
	flowRules map[string][]string
}

func newFakeFlowStore() *fakeFlowStore {
	return &fakeFlowStore{
		flows:     make(map[string]*repository.ApprovalFlow),
		steps:     make(map[string][]*repository.ApprovalStep),
		flowRules: make(map[string][]string),
	}
}

func (s *fakeFlowStore) Create(ctx context.Context, flow *repository.ApprovalFlow, steps []*repository.ApprovalStep) error {
	if flow.ID == "" {
		flow.ID = nextID("flow")
	}
	s.flows[flow.ID] = flow
	for _, step := range steps {
		step.FlowID = flow.ID
		if err := s.AddStep(ctx, step); err != nil {
			return err
		}
	}
	flow.Steps = s.steps[flow.ID]
	return nil
}

func (s *fakeFlowStore) GetByID(ctx context.Context, id string) (*repository.ApprovalFlow, error) {
	flow, ok := s.flows[id]
	if !ok {
		return nil, apperrors.NotFound("approval flow", id)
	}
	flow.Steps, _ = s.GetSteps(ctx, id)
	flow.RuleIDs = s.flowRules[id]
	return flow, nil
}

func (s *fakeFlowStore) ListActiveByCompany(ctx context.Context, companyID string) ([]*repository.ApprovalFlow, error) {
	var out []*repository.ApprovalFlow
	for id, f := range s.flows {
		if f.CompanyID == companyID && f.IsActive {
			f.Steps, _ = s.GetSteps(ctx, id)
			out = append(out, f)
		}
	}
	// min_amount ascending, nil (unbounded) last, then name.
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].MinAmountCents, out[j].MinAmountCents
		switch {
		case a == nil && b == nil:
			return out[i].Name < out[j].Name
		case a == nil:
			return false
		case b == nil:
			return true
		case *a != *b:
			return *a < *b
		default:
			return out[i].Name < out[j].Name
		}
	})
	return out, nil
}

func (s *fakeFlowStore) GetOrCreateDefault(_ context.Context, companyID, name, description string) (*repository.ApprovalFlow, bool, error) {
	for _, f := range s.flows {
		if f.CompanyID == companyID && f.Name == name {
			return f, false, nil
		}
	}
	flow := &repository.ApprovalFlow{
		ID:          nextID("flow"),
		CompanyID:   companyID,
		Name:        name,
		Description: &description,
		IsActive:    true,
	}
	s.flows[flow.ID] = flow
	return flow, true, nil
}

func (s *fakeFlowStore) AddStep(_ context.Context, step *repository.ApprovalStep) error {
	if step.ID == "" {
		step.ID = nextID("step")
	}
	s.steps[step.FlowID] = append(s.steps[step.FlowID], step)
	return nil
}

func (s *fakeFlowStore) GetSteps(_ context.Context, flowID string) ([]*repository.ApprovalStep, error) {
	steps := append([]*repository.ApprovalStep(nil), s.steps[flowID]...)
	sort.Slice(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
	return steps, nil
}

func (s *fakeFlowStore) GetStep(_ context.Context, flowID string, stepNumber int) (*repository.ApprovalStep, error) {
	for _, step := range s.steps[flowID] {
		if step.StepNumber == stepNumber {
			return step, nil
		}
	}
	return nil, nil
}

func (s *fakeFlowStore) AttachRules(_ context.Context, flowID string, ruleIDs []string) error {
	s.flowRules[flowID] = append(s.flowRules[flowID], ruleIDs...)
	return nil
}

// ── rules ─────────────────────────────────────────────────────────────────────

type fakeRuleStore struct {
	rules  map[string]*repository.ApprovalRule
	byFlow map[string][]string
}

func newFakeRuleStore() *fakeRuleStore {
	return &fakeRuleStore{
		rules:  make(map[string]*repository.ApprovalRule),
		byFlow: make(map[string][]string),
	}
}

func (s *fakeRuleStore) Create(_ context.Context, rule *repository.ApprovalRule) error {
	if rule.ID == "" {
		rule.ID = nextID("rule")
	}
	s.rules[rule.ID] = rule
	return nil
}

func (s *fakeRuleStore) GetByID(_ context.Context, id string) (*repository.ApprovalRule, error) {
	rule, ok := s.rules[id]
	if !ok {
		return nil, apperrors.NotFound("approval rule", id)
	}
	return rule, nil
}

func (s *fakeRuleStore) List(_ context.Context, companyID string, activeOnly bool) ([]*repository.ApprovalRule, error) {
	var out []*repository.ApprovalRule
	for _, r := range s.rules {
		if r.CompanyID != companyID {
			continue
		}
		if activeOnly && !r.IsActive {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *fakeRuleStore) ListByFlow(_ context.Context, flowID string) ([]*repository.ApprovalRule, error) {
	var out []*repository.ApprovalRule
	for _, id := range s.byFlow[flowID] {
		if rule, ok := s.rules[id]; ok && rule.IsActive {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (s *fakeRuleStore) Delete(_ context.Context, id string) error {
	if _, ok := s.rules[id]; !ok {
		return apperrors.NotFound("approval rule", id)
	}
	delete(s.rules, id)
	return nil
}

func (s *fakeRuleStore) Update(_ context.Context, rule *repository.ApprovalRule) error {
	if _, ok := s.rules[rule.ID]; !ok {
		return apperrors.NotFound("approval rule", rule.ID)
	}
	s.rules[rule.ID] = rule
	return nil
}

// attach wires a rule to a flow, standing in for the join table.
func (s *fakeRuleStore) attach(flowID string, rule *repository.ApprovalRule) {
	if rule.ID == "" {
		rule.ID = nextID("rule")
	}
	s.rules[rule.ID] = rule
	s.byFlow[flowID] = append(s.byFlow[flowID], rule.ID)
}

// ── approvals ─────────────────────────────────────────────────────────────────

type fakeApprovalStore struct {
	approvals map[string]*repository.ExpenseApproval
}

func newFakeApprovalStore() *fakeApprovalStore {
	return &fakeApprovalStore{approvals: make(map[string]*repository.ExpenseApproval)}
}

func approvalKey(expenseID, approverID string) string {
	return expenseID + "|" + approverID
}

func (s *fakeApprovalStore) GetOrCreate(_ context.Context, expenseID, approverID string, stepID *string) (*repository.ExpenseApproval, error) {
	key := approvalKey(expenseID, approverID)
	if a, ok := s.approvals[key]; ok {
		return a, nil
	}
	a := &repository.ExpenseApproval{
		ID:         nextID("appr"),
		ExpenseID:  expenseID,
		ApproverID: approverID,
		StepID:     stepID,
		Status:     repository.ApprovalPending,
		CreatedAt:  time.Now(),
	}
	s.approvals[key] = a
	return a, nil
}

func (s *fakeApprovalStore) RecordAction(_ context.Context, expenseID, approverID string, status repository.ApprovalStatus, comments *string) (*repository.ExpenseApproval, error) {
	a, ok := s.approvals[approvalKey(expenseID, approverID)]
	if !ok {
		return nil, apperrors.NotFound("expense approval", expenseID)
	}
	a.Status = status
	a.Comments = comments
	if status == repository.ApprovalApproved {
		now := time.Now()
		a.ApprovedAt = &now
	}
	return a, nil
}

func (s *fakeApprovalStore) ListByExpense(_ context.Context, expenseID string) ([]*repository.ExpenseApproval, error) {
	var out []*repository.ExpenseApproval
	for _, a := range s.approvals {
		if a.ExpenseID == expenseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeApprovalStore) CountApprovedByExpense(_ context.Context, expenseID string) (int, error) {
	count := 0
	for _, a := range s.approvals {
		if a.ExpenseID == expenseID && a.Status == repository.ApprovalApproved {
			count++
		}
	}
	return count, nil
}

func (s *fakeApprovalStore) CountByApproverAndStatus(_ context.Context, approverID string, status repository.ApprovalStatus) (int, error) {
	count := 0
	for _, a := range s.approvals {
		if a.ApproverID == approverID && a.Status == status {
			count++
		}
	}
	return count, nil
}

// ── audit ─────────────────────────────────────────────────────────────────────

type fakeAuditStore struct {
	entries []*repository.AuditEntry
}

func (s *fakeAuditStore) Append(_ context.Context, entry *repository.AuditEntry) error {
	entry.ID = nextID("audit")
	entry.PerformedAt = time.Now()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *fakeAuditStore) ListByExpense(_ context.Context, expenseID string) ([]*repository.AuditEntry, error) {
	var out []*repository.AuditEntry
	for _, e := range s.entries {
		if e.ExpenseID == expenseID {
			out = append(out, e)
		}
	}
	return out, nil
}

// ── directory ─────────────────────────────────────────────────────────────────

type fakeDirectory struct {
	users  map[string]*repository.Approver
	admins map[string][]*repository.Approver
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users:  make(map[string]*repository.Approver),
		admins: make(map[string][]*repository.Approver),
	}
}

func (d *fakeDirectory) GetUser(_ context.Context, userID string) (*repository.Approver, error) {
	u, ok := d.users[userID]
	if !ok {
		return nil, apperrors.NotFound("user", userID)
	}
	return u, nil
}

func (d *fakeDirectory) GetActiveAdmins(_ context.Context, companyID string) ([]*repository.Approver, error) {
	return d.admins[companyID], nil
}

// ── notifier ──────────────────────────────────────────────────────────────────

type publishedEvent struct {
	EventType  string
	ExpenseID  string
	Recipients []string
}

type fakeNotifier struct {
	events []publishedEvent
}

func (n *fakeNotifier) PublishExpenseEvent(_ context.Context, eventType, expenseID, _, _ string, recipients []string, _ map[string]interface{}) {
	n.events = append(n.events, publishedEvent{EventType: eventType, ExpenseID: expenseID, Recipients: recipients})
}

func (n *fakeNotifier) eventTypes() []string {
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.EventType)
	}
	return out
}
