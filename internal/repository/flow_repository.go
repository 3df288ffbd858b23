package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/database"
)

const flowColumns = `
	f.id, f.company_id, f.name, f.description,
	f.min_amount_cents, f.max_amount_cents, f.is_active,
	f.created_at, f.updated_at,
	COALESCE(ARRAY(SELECT category_id FROM approval_flow_categories WHERE flow_id = f.id), '{}'),
	COALESCE(ARRAY(SELECT rule_id FROM approval_flow_rules WHERE flow_id = f.id), '{}')`

// FlowRepository manages approval flows and their steps. Flow + step creation
// is always done together in a single transaction.
type FlowRepository struct {
	db *database.DB
}

// NewFlowRepository creates a new FlowRepository.
func NewFlowRepository(db *database.DB) *FlowRepository {
	return &FlowRepository{db: db}
}

// Create inserts a flow, its category scope and its initial steps atomically.
func (r *FlowRepository) Create(ctx context.Context, flow *ApprovalFlow, steps []*ApprovalStep) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.QuerierFromContext(ctx)

		flow.ID = uuid.NewString()
		flowQuery := `
			INSERT INTO approval_flows
			    (id, company_id, name, description,
			     min_amount_cents, max_amount_cents, is_active)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING created_at, updated_at
		`
		err := q.QueryRow(ctx, flowQuery,
			flow.ID,
			flow.CompanyID,
			flow.Name,
			flow.Description,
			flow.MinAmountCents,
			flow.MaxAmountCents,
			flow.IsActive,
		).Scan(&flow.CreatedAt, &flow.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval flow")
		}

		for _, categoryID := range flow.CategoryIDs {
			_, err := q.Exec(ctx,
				`INSERT INTO approval_flow_categories (flow_id, category_id) VALUES ($1, $2)`,
				flow.ID, categoryID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeInternal, "failed to scope flow category")
			}
		}

		for _, step := range steps {
			step.FlowID = flow.ID
			if err := r.AddStep(ctx, step); err != nil {
				return err
			}
		}
		flow.Steps = steps

		return nil
	})
}

// AddStep inserts one approval step.
func (r *FlowRepository) AddStep(ctx context.Context, step *ApprovalStep) error {
	step.ID = uuid.NewString()
	query := `
		INSERT INTO approval_steps
		    (id, flow_id, step_number, approver_id, is_required, can_escalate)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`
	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, query,
		step.ID,
		step.FlowID,
		step.StepNumber,
		step.ApproverID,
		step.IsRequired,
		step.CanEscalate,
	).Scan(&step.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval step")
	}
	return nil
}

// GetByID retrieves a flow with its steps loaded.
func (r *FlowRepository) GetByID(ctx context.Context, id string) (*ApprovalFlow, error) {
	query := `SELECT ` + flowColumns + ` FROM approval_flows f WHERE f.id = $1`

	flow, err := scanFlow(r.db.QuerierFromContext(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_flow", id)
	}
	if err != nil {
		return nil, err
	}

	flow.Steps, err = r.GetSteps(ctx, flow.ID)
	return flow, err
}

// ListActiveByCompany returns a company's active flows ordered by ascending
// minimum amount (unbounded flows last), with steps loaded. This is the
// order the resolver searches in.
func (r *FlowRepository) ListActiveByCompany(ctx context.Context, companyID string) ([]*ApprovalFlow, error) {
	query := `
		SELECT ` + flowColumns + `
		FROM approval_flows f
		WHERE f.company_id = $1 AND f.is_active = TRUE
		ORDER BY f.min_amount_cents ASC NULLS LAST, f.name ASC
	`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list approval flows")
	}
	defer rows.Close()

	var flows []*ApprovalFlow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval flow")
		}
		flows = append(flows, flow)
	}
	rows.Close()

	for _, flow := range flows {
		if flow.Steps, err = r.GetSteps(ctx, flow.ID); err != nil {
			return nil, err
		}
	}
	return flows, nil
}

// GetOrCreateDefault returns the company's flow with the given name, creating
// it when absent. The insert is idempotent under concurrent submissions: the
// unique (company_id, name) constraint plus ON CONFLICT DO NOTHING guarantees
// at most one row, and losers of the race fall through to the select.
// Returns created=true only for the transaction that inserted the row.
func (r *FlowRepository) GetOrCreateDefault(ctx context.Context, companyID, name, description string) (*ApprovalFlow, bool, error) {
	q := r.db.QuerierFromContext(ctx)

	insert := `
		INSERT INTO approval_flows (id, company_id, name, description, is_active)
		VALUES ($1, $2, $3, $4, TRUE)
		ON CONFLICT (company_id, name) DO NOTHING
		RETURNING id, company_id, name, description,
		          min_amount_cents, max_amount_cents, is_active,
		          created_at, updated_at
	`

	flow := &ApprovalFlow{}
	err := q.QueryRow(ctx, insert, uuid.NewString(), companyID, name, description).Scan(
		&flow.ID,
		&flow.CompanyID,
		&flow.Name,
		&flow.Description,
		&flow.MinAmountCents,
		&flow.MaxAmountCents,
		&flow.IsActive,
		&flow.CreatedAt,
		&flow.UpdatedAt,
	)
	if err == nil {
		flow.CategoryIDs = []string{}
		flow.RuleIDs = []string{}
		return flow, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, false, apperrors.Wrap(err, apperrors.CodeInternal, "failed to create default flow")
	}

	// Row already exists: load it.
	query := `SELECT ` + flowColumns + ` FROM approval_flows f WHERE f.company_id = $1 AND f.name = $2`
	flow, err = scanFlow(q.QueryRow(ctx, query, companyID, name))
	if err != nil {
		return nil, false, apperrors.Wrap(err, apperrors.CodeInternal, "failed to load default flow")
	}
	flow.Steps, err = r.GetSteps(ctx, flow.ID)
	return flow, false, err
}

// GetSteps returns a flow's steps ordered by step number.
func (r *FlowRepository) GetSteps(ctx context.Context, flowID string) ([]*ApprovalStep, error) {
	query := `
		SELECT id, flow_id, step_number, approver_id, is_required, can_escalate, created_at
		FROM approval_steps
		WHERE flow_id = $1
		ORDER BY step_number ASC
	`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query, flowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get approval steps")
	}
	defer rows.Close()

	var steps []*ApprovalStep
	for rows.Next() {
		s := &ApprovalStep{}
		err := rows.Scan(&s.ID, &s.FlowID, &s.StepNumber, &s.ApproverID, &s.IsRequired, &s.CanEscalate, &s.CreatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval step")
		}
		steps = append(steps, s)
	}
	return steps, nil
}

// GetStep returns the step at the given position in a flow, or nil when the
// chain is exhausted.
func (r *FlowRepository) GetStep(ctx context.Context, flowID string, stepNumber int) (*ApprovalStep, error) {
	query := `
		SELECT id, flow_id, step_number, approver_id, is_required, can_escalate, created_at
		FROM approval_steps
		WHERE flow_id = $1 AND step_number = $2
	`

	s := &ApprovalStep{}
	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, query, flowID, stepNumber).Scan(
		&s.ID, &s.FlowID, &s.StepNumber, &s.ApproverID, &s.IsRequired, &s.CanEscalate, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to get approval step")
	}
	return s, nil
}

// AttachRules links approval rules to a flow.
func (r *FlowRepository) AttachRules(ctx context.Context, flowID string, ruleIDs []string) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.QuerierFromContext(ctx)
		for _, ruleID := range ruleIDs {
			_, err := q.Exec(ctx, `
				INSERT INTO approval_flow_rules (flow_id, rule_id)
				VALUES ($1, $2)
				ON CONFLICT DO NOTHING
			`, flowID, ruleID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeInternal, "failed to attach rule to flow")
			}
		}
		return nil
	})
}

// ── scan helper ───────────────────────────────────────────────────────────────

func scanFlow(row rowScanner) (*ApprovalFlow, error) {
	flow := &ApprovalFlow{}
	err := row.Scan(
		&flow.ID,
		&flow.CompanyID,
		&flow.Name,
		&flow.Description,
		&flow.MinAmountCents,
		&flow.MaxAmountCents,
		&flow.IsActive,
		&flow.CreatedAt,
		&flow.UpdatedAt,
		&flow.CategoryIDs,
		&flow.RuleIDs,
	)
	if err != nil {
		return nil, err
	}
	return flow, nil
}
