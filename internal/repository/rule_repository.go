package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/claimdesk/be-expense-approvals/internal/apperrors"
	"github.com/claimdesk/be-expense-approvals/internal/database"
)

const ruleColumns = `
	r.id, r.company_id, r.name, r.description, r.rule_type,
	r.percentage_threshold, r.specific_approver_id,
	r.min_amount_cents, r.max_amount_cents, r.is_active,
	r.created_at, r.updated_at,
	COALESCE(ARRAY(SELECT category_id FROM approval_rule_categories WHERE rule_id = r.id), '{}')`

// RuleRepository handles CRUD for approval rules and their flow links.
type RuleRepository struct {
	db *database.DB
}

// NewRuleRepository creates a new RuleRepository.
func NewRuleRepository(db *database.DB) *RuleRepository {
	return &RuleRepository{db: db}
}

// Create inserts a new approval rule with its category scope.
func (r *RuleRepository) Create(ctx context.Context, rule *ApprovalRule) error {
	return r.db.InTx(ctx, func(ctx context.Context) error {
		q := r.db.QuerierFromContext(ctx)

		rule.ID = uuid.NewString()
		query := `
			INSERT INTO approval_rules
			    (id, company_id, name, description, rule_type,
			     percentage_threshold, specific_approver_id,
			     min_amount_cents, max_amount_cents, is_active)
			VALUES ($1, $2, $3, $4, $5::approval_rule_type,
			        $6, $7,
			        $8, $9, $10)
			RETURNING created_at, updated_at
		`
		err := q.QueryRow(ctx, query,
			rule.ID,
			rule.CompanyID,
			rule.Name,
			rule.Description,
			rule.RuleType,
			rule.PercentageThreshold,
			rule.SpecificApproverID,
			rule.MinAmountCents,
			rule.MaxAmountCents,
			rule.IsActive,
		).Scan(&rule.CreatedAt, &rule.UpdatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.CodeInternal, "failed to create approval rule")
		}

		for _, categoryID := range rule.CategoryIDs {
			_, err := q.Exec(ctx,
				`INSERT INTO approval_rule_categories (rule_id, category_id) VALUES ($1, $2)`,
				rule.ID, categoryID)
			if err != nil {
				return apperrors.Wrap(err, apperrors.CodeInternal, "failed to scope rule category")
			}
		}
		return nil
	})
}

// GetByID retrieves a rule by primary key.
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules r WHERE r.id = $1`

	rule, err := scanRule(r.db.QuerierFromContext(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("approval_rule", id)
	}
	return rule, err
}

// List returns a company's rules, optionally filtered to active only.
func (r *RuleRepository) List(ctx context.Context, companyID string, activeOnly bool) ([]*ApprovalRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM approval_rules r WHERE r.company_id = $1`
	if activeOnly {
		query += ` AND r.is_active = TRUE`
	}
	query += ` ORDER BY r.name ASC`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list approval rules")
	}
	defer rows.Close()

	return scanRuleRows(rows)
}

// ListByFlow returns the active rules attached to a flow. These are what the
// evaluator consults after each approval.
func (r *RuleRepository) ListByFlow(ctx context.Context, flowID string) ([]*ApprovalRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM approval_rules r
		JOIN approval_flow_rules fr ON fr.rule_id = r.id
		WHERE fr.flow_id = $1 AND r.is_active = TRUE
		ORDER BY r.name ASC
	`

	rows, err := r.db.QuerierFromContext(ctx).Query(ctx, query, flowID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to list flow rules")
	}
	defer rows.Close()

	return scanRuleRows(rows)
}

// Update persists changes to an existing rule.
func (r *RuleRepository) Update(ctx context.Context, rule *ApprovalRule) error {
	query := `
		UPDATE approval_rules
		SET name                 = $2,
		    description          = $3,
		    rule_type            = $4::approval_rule_type,
		    percentage_threshold = $5,
		    specific_approver_id = $6,
		    min_amount_cents     = $7,
		    max_amount_cents     = $8,
		    is_active            = $9,
		    updated_at           = NOW()
		WHERE id = $1
		RETURNING updated_at
	`

	err := r.db.QuerierFromContext(ctx).QueryRow(ctx, query,
		rule.ID,
		rule.Name,
		rule.Description,
		rule.RuleType,
		rule.PercentageThreshold,
		rule.SpecificApproverID,
		rule.MinAmountCents,
		rule.MaxAmountCents,
		rule.IsActive,
	).Scan(&rule.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("approval_rule", rule.ID)
	}
	return err
}

// Delete removes an approval rule and its flow links.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.QuerierFromContext(ctx).Exec(ctx, `DELETE FROM approval_rules WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeInternal, "failed to delete approval rule")
	}
	if tag.RowsAffected() == 0 {
		return apperrors.NotFound("approval_rule", id)
	}
	return nil
}

// ── scan helpers ─────────────────────────────────────────────────────────────

func scanRule(row rowScanner) (*ApprovalRule, error) {
	rule := &ApprovalRule{}
	err := row.Scan(
		&rule.ID,
		&rule.CompanyID,
		&rule.Name,
		&rule.Description,
		&rule.RuleType,
		&rule.PercentageThreshold,
		&rule.SpecificApproverID,
		&rule.MinAmountCents,
		&rule.MaxAmountCents,
		&rule.IsActive,
		&rule.CreatedAt,
		&rule.UpdatedAt,
		&rule.CategoryIDs,
	)
	if err != nil {
		return nil, err
	}
	return rule, nil
}

func scanRuleRows(rows pgx.Rows) ([]*ApprovalRule, error) {
	var rules []*ApprovalRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeInternal, "failed to scan approval rule")
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
