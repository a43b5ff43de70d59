package approval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sahidur/ams-sub001/model"
)

// PgStore is a PostgreSQL-backed Store using pgx/v5.
type PgStore struct {
	pool *pgxpool.Pool
}

// NewPgStore creates a new PostgreSQL request store.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const requestColumns = `id, request_number, tenant_id, template_id, requester_id,
	scope, status, current_level, total_levels, current_approver_id,
	chain, form_data, attachments,
	created_at, updated_at, submitted_at, completed_at, sla_deadline, version`

// Create inserts a request and its initial actions in one transaction.
func (s *PgStore) Create(ctx context.Context, req model.ApprovalRequest, actions ...model.ApprovalAction) error {
	cols, err := encodeRequest(req)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO approval_requests (`+requestColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15, $16, $17, $18, $19)`,
		req.ID, req.RequestNumber, req.TenantID, req.TemplateID, req.RequesterID,
		cols.scope, req.Status, req.CurrentLevel, req.TotalLevels, nullable(req.CurrentApproverID),
		cols.chain, cols.formData, cols.attachments,
		req.CreatedAt, req.UpdatedAt, req.SubmittedAt, req.CompletedAt, req.SLADeadline, req.Version,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return model.NewConflictError(fmt.Sprintf("request %q or number %q already exists", req.ID, req.RequestNumber))
		}
		return fmt.Errorf("insert request: %w", err)
	}

	for _, a := range actions {
		if err := insertAction(ctx, tx, a); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit create: %w", err)
	}
	return nil
}

// Get retrieves a request by ID, scoped to tenant.
func (s *PgStore) Get(ctx context.Context, tenantID, requestID string) (model.ApprovalRequest, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE id = $1 AND tenant_id = $2`,
		requestID, tenantID,
	)
	req, err := scanRequest(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ApprovalRequest{}, notFound(requestID)
	}
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("query request: %w", err)
	}
	return req, nil
}

// Transition performs the compare-and-swap update and the action insert in
// one transaction.
func (s *PgStore) Transition(ctx context.Context, next model.ApprovalRequest, expected model.RequestStatus, action *model.ApprovalAction) (model.ApprovalRequest, error) {
	cols, err := encodeRequest(next)
	if err != nil {
		return model.ApprovalRequest{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE approval_requests SET
			status = $1,
			current_level = $2,
			total_levels = $3,
			current_approver_id = $4,
			chain = $5,
			form_data = $6,
			attachments = $7,
			updated_at = $8,
			submitted_at = $9,
			completed_at = $10,
			sla_deadline = $11,
			version = version + 1
		WHERE id = $12 AND tenant_id = $13 AND version = $14 AND status = $15`,
		next.Status, next.CurrentLevel, next.TotalLevels, nullable(next.CurrentApproverID),
		cols.chain, cols.formData, cols.attachments,
		next.UpdatedAt, next.SubmittedAt, next.CompletedAt, next.SLADeadline,
		next.ID, next.TenantID, next.Version, expected,
	)
	if err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("update request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return model.ApprovalRequest{}, model.NewConflictError(
			fmt.Sprintf("request %q was modified concurrently (expected version %d)", next.ID, next.Version),
		)
	}

	if action != nil {
		if err := insertAction(ctx, tx, *action); err != nil {
			return model.ApprovalRequest{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("commit transition: %w", err)
	}

	next.Version++
	return next, nil
}

// Actions returns the action log of a request, oldest first.
func (s *PgStore) Actions(ctx context.Context, tenantID, requestID string) ([]model.ApprovalAction, error) {
	// Verify tenant access.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1 AND tenant_id = $2)`,
		requestID, tenantID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("query request: %w", err)
	}
	if !exists {
		return nil, notFound(requestID)
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, request_id, action, level, actor_id, comment, created_at
		FROM approval_actions
		WHERE request_id = $1
		ORDER BY seq ASC`,
		requestID,
	)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []model.ApprovalAction
	for rows.Next() {
		var a model.ApprovalAction
		if err := rows.Scan(&a.ID, &a.RequestID, &a.Type, &a.Level, &a.ActorID, &a.Comment, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// List returns one page of matching requests, newest first.
func (s *PgStore) List(ctx context.Context, f model.RequestFilters) ([]model.ApprovalRequest, int, error) {
	where, args := buildWhere(f)

	var total int
	if err := s.pool.QueryRow(ctx,
		`SELECT count(*) FROM approval_requests`+where, args...,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	query := `SELECT ` + requestColumns + ` FROM approval_requests` + where +
		` ORDER BY created_at DESC, id ASC`
	if f.PageSize > 0 {
		args = append(args, f.PageSize, (max(f.Page, 1)-1)*f.PageSize)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	reqs, err := s.queryRequests(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	if reqs == nil {
		reqs = []model.ApprovalRequest{}
	}
	return reqs, total, nil
}

// FindOverdue returns PENDING requests past their deadline.
func (s *PgStore) FindOverdue(ctx context.Context, now time.Time) ([]model.ApprovalRequest, error) {
	return s.queryRequests(ctx, `
		SELECT `+requestColumns+`
		FROM approval_requests
		WHERE status = 'PENDING' AND sla_deadline IS NOT NULL AND sla_deadline < $1
		ORDER BY sla_deadline ASC`,
		now,
	)
}

// Delete removes a DRAFT request at the given version.
func (s *PgStore) Delete(ctx context.Context, tenantID, requestID string, version int) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM approval_requests
		WHERE id = $1 AND tenant_id = $2 AND version = $3 AND status = 'DRAFT'`,
		requestID, tenantID, version,
	)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.Get(ctx, tenantID, requestID); err != nil {
			return err
		}
		return model.NewConflictError(fmt.Sprintf("request %q was modified concurrently", requestID))
	}
	return nil
}

// HealthCheck pings the database.
func (s *PgStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// queryRequests executes a query and scans every row into a request.
func (s *PgStore) queryRequests(ctx context.Context, query string, args ...any) ([]model.ApprovalRequest, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.ApprovalRequest
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// buildWhere renders the non-zero filters as a WHERE clause.
func buildWhere(f model.RequestFilters) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.TenantID != "" {
		add("tenant_id = $%d", f.TenantID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if f.TemplateID != "" {
		add("template_id = $%d", f.TemplateID)
	}
	if f.RequesterID != "" {
		add("requester_id = $%d", f.RequesterID)
	}
	if f.ApproverID != "" {
		add("current_approver_id = $%d", f.ApproverID)
	}
	if f.OverdueAt != nil {
		conds = append(conds, "status = 'PENDING'", "sla_deadline IS NOT NULL")
		add("sla_deadline < $%d", *f.OverdueAt)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

type encodedColumns struct {
	scope       []byte
	chain       []byte
	formData    []byte
	attachments []byte
}

func encodeRequest(req model.ApprovalRequest) (encodedColumns, error) {
	var cols encodedColumns
	var err error
	if cols.scope, err = json.Marshal(req.Scope); err != nil {
		return cols, fmt.Errorf("marshal scope: %w", err)
	}
	chain := req.Chain
	if chain == nil {
		chain = []model.ApprovalLevel{}
	}
	if cols.chain, err = json.Marshal(chain); err != nil {
		return cols, fmt.Errorf("marshal chain: %w", err)
	}
	if cols.formData, err = json.Marshal(req.FormData); err != nil {
		return cols, fmt.Errorf("marshal form data: %w", err)
	}
	attachments := req.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	if cols.attachments, err = json.Marshal(attachments); err != nil {
		return cols, fmt.Errorf("marshal attachments: %w", err)
	}
	return cols, nil
}

func scanRequest(row pgx.Row) (model.ApprovalRequest, error) {
	var req model.ApprovalRequest
	var approver *string
	var scope, chain, formData, attachments []byte

	if err := row.Scan(
		&req.ID, &req.RequestNumber, &req.TenantID, &req.TemplateID, &req.RequesterID,
		&scope, &req.Status, &req.CurrentLevel, &req.TotalLevels, &approver,
		&chain, &formData, &attachments,
		&req.CreatedAt, &req.UpdatedAt, &req.SubmittedAt, &req.CompletedAt, &req.SLADeadline, &req.Version,
	); err != nil {
		return model.ApprovalRequest{}, err
	}

	if approver != nil {
		req.CurrentApproverID = *approver
	}
	if err := json.Unmarshal(scope, &req.Scope); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal scope: %w", err)
	}
	if err := json.Unmarshal(chain, &req.Chain); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal chain: %w", err)
	}
	if len(req.Chain) == 0 {
		req.Chain = nil
	}
	if err := json.Unmarshal(formData, &req.FormData); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal form data: %w", err)
	}
	if err := json.Unmarshal(attachments, &req.Attachments); err != nil {
		return model.ApprovalRequest{}, fmt.Errorf("unmarshal attachments: %w", err)
	}
	if len(req.Attachments) == 0 {
		req.Attachments = nil
	}
	return req, nil
}

func insertAction(ctx context.Context, tx pgx.Tx, a model.ApprovalAction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO approval_actions (id, request_id, action, level, actor_id, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.RequestID, a.Type, a.Level, a.ActorID, a.Comment, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	return errors.As(err, &pgErr) && pgErr.SQLState() == "23505"
}
