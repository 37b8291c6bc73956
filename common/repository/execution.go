package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/telflow/telflow/common/db"
	"github.com/telflow/telflow/common/models"
)

// ExecutionLogRepository is the Postgres-backed execution log. It satisfies
// the engine's execlog.Store interface.
type ExecutionLogRepository struct {
	db *db.DB
}

// NewExecutionLogRepository creates a new execution log repository
func NewExecutionLogRepository(database *db.DB) *ExecutionLogRepository {
	return &ExecutionLogRepository{db: database}
}

// Start creates a log in state running. Idempotent on execution_id.
func (r *ExecutionLogRepository) Start(ctx context.Context, executionID string, workflowID uuid.UUID, version int, startedAt time.Time) error {
	query := `
		INSERT INTO execution_log (execution_id, workflow_id, workflow_version, state, started_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (execution_id) DO NOTHING
	`

	_, err := r.db.Exec(ctx, query, executionID, workflowID, version, models.StateRunning, startedAt)
	if err != nil {
		return fmt.Errorf("failed to start execution log: %w", err)
	}
	return nil
}

// AppendNode appends a node result to the log
func (r *ExecutionLogRepository) AppendNode(ctx context.Context, executionID string, result models.NodeResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal node result: %w", err)
	}

	query := `
		INSERT INTO execution_node_result (execution_id, result, recorded_at)
		VALUES ($1, $2, now())
	`

	if _, err := r.db.Exec(ctx, query, executionID, body); err != nil {
		return fmt.Errorf("failed to append node result: %w", err)
	}
	return nil
}

// End sets the terminal state and completion time. Idempotent: a log that
// already reached a terminal state is left untouched.
func (r *ExecutionLogRepository) End(ctx context.Context, executionID string, state models.ExecutionState, output map[string]any, finalErr *models.NodeError) error {
	var outBody, errBody []byte
	var err error
	if output != nil {
		if outBody, err = json.Marshal(output); err != nil {
			return fmt.Errorf("failed to marshal output: %w", err)
		}
	}
	if finalErr != nil {
		if errBody, err = json.Marshal(finalErr); err != nil {
			return fmt.Errorf("failed to marshal error: %w", err)
		}
	}

	query := `
		UPDATE execution_log
		SET state = $2, completed_at = now(), output = $3, error = $4
		WHERE execution_id = $1 AND state = $5
	`

	if _, err := r.db.Exec(ctx, query, executionID, state, outBody, errBody, models.StateRunning); err != nil {
		return fmt.Errorf("failed to end execution log: %w", err)
	}
	return nil
}

// Get retrieves one execution log with its node results in append order.
// Returns nil when the execution id is unknown.
func (r *ExecutionLogRepository) Get(ctx context.Context, executionID string) (*models.ExecutionLog, error) {
	query := `
		SELECT execution_id, workflow_id, workflow_version, state, started_at, completed_at, output, error
		FROM execution_log
		WHERE execution_id = $1
	`

	log, err := r.scanLog(r.db.QueryRow(ctx, query, executionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	rows, err := r.db.Query(ctx,
		`SELECT result FROM execution_node_result WHERE execution_id = $1 ORDER BY id`,
		executionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query node results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("failed to scan node result: %w", err)
		}
		var result models.NodeResult
		if err := json.Unmarshal(body, &result); err != nil {
			return nil, fmt.Errorf("failed to unmarshal node result: %w", err)
		}
		log.NodeResults = append(log.NodeResults, result)
	}

	return log, rows.Err()
}

// Query retrieves execution logs matching the filter, newest first
func (r *ExecutionLogRepository) Query(ctx context.Context, filter models.LogFilter) ([]*models.ExecutionLog, error) {
	var conds []string
	var args []any

	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if filter.WorkflowID != nil {
		add("workflow_id = $%d", *filter.WorkflowID)
	}
	if filter.State != "" {
		add("state = $%d", filter.State)
	}
	if filter.From != nil {
		add("started_at >= $%d", *filter.From)
	}
	if filter.To != nil {
		add("started_at <= $%d", *filter.To)
	}

	query := `
		SELECT execution_id, workflow_id, workflow_version, state, started_at, completed_at, output, error
		FROM execution_log
	`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY started_at DESC LIMIT $%d", len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query execution logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.ExecutionLog
	for rows.Next() {
		log, err := r.scanLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (r *ExecutionLogRepository) scanLog(row rowScanner) (*models.ExecutionLog, error) {
	log := &models.ExecutionLog{}
	var outBody, errBody []byte

	err := row.Scan(
		&log.ExecutionID,
		&log.WorkflowID,
		&log.WorkflowVersion,
		&log.State,
		&log.StartedAt,
		&log.CompletedAt,
		&outBody,
		&errBody,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan execution log: %w", err)
	}

	if len(outBody) > 0 {
		if err := json.Unmarshal(outBody, &log.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}
	if len(errBody) > 0 {
		log.Error = &models.NodeError{}
		if err := json.Unmarshal(errBody, log.Error); err != nil {
			return nil, fmt.Errorf("failed to unmarshal error: %w", err)
		}
	}

	return log, nil
}
