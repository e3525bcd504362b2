package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// RunRepository persists Run/RawItem/RunLog rows and implements the
// atomic claim step of the Run Orchestrator.
type RunRepository struct {
	db *sqlx.DB
}

func NewRunRepository(db *sqlx.DB) *RunRepository {
	return &RunRepository{db: db}
}

type runRow struct {
	UUID            string       `db:"uuid"`
	WorkflowUUID    string       `db:"workflow_uuid"`
	TriggerUUID     string       `db:"trigger_uuid"`
	Status          string       `db:"status"`
	QueuedAt        time.Time    `db:"queued_at"`
	StartedAt       sql.NullTime `db:"started_at"`
	FinishedAt      sql.NullTime `db:"finished_at"`
	ProcessedCount  int          `db:"processed_count"`
	FailedCount     int          `db:"failed_count"`
	CancelRequested bool         `db:"cancel_requested"`
}

func (r runRow) toEntity() *entities.Run {
	run := &entities.Run{
		UUID:            r.UUID,
		WorkflowUUID:    r.WorkflowUUID,
		TriggerUUID:     r.TriggerUUID,
		Status:          entities.RunStatus(r.Status),
		QueuedAt:        r.QueuedAt,
		ProcessedCount:  r.ProcessedCount,
		FailedCount:     r.FailedCount,
		CancelRequested: r.CancelRequested,
	}
	if r.StartedAt.Valid {
		run.StartedAt = &r.StartedAt.Time
	}
	if r.FinishedAt.Valid {
		run.FinishedAt = &r.FinishedAt.Time
	}
	return run
}

const runColumns = `uuid, workflow_uuid, trigger_uuid, status, queued_at, started_at, finished_at, processed_count, failed_count, cancel_requested`

// Enqueue inserts a new Run in status queued.
func (r *RunRepository) Enqueue(ctx context.Context, workflowUUID string) (*entities.Run, error) {
	run := &entities.Run{
		UUID:         uuid.NewString(),
		WorkflowUUID: workflowUUID,
		TriggerUUID:  uuid.NewString(),
		Status:       entities.RunQueued,
	}
	query := `
		INSERT INTO workflow_runs (uuid, workflow_uuid, trigger_uuid, status)
		VALUES ($1, $2, $3, $4)
		RETURNING queued_at`
	if err := r.db.GetContext(ctx, &run.QueuedAt, query, run.UUID, run.WorkflowUUID, run.TriggerUUID, run.Status); err != nil {
		return nil, rerrors.Database("failed to enqueue run", err)
	}
	return run, nil
}

func (r *RunRepository) GetByUUID(ctx context.Context, id string) (*entities.Run, error) {
	var row runRow
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE uuid = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("run", id)
		}
		return nil, rerrors.Database("failed to load run", err)
	}
	return row.toEntity(), nil
}

// ListByWorkflow returns a page of Runs for a workflow, newest first,
// and the total count across all pages (its paginated envelope).
func (r *RunRepository) ListByWorkflow(ctx context.Context, workflowUUID string, limit, offset int) ([]*entities.Run, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT count(*) FROM workflow_runs WHERE workflow_uuid = $1`, workflowUUID); err != nil {
		return nil, 0, rerrors.Database("failed to count runs", err)
	}

	var rows []runRow
	query := `SELECT ` + runColumns + ` FROM workflow_runs WHERE workflow_uuid = $1 ORDER BY queued_at DESC LIMIT $2 OFFSET $3`
	if err := r.db.SelectContext(ctx, &rows, query, workflowUUID, limit, offset); err != nil {
		return nil, 0, rerrors.Database("failed to list runs", err)
	}
	out := make([]*entities.Run, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, total, nil
}

// ClaimNextQueuedRun atomically flips the oldest queued Run to running
// under row lock, so multiple pool workers never pick up the same
// Run, and returns it. Returns (nil, nil) when no Run is queued.
func (r *RunRepository) ClaimNextQueuedRun(ctx context.Context) (*entities.Run, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, rerrors.Database("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var row runRow
	selectQuery := `SELECT ` + runColumns + ` FROM workflow_runs WHERE status = $1 ORDER BY queued_at LIMIT 1 FOR UPDATE SKIP LOCKED`
	if err := tx.GetContext(ctx, &row, selectQuery, entities.RunQueued); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, rerrors.Database("failed to select queued run", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE workflow_runs SET status = $1, started_at = now() WHERE uuid = $2`, entities.RunRunning, row.UUID); err != nil {
		return nil, rerrors.Database("failed to claim queued run", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, rerrors.Database("failed to commit run claim", err)
	}

	run := row.toEntity()
	run.Status = entities.RunRunning
	return run, nil
}

// MarkRunning flips a Run's status to running and stamps started_at.
func (r *RunRepository) MarkRunning(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE workflow_runs SET status = $1, started_at = now() WHERE uuid = $2`, entities.RunRunning, id)
	if err != nil {
		return rerrors.Database("failed to mark run running", err)
	}
	return nil
}

// RequestCancel flags a queued or running Run for cancellation. The
// Run Orchestrator observes the flag between claimed batches rather
// than being signalled directly, so a Run already mid-item finishes
// that item before the request takes effect. Returns a Validation
// error when the Run does not exist or has already reached a terminal
// status.
func (r *RunRepository) RequestCancel(ctx context.Context, id string) error {
	query := `
		UPDATE workflow_runs SET cancel_requested = true
		WHERE uuid = $1 AND status IN ($2, $3)`
	res, err := r.db.ExecContext(ctx, query, id, entities.RunQueued, entities.RunRunning)
	if err != nil {
		return rerrors.Database("failed to request run cancellation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.Validation("run is not cancellable")
	}
	return nil
}

// IsCancelRequested reports whether a cancellation has been requested
// for a Run.
func (r *RunRepository) IsCancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	query := `SELECT cancel_requested FROM workflow_runs WHERE uuid = $1`
	if err := r.db.GetContext(ctx, &requested, query, id); err != nil {
		return false, rerrors.Database("failed to check run cancellation", err)
	}
	return requested, nil
}

// Finalize sets a Run's terminal status and counts.
func (r *RunRepository) Finalize(ctx context.Context, id string, status entities.RunStatus, processed, failed int) error {
	query := `UPDATE workflow_runs SET status = $1, finished_at = now(), processed_count = $2, failed_count = $3 WHERE uuid = $4`
	if _, err := r.db.ExecContext(ctx, query, status, processed, failed, id); err != nil {
		return rerrors.Database("failed to finalize run", err)
	}
	return nil
}

// StageItem inserts a queued RawItem for a Run.
func (r *RunRepository) StageItem(ctx context.Context, runUUID string, payload []byte) error {
	query := `INSERT INTO workflow_raw_items (uuid, run_uuid, payload, status) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), runUUID, payload, entities.RawItemQueued); err != nil {
		return rerrors.Database("failed to stage raw item", err)
	}
	return nil
}

// ClaimBatch atomically flips up to limit queued items to claimed
// under row lock (: "claimed atomically ... so multiple
// processors don't double-process") and returns them.
func (r *RunRepository) ClaimBatch(ctx context.Context, runUUID string, limit int) ([]*entities.RawItem, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, rerrors.Database("failed to begin transaction", err)
	}
	defer tx.Rollback()

	selectQuery := `
		SELECT uuid FROM workflow_raw_items
		WHERE run_uuid = $1 AND status = $2
		ORDER BY created_at
		LIMIT $3
		FOR UPDATE SKIP LOCKED`
	var ids []string
	if err := tx.SelectContext(ctx, &ids, selectQuery, runUUID, entities.RawItemQueued, limit); err != nil {
		return nil, rerrors.Database("failed to select raw items for claim", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	updateQuery := `UPDATE workflow_raw_items SET status = $1 WHERE uuid = ANY($2)`
	if _, err := tx.ExecContext(ctx, updateQuery, entities.RawItemClaimed, pq.Array(ids)); err != nil {
		return nil, rerrors.Database("failed to claim raw items", err)
	}

	selectClaimed := `SELECT uuid, run_uuid, payload, status, error, created_at, processed_at FROM workflow_raw_items WHERE uuid = ANY($1)`
	var rows []rawItemRow
	if err := tx.SelectContext(ctx, &rows, selectClaimed, pq.Array(ids)); err != nil {
		return nil, rerrors.Database("failed to reload claimed raw items", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, rerrors.Database("failed to commit claim", err)
	}

	out := make([]*entities.RawItem, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity())
	}
	return out, nil
}

type rawItemRow struct {
	UUID        string         `db:"uuid"`
	RunUUID     string         `db:"run_uuid"`
	Payload     []byte         `db:"payload"`
	Status      string         `db:"status"`
	Error       sql.NullString `db:"error"`
	CreatedAt   time.Time      `db:"created_at"`
	ProcessedAt sql.NullTime   `db:"processed_at"`
}

func (r rawItemRow) toEntity() *entities.RawItem {
	item := &entities.RawItem{
		UUID:      r.UUID,
		RunUUID:   r.RunUUID,
		Payload:   r.Payload,
		Status:    entities.RawItemStatus(r.Status),
		Error:     r.Error.String,
		CreatedAt: r.CreatedAt,
	}
	if r.ProcessedAt.Valid {
		item.ProcessedAt = &r.ProcessedAt.Time
	}
	return item
}

// SetItemStatus updates a RawItem's terminal status. Per,
// errors here are logged by the caller but never panic the worker.
func (r *RunRepository) SetItemStatus(ctx context.Context, itemUUID string, status entities.RawItemStatus, errMsg string) error {
	query := `UPDATE workflow_raw_items SET status = $1, error = $2, processed_at = now() WHERE uuid = $3`
	if _, err := r.db.ExecContext(ctx, query, status, nullableErr(errMsg), itemUUID); err != nil {
		return rerrors.Database("failed to set raw item status", err)
	}
	return nil
}

// CountQueued reports how many RawItems remain queued for a Run, used
// to decide when processing is complete.
func (r *RunRepository) CountQueued(ctx context.Context, runUUID string) (int, error) {
	var count int
	query := `SELECT count(*) FROM workflow_raw_items WHERE run_uuid = $1 AND status = $2`
	if err := r.db.GetContext(ctx, &count, query, runUUID, entities.RawItemQueued); err != nil {
		return 0, rerrors.Database("failed to count queued raw items", err)
	}
	return count, nil
}

// FailAllQueued marks every queued item for a Run as failed with
// message, used when a DSL fails validation at run start (
// step 4).
func (r *RunRepository) FailAllQueued(ctx context.Context, runUUID, message string) (int, error) {
	query := `UPDATE workflow_raw_items SET status = $1, error = $2, processed_at = now() WHERE run_uuid = $3 AND status = $4`
	res, err := r.db.ExecContext(ctx, query, entities.RawItemFailed, message, runUUID, entities.RawItemQueued)
	if err != nil {
		return 0, rerrors.Database("failed to fail queued raw items", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// AppendLog appends an immutable RunLog line.
func (r *RunRepository) AppendLog(ctx context.Context, runUUID string, level entities.RunLogLevel, message string, meta map[string]interface{}) error {
	var metaJSON []byte
	if len(meta) > 0 {
		var err error
		metaJSON, err = json.Marshal(meta)
		if err != nil {
			return rerrors.Database("failed to encode run log meta", err)
		}
	}
	query := `INSERT INTO workflow_run_logs (run_uuid, level, message, meta) VALUES ($1, $2, $3, $4)`
	if _, err := r.db.ExecContext(ctx, query, runUUID, level, message, metaJSON); err != nil {
		return rerrors.Database("failed to append run log", err)
	}
	return nil
}

// ListLogs returns every log line for a Run in insertion order.
func (r *RunRepository) ListLogs(ctx context.Context, runUUID string) ([]*entities.RunLog, error) {
	type logRow struct {
		ID      int64     `db:"id"`
		RunUUID string    `db:"run_uuid"`
		Ts      time.Time `db:"ts"`
		Level   string    `db:"level"`
		Message string    `db:"message"`
		Meta    []byte    `db:"meta"`
	}
	var rows []logRow
	query := `SELECT id, run_uuid, ts, level, message, meta FROM workflow_run_logs WHERE run_uuid = $1 ORDER BY id`
	if err := r.db.SelectContext(ctx, &rows, query, runUUID); err != nil {
		return nil, rerrors.Database("failed to list run logs", err)
	}
	out := make([]*entities.RunLog, 0, len(rows))
	for _, row := range rows {
		var meta map[string]interface{}
		if len(row.Meta) > 0 {
			if err := json.Unmarshal(row.Meta, &meta); err != nil {
				return nil, rerrors.Database("failed to decode run log meta", err)
			}
		}
		out = append(out, &entities.RunLog{
			ID:      row.ID,
			RunUUID: row.RunUUID,
			Ts:      row.Ts,
			Level:   entities.RunLogLevel(row.Level),
			Message: row.Message,
			Meta:    meta,
		})
	}
	return out, nil
}

func nullableErr(msg string) interface{} {
	if msg == "" {
		return nil
	}
	return msg
}
