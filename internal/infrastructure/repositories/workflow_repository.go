package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/versioning"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
)

// WorkflowRepository is the CRUD + versioning-integrated repository
// for the workflows table.
type WorkflowRepository struct {
	db *sqlx.DB
}

func NewWorkflowRepository(db *sqlx.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

type workflowRow struct {
	UUID               string         `db:"uuid"`
	Name               string         `db:"name"`
	Description        sql.NullString `db:"description"`
	Kind               string         `db:"kind"`
	Enabled            bool           `db:"enabled"`
	ScheduleCron       sql.NullString `db:"schedule_cron"`
	Config             []byte         `db:"config"`
	VersioningDisabled bool           `db:"versioning_disabled"`
	Version            int            `db:"version"`
	CreatedAt          time.Time      `db:"created_at"`
	UpdatedAt          time.Time      `db:"updated_at"`
	CreatedBy          sql.NullString `db:"created_by"`
	UpdatedBy          sql.NullString `db:"updated_by"`
}

func (r workflowRow) toEntity() (*entities.Workflow, error) {
	var program entities.DslProgram
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &program); err != nil {
			return nil, rerrors.Database("failed to decode workflow config", err)
		}
	}
	return &entities.Workflow{
		UUID:               r.UUID,
		Name:               r.Name,
		Description:        r.Description.String,
		Kind:               r.Kind,
		Enabled:            r.Enabled,
		ScheduleCron:       r.ScheduleCron.String,
		Program:            program,
		VersioningDisabled: r.VersioningDisabled,
		Version:            r.Version,
		CreatedAt:          r.CreatedAt,
		UpdatedAt:          r.UpdatedAt,
		CreatedBy:          r.CreatedBy.String,
		UpdatedBy:          r.UpdatedBy.String,
	}, nil
}

const workflowColumns = `uuid, name, description, kind, enabled, schedule_cron, config, versioning_disabled, version, created_at, updated_at, created_by, updated_by`

func (r *WorkflowRepository) GetByUUID(ctx context.Context, id string) (*entities.Workflow, error) {
	var row workflowRow
	query := `SELECT ` + workflowColumns + ` FROM workflows WHERE uuid = $1`
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("workflow", id)
		}
		return nil, rerrors.Database("failed to load workflow", err)
	}
	return row.toEntity()
}

func (r *WorkflowRepository) List(ctx context.Context) ([]*entities.Workflow, error) {
	var rows []workflowRow
	query := `SELECT ` + workflowColumns + ` FROM workflows ORDER BY name`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, rerrors.Database("failed to list workflows", err)
	}
	out := make([]*entities.Workflow, 0, len(rows))
	for _, row := range rows {
		wf, err := row.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r *WorkflowRepository) Create(ctx context.Context, wf *entities.Workflow, actor string) error {
	if wf.UUID == "" {
		wf.UUID = uuid.NewString()
	}
	wf.Version = 1
	wf.CreatedBy = actor
	wf.UpdatedBy = actor

	configJSON, err := json.Marshal(wf.Program)
	if err != nil {
		return rerrors.Validation("failed to encode workflow config")
	}

	query := `
		INSERT INTO workflows (uuid, name, description, kind, enabled, schedule_cron, config, versioning_disabled, version, created_by, updated_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`
	row := r.db.QueryRowxContext(ctx, query, wf.UUID, wf.Name, wf.Description, wf.Kind, wf.Enabled,
		wf.ScheduleCron, configJSON, wf.VersioningDisabled, wf.Version, actor, actor)
	if err := row.Scan(&wf.CreatedAt, &wf.UpdatedAt); err != nil {
		return rerrors.Database("failed to create workflow", err)
	}
	return nil
}

// Update persists a new config within a transaction, snapshotting the
// pre-image via version before committing ('s
// snapshot-before-mutation ordering guarantee).
func (r *WorkflowRepository) Update(ctx context.Context, wf *entities.Workflow, actor string, version *versioning.Store) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return rerrors.Database("failed to begin transaction", err)
	}
	defer tx.Rollback()

	var row workflowRow
	selectQuery := `SELECT ` + workflowColumns + ` FROM workflows WHERE uuid = $1 FOR UPDATE`
	if err := tx.GetContext(ctx, &row, selectQuery, wf.UUID); err != nil {
		if err == sql.ErrNoRows {
			return rerrors.NotFound("workflow", wf.UUID)
		}
		return rerrors.Database("failed to load workflow for update", err)
	}

	prior, err := row.toEntity()
	if err != nil {
		return err
	}
	priorJSON, err := json.Marshal(prior)
	if err != nil {
		return rerrors.Database("failed to encode prior workflow", err)
	}
	if err := version.Snapshot(ctx, tx, entities.TargetWorkflow, wf.UUID, row.Version, priorJSON, actor); err != nil {
		return err
	}

	newVersion := row.Version + 1
	configJSON, err := json.Marshal(wf.Program)
	if err != nil {
		return rerrors.Validation("failed to encode workflow config")
	}

	updateQuery := `
		UPDATE workflows
		SET name = $1, description = $2, kind = $3, enabled = $4, schedule_cron = $5, config = $6, versioning_disabled = $7, version = $8, updated_by = $9, updated_at = now()
		WHERE uuid = $10
		RETURNING updated_at`
	if err := tx.GetContext(ctx, &wf.UpdatedAt, updateQuery, wf.Name, wf.Description, wf.Kind, wf.Enabled,
		wf.ScheduleCron, configJSON, wf.VersioningDisabled, newVersion, actor, wf.UUID); err != nil {
		return rerrors.Database("failed to update workflow", err)
	}
	wf.Version = newVersion
	wf.CreatedAt = prior.CreatedAt
	wf.CreatedBy = prior.CreatedBy
	wf.UpdatedBy = actor

	if err := tx.Commit(); err != nil {
		return rerrors.Database("failed to commit workflow update", err)
	}
	return nil
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM workflows WHERE uuid = $1`, id)
	if err != nil {
		return rerrors.Database("failed to delete workflow", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return rerrors.NotFound("workflow", id)
	}
	return nil
}
