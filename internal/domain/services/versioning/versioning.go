// Package versioning implements the Versioning Subsystem:
// a pre-image snapshot taken before every mutating write to an Entity,
// EntityDefinition or Workflow, plus the age/count pruning task.
// Grounded on the existing repositories for the sqlx/raw-SQL idiom;
// the snapshot-then-mutate transaction pattern follows an
// explicit-transaction-boundary discipline: the pre-image write and
// the mutation it precedes always commit together or not at all.
package versioning

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// Execer is the subset of *sqlx.DB / *sqlx.Tx the Store needs, so a
// caller can pass either a bare connection or an in-flight transaction
// (the snapshot and the mutation it precedes must commit atomically).
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Store writes and reads VersionedSnapshot rows, and prunes them on a
// schedule.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewStore(db *sqlx.DB, log *logger.Logger) *Store {
	return &Store{db: db, log: log}
}

func tableFor(kind entities.TargetKind) (string, bool) {
	switch kind {
	case entities.TargetEntity:
		return "entities_versions", true
	case entities.TargetEntityDefinition:
		return "entity_definition_versions", true
	case entities.TargetWorkflow:
		return "workflow_versions", true
	default:
		return "", false
	}
}

// Snapshot writes the pre-image of target at versionNumber within exec
// (which may be a transaction shared with the caller's mutation). The
// insert is ON CONFLICT DO NOTHING, keyed on (target_uuid,
// version_number)
func (s *Store) Snapshot(ctx context.Context, exec Execer, kind entities.TargetKind, targetUUID string, versionNumber int, data []byte, createdBy string) error {
	table, ok := tableFor(kind)
	if !ok {
		return rerrors.Validation("unknown snapshot target kind")
	}

	query := `
		INSERT INTO ` + table + ` (target_uuid, version_number, data, created_by)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (target_uuid, version_number) DO NOTHING`
	if _, err := exec.ExecContext(ctx, query, targetUUID, versionNumber, data, createdBy); err != nil {
		return rerrors.Database("failed to write version snapshot", err)
	}
	return nil
}

type snapshotRow struct {
	TargetUUID    string    `db:"target_uuid"`
	VersionNumber int       `db:"version_number"`
	Data          []byte    `db:"data"`
	CreatedAt     time.Time `db:"created_at"`
	CreatedBy     sql.NullString `db:"created_by"`
}

func (r snapshotRow) toEntity(kind entities.TargetKind) *entities.VersionedSnapshot {
	return &entities.VersionedSnapshot{
		TargetUUID:    r.TargetUUID,
		TargetKind:    kind,
		VersionNumber: r.VersionNumber,
		Data:          r.Data,
		CreatedAt:     r.CreatedAt,
		CreatedBy:     r.CreatedBy.String,
	}
}

// Get retrieves a single snapshot at the given version number
// (backs `GET /{uuid}/versions/{n}`).
func (s *Store) Get(ctx context.Context, kind entities.TargetKind, targetUUID string, versionNumber int) (*entities.VersionedSnapshot, error) {
	table, ok := tableFor(kind)
	if !ok {
		return nil, rerrors.Validation("unknown snapshot target kind")
	}
	query := `SELECT target_uuid, version_number, data, created_at, created_by FROM ` + table + `
		WHERE target_uuid = $1 AND version_number = $2`
	var row snapshotRow
	if err := s.db.GetContext(ctx, &row, query, targetUUID, versionNumber); err != nil {
		if err == sql.ErrNoRows {
			return nil, rerrors.NotFound("version", targetUUID)
		}
		return nil, rerrors.Database("failed to load version snapshot", err)
	}
	return row.toEntity(kind), nil
}

// List returns every snapshot for a target, newest first (backs
// `GET /{uuid}/versions`).
func (s *Store) List(ctx context.Context, kind entities.TargetKind, targetUUID string) ([]*entities.VersionedSnapshot, error) {
	table, ok := tableFor(kind)
	if !ok {
		return nil, rerrors.Validation("unknown snapshot target kind")
	}
	query := `SELECT target_uuid, version_number, data, created_at, created_by FROM ` + table + `
		WHERE target_uuid = $1 ORDER BY version_number DESC`
	var rows []snapshotRow
	if err := s.db.SelectContext(ctx, &rows, query, targetUUID); err != nil {
		return nil, rerrors.Database("failed to list version snapshots", err)
	}
	out := make([]*entities.VersionedSnapshot, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toEntity(kind))
	}
	return out, nil
}

// PruneOptions carries the optional age/count limits read from
// system_settings.
type PruneOptions struct {
	MaxAgeDays  *int
	MaxVersions *int
}

// Prune applies age- then count-based retention to every snapshot
// table. Age pruning deletes rows older than max_age_days outright;
// count pruning then keeps only the newest max_versions rows per
// target via a windowed rank, for each of the three snapshot kinds.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) error {
	for _, kind := range []entities.TargetKind{entities.TargetEntity, entities.TargetEntityDefinition, entities.TargetWorkflow} {
		table, _ := tableFor(kind)

		if opts.MaxAgeDays != nil {
			query := `DELETE FROM ` + table + ` WHERE created_at < now() - ($1 || ' days')::interval`
			res, err := s.db.ExecContext(ctx, query, *opts.MaxAgeDays)
			if err != nil {
				return rerrors.Database("failed to prune snapshots by age", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				s.log.Info("pruned version snapshots by age", "table", table, "deleted", n)
			}
		}

		if opts.MaxVersions != nil {
			query := `
				DELETE FROM ` + table + ` WHERE (target_uuid, version_number) IN (
					SELECT target_uuid, version_number FROM (
						SELECT target_uuid, version_number,
							row_number() OVER (PARTITION BY target_uuid ORDER BY version_number DESC) AS rank
						FROM ` + table + `
					) ranked WHERE rank > $1
				)`
			res, err := s.db.ExecContext(ctx, query, *opts.MaxVersions)
			if err != nil {
				return rerrors.Database("failed to prune snapshots by count", err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				s.log.Info("pruned version snapshots by count", "table", table, "deleted", n)
			}
		}
	}
	return nil
}
