package entities

import "time"

// TargetKind is the closed set of things a VersionedSnapshot can be
// taken of.
type TargetKind string

const (
	TargetEntity           TargetKind = "entity"
	TargetEntityDefinition TargetKind = "entity_definition"
	TargetWorkflow         TargetKind = "workflow"
)

// VersionedSnapshot is the pre-image record:
// (target_uuid, target_kind, version_number, data, created_at,
// created_by). Snapshots are immutable once written; uniqueness is on
// (target_uuid, version_number) and a conflicting insert is a no-op.
type VersionedSnapshot struct {
	TargetUUID    string
	TargetKind    TargetKind
	VersionNumber int
	Data          []byte // the prior row, serialized as JSON
	CreatedAt     time.Time
	CreatedBy     string
}
