package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/workflow"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/repositories"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// claimBatchSize is the "up to N (e.g. 200)" figure it names
// for how many queued RawItems a processing pass claims at once.
const claimBatchSize = 200

// Orchestrator drives the full Run lifecycle: enqueue,
// fetch-and-stage, process, finalize.
type Orchestrator struct {
	runs      *repositories.RunRepository
	workflows *repositories.WorkflowRepository
	fetcher   *workflow.Fetcher
	pipeline  *Pipeline
	log       *logger.Logger
}

func NewOrchestrator(runs *repositories.RunRepository, workflows *repositories.WorkflowRepository, fetcher *workflow.Fetcher, pipeline *Pipeline, log *logger.Logger) *Orchestrator {
	return &Orchestrator{runs: runs, workflows: workflows, fetcher: fetcher, pipeline: pipeline, log: log}
}

// Enqueue inserts a new Run and logs its creation.
func (o *Orchestrator) Enqueue(ctx context.Context, workflowUUID string) (*entities.Run, error) {
	run, err := o.runs.Enqueue(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	_ = o.runs.AppendLog(ctx, run.UUID, entities.LogInfo, "run queued", map[string]interface{}{"workflow_uuid": workflowUUID})
	return run, nil
}

// FetchAndStage pulls source bytes via the workflow's first step's
// Source adapter, parses them with the Format handler, and stages
// each row as a queued RawItem ( step 2, external trigger).
func (o *Orchestrator) FetchAndStage(ctx context.Context, run *entities.Run) error {
	wf, err := o.workflows.GetByUUID(ctx, run.WorkflowUUID)
	if err != nil {
		return err
	}
	if len(wf.Program.Steps) == 0 || wf.Program.Steps[0].From.Kind != entities.FromFormat {
		return rerrors.Validation("fetch-and-stage requires a Format source on the first step")
	}
	src := wf.Program.Steps[0].From.Source

	raw, err := o.fetcher.Fetch(ctx, src)
	if err != nil {
		_ = o.runs.AppendLog(ctx, run.UUID, entities.LogError, "fetch failed: "+err.Error(), nil)
		return err
	}
	rows, err := workflow.Decode(src.Format, raw)
	if err != nil {
		_ = o.runs.AppendLog(ctx, run.UUID, entities.LogError, "decode failed: "+err.Error(), nil)
		return err
	}
	return o.stageRows(ctx, run, rows)
}

// Upload parses an uploaded payload per the workflow's configured
// format and stages it directly, skipping the fetch step entirely
//.
func (o *Orchestrator) Upload(ctx context.Context, workflowUUID string, payload []byte) (*entities.Run, error) {
	run, err := o.Enqueue(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}

	wf, err := o.workflows.GetByUUID(ctx, workflowUUID)
	if err != nil {
		return nil, err
	}
	if len(wf.Program.Steps) == 0 {
		return nil, rerrors.Validation("workflow has no steps")
	}

	if len(payload) == 0 {
		_ = o.runs.AppendLog(ctx, run.UUID, entities.LogWarn, "upload payload is empty", nil)
		if err := o.runs.Finalize(ctx, run.UUID, entities.RunSucceeded, 0, 0); err != nil {
			return nil, err
		}
		return run, nil
	}

	format := wf.Program.Steps[0].From.Source.Format
	rows, err := workflow.Decode(format, payload)
	if err != nil {
		_ = o.runs.AppendLog(ctx, run.UUID, entities.LogError, "decode failed: "+err.Error(), nil)
		if ferr := o.runs.Finalize(ctx, run.UUID, entities.RunFailed, 0, 0); ferr != nil {
			return nil, ferr
		}
		return run, err
	}
	if err := o.stageRows(ctx, run, rows); err != nil {
		return nil, err
	}
	return run, nil
}

func (o *Orchestrator) stageRows(ctx context.Context, run *entities.Run, rows []workflow.Record) error {
	if len(rows) == 0 {
		_ = o.runs.AppendLog(ctx, run.UUID, entities.LogWarn, "no rows to stage", nil)
		return o.runs.Finalize(ctx, run.UUID, entities.RunSucceeded, 0, 0)
	}
	for _, row := range rows {
		payload, err := json.Marshal(row)
		if err != nil {
			return rerrors.Database("failed to encode staged row", err)
		}
		if err := o.runs.StageItem(ctx, run.UUID, payload); err != nil {
			return err
		}
	}
	_ = o.runs.AppendLog(ctx, run.UUID, entities.LogInfo, fmt.Sprintf("staged %d rows", len(rows)), nil)
	return nil
}

// Process claims and drives queued items through the DSL until none
// remain, then finalizes the Run ( steps 3-4). A Workflow
// whose DSL is invalid at run start fails every queued item instead.
// Between claimed batches it checks for a cancellation request; if one
// is pending, the item(s) already claimed and in flight for this
// iteration finish normally, but no further batch is claimed and the
// Run finalizes failed with the remaining queued items marked failed
// as "cancelled" rather than left queued forever.
func (o *Orchestrator) Process(ctx context.Context, runUUID string) error {
	run, err := o.runs.GetByUUID(ctx, runUUID)
	if err != nil {
		return err
	}
	wf, err := o.workflows.GetByUUID(ctx, run.WorkflowUUID)
	if err != nil {
		return err
	}

	if err := workflow.ValidateProgram(&wf.Program); err != nil {
		n, ferr := o.runs.FailAllQueued(ctx, runUUID, "Invalid DSL")
		if ferr != nil {
			return ferr
		}
		_ = o.runs.AppendLog(ctx, runUUID, entities.LogError, "invalid DSL: "+err.Error(), nil)
		return o.runs.Finalize(ctx, runUUID, entities.RunFailed, 0, n)
	}

	if err := o.runs.MarkRunning(ctx, runUUID); err != nil {
		return err
	}

	processed, failed := 0, 0
	for {
		cancelled, err := o.runs.IsCancelRequested(ctx, runUUID)
		if err != nil {
			return err
		}
		if cancelled {
			n, err := o.runs.FailAllQueued(ctx, runUUID, "cancelled")
			if err != nil {
				return err
			}
			failed += n
			_ = o.runs.AppendLog(ctx, runUUID, entities.LogWarn, "run cancelled", nil)
			return o.runs.Finalize(ctx, runUUID, entities.RunFailed, processed, failed)
		}

		items, err := o.runs.ClaimBatch(ctx, runUUID, claimBatchSize)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			break
		}
		for _, item := range items {
			if o.processItem(ctx, runUUID, &wf.Program, wf.VersioningDisabled, item) {
				processed++
			} else {
				failed++
			}
		}
	}

	return o.runs.Finalize(ctx, runUUID, entities.RunSucceeded, processed, failed)
}

// processItem runs one RawItem through the pipeline. It never
// propagates an error to the caller — failures are recorded on the
// item and as a RunLog, matching its "never retried by this
// component" rule.
func (o *Orchestrator) processItem(ctx context.Context, runUUID string, program *entities.DslProgram, skipVersioning bool, item *entities.RawItem) bool {
	var rec workflow.Record
	if err := json.Unmarshal(item.Payload, &rec); err != nil {
		o.failItem(ctx, runUUID, item.UUID, "invalid payload: "+err.Error())
		return false
	}

	if _, err := o.pipeline.Run(ctx, program, rec, skipVersioning); err != nil {
		o.failItem(ctx, runUUID, item.UUID, err.Error())
		return false
	}

	if err := o.runs.SetItemStatus(ctx, item.UUID, entities.RawItemProcessed, ""); err != nil {
		o.log.Error("failed to mark raw item processed", "error", err, "item_uuid", item.UUID)
	}
	return true
}

func (o *Orchestrator) failItem(ctx context.Context, runUUID, itemUUID, message string) {
	if err := o.runs.SetItemStatus(ctx, itemUUID, entities.RawItemFailed, message); err != nil {
		o.log.Error("failed to mark raw item failed", "error", err, "item_uuid", itemUUID)
	}
	if err := o.runs.AppendLog(ctx, runUUID, entities.LogError, message, map[string]interface{}{"item_uuid": itemUUID}); err != nil {
		o.log.Error("failed to append run log", "error", err)
	}
}

// Inline synchronously executes a single payload against a workflow
// through a logging-only Run and returns the first Format output
// produced ( "Inline execution path" — used for login
// flows).
func (o *Orchestrator) Inline(ctx context.Context, workflowUUID string, payload workflow.Record) (workflow.Record, []byte, error) {
	run, err := o.Enqueue(ctx, workflowUUID)
	if err != nil {
		return nil, nil, err
	}

	wf, err := o.workflows.GetByUUID(ctx, workflowUUID)
	if err != nil {
		return nil, nil, err
	}
	if err := workflow.ValidateProgram(&wf.Program); err != nil {
		_ = o.runs.AppendLog(ctx, run.UUID, entities.LogError, "invalid DSL: "+err.Error(), nil)
		_ = o.runs.Finalize(ctx, run.UUID, entities.RunFailed, 0, 1)
		return nil, nil, err
	}

	result, err := o.pipeline.Run(ctx, &wf.Program, payload, wf.VersioningDisabled)
	if err != nil {
		_ = o.runs.AppendLog(ctx, run.UUID, entities.LogError, "inline execution failed: "+err.Error(), nil)
		_ = o.runs.Finalize(ctx, run.UUID, entities.RunFailed, 0, 1)
		return nil, nil, err
	}

	_ = o.runs.AppendLog(ctx, run.UUID, entities.LogInfo, "inline execution succeeded", nil)
	_ = o.runs.Finalize(ctx, run.UUID, entities.RunSucceeded, 1, 0)
	return result.Record, result.Output, nil
}
