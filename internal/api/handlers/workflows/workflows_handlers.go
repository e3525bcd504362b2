// Package workflows implements the workflow CRUD and Run-trigger
// endpoints, following the same per-resource handler shape used
// across internal/api/handlers/*: a struct holding its store
// dependencies, one method per route, request DTOs separate from
// domain entities.
package workflows

import (
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/bentbr/r_data_core_go/internal/api/handlers/common"
	mw "github.com/bentbr/r_data_core_go/internal/api/middleware"
	"github.com/bentbr/r_data_core_go/internal/domain/entities"
	"github.com/bentbr/r_data_core_go/internal/domain/services/runner"
	"github.com/bentbr/r_data_core_go/internal/domain/services/versioning"
	"github.com/bentbr/r_data_core_go/internal/domain/services/workflow"
	"github.com/bentbr/r_data_core_go/internal/infrastructure/repositories"
	rerrors "github.com/bentbr/r_data_core_go/pkg/errors"
	"github.com/bentbr/r_data_core_go/pkg/logger"
)

// Handlers implements its workflow and Run endpoints.
type Handlers struct {
	workflows    *repositories.WorkflowRepository
	runs         *repositories.RunRepository
	orchestrator *runner.Orchestrator
	versions     *versioning.Store
	log          *logger.Logger
}

func NewHandlers(workflows *repositories.WorkflowRepository, runs *repositories.RunRepository, orchestrator *runner.Orchestrator, versions *versioning.Store, log *logger.Logger) *Handlers {
	return &Handlers{workflows: workflows, runs: runs, orchestrator: orchestrator, versions: versions, log: log}
}

type workflowDTO struct {
	UUID               string              `json:"uuid"`
	Name               string              `json:"name"`
	Description        string              `json:"description,omitempty"`
	Kind               string              `json:"kind"`
	Enabled            bool                `json:"enabled"`
	ScheduleCron       string              `json:"schedule_cron,omitempty"`
	Program            entities.DslProgram `json:"program"`
	VersioningDisabled bool                `json:"versioning_disabled"`
	Version            int                 `json:"version"`
	CreatedBy          string              `json:"created_by,omitempty"`
	UpdatedBy          string              `json:"updated_by,omitempty"`
}

func toWorkflowDTO(wf *entities.Workflow) workflowDTO {
	return workflowDTO{
		UUID:               wf.UUID,
		Name:               wf.Name,
		Description:        wf.Description,
		Kind:               wf.Kind,
		Enabled:            wf.Enabled,
		ScheduleCron:       wf.ScheduleCron,
		Program:            wf.Program,
		VersioningDisabled: wf.VersioningDisabled,
		Version:            wf.Version,
		CreatedBy:          wf.CreatedBy,
		UpdatedBy:          wf.UpdatedBy,
	}
}

type workflowRequest struct {
	Name               string              `json:"name" binding:"required" validate:"required,safe_string"`
	Description        string              `json:"description" validate:"omitempty,safe_string"`
	Kind               string              `json:"kind" binding:"required"`
	Enabled            bool                `json:"enabled"`
	ScheduleCron       string              `json:"schedule_cron" validate:"omitempty,cron_expr"`
	Program            entities.DslProgram `json:"program"`
	VersioningDisabled bool                `json:"versioning_disabled"`
}

// List godoc
// @Summary List workflows
// @Tags workflows
// @Produce json
// @Success 200 {array} workflowDTO
// @Security BearerAuth
// @Router /workflows [get]
func (h *Handlers) List(c *gin.Context) {
	all, err := h.workflows.List(c.Request.Context())
	if err != nil {
		common.RespondError(c, err)
		return
	}
	out := make([]workflowDTO, 0, len(all))
	for _, wf := range all {
		out = append(out, toWorkflowDTO(wf))
	}
	common.RespondOK(c, out)
}

// Get godoc
// @Summary Get a workflow by UUID
// @Tags workflows
// @Produce json
// @Param uuid path string true "Workflow UUID"
// @Success 200 {object} workflowDTO
// @Failure 404 {object} map[string]string
// @Security BearerAuth
// @Router /workflows/{uuid} [get]
func (h *Handlers) Get(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	wf, err := h.workflows.GetByUUID(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, toWorkflowDTO(wf))
}

// Create godoc
// @Summary Create a workflow
// @Tags workflows
// @Accept json
// @Produce json
// @Param body body workflowRequest true "Workflow definition"
// @Success 201 {object} workflowDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /workflows [post]
func (h *Handlers) Create(c *gin.Context) {
	var req workflowRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if err := workflow.ValidateProgram(&req.Program); err != nil {
		common.RespondError(c, err)
		return
	}

	actor := actorFrom(c)
	wf := &entities.Workflow{
		Name:               req.Name,
		Description:        req.Description,
		Kind:               req.Kind,
		Enabled:            req.Enabled,
		ScheduleCron:       req.ScheduleCron,
		Program:            req.Program,
		VersioningDisabled: req.VersioningDisabled,
	}
	if err := h.workflows.Create(c.Request.Context(), wf, actor); err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondCreated(c, toWorkflowDTO(wf))
}

// Update godoc
// @Summary Update a workflow
// @Tags workflows
// @Accept json
// @Produce json
// @Param uuid path string true "Workflow UUID"
// @Param body body workflowRequest true "Workflow definition"
// @Success 200 {object} workflowDTO
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /workflows/{uuid} [put]
func (h *Handlers) Update(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	var req workflowRequest
	if !common.BindJSON(c, &req) {
		return
	}
	if err := workflow.ValidateProgram(&req.Program); err != nil {
		common.RespondError(c, err)
		return
	}

	wf := &entities.Workflow{
		UUID:               id,
		Name:               req.Name,
		Description:        req.Description,
		Kind:               req.Kind,
		Enabled:            req.Enabled,
		ScheduleCron:       req.ScheduleCron,
		Program:            req.Program,
		VersioningDisabled: req.VersioningDisabled,
	}
	if err := h.workflows.Update(c.Request.Context(), wf, actorFrom(c), h.versions); err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, toWorkflowDTO(wf))
}

// Delete godoc
// @Summary Delete a workflow
// @Tags workflows
// @Param uuid path string true "Workflow UUID"
// @Success 204
// @Security BearerAuth
// @Router /workflows/{uuid} [delete]
func (h *Handlers) Delete(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	if err := h.workflows.Delete(c.Request.Context(), id); err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondNoContent(c)
}

// Run godoc
// @Summary Trigger a workflow run
// @Description Enqueues a Run and, for a Format-sourced workflow, immediately fetches and stages it, then processes synchronously so the caller sees a settled result without waiting on the worker pool's poll interval.
// @Tags workflows
// @Produce json
// @Param uuid path string true "Workflow UUID"
// @Success 200 {object} map[string]string
// @Security BearerAuth
// @Router /workflows/{uuid}/run [post]
func (h *Handlers) Run(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}

	ctx := c.Request.Context()
	wf, err := h.workflows.GetByUUID(ctx, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	run, err := h.orchestrator.Enqueue(ctx, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}

	if len(wf.Program.Steps) > 0 && wf.Program.Steps[0].From.Kind == entities.FromFormat {
		if err := h.orchestrator.FetchAndStage(ctx, run); err != nil {
			common.RespondError(c, err)
			return
		}
	}

	if err := h.orchestrator.Process(ctx, run.UUID); err != nil {
		common.RespondError(c, err)
		return
	}

	common.RespondOK(c, gin.H{"run_uuid": run.UUID, "trigger_uuid": run.TriggerUUID})
}

// RunUpload godoc
// @Summary Trigger a workflow run from an uploaded file
// @Tags workflows
// @Accept multipart/form-data
// @Produce json
// @Param uuid path string true "Workflow UUID"
// @Param file formData file true "Source file"
// @Success 200 {object} map[string]string
// @Security BearerAuth
// @Router /workflows/{uuid}/run/upload [post]
func (h *Handlers) RunUpload(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		common.RespondBadRequest(c, "missing multipart field: file")
		return
	}
	f, err := file.Open()
	if err != nil {
		common.RespondError(c, rerrors.Unknown("failed to open uploaded file", err))
		return
	}
	defer f.Close()
	payload, err := io.ReadAll(f)
	if err != nil {
		common.RespondError(c, rerrors.Unknown("failed to read uploaded file", err))
		return
	}

	ctx := c.Request.Context()
	run, err := h.orchestrator.Upload(ctx, id, payload)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	if err := h.orchestrator.Process(ctx, run.UUID); err != nil {
		common.RespondError(c, err)
		return
	}

	common.RespondOK(c, gin.H{"run_uuid": run.UUID, "trigger_uuid": run.TriggerUUID})
}

type runDTO struct {
	UUID            string `json:"uuid"`
	WorkflowUUID    string `json:"workflow_uuid"`
	TriggerUUID     string `json:"trigger_uuid"`
	Status          string `json:"status"`
	ProcessedCount  int    `json:"processed_count"`
	FailedCount     int    `json:"failed_count"`
	CancelRequested bool   `json:"cancel_requested"`
}

func toRunDTO(r *entities.Run) runDTO {
	return runDTO{
		UUID:            r.UUID,
		WorkflowUUID:    r.WorkflowUUID,
		TriggerUUID:     r.TriggerUUID,
		Status:          string(r.Status),
		ProcessedCount:  r.ProcessedCount,
		FailedCount:     r.FailedCount,
		CancelRequested: r.CancelRequested,
	}
}

// Runs godoc
// @Summary List runs of a workflow
// @Tags workflows
// @Produce json
// @Param uuid path string true "Workflow UUID"
// @Param page query int false "Page number"
// @Param per_page query int false "Page size"
// @Success 200 {array} runDTO
// @Security BearerAuth
// @Router /workflows/{uuid}/runs [get]
func (h *Handlers) Runs(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	page := common.ExtractPagination(c)
	runs, total, err := h.runs.ListByWorkflow(c.Request.Context(), id, page.Limit, page.Offset)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	out := make([]runDTO, 0, len(runs))
	for _, r := range runs {
		out = append(out, toRunDTO(r))
	}
	common.RespondPage(c, out, total, page.Page, page.Limit)
}

// CancelRun godoc
// @Summary Request cancellation of a running or queued run
// @Description Flags the run for cancellation. The run worker observes the flag between claimed batches: the item in flight finishes normally, no further batch is claimed, and the run finalizes failed with reason "cancelled".
// @Tags workflows
// @Param run path string true "Run UUID"
// @Success 204 "No Content"
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /runs/{run}/cancel [post]
func (h *Handlers) CancelRun(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "run")
	if !ok {
		return
	}
	if err := h.runs.RequestCancel(c.Request.Context(), id); err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondNoContent(c)
}

// RunLogs godoc
// @Summary Get a run's log lines
// @Tags workflows
// @Produce json
// @Param run path string true "Run UUID"
// @Success 200 {array} entities.RunLog
// @Security BearerAuth
// @Router /runs/{run}/logs [get]
func (h *Handlers) RunLogs(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "run")
	if !ok {
		return
	}
	logs, err := h.runs.ListLogs(c.Request.Context(), id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, logs)
}

// Versions godoc
// @Summary List a workflow's version snapshots
// @Tags workflows
// @Produce json
// @Param uuid path string true "Workflow UUID"
// @Success 200 {array} entities.VersionedSnapshot
// @Security BearerAuth
// @Router /workflows/{uuid}/versions [get]
func (h *Handlers) Versions(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	snapshots, err := h.versions.List(c.Request.Context(), entities.TargetWorkflow, id)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, snapshots)
}

// Version godoc
// @Summary Get one version snapshot of a workflow
// @Tags workflows
// @Produce json
// @Param uuid path string true "Workflow UUID"
// @Param n path int true "Version number"
// @Success 200 {object} entities.VersionedSnapshot
// @Security BearerAuth
// @Router /workflows/{uuid}/versions/{n} [get]
func (h *Handlers) Version(c *gin.Context) {
	id, ok := common.ParsePathParam(c, "uuid")
	if !ok {
		return
	}
	n, ok := common.ParsePathParam(c, "n")
	if !ok {
		return
	}
	num := parsePositiveInt(n)
	if num <= 0 {
		common.RespondBadRequest(c, "version number must be a positive integer")
		return
	}
	snapshot, err := h.versions.Get(c.Request.Context(), entities.TargetWorkflow, id, num)
	if err != nil {
		common.RespondError(c, err)
		return
	}
	common.RespondOK(c, snapshot)
}

// CronPreview godoc
// @Summary Preview the next fire times of a cron expression
// @Description Returns the next 5 fire times for a schedule_cron expression, without requiring the caller to own a workflow yet.
// @Tags workflows
// @Produce json
// @Param expr query string true "Standard 5-field cron expression"
// @Success 200 {object} map[string][]string
// @Failure 422 {object} map[string]string
// @Security BearerAuth
// @Router /cron/preview [get]
func (h *Handlers) CronPreview(c *gin.Context) {
	expr := c.Query("expr")
	if expr == "" {
		common.RespondBadRequest(c, "missing query parameter: expr")
		return
	}

	schedule, err := cron.ParseStandard(expr)
	if err != nil {
		common.RespondError(c, rerrors.Validation("invalid cron expression: "+err.Error()))
		return
	}

	const previewCount = 5
	times := make([]string, 0, previewCount)
	next := time.Now()
	for i := 0; i < previewCount; i++ {
		next = schedule.Next(next)
		times = append(times, next.Format("2006-01-02T15:04:05Z07:00"))
	}
	common.RespondOK(c, gin.H{"next_runs": times})
}

func actorFrom(c *gin.Context) string {
	if principal, ok := mw.PrincipalFromContext(c); ok {
		return principal.UUID()
	}
	return ""
}

func parsePositiveInt(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return -1
		}
		n = n*10 + int(r-'0')
	}
	return n
}
