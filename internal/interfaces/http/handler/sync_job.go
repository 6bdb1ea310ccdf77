package handler

import (
	"context"

	pricesyncapp "github.com/erp/pricesync/internal/application/pricesync"
	"github.com/erp/pricesync/internal/domain/pricesync"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// SyncJobService starts and reports sync jobs
type SyncJobService interface {
	TriggerSync(ctx context.Context, req pricesyncapp.TriggerSyncRequest) (*pricesyncapp.TriggerSyncResult, error)
	GetJobStatus(ctx context.Context, tenantID, jobID uuid.UUID) (*pricesyncapp.SyncJobResponse, error)
	ListJobs(ctx context.Context, tenantID uuid.UUID, filter pricesyncapp.JobListFilter) ([]pricesyncapp.SyncJobResponse, int64, error)
}

// SyncJobHandler handles sync job endpoints
type SyncJobHandler struct {
	BaseHandler
	jobs SyncJobService
}

// NewSyncJobHandler creates a new SyncJobHandler
func NewSyncJobHandler(jobs SyncJobService) *SyncJobHandler {
	return &SyncJobHandler{jobs: jobs}
}

// TriggerSyncRequest starts a sync job. EntityIDs narrows the run to the
// listed products.
type TriggerSyncRequest struct {
	JobType   string      `json:"job_type" binding:"required,cadence"`
	EntityIDs []uuid.UUID `json:"entity_ids" binding:"omitempty,max=1000"`
}

// Trigger starts a job, or returns the job already running for the cadence.
// A new job answers 202, an existing one 200.
func (h *SyncJobHandler) Trigger(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}

	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.BindError(c, err)
		return
	}

	result, err := h.jobs.TriggerSync(c.Request.Context(), pricesyncapp.TriggerSyncRequest{
		TenantID:    tenantID,
		Cadence:     pricesync.Cadence(req.JobType),
		EntityIDs:   req.EntityIDs,
		TriggeredBy: pricesync.TriggerManual,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	if result.AlreadyRunning {
		h.Success(c, result)
		return
	}
	h.Accepted(c, result)
}

// Get returns one job with its counters
func (h *SyncJobHandler) Get(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}
	jobID, ok := parseID(c, "id")
	if !ok {
		h.BadRequest(c, "Invalid job ID")
		return
	}

	job, err := h.jobs.GetJobStatus(c.Request.Context(), tenantID, jobID)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, job)
}

// List pages the tenant's jobs, newest first
func (h *SyncJobHandler) List(c *gin.Context) {
	tenantID, err := getTenantID(c)
	if err != nil {
		h.Unauthorized(c, "Tenant is required")
		return
	}

	var filter pricesyncapp.JobListFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		h.BindError(c, err)
		return
	}
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	jobs, total, err := h.jobs.ListJobs(c.Request.Context(), tenantID, filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.SuccessWithMeta(c, jobs, total, filter.Page, filter.PageSize)
}
