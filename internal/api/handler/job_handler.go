package handler

import (
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/api/dto"
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// CreateJob handles POST /job
// Posts a new open job with its escrow
func (h *JobHandler) CreateJob(c *gin.Context) {
	h.logger.Info("CreateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	escrow, err := parseEscrow(req.EscrowAmount, req.EscrowAmountWei)
	if err != nil {
		respondError(c, h.logger, "Invalid escrow amount", err)
		return
	}

	var chainJobID *big.Int
	if req.ChainJobID != "" {
		id, ok := new(big.Int).SetString(req.ChainJobID, 10)
		if !ok || id.Sign() < 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error": "chainJobId must be a non-negative integer",
			})
			return
		}
		chainJobID = id
	}

	job, err := h.jobs.Create(c.Request.Context(), lifecycle.CreateInput{
		Requirements:    req.Requirements,
		EscrowAmount:    escrow,
		Requester:       req.Requester,
		TransactionHash: req.TransactionHash,
		ChainJobID:      chainJobID,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to create job", err)
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{Job: dto.FromJob(job)})
}

// GetJob handles GET /job/:id
// The id may also be the escrow funding transaction hash
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID := strings.TrimSpace(c.Param("id"))
	if jobID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "id is required",
		})
		return
	}

	h.logger.Info("GetJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.jobs.Get(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to get job", err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJob(job))
}

// ListAllJobs handles GET /job
// Returns every matching job as a bare array, newest first
func (h *JobHandler) ListAllJobs(c *gin.Context) {
	h.logger.Info("ListAllJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	filter, err := buildFilter(req)
	if err != nil {
		respondError(c, h.logger, "Invalid query parameters", err)
		return
	}

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "Failed to list jobs", err)
		return
	}

	c.JSON(http.StatusOK, dto.FromJobs(jobs))
}

// ListJobs handles GET /api/v1/jobs
// Lists jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	h.logger.Info("ListJobs called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("query", c.Request.URL.RawQuery),
	)

	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	filter, err := buildFilter(req)
	if err != nil {
		respondError(c, h.logger, "Invalid query parameters", err)
		return
	}
	filter.PageSize = req.PageSize
	filter.Cursor = cursor

	jobs, err := h.jobs.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, h.logger, "Failed to list jobs", err)
		return
	}

	// One extra row tells whether another page exists
	hasMore := len(jobs) > req.PageSize
	if hasMore {
		jobs = jobs[:req.PageSize]
	}

	var nextCursor string
	if hasMore {
		lastJob := jobs[len(jobs)-1]
		nextCursor = EncodeJobCursor(&domain.JobCursor{
			CreatedAt: lastJob.CreatedAt,
			JobID:     lastJob.ID,
		})
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       dto.FromJobs(jobs),
		NextCursor: nextCursor,
	})
}

// UpdateJob handles PUT /job
// Runs the single transition that leads to the requested status
func (h *JobHandler) UpdateJob(c *gin.Context) {
	h.logger.Info("UpdateJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.UpdateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	target, err := domain.ParseStatus(req.Status)
	if err != nil {
		respondError(c, h.logger, "Invalid status", err)
		return
	}

	job, err := h.jobs.Advance(c.Request.Context(), req.ID, target, lifecycle.AdvanceInput{
		Worker:  req.Worker,
		Content: req.Content,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to update job", err)
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{Job: dto.FromJob(job)})
}

// AcceptJob handles POST /job/:id/accept
func (h *JobHandler) AcceptJob(c *gin.Context) {
	jobID := c.Param("id")

	h.logger.Info("AcceptJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	var req dto.AcceptJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "worker is required",
		})
		return
	}

	job, err := h.jobs.Accept(c.Request.Context(), jobID, req.Worker)
	if err != nil {
		respondError(c, h.logger, "Failed to accept job", err)
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{Job: dto.FromJob(job)})
}

// SubmitJob handles POST /job/:id/submit
func (h *JobHandler) SubmitJob(c *gin.Context) {
	jobID := c.Param("id")

	h.logger.Info("SubmitJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	var req dto.SubmitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "content is required",
		})
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), jobID, req.Content)
	if err != nil {
		respondError(c, h.logger, "Failed to submit job", err)
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{Job: dto.FromJob(job)})
}

// VerifyJob handles POST /job/:id/verify
// A failed verdict still answers 200 with the job left submitted
func (h *JobHandler) VerifyJob(c *gin.Context) {
	jobID := c.Param("id")

	h.logger.Info("VerifyJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, result, err := h.jobs.Verify(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to verify job", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job":          dto.FromJob(job),
		"verification": result,
	})
}

// AttestJob handles POST /job/:id/attest
func (h *JobHandler) AttestJob(c *gin.Context) {
	jobID := c.Param("id")

	h.logger.Info("AttestJob called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("job_id", jobID),
	)

	job, err := h.jobs.Attest(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, "Failed to attest job", err)
		return
	}

	c.JSON(http.StatusOK, dto.JobResponse{Job: dto.FromJob(job)})
}

// MinimumEscrow handles GET /job/minimum-escrow
func (h *JobHandler) MinimumEscrow(c *gin.Context) {
	minimum := h.jobs.MinimumEscrow()
	if minimum == nil {
		minimum = new(big.Int)
	}
	c.JSON(http.StatusOK, gin.H{
		"escrowAmount":    domain.FormatTokenAmount(minimum),
		"escrowAmountWei": minimum.String(),
	})
}

// parseEscrow reads the escrow from either the token or base unit field
func parseEscrow(tokens, wei string) (*big.Int, error) {
	tokens, wei = strings.TrimSpace(tokens), strings.TrimSpace(wei)
	switch {
	case wei != "" && tokens != "":
		return nil, fmt.Errorf("%w: set escrowAmount or escrowAmountWei, not both", domain.ErrValidation)
	case wei != "":
		return domain.ParseBaseUnits(wei)
	case tokens != "":
		return domain.ParseTokenAmount(tokens)
	default:
		return nil, fmt.Errorf("%w: escrow amount is required", domain.ErrValidation)
	}
}

func buildFilter(req dto.ListJobsRequest) (domain.JobFilter, error) {
	filter := domain.JobFilter{
		Requester: strings.TrimSpace(req.Requester),
		Worker:    strings.TrimSpace(req.Worker),
	}
	if req.Status != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			return filter, err
		}
		filter.Status = status
	}
	return filter, nil
}
