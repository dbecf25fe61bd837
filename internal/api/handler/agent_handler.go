package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/api/dto"
	"github.com/cuongbtq/gigmarket/internal/lifecycle"
	"github.com/gin-gonic/gin"
)

const (
	actionCreateRequest = "createRequest"
	actionSubmitContent = "submitContent"
	actionVerifyContent = "verifyContent"
)

// Handle handles POST /phala-ai-agent
// Dispatches {action, data} onto the job lifecycle
func (h *AgentHandler) Handle(c *gin.Context) {
	var req dto.AgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	h.logger.Info("AgentHandler called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("action", req.Action),
	)

	switch req.Action {
	case actionCreateRequest:
		h.createRequest(c, req.Data)
	case actionSubmitContent:
		h.submitContent(c, req.Data)
	case actionVerifyContent:
		h.verifyContent(c, req.Data)
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid action",
		})
	}
}

func (h *AgentHandler) createRequest(c *gin.Context, raw json.RawMessage) {
	var data dto.CreateRequestData
	if err := decodeData(raw, &data); err != nil {
		respondError(c, h.logger, "Invalid request data", err)
		return
	}

	escrow := h.jobs.MinimumEscrow()
	if strings.TrimSpace(data.EscrowAmount) != "" {
		amount, err := domain.ParseTokenAmount(data.EscrowAmount)
		if err != nil {
			respondError(c, h.logger, "Invalid escrow amount", err)
			return
		}
		escrow = amount
	}

	job, err := h.jobs.Create(c.Request.Context(), lifecycle.CreateInput{
		Requirements: data.Requirements,
		EscrowAmount: escrow,
		Requester:    data.Requester,
	})
	if err != nil {
		respondError(c, h.logger, "Failed to create request", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"requestId": job.ID})
}

// submitContent accepts on behalf of worker when the job is still open
func (h *AgentHandler) submitContent(c *gin.Context, raw json.RawMessage) {
	var data dto.SubmitContentData
	if err := decodeData(raw, &data); err != nil {
		respondError(c, h.logger, "Invalid request data", err)
		return
	}
	if data.RequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requestId is required"})
		return
	}

	ctx := c.Request.Context()
	job, err := h.jobs.Get(ctx, data.RequestID)
	if err != nil {
		respondError(c, h.logger, "Failed to submit content", err)
		return
	}

	if job.Status == domain.JobStatusOpen && data.Worker != "" {
		if _, err := h.jobs.Accept(ctx, job.ID, data.Worker); err != nil {
			respondError(c, h.logger, "Failed to submit content", err)
			return
		}
	}

	if _, err := h.jobs.Submit(ctx, job.ID, data.Content); err != nil {
		respondError(c, h.logger, "Failed to submit content", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

func (h *AgentHandler) verifyContent(c *gin.Context, raw json.RawMessage) {
	var data dto.VerifyContentData
	if err := decodeData(raw, &data); err != nil {
		respondError(c, h.logger, "Invalid request data", err)
		return
	}
	if data.RequestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "requestId is required"})
		return
	}

	_, result, err := h.jobs.Verify(c.Request.Context(), data.RequestID)
	if err != nil {
		respondError(c, h.logger, "Failed to verify content", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 || string(raw) == "null" {
		return fmt.Errorf("%w: data is required", domain.ErrValidation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}
