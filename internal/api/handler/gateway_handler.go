package handler

import (
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"strings"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/api/dto"
	"github.com/cuongbtq/gigmarket/internal/chain"
	"github.com/cuongbtq/gigmarket/internal/gateway"
	"github.com/gin-gonic/gin"
)

// Sign handles POST /phala-viem-sign
// Forwards {jobCid, status, content} to the signing agent
func (h *GatewayHandler) Sign(c *gin.Context) {
	h.logger.Info("Sign called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	var req dto.SignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	if strings.TrimSpace(req.JobCID) == "" || strings.TrimSpace(req.Status) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing jobCid or status",
		})
		return
	}

	result, err := h.signer.Attest(c.Request.Context(), domain.AttestationRequest{
		JobCID:  req.JobCID,
		Status:  req.Status,
		Content: req.Content,
	})
	if err != nil {
		var gwErr *gateway.Error
		if errors.As(err, &gwErr) {
			h.logger.Error("Signing agent error", slog.Int("status", gwErr.StatusCode))
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "signing agent returned an error",
				"status":  gwErr.StatusCode,
				"details": gwErr.Body,
			})
			return
		}
		respondError(c, h.logger, "Failed to sign attestation", err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// AttestationInfo handles GET /attestation-info?attestationId=
func (h *GatewayHandler) AttestationInfo(c *gin.Context) {
	id := strings.TrimSpace(c.Query("attestationId"))

	h.logger.Info("AttestationInfo called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
		slog.String("attestation_id", id),
	)

	if id == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Missing attestationId",
		})
		return
	}

	attestation, err := h.indexer.Attestation(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "Failed to fetch attestation info", err)
		return
	}

	c.JSON(http.StatusOK, attestation)
}

// RegisterSchema handles POST /schema
// Registers the JobStatus attestation schema with the operator key
func (h *GatewayHandler) RegisterSchema(c *gin.Context) {
	h.logger.Info("RegisterSchema called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	if !h.chainEnabled(c) {
		return
	}

	schemaID, err := h.chain.RegisterJobStatusSchema(c.Request.Context())
	if err != nil {
		if errors.Is(err, chain.ErrReadOnly) || errors.Is(err, chain.ErrNoRegistry) {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		respondError(c, h.logger, "Failed to create schema", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"schemaId": schemaID,
	})
}

// JobCounter handles GET /chain/job-counter
func (h *GatewayHandler) JobCounter(c *gin.Context) {
	if !h.chainEnabled(c) {
		return
	}

	counter, err := h.chain.JobCounter(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, "Failed to read job counter", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"jobCounter": counter.String()})
}

// OnchainJob handles GET /chain/jobs/:index
func (h *GatewayHandler) OnchainJob(c *gin.Context) {
	if !h.chainEnabled(c) {
		return
	}

	index, ok := new(big.Int).SetString(c.Param("index"), 10)
	if !ok || index.Sign() < 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "index must be a non-negative integer",
		})
		return
	}

	job, err := h.chain.Job(c.Request.Context(), index)
	if err != nil {
		respondError(c, h.logger, "Failed to read on-chain job", err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *GatewayHandler) chainEnabled(c *gin.Context) bool {
	if h.chain == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "chain integration is disabled",
		})
		return false
	}
	return true
}
