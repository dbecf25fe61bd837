package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/gigmarket/internal/api/domain"
	"github.com/cuongbtq/gigmarket/internal/auth"
	"github.com/cuongbtq/gigmarket/internal/chain"
	"github.com/cuongbtq/gigmarket/internal/gateway"
	"github.com/cuongbtq/gigmarket/internal/gateway/indexer"
	"github.com/gin-gonic/gin"
)

// statusFor maps domain and integration errors onto HTTP status codes
func statusFor(err error) int {
	var gwErr *gateway.Error
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, indexer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrEscrowBelowMinimum):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrInvalidState):
		return http.StatusBadRequest
	case errors.Is(err, auth.ErrSessionNotFound), errors.Is(err, auth.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAttestationRejected), errors.Is(err, chain.ErrReverted), errors.As(err, &gwErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondError logs err and writes {"error": ...}. Internal errors are
// not echoed to the client.
func respondError(c *gin.Context, logger *slog.Logger, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(status, gin.H{"error": msg})
		return
	}

	logger.Warn(msg, slog.String("error", err.Error()), slog.Int("status", status))
	c.JSON(status, gin.H{"error": err.Error()})
}
