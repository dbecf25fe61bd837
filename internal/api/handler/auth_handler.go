package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/cuongbtq/gigmarket/internal/auth"
	"github.com/gin-gonic/gin"
)

// SessionKey is the gin context key holding the signed-in auth.Session
const SessionKey = "session"

// Login handles GET /auth/login
// Redirects to the identity provider
func (h *AuthHandler) Login(c *gin.Context) {
	h.logger.Info("Login called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	authURL, err := h.auth.Begin(c.Request.Context(), safeReturnTo(c.Query("returnTo")))
	if err != nil {
		respondError(c, h.logger, "Failed to start login", err)
		return
	}

	c.Redirect(http.StatusFound, authURL)
}

// Callback handles GET /auth/callback
// Completes the code exchange and sets the session cookie
func (h *AuthHandler) Callback(c *gin.Context) {
	h.logger.Info("Callback called",
		slog.String("method", c.Request.Method),
		slog.String("path", c.Request.URL.Path),
	)

	if providerErr := c.Query("error"); providerErr != "" {
		h.logger.Warn("Identity provider returned an error", slog.String("error", providerErr))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": providerErr,
		})
		return
	}

	session, returnTo, err := h.auth.Complete(c.Request.Context(), c.Query("state"), c.Query("code"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			respondError(c, h.logger, "Invalid login state", err)
			return
		}
		h.logger.Error("Failed to complete login", slog.String("error", err.Error()))
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Failed to complete login",
		})
		return
	}

	h.setCookie(c, session.ID, int(h.auth.SessionTTL().Seconds()))
	c.Redirect(http.StatusFound, safeReturnTo(returnTo))
}

// Session handles GET /auth/session
func (h *AuthHandler) Session(c *gin.Context) {
	id, _ := c.Cookie(h.cookieName)
	session, err := h.auth.Session(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, "No active session", err)
		return
	}

	c.JSON(http.StatusOK, session)
}

// Logout handles POST /auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	id, _ := c.Cookie(h.cookieName)
	if err := h.auth.Logout(c.Request.Context(), id); err != nil {
		respondError(c, h.logger, "Failed to log out", err)
		return
	}

	h.setCookie(c, "", -1)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RequireSession rejects requests without a live session cookie
func (h *AuthHandler) RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := c.Cookie(h.cookieName)
		if err != nil || id == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "authentication required",
			})
			return
		}

		session, err := h.auth.Session(c.Request.Context(), id)
		if err != nil {
			status := statusFor(err)
			if status >= http.StatusInternalServerError {
				h.logger.Error("Failed to load session", slog.String("error", err.Error()))
			}
			c.AbortWithStatusJSON(status, gin.H{
				"error": "authentication required",
			})
			return
		}

		c.Set(SessionKey, session)
		c.Next()
	}
}

func (h *AuthHandler) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(h.cookieName, value, maxAge, "/", "", h.cookieSecure, true)
}

// safeReturnTo only allows local paths
func safeReturnTo(p string) string {
	if !strings.HasPrefix(p, "/") || strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") {
		return "/"
	}
	return p
}
