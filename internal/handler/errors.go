package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/keylock"
	"github.com/pbsnet/gateway/internal/platform"
	"github.com/pbsnet/gateway/internal/profile"
	"github.com/pbsnet/gateway/internal/sysdata"
	"github.com/pbsnet/gateway/internal/users"
)

// errUpstream is the only message clients see for unclassified failures.
const errUpstream = "upstream request failed"

// respondError maps a service error onto the HTTP error taxonomy. Errors that
// match no sentinel are logged with their cause and reported as 502.
func respondError(c *gin.Context, logger *zap.Logger, op string, err error) {
	switch {
	case errors.Is(err, users.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid Password or Email"})
	case errors.Is(err, users.ErrNotFound),
		errors.Is(err, profile.ErrNotFound),
		errors.Is(err, platform.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
	case errors.Is(err, users.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Email already registered"})
	case errors.Is(err, profile.ErrUsernameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "Username Taken"})
	case errors.Is(err, profile.ErrInvalidUsername):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid username format"})
	case errors.Is(err, users.ErrInvalidInput),
		errors.Is(err, users.ErrWeakPassword),
		errors.Is(err, sysdata.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, keylock.ErrTimeout):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "resource busy, retry"})
	default:
		upstreamErrorsTotal.WithLabelValues(op).Inc()
		logger.Error(op, zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": errUpstream})
	}
}

// bindError reports a malformed request body.
func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}
