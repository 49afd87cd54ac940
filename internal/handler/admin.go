package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/profile"
	"github.com/pbsnet/gateway/internal/sysdata"
)

// AdminHandler serves the system-data routes. Every route requires the
// shared admin secret; the target user is addressed by their API key.
type AdminHandler struct {
	profiles *profile.Store
	sysdata  *sysdata.Store
	secret   string
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler guarded by secret.
func NewAdminHandler(profiles *profile.Store, sys *sysdata.Store, secret string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{profiles: profiles, sysdata: sys, secret: secret, logger: logger}
}

// Register mounts the admin routes.
func (h *AdminHandler) Register(rg *gin.RouterGroup) {
	admin := rg.Group("/admin", identity.RequireAdminSecret(h.secret))
	{
		admin.POST("/user-app-data/view", h.View)
		admin.PATCH("/user-app-data", h.Patch)
	}
}

type viewRequest struct {
	TargetUserKey string `json:"target_user_key"`
	Subclass      string `json:"subclass"`
}

type patchRequest struct {
	TargetUserKey string         `json:"target_user_key"`
	Subclass      string         `json:"subclass"`
	Data          map[string]any `json:"data"`
}

// View handles POST /admin/user-app-data/view. With a subclass only that
// subclass is returned; otherwise the profile and the whole bag are.
func (h *AdminHandler) View(c *gin.Context) {
	var req viewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	ctx := c.Request.Context()

	p, ok := h.target(c, req.TargetUserKey)
	if !ok {
		return
	}

	if req.Subclass != "" {
		data, err := h.sysdata.GetSubclass(ctx, p.ID, req.Subclass)
		if err != nil {
			respondError(c, h.logger, "get system subclass", err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"user": p.FullName, "subclass_data": data})
		return
	}

	bag, err := h.sysdata.GetAll(ctx, p.ID)
	if err != nil {
		respondError(c, h.logger, "get system data", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"full_name":     p.FullName,
		"username":      p.Username,
		"email":         p.Email,
		"mobile":        p.Mobile,
		"designation":   p.PostName,
		"office":        p.OfficeName,
		"pbs":           p.PbsName,
		"personal_json": p.PersonalJSON,
		"app_json":      bag,
	})
}

// Patch handles PATCH /admin/user-app-data, merging data into one subclass.
func (h *AdminHandler) Patch(c *gin.Context) {
	var req patchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	if req.Subclass == "" || req.Data == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Subclass and Data required"})
		return
	}

	p, ok := h.target(c, req.TargetUserKey)
	if !ok {
		return
	}

	merged, err := h.sysdata.UpsertSubclass(c.Request.Context(), p.ID, req.Subclass, req.Data)
	if err != nil {
		respondError(c, h.logger, "upsert system subclass", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message":      fmt.Sprintf("System Data Updated for '%s'", req.Subclass),
		"updated_data": merged,
	})
}

// target resolves the profile owning key, writing the error response when
// there is none.
func (h *AdminHandler) target(c *gin.Context, key string) (*profile.Profile, bool) {
	p, err := h.profiles.FindByAPIKey(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Invalid User Key"})
			return nil, false
		}
		respondError(c, h.logger, "find profile by key", err)
		return nil, false
	}
	return p, true
}
