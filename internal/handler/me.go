package handler

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/media"
	"github.com/pbsnet/gateway/internal/profile"
	"github.com/pbsnet/gateway/internal/users"
)

// DefaultMaxUploadBytes bounds profile picture uploads when no limit is configured.
const DefaultMaxUploadBytes = 5 << 20

// MeHandler serves the authenticated user's own profile under /me.
type MeHandler struct {
	profiles  *profile.Store
	users     *users.Service
	media     *media.Service
	tokens    *identity.TokenService
	maxUpload int64
	logger    *zap.Logger
}

// NewMeHandler creates a MeHandler. maxUpload <= 0 selects DefaultMaxUploadBytes.
func NewMeHandler(profiles *profile.Store, userSvc *users.Service, mediaSvc *media.Service, tokens *identity.TokenService, maxUpload int64, logger *zap.Logger) *MeHandler {
	if maxUpload <= 0 {
		maxUpload = DefaultMaxUploadBytes
	}
	return &MeHandler{
		profiles:  profiles,
		users:     userSvc,
		media:     mediaSvc,
		tokens:    tokens,
		maxUpload: maxUpload,
		logger:    logger,
	}
}

// Register mounts the /me routes behind the bearer token gate.
func (h *MeHandler) Register(rg *gin.RouterGroup) {
	me := rg.Group("/me", identity.RequireToken(h.tokens))
	{
		me.GET("", h.Get)
		me.PUT("", h.UpdateCore)
		me.PATCH("/json", h.MergeJSON)
		me.POST("/username", h.SetUsername)
		me.POST("/pic", h.UploadPicture)
		me.POST("/pass", h.ChangePassword)
		me.POST("/key", h.GenerateKey)
	}
}

// Get handles GET /me.
func (h *MeHandler) Get(c *gin.Context) {
	claims := identity.ClaimsFromCtx(c)

	p, err := h.profiles.Get(c.Request.Context(), claims.UserID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Profile not found"})
			return
		}
		respondError(c, h.logger, "get profile", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"full_name":       p.FullName,
		"username":        p.Username,
		"email":           p.Email,
		"mobile":          p.Mobile,
		"post_name":       p.PostName,
		"office_name":     p.OfficeName,
		"pbs_name":        p.PbsName,
		"api_key":         p.APIKey,
		"profile_pic_id":  p.ProfilePicID,
		"profile_pic_url": nullable(h.media.ViewURL(p.ProfilePicID, true)),
		"personal_json":   p.PersonalJSON,
	})
}

// UpdateCore handles PUT /me. Absent fields keep their stored values.
func (h *MeHandler) UpdateCore(c *gin.Context) {
	var req profile.CoreUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	claims := identity.ClaimsFromCtx(c)

	if err := h.profiles.UpdateCore(c.Request.Context(), claims.UserID, req); err != nil {
		respondError(c, h.logger, "update profile", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Updated"})
}

// MergeJSON handles PATCH /me/json. The body is merged key by key into the
// personal bag.
func (h *MeHandler) MergeJSON(c *gin.Context) {
	var partial map[string]any
	if err := c.ShouldBindJSON(&partial); err != nil {
		bindError(c, err)
		return
	}
	claims := identity.ClaimsFromCtx(c)

	merged, err := h.profiles.MergeJSON(c.Request.Context(), claims.UserID, partial)
	if err != nil {
		respondError(c, h.logger, "merge personal json", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "JSON Updated", "data": merged})
}

type usernameRequest struct {
	NewUsername string `json:"newUsername"`
}

// SetUsername handles POST /me/username.
func (h *MeHandler) SetUsername(c *gin.Context) {
	var req usernameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	claims := identity.ClaimsFromCtx(c)

	if err := h.profiles.SetUsername(c.Request.Context(), claims.UserID, req.NewUsername); err != nil {
		respondError(c, h.logger, "set username", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Username Updated"})
}

// UploadPicture handles POST /me/pic with the image in multipart field "avatar".
func (h *MeHandler) UploadPicture(c *gin.Context) {
	limit := h.maxUpload + (1 << 16) // room for multipart framing
	if c.Request.ContentLength > limit {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	fh, err := c.FormFile("avatar")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if fh.Size > h.maxUpload {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
		return
	}

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, h.maxUpload))
	if err != nil || len(data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if !strings.HasPrefix(http.DetectContentType(data), "image/") {
		c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "File must be an image"})
		return
	}

	claims := identity.ClaimsFromCtx(c)
	fileID, err := h.media.ReplaceProfilePicture(c.Request.Context(), claims.UserID, data)
	if err != nil {
		respondError(c, h.logger, "replace profile picture", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Profile Picture Updated", "fileId": fileID})
}

type passwordRequest struct {
	NewPassword string `json:"newPassword"`
}

// ChangePassword handles POST /me/pass.
func (h *MeHandler) ChangePassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	claims := identity.ClaimsFromCtx(c)

	if err := h.users.ChangePassword(c.Request.Context(), claims.UserID, req.NewPassword); err != nil {
		respondError(c, h.logger, "change password", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Password Changed"})
}

// GenerateKey handles POST /me/key. The previous key stops working at once.
func (h *MeHandler) GenerateKey(c *gin.Context) {
	claims := identity.ClaimsFromCtx(c)

	key, err := h.profiles.GenerateAPIKey(c.Request.Context(), claims.UserID)
	if err != nil {
		respondError(c, h.logger, "generate api key", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Key Generated", "key": key})
}

// nullable renders an empty string as JSON null.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
