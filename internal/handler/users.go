package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/identity"
	"github.com/pbsnet/gateway/internal/media"
	"github.com/pbsnet/gateway/internal/profile"
)

// DirectoryHandler serves profile search and lookup by username.
type DirectoryHandler struct {
	profiles *profile.Store
	media    *media.Service
	tokens   *identity.TokenService
	logger   *zap.Logger
}

// NewDirectoryHandler creates a DirectoryHandler.
func NewDirectoryHandler(profiles *profile.Store, mediaSvc *media.Service, tokens *identity.TokenService, logger *zap.Logger) *DirectoryHandler {
	return &DirectoryHandler{profiles: profiles, media: mediaSvc, tokens: tokens, logger: logger}
}

// Register mounts the directory routes behind the bearer token gate.
func (h *DirectoryHandler) Register(rg *gin.RouterGroup) {
	auth := identity.RequireToken(h.tokens)
	rg.GET("/users/search", auth, h.Search)
	rg.GET("/profile/:username", auth, h.GetByUsername)
}

type searchResult struct {
	Name        string  `json:"name"`
	Username    string  `json:"username"`
	Pbs         string  `json:"pbs"`
	Designation string  `json:"designation"`
	Office      string  `json:"office"`
	PicURL      *string `json:"pic_url"`
}

// Search handles GET /users/search. Query parameters are ANDed; at most
// profile.SearchLimit users are returned.
func (h *DirectoryHandler) Search(c *gin.Context) {
	f := profile.SearchFilter{
		Pbs:         c.Query("pbs"),
		Office:      c.Query("office"),
		Mobile:      c.Query("mobile"),
		Designation: c.Query("designation"),
		Username:    c.Query("username"),
		Name:        c.Query("search"),
	}

	found, err := h.profiles.Search(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.logger, "search profiles", err)
		return
	}

	out := make([]searchResult, 0, len(found))
	for _, p := range found {
		r := searchResult{
			Name:        p.FullName,
			Username:    p.Username,
			Pbs:         p.PbsName,
			Designation: p.PostName,
			Office:      p.OfficeName,
		}
		if u := h.media.ViewURL(p.ProfilePicID, false); u != "" {
			r.PicURL = &u
		}
		out = append(out, r)
	}
	c.JSON(http.StatusOK, gin.H{"users": out})
}

// GetByUsername handles GET /profile/:username.
func (h *DirectoryHandler) GetByUsername(c *gin.Context) {
	p, err := h.profiles.GetByUsername(c.Request.Context(), c.Param("username"))
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
			return
		}
		respondError(c, h.logger, "get profile by username", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"full_name":       p.FullName,
		"username":        p.Username,
		"post_name":       p.PostName,
		"pbs_name":        p.PbsName,
		"office_name":     p.OfficeName,
		"mobile":          p.Mobile,
		"email":           p.Email,
		"profile_pic_url": nullable(h.media.ViewURL(p.ProfilePicID, false)),
		"personal_json":   p.PersonalJSON,
	})
}
