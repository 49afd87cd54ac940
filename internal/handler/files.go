package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/pbsnet/gateway/internal/media"
	"github.com/pbsnet/gateway/internal/platform"
)

// FilesHandler serves stored blobs for backends without their own file
// endpoint. Paths mirror the managed platform's view URL so clients need no
// changes between backends.
type FilesHandler struct {
	media  *media.Service
	logger *zap.Logger
}

// NewFilesHandler creates a FilesHandler.
func NewFilesHandler(mediaSvc *media.Service, logger *zap.Logger) *FilesHandler {
	return &FilesHandler{media: mediaSvc, logger: logger}
}

// Register mounts the view route. The project and mode query parameters are
// accepted and ignored.
func (h *FilesHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/storage/buckets/:bucket/files/:id/view", h.View)
}

// View handles GET /storage/buckets/:bucket/files/:id/view.
func (h *FilesHandler) View(c *gin.Context) {
	rc, contentType, err := h.media.Open(c.Request.Context(), c.Param("bucket"), c.Param("id"))
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "file not found"})
			return
		}
		respondError(c, h.logger, "open file", err)
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, -1, contentType, rc, map[string]string{
		"Cache-Control":          "private, max-age=300",
		"X-Content-Type-Options": "nosniff",
	})
}
