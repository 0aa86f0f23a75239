package storage

import "github.com/gin-gonic/gin"

// RegisterRoutes registers object retrieval under the protected group.
func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	r.GET("/objects/:pointer", h.Get)
}
