package quarantine

import "github.com/gin-gonic/gin"

// RegisterRoutes registers the review surface. The caller mounts this
// behind the reviewer role middleware.
func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	r.GET("/quarantine", h.List)
	r.GET("/quarantine/ws", h.Events)
	r.GET("/quarantine/:id", h.Get)
	r.GET("/quarantine/:id/audit", h.Audit)
	r.POST("/quarantine/:id/decision", h.Decide)
}
