package admission

import "github.com/gin-gonic/gin"

// RegisterRoutes registers the admission entry point under the protected
// group. Any authenticated user may upload; the policy table decides.
func RegisterRoutes(r *gin.RouterGroup, h *Handler) {
	r.POST("/uploads", h.Upload)
}
