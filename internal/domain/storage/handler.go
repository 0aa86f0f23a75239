package storage

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courseguard/internal/pkg/response"
)

// Handler serves object retrieval by pointer.
type Handler struct {
	gateway *Gateway
}

func NewHandler(gateway *Gateway) *Handler {
	return &Handler{gateway: gateway}
}

// Get streams an object's bytes with its stored media type.
func (h *Handler) Get(c *gin.Context) {
	pointer := c.Param("pointer")
	rc, meta, err := h.gateway.Open(c.Request.Context(), pointer)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidPointer):
			response.Error(c, http.StatusBadRequest, "INVALID_POINTER", "malformed storage pointer")
		case errors.Is(err, ErrObjectNotFound):
			response.Error(c, http.StatusNotFound, "NOT_FOUND", "object not found")
		default:
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "retrieval failed")
		}
		return
	}
	defer rc.Close()

	c.DataFromReader(http.StatusOK, meta.Size, meta.MediaType, rc, nil)
}
