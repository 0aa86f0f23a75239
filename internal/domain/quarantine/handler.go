package quarantine

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"courseguard/internal/pkg/response"
)

// Handler exposes the review surface. All endpoints sit behind the
// reviewer role; uploaders never see quarantine internals.
type Handler struct {
	service *Service
	hub     *Hub
}

func NewHandler(service *Service, hub *Hub) *Handler {
	return &Handler{service: service, hub: hub}
}

// List returns records awaiting review, oldest first. ?context= narrows
// to one upload context.
func (h *Handler) List(c *gin.Context) {
	records, err := h.service.ListReviewable(c.Request.Context(), c.Query("context"))
	if err != nil {
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to list quarantine records")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"records": records})
}

// Get returns a single record.
func (h *Handler) Get(c *gin.Context) {
	rec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			response.Error(c, http.StatusNotFound, "NOT_FOUND", "quarantine record not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load quarantine record")
		return
	}
	response.Success(c, http.StatusOK, rec)
}

type decisionRequest struct {
	Decision      string `json:"decision" binding:"required"`
	ExpectedState string `json:"expected_state" binding:"required"`
}

// Decide applies approve, reject, or escalate. The reviewer sends the
// state they acted on; a 409 means someone else got there first.
func (h *Handler) Decide(c *gin.Context) {
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	expected, ok := ParseState(req.ExpectedState)
	if !ok {
		response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "unknown expected_state")
		return
	}

	actor, _ := c.Get("actor")
	actorName, _ := actor.(string)
	if actorName == "" {
		actorName = "reviewer"
	}

	rec, err := h.service.Decide(c.Request.Context(), c.Param("id"), actorName, req.Decision, expected)
	if err != nil {
		switch {
		case errors.Is(err, ErrRecordNotFound):
			response.Error(c, http.StatusNotFound, "NOT_FOUND", "quarantine record not found")
		case errors.Is(err, ErrConflict):
			response.Error(c, http.StatusConflict, "CONFLICT", "record state changed, re-read and retry")
		case errors.Is(err, ErrInvalidTransition):
			response.Error(c, http.StatusUnprocessableEntity, "INVALID_TRANSITION", err.Error())
		case errors.Is(err, ErrInvalidDecision):
			response.Error(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "decision failed")
		}
		return
	}
	response.Success(c, http.StatusOK, rec)
}

// Audit returns the record's full trail.
func (h *Handler) Audit(c *gin.Context) {
	entries, err := h.service.AuditTrail(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			response.Error(c, http.StatusNotFound, "NOT_FOUND", "quarantine record not found")
			return
		}
		response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to load audit trail")
		return
	}
	response.Success(c, http.StatusOK, gin.H{"entries": entries})
}

// Events upgrades to a websocket stream of quarantine lifecycle events.
func (h *Handler) Events(c *gin.Context) {
	h.hub.ServeWS(c.Writer, c.Request)
}
