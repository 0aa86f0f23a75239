package admission

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"courseguard/internal/config"
	"courseguard/internal/pkg/response"
)

// Handler exposes the admission call over HTTP. The verdict-to-status
// translation lives here; the pipeline itself knows nothing about HTTP.
type Handler struct {
	pipeline *Pipeline
}

func NewHandler(pipeline *Pipeline) *Handler {
	return &Handler{pipeline: pipeline}
}

type fileSource struct {
	r    io.Reader
	size int64
}

func (f *fileSource) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *fileSource) Size() int64                { return f.size }

// Upload accepts a multipart file plus a context tag and returns the
// verdict. Only accepted uploads carry a pointer.
func (h *Handler) Upload(c *gin.Context) {
	userID := mustUserID(c)
	if userID == 0 {
		return
	}

	tag, err := config.ParseContextTag(c.PostForm("context"))
	if err != nil {
		response.Error(c, http.StatusBadRequest, "INVALID_CONTEXT", err.Error())
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, "NO_FILE", "no file provided")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.Error(c, http.StatusBadRequest, "NO_FILE", "failed to open file")
		return
	}
	defer file.Close()

	result, err := h.pipeline.Admit(c.Request.Context(), Artifact{
		Source:       &fileSource{r: file, size: fileHeader.Size},
		Filename:     fileHeader.Filename,
		DeclaredMIME: fileHeader.Header.Get("Content-Type"),
		Context:      tag,
		UploaderID:   userID,
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownContext):
			response.Error(c, http.StatusBadRequest, "INVALID_CONTEXT", err.Error())
		case errors.Is(err, ErrStorageFailure):
			response.Error(c, http.StatusServiceUnavailable, "STORAGE_FAILURE", "storage temporarily unavailable, retry later")
		default:
			response.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "admission failed")
		}
		return
	}

	switch result.Verdict.Status {
	case StatusAccepted:
		response.Success(c, http.StatusCreated, gin.H{
			"verdict": result.Verdict,
			"pointer": result.Pointer,
		})
	case StatusQuarantined:
		response.Success(c, http.StatusAccepted, gin.H{
			"verdict":       result.Verdict,
			"quarantine_id": result.QuarantineID,
		})
	default:
		response.ErrorWithDetails(c, http.StatusUnprocessableEntity, "REJECTED",
			"upload rejected by content policy", result.Verdict)
	}
}

func mustUserID(c *gin.Context) int64 {
	id, exists := c.Get("user_id")
	if !exists {
		response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
		return 0
	}
	switch v := id.(type) {
	case int64:
		return v
	case float64:
		return int64(v)
	}
	response.Error(c, http.StatusUnauthorized, "UNAUTHORIZED", "invalid user id")
	return 0
}
