package admission

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func uploadRequest(t *testing.T, filename, contextTag string, content []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("context", contextTag))
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest("POST", "/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func uploadRouter(p *Pipeline) *gin.Engine {
	router := gin.New()
	router.Use(func(c *gin.Context) { c.Set("user_id", int64(42)) })
	RegisterRoutes(&router.RouterGroup, NewHandler(p))
	return router
}

func TestUploadAccepted(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	store.On("Store", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("obj-ok", nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	router := uploadRouter(newTestPipeline(store, holder, repo))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "solution.py", "assignment", []byte("print(1)\n")))

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Contains(t, w.Body.String(), "obj-ok")
	assert.Contains(t, w.Body.String(), `"status":"accepted"`)
}

func TestUploadRejected(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	router := uploadRouter(newTestPipeline(store, holder, repo))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "setup.exe", "assignment", []byte("MZ")))

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), ReasonExtensionDenied)
}

func TestUploadQuarantined(t *testing.T) {
	store := new(MockObjectStore)
	holder := new(MockHolder)
	repo := new(MockVerdictRepo)
	holder.On("Hold", mock.Anything, mock.Anything).Return("rec-9", nil)
	repo.On("Create", mock.Anything, mock.Anything).Return(nil)

	router := uploadRouter(newTestPipeline(store, holder, repo))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "note.txt", "assignment", []byte("#!/bin/sh\n")))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), "rec-9")
}

func TestUploadBadContext(t *testing.T) {
	router := uploadRouter(newTestPipeline(new(MockObjectStore), new(MockHolder), new(MockVerdictRepo)))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, uploadRequest(t, "a.txt", "homework", []byte("x")))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_CONTEXT")
}

func TestUploadMissingFile(t *testing.T) {
	router := uploadRouter(newTestPipeline(new(MockObjectStore), new(MockHolder), new(MockVerdictRepo)))

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	require.NoError(t, mw.WriteField("context", "assignment"))
	require.NoError(t, mw.Close())
	req := httptest.NewRequest("POST", "/uploads", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "NO_FILE")
}
