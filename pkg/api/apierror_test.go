package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteErrorContentType(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(w, http.StatusBadRequest, "Bad Request", "missing field")

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "Bad Request", problem.Title)
	assert.Equal(t, http.StatusBadRequest, problem.Status)
	assert.Equal(t, "missing field", problem.Detail)
	assert.Contains(t, problem.Type, "400")
}

func TestWriteInternalSanitizesError(t *testing.T) {
	w := httptest.NewRecorder()
	WriteInternal(w, assert.AnError)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), assert.AnError.Error())
}

func TestWriteTooManyRequestsRetryAfter(t *testing.T) {
	w := httptest.NewRecorder()
	WriteTooManyRequests(w, 5)

	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "5", w.Header().Get("Retry-After"))
}

func TestWriteUnauthorizedDefaultDetail(t *testing.T) {
	w := httptest.NewRecorder()
	WriteUnauthorized(w, "")

	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &problem))
	assert.Equal(t, "Authentication required", problem.Detail)
}
