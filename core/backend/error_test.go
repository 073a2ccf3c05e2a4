package backend

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/modelapi/core"
	"github.com/relabs-tech/modelapi/core/query"
)

func envelopeFor(t *testing.T, b *Backend, err error) (int, core.APIError) {
	t.Helper()
	rec := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/order", nil)
	b.writeError(rec, r, err)
	var apiErr core.APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return rec.Code, apiErr
}

func TestWriteErrorHidesInternalCause(t *testing.T) {
	b := &Backend{}
	status, apiErr := envelopeFor(t, b, errors.New("pq: connection refused on 10.0.0.7"))
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal_error", apiErr.Code)
	assert.Equal(t, "internal server error", apiErr.Message)
	assert.NotContains(t, apiErr.Stack, "10.0.0.7")
}

func TestWriteErrorKeepsClientFaultMessages(t *testing.T) {
	b := &Backend{}

	status, apiErr := envelopeFor(t, b, &query.BadRequestError{Message: `unknown field "color"`})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "bad_request", apiErr.Code)
	assert.Equal(t, `unknown field "color"`, apiErr.Message)

	status, apiErr = envelopeFor(t, b, &query.NotFoundError{Entity: "order", ID: "o1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "not_found", apiErr.Code)
}
