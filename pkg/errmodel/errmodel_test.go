package errmodel

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAndFrom(t *testing.T) {
	assert := assert.New(t)

	e := Validation("bad_title", "title too long")
	assert.Equal(CategoryValidation, e.Category)
	assert.Same(e, From(e))
	assert.Same(e, From(fmt.Errorf("wrapped: %w", e)))

	plain := From(errors.New("boom"))
	assert.Equal(CategorySystem, plain.Category)
	assert.Equal(CodeInternal, plain.Code)
	assert.Nil(From(nil))

	long := New(CategorySystem, "x", strings.Repeat("a", 1000), nil)
	assert.Len(long.Message, maxMessage)
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *Error
		want int
	}{
		{NotFound("gone"), http.StatusNotFound},
		{Validation("bad", ""), http.StatusBadRequest},
		{New(CategoryValidation, CodeConflict, "", nil), http.StatusConflict},
		{Unauthorized("login"), http.StatusUnauthorized},
		{New(CategoryPolicy, CodeForbidden, "", nil), http.StatusForbidden},
		{New(CategoryStorage, "full", "", nil), http.StatusServiceUnavailable},
		{System(CodeInternal, ""), http.StatusInternalServerError},
		{nil, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, HTTPStatus(tt.err), "%v", tt.err)
	}
}

func TestWriteHTTPAndDecode(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/", nil)
	WriteHTTP(rr, req, Validation("bad_json", "oops"))

	require.Equal(t, http.StatusBadRequest, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `"category":"validation"`)
	assert.Contains(t, body, `"code":"bad_json"`)
	assert.Contains(t, body, `"trace_id"`)

	e := Decode(rr.Code, strings.NewReader(body))
	assert.Equal(t, "bad_json", e.Code)
	assert.Equal(t, "oops", e.Message)

	e = Decode(http.StatusBadGateway, strings.NewReader("upstream down"))
	assert.Equal(t, "http_502", e.Code)
	assert.Equal(t, "upstream down", e.Message)

	e = Decode(http.StatusServiceUnavailable, strings.NewReader(""))
	assert.Equal(t, http.StatusText(http.StatusServiceUnavailable), e.Message)
}
