// Package errmodel is the compact error envelope the draft API answers with
// and the draft client decodes.
package errmodel

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// Category values for compact errors.
const (
	CategoryValidation = "validation"
	CategoryPolicy     = "policy"
	CategoryNetwork    = "network"
	CategoryStorage    = "storage"
	CategorySystem     = "system"
)

// Codes with a fixed HTTP mapping.
const (
	CodeNotFound     = "not_found"
	CodeConflict     = "conflict"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeInternal     = "internal"
)

const maxMessage = 512

// Error is the compact error payload.  It implements the error interface.
type Error struct {
	Category string         `json:"category"`
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Context  map[string]any `json:"context,omitempty"`
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return e.Code + ": " + e.Message
	}
	return e.Message
}

// Envelope is the body of every error response.
type Envelope struct {
	Error   *Error `json:"error"`
	TraceID string `json:"trace_id"`
}

// New constructs a new compact error.
func New(category, code, message string, ctx map[string]any) *Error {
	ce := &Error{Category: category, Code: code, Message: truncate(message, maxMessage)}
	if len(ctx) > 0 {
		ce.Context = ctx
	}
	return ce
}

// From converts any error into a compact Error.  If err already wraps an
// *Error, that is returned.
func From(err error) *Error {
	var ce *Error
	if err == nil {
		return nil
	}
	if errors.As(err, &ce) {
		return ce
	}
	return &Error{Category: CategorySystem, Code: CodeInternal, Message: truncate(err.Error(), maxMessage)}
}

func Validation(code, message string) *Error {
	return New(CategoryValidation, code, message, nil)
}

func NotFound(message string) *Error {
	return New(CategoryValidation, CodeNotFound, message, nil)
}

func Unauthorized(message string) *Error {
	return New(CategoryPolicy, CodeUnauthorized, message, nil)
}

func System(code, message string) *Error {
	return New(CategorySystem, code, message, nil)
}

// HTTPStatus maps category/code to an HTTP status.
func HTTPStatus(e *Error) int {
	if e == nil {
		return http.StatusInternalServerError
	}
	switch e.Category {
	case CategoryValidation:
		switch e.Code {
		case CodeNotFound:
			return http.StatusNotFound
		case CodeConflict:
			return http.StatusConflict
		default:
			return http.StatusBadRequest
		}
	case CategoryPolicy:
		switch e.Code {
		case CodeUnauthorized:
			return http.StatusUnauthorized
		default:
			return http.StatusForbidden
		}
	case CategoryNetwork:
		return http.StatusBadGateway
	case CategoryStorage:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteHTTP writes the envelope for err, including the trace id of the
// request's span when there is one.
func WriteHTTP(w http.ResponseWriter, r *http.Request, err error) {
	ce := From(err)
	if ce == nil {
		ce = System(CodeInternal, "unknown error")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(HTTPStatus(ce))

	env := Envelope{Error: ce}
	if r != nil {
		if sc := trace.SpanFromContext(r.Context()).SpanContext(); sc.HasTraceID() {
			env.TraceID = sc.TraceID().String()
		}
	}
	_ = json.NewEncoder(w).Encode(env)
}

// Decode reads an envelope from an error response body.  Bodies that are
// not envelopes decode to a system error carrying the status text.
func Decode(status int, body io.Reader) *Error {
	b, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var env Envelope
	if err := json.Unmarshal(b, &env); err == nil && env.Error != nil {
		return env.Error
	}
	msg := strings.TrimSpace(string(b))
	if len(msg) == 0 {
		msg = http.StatusText(status)
	}
	return System(fmt.Sprintf("http_%d", status), truncate(msg, maxMessage))
}

// IsCategory checks if err belongs to a specific category.
func IsCategory(err error, category string) bool {
	ce := From(err)
	return ce != nil && strings.EqualFold(ce.Category, category)
}

func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
