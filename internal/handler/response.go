package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON and writeError, so all endpoints
// share one content type and one error shape:
//
//	{"error": "not_found", "message": "marker not found with id abc123"}
//	{"error": "validation_error", "message": "latitude must be between -90 and 90", "field": "latitude"}
//
// The "error" value is machine-readable and stable; "message" is for people.

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"reflect"

	"github.com/goccy/go-json"

	"github.com/sakif/map-markers/internal/apperror"
	"github.com/sakif/map-markers/internal/validation"
)

// maxBodyBytes caps request bodies. A marker with a full description is a few KiB.
const maxBodyBytes = 1 << 20

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`           // Machine-readable error type (e.g., "not_found")
	Message string `json:"message"`         // Human-readable description
	Field   string `json:"field,omitempty"` // Offending request field, for validation errors
}

// writeJSON sends a JSON response with the given status code.
//
// Headers and status go out before the body: once Encode writes, header
// changes are silently ignored.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// writeError maps a domain error to an HTTP status code and sends it.
//
// errors.Is walks the whole chain, so a service error like
//
//	fmt.Errorf("updating marker: %w", apperror.NotFound("marker", id))
//
// still matches apperror.ErrNotFound. Anything that is not an *AppError is
// answered with a generic 500 and no detail.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperror.AppError
	if !errors.As(err, &appErr) {
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: apperror.Internal().Message,
		})
		return
	}

	status, errorType := statusFor(err)
	writeJSON(w, status, ErrorResponse{
		Error:   errorType,
		Message: appErr.Message,
		Field:   appErr.Field,
	})
}

func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrUnauthenticated):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrUpstream):
		return http.StatusBadGateway, "upstream_error"
	case errors.Is(err, apperror.ErrUnavailable):
		return http.StatusServiceUnavailable, "service_unavailable"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

// decodeJSON reads a JSON request body into dst.
//
// Decoder failures become validation errors. A value of the wrong type is
// reported against its json field name ("latitude must be a number");
// anything else is a malformed body.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperror.ValidationFailed("", "request body is too large")
		}
		return apperror.ValidationFailed("", "request body could not be read")
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return apperror.ValidationFailed("", "request body is required")
	}

	if err := json.Unmarshal(data, dst); err == nil {
		return nil
	}

	if name, typ, ok := mistypedField(data, dst); ok {
		return apperror.ValidationFailed(name, name+" must be "+kindName(typ))
	}
	return apperror.ValidationFailed("", "request body must be valid JSON")
}

// mistypedField finds the first field of the struct behind dst whose value
// in data does not decode into the field's type.
//
// The decoder's own type errors are not used: depending on the target type
// they either carry no field at all or the Go field name, never the json name.
// Checking each present key on its own gives the name the client sent.
func mistypedField(data []byte, dst any) (string, reflect.Type, bool) {
	var present map[string]json.RawMessage
	if err := json.Unmarshal(data, &present); err != nil {
		return "", nil, false
	}

	t := reflect.TypeOf(dst)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return "", nil, false
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name := validation.FieldName(f)
		if !f.IsExported() || name == "" {
			continue
		}
		raw, ok := present[name]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, reflect.New(f.Type).Interface()); err != nil {
			return name, f.Type, true
		}
	}
	return "", nil, false
}

func kindName(t reflect.Type) string {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	switch t.Kind() {
	case reflect.Float32, reflect.Float64, reflect.Int, reflect.Int64:
		return "a number"
	case reflect.String:
		return "a string"
	default:
		return "a " + t.Kind().String()
	}
}

// RateLimited answers requests rejected by the httprate limiter.
func RateLimited(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, ErrorResponse{
		Error:   "rate_limited",
		Message: "too many requests, try again later",
	})
}
