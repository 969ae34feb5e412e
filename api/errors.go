package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/warp/ledger-engine/billing"
)

// Error codes returned in ErrorResponse.Code.
const (
	CodeValidation        = "validation_failed"
	CodePermission        = "permission_denied"
	CodeNotFound          = "not_found"
	CodeEditWindow        = "edit_window_expired"
	CodeInsufficientStock = "insufficient_stock"
	CodeDuplicate         = "duplicate"
	CodeDuplicateRequest  = "duplicate_request"
	CodeUnavailable       = "unavailable"
	CodeInternal          = "internal_error"
)

// errDuplicateRequest is returned when an Idempotency-Key was already used.
var errDuplicateRequest = errors.New("request with this idempotency key was already processed")

// statusFor maps the billing error taxonomy onto HTTP.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errDuplicateRequest):
		return http.StatusConflict, CodeDuplicateRequest
	case errors.Is(err, billing.ErrValidation):
		return http.StatusBadRequest, CodeValidation
	case errors.Is(err, billing.ErrPermissionDenied):
		return http.StatusForbidden, CodePermission
	case errors.Is(err, billing.ErrNotFound):
		return http.StatusNotFound, CodeNotFound
	case errors.Is(err, billing.ErrEditWindowExpired):
		return http.StatusConflict, CodeEditWindow
	case errors.Is(err, billing.ErrInsufficientStock):
		return http.StatusConflict, CodeInsufficientStock
	case errors.Is(err, billing.ErrDuplicate):
		return http.StatusConflict, CodeDuplicate
	case billing.IsRetryable(err):
		return http.StatusServiceUnavailable, CodeUnavailable
	}
	return http.StatusInternalServerError, CodeInternal
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// fail writes err with its mapped status. Infrastructure failures are logged
// with the request ID and reported without driver details.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		if status == http.StatusServiceUnavailable {
			w.Header().Set("Retry-After", "1")
			writeError(w, status, code, "storage temporarily unavailable, retry later", nil)
			return
		}
		writeError(w, status, code, "internal error", nil)
		return
	}
	writeError(w, status, code, err.Error(), nil)
}

// =============================================================================
// REQUEST DECODING
// =============================================================================

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode reads a JSON body into dst and runs struct validation. Failures are
// returned as *billing.ValidationError so they map to 400.
func (h *Handler) decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return &billing.ValidationError{Message: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)}
		}
		return &billing.ValidationError{Message: "invalid request body: " + err.Error()}
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &billing.ValidationError{Field: fieldPath(verrs[0]), Message: validationMessage(verrs[0])}
		}
		return &billing.ValidationError{Message: err.Error()}
	}
	return nil
}

// fieldPath drops the struct name: "items[0].product".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must have at least " + e.Param() + " entries"
	case "max":
		return "must be at most " + e.Param() + " long"
	case "gt":
		return "must be greater than " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "datetime":
		return "must be a date formatted " + e.Param()
	}
	return "is invalid"
}
