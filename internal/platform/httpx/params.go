package httpx

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/fieldstock/fieldstock/internal/shared"
)

// Scope returns the caller scope installed by the scope middleware.
func Scope(r *http.Request) (shared.Scope, error) {
	scope, ok := shared.ScopeFromContext(r.Context())
	if !ok || !scope.Valid() {
		return shared.Scope{}, shared.Validation("X-Company-ID", "company scope is required")
	}
	return scope, nil
}

// PathID parses a positive integer URL parameter.
func PathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, shared.Validation(name, fmt.Sprintf("invalid id %q", raw))
	}
	return id, nil
}

// QueryInt64 parses an optional positive integer query parameter. Zero means absent.
func QueryInt64(r *http.Request, name string) (int64, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, shared.Validation(name, fmt.Sprintf("invalid value %q", raw))
	}
	return v, nil
}

// QueryInt parses an optional integer query parameter with a default.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, shared.Validation(name, fmt.Sprintf("invalid value %q", raw))
	}
	return v, nil
}

// ValidateStruct runs validator tags and converts the first failure into a ValidationError.
func ValidateStruct(v *validator.Validate, dto any) error {
	err := v.Struct(dto)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		return shared.Validation(fe.Namespace(), failedRule(fe))
	}
	return shared.Validation("", err.Error())
}

func failedRule(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of " + fe.Param()
	case "min":
		return "must have at least " + fe.Param() + " items"
	case "gt":
		return "must be greater than " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
