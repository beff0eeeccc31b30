package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/digkill/picly/internal/billing"
	"github.com/digkill/picly/internal/imaging"
	"github.com/digkill/picly/internal/provider"
	"github.com/digkill/picly/internal/service"
)

const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type requestError struct {
	msg string
}

func (e *requestError) Error() string { return e.msg }

func badRequest(format string, args ...any) error {
	return &requestError{msg: fmt.Sprintf(format, args...)}
}

// decodeJSON reads a bounded JSON body into dst and runs struct validation.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return badRequest("Invalid JSON body")
	}
	return validateStruct(dst)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return badRequest("Invalid request")
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fieldMessage(fe))
	}
	return badRequest("%s", strings.Join(msgs, "; "))
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "url":
		return fe.Field() + " must be a valid URL"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}

// writeJSON writes v with "success": true merged into the top-level object.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	body := map[string]any{}
	if v != nil {
		raw, err := json.Marshal(v)
		if err != nil {
			s.internalError(w, fmt.Errorf("marshal response: %w", err))
			return
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			body = map[string]any{"data": json.RawMessage(raw)}
		}
	}
	body["success"] = true
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("handler error", "err", err)
	s.writeError(w, http.StatusInternalServerError, "Internal server error")
}

// fail maps a service error onto a status code and the error envelope.
func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		var perr *provider.Error
		if errors.As(err, &perr) {
			s.log.Warn("provider error", "provider", perr.Provider, "status", perr.StatusCode)
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}
	s.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return http.StatusBadRequest
	}
	var perr *provider.Error
	if errors.As(err, &perr) && perr.Temporary() {
		return http.StatusServiceUnavailable
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrInvalidSession),
		errors.Is(err, service.ErrSessionExpired):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrInsufficientCredits):
		return http.StatusPaymentRequired
	case errors.Is(err, service.ErrEngineDisabled),
		errors.Is(err, service.ErrEmergencyMode):
		return http.StatusForbidden
	case errors.Is(err, service.ErrGenerationNotFound),
		errors.Is(err, service.ErrContentNotFound),
		errors.Is(err, service.ErrPostNotFound),
		errors.Is(err, billing.ErrUserNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrEngineUnavailable),
		errors.Is(err, billing.ErrDisabled):
		return http.StatusServiceUnavailable
	case errors.Is(err, service.ErrMissingFields),
		errors.Is(err, service.ErrWeakPassword),
		errors.Is(err, service.ErrUsernameTaken),
		errors.Is(err, service.ErrEmailTaken),
		errors.Is(err, service.ErrAlreadyReferred),
		errors.Is(err, service.ErrInvalidReferral),
		errors.Is(err, service.ErrSelfReferral),
		errors.Is(err, service.ErrAlreadyRated),
		errors.Is(err, service.ErrInvalidRating),
		errors.Is(err, service.ErrInvalidAction),
		errors.Is(err, service.ErrEmptyPrompt),
		errors.Is(err, service.ErrUnknownEngine),
		errors.Is(err, service.ErrEditUnsupported),
		errors.Is(err, service.ErrUnsupportedPlatform),
		errors.Is(err, service.ErrNoPlatforms),
		errors.Is(err, service.ErrNoCredentials),
		errors.Is(err, service.ErrAlreadyPosted),
		errors.Is(err, provider.ErrSourceImageRequired),
		errors.Is(err, imaging.ErrInvalidImage),
		errors.Is(err, imaging.ErrUnknownOperation),
		errors.Is(err, imaging.ErrUnsupportedScale),
		errors.Is(err, imaging.ErrImageTooLarge),
		errors.Is(err, billing.ErrInvalidKind),
		errors.Is(err, billing.ErrInvalidSignature):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, key string, def int) int {
	v := strings.TrimSpace(r.URL.Query().Get(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}
