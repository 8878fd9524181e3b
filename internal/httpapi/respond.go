package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/MrEthical07/guardian"
)

type response struct {
	Data  any            `json:"data,omitempty"`
	Error *errorResponse `json:"error,omitempty"`
}

type errorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, response{Error: &errorResponse{Code: code, Message: message}})
}

func writeValidationError(w http.ResponseWriter, err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
		return
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}
	writeJSON(w, http.StatusBadRequest, response{
		Error: &errorResponse{Code: "VALIDATION_FAILED", Message: "request validation failed", Fields: fields},
	})
}

// writeAppError maps engine errors to a fixed status and code. Messages
// never distinguish an unknown account from a wrong password.
func writeAppError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var rl *guardian.RateLimitedError
	switch {
	case errors.As(err, &rl):
		w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many attempts")
	case errors.Is(err, guardian.ErrInvalidEmail),
		errors.Is(err, guardian.ErrWeakPassword),
		errors.Is(err, guardian.ErrInvalidRole):
		writeError(w, http.StatusBadRequest, "INVALID_INPUT", err.Error())
	case errors.Is(err, guardian.ErrVerificationInvalid):
		writeError(w, http.StatusBadRequest, "VERIFICATION_INVALID", "verification token invalid")
	case errors.Is(err, guardian.ErrDuplicateEmail):
		writeError(w, http.StatusConflict, "DUPLICATE_EMAIL", "email already registered")
	case errors.Is(err, guardian.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "INVALID_TRANSITION", "account state does not allow this")
	case errors.Is(err, guardian.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", "invalid credentials")
	case errors.Is(err, guardian.ErrTokenExpired),
		errors.Is(err, guardian.ErrTokenInvalid),
		errors.Is(err, guardian.ErrTokenRevoked),
		errors.Is(err, guardian.ErrTokenReplayDetected):
		writeError(w, http.StatusUnauthorized, "INVALID_TOKEN", "token rejected")
	case errors.Is(err, guardian.ErrAccountNotVerified):
		writeError(w, http.StatusForbidden, "ACCOUNT_NOT_VERIFIED", "account not verified")
	case errors.Is(err, guardian.ErrAccountSuspended):
		writeError(w, http.StatusForbidden, "ACCOUNT_SUSPENDED", "account suspended")
	case errors.Is(err, guardian.ErrAccountLocked):
		writeError(w, http.StatusForbidden, "ACCOUNT_LOCKED", "account locked")
	case errors.Is(err, guardian.ErrPermissionDenied):
		writeError(w, http.StatusForbidden, "FORBIDDEN", "permission denied")
	case errors.Is(err, guardian.ErrNotFound), errors.Is(err, guardian.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "not found")
	case errors.Is(err, guardian.ErrDependencyUnavailable):
		writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "service temporarily unavailable")
	default:
		logger.ErrorContext(r.Context(), "unhandled error",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}
