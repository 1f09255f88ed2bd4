package gateway

import (
	"errors"
	"net/http"

	"github.com/flicker-im/fabric/internal/fkerr"
)

// statusFor maps a domain error to the fixed HTTP status codes spec
// section 6 assigns the Gateway: 400/401/403/409/500/503. Anything
// unrecognized becomes 500, matching section 7's "uncaught exceptions
// become 500".
func statusFor(err error) (int, string) {
	switch {
	case err == nil:
		return http.StatusOK, ""
	case errors.Is(err, fkerr.ErrMissingCredentials):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, fkerr.ErrValueMismatch):
		return http.StatusUnauthorized, "invalid verification code"
	case errors.Is(err, fkerr.ErrValueExpired):
		return http.StatusForbidden, "verification code expired"
	case errors.Is(err, fkerr.ErrKeyNotFound):
		return http.StatusForbidden, "verification not completed"
	case errors.Is(err, fkerr.ErrDataAlreadyExist):
		return http.StatusConflict, "username or email already exists"
	case errors.Is(err, fkerr.ErrNotFound):
		return http.StatusUnauthorized, "invalid credentials"
	case errors.Is(err, fkerr.ErrRPCUnavailable), errors.Is(err, fkerr.ErrRPCDeadlineExceed):
		return http.StatusServiceUnavailable, "status service unavailable"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	writeError(w, status, msg)
}
