package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"zippytrip.org/internal/adminreset"
	"zippytrip.org/internal/obs"
)

const (
	PathAdminReset       = "/v1/admin/reset-password"
	PathAdminResetCompat = "/functions/v1/admin-reset-password"
)

// ResetService performs admin password resets.
type ResetService interface {
	Reset(ctx context.Context, req adminreset.Request) (adminreset.Result, error)
}

type resetBody struct {
	UserID      string `json:"userId"`
	NewPassword string `json:"newPassword"`
}

func setResetCORS(h http.Header) {
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
	h.Set("Access-Control-Allow-Methods", "POST, OPTIONS")
	h.Set("Access-Control-Max-Age", "600")
}

// ResetCORS sets the reset route's CORS headers ahead of the rate limiter
// and answers its preflight, so throttled responses stay readable by browsers.
func ResetCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != PathAdminReset && r.URL.Path != PathAdminResetCompat {
			next.ServeHTTP(w, r)
			return
		}
		setResetCORS(w.Header())
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AdminResetPassword handles POST {userId, newPassword} with a bearer credential.
func (a *API) AdminResetPassword(w http.ResponseWriter, r *http.Request) {
	setResetCORS(w.Header())
	switch r.Method {
	case http.MethodOptions:
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost:
	default:
		methodNotAllowed(w, r, http.MethodPost, http.MethodOptions)
		return
	}

	req := adminreset.Request{
		Credential:    bearerToken(r.Header.Get("Authorization")),
		SourceAddress: sourceAddress(r),
	}

	if req.Credential != "" {
		var body resetBody
		if err := decodeJSON(r, &body); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, r, http.StatusRequestEntityTooLarge, "request body too large")
				return
			}
			// без тела: проверка прав всё равно идёт первой, 401/403 важнее 400
			if _, gateErr := a.reset.Reset(r.Context(), req); gateErr != nil && !errors.Is(gateErr, adminreset.ErrValidation) {
				handleResetError(w, r, gateErr)
				return
			}
			writeError(w, r, http.StatusBadRequest, "invalid JSON body")
			return
		}
		req.TargetUserID = body.UserID
		req.NewPassword = body.NewPassword
	}

	res, err := a.reset.Reset(r.Context(), req)
	if err != nil {
		handleResetError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": res.Message})
}

func handleResetError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, adminreset.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, err.Error())
	case errors.Is(err, adminreset.ErrForbidden):
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, adminreset.ErrValidation):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, adminreset.ErrOperationFailed):
		writeError(w, r, http.StatusInternalServerError, err.Error())
	default:
		obs.Error("admin reset internal error", map[string]any{"request_id": RequestIDFromContext(r.Context()), "error": err.Error()})
		writeError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) >= 7 && strings.EqualFold(header[:7], "Bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return header
}

// sourceAddress is the audit address: first X-Forwarded-For entry, then CF-Connecting-IP.
func sourceAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if cf := strings.TrimSpace(r.Header.Get("CF-Connecting-IP")); cf != "" {
		return cf
	}
	return adminreset.UnknownSourceAddr
}
