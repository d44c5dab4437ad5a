package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"oauth-gateway/internal/biz"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError 将业务错误映射为 HTTP 状态码，响应体不包含内部错误细节
func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Cache-Control", "no-store")

	var (
		status int
		resp   ErrorResponse
	)
	switch {
	case errors.Is(err, biz.ErrNotSignedIn):
		w.WriteHeader(http.StatusUnauthorized)
		return
	case errors.Is(err, biz.ErrUnknownProvider):
		status, resp = http.StatusNotFound, ErrorResponse{"unknown_provider", "unknown provider"}
	case errors.Is(err, biz.ErrStateMismatch):
		status, resp = http.StatusBadRequest, ErrorResponse{"state_mismatch", "invalid or expired state"}
	case errors.Is(err, biz.ErrInvalidCallback):
		status, resp = http.StatusBadRequest, ErrorResponse{"invalid_callback", "authorization was not granted"}
	case errors.Is(err, biz.ErrExchangeFailed):
		status, resp = http.StatusBadGateway, ErrorResponse{"exchange_failed", "token exchange failed"}
	case errors.Is(err, biz.ErrNetwork):
		status, resp = http.StatusBadGateway, ErrorResponse{"provider_unreachable", "provider unreachable"}
	default:
		status, resp = http.StatusInternalServerError, ErrorResponse{"internal_error", "internal error"}
	}
	writeJSON(w, status, resp)
}
