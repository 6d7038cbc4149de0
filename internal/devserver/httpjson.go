package devserver

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/kaiwa-app/kaiwa-client/internal/logger"
)

// errorResponse はエラーレスポンスの構造
type errorResponse struct {
	Message string `json:"message"` // エラーメッセージ
}

// respondJSON はJSONレスポンスを返します
// payloadがnilの場合は空のレスポンスを返します
func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Warn("failed to encode response", zap.Error(err))
	}
}

// respondError はエラーレスポンスを返します
func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Message: msg})
}

// decodeJSON はリクエストボディからJSONをデコードします
// デコードに失敗した場合は、エラーレスポンスを返してfalseを返します
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	// 最低限の防御: 大きすぎるリクエストを防ぐ（1MB制限）
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload")
		return false
	}
	return true
}

// writeServiceError はサービス層のエラーをHTTPステータスにマップします
func writeServiceError(w http.ResponseWriter, err error) {
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, ve.Msg)
	case errors.Is(err, ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, ErrRoomNotFound), errors.Is(err, ErrUserNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	default:
		logger.Warn("internal error", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
