package devserver

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
)

// Handler はREST APIのハンドラーです
type Handler struct {
	svc *Service
}

// NewHandler は新しいHandlerを作成します
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createRoomRequest struct {
	Name string `json:"name"`
}

// Register は POST /auth/register を処理します
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.svc.Register(in.Email, in.Username, in.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, res)
}

// Login は POST /auth/login を処理します
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	res, err := h.svc.Login(in.Email, in.Password)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, res)
}

// Me は GET /users/me を処理します（要認証）
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.Me(userIdFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, user)
}

// ListRooms は GET /rooms を処理します（要認証）
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.svc.ListRooms())
}

// CreateRoom は POST /rooms を処理します（要認証）
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	var in createRoomRequest
	if !decodeJSON(w, r, &in) {
		return
	}
	room, err := h.svc.CreateRoom(in.Name, userIdFrom(r))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, room)
}

// GetRoom は GET /rooms/{roomId} を処理します（要認証）
func (h *Handler) GetRoom(w http.ResponseWriter, r *http.Request) {
	detail, err := h.svc.GetRoom(chi.URLParam(r, "roomId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, detail)
}

// JoinRoom は POST /rooms/{roomId}/join を処理します（要認証）
func (h *Handler) JoinRoom(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.JoinRoom(chi.URLParam(r, "roomId"), userIdFrom(r)); err != nil {
		writeServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"success": true})
}

// ctxKey はリクエストコンテキストのキー型です
type ctxKey string

const ctxKeyUserId ctxKey = "userId"

// userIdFrom は認証ミドルウェアが格納したユーザーIDを取り出します
func userIdFrom(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyUserId).(string)
	return id
}

// bearerToken はAuthorizationヘッダーからベアラートークンを取り出します
// WebSocketハンドシェイク用に ?token= クエリもフォールバックとして受け付けます
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}
