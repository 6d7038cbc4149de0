package devserver

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter は開発用バックエンドのルーターを構築します
func NewRouter(h *Handler, ws *WSHandler, allowedOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Post("/auth/register", h.Register)
	r.Post("/auth/login", h.Login)

	// 認証が必要なエンドポイント
	r.Group(func(r chi.Router) {
		r.Use(requireAuth(h.svc.Tokens()))
		r.Get("/users/me", h.Me)
		r.Get("/rooms", h.ListRooms)
		r.Post("/rooms", h.CreateRoom)
		r.Get("/rooms/{roomId}", h.GetRoom)
		r.Post("/rooms/{roomId}/join", h.JoinRoom)
	})

	// WebSocketエンドポイント（トークンはハンドシェイク時に検証）
	r.Get("/ws", ws.HandleWS)

	return r
}

// requireAuth はベアラートークンを検証し、ユーザーIDをコンテキストに格納します
func requireAuth(tokens *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userId, err := tokens.Validate(bearerToken(r))
			if err != nil {
				respondError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), ctxKeyUserId, userId)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
