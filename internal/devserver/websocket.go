package devserver

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kaiwa-app/kaiwa-client/internal/logger"
	"github.com/kaiwa-app/kaiwa-client/internal/models"
	"github.com/kaiwa-app/kaiwa-client/internal/realtime"
)

// hub は全ルームのWebSocket接続を管理します
// 複数のgoroutineから同時にアクセスされるためロックで保護します
type hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*wsClient]bool // ルームID → そのチャネルに参加中のクライアント
}

// wsClient は1つのWebSocket接続を表します
type wsClient struct {
	user    models.User
	conn    *websocket.Conn
	writeMu sync.Mutex      // gorilla/websocketの書き込みは直列化が必要
	joined  map[string]bool // 参加中のルームチャネル
}

// writeEnvelope はイベントをこの接続に書き込みます
func (c *wsClient) writeEnvelope(env realtime.Envelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteJSON(env); err != nil {
		logger.Warn("failed to send event", zap.String("userId", c.user.Id), zap.Error(err))
	}
}

// WSHandler はWebSocket接続を処理するハンドラーです
type WSHandler struct {
	svc      *Service
	hub      *hub
	upgrader websocket.Upgrader
}

// NewWSHandler は新しいWSHandlerを作成します
func NewWSHandler(svc *Service) *WSHandler {
	return &WSHandler{
		svc: svc,
		hub: &hub{rooms: make(map[string]map[*wsClient]bool)},
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				// 開発用サーバーのためOriginチェックは行わない
				return true
			},
		},
	}
}

// HandleWS はWebSocket接続を処理します
// 接続時にベアラートークンを検証し、切断まで受信ループを回します。
// 切断時は参加中の全チャネルから退出し、他の参加者にuserLeftを通知します
func (h *WSHandler) HandleWS(w http.ResponseWriter, r *http.Request) {
	userId, err := h.svc.Tokens().Validate(bearerToken(r))
	if err != nil {
		respondError(w, http.StatusUnauthorized, "invalid or expired token")
		return
	}
	user, err := h.svc.Me(userId)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "unknown user")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade error", zap.Error(err))
		return
	}

	client := &wsClient{user: user, conn: conn, joined: make(map[string]bool)}
	defer func() {
		for roomId := range client.joined {
			h.leaveChannel(client, roomId)
		}
		conn.Close()
		logger.Info("websocket disconnected", zap.String("userId", user.Id))
	}()

	logger.Info("websocket connected", zap.String("userId", user.Id), zap.String("username", user.Username))

	// 受信ループ
	for {
		var env realtime.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}

		switch env.Type {
		case realtime.EventJoinRoom:
			h.handleJoin(client, env.Payload)
		case realtime.EventLeaveRoom:
			h.handleLeave(client, env.Payload)
		case realtime.EventSendMessage:
			h.handleSendMessage(client, env.Payload)
		case realtime.EventTyping:
			h.handleTyping(client, env.Payload)
		default:
			logger.Debug("unknown event type", zap.String("type", env.Type))
		}
	}
}

// handleJoin はルームチャネルへの参加を処理します
// 参加者以外の購読は拒否し、既存の参加者にuserJoinedを通知します
func (h *WSHandler) handleJoin(client *wsClient, payload json.RawMessage) {
	var p realtime.RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("failed to decode joinRoom payload", zap.Error(err))
		return
	}
	if !h.svc.store.IsMember(p.RoomId, client.user.Id) {
		logger.Warn("joinRoom rejected: not a member",
			zap.String("roomId", p.RoomId), zap.String("userId", client.user.Id))
		return
	}

	h.hub.mu.Lock()
	room, exists := h.hub.rooms[p.RoomId]
	if !exists {
		room = make(map[*wsClient]bool)
		h.hub.rooms[p.RoomId] = room
	}
	room[client] = true
	h.hub.mu.Unlock()
	client.joined[p.RoomId] = true

	h.broadcast(p.RoomId, realtime.EventUserJoined,
		realtime.Presence{UserId: client.user.Id, Username: client.user.Username}, client)
}

// handleLeave はルームチャネルからの退出を処理します
func (h *WSHandler) handleLeave(client *wsClient, payload json.RawMessage) {
	var p realtime.RoomPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("failed to decode leaveRoom payload", zap.Error(err))
		return
	}
	if !client.joined[p.RoomId] {
		return
	}
	delete(client.joined, p.RoomId)
	h.leaveChannel(client, p.RoomId)
}

// leaveChannel はクライアントをチャネルから取り除き、退出を通知します
func (h *WSHandler) leaveChannel(client *wsClient, roomId string) {
	h.hub.mu.Lock()
	if room, ok := h.hub.rooms[roomId]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.hub.rooms, roomId)
		}
	}
	h.hub.mu.Unlock()

	h.broadcast(roomId, realtime.EventUserLeft,
		realtime.Presence{UserId: client.user.Id, Username: client.user.Username}, client)
}

// handleSendMessage はメッセージを永続化し、送信者を含む全参加者に配信します
// 送信者自身もイベントの往復で自分のメッセージを受け取ります（楽観的表示はしない約束）
func (h *WSHandler) handleSendMessage(client *wsClient, payload json.RawMessage) {
	var p realtime.MessagePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("failed to decode sendMessage payload", zap.Error(err))
		return
	}
	if !client.joined[p.RoomId] {
		logger.Warn("sendMessage rejected: channel not joined",
			zap.String("roomId", p.RoomId), zap.String("userId", client.user.Id))
		return
	}
	msg, err := h.svc.PostMessage(p.RoomId, client.user.Id, p.Content)
	if err != nil {
		logger.Warn("failed to post message", zap.Error(err))
		return
	}
	h.broadcast(p.RoomId, realtime.EventNewMessage, msg, nil)
}

// handleTyping は入力状態を送信者以外の参加者に配信します
func (h *WSHandler) handleTyping(client *wsClient, payload json.RawMessage) {
	var p realtime.TypingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		logger.Warn("failed to decode typing payload", zap.Error(err))
		return
	}
	if !client.joined[p.RoomId] {
		return
	}
	h.broadcast(p.RoomId, realtime.EventUserTyping, realtime.TypingEvent{
		UserId:   client.user.Id,
		Username: client.user.Username,
		IsTyping: p.IsTyping,
	}, client)
}

// broadcast はルームチャネルの参加者にイベントを配信します
// excludeがnil以外の場合、そのクライアントには配信しません
func (h *WSHandler) broadcast(roomId, eventType string, payload any, exclude *wsClient) {
	env, err := realtime.NewEnvelope(eventType, payload)
	if err != nil {
		logger.Warn("failed to encode event", zap.String("type", eventType), zap.Error(err))
		return
	}

	h.hub.mu.RLock()
	clients := make([]*wsClient, 0, len(h.hub.rooms[roomId]))
	for c := range h.hub.rooms[roomId] {
		if c != exclude {
			clients = append(clients, c)
		}
	}
	h.hub.mu.RUnlock()

	for _, c := range clients {
		c.writeEnvelope(env)
	}
}
