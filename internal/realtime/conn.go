// Package realtime はバックエンドとの常時接続（WebSocket）を管理します
// 接続の確立・再接続はこの層が所有し、上位層はイベントの送受信だけを行います
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kaiwa-app/kaiwa-client/internal/logger"
	"github.com/kaiwa-app/kaiwa-client/internal/models"
)

// State は接続状態を表します
type State int32

const (
	StateDisconnected State = iota // 切断中
	StateConnecting                // 接続試行中
	StateConnected                 // 接続済み
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

const sendQueueSize = 64 // 送信キューのバッファサイズ

// Conn は1本のWebSocket接続を表すハンドルです
// セッションストアが生成・破棄し、アクティブなルームビューだけが送受信に使用します
type Conn struct {
	url   string // WebSocketの接続先URL
	token string // 接続認証に使うベアラートークン

	send      chan Envelope // 送信キュー（書き込みポンプが1本で処理）
	done      chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	state   State
	handler Handler // 現在の購読者（アクティブなルームビュー）
	room    string  // 参加中のルームチャネル（再接続時の再参加用）
}

// Dial は接続を開始し、すぐにハンドルを返します
// 接続の確立と再接続はバックグラウンドで行われ、失敗はログに残るだけです
// （呼び出し側から見るとfire-and-forgetです）
func Dial(url, token string) *Conn {
	c := &Conn{
		url:   url,
		token: token,
		send:  make(chan Envelope, sendQueueSize),
		done:  make(chan struct{}),
	}
	go c.run()
	return c
}

// Close は接続を閉じます。複数回呼んでも安全です
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.done) })
	c.setState(StateDisconnected)
}

// State は現在の接続状態を返します
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SetHandler は受信イベントの購読者を登録します（以前の購読者は置き換え）
func (c *Conn) SetHandler(h Handler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// ClearHandler は購読者の登録を解除します
func (c *Conn) ClearHandler() {
	c.mu.Lock()
	c.handler = nil
	c.mu.Unlock()
}

// JoinRoom はルームのイベントチャネルへの参加を要求します
func (c *Conn) JoinRoom(roomId string) {
	c.mu.Lock()
	c.room = roomId
	c.mu.Unlock()
	c.emit(EventJoinRoom, RoomPayload{RoomId: roomId})
}

// LeaveRoom はルームのイベントチャネルから退出します
func (c *Conn) LeaveRoom(roomId string) {
	c.mu.Lock()
	if c.room == roomId {
		c.room = ""
	}
	c.mu.Unlock()
	c.emit(EventLeaveRoom, RoomPayload{RoomId: roomId})
}

// SendMessage はメッセージをルームに送信します
func (c *Conn) SendMessage(roomId, content string) {
	c.emit(EventSendMessage, MessagePayload{RoomId: roomId, Content: content})
}

// SendTyping は入力状態をルームに通知します
func (c *Conn) SendTyping(roomId string, isTyping bool) {
	c.emit(EventTyping, TypingPayload{RoomId: roomId, IsTyping: isTyping})
}

// emit はイベントを送信キューに積みます
// キューが一杯の場合は破棄します（配送はもともと損失ありの約束です）
func (c *Conn) emit(typ string, payload any) {
	env, err := NewEnvelope(typ, payload)
	if err != nil {
		logger.Warn("failed to encode event", zap.String("type", typ), zap.Error(err))
		return
	}
	select {
	case c.send <- env:
	default:
		logger.Warn("send queue full, dropping event", zap.String("type", typ))
	}
}

// run は接続の確立・再接続ループです
// 切断されると指数バックオフで再接続し、参加中のルームチャネルへ再参加します
func (c *Conn) run() {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 0 // 接続が明示的に閉じられるまで再接続し続ける

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.setState(StateConnecting)
		header := http.Header{}
		header.Set("Authorization", "Bearer "+c.token)
		ws, _, err := websocket.DefaultDialer.Dial(c.url, header)
		if err != nil {
			c.setState(StateDisconnected)
			wait := bo.NextBackOff()
			logger.Warn("websocket dial failed", zap.Error(err), zap.Duration("retryIn", wait))
			select {
			case <-c.done:
				return
			case <-time.After(wait):
			}
			continue
		}

		bo.Reset()
		c.setState(StateConnected)
		logger.Info("websocket connected", zap.String("url", c.url))

		// 再接続の場合、参加中だったルームチャネルに再参加する
		// （切断中のイベントは失われたままです）
		c.mu.Lock()
		room := c.room
		c.mu.Unlock()
		if room != "" {
			c.emit(EventJoinRoom, RoomPayload{RoomId: room})
		}

		c.serve(ws)
		c.setState(StateDisconnected)
	}
}

// serve は1本の接続の読み書きを担当します（切断まで戻りません）
func (c *Conn) serve(ws *websocket.Conn) {
	stop := make(chan struct{})
	defer close(stop)
	defer ws.Close()

	// 書き込みポンプ: 送信キューを1つのgoroutineで直列に書き込む
	go func() {
		for {
			select {
			case <-stop:
				return
			case <-c.done:
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = ws.WriteMessage(websocket.CloseMessage, msg)
				_ = ws.Close()
				return
			case env := <-c.send:
				if err := ws.WriteJSON(env); err != nil {
					logger.Warn("websocket write error", zap.Error(err))
					return
				}
			}
		}
	}()

	// 受信ループ
	for {
		var env Envelope
		if err := ws.ReadJSON(&env); err != nil {
			select {
			case <-c.done:
				// 明示的なクローズによる切断はエラーではない
			default:
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Warn("websocket read error", zap.Error(err))
				}
			}
			return
		}
		c.dispatch(env)
	}
}

// dispatch は受信イベントを購読者に届けます
// 購読者がいない場合は破棄します
func (c *Conn) dispatch(env Envelope) {
	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h == nil {
		return
	}

	switch env.Type {
	case EventNewMessage:
		var msg models.Message
		if err := json.Unmarshal(env.Payload, &msg); err != nil {
			logger.Warn("failed to decode newMessage payload", zap.Error(err))
			return
		}
		h.OnNewMessage(msg)
	case EventUserJoined:
		var p Presence
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Warn("failed to decode userJoined payload", zap.Error(err))
			return
		}
		h.OnUserJoined(p)
	case EventUserLeft:
		var p Presence
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			logger.Warn("failed to decode userLeft payload", zap.Error(err))
			return
		}
		h.OnUserLeft(p)
	case EventUserTyping:
		var ev TypingEvent
		if err := json.Unmarshal(env.Payload, &ev); err != nil {
			logger.Warn("failed to decode userTyping payload", zap.Error(err))
			return
		}
		h.OnUserTyping(ev)
	default:
		logger.Debug("unknown event type", zap.String("type", env.Type))
	}
}

// setState は接続状態を更新します
func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}
