package realtime

import (
	"encoding/json"

	"github.com/kaiwa-app/kaiwa-client/internal/models"
)

// 送信イベントタイプ
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
	EventTyping      = "typing"
)

// 受信イベントタイプ
const (
	EventNewMessage = "newMessage"
	EventUserJoined = "userJoined"
	EventUserLeft   = "userLeft"
	EventUserTyping = "userTyping"
)

// Envelope はWebSocketで送受信するメッセージの構造
// すべてのイベントはこの形式でやり取りされます
type Envelope struct {
	Type    string          `json:"type"`              // イベントタイプ
	Payload json.RawMessage `json:"payload,omitempty"` // イベントのペイロード
}

// NewEnvelope はペイロードをJSONにエンコードしてエンベロープを作成します
func NewEnvelope(typ string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: typ, Payload: raw}, nil
}

// RoomPayload はルームチャネルへの参加・退出のペイロード
type RoomPayload struct {
	RoomId string `json:"roomId"` // 対象のルームID
}

// MessagePayload はメッセージ送信のペイロード
type MessagePayload struct {
	RoomId  string `json:"roomId"`  // 送信先のルームID
	Content string `json:"content"` // 本文
}

// TypingPayload は入力中通知のペイロード
type TypingPayload struct {
	RoomId   string `json:"roomId"`   // 対象のルームID
	IsTyping bool   `json:"isTyping"` // 入力中かどうか
}

// Presence はユーザーの参加・退出イベントのペイロード
type Presence struct {
	UserId   string `json:"userId"`   // 対象ユーザーのID
	Username string `json:"username"` // 対象ユーザーのユーザー名
}

// TypingEvent は他ユーザーの入力状態イベントのペイロード
type TypingEvent struct {
	UserId   string `json:"userId"`   // 対象ユーザーのID
	Username string `json:"username"` // 対象ユーザーのユーザー名
	IsTyping bool   `json:"isTyping"` // 入力中かどうか
}

// Handler はルームスコープの受信イベントの購読者です
// 同時に登録できるハンドラーは1つだけです（アクティブなルームは常に1つのため）
type Handler interface {
	OnNewMessage(msg models.Message)
	OnUserJoined(p Presence)
	OnUserLeft(p Presence)
	OnUserTyping(ev TypingEvent)
}
