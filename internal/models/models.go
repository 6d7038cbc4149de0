// Package models はクライアント・サーバー間でやり取りするデータ構造を定義します
package models

import "time"

// User は認証済みユーザー（アイデンティティ）を表します
// セッションの生存期間中は不変です
type User struct {
	Id        string    `json:"id"`        // ユーザーの一意な識別子
	Email     string    `json:"email"`     // メールアドレス（ログイン用）
	Username  string    `json:"username"`  // ユーザー名（表示用）
	CreatedAt time.Time `json:"createdAt"` // 登録日時
}

// RoomMember はルームの参加者を表します
// userIdで一意です
type RoomMember struct {
	UserId   string `json:"userId"`   // 参加者のユーザーID
	Username string `json:"username"` // 参加者のユーザー名（表示用）
}

// Room はチャットルームのメタデータと参加者一覧を表します
type Room struct {
	Id        string       `json:"id"`        // ルームの一意な識別子
	Name      string       `json:"name"`      // ルーム名
	CreatedAt time.Time    `json:"createdAt"` // ルーム作成日時
	Members   []RoomMember `json:"members"`   // 参加者一覧（userIdで一意）
}

// RoomDetail はルームのスナップショット（メタデータ + メッセージ履歴）です
// GET /rooms/{id} のレスポンスとして返されます
type RoomDetail struct {
	Room
	Messages []Message `json:"messages"` // メッセージ履歴（古い順）
}

// Message は1件のチャットメッセージを表します
// ルームごとに追記専用で、順序は受信順です
type Message struct {
	Id        string    `json:"id"`        // メッセージの一意な識別子
	RoomId    string    `json:"roomId"`    // 所属するルームのID
	UserId    string    `json:"userId"`    // 投稿者のユーザーID
	Username  string    `json:"username"`  // 投稿者のユーザー名（表示用）
	Content   string    `json:"content"`   // 本文
	CreatedAt time.Time `json:"createdAt"` // 投稿日時
}

// AuthResponse は登録・ログイン成功時のレスポンスです
type AuthResponse struct {
	User        User   `json:"user"`        // 認証されたユーザー
	AccessToken string `json:"accessToken"` // ベアラートークン
}
