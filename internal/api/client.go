// Package api はバックエンドのREST APIクライアントを提供します
// 認証後のリクエストにはベアラートークンを付与します
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/kaiwa-app/kaiwa-client/internal/models"
)

// TokenSource は現在のベアラートークンを返します
// 未ログインの場合は空文字列を返してください
type TokenSource func() string

// Client はバックエンドAPIのHTTPクライアントです
type Client struct {
	base  string       // APIサーバーのベースURL（末尾スラッシュなし）
	http  *http.Client // HTTPクライアント
	token TokenSource  // ベアラートークンの取得元
}

// NewClient は新しいAPIクライアントを作成します
// tokenがnilの場合、認証ヘッダーは付与されません
func NewClient(base string, token TokenSource) *Client {
	return &Client{
		base:  base,
		http:  &http.Client{Timeout: 10 * time.Second},
		token: token,
	}
}

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

// errorResponse はエラーレスポンスの構造
type errorResponse struct {
	Message string `json:"message"` // エラーメッセージ
}

// Register は新規ユーザーを登録し、アイデンティティとトークンを返します
// バリデーション失敗は *AuthError として返ります
func (c *Client) Register(ctx context.Context, email, username, password string) (models.AuthResponse, error) {
	var out models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/register", registerRequest{Email: email, Username: username, Password: password}, &out, authFailure)
	return out, err
}

// Login は認証情報を検証し、アイデンティティとトークンを返します
// 認証失敗は *AuthError として返ります
func (c *Client) Login(ctx context.Context, email, password string) (models.AuthResponse, error) {
	var out models.AuthResponse
	err := c.do(ctx, http.MethodPost, "/auth/login", loginRequest{Email: email, Password: password}, &out, authFailure)
	return out, err
}

// Me は現在のトークンに対応するアイデンティティを返します
// セッション復元時に使用します
func (c *Client) Me(ctx context.Context) (models.User, error) {
	var out models.User
	err := c.do(ctx, http.MethodGet, "/users/me", nil, &out, authFailure)
	return out, err
}

// ListRooms は全ルームの一覧（参加者込み）を返します
func (c *Client) ListRooms(ctx context.Context) ([]models.Room, error) {
	var out []models.Room
	err := c.do(ctx, http.MethodGet, "/rooms", nil, &out, loadFailure)
	return out, err
}

// GetRoom は1ルームのスナップショット（メタデータ・参加者・メッセージ履歴）を返します
// 存在しない場合や権限がない場合は *LoadError として返ります
func (c *Client) GetRoom(ctx context.Context, id string) (models.RoomDetail, error) {
	var out models.RoomDetail
	err := c.do(ctx, http.MethodGet, "/rooms/"+id, nil, &out, loadFailure)
	return out, err
}

// CreateRoom は新しいルームを作成します（作成者は自動的に参加者になります）
func (c *Client) CreateRoom(ctx context.Context, name string) (models.Room, error) {
	var out models.Room
	err := c.do(ctx, http.MethodPost, "/rooms", createRoomRequest{Name: name}, &out, loadFailure)
	return out, err
}

// JoinRoom は現在のユーザーをルームに参加させます
func (c *Client) JoinRoom(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/rooms/"+id+"/join", nil, nil, loadFailure)
}

// failureMapper は非2xxレスポンスをエラー型に変換します
type failureMapper func(status int, message string) error

// authFailure は認証系エンドポイントの失敗を *AuthError にマップします
func authFailure(status int, message string) error {
	return &AuthError{Message: message}
}

// loadFailure はスナップショット系エンドポイントの失敗を *LoadError にマップします
func loadFailure(status int, message string) error {
	return &LoadError{Status: status, Message: message}
}

// do はリクエストを送信し、レスポンスをoutにデコードします
// 非2xxの場合はfailでエラー型に変換して返します
func (c *Client) do(ctx context.Context, method, path string, body, out any, fail failureMapper) error {
	var buf *bytes.Buffer
	if body != nil {
		buf = &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return errors.Wrap(err, "encode request")
		}
	} else {
		buf = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, buf)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != nil {
		if t := c.token(); t != "" {
			req.Header.Set("Authorization", "Bearer "+t)
		}
	}

	res, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var er errorResponse
		if err := json.NewDecoder(res.Body).Decode(&er); err != nil || er.Message == "" {
			er.Message = fmt.Sprintf("request failed with status %d", res.StatusCode)
		}
		return fail(res.StatusCode, er.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return errors.Wrapf(err, "decode %s response", path)
	}
	return nil
}
