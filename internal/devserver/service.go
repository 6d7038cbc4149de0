// Package devserver はクライアント開発・テスト用のバックエンド実装です
// 外部サービスなしでクライアントを端から端まで動かすための、プロセス内で完結する
// 最小のチャットバックエンド（REST + WebSocket）を提供します
package devserver

import (
	"errors"
	"strings"

	"github.com/kaiwa-app/kaiwa-client/internal/models"
)

// ErrInvalidCredentials はログイン失敗時に返されます
var ErrInvalidCredentials = errors.New("invalid email or password")

// ValidationError は入力値の検証エラーです
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validation(msg string) error { return &ValidationError{Msg: msg} }

// Service はチャットバックエンドのビジネスロジックを提供します
type Service struct {
	store  Store         // 永続化層
	tokens *TokenManager // トークンの発行・検証
}

// NewService は新しいServiceを作成します
func NewService(store Store, tokens *TokenManager) *Service {
	return &Service{store: store, tokens: tokens}
}

// Tokens はトークンマネージャーを返します（ハンドラーの認証用）
func (s *Service) Tokens() *TokenManager { return s.tokens }

// Register は新規ユーザーを登録し、トークンを発行します
func (s *Service) Register(email, username, password string) (models.AuthResponse, error) {
	email = strings.TrimSpace(email)
	username = strings.TrimSpace(username)
	switch {
	case !strings.Contains(email, "@"):
		return models.AuthResponse{}, validation("valid email is required")
	case len(username) < 3:
		return models.AuthResponse{}, validation("username must be at least 3 characters")
	case len(password) < 6:
		return models.AuthResponse{}, validation("password must be at least 6 characters")
	}

	hash, err := hashPassword(password)
	if err != nil {
		return models.AuthResponse{}, err
	}
	user, err := s.store.CreateUser(email, username, hash)
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return models.AuthResponse{}, validation("email already registered")
		}
		return models.AuthResponse{}, err
	}
	token, err := s.tokens.Issue(user.Id)
	if err != nil {
		return models.AuthResponse{}, err
	}
	return models.AuthResponse{User: user, AccessToken: token}, nil
}

// Login は認証情報を検証し、トークンを発行します
func (s *Service) Login(email, password string) (models.AuthResponse, error) {
	user, hash, err := s.store.UserByEmail(strings.TrimSpace(email))
	if err != nil || !checkPassword(hash, password) {
		// ユーザーの有無を区別できる情報は返さない
		return models.AuthResponse{}, ErrInvalidCredentials
	}
	token, err := s.tokens.Issue(user.Id)
	if err != nil {
		return models.AuthResponse{}, err
	}
	return models.AuthResponse{User: user, AccessToken: token}, nil
}

// Me はユーザーIDに対応するアイデンティティを返します
func (s *Service) Me(userId string) (models.User, error) {
	return s.store.User(userId)
}

// ListRooms は全ルームの一覧を返します
func (s *Service) ListRooms() []models.Room {
	return s.store.ListRooms()
}

// CreateRoom は新しいルームを作成します（作成者は自動的に参加者になります）
func (s *Service) CreateRoom(name, creatorId string) (models.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Room{}, validation("room name is required")
	}
	creator, err := s.store.User(creatorId)
	if err != nil {
		return models.Room{}, err
	}
	return s.store.CreateRoom(name, creator)
}

// GetRoom はルームのスナップショットを返します
func (s *Service) GetRoom(id string) (models.RoomDetail, error) {
	return s.store.RoomDetail(id)
}

// JoinRoom はユーザーをルームの参加者に追加します
func (s *Service) JoinRoom(roomId, userId string) error {
	user, err := s.store.User(userId)
	if err != nil {
		return err
	}
	return s.store.AddMember(roomId, user)
}

// PostMessage はメッセージを永続化します（WebSocketハブから呼ばれます）
// 空白のみの内容は破棄します
func (s *Service) PostMessage(roomId, userId, content string) (models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return models.Message{}, validation("message content is required")
	}
	author, err := s.store.User(userId)
	if err != nil {
		return models.Message{}, err
	}
	return s.store.AppendMessage(roomId, author, content)
}
