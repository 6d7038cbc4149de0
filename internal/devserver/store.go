package devserver

import (
	"errors"
	"sync"
	"time"

	"github.com/kaiwa-app/kaiwa-client/internal/idgen"
	"github.com/kaiwa-app/kaiwa-client/internal/models"
)

// カスタムエラー定義
var (
	ErrRoomNotFound = errors.New("room not found")
	ErrUserNotFound = errors.New("user not found")
	ErrEmailTaken   = errors.New("email already registered")
)

// Store は開発用バックエンドの永続化層です
// テストがプロセス内で完結するよう、実装はインメモリのみです
type Store interface {
	CreateUser(email, username, passwordHash string) (models.User, error)
	UserByEmail(email string) (models.User, string, error)
	User(id string) (models.User, error)

	CreateRoom(name string, creator models.User) (models.Room, error)
	ListRooms() []models.Room
	RoomDetail(id string) (models.RoomDetail, error)
	AddMember(roomId string, user models.User) error
	IsMember(roomId, userId string) bool
	AppendMessage(roomId string, author models.User, content string) (models.Message, error)
}

// userRecord はユーザーとそのパスワードハッシュです
type userRecord struct {
	user models.User
	hash string
}

// roomRecord はルームとそのメッセージ履歴です
type roomRecord struct {
	room     models.Room
	messages []models.Message
}

// MemStore はStoreのインメモリ実装です
type MemStore struct {
	mu      sync.RWMutex
	users   map[string]*userRecord // ユーザーID → ユーザー
	byEmail map[string]string      // メールアドレス → ユーザーID
	rooms   map[string]*roomRecord // ルームID → ルーム
	order   []string               // ルームの作成順（一覧表示用、新しい順）
}

// NewMemStore は空のインメモリストアを作成します
func NewMemStore() *MemStore {
	return &MemStore{
		users:   make(map[string]*userRecord),
		byEmail: make(map[string]string),
		rooms:   make(map[string]*roomRecord),
	}
}

// CreateUser は新しいユーザーを作成します
// メールアドレスが登録済みの場合は ErrEmailTaken を返します
func (s *MemStore) CreateUser(email, username, passwordHash string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[email]; taken {
		return models.User{}, ErrEmailTaken
	}
	user := models.User{
		Id:        idgen.NewUserID(),
		Email:     email,
		Username:  username,
		CreatedAt: time.Now().UTC(),
	}
	s.users[user.Id] = &userRecord{user: user, hash: passwordHash}
	s.byEmail[email] = user.Id
	return user, nil
}

// UserByEmail はメールアドレスでユーザーとパスワードハッシュを取得します
func (s *MemStore) UserByEmail(email string) (models.User, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[email]
	if !ok {
		return models.User{}, "", ErrUserNotFound
	}
	rec := s.users[id]
	return rec.user, rec.hash, nil
}

// User はIDでユーザーを取得します
func (s *MemStore) User(id string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.users[id]
	if !ok {
		return models.User{}, ErrUserNotFound
	}
	return rec.user, nil
}

// CreateRoom は新しいルームを作成し、作成者を最初の参加者にします
func (s *MemStore) CreateRoom(name string, creator models.User) (models.Room, error) {
	id, err := idgen.NewRoomID()
	if err != nil {
		return models.Room{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	room := models.Room{
		Id:        id,
		Name:      name,
		CreatedAt: time.Now().UTC(),
		Members:   []models.RoomMember{{UserId: creator.Id, Username: creator.Username}},
	}
	s.rooms[id] = &roomRecord{room: room}
	s.order = append([]string{id}, s.order...)
	return room, nil
}

// ListRooms は全ルームの一覧を新しい順で返します
func (s *MemStore) ListRooms() []models.Room {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rooms := make([]models.Room, 0, len(s.order))
	for _, id := range s.order {
		rec := s.rooms[id]
		room := rec.room
		room.Members = append([]models.RoomMember(nil), rec.room.Members...)
		rooms = append(rooms, room)
	}
	return rooms
}

// RoomDetail はルームのスナップショット（参加者・メッセージ履歴込み）を返します
func (s *MemStore) RoomDetail(id string) (models.RoomDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rooms[id]
	if !ok {
		return models.RoomDetail{}, ErrRoomNotFound
	}
	room := rec.room
	room.Members = append([]models.RoomMember(nil), rec.room.Members...)
	return models.RoomDetail{
		Room:     room,
		Messages: append([]models.Message(nil), rec.messages...),
	}, nil
}

// AddMember はユーザーをルームの参加者に追加します（参加済みなら何もしません）
func (s *MemStore) AddMember(roomId string, user models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rooms[roomId]
	if !ok {
		return ErrRoomNotFound
	}
	for _, m := range rec.room.Members {
		if m.UserId == user.Id {
			return nil
		}
	}
	rec.room.Members = append(rec.room.Members, models.RoomMember{UserId: user.Id, Username: user.Username})
	return nil
}

// IsMember はユーザーがルームの参加者かどうかを返します
func (s *MemStore) IsMember(roomId, userId string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.rooms[roomId]
	if !ok {
		return false
	}
	for _, m := range rec.room.Members {
		if m.UserId == userId {
			return true
		}
	}
	return false
}

// AppendMessage はメッセージを履歴に追記します
func (s *MemStore) AppendMessage(roomId string, author models.User, content string) (models.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.rooms[roomId]
	if !ok {
		return models.Message{}, ErrRoomNotFound
	}
	msg := models.Message{
		Id:        idgen.NewMessageID(),
		RoomId:    roomId,
		UserId:    author.Id,
		Username:  author.Username,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	rec.messages = append(rec.messages, msg)
	return msg, nil
}
