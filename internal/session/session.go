// Package session は認証済みアイデンティティと常時接続のライフサイクルを管理します
// プロセス全体で共有される状態はこのストアだけです
package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kaiwa-app/kaiwa-client/internal/api"
	"github.com/kaiwa-app/kaiwa-client/internal/config"
	"github.com/kaiwa-app/kaiwa-client/internal/logger"
	"github.com/kaiwa-app/kaiwa-client/internal/models"
	"github.com/kaiwa-app/kaiwa-client/internal/realtime"
	"github.com/kaiwa-app/kaiwa-client/internal/tokenstore"
)

// Dialer は常時接続を開きます（テストで差し替え可能）
type Dialer func(url, token string) *realtime.Conn

// Store はセッション（アイデンティティ・トークン・常時接続）を所有します
// 常時接続を開閉できるのはこのストアだけです
type Store struct {
	api    *api.Client       // バックエンドAPIクライアント
	tokens *tokenstore.Store // トークンの永続化先
	wsURL  string            // WebSocketの接続先
	dial   Dialer            // 常時接続の生成方法

	mu       sync.Mutex
	identity *models.User
	token    string
	conn     *realtime.Conn
}

// New は新しいセッションストアを作成します
// dialがnilの場合は realtime.Dial を使用します
func New(cfg config.Config, tokens *tokenstore.Store, dial Dialer) *Store {
	if dial == nil {
		dial = realtime.Dial
	}
	s := &Store{
		tokens: tokens,
		wsURL:  cfg.WSURL,
		dial:   dial,
	}
	s.api = api.NewClient(cfg.APIBaseURL, s.Token)
	return s
}

// API はこのセッションのトークンで認証するAPIクライアントを返します
func (s *Store) API() *api.Client { return s.api }

// Token は現在のベアラートークンを返します（未ログイン時は空文字列）
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token
}

// Identity は現在のアイデンティティを返します
// 2番目の戻り値はログイン中かどうかです
func (s *Store) Identity() (models.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.identity == nil {
		return models.User{}, false
	}
	return *s.identity, true
}

// Conn は現在の常時接続を返します（未接続時はnil）
func (s *Store) Conn() *realtime.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// ConnState は常時接続の状態を返します
func (s *Store) ConnState() realtime.State {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return realtime.StateDisconnected
	}
	return conn.State()
}

// Restore は保存済みトークンからセッションを復元します
// アプリケーション起動時に1回だけ呼んでください
// 復元できた場合はtrueを返します。トークンが無い・期限切れ・無効の場合は
// トークンを破棄してログアウト状態のままfalseを返します（エラーは表面化させません）
func (s *Store) Restore(ctx context.Context) bool {
	token, err := s.tokens.Load()
	if err != nil {
		logger.Warn("failed to load persisted token", zap.Error(err))
		return false
	}
	if token == "" {
		return false
	}

	// 明らかに期限切れのトークンはネットワークを使わずに破棄する
	if tokenstore.IsExpired(token, time.Now()) {
		logger.Info("persisted token expired, discarding")
		s.discardToken()
		return false
	}

	// トークンをアイデンティティに交換する
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()

	user, err := s.api.Me(ctx)
	if err != nil {
		logger.Info("persisted token rejected, discarding", zap.Error(err))
		s.mu.Lock()
		s.token = ""
		s.mu.Unlock()
		s.discardToken()
		return false
	}

	s.establish(user, token, false)
	return true
}

// Login は認証情報でログインし、セッションを確立します
// 認証失敗は *api.AuthError として返ります
func (s *Store) Login(ctx context.Context, email, password string) error {
	res, err := s.api.Login(ctx, email, password)
	if err != nil {
		return err
	}
	s.establish(res.User, res.AccessToken, true)
	return nil
}

// Register は新規登録し、セッションを確立します
// バリデーション失敗は *api.AuthError として返ります
func (s *Store) Register(ctx context.Context, email, username, password string) error {
	res, err := s.api.Register(ctx, email, username, password)
	if err != nil {
		return err
	}
	s.establish(res.User, res.AccessToken, true)
	return nil
}

// Logout は常時接続を閉じ、トークンを破棄し、セッションを空にします
// ログアウト済みの状態で呼んでも安全です
func (s *Store) Logout() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.identity = nil
	s.token = ""
	s.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
	s.discardToken()
	logger.Info("logged out")
}

// establish はセッションを確立し、常時接続を開きます
// 接続の失敗はログに残るだけで、セッション自体は成立します
// （UIはセッション確立済みかつ未接続の期間に耐える必要があります）
func (s *Store) establish(user models.User, token string, persist bool) {
	if persist {
		if err := s.tokens.Save(token); err != nil {
			logger.Warn("failed to persist token", zap.Error(err))
		}
	}

	s.mu.Lock()
	s.identity = &user
	s.token = token
	if s.conn == nil {
		s.conn = s.dial(s.wsURL, token)
	}
	s.mu.Unlock()

	logger.Info("session established", zap.String("userId", user.Id), zap.String("username", user.Username))
}

// discardToken は永続化されたトークンを削除します
func (s *Store) discardToken() {
	if err := s.tokens.Delete(); err != nil {
		logger.Warn("failed to delete persisted token", zap.Error(err))
	}
}
