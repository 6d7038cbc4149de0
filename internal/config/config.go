// Package config はアプリケーションの設定を管理します
// 環境変数から設定を読み込み、デフォルト値を提供します
package config

import (
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIBaseURL  = "http://localhost:3000"    // APIサーバーのデフォルト接続先
	defaultWSURL       = "ws://localhost:3000/ws"   // WebSocketのデフォルト接続先
	defaultTypingMS    = 1000                       // 入力中通知のデバウンス時間（ミリ秒）
	defaultTokenDBName = "kaiwa/token.db"           // トークン保存先（設定ディレクトリからの相対パス）
)

// Config はチャットクライアントの設定を保持します
type Config struct {
	APIBaseURL     string        // APIサーバーの接続先
	WSURL          string        // WebSocketの接続先
	TokenDBPath    string        // ベアラートークンの保存先ファイル
	TypingDebounce time.Duration // 入力中通知のデバウンス時間
}

// Load は環境変数からクライアント設定を読み込みます
// 環境変数が設定されていない場合はデフォルト値を使用します
func Load() Config {
	return Config{
		APIBaseURL:     envOr("KAIWA_API_URL", defaultAPIBaseURL),
		WSURL:          envOr("KAIWA_WS_URL", defaultWSURL),
		TokenDBPath:    envOr("KAIWA_TOKEN_DB", defaultTokenDBPath()),
		TypingDebounce: time.Duration(envInt("KAIWA_TYPING_MS", defaultTypingMS)) * time.Millisecond,
	}
}

// defaultTokenDBPath はトークン保存先のデフォルトパスを返します
// ユーザー設定ディレクトリが取得できない場合はカレントディレクトリを使用します
func defaultTokenDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Base(defaultTokenDBName)
	}
	return filepath.Join(dir, defaultTokenDBName)
}

const (
	defaultServerAddr = ":3000"                 // 開発用サーバーのデフォルトリッスンアドレス
	defaultJWTSecret  = "kaiwa-dev-secret"      // 開発用のJWT署名キー（本番では必ず上書きすること）
	defaultTokenTTL   = 7 * 24 * 60 * 60        // トークンのデフォルト有効期限（7日）
)

// defaultAllowedOrigins はCORSで許可するデフォルトのオリジン一覧
var defaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://localhost:3001",
}

// ServerConfig は開発用バックエンドの設定を保持します
type ServerConfig struct {
	Addr           string   // リッスンアドレス
	JWTSecret      string   // JWT署名キー
	TokenTTLSec    int      // トークンの有効期限（秒）
	AllowedOrigins []string // CORSで許可するオリジン一覧
}

// LoadServer は環境変数から開発用サーバーの設定を読み込みます
func LoadServer() ServerConfig {
	return ServerConfig{
		Addr:           envOr("KAIWA_ADDR", defaultServerAddr),
		JWTSecret:      envOr("KAIWA_JWT_SECRET", defaultJWTSecret),
		TokenTTLSec:    envInt("KAIWA_TOKEN_TTL_SEC", defaultTokenTTL),
		AllowedOrigins: envCSV("KAIWA_CORS_ORIGINS", defaultAllowedOrigins),
	}
}

// envOr は環境変数から文字列を取得します
// 環境変数が設定されていない場合はデフォルト値を返します
func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// envInt は環境変数から整数を取得します
// 環境変数が設定されていない、または無効な値の場合はデフォルト値を返します
func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			log.Printf("invalid %s=%s, fallback to default (%d)", key, v, def)
			return def
		}
		return i
	}
	return def
}

// envCSV は環境変数からカンマ区切りの文字列リストを取得します
// 環境変数が設定されていない、または空の場合はデフォルト値を返します
func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
