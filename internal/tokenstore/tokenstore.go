// Package tokenstore はベアラートークンの永続化を担当します
// ブラウザ版のlocalStorageに相当する、単一トークンの保存領域です
package tokenstore

import (
	"os"
	"path/filepath"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketAuth = []byte("auth")  // トークンを保存するバケット
	keyToken   = []byte("token") // 固定キー（保存するトークンは常に1つ）
)

// Store はローカルファイルにトークンを永続化します
type Store struct {
	db *bolt.DB
}

// Open は指定されたパスでトークンストアを開きます
// 親ディレクトリが存在しない場合は作成します
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "create token dir")
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrap(err, "open token db")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketAuth)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create token bucket")
	}
	return &Store{db: db}, nil
}

// Save はトークンを保存します（既存のトークンは上書き）
func (s *Store) Save(token string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAuth).Put(keyToken, []byte(token))
	})
	return errors.Wrap(err, "save token")
}

// Load は保存されたトークンを返します
// トークンが存在しない場合は空文字列を返します
func (s *Store) Load() (string, error) {
	var token string
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketAuth).Get(keyToken); v != nil {
			token = string(v)
		}
		return nil
	})
	return token, errors.Wrap(err, "load token")
}

// Delete は保存されたトークンを破棄します
// トークンが存在しない場合も成功扱いです
func (s *Store) Delete() error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAuth).Delete(keyToken)
	})
	return errors.Wrap(err, "delete token")
}

// Close はストアを閉じます
func (s *Store) Close() error {
	return s.db.Close()
}

// IsExpired はトークンのexpクレームがnowを過ぎているかを判定します
// クライアントは署名キーを持たないため、署名検証は行いません
// パースできないトークンは期限切れとして扱います
func IsExpired(token string, now time.Time) bool {
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return true
	}
	if claims.ExpiresAt == nil {
		return false
	}
	return claims.ExpiresAt.Before(now)
}
