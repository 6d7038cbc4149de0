package devserver

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidToken は検証に失敗したトークンに対して返されます
var ErrInvalidToken = errors.New("invalid token")

// Claims はアクセストークンのクレームです
type Claims struct {
	UserId string `json:"userId"` // 対象ユーザーのID
	jwt.RegisteredClaims
}

// TokenManager はアクセストークンの発行と検証を担当します
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager は新しいTokenManagerを作成します
func NewTokenManager(secret string, ttl time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), ttl: ttl}
}

// Issue はユーザーIDに対するアクセストークンを発行します
func (m *TokenManager) Issue(userId string) (string, error) {
	return m.IssueWithExpiry(userId, time.Now().Add(m.ttl))
}

// IssueWithExpiry は有効期限を指定してトークンを発行します
// 期限切れトークンのテストにも使用します
func (m *TokenManager) IssueWithExpiry(userId string, expiresAt time.Time) (string, error) {
	claims := Claims{
		UserId: userId,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "kaiwa-devserver",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}

// Validate はトークンを検証し、ユーザーIDを返します
func (m *TokenManager) Validate(tokenStr string) (string, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil || !token.Valid || claims.UserId == "" {
		return "", ErrInvalidToken
	}
	return claims.UserId, nil
}

// hashPassword はパスワードのbcryptハッシュを生成します
func hashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.Wrap(err, "hash password")
	}
	return string(b), nil
}

// checkPassword はパスワードがハッシュと一致するかを検証します
func checkPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
