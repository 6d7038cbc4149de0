package tokenstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "kaiwa", "token.db"))
	if err != nil {
		t.Fatalf("Open() unexpected error: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoadDelete(t *testing.T) {
	s := openTestStore(t)

	// 初期状態では空
	if tok, err := s.Load(); err != nil || tok != "" {
		t.Fatalf("Load() = (%q, %v), want empty", tok, err)
	}

	if err := s.Save("token-1"); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if tok, _ := s.Load(); tok != "token-1" {
		t.Fatalf("Load() = %q, want token-1", tok)
	}

	// 上書き
	if err := s.Save("token-2"); err != nil {
		t.Fatalf("Save() unexpected error: %v", err)
	}
	if tok, _ := s.Load(); tok != "token-2" {
		t.Fatalf("Load() = %q, want token-2", tok)
	}

	if err := s.Delete(); err != nil {
		t.Fatalf("Delete() unexpected error: %v", err)
	}
	if tok, _ := s.Load(); tok != "" {
		t.Fatalf("Load() after Delete = %q, want empty", tok)
	}

	// 2回目のDeleteも成功すること
	if err := s.Delete(); err != nil {
		t.Fatalf("Delete() (idempotent) unexpected error: %v", err)
	}
}

func signedToken(t *testing.T, expiresAt *time.Time) string {
	t.Helper()
	claims := jwt.RegisteredClaims{}
	if expiresAt != nil {
		claims.ExpiresAt = jwt.NewNumericDate(*expiresAt)
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tok
}

func TestIsExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name  string
		token string
		want  bool
	}{
		{name: "future exp is not expired", token: signedToken(t, &future), want: false},
		{name: "past exp is expired", token: signedToken(t, &past), want: true},
		{name: "no exp claim is not expired", token: signedToken(t, nil), want: false},
		{name: "garbage is treated as expired", token: "not-a-jwt", want: true},
		{name: "empty is treated as expired", token: "", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsExpired(tt.token, now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}
