package api

// AuthError は認証・登録の失敗を表します
// フォーム上にインライン表示されるエラーで、セッションには影響しません
type AuthError struct {
	Message string // サーバーが返したエラーメッセージ
}

func (e *AuthError) Error() string { return e.Message }

// LoadError はスナップショット取得の失敗を表します
// 該当するルームビューは失敗状態になり、リトライは行いません
type LoadError struct {
	Status  int    // HTTPステータスコード
	Message string // サーバーが返したエラーメッセージ
}

func (e *LoadError) Error() string { return e.Message }

// NotFound はルームが存在しない（または閲覧権限がない）場合にtrueを返します
func (e *LoadError) NotFound() bool { return e.Status == 404 || e.Status == 403 }
