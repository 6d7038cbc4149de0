package room

import "time"

// Clock は時刻とタイマーの取得元です
// テストで偽のクロックに差し替えられるようにするための最小限のインターフェースです
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer は停止可能なタイマーです
type Timer interface {
	// Stop はタイマーを停止します。発火を防げた場合にtrueを返します
	Stop() bool
}

// systemClock は time パッケージをそのまま使う実装です
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock は実時間のクロックを返します
func SystemClock() Clock { return systemClock{} }
