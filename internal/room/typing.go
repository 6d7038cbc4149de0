package room

import (
	"sync"
	"time"
)

// Emitter はアクティブなルームのチャネルへイベントを送出します
// *realtime.Conn がこのインターフェースを満たします
type Emitter interface {
	JoinRoom(roomId string)
	LeaveRoom(roomId string)
	SendMessage(roomId, content string)
	SendTyping(roomId string, isTyping bool)
}

// typingNotifier は入力中通知のデバウンスを担当します
// キー入力のたびに InputChanged を呼ぶと、最初の1回だけ typing(true) を送出し、
// 最後の入力からdelay経過後に typing(false) を送出します
type typingNotifier struct {
	mu     sync.Mutex
	emit   Emitter
	roomId string
	clock  Clock
	delay  time.Duration
	timer  Timer
	active bool // 現在「入力中」を通知済みかどうか
}

func newTypingNotifier(emit Emitter, roomId string, delay time.Duration, clock Clock) *typingNotifier {
	return &typingNotifier{emit: emit, roomId: roomId, clock: clock, delay: delay}
}

// InputChanged はキー入力があったことを通知します
// 未通知であれば typing(true) を送出し、停止タイマーを（再）設定します
func (t *typingNotifier) InputChanged() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.active {
		t.active = true
		t.emit.SendTyping(t.roomId, true)
	}
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.clock.AfterFunc(t.delay, t.expire)
}

// expire はデバウンスタイマーの発火時に typing(false) を送出します
func (t *typingNotifier) expire() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.timer = nil
	if t.active {
		t.active = false
		t.emit.SendTyping(t.roomId, false)
	}
}

// Stop はタイマーを止め、「入力中」を通知済みであれば直ちに typing(false) を送出します
// メッセージ送信時とルームの非アクティブ化時に呼ばれます
func (t *typingNotifier) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.active {
		t.active = false
		t.emit.SendTyping(t.roomId, false)
	}
}
