package room

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/kaiwa-app/kaiwa-client/internal/models"
	"github.com/kaiwa-app/kaiwa-client/internal/realtime"
)

// fakeClock はテストから時間を進められるClock実装です
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	f       func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, when: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasPending := !t.fired && !t.stopped
	t.stopped = true
	return wasPending
}

// Advance は時間をdだけ進め、期限が来たタイマーを発火させます
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.fired && !t.stopped && !t.when.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()

	// コールバックはロックの外で呼ぶ
	for _, t := range due {
		t.f()
	}
}

func newTypingTestView(t *testing.T) (*View, *fakeChannel, *fakeClock) {
	t.Helper()
	loader := newFakeLoader()
	loader.details["r1"] = models.RoomDetail{Room: models.Room{Id: "r1"}}
	ch := &fakeChannel{}
	clock := newFakeClock()
	v := NewView(loader, ch, selfUser, time.Second, clock)
	if err := v.Activate(context.Background(), "r1"); err != nil {
		t.Fatalf("Activate() unexpected error: %v", err)
	}
	return v, ch, clock
}

func TestTypingDebounceBurst(t *testing.T) {
	v, ch, clock := newTypingTestView(t)

	// 1000ms以内の連続キー入力
	for i := 0; i < 5; i++ {
		v.InputChanged()
		clock.Advance(100 * time.Millisecond)
	}

	got := ch.eventsOf(realtime.EventTyping)
	if len(got) != 1 || !got[0].isTyping {
		t.Fatalf("typing events during burst = %v, want exactly one typing(true)", got)
	}

	// 最後のキー入力から1000ms経過でtyping(false)が1回だけ出ること
	// （ループ内で既に100ms進んでいる）
	clock.Advance(899 * time.Millisecond)
	if got := ch.eventsOf(realtime.EventTyping); len(got) != 1 {
		t.Fatalf("typing(false) fired too early: %v", got)
	}
	clock.Advance(time.Millisecond)

	got = ch.eventsOf(realtime.EventTyping)
	if len(got) != 2 || got[1].isTyping {
		t.Fatalf("typing events after debounce = %v, want [true, false]", got)
	}

	// それ以上は何も出ないこと
	clock.Advance(5 * time.Second)
	if got := ch.eventsOf(realtime.EventTyping); len(got) != 2 {
		t.Fatalf("typing events after idle = %v, want exactly 2", got)
	}
}

func TestSubmitEmitsTypingFalseBeforeSend(t *testing.T) {
	v, ch, clock := newTypingTestView(t)

	v.InputChanged()
	v.SendMessage("hello") // デバウンスタイマーの発火前に送信

	events := ch.all()
	var relevant []emitted
	for _, e := range events {
		if e.typ == realtime.EventTyping || e.typ == realtime.EventSendMessage {
			relevant = append(relevant, e)
		}
	}
	if len(relevant) != 3 {
		t.Fatalf("events = %v, want [typing(true), typing(false), sendMessage]", relevant)
	}
	if relevant[0].typ != realtime.EventTyping || !relevant[0].isTyping {
		t.Fatalf("first event = %v, want typing(true)", relevant[0])
	}
	if relevant[1].typ != realtime.EventTyping || relevant[1].isTyping {
		t.Fatalf("second event = %v, want typing(false) before the send frame", relevant[1])
	}
	if relevant[2].typ != realtime.EventSendMessage || relevant[2].content != "hello" {
		t.Fatalf("third event = %v, want sendMessage(hello)", relevant[2])
	}

	// タイマーが後から発火しても2つ目のtyping(false)は出ないこと
	clock.Advance(2 * time.Second)
	if got := ch.eventsOf(realtime.EventTyping); len(got) != 2 {
		t.Fatalf("typing events after timer expiry = %v, want exactly 2", got)
	}
}

func TestSubmitWithoutTypingEmitsNoTypingFalse(t *testing.T) {
	v, ch, _ := newTypingTestView(t)

	// 入力中通知を出していない状態での送信
	v.SendMessage("hello")

	if got := ch.eventsOf(realtime.EventTyping); len(got) != 0 {
		t.Fatalf("typing events = %v, want none", got)
	}
	if got := ch.eventsOf(realtime.EventSendMessage); len(got) != 1 {
		t.Fatalf("sendMessage events = %v, want exactly one", got)
	}
}

func TestDeactivateStopsTyping(t *testing.T) {
	v, ch, clock := newTypingTestView(t)

	v.InputChanged()
	v.Deactivate()

	got := ch.eventsOf(realtime.EventTyping)
	if len(got) != 2 || got[1].isTyping {
		t.Fatalf("typing events = %v, want [true, false] (leaving must clear typing state)", got)
	}

	clock.Advance(2 * time.Second)
	if got := ch.eventsOf(realtime.EventTyping); len(got) != 2 {
		t.Fatalf("typing events after deactivate = %v, want exactly 2", got)
	}
}
