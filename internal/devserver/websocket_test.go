package devserver_test

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/kaiwa-app/kaiwa-client/internal/api"
	"github.com/kaiwa-app/kaiwa-client/internal/devserver"
	"github.com/kaiwa-app/kaiwa-client/internal/models"
	"github.com/kaiwa-app/kaiwa-client/internal/realtime"
)

// collector は受信イベントをためこむHandler実装です
type collector struct {
	mu       sync.Mutex
	messages []models.Message
	joined   []realtime.Presence
	left     []realtime.Presence
	typing   []realtime.TypingEvent
}

func (c *collector) OnNewMessage(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *collector) OnUserJoined(p realtime.Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joined = append(c.joined, p)
}

func (c *collector) OnUserLeft(p realtime.Presence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.left = append(c.left, p)
}

func (c *collector) OnUserTyping(ev realtime.TypingEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.typing = append(c.typing, ev)
}

func (c *collector) messageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *collector) lastMessage() models.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.messages[len(c.messages)-1]
}

func (c *collector) joinedCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.joined)
}

func (c *collector) leftCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.left)
}

func (c *collector) typingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.typing)
}

func (c *collector) firstJoined() realtime.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joined[0]
}

func (c *collector) firstLeft() realtime.Presence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.left[0]
}

func (c *collector) firstTyping() realtime.TypingEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.typing[0]
}

// waitFor は条件が満たされるまでポーリングします（WebSocketの配送は非同期のため）
func waitFor(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

// wsTestUser はREST登録とWebSocket接続を済ませた1ユーザー分の一式です
type wsTestUser struct {
	user   models.User
	client *api.Client
	conn   *realtime.Conn
	events *collector
}

func newWSTestUser(t *testing.T, ts *httptest.Server, email, username string) *wsTestUser {
	t.Helper()
	ctx := context.Background()

	var token string
	client := api.NewClient(ts.URL, func() string { return token })
	res, err := client.Register(ctx, email, username, "secret123")
	if err != nil {
		t.Fatalf("Register(%s) unexpected error: %v", username, err)
	}
	token = res.AccessToken

	conn := realtime.Dial("ws://"+ts.Listener.Addr().String()+"/ws", token)
	t.Cleanup(conn.Close)
	events := &collector{}
	conn.SetHandler(events)

	return &wsTestUser{user: res.User, client: client, conn: conn, events: events}
}

// postAndWait は自分でメッセージを送って自分に返ってくるまで待ちます
// （それまでのjoinRoom等のフレームがサーバーで処理済みであることの同期点になります）
func (u *wsTestUser) postAndWait(t *testing.T, roomId, content string) {
	t.Helper()
	before := u.events.messageCount()
	u.conn.SendMessage(roomId, content)
	waitFor(t, "own message echo for "+content, func() bool {
		return u.events.messageCount() > before
	})
}

func TestWebSocketRoomChannel(t *testing.T) {
	store := devserver.NewMemStore()
	tokens := devserver.NewTokenManager("test-secret", time.Hour)
	svc := devserver.NewService(store, tokens)
	ts := httptest.NewServer(devserver.NewRouter(devserver.NewHandler(svc), devserver.NewWSHandler(svc), nil))
	t.Cleanup(ts.Close)
	ctx := context.Background()

	alice := newWSTestUser(t, ts, "alice@example.com", "alice")
	bob := newWSTestUser(t, ts, "bob@example.com", "bobby")

	room, err := alice.client.CreateRoom(ctx, "general")
	if err != nil {
		t.Fatalf("CreateRoom() unexpected error: %v", err)
	}
	if err := bob.client.JoinRoom(ctx, room.Id); err != nil {
		t.Fatalf("JoinRoom() unexpected error: %v", err)
	}

	// アリスが先にチャネルに参加し終えたことを往復で確認してからボブが参加する
	alice.conn.JoinRoom(room.Id)
	alice.postAndWait(t, room.Id, "setup")
	bob.conn.JoinRoom(room.Id)

	// 既存の参加者にはuserJoinedが届き、参加した本人には届かないこと
	waitFor(t, "alice to see bob join", func() bool { return alice.events.joinedCount() > 0 })
	if p := alice.events.firstJoined(); p.UserId != bob.user.Id {
		t.Fatalf("userJoined = %+v, want bob", p)
	}
	if bob.events.joinedCount() != 0 {
		t.Fatal("bob should not receive his own userJoined")
	}

	// メッセージは送信者を含む全参加者に届くこと
	bob.postAndWait(t, room.Id, "hello")
	waitFor(t, "alice to receive bob's message", func() bool { return alice.events.messageCount() >= 2 })
	got := alice.events.lastMessage()
	if got.Content != "hello" || got.UserId != bob.user.Id || got.Username != "bobby" {
		t.Fatalf("newMessage = %+v, want hello from bobby", got)
	}
	own := bob.events.lastMessage()
	if own.Id != got.Id {
		t.Fatalf("sender echo id = %q, want %q (same persisted message)", own.Id, got.Id)
	}

	// 入力状態は送信者以外にだけ届くこと
	bob.conn.SendTyping(room.Id, true)
	waitFor(t, "alice to see bob typing", func() bool { return alice.events.typingCount() > 0 })
	ev := alice.events.firstTyping()
	if ev.UserId != bob.user.Id || ev.Username != "bobby" || !ev.IsTyping {
		t.Fatalf("userTyping = %+v, want bobby typing", ev)
	}
	if bob.events.typingCount() != 0 {
		t.Fatal("bob should not receive his own typing event")
	}

	// 退出は残りの参加者に通知されること
	bob.conn.LeaveRoom(room.Id)
	waitFor(t, "alice to see bob leave", func() bool { return alice.events.leftCount() > 0 })
	if p := alice.events.firstLeft(); p.UserId != bob.user.Id {
		t.Fatalf("userLeft = %+v, want bob", p)
	}

	// 退出後のイベントは届かないこと
	alice.postAndWait(t, room.Id, "after leave")
	time.Sleep(50 * time.Millisecond)
	if bob.events.messageCount() != 1 {
		t.Fatalf("bob message count after leave = %d, want 1", bob.events.messageCount())
	}
}

func TestWebSocketRejectsNonMemberJoin(t *testing.T) {
	store := devserver.NewMemStore()
	tokens := devserver.NewTokenManager("test-secret", time.Hour)
	svc := devserver.NewService(store, tokens)
	ts := httptest.NewServer(devserver.NewRouter(devserver.NewHandler(svc), devserver.NewWSHandler(svc), nil))
	t.Cleanup(ts.Close)
	ctx := context.Background()

	alice := newWSTestUser(t, ts, "alice@example.com", "alice")
	mallory := newWSTestUser(t, ts, "mallory@example.com", "mallory")

	room, err := alice.client.CreateRoom(ctx, "private")
	if err != nil {
		t.Fatalf("CreateRoom() unexpected error: %v", err)
	}

	alice.conn.JoinRoom(room.Id)
	alice.postAndWait(t, room.Id, "setup")

	// RESTで参加していないユーザーのチャネル購読は黙って拒否される
	mallory.conn.JoinRoom(room.Id)
	mallory.conn.SendMessage(room.Id, "sneaky")

	alice.postAndWait(t, room.Id, "still private")
	time.Sleep(50 * time.Millisecond)
	if alice.events.joinedCount() != 0 {
		t.Fatal("non-member join should not be announced")
	}
	// 拒否されたユーザーのメッセージは配信も永続化もされないこと
	detail, err := alice.client.GetRoom(ctx, room.Id)
	if err != nil {
		t.Fatalf("GetRoom() unexpected error: %v", err)
	}
	for _, m := range detail.Messages {
		if m.Content == "sneaky" {
			t.Fatal("message from rejected client must not be persisted")
		}
	}
	if mallory.events.messageCount() != 0 {
		t.Fatal("rejected client should receive nothing")
	}
}

func TestWebSocketRejectsBadToken(t *testing.T) {
	store := devserver.NewMemStore()
	tokens := devserver.NewTokenManager("test-secret", time.Hour)
	svc := devserver.NewService(store, tokens)
	ts := httptest.NewServer(devserver.NewRouter(devserver.NewHandler(svc), devserver.NewWSHandler(svc), nil))
	t.Cleanup(ts.Close)

	conn := realtime.Dial("ws://"+ts.Listener.Addr().String()+"/ws", "not-a-token")
	t.Cleanup(conn.Close)

	// 接続は確立されないまま（再接続試行を続けるだけ）
	time.Sleep(100 * time.Millisecond)
	if conn.State() == realtime.StateConnected {
		t.Fatal("connection with invalid token must not be established")
	}
}
