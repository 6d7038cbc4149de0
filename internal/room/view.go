// Package room はアクティブな1ルームのビュー状態を管理します
// スナップショット取得・受信イベント・ユーザー入力の3つの入力源を、
// 描画可能な1つの一貫した状態（メッセージ列・参加者・入力中ユーザー）に統合します
package room

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kaiwa-app/kaiwa-client/internal/models"
	"github.com/kaiwa-app/kaiwa-client/internal/realtime"
)

// Status はルームビューの状態です
type Status int

const (
	StatusIdle    Status = iota // 非アクティブ（ルーム未選択）
	StatusLoading               // スナップショット取得中
	StatusActive                // スナップショット適用済み・ライブ
	StatusFailed                // スナップショット取得失敗（このアクティベーションでは終端）
)

// Loader はルームのスナップショットを取得します
// *api.Client がこのインターフェースを満たします
type Loader interface {
	GetRoom(ctx context.Context, id string) (models.RoomDetail, error)
}

// Channel はルームスコープのイベントの送出と購読を提供します
// *realtime.Conn がこのインターフェースを満たします
type Channel interface {
	Emitter
	SetHandler(h realtime.Handler)
	ClearHandler()
}

// pendingEvent はスナップショット適用前に届いたイベントのバッファエントリです
// スナップショット適用後に到着順で再適用されます
type pendingEvent struct {
	msg    *models.Message
	joined *realtime.Presence
	left   *realtime.Presence
	typing *realtime.TypingEvent
}

// View は1つのアクティブなルームのビュー状態です
// 同時にアクティブにできるルームは1つだけです
type View struct {
	loader      Loader
	ch          Channel
	self        models.User // 自分のアイデンティティ（自他の区別用）
	clock       Clock
	typingDelay time.Duration

	mu       sync.Mutex
	gen      uint64 // アクティベーション世代。古い世代のスナップショットとイベントは破棄される
	status   Status
	roomId   string
	room     models.Room
	messages []models.Message
	seen     map[string]struct{} // 受信済みメッセージID（重複排除用）
	typing   map[string]string   // userId → username（入力中のユーザー）
	pending  []pendingEvent
	notifier *typingNotifier
	onChange func()
}

// NewView は新しいルームビューを作成します
// clockがnilの場合は実時間のクロックを使用します
func NewView(loader Loader, ch Channel, self models.User, typingDelay time.Duration, clock Clock) *View {
	if clock == nil {
		clock = SystemClock()
	}
	return &View{
		loader:      loader,
		ch:          ch,
		self:        self,
		clock:       clock,
		typingDelay: typingDelay,
		seen:        map[string]struct{}{},
		typing:      map[string]string{},
	}
}

// SetOnChange は状態変化時に呼ばれるコールバックを登録します
// コールバックはロックの外で呼ばれます
func (v *View) SetOnChange(f func()) {
	v.mu.Lock()
	v.onChange = f
	v.mu.Unlock()
}

// Activate はルームをアクティブにします
// イベント購読はスナップショットの完了を待たずに確立されます。
// スナップショット適用前に届いたイベントはバッファされ、適用後に再適用されます。
// 別のルームがアクティブな場合、その状態はすべて破棄されます。
// スナップショット取得に失敗した場合は *api.LoadError が返り、ビューは失敗状態になります
func (v *View) Activate(ctx context.Context, roomId string) error {
	v.mu.Lock()
	if prev := v.notifier; prev != nil {
		// 前のルームで入力中のままにならないように止める
		v.mu.Unlock()
		prev.Stop()
		v.mu.Lock()
	}
	if v.roomId != "" && v.roomId != roomId {
		v.ch.LeaveRoom(v.roomId)
	}
	v.gen++
	g := v.gen
	v.resetLocked()
	v.status = StatusLoading
	v.roomId = roomId
	v.notifier = newTypingNotifier(v.ch, roomId, v.typingDelay, v.clock)
	v.mu.Unlock()

	// 購読を確立してからスナップショットを取得する
	v.ch.SetHandler(&viewHandler{v: v, gen: g})
	v.ch.JoinRoom(roomId)

	detail, err := v.loader.GetRoom(ctx, roomId)

	v.mu.Lock()
	if v.gen != g {
		// このアクティベーションは破棄済み。遅れて届いたスナップショットは適用しない
		v.mu.Unlock()
		return nil
	}
	if err != nil {
		v.status = StatusFailed
		v.pending = nil
		v.mu.Unlock()
		v.ch.LeaveRoom(roomId)
		v.notifyChange()
		return err
	}

	v.applySnapshotLocked(detail)
	v.mu.Unlock()
	v.notifyChange()
	return nil
}

// Deactivate はルームを非アクティブにします
// ルームチャネルから退出し、ローカルの状態はすべて破棄されます。
// 再アクティブ化では必ず新しいスナップショットを取得し直します
func (v *View) Deactivate() {
	v.mu.Lock()
	if v.status == StatusIdle {
		v.mu.Unlock()
		return
	}
	v.gen++
	roomId := v.roomId
	notifier := v.notifier
	v.resetLocked()
	v.mu.Unlock()

	if notifier != nil {
		notifier.Stop()
	}
	v.ch.LeaveRoom(roomId)
	v.ch.ClearHandler()
	v.notifyChange()
}

// resetLocked はルームごとの状態をすべて初期化します（ロック保持前提）
func (v *View) resetLocked() {
	v.status = StatusIdle
	v.roomId = ""
	v.room = models.Room{}
	v.messages = nil
	v.seen = map[string]struct{}{}
	v.typing = map[string]string{}
	v.pending = nil
	v.notifier = nil
}

// applySnapshotLocked はスナップショットを適用し、バッファ済みイベントを再適用します
func (v *View) applySnapshotLocked(detail models.RoomDetail) {
	v.room = models.Room{
		Id:        detail.Id,
		Name:      detail.Name,
		CreatedAt: detail.CreatedAt,
		Members:   append([]models.RoomMember(nil), detail.Members...),
	}
	v.messages = append([]models.Message(nil), detail.Messages...)
	for _, m := range v.messages {
		v.seen[m.Id] = struct{}{}
	}

	// スナップショット取得中に届いたイベントを到着順で再適用する
	// （スナップショットに含まれていたメッセージは重複排除される）
	for _, ev := range v.pending {
		switch {
		case ev.msg != nil:
			v.appendMessageLocked(*ev.msg)
		case ev.joined != nil:
			v.addMemberLocked(*ev.joined)
		case ev.left != nil:
			v.removeMemberLocked(*ev.left)
		case ev.typing != nil:
			v.applyTypingLocked(*ev.typing)
		}
	}
	v.pending = nil
	v.status = StatusActive
}

// appendMessageLocked はメッセージを追加します（ID重複は破棄）
func (v *View) appendMessageLocked(m models.Message) bool {
	if _, dup := v.seen[m.Id]; dup {
		return false
	}
	v.seen[m.Id] = struct{}{}
	v.messages = append(v.messages, m)
	return true
}

// applyTypingLocked は入力状態を適用します（last-write-wins）
func (v *View) applyTypingLocked(ev realtime.TypingEvent) {
	if ev.IsTyping {
		v.typing[ev.UserId] = ev.Username
	} else {
		delete(v.typing, ev.UserId)
	}
}

// addMemberLocked は参加者を追加します（userIdで一意）
func (v *View) addMemberLocked(p realtime.Presence) {
	for _, m := range v.room.Members {
		if m.UserId == p.UserId {
			return
		}
	}
	v.room.Members = append(v.room.Members, models.RoomMember{UserId: p.UserId, Username: p.Username})
}

// removeMemberLocked は参加者を取り除き、入力中表示も消します
func (v *View) removeMemberLocked(p realtime.Presence) {
	for i, m := range v.room.Members {
		if m.UserId == p.UserId {
			v.room.Members = append(v.room.Members[:i], v.room.Members[i+1:]...)
			break
		}
	}
	delete(v.typing, p.UserId)
}

// viewHandler はアクティベーション世代を束ねた受信イベントの購読者です
// 世代が現在と一致しないイベントは破棄されます
type viewHandler struct {
	v   *View
	gen uint64
}

func (h *viewHandler) OnNewMessage(m models.Message) {
	v := h.v
	v.mu.Lock()
	if h.gen != v.gen || v.status == StatusFailed || v.status == StatusIdle {
		v.mu.Unlock()
		return
	}
	if v.status == StatusLoading {
		v.pending = append(v.pending, pendingEvent{msg: &m})
		v.mu.Unlock()
		return
	}
	changed := v.appendMessageLocked(m)
	v.mu.Unlock()
	if changed {
		v.notifyChange()
	}
}

func (h *viewHandler) OnUserTyping(ev realtime.TypingEvent) {
	v := h.v
	// 自分の入力状態は表示しない
	if ev.UserId == v.self.Id {
		return
	}
	v.mu.Lock()
	if h.gen != v.gen || v.status == StatusFailed || v.status == StatusIdle {
		v.mu.Unlock()
		return
	}
	if v.status == StatusLoading {
		v.pending = append(v.pending, pendingEvent{typing: &ev})
		v.mu.Unlock()
		return
	}
	v.applyTypingLocked(ev)
	v.mu.Unlock()
	v.notifyChange()
}

func (h *viewHandler) OnUserJoined(p realtime.Presence) {
	v := h.v
	v.mu.Lock()
	if h.gen != v.gen || v.status == StatusFailed || v.status == StatusIdle {
		v.mu.Unlock()
		return
	}
	if v.status == StatusLoading {
		v.pending = append(v.pending, pendingEvent{joined: &p})
		v.mu.Unlock()
		return
	}
	v.addMemberLocked(p)
	v.mu.Unlock()
	v.notifyChange()
}

func (h *viewHandler) OnUserLeft(p realtime.Presence) {
	v := h.v
	v.mu.Lock()
	if h.gen != v.gen || v.status == StatusFailed || v.status == StatusIdle {
		v.mu.Unlock()
		return
	}
	if v.status == StatusLoading {
		v.pending = append(v.pending, pendingEvent{left: &p})
		v.mu.Unlock()
		return
	}
	v.removeMemberLocked(p)
	v.mu.Unlock()
	v.notifyChange()
}

// SendMessage はメッセージをアクティブなルームに送信します
// 空白のみの内容は送信しません。送信時は入力中通知を直ちに解除します。
// ローカルへの楽観的な追加は行わず、自分のメッセージもイベントとして
// 往復してから表示されます
func (v *View) SendMessage(content string) {
	if strings.TrimSpace(content) == "" {
		return
	}
	v.mu.Lock()
	if v.status != StatusActive && v.status != StatusLoading {
		v.mu.Unlock()
		return
	}
	roomId := v.roomId
	notifier := v.notifier
	v.mu.Unlock()

	// typing(false) を送信フレームより先に出す
	if notifier != nil {
		notifier.Stop()
	}
	v.ch.SendMessage(roomId, content)
}

// InputChanged は入力欄のキー入力を通知します（入力中通知のデバウンス駆動）
func (v *View) InputChanged() {
	v.mu.Lock()
	notifier := v.notifier
	ok := v.status == StatusActive || v.status == StatusLoading
	v.mu.Unlock()
	if ok && notifier != nil {
		notifier.InputChanged()
	}
}

// Status は現在のビュー状態を返します
func (v *View) Status() Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Room は現在のルーム（メタデータと参加者）のコピーを返します
func (v *View) Room() models.Room {
	v.mu.Lock()
	defer v.mu.Unlock()
	r := v.room
	r.Members = append([]models.RoomMember(nil), v.room.Members...)
	return r
}

// Messages は現在のメッセージ列のコピーを返します（受信順）
func (v *View) Messages() []models.Message {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]models.Message(nil), v.messages...)
}

// MemberCount は現在の参加者数を返します
// 参加・退出イベントでライブに更新されます
func (v *View) MemberCount() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.room.Members)
}

// TypingUsernames は入力中のユーザー名を辞書順で返します
func (v *View) TypingUsernames() []string {
	v.mu.Lock()
	defer v.mu.Unlock()
	names := make([]string, 0, len(v.typing))
	for _, name := range v.typing {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsOwn はメッセージが自分の投稿かどうかを返します
func (v *View) IsOwn(m models.Message) bool {
	return m.UserId == v.self.Id
}

// notifyChange は登録済みのコールバックをロックの外で呼びます
func (v *View) notifyChange() {
	v.mu.Lock()
	f := v.onChange
	v.mu.Unlock()
	if f != nil {
		f()
	}
}
