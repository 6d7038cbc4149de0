// kaiwaチャットのターミナルクライアント
//
// 使い方:
//
//	chat                     # 保存済みトークンがあればセッションを復元
//	KAIWA_API_URL=... chat   # 接続先の指定
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kaiwa-app/kaiwa-client/internal/api"
	"github.com/kaiwa-app/kaiwa-client/internal/config"
	"github.com/kaiwa-app/kaiwa-client/internal/logger"
	"github.com/kaiwa-app/kaiwa-client/internal/models"
	"github.com/kaiwa-app/kaiwa-client/internal/room"
	"github.com/kaiwa-app/kaiwa-client/internal/session"
	"github.com/kaiwa-app/kaiwa-client/internal/tokenstore"
)

func main() {
	defer logger.Sync()
	cfg := config.Load()

	tokens, err := tokenstore.Open(cfg.TokenDBPath)
	if err != nil {
		logger.Error("failed to open token store", zap.Error(err))
		os.Exit(1)
	}
	defer tokens.Close()

	sess := session.New(cfg, tokens, nil)
	in := bufio.NewScanner(os.Stdin)
	ctx := context.Background()

	// 保存済みトークンからの復元を試みる（起動時に1回だけ）
	if sess.Restore(ctx) {
		user, _ := sess.Identity()
		fmt.Printf("おかえりなさい、%s さん\n", user.Username)
	} else if !authPrompt(ctx, sess, in) {
		return
	}

	roomsLoop(ctx, cfg, sess, in)
	sess.Logout()
}

// authPrompt はログインまたは新規登録が成功するまで入力を促します
func authPrompt(ctx context.Context, sess *session.Store, in *bufio.Scanner) bool {
	for {
		fmt.Print("ログイン(l) / 新規登録(r) / 終了(q): ")
		if !in.Scan() {
			return false
		}
		switch strings.TrimSpace(in.Text()) {
		case "l":
			email := prompt(in, "メールアドレス: ")
			password := prompt(in, "パスワード: ")
			if err := sess.Login(ctx, email, password); err != nil {
				printAuthError(err)
				continue
			}
			return true
		case "r":
			email := prompt(in, "メールアドレス: ")
			username := prompt(in, "ユーザー名（3文字以上）: ")
			password := prompt(in, "パスワード（6文字以上）: ")
			if err := sess.Register(ctx, email, username, password); err != nil {
				printAuthError(err)
				continue
			}
			return true
		case "q":
			return false
		}
	}
}

// roomsLoop はルーム一覧の表示と選択を繰り返します
func roomsLoop(ctx context.Context, cfg config.Config, sess *session.Store, in *bufio.Scanner) {
	for {
		rooms, err := sess.API().ListRooms(ctx)
		if err != nil {
			fmt.Println("ルーム一覧を取得できませんでした:", err)
			return
		}
		user, _ := sess.Identity()

		fmt.Println("--- チャットルーム ---")
		for i, r := range rooms {
			marker := " "
			if isMember(r, user.Id) {
				marker = "*"
			}
			fmt.Printf("%s %2d) %s (%d人)\n", marker, i+1, r.Name, len(r.Members))
		}
		fmt.Print("番号で入室 / /create <名前> / /logout / /quit: ")
		if !in.Scan() {
			return
		}
		line := strings.TrimSpace(in.Text())

		switch {
		case line == "/quit":
			return
		case line == "/logout":
			sess.Logout()
			if !authPrompt(ctx, sess, in) {
				return
			}
		case strings.HasPrefix(line, "/create "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/create "))
			r, err := sess.API().CreateRoom(ctx, name)
			if err != nil {
				fmt.Println("ルームを作成できませんでした:", err)
				continue
			}
			chatLoop(ctx, cfg, sess, in, r.Id)
		default:
			idx, err := strconv.Atoi(line)
			if err != nil || idx < 1 || idx > len(rooms) {
				continue
			}
			r := rooms[idx-1]
			if !isMember(r, user.Id) {
				if err := sess.API().JoinRoom(ctx, r.Id); err != nil {
					fmt.Println("ルームに参加できませんでした:", err)
					continue
				}
			}
			chatLoop(ctx, cfg, sess, in, r.Id)
		}
	}
}

// chatLoop は1つのルームでの送受信を担当します
func chatLoop(ctx context.Context, cfg config.Config, sess *session.Store, in *bufio.Scanner, roomId string) {
	conn := sess.Conn()
	if conn == nil {
		fmt.Println("サーバーに接続されていません")
		return
	}
	user, _ := sess.Identity()

	view := room.NewView(sess.API(), conn, user, cfg.TypingDebounce, nil)
	defer view.Deactivate()

	printer := &printer{view: view}
	view.SetOnChange(printer.render)

	if err := view.Activate(ctx, roomId); err != nil {
		fmt.Println("ルームを読み込めませんでした:", err)
		return
	}

	r := view.Room()
	fmt.Printf("=== %s (%d人) === (/leave で退室)\n", r.Name, view.MemberCount())
	printer.render()

	for {
		if !in.Scan() {
			return
		}
		line := in.Text()
		if strings.TrimSpace(line) == "/leave" {
			return
		}
		view.SendMessage(line)
	}
}

// printer は新着メッセージと入力中表示を描画します
type printer struct {
	mu      sync.Mutex
	view    *room.View
	printed int // 表示済みメッセージ数
}

func (p *printer) render() {
	p.mu.Lock()
	defer p.mu.Unlock()

	msgs := p.view.Messages()
	for _, m := range msgs[min(p.printed, len(msgs)):] {
		name := m.Username
		if p.view.IsOwn(m) {
			name = "自分"
		}
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), name, m.Content)
	}
	p.printed = len(msgs)

	if typing := p.view.TypingUsernames(); len(typing) > 0 {
		fmt.Printf("(%s さんが入力中...)\n", strings.Join(typing, ", "))
	}
}

func prompt(in *bufio.Scanner, label string) string {
	fmt.Print(label)
	if !in.Scan() {
		return ""
	}
	return strings.TrimSpace(in.Text())
}

func printAuthError(err error) {
	var authErr *api.AuthError
	if errors.As(err, &authErr) {
		fmt.Println("認証エラー:", authErr.Message)
		return
	}
	fmt.Println("エラー:", err)
}

func isMember(r models.Room, userId string) bool {
	for _, m := range r.Members {
		if m.UserId == userId {
			return true
		}
	}
	return false
}
