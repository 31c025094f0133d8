package handlers

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/ytakahashi/veo-lists/internal/store"
)

var (
	listsPattern      = regexp.MustCompile(`^リスト(一覧)?$`)
	addListPattern    = regexp.MustCompile(`^リスト追加[\s　]+[「"]?([^」"]+)[」"]?$`)
	renameListPattern = regexp.MustCompile(`^リスト名変更[\s　]+(\d+)[\s　]+[「"]?([^」"]+)[」"]?$`)
	deleteListPattern = regexp.MustCompile(`^リスト削除[\s　]+(\d+)$`)
	openListPattern   = regexp.MustCompile(`^開く[\s　]+(\d+)$`)
	itemsPattern      = regexp.MustCompile(`^一覧$`)
	addItemPattern    = regexp.MustCompile(`^追加[\s　]+[「"]?([^」"]+)[」"]?$`)
	renameItemPattern = regexp.MustCompile(`^変更[\s　]+(\d+)[\s　]+[「"]?([^」"]+)[」"]?$`)
	completePattern   = regexp.MustCompile(`^(完了|未完了)[\s　]+(\d+)$`)
	deleteItemPattern = regexp.MustCompile(`^削除[\s　]+(\d+)$`)
	undoPattern       = regexp.MustCompile(`^元に戻す$`)
	helpPattern       = regexp.MustCompile(`^ヘルプ$`)
)

// fullWidthDigits maps full-width digits typed on Japanese keyboards.
var fullWidthDigits = strings.NewReplacer(
	"０", "0", "１", "1", "２", "2", "３", "3", "４", "4",
	"５", "5", "６", "6", "７", "7", "８", "8", "９", "9",
)

const noListOpen = "リストが開かれていません。\n「リスト」で一覧を表示し、「開く <番号>」でリストを開いてください。"

func (h *WebhookHandler) handleTextMessage(ctx context.Context, replyToken, userID, text string) error {
	if userID == "" {
		return nil
	}
	text = fullWidthDigits.Replace(strings.TrimSpace(text))
	h.logger.Debug("received text", "user_id", userID, "text", text)

	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	if helpPattern.MatchString(text) {
		return h.showHelp(replyToken)
	}

	err := h.withSession(ctx, userID, func(sess *store.Session) error {
		switch {
		case listsPattern.MatchString(text):
			return h.refreshLists(ctx, replyToken, sess)
		case addListPattern.MatchString(text):
			m := addListPattern.FindStringSubmatch(text)
			return h.addList(ctx, replyToken, sess, m[1])
		case renameListPattern.MatchString(text):
			m := renameListPattern.FindStringSubmatch(text)
			return h.renameList(ctx, replyToken, sess, number(m[1]), m[2])
		case deleteListPattern.MatchString(text):
			m := deleteListPattern.FindStringSubmatch(text)
			return h.askDeleteListConfirmation(replyToken, sess, number(m[1]))
		case openListPattern.MatchString(text):
			m := openListPattern.FindStringSubmatch(text)
			return h.openList(ctx, replyToken, sess, number(m[1]))
		case itemsPattern.MatchString(text):
			return h.refreshItems(ctx, replyToken, sess)
		case addItemPattern.MatchString(text):
			m := addItemPattern.FindStringSubmatch(text)
			return h.addItem(ctx, replyToken, sess, m[1])
		case renameItemPattern.MatchString(text):
			m := renameItemPattern.FindStringSubmatch(text)
			return h.renameItem(ctx, replyToken, sess, number(m[1]), m[2])
		case completePattern.MatchString(text):
			m := completePattern.FindStringSubmatch(text)
			return h.setDone(ctx, replyToken, sess, number(m[2]), m[1] == "完了")
		case deleteItemPattern.MatchString(text):
			m := deleteItemPattern.FindStringSubmatch(text)
			return h.deleteItem(ctx, replyToken, sess, number(m[1]))
		case undoPattern.MatchString(text):
			return h.undo(ctx, replyToken, sess)
		}
		// 認識できないメッセージには応答しない
		return nil
	})
	return h.replyLoadFailure(replyToken, err)
}

// replyLoadFailure answers when the user's lists could not be loaded.
// Other errors are reply failures and are passed through.
func (h *WebhookHandler) replyLoadFailure(replyToken string, err error) error {
	var opErr *store.OpError
	if errors.As(err, &opErr) {
		return h.replyMessage(replyToken, failure(err))
	}
	return err
}

func (h *WebhookHandler) handlePostback(ctx context.Context, replyToken, userID, data string) error {
	if userID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, replyTimeout)
	defer cancel()

	parts := strings.Split(data, ":")
	err := h.withSession(ctx, userID, func(sess *store.Session) error {
		switch parts[0] {
		case "delete_list":
			if len(parts) != 3 {
				return nil
			}
			return h.handleDeleteListConfirmation(ctx, replyToken, sess, parts[2], parts[1] == "yes")
		case "undo":
			return h.undo(ctx, replyToken, sess)
		}
		return nil
	})
	return h.replyLoadFailure(replyToken, err)
}

// number parses a 1-based position typed by the user. Out of range values
// become positions the stores skip.
func number(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// failure is the reply for a failed operation.
func failure(err error) string {
	var opErr *store.OpError
	if !errors.As(err, &opErr) {
		return "処理に失敗しました。しばらくしてからもう一度お試しください。"
	}
	switch opErr.Kind {
	case store.KindValidation:
		return "空のテキストは登録できません。"
	case store.KindNotFound:
		return "対象が見つかりませんでした。「リスト」または「一覧」で最新の状態を確認してください。"
	}
	what := map[store.Action]string{
		store.ActionLoad:    "読み込み",
		store.ActionRename:  "名前の変更",
		store.ActionInsert:  "追加",
		store.ActionDelete:  "削除",
		store.ActionUndo:    "取り消し",
		store.ActionSetDone: "完了処理",
	}[opErr.Action]
	scope := "アイテム"
	if opErr.Scope == "list" {
		scope = "リスト"
	}
	return fmt.Sprintf("%sの%sに失敗しました。", scope, what)
}

// wait blocks until op settled. Skipped ops report ok=false.
func wait(ctx context.Context, op *store.Op) (ok bool, err error) {
	res, err := op.Wait(ctx)
	if err != nil {
		return false, err
	}
	return !res.Skipped, nil
}

// refreshLists reloads the lists so changes made elsewhere show up.
func (h *WebhookHandler) refreshLists(ctx context.Context, replyToken string, sess *store.Session) error {
	if _, err := sess.Lists().Load(ctx); err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	return h.showLists(replyToken, sess)
}

func (h *WebhookHandler) showLists(replyToken string, sess *store.Session) error {
	lists := sess.Lists().Lists()
	if len(lists) == 0 {
		return h.replyMessage(replyToken, "リストはまだありません。\n例: リスト追加 買い物")
	}
	lines := make([]string, 0, len(lists))
	for i, l := range lists {
		lines = append(lines, fmt.Sprintf("%d. %s", i+1, l.Name))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("📋 リスト一覧 (%d件)\n\n%s", len(lists), strings.Join(lines, "\n")))
}

func (h *WebhookHandler) addList(ctx context.Context, replyToken string, sess *store.Session, name string) error {
	name = strings.TrimSpace(name)
	if _, err := wait(ctx, sess.Lists().Insert(ctx, name)); err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✅ リスト「%s」を追加しました。", name))
}

func (h *WebhookHandler) renameList(ctx context.Context, replyToken string, sess *store.Session, n int, name string) error {
	ok, err := wait(ctx, sess.Lists().Rename(ctx, n-1, name))
	if err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	if !ok {
		return h.replyMessage(replyToken, fmt.Sprintf("%d番のリストは変更されませんでした。", n))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✏️ リスト名を「%s」に変更しました。", strings.TrimSpace(name)))
}

func (h *WebhookHandler) askDeleteListConfirmation(replyToken string, sess *store.Session, n int) error {
	lists := sess.Lists().Lists()
	if n < 1 || n > len(lists) {
		return h.replyMessage(replyToken, fmt.Sprintf("%d番のリストは見つかりませんでした。", n))
	}
	list := lists[n-1]
	message := quickReply(
		fmt.Sprintf("⚠️ リスト「%s」とその中のアイテムをすべて削除しますか？", list.Name),
		postback("はい", "delete_list:yes:"+list.ID),
		postback("いいえ", "delete_list:no:"+list.ID),
	)
	return h.reply(replyToken, message)
}

func (h *WebhookHandler) handleDeleteListConfirmation(ctx context.Context, replyToken string, sess *store.Session, listID string, yes bool) error {
	if !yes {
		return h.replyMessage(replyToken, "リストの削除をキャンセルしました。")
	}
	lists := sess.Lists().Lists()
	pos := -1
	for i, l := range lists {
		if l.ID == listID {
			pos = i
			break
		}
	}
	if pos < 0 {
		return h.replyMessage(replyToken, "リストはすでに削除されています。")
	}
	if cur := sess.Current(); cur != nil && cur.ListID() == listID {
		sess.CloseList()
	}
	// The user confirmed through the quick reply.
	if _, err := wait(ctx, sess.Lists().Delete(ctx, pos, store.Confirmed)); err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("🗑️ リスト「%s」を削除しました。", lists[pos].Name))
}

func (h *WebhookHandler) openList(ctx context.Context, replyToken string, sess *store.Session, n int) error {
	lists := sess.Lists().Lists()
	if n < 1 || n > len(lists) {
		return h.replyMessage(replyToken, fmt.Sprintf("%d番のリストは見つかりませんでした。", n))
	}
	items, err := sess.Open(ctx, lists[n-1].ID)
	if items != nil {
		go h.drain("item", sess.UserID(), items.Errors())
	}
	if err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	return h.showItems(replyToken, sess)
}

func (h *WebhookHandler) refreshItems(ctx context.Context, replyToken string, sess *store.Session) error {
	items := sess.Current()
	if items == nil {
		return h.replyMessage(replyToken, noListOpen)
	}
	if _, err := items.Load(ctx); err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	return h.showItems(replyToken, sess)
}

func (h *WebhookHandler) showItems(replyToken string, sess *store.Session) error {
	items := sess.Current()
	if items == nil {
		return h.replyMessage(replyToken, noListOpen)
	}
	list, _ := sess.Lists().Get(items.ListID())
	all := items.Items()
	if len(all) == 0 {
		return h.replyMessage(replyToken, fmt.Sprintf("「%s」にアイテムはありません。\n例: 追加 牛乳", list.Name))
	}
	lines := make([]string, 0, len(all))
	for i, item := range all {
		mark := "⬜"
		if item.Done {
			mark = "✅"
		}
		lines = append(lines, fmt.Sprintf("%d. %s %s", i+1, mark, item.Text))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("📝 %s (%d件)\n\n%s", list.Name, len(all), strings.Join(lines, "\n")))
}

func (h *WebhookHandler) addItem(ctx context.Context, replyToken string, sess *store.Session, text string) error {
	items := sess.Current()
	if items == nil {
		return h.replyMessage(replyToken, noListOpen)
	}
	text = strings.TrimSpace(text)
	if _, err := wait(ctx, items.Insert(ctx, text)); err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✅ 「%s」を追加しました。", text))
}

func (h *WebhookHandler) renameItem(ctx context.Context, replyToken string, sess *store.Session, n int, text string) error {
	items := sess.Current()
	if items == nil {
		return h.replyMessage(replyToken, noListOpen)
	}
	ok, err := wait(ctx, items.Rename(ctx, n-1, text))
	if err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	if !ok {
		return h.replyMessage(replyToken, fmt.Sprintf("%d番のアイテムは変更されませんでした。", n))
	}
	return h.replyMessage(replyToken, fmt.Sprintf("✏️ %d番を「%s」に変更しました。", n, strings.TrimSpace(text)))
}

func (h *WebhookHandler) setDone(ctx context.Context, replyToken string, sess *store.Session, n int, done bool) error {
	items := sess.Current()
	if items == nil {
		return h.replyMessage(replyToken, noListOpen)
	}
	ok, err := wait(ctx, items.SetDone(ctx, n-1, done))
	if err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	if !ok {
		return h.replyMessage(replyToken, fmt.Sprintf("%d番のアイテムは変更されませんでした。", n))
	}
	if done {
		return h.replyMessage(replyToken, "🎉 アイテムを完了しました！")
	}
	return h.replyMessage(replyToken, "アイテムを未完了に戻しました。")
}

func (h *WebhookHandler) deleteItem(ctx context.Context, replyToken string, sess *store.Session, n int) error {
	items := sess.Current()
	if items == nil {
		return h.replyMessage(replyToken, noListOpen)
	}
	ok, err := wait(ctx, items.Delete(ctx, n-1))
	if err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	if !ok {
		return h.replyMessage(replyToken, fmt.Sprintf("%d番のアイテムは見つかりませんでした。", n))
	}
	rec, pending := items.PendingUndo()
	if !pending {
		return h.replyMessage(replyToken, "🗑️ アイテムを削除しました。")
	}
	message := quickReply(
		fmt.Sprintf("🗑️ 「%s」を削除しました。", rec.Item.Text),
		postback("元に戻す", "undo"),
	)
	return h.reply(replyToken, message)
}

func (h *WebhookHandler) undo(ctx context.Context, replyToken string, sess *store.Session) error {
	items := sess.Current()
	if items == nil {
		return h.replyMessage(replyToken, noListOpen)
	}
	rec, pending := items.PendingUndo()
	ok, err := wait(ctx, items.Undo(ctx))
	if err != nil {
		return h.replyMessage(replyToken, failure(err))
	}
	if !ok || !pending {
		return h.replyMessage(replyToken, "元に戻せる削除はありません。")
	}
	return h.replyMessage(replyToken, fmt.Sprintf("↩️ 「%s」を元に戻しました。", rec.Item.Text))
}

func (h *WebhookHandler) showHelp(replyToken string) error {
	helpText := `📝 リスト Bot 使い方

📋 リスト:
・リスト（一覧を表示）
・リスト追加 <名前>
・リスト名変更 <番号> <名前>
・リスト削除 <番号>
・開く <番号>

🛒 開いているリストのアイテム:
・一覧
・追加 <テキスト>
・変更 <番号> <テキスト>
・完了 <番号> / 未完了 <番号>
・削除 <番号>
・元に戻す（削除の直後のみ）

❓ ヘルプ表示:
・ヘルプ

💡 その他:
・新しいアイテムはいちばん上に追加されます
・番号は全角でも入力できます`

	return h.replyMessage(replyToken, helpText)
}
