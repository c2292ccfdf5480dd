package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

func TestInsertAutoJoinsAuthor(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a)

	// b не участник; постинг вступает в канал в той же транзакции
	postMessage(t, ch.ID, b.ID, "hello", nil)

	m, err := channels.GetMember(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if m.Status != model.MemberStatusJoined || !m.IsActive {
		t.Fatalf("author membership: status=%s active=%v", m.Status, m.IsActive)
	}
}

func TestThreadReplySummary(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	c := createUser(t, "carol")
	ch := createGroup(t, a, b.ID, c.ID)

	root := postMessage(t, ch.ID, b.ID, "root", nil)

	list, err := messages.ListChannel(ctx, ch.ID, 0, 50)
	if err != nil {
		t.Fatalf("ListChannel: %v", err)
	}
	if len(list) != 1 || list[0].ID != root.ID {
		t.Fatalf("ListChannel = %d items, want the single root", len(list))
	}
	if list[0].ReplyCount != 0 || list[0].LatestReplyAt != nil {
		t.Fatalf("fresh root: reply_count=%d latest=%v", list[0].ReplyCount, list[0].LatestReplyAt)
	}

	reply := postMessage(t, ch.ID, c.ID, "reply", &root.ID)

	list, err = messages.ListChannel(ctx, ch.ID, 0, 50)
	if err != nil {
		t.Fatalf("ListChannel: %v", err)
	}
	// Ответ треда не появляется на верхнем уровне
	if len(list) != 1 {
		t.Fatalf("ListChannel = %d items, thread replies must stay out", len(list))
	}
	if list[0].ReplyCount != 1 {
		t.Fatalf("reply_count = %d, want 1", list[0].ReplyCount)
	}
	if list[0].LatestReplyAt == nil || *list[0].LatestReplyAt != reply.CreatedAt {
		t.Fatalf("latest_reply_at = %v, want %d", list[0].LatestReplyAt, reply.CreatedAt)
	}
	if list[0].User == nil || list[0].User.ID != b.ID {
		t.Fatalf("root author = %v, want %s", list[0].User, b.ID)
	}
}

func TestListThreadAppendsParentWhenPageUnderFull(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	ch := createGroup(t, a)

	root := postMessage(t, ch.ID, a.ID, "root", nil)
	r1 := postMessage(t, ch.ID, a.ID, "r1", &root.ID)
	r2 := postMessage(t, ch.ID, a.ID, "r2", &root.ID)

	// Неполная страница: ответы новые-первыми, корень добавлен в конец
	page, err := messages.ListThread(ctx, root.ID, 0, 10)
	if err != nil {
		t.Fatalf("ListThread: %v", err)
	}
	if len(page) != 3 {
		t.Fatalf("page = %d items, want replies + parent", len(page))
	}
	if page[0].ID != r2.ID || page[1].ID != r1.ID || page[2].ID != root.ID {
		t.Fatalf("page order = [%s %s %s]", page[0].ID, page[1].ID, page[2].ID)
	}

	// Полная страница корень не включает
	page, err = messages.ListThread(ctx, root.ID, 0, 2)
	if err != nil {
		t.Fatalf("ListThread full page: %v", err)
	}
	if len(page) != 2 || page[0].ID != r2.ID || page[1].ID != r1.ID {
		t.Fatalf("full page must hold replies only, got %d items", len(page))
	}

	// Последняя (пустая) страница отдаёт только корень
	page, err = messages.ListThread(ctx, root.ID, 2, 2)
	if err != nil {
		t.Fatalf("ListThread tail: %v", err)
	}
	if len(page) != 1 || page[0].ID != root.ID {
		t.Fatalf("tail page must hold the parent only, got %d items", len(page))
	}
}

func TestListThreadAllIsOldestFirst(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	ch := createGroup(t, a)

	root := postMessage(t, ch.ID, a.ID, "root", nil)
	r1 := postMessage(t, ch.ID, a.ID, "r1", &root.ID)
	r2 := postMessage(t, ch.ID, a.ID, "r2", &root.ID)

	all, err := messages.ListThreadAll(ctx, root.ID)
	if err != nil {
		t.Fatalf("ListThreadAll: %v", err)
	}
	if len(all) != 3 || all[0].ID != root.ID || all[1].ID != r1.ID || all[2].ID != r2.ID {
		t.Fatalf("ListThreadAll order broken: %d items", len(all))
	}
}

func TestReactionsAreIdempotentPerTuple(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a, b.ID)
	msg := postMessage(t, ch.ID, a.ID, "react to me", nil)

	first, err := messages.AddReaction(ctx, msg.ID, a.ID, "🎉")
	if err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	second, err := messages.AddReaction(ctx, msg.ID, a.ID, "🎉")
	if err != nil {
		t.Fatalf("AddReaction repeat: %v", err)
	}
	if first.ID != second.ID {
		t.Fatal("repeated reaction must return the existing row")
	}

	if _, err := messages.AddReaction(ctx, msg.ID, b.ID, "🎉"); err != nil {
		t.Fatalf("AddReaction other user: %v", err)
	}

	groups, err := messages.ReactionGroups(ctx, msg.ID)
	if err != nil {
		t.Fatalf("ReactionGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Name != "🎉" || groups[0].Count != 2 || len(groups[0].Users) != 2 {
		t.Fatalf("groups = %+v, want one 🎉 group with two users", groups)
	}

	if err := messages.RemoveReaction(ctx, msg.ID, a.ID, "🎉"); err != nil {
		t.Fatalf("RemoveReaction: %v", err)
	}
	// Удаление отсутствующего кортежа — не ошибка
	if err := messages.RemoveReaction(ctx, msg.ID, a.ID, "🎉"); err != nil {
		t.Fatalf("RemoveReaction repeat: %v", err)
	}
	groups, err = messages.ReactionGroups(ctx, msg.ID)
	if err != nil {
		t.Fatalf("ReactionGroups: %v", err)
	}
	if len(groups) != 1 || groups[0].Count != 1 {
		t.Fatalf("groups after remove = %+v", groups)
	}
}

func TestDeleteMessageRemovesReactions(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	ch := createGroup(t, a)
	msg := postMessage(t, ch.ID, a.ID, "bye", nil)

	if _, err := messages.AddReaction(ctx, msg.ID, a.ID, "👋"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	if err := messages.Delete(ctx, msg.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := messages.GetByID(ctx, msg.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("message must be gone, err = %v", err)
	}
	var n int
	if err := testPool.QueryRow(ctx,
		`SELECT COUNT(*) FROM message_reaction WHERE message_id = $1`, msg.ID).Scan(&n); err != nil {
		t.Fatalf("count reactions: %v", err)
	}
	if n != 0 {
		t.Fatalf("reactions left behind: %d", n)
	}
}

func TestUpdateMergesDataAndMeta(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	ch := createGroup(t, a)

	msg := &model.Message{
		ID:        uuid.New().String(),
		UserID:    a.ID,
		ChannelID: &ch.ID,
		Content:   "with data",
		Data:      map[string]any{"files": []any{"a.png"}},
		Meta:      map[string]any{"model_id": "gpt-x"},
	}
	if err := messages.Insert(ctx, msg); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	updated, err := messages.Update(ctx, msg.ID, &model.MessageForm{
		Content: "edited",
		Meta:    map[string]any{"done": true},
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Content != "edited" {
		t.Fatalf("content = %q", updated.Content)
	}
	// Отсутствующие в форме ключи сохраняются
	if _, ok := updated.Data["files"]; !ok {
		t.Fatalf("data lost on update: %v", updated.Data)
	}
	if updated.Meta["model_id"] != "gpt-x" || updated.Meta["done"] != true {
		t.Fatalf("meta = %v, want merged keys", updated.Meta)
	}
	if updated.UpdatedAt <= msg.CreatedAt {
		t.Fatal("updated_at must advance")
	}
}

func TestPinAndListPinned(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	ch := createGroup(t, a)

	first := postMessage(t, ch.ID, a.ID, "pin me first", nil)
	second := postMessage(t, ch.ID, a.ID, "pin me second", nil)

	if _, err := messages.SetPinned(ctx, first.ID, true, a.ID); err != nil {
		t.Fatalf("SetPinned: %v", err)
	}
	pinned, err := messages.SetPinned(ctx, second.ID, true, a.ID)
	if err != nil {
		t.Fatalf("SetPinned: %v", err)
	}
	if !pinned.IsPinned || pinned.PinnedAt == nil || pinned.PinnedBy == nil || *pinned.PinnedBy != a.ID {
		t.Fatalf("pinned = %+v", pinned)
	}

	list, err := messages.ListPinned(ctx, ch.ID, 0, 50)
	if err != nil {
		t.Fatalf("ListPinned: %v", err)
	}
	// Свежезакреплённые первыми
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("ListPinned order broken: %d items", len(list))
	}

	unpinned, err := messages.SetPinned(ctx, first.ID, false, a.ID)
	if err != nil {
		t.Fatalf("SetPinned off: %v", err)
	}
	if unpinned.IsPinned || unpinned.PinnedAt != nil || unpinned.PinnedBy != nil {
		t.Fatalf("unpinned = %+v", unpinned)
	}
}

func TestGetDetailExpandsQuoteOneLevel(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a, b.ID)

	quoted := postMessage(t, ch.ID, a.ID, "quote me", nil)
	reply := &model.Message{
		ID:        uuid.New().String(),
		UserID:    b.ID,
		ChannelID: &ch.ID,
		ReplyToID: &quoted.ID,
		Content:   "quoting",
	}
	if err := messages.Insert(ctx, reply); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	d, err := messages.GetDetail(ctx, reply.ID)
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if d.ReplyTo == nil || d.ReplyTo.ID != quoted.ID {
		t.Fatalf("reply_to = %v, want %s", d.ReplyTo, quoted.ID)
	}
	if d.ReplyTo.User == nil || d.ReplyTo.User.ID != a.ID {
		t.Fatal("quoted message must carry its author")
	}

	// Цитата на удалённое сообщение просто опускается
	if err := messages.Delete(ctx, quoted.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	d, err = messages.GetDetail(ctx, reply.ID)
	if err != nil {
		t.Fatalf("GetDetail after delete: %v", err)
	}
	if d.ReplyTo != nil {
		t.Fatal("dangling quote must be dropped, not fail")
	}
}
