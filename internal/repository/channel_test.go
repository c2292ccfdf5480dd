package repository_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

func TestCreateGroupInsertsAllMembers(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	c := createUser(t, "carol")

	ch := createGroup(t, a, b.ID, c.ID)

	members, err := channels.GetMembers(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetMembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3", len(members))
	}
	for _, m := range members {
		if m.Status != model.MemberStatusJoined || !m.IsActive {
			t.Fatalf("member %s: status=%s active=%v, want joined/active", m.UserID, m.Status, m.IsActive)
		}
		if m.JoinedAt == nil {
			t.Fatalf("member %s: joined_at must be set", m.UserID)
		}
	}
}

func TestFindDMMatchesExactMemberSet(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	c := createUser(t, "carol")

	dm := &model.Channel{ID: uuid.New().String(), UserID: a.ID, Type: model.ChannelTypeDM}
	if err := channels.Create(ctx, dm, []string{a.ID, b.ID}, a.ID); err != nil {
		t.Fatalf("Create dm: %v", err)
	}

	// Точное множество, порядок не важен
	found, err := channels.FindDM(ctx, []string{b.ID, a.ID})
	if err != nil {
		t.Fatalf("FindDM: %v", err)
	}
	if found.ID != dm.ID {
		t.Fatalf("FindDM = %s, want %s", found.ID, dm.ID)
	}

	// Надмножество и подмножество не совпадают
	if _, err := channels.FindDM(ctx, []string{a.ID, b.ID, c.ID}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("FindDM superset: err = %v, want ErrNotFound", err)
	}
	if _, err := channels.FindDM(ctx, []string{a.ID}); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("FindDM subset: err = %v, want ErrNotFound", err)
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a)

	first, err := channels.Join(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	second, err := channels.Join(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("Join again: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeated Join created a new membership: %s != %s", first.ID, second.ID)
	}

	members, err := channels.GetMembers(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetMembers: %v", err)
	}
	if len(members) != 2 {
		t.Fatalf("members = %d, want 2", len(members))
	}
}

func TestLeaveKeepsMembershipRow(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a, b.ID)

	left, err := channels.Leave(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("Leave: %v", err)
	}
	if !left {
		t.Fatal("Leave must report true for an existing membership")
	}

	m, err := channels.GetMember(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("GetMember after leave: %v", err)
	}
	if m.Status != model.MemberStatusLeft || m.IsActive || m.LeftAt == nil {
		t.Fatalf("after leave: status=%s active=%v left_at=%v", m.Status, m.IsActive, m.LeftAt)
	}

	// Выход без членства — не ошибка, просто false
	stranger := createUser(t, "dave")
	left, err = channels.Leave(ctx, ch.ID, stranger.ID)
	if err != nil {
		t.Fatalf("Leave stranger: %v", err)
	}
	if left {
		t.Fatal("Leave must report false without a membership")
	}
}

func TestAddMembersSkipsExisting(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a, b.ID)

	existing, err := channels.GetMember(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}

	c := createUser(t, "carol")
	added, err := channels.AddMembers(ctx, ch.ID, []string{b.ID, c.ID}, a.ID)
	if err != nil {
		t.Fatalf("AddMembers: %v", err)
	}
	if len(added) != 2 {
		t.Fatalf("AddMembers returned %d memberships, want 2", len(added))
	}
	for _, m := range added {
		if m.UserID == b.ID && m.ID != existing.ID {
			t.Fatal("existing membership must survive AddMembers untouched")
		}
	}

	members, err := channels.GetMembers(ctx, ch.ID)
	if err != nil {
		t.Fatalf("GetMembers: %v", err)
	}
	if len(members) != 3 {
		t.Fatalf("members = %d, want 3", len(members))
	}
}

func TestUnreadCountResetsAfterMarkRead(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a, b.ID)

	postMessage(t, ch.ID, b.ID, "first", nil)
	root := postMessage(t, ch.ID, b.ID, "second", nil)
	// Собственные сообщения и ответы в тредах не считаются непрочитанными
	postMessage(t, ch.ID, a.ID, "mine", nil)
	postMessage(t, ch.ID, b.ID, "thread reply", &root.ID)

	m, err := channels.GetMember(ctx, ch.ID, a.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	n, err := messages.UnreadCount(ctx, ch.ID, a.ID, m.LastReadAt)
	if err != nil {
		t.Fatalf("UnreadCount: %v", err)
	}
	if n != 2 {
		t.Fatalf("unread = %d, want 2", n)
	}

	m, err = channels.UpdateLastReadAt(ctx, ch.ID, a.ID)
	if err != nil {
		t.Fatalf("UpdateLastReadAt: %v", err)
	}
	if m.LastReadAt == nil {
		t.Fatal("last_read_at must be set after mark read")
	}
	n, err = messages.UnreadCount(ctx, ch.ID, a.ID, m.LastReadAt)
	if err != nil {
		t.Fatalf("UnreadCount after mark read: %v", err)
	}
	if n != 0 {
		t.Fatalf("unread after mark read = %d, want 0", n)
	}
}

func TestMemberStateFlags(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	ch := createGroup(t, a)

	m, err := channels.SetMemberMuted(ctx, ch.ID, a.ID, true)
	if err != nil {
		t.Fatalf("SetMemberMuted: %v", err)
	}
	if !m.IsChannelMuted {
		t.Fatal("is_channel_muted must be set")
	}
	m, err = channels.SetMemberPinned(ctx, ch.ID, a.ID, true)
	if err != nil {
		t.Fatalf("SetMemberPinned: %v", err)
	}
	if !m.IsChannelPinned {
		t.Fatal("is_channel_pinned must be set")
	}
	m, err = channels.SetMemberActive(ctx, ch.ID, a.ID, false)
	if err != nil {
		t.Fatalf("SetMemberActive: %v", err)
	}
	if m.IsActive {
		t.Fatal("is_active must be cleared")
	}
}

func TestReactivateMembersOnNewMessage(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	c := createUser(t, "carol")
	ch := createGroup(t, a, b.ID, c.ID)

	if _, err := channels.SetMemberActive(ctx, ch.ID, b.ID, false); err != nil {
		t.Fatalf("SetMemberActive: %v", err)
	}
	if ok, err := channels.Leave(ctx, ch.ID, c.ID); err != nil || !ok {
		t.Fatalf("Leave: ok=%v err=%v", ok, err)
	}
	ids, err := channels.MemberIDs(ctx, ch.ID)
	if err != nil {
		t.Fatalf("MemberIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != a.ID {
		t.Fatalf("only alice must stay active, got %v", ids)
	}

	// Новый трафик в группе возвращает диалог скрывшим его участникам
	postMessage(t, ch.ID, a.ID, "anybody home?", nil)
	revived, err := channels.ReactivateMembers(ctx, ch.ID)
	if err != nil {
		t.Fatalf("ReactivateMembers: %v", err)
	}
	if len(revived) != 2 {
		t.Fatalf("expected 2 reactivated members, got %v", revived)
	}
	m, err := channels.GetMember(ctx, ch.ID, b.ID)
	if err != nil {
		t.Fatalf("GetMember: %v", err)
	}
	if !m.IsActive {
		t.Fatal("bob must be active again")
	}
	ids, err = channels.MemberIDs(ctx, ch.ID)
	if err != nil {
		t.Fatalf("MemberIDs: %v", err)
	}
	if len(ids) != 3 {
		t.Fatalf("all members must be notification targets again, got %v", ids)
	}

	// Повтор без неактивных участников — no-op
	revived, err = channels.ReactivateMembers(ctx, ch.ID)
	if err != nil {
		t.Fatalf("ReactivateMembers: %v", err)
	}
	if len(revived) != 0 {
		t.Fatalf("nothing to reactivate, got %v", revived)
	}
}

func TestChannelDeleteCascades(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")
	ch := createGroup(t, a, b.ID)

	root := postMessage(t, ch.ID, a.ID, "root", nil)
	reply := postMessage(t, ch.ID, b.ID, "reply", &root.ID)
	if _, err := messages.AddReaction(ctx, reply.ID, a.ID, "👍"); err != nil {
		t.Fatalf("AddReaction: %v", err)
	}
	hook := &model.ChannelWebhook{ID: uuid.New().String(), ChannelID: ch.ID, UserID: a.ID, Name: "ci"}
	if err := webhooks.Create(ctx, hook); err != nil {
		t.Fatalf("webhooks.Create: %v", err)
	}

	if err := channels.Delete(ctx, ch.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	if _, err := channels.GetByID(ctx, ch.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("channel must be gone, err = %v", err)
	}
	if _, err := messages.GetByID(ctx, root.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("root message must be gone, err = %v", err)
	}
	if _, err := messages.GetByID(ctx, reply.ID); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("thread reply must be gone, err = %v", err)
	}
	var n int
	if err := testPool.QueryRow(ctx,
		`SELECT COUNT(*) FROM channel_member WHERE channel_id = $1`, ch.ID).Scan(&n); err != nil {
		t.Fatalf("count members: %v", err)
	}
	if n != 0 {
		t.Fatalf("memberships left behind: %d", n)
	}
	if _, err := webhooks.GetByToken(ctx, hook.Token); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("webhook must be gone, err = %v", err)
	}
}

func TestListVisibleRespectsAccessControl(t *testing.T) {
	ctx := context.Background()
	a := createUser(t, "alice")
	b := createUser(t, "bob")

	// Открытый канал без политики читают все
	open := &model.Channel{ID: uuid.New().String(), UserID: a.ID, Type: model.ChannelTypeStandard, Name: "open"}
	if err := channels.Create(ctx, open, nil, a.ID); err != nil {
		t.Fatalf("Create open: %v", err)
	}
	// Канал с явным allowlist по пользователям
	restricted := &model.Channel{
		ID: uuid.New().String(), UserID: a.ID, Type: model.ChannelTypeStandard, Name: "restricted",
		AccessControl: map[string]any{
			"read": map[string]any{"user_ids": []any{a.ID}},
		},
	}
	if err := channels.Create(ctx, restricted, nil, a.ID); err != nil {
		t.Fatalf("Create restricted: %v", err)
	}
	// Группа, в которой b не состоит
	createGroup(t, a)

	visible, err := channels.ListVisible(ctx, b.ID, nil)
	if err != nil {
		t.Fatalf("ListVisible: %v", err)
	}
	ids := make(map[string]bool, len(visible))
	for _, c := range visible {
		ids[c.ID] = true
	}
	if !ids[open.ID] {
		t.Fatal("open channel must be visible")
	}
	if ids[restricted.ID] {
		t.Fatal("restricted channel must be hidden from non-listed user")
	}

	// Владелец видит свой канал независимо от политики
	visible, err = channels.ListVisible(ctx, a.ID, nil)
	if err != nil {
		t.Fatalf("ListVisible owner: %v", err)
	}
	found := false
	for _, c := range visible {
		if c.ID == restricted.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("owner must see their restricted channel")
	}
}
