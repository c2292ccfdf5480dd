package handler

import (
	"context"
	"errors"

	"github.com/channelhub/internal/access"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

var (
	errChannelNotFound = errors.New("channel not found")
	errForbidden       = errors.New("forbidden")
)

// guard — общая проверка доступа к каналу для хендлеров. Для group/dm каналов
// доступ определяет членство, для остальных — access_control-политика.
type guard struct {
	channels *repository.ChannelRepository
	users    *repository.UserRepository
}

// channelAccess возвращает канал, если user имеет право perm. Админ проходит всегда.
func (g *guard) channelAccess(ctx context.Context, user *model.User, channelID, perm string) (*model.Channel, error) {
	channel, err := g.channels.GetByID(ctx, channelID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, errChannelNotFound
		}
		return nil, err
	}
	if user.Role == model.RoleAdmin || channel.UserID == user.ID {
		return channel, nil
	}
	if channel.Type.MembershipGated() {
		member, err := g.channels.GetMember(ctx, channelID, user.ID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil, errForbidden
			}
			return nil, err
		}
		if member.Status == model.MemberStatusLeft && perm == access.PermissionWrite {
			return nil, errForbidden
		}
		return channel, nil
	}
	groupIDs, err := g.users.GroupIDs(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if !access.HasAccessNonStrict(user.ID, perm, channel.AccessControl, groupIDs) {
		return nil, errForbidden
	}
	return channel, nil
}

// canManage: владелец, role=manager или админ.
func (g *guard) canManage(ctx context.Context, user *model.User, channel *model.Channel) (bool, error) {
	if user.Role == model.RoleAdmin {
		return true, nil
	}
	return g.channels.IsManager(ctx, channel.ID, user.ID)
}

// memberUnion — {base} ∪ userIDs ∪ участники groupIDs, без дублей.
func (g *guard) memberUnion(ctx context.Context, base string, userIDs, groupIDs []string) ([]string, error) {
	out := make([]string, 0, len(userIDs)+1)
	seen := make(map[string]struct{}, len(userIDs)+1)
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	add(base)
	for _, id := range userIDs {
		add(id)
	}
	if len(groupIDs) > 0 {
		fromGroups, err := g.users.GroupMemberIDs(ctx, groupIDs)
		if err != nil {
			return nil, err
		}
		for _, id := range fromGroups {
			add(id)
		}
	}
	return out, nil
}
