package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/channelhub/internal/access"
	"github.com/channelhub/internal/chat"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

type ChannelHandler struct {
	guard
	messages *repository.MessageRepository
	chat     *chat.Service
}

func NewChannelHandler(channels *repository.ChannelRepository, users *repository.UserRepository, messages *repository.MessageRepository, chatSvc *chat.Service) *ChannelHandler {
	return &ChannelHandler{
		guard:    guard{channels: channels, users: users},
		messages: messages,
		chat:     chatSvc,
	}
}

// writeAccessError переводит ошибки guard в HTTP-статусы.
func writeAccessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errChannelNotFound):
		writeError(w, http.StatusNotFound, "channel not found")
	case errors.Is(err, errForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	default:
		logger.Errorf("channel access: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// List возвращает видимые пользователю каналы с непрочитанным счётчиком
// и состоянием участника.
func (h *ChannelHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	groupIDs, err := h.users.GroupIDs(r.Context(), user.ID)
	if err != nil {
		logger.Errorf("channel list groups: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	channels, err := h.channels.ListVisible(r.Context(), user.ID, groupIDs)
	if err != nil {
		logger.Errorf("channel list: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	out := make([]model.ChannelWithMeta, 0, len(channels))
	for i := range channels {
		ch := model.ChannelWithMeta{Channel: channels[i]}
		member, err := h.channels.GetMember(r.Context(), channels[i].ID, user.ID)
		if err == nil {
			ch.IsChannelMuted = member.IsChannelMuted
			ch.IsChannelPinned = member.IsChannelPinned
			ch.LastReadAt = member.LastReadAt
		} else if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("channel list member %s: %v", channels[i].ID, err)
		}
		unread, err := h.messages.UnreadCount(r.Context(), channels[i].ID, user.ID, ch.LastReadAt)
		if err != nil {
			logger.Errorf("channel list unread %s: %v", channels[i].ID, err)
		}
		ch.UnreadCount = unread
		out = append(out, ch)
	}
	writeJSON(w, http.StatusOK, out)
}

// Create создаёт канал. Для group/dm сразу создаются членства на объединение
// владельца, user_ids и участников group_ids.
func (h *ChannelHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	var form model.ChannelForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if form.Type == model.ChannelTypeDM {
		h.createDM(w, r, user, form.UserIDs, form.GroupIDs)
		return
	}
	if form.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	var memberIDs []string
	if form.Type.MembershipGated() {
		var err error
		memberIDs, err = h.memberUnion(r.Context(), user.ID, form.UserIDs, form.GroupIDs)
		if err != nil {
			logger.Errorf("channel create members: %v", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	channel := channelFromForm(user.ID, &form)
	if err := h.channels.Create(r.Context(), channel, memberIDs, user.ID); err != nil {
		logger.Errorf("channel create: %v", err)
		writeError(w, http.StatusBadRequest, "failed to create channel")
		return
	}
	h.chat.EmitChannelCreated(channel, memberIDs)
	writeJSON(w, http.StatusOK, channel)
}

// DMRequest — поиск-или-создание direct-message канала по набору участников.
type DMRequest struct {
	UserIDs  []string `json:"user_ids"`
	GroupIDs []string `json:"group_ids,omitempty"`
}

func (h *ChannelHandler) DM(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	var req DMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	h.createDM(w, r, user, req.UserIDs, req.GroupIDs)
}

// createDM сперва ищет dm-канал с ровно таким набором участников; повторный
// запрос возвращает существующий канал, а не создаёт дубликат.
func (h *ChannelHandler) createDM(w http.ResponseWriter, r *http.Request, user *model.User, userIDs, groupIDs []string) {
	memberIDs, err := h.memberUnion(r.Context(), user.ID, userIDs, groupIDs)
	if err != nil {
		logger.Errorf("dm members: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if len(memberIDs) < 2 {
		writeError(w, http.StatusBadRequest, "user_ids required")
		return
	}
	existing, err := h.channels.FindDM(r.Context(), memberIDs)
	if err == nil {
		writeJSON(w, http.StatusOK, existing)
		return
	}
	if !errors.Is(err, repository.ErrNotFound) {
		logger.Errorf("dm lookup: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	channel := &model.Channel{
		ID:     uuid.New().String(),
		UserID: user.ID,
		Type:   model.ChannelTypeDM,
	}
	if err := h.channels.Create(r.Context(), channel, memberIDs, user.ID); err != nil {
		logger.Errorf("dm create: %v", err)
		writeError(w, http.StatusBadRequest, "failed to create channel")
		return
	}
	h.chat.EmitChannelCreated(channel, memberIDs)
	writeJSON(w, http.StatusOK, channel)
}

func (h *ChannelHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, channel)
}

func (h *ChannelHandler) Members(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	members, err := h.channels.GetMembers(r.Context(), channel.ID)
	if err != nil {
		logger.Errorf("channel members: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, members)
}

func (h *ChannelHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionWrite)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if ok, err := h.canManage(r.Context(), user, channel); err != nil || !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var form model.ChannelForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	updated, err := h.channels.Update(r.Context(), channel.ID, user.ID, &form)
	if err != nil {
		logger.Errorf("channel update: %v", err)
		writeError(w, http.StatusBadRequest, "failed to update channel")
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// MembersRequest — тело add/remove участников.
type MembersRequest struct {
	UserIDs  []string `json:"user_ids"`
	GroupIDs []string `json:"group_ids,omitempty"`
}

// AddMembers вставляет только дельту: уже состоящие пользователи не трогаются.
func (h *ChannelHandler) AddMembers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionWrite)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if ok, err := h.canManage(r.Context(), user, channel); err != nil || !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req MembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	userIDs, err := h.memberUnion(r.Context(), "", req.UserIDs, req.GroupIDs)
	if err != nil {
		logger.Errorf("channel add members union: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	added, err := h.channels.AddMembers(r.Context(), channel.ID, userIDs, user.ID)
	if err != nil {
		logger.Errorf("channel add members: %v", err)
		writeError(w, http.StatusBadRequest, "failed to add members")
		return
	}
	addedIDs := make([]string, 0, len(added))
	for _, m := range added {
		addedIDs = append(addedIDs, m.UserID)
	}
	h.chat.EmitChannelCreated(channel, addedIDs)
	writeJSON(w, http.StatusOK, added)
}

func (h *ChannelHandler) RemoveMembers(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionWrite)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if ok, err := h.canManage(r.Context(), user, channel); err != nil || !ok {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	var req MembersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.channels.RemoveMembers(r.Context(), channel.ID, req.UserIDs); err != nil {
		logger.Errorf("channel remove members: %v", err)
		writeError(w, http.StatusBadRequest, "failed to remove members")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *ChannelHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionWrite)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if user.Role != model.RoleAdmin && channel.UserID != user.ID {
		writeError(w, http.StatusForbidden, "forbidden")
		return
	}
	if err := h.channels.Delete(r.Context(), channel.ID); err != nil {
		logger.Errorf("channel delete: %v", err)
		writeError(w, http.StatusBadRequest, "failed to delete channel")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// MarkRead двигает last_read_at участника на текущий момент.
func (h *ChannelHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	member, err := h.channels.UpdateLastReadAt(r.Context(), channel.ID, user.ID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "membership not found")
			return
		}
		logger.Errorf("channel mark read: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, member)
}

// MemberStateRequest — переключение персонального состояния участника.
type MemberStateRequest struct {
	Value bool `json:"value"`
}

func (h *ChannelHandler) memberState(w http.ResponseWriter, r *http.Request, apply func(channelID, userID string, v bool) (*model.ChannelMember, error)) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	var req MemberStateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	member, err := apply(channel.ID, user.ID, req.Value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "membership not found")
			return
		}
		logger.Errorf("channel member state: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, member)
}

func (h *ChannelHandler) SetActive(w http.ResponseWriter, r *http.Request) {
	h.memberState(w, r, func(channelID, userID string, v bool) (*model.ChannelMember, error) {
		return h.channels.SetMemberActive(r.Context(), channelID, userID, v)
	})
}

func (h *ChannelHandler) SetMuted(w http.ResponseWriter, r *http.Request) {
	h.memberState(w, r, func(channelID, userID string, v bool) (*model.ChannelMember, error) {
		return h.channels.SetMemberMuted(r.Context(), channelID, userID, v)
	})
}

func (h *ChannelHandler) SetPinned(w http.ResponseWriter, r *http.Request) {
	h.memberState(w, r, func(channelID, userID string, v bool) (*model.ChannelMember, error) {
		return h.channels.SetMemberPinned(r.Context(), channelID, userID, v)
	})
}

// Leave помечает членство как покинутое; строка сохраняется ради истории.
func (h *ChannelHandler) Leave(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	left, err := h.channels.Leave(r.Context(), chi.URLParam(r, "id"), user.ID)
	if err != nil {
		logger.Errorf("channel leave: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": left})
}

func channelFromForm(ownerID string, form *model.ChannelForm) *model.Channel {
	return &model.Channel{
		ID:            uuid.New().String(),
		UserID:        ownerID,
		Type:          form.Type,
		Name:          form.Name,
		Description:   form.Description,
		IsPrivate:     form.IsPrivate,
		Data:          form.Data,
		Meta:          form.Meta,
		AccessControl: form.AccessControl,
	}
}
