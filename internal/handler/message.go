package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/channelhub/internal/access"
	"github.com/channelhub/internal/chat"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/repository"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

type MessageHandler struct {
	guard
	messages *repository.MessageRepository
	chat     *chat.Service
}

func NewMessageHandler(channels *repository.ChannelRepository, users *repository.UserRepository, messages *repository.MessageRepository, chatSvc *chat.Service) *MessageHandler {
	return &MessageHandler{
		guard:    guard{channels: channels, users: users},
		messages: messages,
		chat:     chatSvc,
	}
}

func pageParams(r *http.Request) (skip, limit int) {
	skip = queryInt(r, "skip", 0)
	if skip < 0 {
		skip = 0
	}
	limit = queryInt(r, "limit", defaultPageLimit)
	if limit <= 0 {
		limit = defaultPageLimit
	}
	if limit > maxPageLimit {
		limit = maxPageLimit
	}
	return skip, limit
}

// channelMessage достаёт сообщение и проверяет, что оно лежит в канале из пути.
// Чужой channel_id — это not found, не forbidden: не палим существование.
func (h *MessageHandler) channelMessage(r *http.Request, channelID string) (*model.Message, error) {
	m, err := h.messages.GetByID(r.Context(), chi.URLParam(r, "mid"))
	if err != nil {
		return nil, err
	}
	if m.ChannelID == nil || *m.ChannelID != channelID {
		return nil, repository.ErrNotFound
	}
	return m, nil
}

// List возвращает top-level сообщения канала, новые первыми.
func (h *MessageHandler) List(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	skip, limit := pageParams(r)
	list, err := h.messages.ListChannel(r.Context(), channel.ID, skip, limit)
	if err != nil {
		logger.Errorf("message list: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Post сохраняет сообщение и синхронно рассылает событие; ответы моделей и
// уведомления идут в фоне и не задерживают ответ.
func (h *MessageHandler) Post(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionWrite)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	var form model.MessageForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	detail, err := h.chat.PostMessage(r.Context(), channel, user, &form)
	if err != nil {
		logger.Errorf("message post: %v", err)
		writeError(w, http.StatusBadRequest, "failed to post message")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *MessageHandler) Get(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	if _, err := h.channelMessage(r, channel.ID); err != nil {
		writeMessageError(w, err)
		return
	}
	detail, err := h.messages.GetDetail(r.Context(), chi.URLParam(r, "mid"))
	if err != nil {
		writeMessageError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// Thread возвращает ответы треда; на неполной странице к выдаче добавляется
// корневое сообщение.
func (h *MessageHandler) Thread(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	m, err := h.channelMessage(r, channel.ID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	skip, limit := pageParams(r)
	list, err := h.messages.ListThread(r.Context(), m.ID, skip, limit)
	if err != nil {
		logger.Errorf("message thread: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *MessageHandler) Pinned(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	skip, limit := pageParams(r)
	list, err := h.messages.ListPinned(r.Context(), channel.ID, skip, limit)
	if err != nil {
		logger.Errorf("message pinned: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Update разрешён автору либо менеджеру канала.
func (h *MessageHandler) Update(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionWrite)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	m, err := h.channelMessage(r, channel.ID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	if m.UserID != user.ID {
		if ok, err := h.canManage(r.Context(), user, channel); err != nil || !ok {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}
	var form model.MessageForm
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	detail, err := h.chat.UpdateMessage(r.Context(), channel, m.ID, &form, user)
	if err != nil {
		logger.Errorf("message update: %v", err)
		writeError(w, http.StatusBadRequest, "failed to update message")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// PinRequest — тело pin/unpin.
type PinRequest struct {
	IsPinned bool `json:"is_pinned"`
}

func (h *MessageHandler) Pin(w http.ResponseWriter, r *http.Request) {
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
	m, err := h.channelMessage(r, channel.ID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	var req PinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	detail, err := h.chat.SetPinned(r.Context(), channel, m.ID, req.IsPinned, user)
	if err != nil {
		logger.Errorf("message pin: %v", err)
		writeError(w, http.StatusBadRequest, "failed to pin message")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// ReactionRequest — emoji-имя реакции.
type ReactionRequest struct {
	Name string `json:"name"`
}

func (h *MessageHandler) AddReaction(w http.ResponseWriter, r *http.Request) {
	h.reaction(w, r, h.chat.AddReaction)
}

func (h *MessageHandler) RemoveReaction(w http.ResponseWriter, r *http.Request) {
	h.reaction(w, r, h.chat.RemoveReaction)
}

func (h *MessageHandler) reaction(w http.ResponseWriter, r *http.Request, apply func(ctx context.Context, channel *model.Channel, messageID string, user *model.User, name string) error) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionRead)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	m, err := h.channelMessage(r, channel.ID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	var req ReactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	if err := apply(r.Context(), channel, m.ID, user, req.Name); err != nil {
		logger.Errorf("message reaction: %v", err)
		writeError(w, http.StatusBadRequest, "failed to update reaction")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// Delete удаляет сообщение вместе с реакциями; ответы треда остаются
// с висячим parent_id и резолвятся в not found.
func (h *MessageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	channel, err := h.channelAccess(r.Context(), user, chi.URLParam(r, "id"), access.PermissionWrite)
	if err != nil {
		writeAccessError(w, err)
		return
	}
	m, err := h.channelMessage(r, channel.ID)
	if err != nil {
		writeMessageError(w, err)
		return
	}
	if m.UserID != user.ID {
		if ok, err := h.canManage(r.Context(), user, channel); err != nil || !ok {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
	}
	if err := h.chat.DeleteMessage(r.Context(), channel, m, user); err != nil {
		logger.Errorf("message delete: %v", err)
		writeError(w, http.StatusBadRequest, "failed to delete message")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func writeMessageError(w http.ResponseWriter, err error) {
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "message not found")
		return
	}
	logger.Errorf("message lookup: %v", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}
