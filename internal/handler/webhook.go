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

// WebhookHandler — токены для постинга в канал от имени интеграций.
// Входящий POST /api/webhook/{token} аутентифицируется самим токеном.
type WebhookHandler struct {
	guard
	webhooks *repository.WebhookRepository
	chat     *chat.Service
}

func NewWebhookHandler(channels *repository.ChannelRepository, users *repository.UserRepository, webhooks *repository.WebhookRepository, chatSvc *chat.Service) *WebhookHandler {
	return &WebhookHandler{
		guard:    guard{channels: channels, users: users},
		webhooks: webhooks,
		chat:     chatSvc,
	}
}

func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
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
	list, err := h.webhooks.ListByChannel(r.Context(), channel.ID)
	if err != nil {
		logger.Errorf("webhook list: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// CreateWebhookRequest — имя и аватар интеграции.
type CreateWebhookRequest struct {
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// CreateWebhookResponse отдаёт токен единственный раз — при создании.
type CreateWebhookResponse struct {
	model.ChannelWebhook
	Token string `json:"token"`
}

func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
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
	var req CreateWebhookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "name required")
		return
	}
	hook := &model.ChannelWebhook{
		ID:              uuid.New().String(),
		ChannelID:       channel.ID,
		UserID:          user.ID,
		Name:            req.Name,
		ProfileImageURL: req.ProfileImageURL,
	}
	if err := h.webhooks.Create(r.Context(), hook); err != nil {
		logger.Errorf("webhook create: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create webhook")
		return
	}
	writeJSON(w, http.StatusOK, CreateWebhookResponse{ChannelWebhook: *hook, Token: hook.Token})
}

func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
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
	if err := h.webhooks.Delete(r.Context(), chi.URLParam(r, "wid")); err != nil {
		logger.Errorf("webhook delete: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// InboundRequest — тело входящего поста от интеграции.
type InboundRequest struct {
	Content string         `json:"content"`
	Data    map[string]any `json:"data,omitempty"`
}

// Inbound постит сообщение в канал по токену. Сообщение идёт от имени
// пользователя, создавшего webhook, с именем интеграции в meta.
func (h *WebhookHandler) Inbound(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")
	hook, err := h.webhooks.GetByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "webhook not found")
			return
		}
		logger.Errorf("webhook inbound %s: %v", middleware.MaskToken(token), err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	var req InboundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	channel, err := h.channels.GetByID(r.Context(), hook.ChannelID)
	if err != nil {
		writeError(w, http.StatusNotFound, "channel not found")
		return
	}
	owner, err := h.users.GetByID(r.Context(), hook.UserID)
	if err != nil {
		logger.Errorf("webhook inbound owner %s: %v", middleware.MaskToken(token), err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	form := &model.MessageForm{
		Content: req.Content,
		Data:    req.Data,
		Meta: map[string]any{
			"webhook_id":        hook.ID,
			"webhook_name":      hook.Name,
			"profile_image_url": hook.ProfileImageURL,
		},
	}
	detail, err := h.chat.PostMessage(r.Context(), channel, owner, form)
	if err != nil {
		logger.Errorf("webhook inbound post %s: %v", middleware.MaskToken(token), err)
		writeError(w, http.StatusBadRequest, "failed to post message")
		return
	}
	writeJSON(w, http.StatusOK, detail)
}
