package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/repository"
	"github.com/channelhub/internal/ws"
)

type WSHandler struct {
	hub            *ws.Hub
	channels       *repository.ChannelRepository
	users          *repository.UserRepository
	allowedOrigins string
}

// NewWSHandler создаёт обработчик WebSocket. allowedOrigins — как в CORS (через запятую или "*").
func NewWSHandler(hub *ws.Hub, channels *repository.ChannelRepository, users *repository.UserRepository, allowedOrigins string) *WSHandler {
	return &WSHandler{hub: hub, channels: channels, users: users, allowedOrigins: strings.TrimSpace(allowedOrigins)}
}

func (h *WSHandler) checkOrigin(r *http.Request) bool {
	if h.allowedOrigins == "*" || h.allowedOrigins == "" {
		return true
	}
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	for _, o := range strings.Split(h.allowedOrigins, ",") {
		if strings.TrimSpace(o) == origin {
			return true
		}
	}
	return false
}

func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	if user == nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if !h.checkOrigin(r) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     func(r *http.Request) bool { return h.checkOrigin(r) },
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Errorf("ws upgrade: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	client := ws.NewClient(h.hub, conn, user.ID)
	client.Start(ctx, cancel)
	h.hub.Register(client)
	h.enterChannelRooms(r.Context(), user.ID)

	gauge := middleware.WSConnectionsGauge()
	gauge.Inc()
	go func() {
		client.Wait()
		gauge.Dec()
	}()
}

// enterChannelRooms заводит переподключившегося пользователя обратно в комнаты
// всех видимых ему каналов: членство в комнате сбрасывается, когда гаснет
// последнее соединение.
func (h *WSHandler) enterChannelRooms(ctx context.Context, userID string) {
	groupIDs, err := h.users.GroupIDs(ctx, userID)
	if err != nil {
		logger.Errorf("ws rooms groups user=%s: %v", userID, err)
		return
	}
	channels, err := h.channels.ListVisible(ctx, userID, groupIDs)
	if err != nil {
		logger.Errorf("ws rooms user=%s: %v", userID, err)
		return
	}
	for i := range channels {
		h.hub.EnterRoom(ws.ChannelRoom(channels[i].ID), userID)
	}
}
