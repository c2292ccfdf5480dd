package handler

import (
	"encoding/json"
	"net/http"

	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/repository"
)

// UserHandler — настройки текущего пользователя (в т.ч. webhook_url
// для офлайн-уведомлений).
type UserHandler struct {
	users *repository.UserRepository
}

func NewUserHandler(users *repository.UserRepository) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, middleware.GetUser(r.Context()))
}

func (h *UserHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	settings := user.Settings
	if settings == nil {
		settings = map[string]any{}
	}
	writeJSON(w, http.StatusOK, settings)
}

// UpdateSettings заменяет настройки целиком (фронт шлёт полный документ).
func (h *UserHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	var settings map[string]any
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := h.users.UpdateSettings(r.Context(), user.ID, settings); err != nil {
		logger.Errorf("user settings: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to update settings")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}
