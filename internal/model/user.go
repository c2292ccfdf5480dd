package model

// Роли пользователей. Роль admin открывает административные ручки API.
const (
	RoleAdmin   = "admin"
	RoleUser    = "user"
	RolePending = "pending"
)

type User struct {
	ID              string         `json:"id"`
	Name            string         `json:"name"`
	Email           string         `json:"email"`
	Role            string         `json:"role"`
	ProfileImageURL string         `json:"profile_image_url"`
	Settings        map[string]any `json:"-"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

type UserPublic struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	ProfileImageURL string `json:"profile_image_url"`
}

func (u *User) ToPublic() UserPublic {
	return UserPublic{
		ID:              u.ID,
		Name:            u.Name,
		Role:            u.Role,
		ProfileImageURL: u.ProfileImageURL,
	}
}

// WebhookURL возвращает личный webhook для офлайн-уведомлений (settings.ui.notifications.webhook_url).
func (u *User) WebhookURL() string {
	ui, ok := u.Settings["ui"].(map[string]any)
	if !ok {
		return ""
	}
	n, ok := ui["notifications"].(map[string]any)
	if !ok {
		return ""
	}
	url, _ := n["webhook_url"].(string)
	return url
}

type Group struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}
