package model

type ChannelType string

const (
	ChannelTypeStandard ChannelType = "standard"
	ChannelTypeGroup    ChannelType = "group"
	ChannelTypeDM       ChannelType = "dm"
)

// MembershipGated сообщает, закрыт ли канал для всех, кроме участников.
// Для остальных типов доступ решает access_control-политика.
func (t ChannelType) MembershipGated() bool {
	return t == ChannelTypeGroup || t == ChannelTypeDM
}

type Channel struct {
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Type          ChannelType    `json:"type"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	IsPrivate     bool           `json:"is_private"`
	Data          map[string]any `json:"data,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	AccessControl map[string]any `json:"access_control,omitempty"`
	CreatedAt     int64          `json:"created_at"`
	UpdatedAt     int64          `json:"updated_at"`
	UpdatedBy     *string        `json:"updated_by,omitempty"`
	ArchivedAt    *int64         `json:"archived_at,omitempty"`
	ArchivedBy    *string        `json:"archived_by,omitempty"`
	DeletedAt     *int64         `json:"deleted_at,omitempty"`
	DeletedBy     *string        `json:"deleted_by,omitempty"`
}

type MemberRole string

const (
	MemberRoleMember  MemberRole = "member"
	MemberRoleManager MemberRole = "manager"
)

type MemberStatus string

const (
	MemberStatusJoined MemberStatus = "joined"
	MemberStatusLeft   MemberStatus = "left"
)

type ChannelMember struct {
	ID              string         `json:"id"`
	ChannelID       string         `json:"channel_id"`
	UserID          string         `json:"user_id"`
	Role            MemberRole     `json:"role"`
	Status          MemberStatus   `json:"status"`
	IsActive        bool           `json:"is_active"`
	IsChannelMuted  bool           `json:"is_channel_muted"`
	IsChannelPinned bool           `json:"is_channel_pinned"`
	Data            map[string]any `json:"data,omitempty"`
	Meta            map[string]any `json:"meta,omitempty"`
	InvitedAt       *int64         `json:"invited_at,omitempty"`
	InvitedBy       *string        `json:"invited_by,omitempty"`
	JoinedAt        *int64         `json:"joined_at,omitempty"`
	LeftAt          *int64         `json:"left_at,omitempty"`
	LastReadAt      *int64         `json:"last_read_at,omitempty"`
	CreatedAt       int64          `json:"created_at"`
	UpdatedAt       int64          `json:"updated_at"`
}

// ChannelForm — форма создания/обновления канала.
type ChannelForm struct {
	Type          ChannelType    `json:"type"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	IsPrivate     bool           `json:"is_private"`
	Data          map[string]any `json:"data,omitempty"`
	Meta          map[string]any `json:"meta,omitempty"`
	AccessControl map[string]any `json:"access_control,omitempty"`
	UserIDs       []string       `json:"user_ids,omitempty"`
	GroupIDs      []string       `json:"group_ids,omitempty"`
}

// ChannelWithMeta — канал, обогащённый состоянием участника для выдачи в списках.
type ChannelWithMeta struct {
	Channel
	UnreadCount     int    `json:"unread_count"`
	IsChannelMuted  bool   `json:"is_channel_muted"`
	IsChannelPinned bool   `json:"is_channel_pinned"`
	LastReadAt      *int64 `json:"last_read_at,omitempty"`
}

// ChannelWebhook — токен для постинга в канал от имени бота/интеграции.
type ChannelWebhook struct {
	ID              string `json:"id"`
	ChannelID       string `json:"channel_id"`
	UserID          string `json:"user_id"`
	Name            string `json:"name"`
	ProfileImageURL string `json:"profile_image_url"`
	Token           string `json:"-"`
	LastUsedAt      *int64 `json:"last_used_at,omitempty"`
	CreatedAt       int64  `json:"created_at"`
	UpdatedAt       int64  `json:"updated_at"`
}
