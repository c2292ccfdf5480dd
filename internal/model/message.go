package model

type Message struct {
	ID        string         `json:"id"`
	UserID    string         `json:"user_id"`
	ChannelID *string        `json:"channel_id,omitempty"`
	ReplyToID *string        `json:"reply_to_id,omitempty"`
	ParentID  *string        `json:"parent_id,omitempty"`
	IsPinned  bool           `json:"is_pinned"`
	PinnedAt  *int64         `json:"pinned_at,omitempty"`
	PinnedBy  *string        `json:"pinned_by,omitempty"`
	Content   string         `json:"content"`
	Data      map[string]any `json:"data,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`
}

// ReactionGroup — агрегированная реакция: эмодзи, кто поставил, сколько.
type ReactionGroup struct {
	Name  string   `json:"name"`
	Users []string `json:"users"`
	Count int      `json:"count"`
}

type MessageReaction struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	MessageID string `json:"message_id"`
	Name      string `json:"name"`
	CreatedAt int64  `json:"created_at"`
}

// MessageDetail — сообщение с автором, цитатой, реакциями и сводкой треда.
type MessageDetail struct {
	Message
	User          *UserPublic     `json:"user,omitempty"`
	ReplyTo       *MessageDetail  `json:"reply_to_message,omitempty"`
	Reactions     []ReactionGroup `json:"reactions"`
	ReplyCount    int             `json:"reply_count"`
	LatestReplyAt *int64          `json:"latest_reply_at,omitempty"`
}

// MessageForm — форма постинга/редактирования сообщения.
type MessageForm struct {
	Content   string         `json:"content"`
	ReplyToID *string        `json:"reply_to_id,omitempty"`
	ParentID  *string        `json:"parent_id,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
}

// ShallowMerge возвращает копию existing с ключами из patch поверх.
// Вложенные значения не сливаются: значение из patch замещает целиком.
func ShallowMerge(existing, patch map[string]any) map[string]any {
	if patch == nil {
		return existing
	}
	out := make(map[string]any, len(existing)+len(patch))
	for k, v := range existing {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}
