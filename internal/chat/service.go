// Package chat связывает репозитории, real-time hub и pipeline генерации:
// постинг и правка сообщений с рассылкой событий, фоновые ответы моделей,
// уведомление офлайн-участников.
package chat

import (
	"context"
	"sync"
	"time"

	"github.com/channelhub/internal/completion"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/pipeline"
	"github.com/channelhub/internal/repository"
	"github.com/channelhub/internal/ws"
	"github.com/google/uuid"
)

// PushNotifier отправляет пуш-уведомления. Если nil — пуши не отправляются.
type PushNotifier interface {
	Notify(ctx context.Context, userID, title, body string, data map[string]string)
}

// WebhookPoster доставляет JSON-уведомление на личный webhook пользователя.
type WebhookPoster interface {
	Post(ctx context.Context, url string, payload any) error
}

const backgroundTimeout = 10 * time.Minute

type Service struct {
	channels    *repository.ChannelRepository
	messages    *repository.MessageRepository
	users       *repository.UserRepository
	hub         *ws.Hub
	registry    *pipeline.Registry
	chain       *pipeline.Chain
	completions *completion.Client
	webhook     WebhookPoster
	push        PushNotifier

	wg sync.WaitGroup
}

func NewService(
	channels *repository.ChannelRepository,
	messages *repository.MessageRepository,
	users *repository.UserRepository,
	hub *ws.Hub,
	registry *pipeline.Registry,
	chain *pipeline.Chain,
	completions *completion.Client,
	webhook WebhookPoster,
	push PushNotifier,
) *Service {
	return &Service{
		channels:    channels,
		messages:    messages,
		users:       users,
		hub:         hub,
		registry:    registry,
		chain:       chain,
		completions: completions,
		webhook:     webhook,
		push:        push,
	}
}

// Wait блокируется до завершения фоновых задач (graceful shutdown).
func (s *Service) Wait() { s.wg.Wait() }

// PostMessage синхронно сохраняет сообщение и рассылает событие, затем в фоне
// запускает ответы моделей и уведомления. Фон никогда не влияет на результат.
func (s *Service) PostMessage(ctx context.Context, channel *model.Channel, user *model.User, form *model.MessageForm) (*model.MessageDetail, error) {
	detail, err := s.insertAndEmit(ctx, channel, user, form)
	if err != nil {
		return nil, err
	}

	msg := detail.Message
	poster := *user
	ch := *channel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logger.Errorf("chat background panic channel=%s message=%s: %v", ch.ID, msg.ID, r)
			}
		}()
		bgCtx, cancel := context.WithTimeout(context.Background(), backgroundTimeout)
		defer cancel()
		s.respondWithModels(bgCtx, &ch, &msg, &poster)
		s.notifyMembers(bgCtx, &ch, &msg, &poster)
	}()

	return detail, nil
}

// insertAndEmit — синхронная часть постинга, используется и для сообщений
// пользователей, и для заготовок ответов моделей.
func (s *Service) insertAndEmit(ctx context.Context, channel *model.Channel, user *model.User, form *model.MessageForm) (*model.MessageDetail, error) {
	m := &model.Message{
		ID:        uuid.New().String(),
		UserID:    user.ID,
		ChannelID: &channel.ID,
		ReplyToID: form.ReplyToID,
		ParentID:  form.ParentID,
		Content:   form.Content,
		Data:      form.Data,
		Meta:      form.Meta,
	}
	if err := s.messages.Insert(ctx, m); err != nil {
		return nil, err
	}
	pub := user.ToPublic()
	room := ws.ChannelRoom(channel.ID)

	// Новое сообщение в group/dm возвращает диалог всем скрывшим его участникам
	if channel.Type.MembershipGated() {
		revived, err := s.channels.ReactivateMembers(ctx, channel.ID)
		if err != nil {
			logger.Errorf("chat reactivate members channel=%s: %v", channel.ID, err)
		} else if len(revived) > 0 {
			s.hub.EnterRoom(room, revived...)
		}
	}

	detail, err := s.messages.GetDetail(ctx, m.ID)
	if err != nil {
		return nil, err
	}

	s.hub.EnterRoom(room, user.ID)
	s.hub.EmitToRoom(room, ws.EventChannel, ws.ChannelEvent{
		ChannelID: channel.ID,
		MessageID: m.ID,
		Data:      ws.EventData{Type: ws.TypeMessage, Data: detail},
		User:      pub,
		Channel:   channel,
	})

	// Сообщение в треде дополнительно обновляет родителя у всех клиентов
	if m.ParentID != nil {
		parent, err := s.messages.GetDetail(ctx, *m.ParentID)
		if err == nil {
			s.hub.EmitToRoom(room, ws.EventChannel, ws.ChannelEvent{
				ChannelID: channel.ID,
				MessageID: parent.ID,
				Data:      ws.EventData{Type: ws.TypeMessageReply, Data: parent},
				User:      pub,
				Channel:   channel,
			})
		} else {
			logger.Errorf("chat emit reply parent=%s: %v", *m.ParentID, err)
		}
	}
	return detail, nil
}

// UpdateMessage меняет содержимое и рассылает message:update.
func (s *Service) UpdateMessage(ctx context.Context, channel *model.Channel, messageID string, form *model.MessageForm, actor *model.User) (*model.MessageDetail, error) {
	if _, err := s.messages.Update(ctx, messageID, form); err != nil {
		return nil, err
	}
	detail, err := s.messages.GetDetail(ctx, messageID)
	if err != nil {
		return nil, err
	}
	ev := ws.ChannelEvent{
		ChannelID: channel.ID,
		MessageID: messageID,
		Data:      ws.EventData{Type: ws.TypeMessageUpdate, Data: detail},
		Channel:   channel,
	}
	if actor != nil {
		ev.User = actor.ToPublic()
	}
	s.hub.EmitToRoom(ws.ChannelRoom(channel.ID), ws.EventChannel, ev)
	return detail, nil
}

// DeleteMessage удаляет сообщение с реакциями и рассылает message:delete.
func (s *Service) DeleteMessage(ctx context.Context, channel *model.Channel, message *model.Message, actor *model.User) error {
	if err := s.messages.Delete(ctx, message.ID); err != nil {
		return err
	}
	ev := ws.ChannelEvent{
		ChannelID: channel.ID,
		MessageID: message.ID,
		Data:      ws.EventData{Type: ws.TypeMessageDelete, Data: message},
		Channel:   channel,
	}
	if actor != nil {
		ev.User = actor.ToPublic()
	}
	s.hub.EmitToRoom(ws.ChannelRoom(channel.ID), ws.EventChannel, ev)
	return nil
}

// reactionEvent — сообщение плюс имя эмодзи, как его ожидают клиенты.
type reactionEvent struct {
	model.MessageDetail
	Name string `json:"name"`
}

// AddReaction идемпотентно добавляет реакцию и рассылает message:reaction:add.
func (s *Service) AddReaction(ctx context.Context, channel *model.Channel, messageID string, user *model.User, name string) error {
	if _, err := s.messages.AddReaction(ctx, messageID, user.ID, name); err != nil {
		return err
	}
	detail, err := s.messages.GetDetail(ctx, messageID)
	if err != nil {
		return err
	}
	s.hub.EmitToRoom(ws.ChannelRoom(channel.ID), ws.EventChannel, ws.ChannelEvent{
		ChannelID: channel.ID,
		MessageID: messageID,
		Data:      ws.EventData{Type: ws.TypeReactionAdd, Data: reactionEvent{MessageDetail: *detail, Name: name}},
		User:      user.ToPublic(),
		Channel:   channel,
	})
	return nil
}

// RemoveReaction удаляет реакцию и рассылает message:reaction:remove.
func (s *Service) RemoveReaction(ctx context.Context, channel *model.Channel, messageID string, user *model.User, name string) error {
	if err := s.messages.RemoveReaction(ctx, messageID, user.ID, name); err != nil {
		return err
	}
	detail, err := s.messages.GetDetail(ctx, messageID)
	if err != nil {
		return err
	}
	s.hub.EmitToRoom(ws.ChannelRoom(channel.ID), ws.EventChannel, ws.ChannelEvent{
		ChannelID: channel.ID,
		MessageID: messageID,
		Data:      ws.EventData{Type: ws.TypeReactionRemove, Data: reactionEvent{MessageDetail: *detail, Name: name}},
		User:      user.ToPublic(),
		Channel:   channel,
	})
	return nil
}

// SetPinned закрепляет или снимает сообщение и рассылает message:update.
func (s *Service) SetPinned(ctx context.Context, channel *model.Channel, messageID string, pinned bool, actor *model.User) (*model.MessageDetail, error) {
	if _, err := s.messages.SetPinned(ctx, messageID, pinned, actor.ID); err != nil {
		return nil, err
	}
	detail, err := s.messages.GetDetail(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.hub.EmitToRoom(ws.ChannelRoom(channel.ID), ws.EventChannel, ws.ChannelEvent{
		ChannelID: channel.ID,
		MessageID: messageID,
		Data:      ws.EventData{Type: ws.TypeMessageUpdate, Data: detail},
		User:      actor.ToPublic(),
		Channel:   channel,
	})
	return detail, nil
}

// EmitChannelCreated вводит участников в комнату канала и шлёт channel:created.
func (s *Service) EmitChannelCreated(channel *model.Channel, memberIDs []string) {
	s.hub.EnterRoom(ws.ChannelRoom(channel.ID), memberIDs...)
	s.hub.EmitToUsers(memberIDs, ws.EventChannel, ws.ChannelEvent{
		ChannelID: channel.ID,
		Data:      ws.EventData{Type: ws.TypeChannelCreated, Data: channel},
		Channel:   channel,
	})
}

// truncateRunes обрезает строку до max рун, не разрывая многобайтовые символы.
func truncateRunes(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

// notifyMembers уведомляет офлайн-участников: личный webhook и/или пуш.
// Любые сбои здесь логируются и глотаются.
func (s *Service) notifyMembers(ctx context.Context, channel *model.Channel, message *model.Message, poster *model.User) {
	memberIDs, err := s.channels.MemberIDs(ctx, channel.ID)
	if err != nil {
		logger.Errorf("chat notify members channel=%s: %v", channel.ID, err)
		return
	}
	targets := make([]string, 0, len(memberIDs))
	for _, uid := range memberIDs {
		if uid == poster.ID || s.hub.IsOnline(uid) {
			continue
		}
		targets = append(targets, uid)
	}
	if len(targets) == 0 {
		return
	}
	users, err := s.users.GetByIDs(ctx, targets)
	if err != nil {
		logger.Errorf("chat notify users channel=%s: %v", channel.ID, err)
		return
	}

	body := truncateRunes(ReplaceMentions(message.Content), 120)
	data := map[string]string{"channel_id": channel.ID, "message_id": message.ID}
	for i := range users {
		u := &users[i]
		member, err := s.channels.GetMember(ctx, channel.ID, u.ID)
		if err == nil && member.IsChannelMuted {
			continue
		}
		if url := u.WebhookURL(); url != "" && s.webhook != nil {
			payload := map[string]any{
				"action":  "channel",
				"message": poster.Name + ": " + body,
				"title":   channel.Name,
				"url":     "/channels/" + channel.ID,
			}
			if err := s.webhook.Post(ctx, url, payload); err != nil {
				logger.Errorf("chat webhook notify user=%s: %v", u.ID, err)
			}
		}
		if s.push != nil {
			s.push.Notify(ctx, u.ID, channel.Name, poster.Name+": "+body, data)
		}
	}
}
