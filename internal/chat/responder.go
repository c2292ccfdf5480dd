package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/channelhub/internal/completion"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/model"
	"github.com/channelhub/internal/pipeline"
	"github.com/channelhub/internal/repository"
)

// respondWithModels находит модели, к которым обращено сообщение (reply на
// сообщение модели имеет приоритет, затем @упоминания типа M), и генерирует
// ответ каждой по очереди. Сбой одной модели не мешает остальным.
func (s *Service) respondWithModels(ctx context.Context, channel *model.Channel, message *model.Message, poster *model.User) {
	modelIDs := make([]string, 0, 2)
	have := make(map[string]struct{}, 2)

	if message.ReplyToID != nil {
		rt, err := s.messages.GetByID(ctx, *message.ReplyToID)
		if err == nil {
			if mid, ok := rt.Meta["model_id"].(string); ok && mid != "" {
				modelIDs = append(modelIDs, mid)
				have[mid] = struct{}{}
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			logger.Errorf("chat respond reply-to message=%s: %v", *message.ReplyToID, err)
		}
	}
	for _, m := range ExtractMentions(message.Content) {
		if m.Type != "M" {
			continue
		}
		if _, ok := have[m.ID]; ok {
			continue
		}
		have[m.ID] = struct{}{}
		modelIDs = append(modelIDs, m.ID)
	}
	if len(modelIDs) == 0 {
		return
	}

	for _, id := range modelIDs {
		mdl, ok := s.registry.Model(id)
		if !ok {
			continue
		}
		if err := s.respondAsModel(ctx, channel, message, poster, mdl); err != nil {
			logger.Errorf("chat model response channel=%s model=%s: %v", channel.ID, id, err)
		}
	}
}

func modelDisplayName(m pipeline.Model) string {
	if m.Name != "" {
		return m.Name
	}
	return m.ID
}

// respondAsModel создаёт заготовку ответа, собирает контекст треда, гоняет
// запрос через inlet-фильтры, completion и outlet-фильтры и вписывает в
// заготовку результат либо строку "Error: ...".
func (s *Service) respondAsModel(ctx context.Context, channel *model.Channel, message *model.Message, poster *model.User, mdl pipeline.Model) error {
	threadRoot := message.ID
	if message.ParentID != nil {
		threadRoot = *message.ParentID
	}

	// Контекст снимается до вставки заготовки, чтобы она в него не попала
	threadMessages, err := s.messages.ListThreadAll(ctx, threadRoot)
	if err != nil {
		return err
	}

	name := modelDisplayName(mdl)
	placeholder, err := s.insertAndEmit(ctx, channel, poster, &model.MessageForm{
		Content:  "",
		ParentID: &threadRoot,
		Data:     map[string]any{},
		Meta:     map[string]any{"model_id": mdl.ID, "model_name": name},
	})
	if err != nil {
		return err
	}

	transcript, images := s.renderThread(ctx, threadMessages)

	systemContent := fmt.Sprintf("You are %s, participating in a threaded conversation. Be concise and conversational.", name)
	if transcript != "" {
		systemContent += fmt.Sprintf("Here's the thread history:\n\n\n%s\n\n\nContinue the conversation naturally as %s, addressing the most recent message while being aware of the full context.", transcript, name)
	}

	posterName := poster.Name
	if posterName == "" {
		posterName = "User"
	}
	var userContent any = posterName + ": " + ReplaceMentions(message.Content)
	if len(images) > 0 {
		parts := make([]map[string]any, 0, len(images)+1)
		parts = append(parts, map[string]any{"type": "text", "text": userContent})
		for _, img := range images {
			parts = append(parts, map[string]any{"type": "image_url", "image_url": map[string]any{"url": img}})
		}
		userContent = parts
	}

	payload := map[string]any{
		"model": mdl.ID,
		"messages": []map[string]any{
			{"role": "system", "content": systemContent},
			{"role": "user", "content": userContent},
		},
		"stream": false,
	}
	caller := pipeline.Caller{ID: poster.ID, Email: poster.Email, Name: poster.Name, Role: poster.Role}

	content, err := s.generate(ctx, mdl.ID, caller, payload)
	if err != nil {
		content = "Error: " + err.Error()
	}

	if _, err := s.UpdateMessage(ctx, channel, placeholder.ID, &model.MessageForm{
		Content: content,
		Meta:    map[string]any{"done": true},
	}, poster); err != nil {
		return err
	}
	return nil
}

// generate — inlet-фильтры, completion, outlet-фильтры. Структурная ошибка
// фильтра прерывает генерацию и доводится до текста ответа.
func (s *Service) generate(ctx context.Context, modelID string, caller pipeline.Caller, payload map[string]any) (string, error) {
	payload, err := s.chain.ProcessInlet(ctx, modelID, caller, payload)
	if err != nil {
		var de *pipeline.DetailError
		if errors.As(err, &de) {
			return "", errors.New(de.Detail)
		}
		return "", err
	}

	if !s.completions.Configured() {
		return "", errors.New("completion endpoint is not configured")
	}
	res, err := s.completions.Complete(ctx, payload)
	if err != nil {
		return "", err
	}

	res, err = s.chain.ProcessOutlet(ctx, modelID, caller, res)
	if err != nil {
		var de *pipeline.DetailError
		if errors.As(err, &de) {
			return "", errors.New(de.Detail)
		}
		return "", err
	}

	if content := completion.FirstChoiceContent(res); content != "" {
		return content, nil
	}
	if errVal, ok := res["error"]; ok {
		return "", fmt.Errorf("%v", errVal)
	}
	return "", nil
}

// renderThread рендерит тред старые-первыми в строки "{имя}: {текст}" и
// собирает url картинок из вложений сообщений.
func (s *Service) renderThread(ctx context.Context, msgs []model.Message) (string, []string) {
	userIDs := make([]string, 0, len(msgs))
	seen := make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; !ok {
			seen[m.UserID] = struct{}{}
			userIDs = append(userIDs, m.UserID)
		}
	}
	names := make(map[string]string, len(userIDs))
	if users, err := s.users.GetByIDs(ctx, userIDs); err == nil {
		for _, u := range users {
			names[u.ID] = u.Name
		}
	} else {
		logger.Errorf("chat render thread users: %v", err)
	}

	lines := make([]string, 0, len(msgs))
	images := make([]string, 0, 2)
	for _, m := range msgs {
		speaker := ""
		if mid, ok := m.Meta["model_id"].(string); ok && mid != "" {
			// Реплика модели подписывается именем модели, не автора
			speaker = mid
			if mdl, ok := s.registry.Model(mid); ok {
				speaker = modelDisplayName(mdl)
			}
		} else if name := names[m.UserID]; name != "" {
			speaker = name
		} else {
			speaker = "Unknown"
		}
		lines = append(lines, speaker+": "+ReplaceMentions(m.Content))

		if files, ok := m.Data["files"].([]any); ok {
			for _, f := range files {
				file, ok := f.(map[string]any)
				if !ok {
					continue
				}
				if t, _ := file["type"].(string); t == "image" {
					if url, _ := file["url"].(string); url != "" {
						images = append(images, url)
					}
				}
			}
		}
	}
	return strings.Join(lines, "\n\n"), images
}
