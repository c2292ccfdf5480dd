package chat

import "regexp"

// Упоминания кодируются в тексте сообщения токенами вида <@M:gpt-4> или
// <@U:user-id|Имя>. Тип M — модель, U — пользователь.
var mentionRe = regexp.MustCompile(`<@([A-Z]):([^>|]+)(?:\|([^>]*))?>`)

type Mention struct {
	Type  string
	ID    string
	Label string
}

// ExtractMentions возвращает упоминания в порядке появления, без дублей.
func ExtractMentions(content string) []Mention {
	matches := mentionRe.FindAllStringSubmatch(content, -1)
	seen := make(map[string]struct{}, len(matches))
	mentions := make([]Mention, 0, len(matches))
	for _, m := range matches {
		key := m[1] + ":" + m[2]
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		mentions = append(mentions, Mention{Type: m[1], ID: m[2], Label: m[3]})
	}
	return mentions
}

// ReplaceMentions заменяет токены на читаемый вид для транскрипта треда:
// <@U:id|Имя> → @Имя, <@M:gpt-4> → @gpt-4.
func ReplaceMentions(content string) string {
	return mentionRe.ReplaceAllStringFunc(content, func(tok string) string {
		m := mentionRe.FindStringSubmatch(tok)
		if m[3] != "" {
			return "@" + m[3]
		}
		return "@" + m[2]
	})
}
