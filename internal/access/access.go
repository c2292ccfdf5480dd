// Package access реализует проверку доступа по встроенной в канал
// JSON-политике вида {"read": {"group_ids": [...], "user_ids": [...]}, "write": {...}}.
// Политика nil означает публичное чтение (запись запрещена).
package access

const (
	PermissionRead  = "read"
	PermissionWrite = "write"
)

// HasAccess проверяет, разрешено ли пользователю действие perm по политике policy.
// userGroupIDs — группы пользователя; достаточно попадания в любую из allowlist.
func HasAccess(userID, perm string, policy map[string]any, userGroupIDs []string) bool {
	if policy == nil {
		return perm == PermissionRead
	}
	return allowedByPolicy(userID, perm, policy, userGroupIDs)
}

// HasAccessNonStrict — то же, но nil-политика трактуется как полностью
// открытый канал: разрешены и чтение, и запись. Так работают проверки
// записи в каналы — канал без access_control открыт на постинг всем.
func HasAccessNonStrict(userID, perm string, policy map[string]any, userGroupIDs []string) bool {
	if policy == nil {
		return true
	}
	return allowedByPolicy(userID, perm, policy, userGroupIDs)
}

func allowedByPolicy(userID, perm string, policy map[string]any, userGroupIDs []string) bool {
	section, ok := policy[perm].(map[string]any)
	if !ok {
		return false
	}
	for _, id := range stringList(section["user_ids"]) {
		if id == userID {
			return true
		}
	}
	allowed := stringList(section["group_ids"])
	for _, gid := range userGroupIDs {
		for _, a := range allowed {
			if gid == a {
				return true
			}
		}
	}
	return false
}

// HasPermission проверяет feature-флаг в дереве глобальных разрешений
// по пути вида "chat.delete". Отсутствующий узел трактуется как запрет.
func HasPermission(permissions map[string]any, path []string) bool {
	cur := permissions
	for i, key := range path {
		v, ok := cur[key]
		if !ok {
			return false
		}
		if i == len(path)-1 {
			b, _ := v.(bool)
			return b
		}
		cur, ok = v.(map[string]any)
		if !ok {
			return false
		}
	}
	return false
}

// stringList приводит значение из JSON-политики к списку строк.
// Принимает как []string, так и []any после json.Unmarshal.
func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
