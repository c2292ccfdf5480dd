package middleware

import "strings"

// MaskToken маскирует webhook-токен в логах (в prod не светить полный токен).
func MaskToken(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "***"
}
