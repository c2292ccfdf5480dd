package access_test

import (
	"testing"

	"github.com/channelhub/internal/access"
)

func TestHasAccessNilPolicyPublicRead(t *testing.T) {
	if !access.HasAccess("u1", access.PermissionRead, nil, nil) {
		t.Fatalf("nil policy must allow read")
	}
	if access.HasAccess("u1", access.PermissionWrite, nil, nil) {
		t.Fatalf("nil policy must deny write")
	}
}

func TestHasAccessNonStrictNilPolicyOpenChannel(t *testing.T) {
	if !access.HasAccessNonStrict("u1", access.PermissionRead, nil, nil) {
		t.Fatalf("nil policy must allow read")
	}
	if !access.HasAccessNonStrict("u1", access.PermissionWrite, nil, nil) {
		t.Fatalf("nil policy must allow write")
	}
}

func TestHasAccessNonStrictReadOnlyAllowlistDeniesWrite(t *testing.T) {
	// Пользователь только из read-allowlist не может писать в канал
	policy := map[string]any{
		"read": map[string]any{"user_ids": []any{"u1"}},
	}
	if !access.HasAccessNonStrict("u1", access.PermissionRead, policy, nil) {
		t.Fatalf("u1 must pass read allowlist")
	}
	if access.HasAccessNonStrict("u1", access.PermissionWrite, policy, nil) {
		t.Fatalf("read-only allowlist must deny write")
	}
	policy["write"] = map[string]any{"user_ids": []any{"u1"}}
	if !access.HasAccessNonStrict("u1", access.PermissionWrite, policy, nil) {
		t.Fatalf("u1 must pass write allowlist")
	}
}

func TestHasAccessUserAllowlist(t *testing.T) {
	policy := map[string]any{
		"read": map[string]any{"user_ids": []any{"u1", "u2"}},
	}
	if !access.HasAccess("u1", access.PermissionRead, policy, nil) {
		t.Fatalf("u1 must pass user_ids allowlist")
	}
	if access.HasAccess("u3", access.PermissionRead, policy, nil) {
		t.Fatalf("u3 is not in the allowlist")
	}
	if access.HasAccess("u1", access.PermissionWrite, policy, nil) {
		t.Fatalf("write section is absent, write must be denied")
	}
}

func TestHasAccessGroupAllowlist(t *testing.T) {
	policy := map[string]any{
		"write": map[string]any{"group_ids": []any{"g1"}},
	}
	if !access.HasAccess("u1", access.PermissionWrite, policy, []string{"g2", "g1"}) {
		t.Fatalf("member of g1 must pass")
	}
	if access.HasAccess("u1", access.PermissionWrite, policy, []string{"g3"}) {
		t.Fatalf("member of g3 only must be denied")
	}
}

func TestHasAccessStringSliceValues(t *testing.T) {
	// Политика может прийти и как []string (из кода), и как []any (из JSON)
	policy := map[string]any{
		"read": map[string]any{"group_ids": []string{"g1"}},
	}
	if !access.HasAccess("u1", access.PermissionRead, policy, []string{"g1"}) {
		t.Fatalf("[]string allowlist must work")
	}
}

func TestHasPermission(t *testing.T) {
	perms := map[string]any{
		"chat": map[string]any{
			"delete": true,
			"edit":   false,
		},
	}
	if !access.HasPermission(perms, []string{"chat", "delete"}) {
		t.Fatalf("chat.delete is true")
	}
	if access.HasPermission(perms, []string{"chat", "edit"}) {
		t.Fatalf("chat.edit is false")
	}
	if access.HasPermission(perms, []string{"chat", "pin"}) {
		t.Fatalf("missing node must be denied")
	}
	if access.HasPermission(perms, []string{"files", "upload"}) {
		t.Fatalf("missing branch must be denied")
	}
}
