package memory_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/channelhub/internal/storage/memory"
)

func TestAddAndListSubscriptions(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	if err := c.AddSubscription(ctx, "u1", `{"endpoint":"a"}`); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}
	if err := c.AddSubscription(ctx, "u1", `{"endpoint":"b"}`); err != nil {
		t.Fatalf("AddSubscription: %v", err)
	}

	subs, err := c.Subscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 2 || subs[0] != `{"endpoint":"a"}` || subs[1] != `{"endpoint":"b"}` {
		t.Fatalf("subs = %v", subs)
	}

	// Подписки другого пользователя изолированы
	subs, err = c.Subscriptions(ctx, "u2")
	if err != nil {
		t.Fatalf("Subscriptions u2: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("u2 subs = %v, want none", subs)
	}
}

func TestSubscriptionCapKeepsNewest(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	for i := 0; i < 15; i++ {
		if err := c.AddSubscription(ctx, "u1", fmt.Sprintf("sub-%d", i)); err != nil {
			t.Fatalf("AddSubscription: %v", err)
		}
	}
	subs, err := c.Subscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 10 {
		t.Fatalf("subs = %d, want cap of 10", len(subs))
	}
	if subs[0] != "sub-5" || subs[9] != "sub-14" {
		t.Fatalf("cap must evict oldest: first=%s last=%s", subs[0], subs[9])
	}
}

func TestReplaceSubscriptions(t *testing.T) {
	ctx := context.Background()
	c := memory.New()

	for _, raw := range []string{"a", "b", "c"} {
		if err := c.AddSubscription(ctx, "u1", raw); err != nil {
			t.Fatalf("AddSubscription: %v", err)
		}
	}
	if err := c.ReplaceSubscriptions(ctx, "u1", []string{"b"}); err != nil {
		t.Fatalf("ReplaceSubscriptions: %v", err)
	}
	subs, err := c.Subscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 1 || subs[0] != "b" {
		t.Fatalf("subs = %v, want [b]", subs)
	}

	if err := c.ReplaceSubscriptions(ctx, "u1", nil); err != nil {
		t.Fatalf("ReplaceSubscriptions empty: %v", err)
	}
	subs, err = c.Subscriptions(ctx, "u1")
	if err != nil {
		t.Fatalf("Subscriptions: %v", err)
	}
	if len(subs) != 0 {
		t.Fatalf("subs = %v, want none", subs)
	}
}
