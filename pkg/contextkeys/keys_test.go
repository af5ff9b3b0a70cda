package contextkeys

import (
	"context"
	"testing"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	if IsAdmin(ctx) {
		t.Error("empty context should not be admin")
	}
	if GetSessionToken(ctx) != "" {
		t.Error("empty context should have no session token")
	}

	ctx = WithAdmin(WithSessionToken(ctx, "cgs_abc"))
	if !IsAdmin(ctx) {
		t.Error("expected admin")
	}
	if got := GetSessionToken(ctx); got != "cgs_abc" {
		t.Errorf("expected cgs_abc, got %q", got)
	}

	type user struct{ ID int }
	ctx = WithUser(ctx, &user{ID: 7})
	if u, ok := ctx.Value(UserKey).(*user); !ok || u.ID != 7 {
		t.Errorf("unexpected user value: %v", ctx.Value(UserKey))
	}
}
