package utils_test

import (
	"context"
	"testing"

	"bitbucket.org/mmdatafocus/invoice_bridge/utils"
)

func TestUserIdContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	if _, ok := utils.GetUserIdFromContext(ctx); ok {
		t.Fatal("empty context must carry no user id")
	}
	ctx = context.WithValue(ctx, utils.ContextKeyUserId, 7)
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId != 7 {
		t.Fatalf("user id = (%d, %v), want (7, true)", userId, ok)
	}
}

func TestIsNumeric(t *testing.T) {
	for s, want := range map[string]bool{
		"42":         true,
		"1704892200": true,
		"":           false,
		"12a":        false,
		"3.5":        false,
	} {
		if got := utils.IsNumeric(s); got != want {
			t.Errorf("IsNumeric(%q) = %v, want %v", s, got, want)
		}
	}
}
