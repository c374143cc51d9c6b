package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/rentafacil/rentchat/internal/storage"
)

func TestMemoryTokenStore(t *testing.T) {
	ctx := context.Background()
	var s storage.TokenStore = New()

	if _, err := s.GetToken(ctx); !errors.Is(err, storage.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if err := s.SetToken(ctx, "t1"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	if got, _ := s.GetToken(ctx); got != "t1" {
		t.Fatalf("expected t1, got %q", got)
	}
	if err := s.DeleteToken(ctx); err != nil {
		t.Fatalf("DeleteToken failed: %v", err)
	}
	if _, err := s.GetToken(ctx); !errors.Is(err, storage.ErrNoToken) {
		t.Fatalf("expected ErrNoToken after delete, got %v", err)
	}
	if got, _ := NewWithToken("t2").GetToken(ctx); got != "t2" {
		t.Fatalf("expected t2, got %q", got)
	}
}
