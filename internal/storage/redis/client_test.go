package redis

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/rentafacil/rentchat/internal/storage"
)

func TestKey(t *testing.T) {
	if got := Key(""); got != "rentchat:access_token" {
		t.Fatalf("unexpected default key %q", got)
	}
	if got := Key("u1"); got != "rentchat:u1:access_token" {
		t.Fatalf("unexpected namespaced key %q", got)
	}
}

// Requires a live Redis; set REDIS_TEST_URL (e.g. redis://localhost:6379/15).
func TestRedisTokenStore(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c, err := New(ctx, url, "test-"+time.Now().Format("150405.000000"))
	if err != nil {
		t.Fatalf("connect redis failed: %v", err)
	}
	t.Cleanup(func() {
		_ = c.DeleteToken(context.Background())
		_ = c.Close()
	})

	if _, err := c.GetToken(ctx); !errors.Is(err, storage.ErrNoToken) {
		t.Fatalf("expected ErrNoToken, got %v", err)
	}
	if err := c.SetToken(ctx, "tok"); err != nil {
		t.Fatalf("SetToken failed: %v", err)
	}
	got, err := c.GetToken(ctx)
	if err != nil || got != "tok" {
		t.Fatalf("GetToken = %q, %v", got, err)
	}
}
