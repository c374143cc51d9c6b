package startup

import (
	"context"
	"fmt"
	"time"

	"github.com/rentafacil/rentchat/internal/config"
	"github.com/rentafacil/rentchat/internal/storage"
	filestorage "github.com/rentafacil/rentchat/internal/storage/file"
	"github.com/rentafacil/rentchat/internal/storage/memory"
)

// OpenTokenStore выбирает реализацию хранилища токена по cfg.TokenStore.
func OpenTokenStore(ctx context.Context, cfg *config.Config) (storage.TokenStore, error) {
	switch cfg.TokenStore {
	case config.TokenStoreFile, "":
		return filestorage.New(cfg.TokenFile), nil
	case config.TokenStoreMemory:
		return memory.New(), nil
	case config.TokenStoreRedis:
		c, err := ConnectRedisWithRetry(ctx, cfg.Redis.URL, cfg.Redis.Namespace, 30*time.Second)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown token store %q", cfg.TokenStore)
	}
}
