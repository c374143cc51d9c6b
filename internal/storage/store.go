package storage

import (
	"context"
	"errors"
)

// TokenKey — фиксированный ключ, под которым хранится bearer-токен сессии.
const TokenKey = "access_token"

// ErrNoToken возвращается, если токен в хранилище отсутствует.
var ErrNoToken = errors.New("storage: no auth token")

// TokenStore — локальное персистентное хранилище токена авторизации.
// Реализации: file.Client (диск, по умолчанию), redis.Client, memory.Client (тесты, -dev).
type TokenStore interface {
	GetToken(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	DeleteToken(ctx context.Context) error
	Close() error
}
