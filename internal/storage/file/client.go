package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rentafacil/rentchat/internal/storage"
	"gopkg.in/yaml.v3"
)

// Client хранит токен в YAML-файле (права 0600), аналог localStorage браузера.
type Client struct {
	mu   sync.Mutex
	path string
}

type document struct {
	AccessToken string `yaml:"access_token"`
}

func New(path string) *Client {
	return &Client{path: path}
}

// Path возвращает путь к файлу токена.
func (c *Client) Path() string { return c.path }

func (c *Client) Close() error { return nil }

func (c *Client) read() (document, error) {
	var doc document
	data, err := os.ReadFile(c.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return doc, fmt.Errorf("read token file: %w", err)
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return doc, fmt.Errorf("parse token file %s: %w", c.path, err)
	}
	return doc, nil
}

func (c *Client) write(doc document) error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0o700); err != nil {
		return fmt.Errorf("create token dir: %w", err)
	}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode token file: %w", err)
	}
	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		return fmt.Errorf("replace token file: %w", err)
	}
	return nil
}

func (c *Client) GetToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	doc, err := c.read()
	if err != nil {
		return "", err
	}
	if doc.AccessToken == "" {
		return "", storage.ErrNoToken
	}
	return doc.AccessToken, nil
}

func (c *Client) SetToken(ctx context.Context, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.write(document{AccessToken: token})
}

func (c *Client) DeleteToken(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	err := os.Remove(c.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove token file: %w", err)
	}
	return nil
}
