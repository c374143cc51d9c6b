// Package devserver is an in-process stand-in for the marketplace chat backend:
// the REST endpoints and the socket the client core consumes, backed by memory.
package devserver

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/rentafacil/rentchat/internal/handler"
	"github.com/rentafacil/rentchat/internal/hub"
	"github.com/rentafacil/rentchat/internal/middleware"
	"github.com/rentafacil/rentchat/internal/model"
	"github.com/rentafacil/rentchat/internal/repository"
)

// DefaultPrefix matches the default API base URL path.
const DefaultPrefix = "/api/v1"

type Options struct {
	Prefix         string
	JWTSecret      string
	TokenTTL       time.Duration
	AllowedOrigins string
	MaxConns       int
	// MessageRateLimit caps POSTed messages per user per minute; 0 means 120.
	MessageRateLimit int
}

type Server struct {
	opts     Options
	Users    *repository.UserRepository
	Chats    *repository.ChatRepository
	Messages *repository.MessageRepository
	Hub      *hub.Hub
	router   chi.Router

	runOnce sync.Once
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func New(opts Options) *Server {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	opts.Prefix = "/" + strings.Trim(opts.Prefix, "/")
	if opts.JWTSecret == "" {
		opts.JWTSecret = "dev-secret-change-me"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 24 * time.Hour
	}
	if opts.AllowedOrigins == "" {
		opts.AllowedOrigins = "*"
	}
	if opts.MessageRateLimit <= 0 {
		opts.MessageRateLimit = 120
	}

	store := repository.NewStore()
	s := &Server{
		opts:     opts,
		Users:    repository.NewUserRepository(store),
		Chats:    repository.NewChatRepository(store),
		Messages: repository.NewMessageRepository(store),
	}
	s.Hub = hub.NewHub(s.Chats, s.Messages, s.Users, opts.MaxConns)
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	authH := handler.NewAuthHandler(s.Users, s.opts.JWTSecret, s.opts.TokenTTL)
	chatH := handler.NewChatHandler(s.Chats)
	msgH := handler.NewMessageHandler(s.Messages, s.Chats, s.Hub)
	wsH := handler.NewWSHandler(s.Hub, s.opts.AllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(middleware.RequestLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(s.opts.AllowedOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: s.opts.AllowedOrigins != "*",
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })

	r.Route(s.opts.Prefix, func(r chi.Router) {
		r.Post("/auth/dev-login", authH.DevLogin)
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(s.opts.JWTSecret))
			r.Get("/chat/ws", wsH.ServeWS)
			r.Get("/chat/conversations", chatH.GetUserChats)
			r.Get("/chat/conversations/{id}", chatH.GetChat)
			r.Get("/chat/conversations/{id}/messages", msgH.GetMessages)
			r.With(middleware.RateLimitUser(s.opts.MessageRateLimit, time.Minute)).
				Post("/chat/conversations/{id}/messages", msgH.CreateMessage)
			r.Patch("/chat/conversations/{id}/read", msgH.MarkAsRead)
		})
	})
	return r
}

// Handler returns the HTTP handler. Run must be called for sockets to work.
func (s *Server) Handler() http.Handler { return s.router }

// Run starts the hub until ctx is done or Close is called.
func (s *Server) Run(ctx context.Context) {
	s.runOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Hub.Run(ctx)
		}()
	})
}

// Close stops the hub and waits for every socket to shut down.
func (s *Server) Close() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// IssueToken signs a token for an existing user.
func (s *Server) IssueToken(ctx context.Context, userID string) (string, error) {
	u, err := s.Users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return middleware.IssueToken(s.opts.JWTSecret, u.ID, u.Name, s.opts.TokenTTL)
}

// Demo is the fixture created by Seed.
type Demo struct {
	ClientUserID   string
	OwnerUserID    string
	ConversationID string
}

// Seed creates a tenant, a listing owner and one conversation about a listing,
// with a short greeting from the owner.
func (s *Server) Seed(ctx context.Context) (Demo, error) {
	d := Demo{ClientUserID: "client-demo", OwnerUserID: "owner-demo", ConversationID: "conv-demo"}
	users := []model.User{
		{ID: d.ClientUserID, Name: "Ana Torres"},
		{ID: d.OwnerUserID, Name: "Luis Paredes"},
	}
	for i := range users {
		if err := s.Users.Create(ctx, &users[i]); err != nil {
			return Demo{}, err
		}
	}
	if _, err := s.Chats.Create(ctx, d.ClientUserID, d.OwnerUserID, "listing-demo", "Departamento en Miraflores", d.ConversationID); err != nil {
		return Demo{}, err
	}
	if _, err := s.Messages.Create(ctx, d.ConversationID, d.OwnerUserID, "Hola, el departamento sigue disponible.", model.MessageTypeText); err != nil {
		return Demo{}, err
	}
	return d, nil
}
