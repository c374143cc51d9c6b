package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rentafacil/rentchat/internal/api"
	"github.com/rentafacil/rentchat/internal/chat"
	"github.com/rentafacil/rentchat/internal/config"
	"github.com/rentafacil/rentchat/internal/connection"
	"github.com/rentafacil/rentchat/internal/devserver"
	"github.com/rentafacil/rentchat/internal/events"
	"github.com/rentafacil/rentchat/internal/inbox"
	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/model"
	"github.com/rentafacil/rentchat/internal/notify"
	"github.com/rentafacil/rentchat/internal/startup"
	"github.com/rentafacil/rentchat/internal/ws"
)

func main() {
	logger.SetPrefix("chat")
	conversationID := flag.String("conversation", "", "conversation id (default: most recent)")
	dev := flag.Bool("dev", false, "start an in-process dev backend with demo data")
	login := flag.String("login", "", "log in to the dev backend as this user id")
	flag.Parse()

	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *dev {
		shutdown, demo, err := startDevBackend(ctx, cfg)
		if err != nil {
			logger.Errorf("dev backend: %v", err)
			os.Exit(1)
		}
		defer shutdown()
		if *login == "" {
			*login = demo.ClientUserID
		}
		if *conversationID == "" {
			*conversationID = demo.ConversationID
		}
	}

	if cfg.MetricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Infof("metrics on %s/metrics", cfg.MetricsAddr)
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	tokens, err := startup.OpenTokenStore(ctx, cfg)
	if err != nil {
		logger.Errorf("token store: %v", err)
		os.Exit(1)
	}
	defer tokens.Close()

	client := api.NewClient(cfg.APIBaseURL, tokens, &http.Client{Timeout: cfg.HTTPTimeout})
	selfID := ""
	if *login != "" {
		res, err := client.DevLogin(ctx, *login)
		if err != nil {
			logger.Errorf("login as %s: %v", *login, err)
			os.Exit(1)
		}
		selfID = res.UserID
	}

	transport := ws.NewSession(ws.Options{
		BaseURL:              cfg.APIBaseURL,
		Path:                 cfg.WSPath,
		ReconnectBaseDelay:   cfg.ReconnectBaseDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.HeartbeatInterval,
		WriteTimeout:         cfg.WSWriteTimeout,
		MaxMessageSize:       cfg.WSMaxMessageSize,
	})
	hook := connection.New(transport, tokens, connection.Options{
		OnConnect: func() { fmt.Println("* connected") },
		OnDisconnect: func(info ws.CloseInfo) {
			if !info.UserInitiated {
				fmt.Printf("* disconnected (%d %s), state=%s\n", info.Code, info.Reason, transport.State())
			}
		},
	})
	if err := hook.Mount(ctx); err != nil {
		if errors.Is(err, connection.ErrNoToken) {
			fmt.Fprintln(os.Stderr, "no stored token: run with -login <user> (dev backend) first")
		} else {
			logger.Errorf("connect: %v", err)
		}
		os.Exit(1)
	}
	defer hook.Unmount()

	bus := events.NewBus()
	box := inbox.New(client, transport, bus)
	if err := box.Start(ctx); err != nil {
		logger.Errorf("inbox: %v", err)
	}
	defer box.Close()
	var unreadMu sync.Mutex
	lastUnread := -1
	box.OnChange(func([]model.ConversationWithDetails) {
		unreadMu.Lock()
		defer unreadMu.Unlock()
		if n := box.UnreadTotal(); n != lastUnread {
			lastUnread = n
			fmt.Printf("* unread: %d\n", n)
		}
	})

	if *conversationID == "" {
		list := box.Conversations()
		if len(list) == 0 {
			fmt.Fprintln(os.Stderr, "no conversations")
			os.Exit(1)
		}
		*conversationID = list[0].ID
	}

	session := chat.New(*conversationID, chat.Deps{
		API:       client,
		Transport: transport,
		Notifier:  notify.Func(func(t notify.Toast) { fmt.Printf("! %s\n", t.Message) }),
		Bus:       bus,
	}, chat.Options{HistoryLimit: cfg.HistoryLimit, TypingTTL: cfg.TypingTTL, SelfUserID: selfID})
	defer session.Close()

	p := &printer{session: session, self: selfID, seen: make(map[string]bool)}
	session.Subscribe(p.handle)
	if err := session.Start(ctx); err != nil {
		fmt.Println("* could not load the conversation, type /retry")
	}

	fmt.Println("* type a message and press enter; /retry, /typing, /quit")
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("* bye")
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			switch strings.TrimSpace(line) {
			case "/quit":
				return
			case "/retry":
				if err := session.Retry(ctx); err != nil {
					fmt.Printf("! retry failed: %v\n", err)
				}
			case "/typing":
				session.HandleTyping()
			default:
				_ = session.SendMessage(ctx, line)
			}
		}
	}
}

// printer writes session changes to stdout.
type printer struct {
	session *chat.Session
	self    string

	mu     sync.Mutex
	seen   map[string]bool
	typing string
}

func (p *printer) handle(e chat.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e.Kind {
	case chat.EventReady:
		if c := p.session.Conversation(); c != nil {
			other := c.Counterpart(p.self)
			fmt.Printf("* %s with %s (online: %v)\n", c.ListingTitle, other.Name, other.Online)
		}
	case chat.EventMessagesChanged:
		for _, m := range p.session.Messages() {
			if p.seen[m.ID] {
				continue
			}
			p.seen[m.ID] = true
			// A confirmed copy of a pending line was already printed.
			key := "pending:" + m.SenderUserID + ":" + m.Content
			if !m.Pending && p.seen[key] {
				delete(p.seen, key)
				continue
			}
			if m.Pending {
				p.seen[key] = true
			}
			who := m.SenderUserID
			if who == p.self {
				who = "me"
			}
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), who, m.Content)
		}
	case chat.EventTypingChanged:
		t := strings.Join(p.session.TypingUsers(), ", ")
		if t != "" && t != p.typing {
			fmt.Printf("* %s typing...\n", t)
		}
		p.typing = t
	case chat.EventLoadFailed:
		fmt.Printf("! %v\n", e.Err)
	}
}

func startDevBackend(ctx context.Context, cfg *config.Config) (func(), devserver.Demo, error) {
	srv := devserver.New(devserver.Options{JWTSecret: cfg.Dev.JWTSecret, TokenTTL: cfg.Dev.TokenTTL})
	demo, err := srv.Seed(ctx)
	if err != nil {
		return nil, devserver.Demo{}, err
	}
	ln, err := net.Listen("tcp", cfg.Dev.Addr)
	if err != nil {
		return nil, devserver.Demo{}, err
	}
	srv.Run(context.Background())
	httpSrv := &http.Server{Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("dev backend: %v", err)
		}
	}()
	cfg.APIBaseURL = "http://" + ln.Addr().String() + devserver.DefaultPrefix
	logger.Infof("dev backend on %s", cfg.APIBaseURL)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("dev backend shutdown: %v", err)
		}
		srv.Close()
	}, demo, nil
}
