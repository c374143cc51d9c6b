package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rentafacil/rentchat/internal/config"
	"github.com/rentafacil/rentchat/internal/devserver"
	"github.com/rentafacil/rentchat/internal/logger"
)

func main() {
	logger.SetPrefix("devapi")
	addr := flag.String("addr", "", "listen address (default from DEV_ADDR)")
	seed := flag.Bool("seed", true, "create demo users and a conversation")
	flag.Parse()

	logger.Info("starting dev chat backend")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)
	if *addr == "" {
		*addr = cfg.Dev.Addr
	}

	srv := devserver.New(devserver.Options{JWTSecret: cfg.Dev.JWTSecret, TokenTTL: cfg.Dev.TokenTTL})
	if *seed {
		demo, err := srv.Seed(context.Background())
		if err != nil {
			logger.Errorf("seed: %v", err)
			os.Exit(1)
		}
		for _, uid := range []string{demo.ClientUserID, demo.OwnerUserID} {
			tok, err := srv.IssueToken(context.Background(), uid)
			if err != nil {
				logger.Errorf("issue token %s: %v", uid, err)
				os.Exit(1)
			}
			logger.Infof("demo user %s token: %s", uid, tok)
		}
		logger.Infof("demo conversation: %s", demo.ConversationID)
	}

	hubCtx, hubCancel := context.WithCancel(context.Background())
	srv.Run(hubCtx)

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s (api prefix %s)", *addr, devserver.DefaultPrefix)
		errCh <- httpSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	srv.Close()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Sync()
}
