package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/nyai-sathi/voice-chat/backend/internal/config"
	"github.com/nyai-sathi/voice-chat/backend/internal/handler"
	"github.com/nyai-sathi/voice-chat/backend/internal/service/ai"
	"github.com/nyai-sathi/voice-chat/backend/internal/service/chat"
	"github.com/nyai-sathi/voice-chat/backend/internal/service/preference"
	"github.com/nyai-sathi/voice-chat/backend/internal/service/query"
	"github.com/nyai-sathi/voice-chat/backend/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("warning: failed to load .env file: %v", err)
		log.Println("continuing with system environment variables only")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	local, err := newLocalStorage(cfg.Storage)
	if err != nil {
		log.Fatalf("failed to open local storage: %v", err)
	}

	gateway, err := newGateway(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize query gateway: %v", err)
	}

	store := chat.NewStore(local)
	chatService := chat.NewService(store, gateway, chat.Options{
		HistoryLimit: cfg.Query.HistoryLimit,
		Timeout:      cfg.Query.Timeout,
	})
	theme := preference.NewTheme(local)

	if cfg.Voice.Enabled {
		log.Printf("voice assistant enabled language=%s", cfg.Voice.Language)
	} else {
		log.Println("voice assistant disabled, speech bridge not mounted")
	}

	router := handler.NewRouter(cfg, chatService, theme)

	startServer(ctx, cfg.Server, router)
}

func newLocalStorage(cfg config.StorageConfig) (storage.LocalStorage, error) {
	if cfg.Backend == config.StorageMemory {
		log.Println("using in-memory storage, sessions are lost on restart")
		return storage.NewMemoryStorage(), nil
	}
	local, err := storage.NewFileStorage(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	log.Printf("storing sessions under %s", cfg.DataDir)
	return local, nil
}

func newGateway(ctx context.Context, cfg *config.Config) (query.Gateway, error) {
	if cfg.Query.Backend == config.BackendArk {
		gateway, err := ai.NewGateway(ctx, cfg.AI)
		if err != nil {
			return nil, err
		}
		log.Printf("answering queries with Ark model %s", cfg.AI.Model)
		return gateway, nil
	}
	log.Printf("forwarding queries to %s", cfg.Query.BaseURL)
	return query.NewHTTPGateway(cfg.Query.BaseURL, cfg.Query.Timeout), nil
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Printf("NyAI Sathi backend listening on %s", addr)
	if err := runServer(ctx, srv); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
