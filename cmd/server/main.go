package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cardstack/internal/auth"
	"cardstack/internal/cards"
	"cardstack/internal/config"
	"cardstack/internal/db"
	mcpserver "cardstack/internal/mcp"
	"cardstack/internal/notify"
	"cardstack/internal/uploads"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"
	"github.com/redis/go-redis/v9"
)

func main() {
	// Config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))

	// Context for startup
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Connect to MongoDB
	logger.Info("connecting to MongoDB", "database", cfg.MongoDatabase)
	database, err := db.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
	if err != nil {
		log.Fatalf("failed to connect to MongoDB: %v", err)
	}
	defer db.Disconnect(context.Background(), database)
	logger.Info("connected to MongoDB")

	cardRepo := cards.NewRepo(database)
	if err := cardRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to ensure card indexes", "error", err)
	}
	notifyRepo := notify.NewRepo(database)
	if err := notifyRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("failed to ensure notification indexes", "error", err)
	}

	// Notification dedup goes through Redis when configured, otherwise
	// through the notifications collection.
	var dedup notify.Deduper
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalf("invalid REDIS_URL: %v", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		dedup = notify.NewRedisDeduper(rdb)
		logger.Info("connected to Redis")
	}
	checker := notify.NewChecker(notifyRepo, dedup)
	dispatcher := notify.NewDispatcher(checker, logger, cfg.NotifyWorkers, cfg.NotifyBuffer, cfg.NotifyTimeout)
	defer dispatcher.Close()

	store, err := uploads.NewLocalStore(cfg.UploadDir, cfg.MaxUploadMB<<20)
	if err != nil {
		log.Fatalf("failed to open upload dir: %v", err)
	}

	// Wire dependencies
	cardSvc := cards.NewService(cardRepo, dispatcher, store, logger)
	cardHandler := cards.NewHandler(cardSvc, logger, cfg.MaxUploadMB<<20)
	verifier := auth.NewVerifier(cfg.JWTSecret)

	// HTTP router
	mux := http.NewServeMux()
	cardHandler.Register(mux, verifier.Middleware)
	mux.Handle("GET /uploads/", store.Handler())

	// MCP endpoint (HTTP transport). With MCP_USER_ID set the tools act as
	// that user without a token; otherwise a bearer token is required.
	mcpSrv := mcpserver.NewServer(cardSvc, notifyRepo, cfg.MCPUserID)
	var mcpHTTP http.Handler = server.NewStreamableHTTPServer(mcpSrv,
		server.WithHTTPContextFunc(func(ctx context.Context, r *http.Request) context.Context {
			if id, ok := auth.UserID(r.Context()); ok {
				return auth.WithUserID(ctx, id)
			}
			return ctx
		}),
	)
	if cfg.MCPUserID == "" {
		mcpHTTP = verifier.Middleware(mcpHTTP)
	} else {
		logger.Warn("MCP endpoint is unauthenticated", "user_id", cfg.MCPUserID)
	}
	mux.Handle("POST /mcp", mcpHTTP)
	mux.Handle("GET /mcp", mcpHTTP)
	mux.Handle("DELETE /mcp", mcpHTTP)

	// Health check
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)
	router.Mount("/", mux)

	// Start server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		logger.Info("shutting down server...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("server starting", "port", cfg.Port)
	logger.Info("endpoints available",
		"api", "http://localhost:"+cfg.Port+"/api",
		"mcp", "http://localhost:"+cfg.Port+"/mcp",
	)

	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}

	logger.Info("server stopped")
}
