package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/projectdesk/internal/auth"
	"github.com/projectdesk/internal/broadcast"
	"github.com/projectdesk/internal/channel"
	"github.com/projectdesk/internal/config"
	"github.com/projectdesk/internal/fileserver"
	"github.com/projectdesk/internal/handler"
	"github.com/projectdesk/internal/logger"
	"github.com/projectdesk/internal/middleware"
	"github.com/projectdesk/internal/push"
	"github.com/projectdesk/internal/repository"
	"github.com/projectdesk/internal/startup"
	"github.com/projectdesk/internal/storage"
	"github.com/projectdesk/internal/storage/memory"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL and in-memory token store (no external services required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")
	if *dev {
		seedDevData(pool)
	}

	channelSecret := cfg.ChannelSecret
	if channelSecret == "" {
		// Startup already fails in production without a secret (config guard).
		channelSecret = "dev-channel-secret"
		logger.Info("CHANNEL_SECRET not set, using development secret")
	}
	signer := auth.NewTokenSigner(channelSecret)

	hub := channel.NewHub(signer, cfg.MaxWSConnections, cfg.WSSendBufferSize)
	hubCtx, hubCancel := context.WithCancel(context.Background())
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	var tokenStore storage.TokenStore
	var broadcaster handler.Publisher
	if *dev {
		tokenStore = memory.New()
		broadcaster = broadcast.NewLocal(hub)
		seedDevToken(tokenStore)
	} else {
		redisClient := startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second, "")
		defer redisClient.Close()
		tokenStore = redisClient

		bridge := broadcast.NewRedisBridge(redisClient.Raw(), hub)
		hubWg.Add(1)
		go func() {
			defer hubWg.Done()
			bridge.Run(hubCtx)
		}()
		broadcaster = bridge
	}

	userRepo := repository.NewUserRepository(pool)
	projectRepo := repository.NewProjectRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	progressRepo := repository.NewProgressRepository(pool)

	fileStore := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)
	pushClient := push.NewClient(cfg.PushServiceURL)

	msgH := handler.NewMessageHandler(msgRepo, projectRepo, userRepo, broadcaster, pushClient, fileStore, cfg.MaxUploadSize)
	progressH := handler.NewProgressHandler(progressRepo, projectRepo, broadcaster)
	broadcastAuthH := handler.NewBroadcastAuthHandler(projectRepo, signer)
	channelH := handler.NewChannelHandler(hub, cfg.CORSAllowedOrigins)
	fileH := handler.NewFileHandler(fileStore)
	pushH := handler.NewPushHandler(pushClient)
	sessionH := handler.NewSessionHandler(tokenStore)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Compressing WebSocket responses breaks http.Hijacker and the upgrade.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-XSRF-TOKEN"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/files/{filename}", fileH.Serve)

	// The channel transport itself is open; authorization happens per channel
	// during the subscribe handshake.
	r.Get("/ws", channelH.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.BearerAuth(tokenStore))
		r.Get("/api/projects/{projectId}/messages", msgH.GetMessages)
		r.Post("/api/projects/{projectId}/messages", msgH.SendMessage)
		r.Get("/api/projects/{projectId}/progress", progressH.GetHistory)
		r.Post("/api/projects/{projectId}/progress", progressH.UpdateProgress)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Post("/api/logout", sessionH.Logout)
	})

	// Channel-join signing is reachable only from the internal network (the
	// web tier proxies the browser here).
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Use(middleware.BearerAuth(tokenStore))
		r.Post("/internal/broadcasting/auth", broadcastAuthH.Authorize)
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
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
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")

	if err := tokenStore.Close(); err != nil {
		logger.Errorf("token store close: %v", err)
	}
}

const (
	devUserID    = "dev-user"
	devProjectID = "dev-project"
)

// seedDevData inserts a user, a project and a membership so the bearer-gated
// API works against the embedded database without any manual setup.
func seedDevData(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`INSERT INTO users (id, name, email) VALUES ('` + devUserID + `', 'Dev User', 'dev@localhost')
		 ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO projects (id, name, created_by) VALUES ('` + devProjectID + `', 'Dev Project', '` + devUserID + `')
		 ON CONFLICT (id) DO NOTHING`,
		`INSERT INTO project_members (project_id, user_id) VALUES ('` + devProjectID + `', '` + devUserID + `')
		 ON CONFLICT DO NOTHING`,
	}
	for _, q := range stmts {
		if _, err := pool.Exec(ctx, q); err != nil {
			logger.Errorf("seed dev data: %v", err)
			os.Exit(1)
		}
	}
	logger.Infof("dev data seeded: user=%s project=%s", devUserID, devProjectID)
}

// seedDevToken mints a bearer token for the dev user (the in-memory token
// store starts empty). Set DEV_API_TOKEN to pin a known value.
func seedDevToken(store storage.TokenStore) {
	token := os.Getenv("DEV_API_TOKEN")
	if token == "" {
		token = uuid.New().String()
	}
	if err := store.SetAPIToken(context.Background(), token, devUserID); err != nil {
		logger.Errorf("seed dev token: %v", err)
		os.Exit(1)
	}
	logger.Infof("dev API token (user %s): %s", devUserID, token)
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	files := []string{
		"migrations/001_init.sql",
	}
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			logger.Errorf("read migration %s: %v", f, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", f, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "projectdesk"
		password = "projectdesk_secret"
		database = "projectdesk"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
