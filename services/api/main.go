package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/channelhub/internal/chat"
	"github.com/channelhub/internal/completion"
	"github.com/channelhub/internal/config"
	"github.com/channelhub/internal/handler"
	"github.com/channelhub/internal/logger"
	"github.com/channelhub/internal/middleware"
	"github.com/channelhub/internal/notify"
	"github.com/channelhub/internal/pipeline"
	"github.com/channelhub/internal/push"
	"github.com/channelhub/internal/repository"
	"github.com/channelhub/internal/startup"
	"github.com/channelhub/internal/storage"
	"github.com/channelhub/internal/storage/memory"
	"github.com/channelhub/internal/ws"
	"github.com/channelhub/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB or Redis required)")
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

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second)
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}
	logger.Info("database connected, migrations applied")

	userRepo := repository.NewUserRepository(pool)
	channelRepo := repository.NewChannelRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	webhookRepo := repository.NewWebhookRepository(pool)

	// Подписки Web Push: Redis в prod, память в -dev.
	var subStore storage.SubscriptionStore
	if *dev {
		subStore = memory.New()
	} else {
		subStore = startup.ConnectRedisWithRetry(cfg.Redis.URL, 60*time.Second)
		logger.Info("redis connected")
	}
	defer subStore.Close()

	var vapidKeys *push.VAPIDKeys
	if cfg.PushEnabled {
		vapidKeys, err = push.EnsureVAPIDKeys("")
		if err != nil {
			logger.Errorf("vapid: %v (push-отправка отключена)", err)
		}
	}
	pushSubject := cfg.PushSubject
	if pushSubject == "" {
		pushSubject = "mailto:admin@localhost"
	}
	pushClient := push.NewClient(subStore, vapidKeys, pushSubject)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(cfg.MaxWSConnections)
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	connections := make([]pipeline.Connection, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		connections = append(connections, pipeline.Connection{URL: pc.URL, Key: pc.Key})
	}
	registry := pipeline.NewRegistry(connections)
	loadModels(registry)
	chain := pipeline.NewChain(registry)
	completions := completion.NewClient(cfg.Completion.URL, cfg.Completion.Key, time.Duration(cfg.Completion.Timeout)*time.Second)

	chatSvc := chat.NewService(channelRepo, msgRepo, userRepo, hub, registry, chain, completions, notify.NewPoster(), pushClient)

	if *dev {
		seedDevUser(pool, cfg.JWTSecret)
	}

	channelH := handler.NewChannelHandler(channelRepo, userRepo, msgRepo, chatSvc)
	msgH := handler.NewMessageHandler(channelRepo, userRepo, msgRepo, chatSvc)
	webhookH := handler.NewWebhookHandler(channelRepo, userRepo, webhookRepo, chatSvc)
	pipelineH := handler.NewPipelineHandler(registry, chain)
	pushH := handler.NewPushHandler(pushClient)
	userH := handler.NewUserHandler(userRepo)
	wsH := handler.NewWSHandler(hub, channelRepo, userRepo, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
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
	r.Use(middleware.Metrics)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/push/vapid-public", pushH.VAPIDPublic)

	// Входящий webhook аутентифицируется токеном из пути
	r.Post("/api/webhook/{token}", webhookH.Inbound)

	r.Group(func(r chi.Router) {
		r.Use(middleware.JWTAuth(cfg.JWTSecret, userRepo))

		r.Get("/api/users/me", userH.Me)
		r.Get("/api/users/settings", userH.GetSettings)
		r.Post("/api/users/settings", userH.UpdateSettings)

		r.Get("/api/channels", channelH.List)
		r.Post("/api/channels/create", channelH.Create)
		r.Post("/api/channels/dm", channelH.DM)
		r.Get("/api/channels/{id}", channelH.Get)
		r.Get("/api/channels/{id}/members", channelH.Members)
		r.Post("/api/channels/{id}/update", channelH.Update)
		r.Post("/api/channels/{id}/update/members/add", channelH.AddMembers)
		r.Post("/api/channels/{id}/update/members/remove", channelH.RemoveMembers)
		r.Delete("/api/channels/{id}/delete", channelH.Delete)
		r.Post("/api/channels/{id}/read", channelH.MarkRead)
		r.Post("/api/channels/{id}/active", channelH.SetActive)
		r.Post("/api/channels/{id}/mute", channelH.SetMuted)
		r.Post("/api/channels/{id}/pin", channelH.SetPinned)
		r.Post("/api/channels/{id}/leave", channelH.Leave)

		r.Get("/api/channels/{id}/messages", msgH.List)
		r.Get("/api/channels/{id}/messages/pinned", msgH.Pinned)
		r.Post("/api/channels/{id}/messages/post", msgH.Post)
		r.Get("/api/channels/{id}/messages/{mid}", msgH.Get)
		r.Post("/api/channels/{id}/messages/{mid}/update", msgH.Update)
		r.Post("/api/channels/{id}/messages/{mid}/pin", msgH.Pin)
		r.Get("/api/channels/{id}/messages/{mid}/thread", msgH.Thread)
		r.Post("/api/channels/{id}/messages/{mid}/reactions/add", msgH.AddReaction)
		r.Post("/api/channels/{id}/messages/{mid}/reactions/remove", msgH.RemoveReaction)
		r.Delete("/api/channels/{id}/messages/{mid}/delete", msgH.Delete)

		r.Get("/api/channels/{id}/webhooks", webhookH.List)
		r.Post("/api/channels/{id}/webhooks/create", webhookH.Create)
		r.Delete("/api/channels/{id}/webhooks/{wid}/delete", webhookH.Delete)

		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws", wsH.ServeWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/api/pipelines", pipelineH.List)
			r.Get("/api/pipelines/models", pipelineH.Models)
			r.Post("/api/pipelines/models", pipelineH.UpsertModel)
			r.Get("/api/pipelines/{pid}/valves", pipelineH.Valves)
			r.Get("/api/pipelines/{pid}/valves/spec", pipelineH.ValvesSpec)
			r.Post("/api/pipelines/{pid}/valves/update", pipelineH.UpdateValves)
		})
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
	chatSvc.Wait()
	logger.Info("background tasks drained")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("list migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

// loadModels сидирует реестр моделей из MODELS_CONFIG_PATH → config/models.yaml.
// Файла может не быть: тогда реестр пополняется через админ-ручку.
func loadModels(registry *pipeline.Registry) {
	paths := []string{os.Getenv("MODELS_CONFIG_PATH"), "config/models.yaml"}
	for _, path := range paths {
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var doc struct {
			Models []pipeline.Model `yaml:"models"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			logger.Errorf("models: ошибка парсинга %s: %v", path, err)
			return
		}
		registry.ReplaceModels(doc.Models)
		logger.Infof("models: загружено %d записей из %s", len(doc.Models), path)
		return
	}
}

// seedDevUser создаёт admin-пользователя для -dev и печатает токен для curl/фронта.
func seedDevUser(pool *pgxpool.Pool, secret string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	const devUserID = "dev-admin"
	now := time.Now().UnixNano()
	_, err := pool.Exec(ctx,
		`INSERT INTO users (id, name, email, role, profile_image_url, settings, created_at, updated_at)
		 VALUES ($1, 'Dev Admin', 'admin@localhost', 'admin', '', '{}', $2, $2)
		 ON CONFLICT (id) DO NOTHING`,
		devUserID, now,
	)
	if err != nil {
		logger.Errorf("dev seed: %v", err)
		return
	}
	token, err := middleware.GenerateToken(devUserID, secret, 30*24*time.Hour)
	if err != nil {
		logger.Errorf("dev token: %v", err)
		return
	}
	logger.Infof("dev user %s ready, token: %s", devUserID, token)
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "channelhub"
		password = "channelhub_secret"
		database = "channelhub"
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
