package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/logcarga/armazem/internal/audit"
	"github.com/logcarga/armazem/internal/auth"
	"github.com/logcarga/armazem/internal/cache"
	"github.com/logcarga/armazem/internal/config"
	"github.com/logcarga/armazem/internal/db"
	internalhttp "github.com/logcarga/armazem/internal/http"
	"github.com/logcarga/armazem/internal/monitor"
	"github.com/logcarga/armazem/internal/nf"
	"github.com/logcarga/armazem/internal/pedido"
	"github.com/logcarga/armazem/internal/realtime"
	"github.com/logcarga/armazem/internal/repo"
	"github.com/logcarga/armazem/internal/service"
	"github.com/logcarga/armazem/internal/storage"
	"github.com/logcarga/armazem/internal/transportadora"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("api encerrada com erro")
	}
}

func run() error {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DBDSN)
	if err != nil {
		return fmt.Errorf("db: %w", err)
	}
	defer pool.Close()

	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("redis parse: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)
	defer redisClient.Close()

	// Infra de observação: fila de tarefas em segundo plano, tratador de erros
	// e monitor de segurança compartilham o mesmo sink em Postgres.
	queue := monitor.NewTaskQueue(256, log.With().Str("component", "taskqueue").Logger())
	queue.Start(ctx)
	defer queue.Stop()

	monitorRepo := monitor.NewRepository(pool)
	auditSvc := audit.NewService(audit.NewRepository(pool), queue)

	hub := realtime.NewHub(log.With().Str("component", "realtime").Logger())
	defer hub.Close()

	errorHandler := monitor.NewErrorHandler(queue, monitorRepo, auditSvc, hub, cfg.Monitor.TelemetryEnabled, log.With().Str("component", "errors").Logger())
	errorHandler.Start(ctx)
	defer errorHandler.Stop()

	secmon := monitor.NewSecurityMonitor(queue, monitorRepo, log.With().Str("component", "security").Logger())
	secmon.Start(ctx)
	defer secmon.Stop()

	// Postgres pode demorar a aceitar conexões logo após um deploy. O ping de
	// boot passa pelo tratador central, que registra cada tentativa falha.
	if err := errorHandler.RetryOperation(ctx, func(ctx context.Context) error {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(pingCtx)
	}, monitor.ErrorContext{Component: "db", Action: "boot_ping"}, 3); err != nil {
		return fmt.Errorf("db ping: %w", err)
	}

	cacheStore := cache.New(redisClient, time.Minute)
	publisher := realtime.NewPublisher(redisClient, cfg.Realtime.Channel)
	debugger := realtime.NewDebugger()

	manager := realtime.NewManager(redisClient, cfg.Realtime.Channel, cacheStore, hub, debugger, log.With().Str("component", "realtime").Logger())
	manager.Start(ctx)
	defer manager.Stop()

	var uploader storage.Uploader = storage.NoopUploader{}
	if cfg.Storage.Bucket != "" {
		uploader, err = storage.NewS3Uploader(storage.S3Config{
			Endpoint:     cfg.Storage.Endpoint,
			Region:       cfg.Storage.Region,
			Bucket:       cfg.Storage.Bucket,
			AccessKey:    cfg.Storage.AccessKey,
			SecretKey:    cfg.Storage.SecretKey,
			PublicDomain: cfg.Storage.PublicDomain,
		})
		if err != nil {
			return fmt.Errorf("storage: %w", err)
		}
	}

	repository := repo.New(pool)
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTAccessTTL)
	authService := service.NewAuthService(repository, pool, redisClient, jwtManager, secmon, cfg.JWTRefreshTTL)
	userService := service.NewUserService(repository)
	rbacService := service.NewRBACService(repository)

	transportadoraService := transportadora.NewService(transportadora.NewRepository(pool))
	nfService := nf.NewService(nf.NewRepository(pool), cacheStore, publisher, errorHandler, auditSvc, uploader)
	pedidoService := pedido.NewService(pedido.NewRepository(pool), nfService, cacheStore, publisher, auditSvc)

	handler, err := internalhttp.NewRouter(internalhttp.Deps{
		Cfg:             cfg,
		Pool:            pool,
		Redis:           redisClient,
		Auth:            authService,
		Users:           userService,
		RBAC:            rbacService,
		Transportadoras: transportadoraService,
		Notas:           nfService,
		Pedidos:         pedidoService,
		Hub:             hub,
		Debugger:        debugger,
		Errors:          errorHandler,
		Security:        secmon,
	})
	if err != nil {
		return fmt.Errorf("router: %w", err)
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handler,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("API ouvindo em :%d", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("encerrando...")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
