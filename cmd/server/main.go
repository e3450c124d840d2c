package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatgate/internal/auth"
	"chatgate/internal/config"
	"chatgate/internal/db"
	"chatgate/internal/kv"
	clog "chatgate/internal/log"
	"chatgate/internal/mw"
	"chatgate/internal/server"
	"chatgate/internal/service"
	"chatgate/internal/token"
	"chatgate/internal/ws"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// main 加载配置、初始化日志与存储，然后启动 Gin 服务并在收到信号后优雅退出。
func main() {
	envFile := pflag.String("env-file", ".env", "optional dotenv file loaded before the environment")
	addr := pflag.String("addr", "", "listen address, overrides APP_PORT")
	pflag.Parse()

	if err := config.LoadFile(*envFile); err != nil {
		clog.Init("prod")
		log.Fatal().Err(err).Str("path", *envFile).Msg("load env file")
	}
	cfg := config.Load()
	clog.Init(cfg.Env)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	users := userStore(cfg)

	var (
		store  kv.Store
		rdb    *redis.Client
		health func(context.Context) error
	)
	if cfg.SessionStore == "redis" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		defer rdb.Close()
		r := kv.NewRedis(rdb)
		if err := r.Ping(ctx); err != nil {
			log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("redis ping")
		}
		store, health = r, r.Ping
	} else {
		m := kv.NewMemory()
		m.StartJanitor(time.Minute)
		defer m.Close()
		store = m
		log.Warn().Msg("using in-memory session store; sessions are lost on restart")
	}

	codec := token.NewCodec(cfg.JWTSecret, token.WithAccessTTL(cfg.AccessTokenTTL()))
	hasher, err := auth.NewHasher(auth.Argon2Params{
		Memory:      uint32(cfg.Argon2MemoryKiB),
		Time:        uint32(cfg.Argon2Time),
		Parallelism: uint8(cfg.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}, cfg.HashConcurrency)
	if err != nil {
		log.Fatal().Err(err).Msg("password hasher")
	}
	authCfg := auth.Config{
		RefreshTTL:      cfg.RefreshTokenTTL(),
		AttemptWindow:   time.Duration(cfg.LoginAttemptWindowMinutes) * time.Minute,
		LockoutTTL:      time.Duration(cfg.LockoutMinutes) * time.Minute,
		VerificationTTL: time.Hour,
		MaxAttempts:     cfg.MaxLoginAttempts,
		MaxSessions:     cfg.MaxSessions,
		VerifyURL:       cfg.PublicURL + "/auth/verify-email",
	}
	authSvc := auth.NewService(users, store, codec, hasher, authCfg)
	accounts := service.NewAccountService(users, authSvc)

	hub := ws.NewHub()
	var bus ws.Broadcaster = ws.NewLocalBus(hub)
	if cfg.WSFanout == "redis" {
		rb := ws.NewRedisBus(rdb, hub)
		if err := rb.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("room bus")
		}
		defer rb.Close()
		bus = rb
	}
	gw := ws.NewGateway(hub, bus, codec, ws.WithRoomMembership(cfg.WSRequireRoomMembership))

	limiter := mw.NewRateLimiter(rate.Every(6*time.Second), 10, 10*time.Minute)
	defer limiter.Stop()
	h := server.NewHandler(authSvc, accounts, codec).WithHealthCheck(health)
	engine := server.SetupRouter(cfg, h, gw, limiter)

	listen := ":" + cfg.Port
	if *addr != "" {
		listen = *addr
	}
	srv := &http.Server{Addr: listen, Handler: engine, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", listen).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server stopped")
		return
	}
	log.Info().Msg("server stopped")
}

func userStore(cfg config.Config) auth.UserStore {
	if cfg.UserStore == "memory" {
		log.Warn().Msg("using in-memory user store; accounts are lost on restart")
		return db.NewMemoryUsers()
	}
	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}
	return db.NewUserRepo(gdb)
}
