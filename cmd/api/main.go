package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"vpn-miniapp/internal/config"
	"vpn-miniapp/internal/db"
	apihttp "vpn-miniapp/internal/http"
	"vpn-miniapp/internal/repository"
	"vpn-miniapp/internal/service"
	"vpn-miniapp/internal/telegram"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		log.Printf("warning: loading .env: %v", err)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		panic(err)
	}

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Fatal("db connect", zap.Error(err))
	}
	defer pool.Close()

	if err := db.EnsureSchema(ctx, pool); err != nil {
		logger.Fatal("db schema", zap.Error(err))
	}

	profileRepo := repository.NewPgProfileRepository(pool)
	sessionRepo := repository.NewPgOTPSessionRepository(pool)

	sender := telegram.NewDisabledSender("telegram sender not configured")
	if cfg.TelegramBotToken != "" {
		botSender, err := telegram.NewBotAPISender(cfg.TelegramAPIBaseURL, cfg.TelegramBotToken)
		if err != nil {
			logger.Warn("telegram sender init failed", zap.Error(err))
		} else {
			sender = botSender
		}
	}

	var (
		otpLimiter  service.OTPRateLimiter
		tokenStore  service.RefreshTokenStore
		redisClient *redis.Client
	)
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		ctxPing, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := redisClient.Ping(ctxPing).Err(); err != nil {
			logger.Warn("redis ping failed", zap.Error(err))
		} else {
			otpLimiter = service.NewRedisOTPRateLimiter(redisClient, 10*time.Minute, 3)
			tokenStore = service.NewRedisRefreshTokenStore(redisClient)
		}
		cancel()
	}

	jwtSvc := service.NewJWTServiceWithStore(
		cfg.JWTSecret,
		time.Duration(cfg.JWTAccessTTLMinutes)*time.Minute,
		time.Duration(cfg.JWTRefreshTTLMinutes)*time.Minute,
		tokenStore,
	)
	if cfg.JWTSecret == "" {
		logger.Warn("jwt secret not configured")
	}

	otpSvc := service.NewOTPService(logger, profileRepo, sessionRepo, sender, otpLimiter)
	authHandler := apihttp.NewAuthHandler(logger, otpSvc, jwtSvc, profileRepo)
	router := apihttp.NewRouter(logger, pool, authHandler, jwtSvc)

	cleanupInterval := time.Duration(cfg.OTPCleanupMinutes) * time.Minute
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}
	go runCleanupLoop(ctx, logger, otpSvc, cleanupInterval)

	server := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger.Info("starting server", zap.String("port", cfg.HTTPPort))

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("server error", zap.Error(err))
	}
}

// runCleanupLoop barre sesiones OTP expiradas a intervalo fijo. El sweep es
// idempotente: correr dos veces seguidas no borra nada extra.
func runCleanupLoop(ctx context.Context, logger *zap.Logger, otpSvc *service.OTPService, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if _, err := otpSvc.CleanupExpired(sweepCtx); err != nil {
				logger.Warn("otp cleanup failed", zap.Error(err))
			}
			cancel()
		}
	}
}
