package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"taletinker/internal/app"
	"taletinker/internal/config"
	"taletinker/internal/listcache"
	"taletinker/internal/server"
	"taletinker/internal/usertoken"
	"taletinker/internal/util"
	"taletinker/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	generationTimeout, _ := config.ParseDuration(cfg.GenerationTimeout)
	listCacheTTL, _ := config.ParseDuration(cfg.ListCacheTTL)
	jwtLeeway, _ := config.ParseDuration(cfg.JWTLeeway)
	urlExpiry, _ := config.ParseDuration(cfg.MinioURLExpiry)

	logger := util.InitLogger(cfg.LogLevel)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("failed to reach redis: %v", err)
	}
	cancel()

	var (
		blobs    storage.ObjectStore
		mediaDir string
	)
	if cfg.MinioEndpoint != "" {
		blobs, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL, urlExpiry)
	} else {
		mediaDir = cfg.DataDir
		baseURL := strings.TrimRight(cfg.PublicMediaBaseURL, "/")
		if baseURL == "" {
			baseURL = "/media"
		}
		blobs, err = storage.NewFileStore(cfg.DataDir, baseURL)
	}
	if err != nil {
		log.Fatalf("failed to init blob storage: %v", err)
	}

	cache, err := listcache.New(redisClient, "taletinker:list", listCacheTTL)
	if err != nil {
		log.Fatalf("failed to init list cache: %v", err)
	}

	appCore, err := app.New(app.Config{
		DatabaseURL:       cfg.DatabaseURL,
		Blobs:             blobs,
		ListCache:         cache,
		AIProvider:        cfg.AIProvider,
		AIBaseURL:         cfg.AIBaseURL,
		AIAPIKey:          cfg.AIAPIKey,
		TextModel:         cfg.TextModel,
		ImageModel:        cfg.ImageModel,
		SpeechModel:       cfg.SpeechModel,
		ReasoningEffort:   cfg.ReasoningEffort,
		GenerationTimeout: generationTimeout,
		ImageSize:         cfg.ImageSize,
		ThumbnailMaxSize:  cfg.ThumbnailMaxSize,
		DefaultVoice:      cfg.DefaultVoice,
		MinStoryLines:     cfg.MinStoryLines,
		AnonSigninLine:    cfg.AnonSigninLine,
		LineMinChars:      cfg.LineMinChars,
		LineMinWords:      cfg.LineMinWords,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	verifier, err := usertoken.NewVerifier(ctx, usertoken.Config{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init token verifier: %v", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		log.Fatalf("invalid trusted proxies: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		TokenVerifier:              verifier,
		Redis:                      redisClient,
		GenerateRateLimitPerMinute: cfg.GenerateRateLimitPerMinute,
		CORSOrigins:                cfg.CORSOrigins,
		TrustedProxies:             trusted,
		MediaDir:                   mediaDir,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	writeTimeout := 2 * time.Minute
	if generationTimeout > 0 {
		writeTimeout = generationTimeout + 30*time.Second
	}
	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", "err", err)
		}
	}()

	slog.Info("taletinker server listening", "addr", addr, "blob_store", blobKind(mediaDir))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server error", "err", err)
	}
}

func blobKind(mediaDir string) string {
	if mediaDir != "" {
		return "file"
	}
	return "minio"
}
