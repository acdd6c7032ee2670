package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"arivara/internal/app"
	"arivara/internal/config"
	"arivara/internal/heading"
	"arivara/internal/pipeline"
	"arivara/internal/server"
	"arivara/internal/servicetoken"
	"arivara/internal/usertoken"
	"arivara/internal/util"
	"arivara/pkg/storage"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	presignTTL, err := config.ParseDuration(cfg.PresignTTL)
	if err != nil {
		log.Fatalf("failed to parse presign TTL: %v", err)
	}
	identityLeeway, err := config.ParseDuration(cfg.IdentityLeeway)
	if err != nil {
		log.Fatalf("failed to parse identity leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	var objects storage.ObjectStore
	if cfg.MinioEndpoint != "" {
		objects, err = storage.NewMinioStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init object store: %v", err)
		}
	}

	var headings app.HeadingGenerator
	if cfg.HeadingBaseURL != "" && cfg.HeadingModel != "" {
		headings = heading.NewOpenAICompatGenerator(cfg.HeadingBaseURL, cfg.HeadingAPIKey, cfg.HeadingModel)
	}

	var dispatch app.JobDispatcher
	if cfg.DispatchStream != "" {
		dispatcher, err := pipeline.NewDispatcher(pipeline.DispatcherConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.DispatchStream,
			Group:    cfg.DispatchGroup,
		})
		if err != nil {
			log.Fatalf("failed to init job dispatcher: %v", err)
		}
		defer dispatcher.Close()
		dispatch = dispatcher
	}

	appCore, err := app.New(app.Config{
		DatabaseURL: cfg.DatabaseURL,
		Objects:     objects,
		Headings:    headings,
		Dispatch:    dispatch,
		PresignTTL:  presignTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	tokenVerifier, err := usertoken.NewVerifier(usertoken.Config{
		JWKSURL:  cfg.IdentityJWKSURL,
		Issuer:   cfg.IdentityIssuer,
		Audience: cfg.IdentityAudience,
		Leeway:   identityLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init user token verifier: %v", err)
	}

	serviceVerifier, err := servicetoken.NewVerifierWithOptions(servicetoken.VerifierOptions{
		PublicKeyPath:  cfg.ServiceTokenPublicKeyPath,
		Audience:       cfg.ServiceTokenAudience,
		AllowedIssuers: cfg.ServiceTokenIssuers,
	})
	if err != nil {
		log.Fatalf("failed to init service token verifier: %v", err)
	}

	httpServer, err := server.New(server.Config{
		App:                        appCore,
		TokenVerifier:              tokenVerifier,
		ServiceVerifier:            serviceVerifier,
		RedisAddr:                  cfg.RedisAddr,
		RedisPassword:              cfg.RedisPassword,
		ResearchRateLimitPerMinute: cfg.ResearchRateLimitPerMinute,
		ChatRateLimitPerMinute:     cfg.ChatRateLimitPerMinute,
		TrustedProxyCIDRs:          cfg.TrustedProxyCIDRs,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if cfg.RabbitURL != "" {
		consumer := pipeline.NewConsumer(cfg.RabbitURL, cfg.PipelineQueue, appCore)
		group.Go(func() error {
			return consumer.Run(groupCtx)
		})
	} else {
		slog.Warn("pipeline consumer disabled: rabbitURL not configured")
	}

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
	slog.Info("server stopped")
}
