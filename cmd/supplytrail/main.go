package main

import (
	"context"
	"crypto/ed25519"
	"github.com/RyanW02/supplytrail/internal/config"
	"github.com/RyanW02/supplytrail/internal/server"
	"github.com/RyanW02/supplytrail/pkg/audit"
	"github.com/RyanW02/supplytrail/pkg/broadcast"
	"github.com/RyanW02/supplytrail/pkg/cache"
	"github.com/RyanW02/supplytrail/pkg/credential"
	"github.com/RyanW02/supplytrail/pkg/expiry"
	"github.com/RyanW02/supplytrail/pkg/ledger"
	"github.com/RyanW02/supplytrail/pkg/mirror"
	"github.com/RyanW02/supplytrail/pkg/monitoring"
	"github.com/RyanW02/supplytrail/pkg/repository"
	"github.com/RyanW02/supplytrail/pkg/repository/memory"
	"github.com/RyanW02/supplytrail/pkg/repository/mongodb"
	"github.com/RyanW02/supplytrail/pkg/retry"
	"github.com/RyanW02/supplytrail/pkg/signature"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := buildLogger(cfg)
	defer logger.Sync()

	shutdownOrchestrator := broadcast.NewShutdown()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := monitoring.New(registry)

	ledgerRetry := buildRetryManager(cfg, logger, metrics, "ledger")
	mirrorRetry := buildRetryManager(cfg, logger, metrics, "mirror")
	repositoryRetry := buildRetryManager(cfg, logger, metrics, "repository")

	network := buildNetwork(cfg, logger.With(zap.String("module", "ledger")))
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		if err := network.Close(ctx); err != nil {
			logger.Error("Failed to close ledger clients", zap.Error(err))
		}
	}()

	submitter := ledger.NewSubmitter(
		logger.With(zap.String("module", "ledger_submitter")),
		network,
		ledgerRetry,
		ledger.WithRateLimit(rate.Limit(cfg.Ledger.RateLimit), cfg.Ledger.RateBurst),
		ledger.WithRecorder(metrics),
		ledger.WithAttemptTimeout(cfg.Ledger.BroadcastTimeout.Duration()),
	)

	envelopeSigner := buildEnvelopeSigner(cfg, logger)

	mirrorClient := mirror.NewClient(
		logger.With(zap.String("module", "mirror_client")),
		cfg.Mirror.BaseUrl,
		cfg.Mirror.RequestTimeout.Duration(),
	)

	mirrorService := mirror.NewService(
		logger.With(zap.String("module", "mirror")),
		mirrorClient,
		mirrorRetry,
		mirror.RealClock(),
		metrics,
		mirror.ServiceConfig{
			DefaultTopicID: cfg.Ledger.TopicID,
			DefaultLimit:   cfg.Mirror.QueryLimit,
			QueryTimeout:   cfg.Mirror.RequestTimeout.Duration(),
			PollInterval:   cfg.Mirror.PollInterval.Duration(),
			PollLimit:      cfg.Mirror.PollLimit,
		},
	)

	repo, closeRepo := buildRepository(cfg, logger.With(zap.String("module", "repository")))
	defer closeRepo()

	store, closeStore := buildCacheStore(cfg, logger.With(zap.String("module", "cache")))
	defer closeStore()

	signingKey, err := cfg.Credentials.SigningKeyBytes()
	if err != nil {
		logger.Fatal("Invalid credential signing key", zap.Error(err))
	}

	credentialService := credential.NewService(
		logger.With(zap.String("module", "credentials")),
		credential.Config{
			IssuerID:                 cfg.Credentials.IssuerID,
			SigningKey:               signingKey,
			DefaultExpiration:        cfg.Credentials.DefaultExpiration.Duration(),
			MaxCredentialsPerProduct: cfg.Credentials.MaxPerProduct,
			Network:                  cfg.Ledger.Network,
			TopicID:                  cfg.Ledger.TopicID,
			VerificationUrl:          cfg.Credentials.VerificationUrl,
			IssueTimeout:             cfg.Credentials.IssueTimeout.Duration(),
			VerifyTimeout:            cfg.Credentials.VerifyTimeout.Duration(),
			RevokeTimeout:            cfg.Credentials.RevokeTimeout.Duration(),
		},
		repo,
		credential.NewDefaultValidator(
			logger.With(zap.String("module", "credential_validator")),
			trustedIssuers(cfg),
			time.Now,
		),
		submitter,
		envelopeSigner,
		repositoryRetry,
		store,
		cfg.Cache.TTL.Duration(),
		credential.WithRecorder(metrics),
	)

	if cfg.Expiry.Enabled {
		expiryAgent := expiry.NewAgent(cfg, logger.With(zap.String("module", "expiry_agent")), repo, metrics)
		go expiryAgent.StartLoop(shutdownOrchestrator.Subscribe())
	}

	if cfg.Ledger.WatchTopic {
		watcherLogger := logger.With(zap.String("module", "audit_watcher"))
		watcher := audit.NewWatcher(
			watcherLogger,
			submitter,
			signature.NewVerifier(watcherLogger, mirrorClient),
			metrics,
			cfg.Ledger.TopicID,
			cfg.Credentials.IssuerID,
			envelopeSigner.PublicKey(),
		)
		go watcher.StartLoop(shutdownOrchestrator.Subscribe())
	}

	httpServer := server.NewServer(
		cfg,
		logger.With(zap.String("module", "server")),
		credentialService,
		mirrorService,
		repo,
		metrics,
		ledgerRetry,
		mirrorRetry,
		repositoryRetry,
	)

	go func() {
		if err := httpServer.Run(); err != nil {
			logger.Fatal("Failed to run HTTP server", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-stop

	logger.Info("Received shutdown signal!")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Failed to shutdown HTTP server", zap.Error(err))
	} else {
		logger.Info("HTTP server shutdown successfully")
	}
	cancel()

	if err := shutdownOrchestrator.Await(time.Second * 5); err != nil {
		logger.Error("Failed to shutdown background workers", zap.Error(err))
	} else {
		logger.Info("Background workers shutdown successfully")
	}
}

func buildLogger(cfg config.Config) *zap.Logger {
	var logCfg zap.Config
	if cfg.Production {
		logCfg = zap.NewProductionConfig()

		if cfg.PrettyLogs {
			logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
			logCfg.Encoding = "console"
		}
	} else {
		logCfg = zap.NewDevelopmentConfig()
		logCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level, err := zapcore.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil {
		level = zapcore.InfoLevel
	}

	logCfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := logCfg.Build()
	if err != nil {
		panic(err)
	}

	return logger
}

func buildRetryManager(cfg config.Config, logger *zap.Logger, metrics *monitoring.Metrics, service string) *retry.Manager {
	return retry.NewManager(
		service,
		logger.With(zap.String("module", "retry"), zap.String("service", service)),
		retry.WithPolicy(retry.Policy{
			MaxAttempts:       cfg.Retry.MaxAttempts,
			BaseDelay:         cfg.Retry.BaseDelay.Duration(),
			MaxDelay:          cfg.Retry.MaxDelay.Duration(),
			BackoffMultiplier: cfg.Retry.BackoffMultiplier,
			UseJitter:         cfg.Retry.UseJitter,
		}),
		retry.WithHealthObserver(metrics),
	)
}

func buildNetwork(cfg config.Config, logger *zap.Logger) *ledger.CometNetwork {
	cometConfig := ledger.DefaultCometConfig()
	cometConfig.BroadcastTimeout = cfg.Ledger.BroadcastTimeout.Duration()
	cometConfig.ProbeTimeout = cfg.Ledger.ProbeTimeout.Duration()
	cometConfig.ReconnectBackoff = cfg.Ledger.ReconnectBackoff.Duration()

	network, err := ledger.DialComet(logger, cometConfig, cfg.Ledger.NodeAddresses)
	if err != nil {
		logger.Fatal("Failed to create ledger clients", zap.Error(err))
	}

	return network
}

func buildEnvelopeSigner(cfg config.Config, logger *zap.Logger) *signature.Signer {
	if cfg.Ledger.PrivateKey == "" {
		if cfg.Production {
			logger.Fatal("A ledger private key is required in production")
		}

		_, key, err := ed25519.GenerateKey(nil)
		if err != nil {
			logger.Fatal("Failed to generate ledger key", zap.Error(err))
		}

		signer := signature.NewSigner(key)
		logger.Warn("No ledger private key configured, using an ephemeral key", zap.String("public_key", signer.PublicKeyHex()))
		return signer
	}

	signer, err := signature.NewSignerFromHex(cfg.Ledger.PrivateKey)
	if err != nil {
		logger.Fatal("Invalid ledger private key", zap.Error(err))
	}

	return signer
}

// trustedIssuers always trusts this service's own issuer id.
func trustedIssuers(cfg config.Config) []string {
	issuers := []string{cfg.Credentials.IssuerID}
	for _, issuer := range cfg.Credentials.TrustedIssuers {
		if issuer != cfg.Credentials.IssuerID {
			issuers = append(issuers, issuer)
		}
	}

	return issuers
}

func buildRepository(cfg config.Config, logger *zap.Logger) (repository.Repository, func()) {
	if cfg.MongoDB.URI == "" {
		logger.Warn("No MongoDB URI configured, credentials will only be kept in memory")
		return memory.NewRepository(), func() {}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*30)
	defer cancel()

	repo, err := mongodb.Connect(ctx, logger, cfg.MongoDB.URI, cfg.MongoDB.DatabaseName)
	if err != nil {
		logger.Fatal("failed to connect to MongoDB", zap.Error(err))
	}

	if err := repo.InitSchema(ctx); err != nil {
		logger.Fatal("failed to initialize MongoDB schema", zap.Error(err))
	}

	return repo, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		if err := repo.Close(ctx); err != nil {
			logger.Error("Failed to disconnect from MongoDB", zap.Error(err))
		}
	}
}

func buildCacheStore(cfg config.Config, logger *zap.Logger) (cache.Store, func()) {
	switch cfg.Cache.Backend.ConvertCase() {
	case config.CacheBackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddress,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("failed to ping Redis server", zap.Error(err))
		}

		return cache.NewRedisStore(client, cfg.Cache.Namespace), func() {
			if err := client.Close(); err != nil {
				logger.Error("Failed to close Redis client", zap.Error(err))
			}
		}
	case config.CacheBackendMemory:
		return cache.NewMemoryStore(), func() {}
	default:
		logger.Fatal("unknown cache backend", zap.Stringer("backend", cfg.Cache.Backend))
		return nil, nil
	}
}
