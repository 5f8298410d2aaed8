package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	credentialhandler "vericred/internal/credential/handler"
	credentialservice "vericred/internal/credential/service"
	credentialstore "vericred/internal/credential/store"
	identityhandler "vericred/internal/identity/handler"
	identityservice "vericred/internal/identity/service"
	identitystore "vericred/internal/identity/store"
	"vericred/internal/platform/config"
	"vericred/internal/platform/httpserver"
	"vericred/internal/platform/logger"
	"vericred/internal/platform/metrics"
	"vericred/internal/platform/postgres"
	platformredis "vericred/internal/platform/redis"
	proofhandler "vericred/internal/proofrequest/handler"
	proofservice "vericred/internal/proofrequest/service"
	proofstore "vericred/internal/proofrequest/store"
	"vericred/internal/ratelimit"
	templatehandler "vericred/internal/template/handler"
	templateservice "vericred/internal/template/service"
	templatestore "vericred/internal/template/store"
	httptransport "vericred/internal/transport/http"
	verificationhandler "vericred/internal/verification/handler"
	verificationservice "vericred/internal/verification/service"
	"vericred/pkg/platform/audit"
)

// main wires dependencies and owns the process lifecycle. Postgres, Redis,
// and Kafka are optional: without them the process runs single-instance on
// in-memory stores.
func main() {
	cfg := config.FromEnv()
	log := logger.New()
	if err := run(context.Background(), cfg, log); err != nil &&
		!errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	db, err := postgres.Open(ctx, cfg.PostgresDSN)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
	}

	redisClient, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	auditor, closeAudit, err := buildAuditor(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	limiter := ratelimit.New(buildAttemptStore(redisClient), log,
		cfg.AuthRateLimit.MaxAttempts, cfg.AuthRateLimit.Window, cfg.AuthRateLimit.SweepInterval)

	tokens := identityservice.NewTokenService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.TokenTTL)

	identityStore := buildIdentityStore(db)
	identities := identityservice.New(identityStore, limiter, identityservice.AcceptAllSignatures{},
		tokens, auditor, m, log)

	templates := templateservice.New(buildTemplateStore(db), log)

	credentials := credentialservice.New(buildCredentialStore(db), identityStore, templates,
		auditor, m, log)

	verifier := verificationservice.New(credentials,
		verificationservice.PassthroughProofs{},
		verificationservice.OpenTrustRegistry{},
		verificationservice.AssumeAnchored{},
		m, log)

	proofStore, proofTx := buildProofStore(db)
	proofs := proofservice.New(proofStore, proofTx, templates, credentials, auditor, m, log)

	router := httptransport.NewRouter(httptransport.Deps{
		Identity:       identityhandler.New(identities, log),
		Verification:   verificationhandler.New(verifier, log),
		Templates:      templatehandler.New(templates, log),
		Credentials:    credentialhandler.New(credentials, identities, log),
		Proofs:         proofhandler.New(proofs, identities, log),
		TokenValidator: tokens,
		Metrics:        m,
		Logger:         log,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting vericred", "addr", cfg.Addr,
			"postgres", db != nil, "redis", redisClient != nil, "kafka", len(cfg.KafkaBrokers) > 0)
		return srv.ListenAndServe()
	})
	g.Go(func() error {
		return limiter.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func buildAuditor(ctx context.Context, cfg config.Server) (*audit.Publisher, func(), error) {
	if len(cfg.KafkaBrokers) > 0 {
		store, err := audit.NewKafkaStore(ctx, cfg.KafkaBrokers, cfg.AuditTopic)
		if err != nil {
			return nil, nil, err
		}
		return audit.NewPublisher(store), store.Close, nil
	}
	return audit.NewPublisher(audit.NewMemoryStore()), func() {}, nil
}

func buildAttemptStore(redisClient *platformredis.Client) ratelimit.AttemptStore {
	if redisClient != nil {
		return ratelimit.NewRedisAttemptStore(redisClient.Client)
	}
	return ratelimit.NewMemoryAttemptStore()
}

func buildIdentityStore(db *sql.DB) identityservice.Store {
	if db != nil {
		return identitystore.NewPostgres(db)
	}
	return identitystore.NewMemory()
}

func buildTemplateStore(db *sql.DB) templateservice.Store {
	if db != nil {
		return templatestore.NewPostgres(db)
	}
	return templatestore.NewMemory()
}

func buildCredentialStore(db *sql.DB) credentialservice.Store {
	if db != nil {
		return credentialstore.NewPostgres(db)
	}
	return credentialstore.NewMemory()
}

func buildProofStore(db *sql.DB) (proofservice.Store, proofservice.StoreTx) {
	if db != nil {
		return proofstore.NewPostgres(db), newProofPostgresTx(db)
	}
	store := proofstore.NewMemory()
	return store, proofservice.NewShardedTx(store)
}
