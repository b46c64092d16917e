// Command server wires high-level dependencies, exposes the HTTP router, and
// keeps the lifecycle small. Business logic lives in internal services.
package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"trustgate/internal/audit"
	"trustgate/internal/directory"
	escalation "trustgate/internal/escalation/service"
	escstore "trustgate/internal/escalation/store"
	"trustgate/internal/notify"
	"trustgate/internal/otc/codes"
	"trustgate/internal/otc/issuer"
	otcstore "trustgate/internal/otc/store"
	"trustgate/internal/otc/verifier"
	"trustgate/internal/platform/config"
	"trustgate/internal/platform/httpserver"
	"trustgate/internal/platform/logger"
	"trustgate/internal/platform/metrics"
	platformredis "trustgate/internal/platform/redis"
	"trustgate/internal/session"
	transport "trustgate/internal/transport/http"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}

	var codeStore otcstore.Store
	if redisClient != nil {
		codeStore = otcstore.NewRedisStore(redisClient, cfg.OTC.LockoutDuration)
		defer redisClient.Close()
	} else {
		log.Warn("redis not configured, using in-memory OTC store (single instance only)")
		codeStore = otcstore.NewInMemoryStore()
	}

	var escalationStore escstore.Store
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.Error("postgres connection failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		escalationStore = escstore.NewPostgresStore(db)
	} else {
		log.Warn("postgres not configured, using in-memory escalation store (single instance only)")
		escalationStore = escstore.NewInMemoryStore()
	}

	auditStore := audit.NewInMemoryStore()
	ledger := audit.NewLedger(auditStore, audit.WithLogger(log), audit.WithAsyncBuffer(1024))
	worker := audit.NewWorker(auditStore, ledger.Inbox(), log)

	dispatcher := notify.NewLogDispatcher(log)
	hasher := codes.NewHasher(cfg.OTC.HashPepper)
	principals := directory.NewInMemoryStore()

	iss, err := issuer.New(principals, codeStore, hasher, ledger,
		issuer.WithLogger(log),
		issuer.WithDispatcher(dispatcher),
		issuer.WithMetrics(m),
		issuer.WithConfig(cfg.OTC),
	)
	if err != nil {
		log.Error("issuer init failed", "error", err)
		os.Exit(1)
	}

	ver, err := verifier.New(codeStore, hasher, ledger,
		verifier.WithLogger(log),
		verifier.WithMetrics(m),
		verifier.WithConfig(cfg.OTC),
	)
	if err != nil {
		log.Error("verifier init failed", "error", err)
		os.Exit(1)
	}

	sessions, err := session.New(cfg.Session.SigningKey, cfg.Session.Issuer, ledger,
		session.WithTTL(cfg.Session.TTL),
		session.WithLogger(log),
		session.WithMetrics(m),
	)
	if err != nil {
		log.Error("session issuer init failed", "error", err)
		os.Exit(1)
	}

	engine, err := escalation.New(escalationStore, ver, ledger,
		escalation.WithLogger(log),
		escalation.WithDispatcher(dispatcher),
		escalation.WithMetrics(m),
		escalation.WithConfig(cfg.Escalation),
	)
	if err != nil {
		log.Error("escalation engine init failed", "error", err)
		os.Exit(1)
	}

	handler := transport.NewHandler(iss, ver, sessions, engine, ledger, log)
	srv := httpserver.New(cfg.Addr, transport.NewRouter(handler))

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting trustgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		err := worker.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Periodic sweep: expire stale pending escalations. Safe to run
	// concurrently with decisions; the conditional write settles races.
	g.Go(func() error {
		ticker := time.NewTicker(cfg.Escalation.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				n, err := engine.ExpireStale(ctx)
				if err != nil {
					log.Error("escalation sweep failed", "error", err)
					continue
				}
				if n > 0 {
					log.Info("expired stale escalations", "count", n)
				}
			}
		}
	})

	if err := g.Wait(); err != nil {
		log.Error("shutdown with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}
