package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"mapvet/api/internal/app"
	"mapvet/api/internal/archive"
	"mapvet/api/internal/audit"
	"mapvet/api/internal/config"
	"mapvet/api/internal/engine"
	"mapvet/api/internal/realtime"
	"mapvet/api/internal/reputation"
	"mapvet/api/internal/search"
	"mapvet/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	var db *sql.DB
	var persistence *store.PostgresStore
	var auditLog *audit.PostgresLog
	var pgfts *search.PgFTS
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		var err error
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("database connection failed: %v", err)
		}
		defer db.Close()

		if err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
		persistence = store.NewPostgresStore(db)
		auditLog = audit.NewPostgresLog(db)
		pgfts = search.NewPgFTS(db)
	} else {
		log.Printf("DATABASE_URL empty, running without persistence")
	}

	var reputationProvider engine.ReputationProvider
	var bus *realtime.RedisBus
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisStore, err := reputation.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		reputationProvider = redisStore

		bus, err = realtime.NewRedisBus(cfg.RedisURL, cfg.BroadcastChannel)
		if err != nil {
			log.Fatalf("redis bus connection failed: %v", err)
		}
		defer bus.Close()
	} else {
		log.Printf("REDIS_URL empty, using in-memory reputation and no event fanout")
		reputationProvider = reputation.NewStatic()
	}

	policy := engine.Policy{
		VoteThreshold:       cfg.VoteThreshold,
		WeightPerLevel:      cfg.WeightPerLevel,
		MinRewardCommentLen: cfg.MinRewardCommentLen,
		StatsTTL:            cfg.StatsTTL,
	}

	var auditSink engine.AuditSink
	if auditLog != nil {
		auditSink = auditLog
	}
	var broadcaster engine.Broadcaster
	if bus != nil {
		broadcaster = bus
	}
	var persistenceIface engine.Persistence
	if persistence != nil {
		persistenceIface = persistence
	}

	eng := engine.New(policy, reputationProvider, auditSink, broadcaster, persistenceIface)
	if err := eng.Restore(ctx); err != nil {
		log.Fatalf("engine restore failed: %v", err)
	}

	if bus != nil {
		if err := bus.Subscribe(ctx, realtime.NewEngineMergeHandler(eng)); err != nil {
			log.Fatalf("event subscription failed: %v", err)
		}
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliAPIKey)
		defer meiliClient.Close()
	}
	var searchService *search.Service
	if meiliClient != nil || pgfts != nil {
		searchService = search.NewService(meiliClient, pgfts)
		searchService.ReindexAllFromPG(ctx)
	}

	var archiveStore *archive.Store
	if strings.TrimSpace(cfg.MinioEndpoint) != "" {
		var err error
		archiveStore, err = archive.New(ctx, cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("archive store connection failed: %v", err)
		}
	}

	var searchIface interface {
		Search(search.Query) search.Response
		IndexDecision(search.DecisionDoc)
	}
	if searchService != nil {
		searchIface = searchService
	}
	var archiveIface interface {
		ArchiveConflict(context.Context, engine.Conflict) error
	}
	if archiveStore != nil {
		archiveIface = archiveStore
	}
	var dbPinger interface{ Ping(context.Context) error }
	if persistence != nil {
		dbPinger = persistence
	}

	service := app.NewService(cfg, eng, searchIface, archiveIface, dbPinger)
	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("MapVet API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
