package server

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"privacyd/internal/domain/audit"
	"privacyd/internal/domain/compliance"
	"privacyd/internal/domain/consent"
	"privacyd/internal/domain/erasure"
	"privacyd/internal/domain/export"
	"privacyd/internal/domain/rights"
	"privacyd/internal/domain/subject"
	"privacyd/internal/platform/config"
	"privacyd/internal/platform/crypto"
	"privacyd/internal/platform/db"
	"privacyd/internal/platform/email"
	"privacyd/internal/platform/jobs"
	"privacyd/internal/platform/metrics"
	audithandler "privacyd/internal/transport/http/handlers/audit"
	compliancehandler "privacyd/internal/transport/http/handlers/compliance"
	consenthandler "privacyd/internal/transport/http/handlers/consent"
	exportshandler "privacyd/internal/transport/http/handlers/exports"
	rightshandler "privacyd/internal/transport/http/handlers/rights"
	"privacyd/internal/transport/http/middleware"
)

func Run() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool, "migrations"); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	subjectStore := subject.NewStore(pool)
	consentStore := consent.NewStore(pool)
	rightsStore := rights.NewStore(pool)
	artifactStore := export.NewStore(pool)
	breachStore := compliance.NewBreachStore(pool)
	auditSvc := audit.New(pool)

	cryptoSvc, err := crypto.New(cfg.MasterSecret)
	if err != nil {
		log.Fatalf("export encryption init failed: %v", err)
	}
	signer, err := export.NewSigner(cfg.MasterSecret)
	if err != nil {
		log.Fatalf("download token signer init failed: %v", err)
	}

	pipeline := export.NewPipeline(export.NewPGReader(pool), artifactStore, cryptoSvc, signer,
		cfg.ExportDir, cfg.ExportRetention, cfg.DownloadTokenTTL)
	engine := erasure.NewEngine(erasure.NewStore(pool))
	ledger := consent.NewLedger(consentStore)
	monitor := compliance.NewMonitor(rightsStore, consentStore, breachStore)
	collector := metrics.New()
	notifier := email.New(cfg)

	orchestrator := rights.NewOrchestrator(rightsStore, subjectStore, engine, pipeline,
		notifier, auditSvc, collector, rights.Options{
			SLA:            cfg.RequestSLA,
			ProcessTimeout: cfg.ProcessTimeout,
			EncryptExports: cfg.EncryptExports,
			DownloadURL:    cfg.PublicBaseURL + "/api/v1/exports/download",
		})

	background := jobs.New(pool, cfg, pipeline, orchestrator, monitor)
	background.Start(ctx)

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger(collector))
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(cfg.Environment == "production"))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.AuthSecret))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	if cfg.MetricsEnabled {
		router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(collector.Snapshot())
		})
	}

	router.Route("/api/v1", func(r chi.Router) {
		rightshandler.NewHandler(orchestrator).RegisterRoutes(r)
		consenthandler.NewHandler(ledger).RegisterRoutes(r)
		exportshandler.NewHandler(pipeline).RegisterRoutes(r)
		compliancehandler.NewHandler(monitor).RegisterRoutes(r)
		audithandler.NewHandler(auditSvc).RegisterRoutes(r)
	})

	log.Printf("privacyd listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}
