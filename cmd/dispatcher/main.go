package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-dispatch/internal/api"
	"github.com/ignite/campaign-dispatch/internal/config"
	"github.com/ignite/campaign-dispatch/internal/pkg/caltime"
	"github.com/ignite/campaign-dispatch/internal/pkg/distlock"
	"github.com/ignite/campaign-dispatch/internal/pkg/logger"
	"github.com/ignite/campaign-dispatch/internal/render"
	"github.com/ignite/campaign-dispatch/internal/repository/memory"
	"github.com/ignite/campaign-dispatch/internal/repository/postgres"
	"github.com/ignite/campaign-dispatch/internal/service/campaign"
	"github.com/ignite/campaign-dispatch/internal/service/sending"
	"github.com/ignite/campaign-dispatch/internal/worker"
)

// stores bundles the repositories for the selected driver.
type stores struct {
	campaigns  campaign.CampaignRepository
	states     campaign.RunStateStore
	ledger     campaign.DeliveryLedger
	recipients campaign.RecipientDirectory
	templates  render.TemplateStore
}

func main() {
	configPath := flag.String("config", envOr("DISPATCH_CONFIG", "config.yaml"), "path to the YAML config file")
	migrate := flag.Bool("migrate", false, "apply the postgres schema before starting")
	flag.Parse()

	log.Println("Starting campaign dispatcher...")

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))
	logger.SetRedactPII(cfg.Logging.Redact())

	zone := caltime.NewZone(cfg.Dispatch.UTCOffsetMinutes, nil)
	log.Printf("Calendar zone UTC%+d minutes", cfg.Dispatch.UTCOffsetMinutes)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var db *sql.DB
	var st stores
	switch cfg.Database.Driver {
	case "memory":
		st = stores{
			campaigns:  memory.NewCampaignRepo(),
			states:     memory.NewRunStateStore(),
			ledger:     memory.NewDeliveryLedger(),
			recipients: memory.NewRecipientDirectory(),
			templates:  memory.NewTemplateStore(),
		}
		log.Println("Using in-memory store (state is lost on exit)")
	default:
		openCtx, openCancel := context.WithTimeout(ctx, 10*time.Second)
		db, err = postgres.Open(openCtx, cfg.Database.URL, postgres.PoolConfig{
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute,
		})
		openCancel()
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		log.Println("Connected to database")

		if *migrate {
			if err := postgres.Migrate(ctx, db); err != nil {
				log.Fatalf("Failed to apply schema: %v", err)
			}
			log.Println("Schema applied")
		}
		st = stores{
			campaigns:  postgres.NewCampaignRepo(db),
			states:     postgres.NewRunStateRepo(db),
			ledger:     postgres.NewDeliveryRepo(db),
			recipients: postgres.NewRecipientRepo(db),
			templates:  postgres.NewTemplateRepo(db),
		}
	}

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			log.Fatalf("Invalid redis url: %v", err)
		}
		rdb = redis.NewClient(opts)
		defer rdb.Close()
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Printf("WARNING: Redis unavailable, campaign locks may fail: %v", err)
		} else {
			log.Println("Connected to Redis")
		}
		pingCancel()
	}
	locks := distlock.NewFactory(rdb, db)

	providers, err := worker.BuildProviders(ctx, cfg.Providers)
	if err != nil {
		log.Fatalf("Failed to build providers: %v", err)
	}
	pool, err := sending.NewPool(providers, st.ledger, zone)
	if err != nil {
		log.Fatalf("Failed to create provider pool: %v", err)
	}
	log.Printf("Provider pool ready with %d providers", len(providers))

	svc := campaign.NewService(campaign.Deps{
		Campaigns:  st.campaigns,
		States:     st.states,
		Ledger:     st.ledger,
		Recipients: st.recipients,
		Renderer:   render.NewTemplateService(st.templates),
		Pool:       pool,
		Zone:       zone,
	}, locks, campaign.Defaults{
		BatchSize:     cfg.Dispatch.DefaultBatchSize,
		EmailInterval: cfg.Dispatch.DefaultEmailIntervalSeconds,
		LockTTL:       cfg.Dispatch.LockTTL(),
	})

	// Start resets interrupted runs before any timer is armed.
	sched := worker.NewTriggerScheduler(st.campaigns, svc, zone, nil)
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}

	go worker.NewResumeWorker(svc, cfg.Dispatch.ResumeInterval()).Start(ctx)

	handlers := api.NewHandlers(ctx, svc, sched)
	health := api.NewHealthChecker(cfg.Database.Driver, db, rdb, sched)
	server := api.NewServer(cfg.Server, handlers, health)

	go func() {
		log.Printf("HTTP server listening on %s", cfg.Server.Addr())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown error: %v", err)
	}
	sched.Stop()
	cancel()

	log.Println("Dispatcher stopped")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
