package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/shopdesk/shopdesk/internal/automation"
	"github.com/shopdesk/shopdesk/internal/config"
	"github.com/shopdesk/shopdesk/internal/delivery"
	"github.com/shopdesk/shopdesk/internal/pkg/distlock"
	"github.com/shopdesk/shopdesk/internal/templates"
	"github.com/shopdesk/shopdesk/internal/worker"
)

func main() {
	log.Println("Starting Shopdesk automation worker...")

	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.LoadFromEnv(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(time.Duration(cfg.Database.ConnMaxLifetime) * time.Minute)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		log.Fatalf("Failed to ping database: %v", err)
	}
	log.Println("Connected to database")

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
	}

	store := automation.NewStore(db)
	queue := automation.NewPGQueue(db)
	sched := automation.NewScheduler(store, queue)

	dispatcher := &delivery.Dispatcher{
		Email: delivery.NewSESMailer(cfg.SES.AccessKey, cfg.SES.SecretKey,
			cfg.SES.Region, cfg.SES.FromEmail, cfg.SES.FromName),
		SMSAero:  delivery.NewSMSAeroClient(cfg.SMSAero.Email, cfg.SMSAero.APIKey, cfg.SMSAero.Sign, cfg.SMSAero.BaseURL),
		SMSC:     delivery.NewSMSCClient(cfg.SMSC.Login, cfg.SMSC.Password, cfg.SMSC.Sender, cfg.SMSC.BaseURL),
		Telegram: delivery.NewTelegramClient(cfg.Telegram.BotToken, cfg.Telegram.BaseURL),
		Users:    delivery.NewPGUserDirectory(db),
	}

	renderer := templates.NewRenderer(db)
	engine := automation.NewEngine(store, sched, dispatcher, renderer, store)
	engine.SetDeliverTimeout(time.Duration(cfg.Automation.DeliverTimeoutSecs) * time.Second)

	lock := distlock.NewLock(redisClient, db, "automation:claim",
		time.Duration(cfg.Automation.LockTTLSeconds)*time.Second)

	w := worker.NewAutomationWorker(db, queue, engine, lock,
		time.Duration(cfg.Automation.PollIntervalSeconds)*time.Second,
		cfg.Automation.ClaimBatchSize)
	w.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	w.Stop()
	log.Println("Worker stopped")
}
