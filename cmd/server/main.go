package main

import (
	"context"
	"log"
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"p2p-exchange/internal/api"
	"p2p-exchange/internal/config"
	"p2p-exchange/internal/db"
	"p2p-exchange/internal/engine"
	"p2p-exchange/internal/stepup"
	"p2p-exchange/internal/worker"
	"p2p-exchange/internal/ws"
)

func main() {
	// .env values only fill in what the environment lacks
	_ = godotenv.Load()

	cfgPath := os.Getenv("CONFIG_FILE")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// DB
	store, err := db.Open(cfg.Database.URL)
	if err != nil {
		log.Fatalf("db open: %v", err)
	}
	log.Println("[main] connected to database")

	// Migrations
	if err := store.Migrate(cfg.Database.MigrationsDir); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	log.Println("[main] migrations applied")

	// WS Hub
	hub := ws.NewHub()

	// Engine
	totp := stepup.TOTP{Issuer: cfg.Auth.TOTPIssuer}
	eng := engine.New(store, totp, engine.Options{
		FeeBps:            cfg.Trading.FeeBps,
		AutoReleaseWindow: cfg.Trading.AutoReleaseWindow.Std(),
		PublishOrder:      hub.PublishOrder,
		PublishUser:       hub.PublishUser,
	})

	// Auto-release sweeper
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ar := &worker.AutoRelease{
		Engine:   eng,
		Interval: cfg.Worker.Interval.Std(),
		Batch:    cfg.Worker.Batch,
	}
	go ar.Run(ctx)

	// HTTP
	srv := api.NewServer(store, eng, hub, totp, cfg.Auth.JWTSecret, cfg.Trading.Currencies)
	router := srv.Router()

	log.Printf("[main] listening on %s", cfg.Server.Addr)
	if err := http.ListenAndServe(cfg.Server.Addr, router); err != nil {
		log.Fatalf("server: %v", err)
	}
}
