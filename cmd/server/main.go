package main

import (
	"log"
	"os"

	"github.com/suPer8Hu/rabbithole/internal/config"
	"github.com/suPer8Hu/rabbithole/internal/db"
	"github.com/suPer8Hu/rabbithole/internal/httpapi"
	"github.com/suPer8Hu/rabbithole/internal/logger"
	"github.com/suPer8Hu/rabbithole/internal/store/rabbitmq"
	"github.com/suPer8Hu/rabbithole/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		zlog.Fatalw("migrate", "err", err)
	}

	// redis is optional: without it the agent status endpoint serves
	// this process's local state only
	rds, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		zlog.Warnw("redis unavailable, continuing without it", "err", err)
		rds = nil
	} else {
		defer rds.Close()
	}

	// rabbitmq is optional too: without it ingestion classifies inline
	// and /agent/run executes in-process
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		zlog.Warnw("rabbitmq unavailable, running single-binary", "err", err)
		pub = nil
	} else {
		defer pub.Close()
	}

	r := httpapi.NewRouter(gdb, cfg, rds, pub, zlog)

	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	zlog.Infow("server starting", "addr", addr, "provider", cfg.AIProvider)
	if err := r.Run(addr); err != nil {
		zlog.Fatalw("server", "err", err)
	}
}
