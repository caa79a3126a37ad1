package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fathima-sithara/chat-sync/internal/api"
	"github.com/fathima-sithara/chat-sync/internal/auth"
	"github.com/fathima-sithara/chat-sync/internal/composer"
	"github.com/fathima-sithara/chat-sync/internal/config"
	"github.com/fathima-sithara/chat-sync/internal/kafka"
	"github.com/fathima-sithara/chat-sync/internal/logger"
	"github.com/fathima-sithara/chat-sync/internal/metrics"
	redisstore "github.com/fathima-sithara/chat-sync/internal/redis"
	"github.com/fathima-sithara/chat-sync/internal/repository"
	"github.com/fathima-sithara/chat-sync/internal/store"
	"github.com/fathima-sithara/chat-sync/internal/ws"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	_ = godotenv.Load()

	cfgPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	lg, err := logger.New(logger.Config{Development: cfg.Log.Development})
	if err != nil {
		log.Fatalf("logger init: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	metrics.Init()

	st, closeStore, err := openStore(cfg, lg)
	if err != nil {
		lg.Fatalw("store init", "driver", cfg.Store.Driver, "error", err)
	}
	defer closeStore()

	var pub composer.EventPublisher
	if cfg.Kafka.Enabled() {
		kprod := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicMessageSent)
		defer func() { _ = kprod.Close() }()
		pub = kprod
	}

	jv, err := auth.NewJWTValidator(cfg.JWT.Alg, cfg.JWT.PublicKeyPath, cfg.JWT.HSSecret)
	if err != nil {
		lg.Fatalw("jwt validator init", "error", err)
	}

	wsrv := ws.NewServer(st, pub, ws.Options{
		RateLimitPerSec:     cfg.WS.RateLimitPerSec,
		PingInterval:        cfg.PingInterval,
		MaxMessageSizeBytes: cfg.WS.MaxMessageSizeBytes,
	}, lg)
	app := api.NewServer(st, jv, wsrv, pub, lg)

	errs := make(chan error, 1)
	go func() {
		addr := ":" + cfg.App.PortString()
		lg.Infow("starting chat-sync", "addr", addr, "store", cfg.Store.Driver)
		errs <- app.Listen(addr)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case e := <-errs:
		lg.Fatalw("server error", "error", e)
	case s := <-sig:
		lg.Infow("signal received", "signal", s.String())
	}

	if err := app.ShutdownWithTimeout(cfg.ShutdownTimeout); err != nil {
		lg.Warnw("fiber shutdown", "error", err)
	}
	lg.Info("chat-sync stopped")
}

func openStore(cfg *config.Config, lg *zap.SugaredLogger) (store.Store, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverMongo:
		mc, err := repository.NewMongoClient(context.Background(), cfg.Mongo.URI, cfg.ConnectTimeout)
		if err != nil {
			return nil, nil, err
		}
		repo := repository.NewMongoRepository(mc.Database(cfg.Mongo.DB), cfg.Mongo.UsersCollection, cfg.Mongo.MessagesCollection)
		return repo, func() { _ = mc.Disconnect(context.Background()) }, nil

	case config.DriverRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, err
		}
		return redisstore.NewStore(rdb, cfg.Redis.Prefix), func() { _ = rdb.Close() }, nil

	default:
		lg.Warnw("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
}
