package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/arkhipovkm/filerelay/bot"
	"github.com/arkhipovkm/filerelay/config"
	"github.com/arkhipovkm/filerelay/db"
	"github.com/arkhipovkm/filerelay/download"
	"github.com/arkhipovkm/filerelay/registry"
	"github.com/arkhipovkm/filerelay/resolver"
	"github.com/arkhipovkm/filerelay/server"
	"github.com/arkhipovkm/filerelay/streamer"
	"github.com/arkhipovkm/filerelay/utils"
)

func main() {
	configPath := pflag.StringP("config", "c", "filerelay.yaml", "path to the YAML config file (optional)")
	port := pflag.IntP("port", "p", 0, "listen port, overrides config and PORT")
	pflag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if *port > 0 {
		cfg.AppPort = *port
	}
	if err := utils.InitLogger(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer utils.Logger.Sync()

	if err := run(cfg, utils.Logger); err != nil {
		utils.Logger.Fatal("filerelay stopped", zap.Error(err))
	}
}

func run(cfg config.AppConfig, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := registry.New()
	intake := registry.NewIntake(reg, cfg.MaxFileSize)
	registry.StartCleaner(ctx, reg, cfg.Retention, 0, logger.Named("registry"))

	api, err := bot.NewAPI(cfg, logger)
	if err != nil {
		return err
	}

	cache, closeCache := linkCache(ctx, cfg, logger)
	defer closeCache()
	res := resolver.NewCached(
		resolver.NewTelegram(api, cfg.TelegramToken, cfg.TelegramFileEndpoint, cfg.LinkTTL, cfg.ResolveTimeout),
		cache,
	)
	proxy := streamer.New(reg, res, download.NewFetcher(nil),
		streamer.WithIdleTimeout(cfg.StreamIdleTimeout),
		streamer.WithLogger(logger.Named("streamer")),
	)

	journal, err := db.Open(ctx, cfg.SQLDSN)
	if err != nil {
		logger.Warn("journal disabled", zap.Error(err))
		journal = nil
	}
	if err := journal.Migrate(ctx); err != nil {
		logger.Warn("journal migration failed", zap.Error(err))
	}
	defer journal.Close()

	b := bot.New(api, intake, reg, journal, cfg.PublicURL, logger.Named("bot"))
	updates := bot.Updates(api)
	botDone := make(chan struct{})
	go func() {
		defer close(botDone)
		b.Run(ctx, updates, cfg.TelegramWorkers)
	}()

	router := server.NewRouter(cfg, reg, proxy, logger.Named("http"))
	srv := server.NewServer(fmt.Sprintf(":%d", cfg.AppPort), router, cfg.MaxConnections, logger)
	ln, err := srv.Listen()
	if err != nil {
		api.StopReceivingUpdates()
		return err
	}
	logger.Info("filerelay started",
		zap.String("addr", ln.Addr().String()),
		zap.String("base_url", cfg.BaseURL),
		zap.String("max_file_size", utils.FormatFileSize(cfg.MaxFileSize)),
		zap.Int("bot_workers", cfg.TelegramWorkers),
	)

	err = srv.Run(ctx, ln)
	api.StopReceivingUpdates()
	<-botDone
	return err
}

// linkCache prefers Redis so several relay instances share resolved links,
// falling back to the in-process LRU.
func linkCache(ctx context.Context, cfg config.AppConfig, logger *zap.Logger) (resolver.Cache, func()) {
	memory := resolver.NewMemoryCache(cfg.LinkCacheSize, cfg.LinkTTL)
	if cfg.RedisAddr == "" {
		return memory, func() {}
	}
	rc := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis unreachable, using in-memory link cache", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		rc.Close()
		return memory, func() {}
	}
	return resolver.NewRedisCache(rc, "filerelay:link:", logger.Named("link_cache")), func() { rc.Close() }
}
