package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/geogismaps/geogrid/internal/cache/recordcache"
	"github.com/geogismaps/geogrid/internal/cache/redisstore"
	"github.com/geogismaps/geogrid/internal/config"
	"github.com/geogismaps/geogrid/internal/httpclient"
	"github.com/geogismaps/geogrid/internal/invalidation"
	"github.com/geogismaps/geogrid/internal/logger"
	"github.com/geogismaps/geogrid/internal/observability"
	"github.com/geogismaps/geogrid/internal/permission"
	"github.com/geogismaps/geogrid/internal/server"
	"github.com/geogismaps/geogrid/internal/store/tablehttp"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	if cfg.InstanceID == "" {
		cfg.InstanceID = logger.NewID()
	}

	zl := logger.Build(logger.Config{
		Level:    cfg.LogLevel,
		Console:  cfg.LogConsole,
		Instance: cfg.InstanceID,
	}, nil)
	sl := logger.NewSlog(&zl)
	zl.Info().Str("version", Version).Str("addr", cfg.Addr).Msg("starting geogrid-server")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outbound := httpclient.NewOutbound(cfg.StoreTimeout)
	recordStore, err := tablehttp.New(sl, outbound, cfg.StoreBaseURL, cfg.StoreToken)
	if err != nil {
		zl.Fatal().Err(err).Msg("record store client")
	}

	opts := []server.Option{}

	var cacheCli *redisstore.Client
	if cfg.CacheEnabled {
		cacheCli, err = redisstore.New(ctx, cfg.RedisAddr)
		if err != nil {
			// the cache is an accelerator, never a dependency
			zl.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("redis unavailable, running uncached")
		} else {
			defer func() { _ = cacheCli.Close() }()
			recCache := recordcache.New(sl, cacheCli, cfg.CacheTTL)
			opts = append(opts, server.WithCache(recCache))
			opts = append(opts, server.WithReadiness(func(ctx context.Context) error {
				_, err := cacheCli.Get(ctx, "readyz")
				return err
			}))

			if cfg.Invalidation.Enabled {
				brokers := splitBrokers(cfg.Invalidation.Brokers)
				producer, err := invalidation.NewProducer(zl, brokers, cfg.Invalidation.Topic, cfg.InstanceID)
				if err != nil {
					zl.Error().Err(err).Msg("invalidation producer disabled")
				} else {
					defer func() { _ = producer.Close() }()
					opts = append(opts, server.WithNotifier(producer))
				}

				consumerCfg := invalidation.ConsumerConfigFromEnv()
				consumerCfg.Brokers = brokers
				consumerCfg.Topic = cfg.Invalidation.Topic
				consumerCfg.GroupID = cfg.Invalidation.GroupID
				consumerCfg.Source = cfg.InstanceID
				consumer, err := invalidation.NewConsumer(consumerCfg, zl, recCache)
				if err != nil {
					zl.Error().Err(err).Msg("invalidation consumer disabled")
				} else {
					go func() {
						if err := consumer.Start(ctx); err != nil {
							zl.Error().Err(err).Msg("invalidation consumer stopped")
						}
					}()
				}
			}
		}
	}

	var permStore permission.Store
	if cfg.PermissionsDSN != "" {
		pg, err := permission.OpenPG(cfg.PermissionsDSN)
		if err != nil {
			zl.Fatal().Err(err).Msg("permission store")
		}
		defer func() { _ = pg.Close() }()
		permStore = pg
	} else {
		zl.Warn().Msg("PERMISSIONS_DSN unset, using empty in-memory permission store")
		permStore = permission.NewMemStore()
	}
	resolver := permission.NewResolver(sl, permStore, cfg.PermCacheSize)

	srv := server.New(zl, cfg, recordStore, resolver, opts...)
	observability.ExposeBuildInfo(Version)

	if err := srv.Run(ctx); err != nil {
		zl.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	zl.Info().Msg("server stopped")
}

func splitBrokers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
