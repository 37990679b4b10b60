// README: Entry point; loads config, wires services, starts the HTTP server.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"relaydispatch/internal/cache"
	"relaydispatch/internal/config"
	httptransport "relaydispatch/internal/http"
	"relaydispatch/internal/infra"
	"relaydispatch/internal/logging"
	"relaydispatch/internal/maps"
	"relaydispatch/internal/modules/activity"
	"relaydispatch/internal/modules/order"
	"relaydispatch/internal/modules/relaynode"
	"relaydispatch/internal/modules/routing"
	"relaydispatch/internal/modules/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.New(cfg.Log.Level)
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("db init", zap.Error(err))
	}
	defer dbPool.Close()

	redisClient := infra.NewRedis(cfg.Redis.Addr)
	defer func() { _ = redisClient.Close() }()

	// An empty maps key is allowed: routing falls back to haversine estimates
	// and orders without stored coordinates fail their runs.
	var geocoder maps.Geocoder
	var directions maps.Directions
	if cfg.Maps.APIKey != "" {
		mapsClient, err := maps.NewClient(cfg.Maps.APIKey,
			time.Duration(cfg.Routing.MapsTimeoutSeconds)*time.Second)
		if err != nil {
			logger.Fatal("maps init", zap.Error(err))
		}
		geocoder = mapsClient
		directions = mapsClient
	} else {
		logger.Warn("GOOGLE_MAPS_API_KEY not set; using haversine estimates only")
	}

	redisCache := cache.NewRedis(redisClient)

	nodeStore := relaynode.NewStore(dbPool)
	directory := relaynode.NewDirectory(nodeStore, redisCache,
		time.Duration(cfg.Routing.NodeCacheTTLSecs)*time.Second, logger)

	planner := routing.NewPlanner(cfg.Routing.CorridorFactor)
	resolver := routing.NewResolver(directions, redisCache,
		time.Duration(cfg.Routing.RouteCacheTTLSecs)*time.Second, logger)

	feed := activity.NewFeed(dbPool, redisClient, logger)

	orderStore := order.NewPGStore(dbPool)
	materializer := order.NewMaterializer(orderStore, directory, planner,
		resolver, geocoder, feed, cfg.Routing, logger)

	walletStore := wallet.NewPGStore(dbPool)
	ledger := wallet.NewLedger(walletStore, feed, logger)

	gateway := httptransport.NewServer(httptransport.ServerDeps{
		Materializer: materializer,
		Ledger:       ledger,
		Nodes:        directory,
		Log:          logger,
	})

	server := &http.Server{Addr: cfg.HTTP.Addr, Handler: gateway.Routes()}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	logger.Info("relay api listening", zap.String("addr", cfg.HTTP.Addr))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("http server", zap.Error(err))
	}
}
