// Command server is the fan-out gateway's process entrypoint: it wires
// the components together in dependency order, starts the HTTP/WebSocket
// listener, and drains connections on SIGTERM/SIGINT.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relayhub/fanout/internal/auth"
	"github.com/relayhub/fanout/internal/cache"
	"github.com/relayhub/fanout/internal/config"
	"github.com/relayhub/fanout/internal/connmgr"
	"github.com/relayhub/fanout/internal/dispatch"
	"github.com/relayhub/fanout/internal/events"
	"github.com/relayhub/fanout/internal/gateway"
	"github.com/relayhub/fanout/internal/logger"
	"github.com/relayhub/fanout/internal/metrics"
	"github.com/relayhub/fanout/internal/registry"
	"github.com/relayhub/fanout/internal/rpc"
	"github.com/relayhub/fanout/internal/sweep"
)

func main() {
	cfg := config.Load()
	logger.Initialize(cfg.LogLevel, cfg.LogPretty)
	log := logger.GetLogger()

	redisCache, err := cache.NewCache(cache.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
		Enabled:  cfg.RedisEnabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize credential cache")
	}

	verifier := auth.New(cfg, redisCache)
	reg := registry.New(cfg.MaxChannelSubscribers)
	connMgr := connmgr.New(connmgr.Config{
		ThrottleWindow:      cfg.ThrottleWindow,
		ThrottleMaxAttempts: cfg.ThrottleMaxAttempts,
		ThrottleCooldown:    cfg.ThrottleCooldown,
		HandshakeDeadline:   cfg.HandshakeDeadline,
	})

	thresholds := metrics.Thresholds{
		WarnConnections:        cfg.WarnConnections,
		CriticalConnections:    cfg.CriticalConnections,
		WarnResponseTimeMs:     cfg.WarnResponseTimeMs,
		CriticalResponseTimeMs: cfg.CriticalResponseTimeMs,
		WarnErrorRate:          cfg.WarnErrorRate,
		CriticalErrorRate:      cfg.CriticalErrorRate,
		WarnMemory:             cfg.WarnMemory,
		CriticalMemory:         cfg.CriticalMemory,
	}
	met := metrics.New(thresholds)

	gw := gateway.New(cfg, verifier, reg, connMgr, met)
	disp := dispatch.New(reg, connMgr, gw, met)

	bus := events.New(events.Config{URL: cfg.NATSURL, User: cfg.NATSUser, Password: cfg.NATSPassword})
	if bus.IsEnabled() {
		disp.SetRelay(bus)
		deliver := func(channel, event string, data json.RawMessage) {
			disp.DeliverLocal(channel, event, data)
		}
		if err := bus.Subscribe(deliver); err != nil {
			log.Warn().Err(err).Msg("failed to subscribe to cross-instance relay, continuing single-instance")
		}
	}
	defer bus.Close()

	sched := sweep.New()
	if err := sched.RegisterConnManagerSweep(connMgr, cfg.ConnManagerSweepSchedule, cfg.ConnManagerSweepStaleAfter); err != nil {
		log.Fatal().Err(err).Msg("failed to register connection manager sweep")
	}
	if err := sched.RegisterHealthEvaluation(met, cfg.HealthEvalSchedule); err != nil {
		log.Fatal().Err(err).Msg("failed to register health evaluation")
	}
	sched.Start()
	defer sched.Stop()

	rpcServer := rpc.New(rpc.Deps{
		Config:     cfg,
		Verifier:   verifier,
		Registry:   reg,
		ConnMgr:    connMgr,
		Dispatcher: disp,
		Metrics:    met,
		Gateway:    gw,
		StartedAt:  time.Now(),
	})

	mux := http.NewServeMux()
	mux.Handle("/", rpcServer.Handler())
	mux.Handle("/socket.io/", gw)

	srv := &http.Server{
		Addr:              cfg.Host + ":" + cfg.Port,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		var err error
		if cfg.SSLCertFile != "" && cfg.SSLKeyFile != "" {
			err = srv.ListenAndServeTLS(cfg.SSLCertFile, cfg.SSLKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()
	log.Info().Str("addr", srv.Addr).Msg("fan-out gateway listening")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutdown signal received, draining connections")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown did not complete cleanly")
	}
	// The gateway drains and closes live sockets before the process
	// exits; the registry and connection manager are in-memory and go
	// away with the process once nothing references them.
	gw.Shutdown(ctx)

	log.Info().Msg("shutdown complete")
}
