// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// mm-server is the realtime matchmaker process: it terminates client
// sessions, runs the match formation loop against the shared queue store,
// allocates dedicated servers and fans match results out across instances.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/AccelByte/realtime-matchmaker/pkg/admin"
	"github.com/AccelByte/realtime-matchmaker/pkg/allocator"
	"github.com/AccelByte/realtime-matchmaker/pkg/auth"
	"github.com/AccelByte/realtime-matchmaker/pkg/breaker"
	"github.com/AccelByte/realtime-matchmaker/pkg/common"
	"github.com/AccelByte/realtime-matchmaker/pkg/config"
	"github.com/AccelByte/realtime-matchmaker/pkg/constants"
	"github.com/AccelByte/realtime-matchmaker/pkg/eventbus"
	"github.com/AccelByte/realtime-matchmaker/pkg/matchmaker"
	"github.com/AccelByte/realtime-matchmaker/pkg/metrics"
	"github.com/AccelByte/realtime-matchmaker/pkg/models"
	"github.com/AccelByte/realtime-matchmaker/pkg/queuestore"
	"github.com/AccelByte/realtime-matchmaker/pkg/registry"
	"github.com/AccelByte/realtime-matchmaker/pkg/session"
	"github.com/AccelByte/realtime-matchmaker/pkg/telemetry"
)

const serviceName = "mm-server"

const shutdownGracePeriod = 15 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(common.GetEnv("LOG_LEVEL", "info")); err == nil {
		logrus.SetLevel(level)
	}

	cfg, err := config.ParseConfig()
	if err != nil {
		logrus.Error("configuration invalid: ", err)
		return constants.ExitCodeConfig
	}

	modes, err := models.ParseModeSettings(cfg.ModeSettingsJSON)
	if err != nil {
		logrus.Error("mode settings invalid: ", err)
		return constants.ExitCodeConfig
	}

	shutdownTracing, err := telemetry.InitTracing(serviceName)
	if err != nil {
		logrus.Warn("tracing init failed, continuing without: ", err)
	}
	if shutdownTracing != nil {
		defer func() {
			if err := shutdownTracing(context.Background()); err != nil {
				logrus.Warn("tracing shutdown: ", err)
			}
		}()
	}

	promRegistry := prometheus.NewRegistry()
	mm := metrics.NewMetrics(promRegistry)

	redisClient := redis.NewClient(&redis.Options{
		Addr:        cfg.RedisAddr,
		Password:    cfg.RedisPassword,
		DB:          cfg.RedisDB,
		PoolSize:    cfg.RedisPoolSize,
		PoolTimeout: cfg.RedisPoolTimeout(),
	})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.RedisPoolTimeout())
	err = redisClient.Ping(pingCtx).Err()
	cancelPing()
	if err != nil {
		logrus.Error("queue store unreachable: ", err)
		return constants.ExitCodeStoreUnavailable
	}

	store := breaker.NewStoreBreaker(queuestore.NewRedisQueueStore(redisClient), cfg, mm)
	alloc := allocator.NewDedicatedServerAllocator(redisClient, cfg)

	bus, err := eventbus.NewBus(cfg, redisClient)
	if err != nil {
		logrus.Error("event bus init failed: ", err)
		return constants.ExitCodeInternal
	}
	defer bus.Close()

	reg := registry.NewSubscriptionRegistry(bus, mm)
	mmaker := matchmaker.NewQueueMatchmaker(store, alloc, bus, mm, modes, cfg)
	authService := auth.NewAuthService(cfg)

	sessionServer := session.NewServer(cfg, authService, mmaker, reg, mm)
	adminServer := admin.NewServer(cfg, store, alloc, mmaker, modes, promRegistry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	components := 4
	errCh := make(chan error, components)
	go func() { errCh <- sessionServer.Run(ctx) }()
	go func() { errCh <- adminServer.Run(ctx) }()
	go func() { errCh <- reg.Run(ctx) }()
	go func() { errCh <- mmaker.Run(ctx) }()
	go store.Run(ctx)
	go alloc.RunSweeper(ctx)

	logrus.WithFields(logrus.Fields{
		"listenAddr": cfg.ListenAddr,
		"adminAddr":  cfg.AdminAddr,
		"bus":        bus.Type(),
	}).Info("matchmaker server up")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	exitCode := constants.ExitCodeOK
	remaining := components

	select {
	case sig := <-sigCh:
		logrus.WithField("signal", sig.String()).Info("shutdown signal received")
	case err := <-store.Fatalities():
		logrus.Error("queue store lost: ", err)
		exitCode = constants.ExitCodeStoreUnavailable
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, context.Canceled) {
			logrus.Error("component failed: ", err)
		} else {
			logrus.Error("component stopped unexpectedly")
		}
		exitCode = constants.ExitCodeInternal
	}

	cancel()

	grace := time.After(shutdownGracePeriod)
	for remaining > 0 {
		select {
		case <-errCh:
			remaining--
		case <-grace:
			logrus.Warn("shutdown grace period elapsed")
			return exitCode
		}
	}

	logrus.Info("shutdown complete")
	return exitCode
}
