// goatchat is the live-chat dispatcher: it admits customer visitors
// and authenticated agents over websocket, routes and transfers
// conversations under the load-balanced assignment policy, and runs
// the periodic reconcilers that keep the queue and presence honest.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	v1 "github.com/goatkit/goatchat/internal/api/v1"
	"github.com/goatkit/goatchat/internal/auth"
	"github.com/goatkit/goatchat/internal/config"
	"github.com/goatkit/goatchat/internal/database"
	"github.com/goatkit/goatchat/internal/dispatch"
	"github.com/goatkit/goatchat/internal/gateway"
	"github.com/goatkit/goatchat/internal/reconciler"
	"github.com/goatkit/goatchat/internal/registry"
	"github.com/goatkit/goatchat/internal/repository"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("configuration: %v", err)
	}
	config.Set(cfg)

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.Connect(cfg.DB.Driver, cfg.DB.DSN)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	defer db.Close()
	if err := database.EnsureSchema(db); err != nil {
		log.Fatalf("schema: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()
	{
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("redis: %v", err)
		}
		cancel()
	}

	agents := repository.NewAgentRepository(db)
	customers := repository.NewCustomerRepository(db)
	convs := repository.NewConversationRepository(db)
	quickReplies := repository.NewQuickReplyRepository(db)
	stats := repository.NewStatsRepository(db)

	// The registry's load function closes over the dispatcher, which
	// in turn needs the registry; wire them in two steps.
	var dispatcher *dispatch.Dispatcher
	reg := registry.New(
		registry.WithMirror(registry.NewRedisMirror(rdb, logger)),
		registry.WithHeartbeatTTL(cfg.Heartbeat.TTL),
		registry.WithLogger(logger),
		registry.WithLoadFunc(func(agentID int64) float64 {
			if dispatcher == nil {
				return 0
			}
			return dispatcher.LoadScore(context.Background(), agentID)
		}),
	)
	dispatcher = dispatch.New(convs, agents, customers, reg, dispatch.WithLogger(logger))

	jwtManager := auth.NewJWTManager(cfg.Token.Secret, cfg.Token.TTL, auth.NewRedisAllowlist(rdb))
	gw := gateway.New(reg, dispatcher, jwtManager, agents, customers, logger)

	recon := reconciler.New(dispatcher, reg, convs,
		reconciler.WithHeartbeatPeriod(cfg.Reconciler.HeartbeatPeriod),
		reconciler.WithDrainPeriod(cfg.Reconciler.DrainPeriod),
		reconciler.WithTimeoutPeriod(cfg.Reconciler.TimeoutPeriod),
		reconciler.WithTimeoutThreshold(cfg.Timeout.Threshold),
	)
	if err := recon.Start(); err != nil {
		log.Fatalf("reconciler: %v", err)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/ws", gw.HandleWS)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	v1.Register(router, &v1.Handlers{
		Agents:       agents,
		Customers:    customers,
		Convs:        convs,
		QuickReplies: quickReplies,
		Stats:        stats,
		Dispatcher:   dispatcher,
		JWT:          jwtManager,
		Registry:     reg,
		Logger:       logger,
	})

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: router}
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("shutting down")
	recon.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}
