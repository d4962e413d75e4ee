package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"broadcast-service/internal/config"
	"broadcast-service/internal/db"
	"broadcast-service/internal/handlers"
	"broadcast-service/internal/middleware"
	"broadcast-service/internal/observability"
	"broadcast-service/internal/rabbitmq"
	"broadcast-service/internal/repositories"
	"broadcast-service/internal/telemetry"
	"broadcast-service/internal/ws"
)

const auditRoutingKey = "audit.broadcast"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	shutdownTracing, err := observability.InitTracing(ctx, cfg.OTLPEndpoint, cfg.ServiceName, cfg.Environment)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			log.Printf("tracing shutdown: %v", err)
		}
	}()

	publisher := rabbitmq.NewPublisher(rabbitmq.Options{
		URL:      cfg.AMQPURL,
		Exchange: cfg.AMQPExchange,
		AppID:    cfg.ServiceName,
	})
	defer publisher.Close()
	log.Printf("event publisher mode=%s reason=%q", rabbitmq.PublisherMode(publisher), rabbitmq.PublisherNoopReason(publisher))
	observability.SetPublisher(publisher)
	auditEmitter := telemetry.NewAuditEmitter(publisher, auditRoutingKey, cfg.ServiceName, cfg.Environment)

	messageRepo, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore.Close()

	hub := ws.NewHub(messageRepo,
		ws.WithAuditEmitter(auditEmitter),
		ws.WithWelcomeMessage(cfg.WelcomeMessage),
	)
	channelWS := ws.NewChannelWebSocketHandler(hub, ws.HandlerConfig{
		MaxMessageSize: cfg.MaxMessageSize,
		WriteTimeout:   cfg.WriteTimeout,
		PongWait:       cfg.PongWait,
		PingPeriod:     cfg.PingPeriod(),
	})
	messageHandler := handlers.NewMessageHandler(messageRepo)

	router := gin.Default()

	// middlewares
	router.Use(otelgin.Middleware(cfg.ServiceName))
	router.Use(middleware.RequestID())
	router.Use(observability.HTTPMetricsMiddleware())

	router.GET("/ws", channelWS.Handle)
	router.GET("/messages", messageHandler.ListRecent)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	handlers.RegisterDebugRoutes(router, auditEmitter, hub, cfg.DebugRoutes)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("broadcast service listening on :%s store=%s", cfg.Port, cfg.StoreBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Printf("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	// hijacked websocket connections are not tracked by the http server
	hub.Shutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

func openStore(cfg config.Config) (repositories.MessageRepository, io.Closer, error) {
	switch cfg.StoreBackend {
	case config.StorePostgres:
		database, err := db.Connect(cfg.DBDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		return repositories.NewMessageRepo(database), database, nil
	case config.StoreBadger:
		bdb, err := db.OpenBadger(cfg.BadgerPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger: %w", err)
		}
		repo, err := repositories.NewBadgerMessageRepo(bdb)
		if err != nil {
			_ = bdb.Close()
			return nil, nil, err
		}
		return repo, closerFunc(func() error {
			if err := repo.Close(); err != nil {
				log.Printf("release badger sequence: %v", err)
			}
			return bdb.Close()
		}), nil
	default:
		if cfg.Retention > 0 {
			log.Printf("history retention=%d: older broadcasts will not be returned by /messages", cfg.Retention)
		}
		return repositories.NewMemoryMessageRepo(cfg.Retention), closerFunc(func() error { return nil }), nil
	}
}
