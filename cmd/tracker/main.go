package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"

	"github.com/quickbite/order-tracking/internal/config"
	"github.com/quickbite/order-tracking/internal/httpx"
	kafkax "github.com/quickbite/order-tracking/internal/kafka"
	"github.com/quickbite/order-tracking/internal/orders"
	"github.com/quickbite/order-tracking/internal/postgres"
	"github.com/quickbite/order-tracking/internal/redisx"
	"github.com/quickbite/order-tracking/internal/rooms"
	"github.com/quickbite/order-tracking/internal/tracking"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB (order record store)
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Kafka producers
	pChanged := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderStatusChanged, 1024)
	pChanged.Start(ctx)
	pReady := kafkax.NewProducer(cfg.KafkaBrokers, orders.TopicOrderReady, 1024)
	pReady.Start(ctx)

	// Rooms: local registry plus the cross-instance pub/sub bridge.
	registry := rooms.NewRegistry()
	bridge := &redisx.Bridge{RDB: rdb, Local: registry}
	go func() {
		if err := bridge.Run(ctx); err != nil {
			log.Printf("room bridge exit: %v", err)
			cancel()
		}
	}()

	repo := &orders.Repo{DB: db}
	svc := &tracking.Service{
		Store:       repo,
		Broadcaster: bridge,
		Changed:     pChanged,
		Ready:       pReady,
		Redis:       rdb,
		ServiceName: cfg.ServiceName,
	}

	// Consumer: new-order signals from the checkout flow.
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.ConsumerGroup, orders.TopicOrderCreated, cfg.Workers)
	go func() {
		log.Printf("order.created consumer started: group=%s workers=%d", cfg.ConsumerGroup, cfg.Workers)
		if err := cons.Start(ctx, svc.HandleOrderCreated); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// HTTP: REST routes under a timeout, the SSE stream outside it.
	router := httpx.NewRouter()
	th := &httpx.TrackingHandler{Service: svc, Reader: repo, Redis: rdb}
	sh := httpx.NewStreamHandler(registry, cfg.SessionBuf)
	router.Group(func(r chi.Router) {
		r.Use(httpx.RequestTimeout(15 * time.Second))
		th.Register(r)
	})
	sh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	pChanged.Close()
	pReady.Close()
	cancel()
	pChanged.WaitClosed()
	pReady.WaitClosed()
}
