package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/zhenw77/chat-history/internal/config"
	"github.com/zhenw77/chat-history/internal/db"
	"github.com/zhenw77/chat-history/internal/history"
	"github.com/zhenw77/chat-history/internal/httpapi"
	"github.com/zhenw77/chat-history/internal/store/rabbitmq"
	"github.com/zhenw77/chat-history/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(&history.Session{}, &history.Message{}, &history.VerifyJob{}); err != nil {
		log.Fatalf("automigrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	// Verification enqueue is optional: without a queue the assistant
	// messages simply stay unverified (is_verified remains unset).
	var publisher history.JobPublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbit unavailable, verification disabled: %v", err)
	} else {
		defer pub.Close()
		publisher = pub
	}

	r := httpapi.NewRouter(gdb, cfg, rds, publisher)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
