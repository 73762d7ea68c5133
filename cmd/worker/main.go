package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zhenw77/chat-history/internal/broker"
	"github.com/zhenw77/chat-history/internal/config"
	"github.com/zhenw77/chat-history/internal/db"
	"github.com/zhenw77/chat-history/internal/history"
)

type jobMsg struct {
	JobID string `json:"job_id"`
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	repo := history.NewRepo(gdb)
	verifier := broker.NewAttestationVerifier(cfg.VerifierBaseURL)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	_, err = ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, nil)
	if err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("verify worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m jobMsg
				if err := json.Unmarshal(d.Body, &m); err != nil || m.JobID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleJob(ctx, repo, verifier, m.JobID); err != nil {
					log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, m.JobID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed job=%s err=%v", workerID, m.JobID, err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(jobs)
			wg.Wait()
			return

		case d, okk := <-msgs:
			if !okk {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

// handleJob runs one attestation check. The job row tracks progress; the
// message flag update itself is best-effort, as a lost flag only costs
// the verified badge, not the conversation.
func handleJob(ctx context.Context, repo *history.Repo, verifier broker.Verifier, jobID string) error {
	_ = repo.MarkVerifyJobRunning(ctx, jobID)

	j, err := repo.GetVerifyJob(ctx, jobID)
	if err != nil {
		return err
	}

	msgs, err := repo.GetMessages(ctx, j.SessionID)
	if err != nil {
		_ = repo.MarkVerifyJobFailed(ctx, jobID, err.Error())
		return err
	}
	var target *history.Message
	for i := range msgs {
		if msgs[i].ID == j.MessageID {
			target = &msgs[i]
			break
		}
	}
	if target == nil {
		// message was cleared or its session deleted; nothing to verify
		_ = repo.MarkVerifyJobFailed(ctx, jobID, "message gone")
		return nil
	}

	valid, err := verifier.VerifyResponse(ctx, j.ProviderAddress, target.Content)
	if err != nil {
		// attempt did not complete: leave is_verified unset, lower the
		// in-flight flag
		_ = repo.UpdateMessageVerification(ctx, j.MessageID, nil, false)
		_ = repo.MarkVerifyJobFailed(ctx, jobID, err.Error())
		return err
	}

	_ = repo.UpdateMessageVerification(ctx, j.MessageID, &valid, false)

	if err := repo.MarkVerifyJobSucceeded(ctx, jobID); err != nil {
		return err
	}
	return nil
}
