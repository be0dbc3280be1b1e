package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kottokmotors/clockin.click/internal/attendance"
	"github.com/kottokmotors/clockin.click/internal/config"
	"github.com/kottokmotors/clockin.click/internal/queue"
	"github.com/kottokmotors/clockin.click/internal/store"
	"github.com/kottokmotors/clockin.click/internal/user"
)

// Worker consumes repair jobs and re-runs guardian reference sweeps
// that did not complete inline with a learner deletion.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	tables := []store.TableSpec{user.TableSpec, attendance.TableSpec}

	redisClient := store.NewRedis(cfg.RedisAddr, tables, cfg.StoreTimeout)
	defer redisClient.Close()

	var kv store.KV
	switch cfg.StoreBackend {
	case "memory":
		kv = store.NewMemory()
	case "postgres":
		pg, err := store.NewPostgres(cfg.DatabaseURL, cfg.StoreTimeout)
		if err != nil {
			log.Fatalf("postgres connect failed: %v", err)
		}
		defer pg.Close()
		kv = pg
	default:
		kv = redisClient
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "clockin:repairs")
	}

	users := user.NewRepository(kv)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for repair jobs...")
	for msg := range messages {
		if msg.Type != queue.TypeRepairSweep {
			continue
		}

		var job queue.RepairJob
		if err := json.Unmarshal(msg.Body, &job); err != nil {
			log.Printf("bad repair job payload: %v", err)
			continue
		}

		log.Printf("repair %s: sweeping guardian refs for learner %s", job.ID, job.LearnerID)
		err := users.PruneLearnerRefs(ctx, job.LearnerID)
		switch {
		case errors.Is(err, user.ErrSweepIncomplete):
			// Re-queue so a transient store failure gets another pass.
			log.Printf("repair %s still incomplete: %v", job.ID, err)
			if perr := q.Publish(ctx, msg); perr != nil {
				log.Printf("repair %s requeue failed: %v", job.ID, perr)
			}
		case err != nil:
			log.Printf("repair %s failed: %v", job.ID, err)
		default:
			log.Printf("repair %s done", job.ID)
		}

		time.Sleep(10 * time.Millisecond) // Small delay between jobs
	}

	log.Println("worker stopped")
}
