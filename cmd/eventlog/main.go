// cmd/eventlog/main.go is an asynchronous drainer that pops room audit
// events from a Redis queue and persists them to PostgreSQL in batches.
// The lobby server pushes fire-and-forget; this process is the only
// writer to the room_events table.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/redis/go-redis/v9"

	"github.com/openlobby/lobbyd/internal/database"
)

// EventLogService encapsulates the Redis + DB logic for the audit drain.
type EventLogService struct {
	redisClient *redis.Client
	store       *database.Store
	batchSize   int
	flushDelay  time.Duration

	batchMu  sync.Mutex
	batch    []database.RoomEventRecord
	ctx      context.Context
	cancelFn context.CancelFunc
}

// NewEventLogService constructs the service from environment variables
// or defaults.
func NewEventLogService() *EventLogService {
	batchSize := getEnvInt("EVENTLOG_BATCH_SIZE", 20)
	flushMs := getEnvInt("EVENTLOG_FLUSH_MS", 500)

	redisAddr := getEnv("REDIS_ADDR", "localhost:6379")
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
		DB:   getEnvInt("REDIS_DB", 0),
	})

	ctx, cancel := context.WithCancel(context.Background())
	return &EventLogService{
		redisClient: rdb,
		batchSize:   batchSize,
		flushDelay:  time.Duration(flushMs) * time.Millisecond,
		batch:       make([]database.RoomEventRecord, 0, batchSize),
		ctx:         ctx,
		cancelFn:    cancel,
	}
}

// Run connects to the database and starts the drain loop.
func (es *EventLogService) Run() {
	store, err := database.Connect(es.ctx)
	if err != nil {
		log.Fatalf("database connect: %v", err)
	}
	es.store = store

	go es.readRedisLoop()

	log.Println("lobbyd-eventlog service started.")
	<-es.ctx.Done()
	es.flushBatchToDB()
	store.Close()
	log.Println("lobbyd-eventlog shutting down.")
}

// readRedisLoop continuously uses BLPop to retrieve records from the
// Redis queue, accumulating a batch and flushing on size or delay.
func (es *EventLogService) readRedisLoop() {
	ticker := time.NewTicker(es.flushDelay)
	defer ticker.Stop()

	queueName := getEnv("EVENT_QUEUE_NAME", "lobbyd_room_events")

	for {
		select {
		case <-es.ctx.Done():
			return

		case <-ticker.C:
			es.flushBatchToDB()

		default:
			// BLPop with a 3-second timeout so context cancellation is
			// handled promptly.
			res, err := es.redisClient.BLPop(es.ctx, 3*time.Second, queueName).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && es.ctx.Err() == nil {
					log.Printf("[ERROR] BLPop: %v\n", err)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var record database.RoomEventRecord
			if err := json.Unmarshal([]byte(res[1]), &record); err != nil {
				log.Printf("invalid room event record: %v\n", err)
				continue
			}
			es.appendToBatch(record)
		}
	}
}

// appendToBatch adds a record and flushes if the threshold is reached.
func (es *EventLogService) appendToBatch(record database.RoomEventRecord) {
	es.batchMu.Lock()
	defer es.batchMu.Unlock()

	es.batch = append(es.batch, record)
	if len(es.batch) >= es.batchSize {
		es.flushLocked()
	}
}

// flushBatchToDB flushes the current batch in a single transaction.
func (es *EventLogService) flushBatchToDB() {
	es.batchMu.Lock()
	defer es.batchMu.Unlock()
	es.flushLocked()
}

// flushLocked does the actual flush. Caller holds batchMu.
func (es *EventLogService) flushLocked() {
	if len(es.batch) == 0 {
		return
	}
	batchCopy := make([]database.RoomEventRecord, len(es.batch))
	copy(batchCopy, es.batch)
	es.batch = es.batch[:0]

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := es.store.InsertRoomEvents(ctx, batchCopy); err != nil {
		log.Printf("[ERROR] flushBatchToDB: %v\n", err)
		return
	}
	log.Printf("Flushed %d room events to DB.\n", len(batchCopy))
}

// Stop gracefully stops the service.
func (es *EventLogService) Stop() {
	es.cancelFn()
}

func main() {
	es := NewEventLogService()
	go es.Run()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	es.Stop()
	log.Println("Eventlog shutdown complete.")
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer env value or returns a default.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}
