package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mileusna/crontab"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/suPer8Hu/rabbithole/internal/agent"
	"github.com/suPer8Hu/rabbithole/internal/ai"
	"github.com/suPer8Hu/rabbithole/internal/config"
	"github.com/suPer8Hu/rabbithole/internal/db"
	"github.com/suPer8Hu/rabbithole/internal/ingest"
	"github.com/suPer8Hu/rabbithole/internal/logger"
	"github.com/suPer8Hu/rabbithole/internal/search"
	"github.com/suPer8Hu/rabbithole/internal/store/rabbitmq"
	"github.com/suPer8Hu/rabbithole/internal/store/redisstore"
	"github.com/suPer8Hu/rabbithole/internal/topic"
)

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

// Provider registry: route by AI_PROVIDER so deployments can switch
// backends without a rebuild.
func buildProvider(ctx context.Context, cfg config.Config) ai.Provider {
	reg := ai.NewRegistry()
	reg.Register("deepseek", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.DeepSeekModel
		}
		return ai.NewDeepSeekProvider(cfg.DeepSeekBaseURL, cfg.DeepSeekAPIKey, m), nil
	})
	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		_ = ctx
		m := strings.TrimSpace(model)
		if m == "" {
			m = cfg.OllamaModel
		}
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, m), nil
	})

	provider, err := reg.Get(ctx, cfg.AIProvider, "")
	if err != nil {
		log.Fatalf("ai provider: %v", err)
	}
	return provider
}

func main() {
	cfg := config.Load()

	zlog, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer zlog.Sync()

	gdb := db.Connect(cfg.DBDSN)
	if err := db.Migrate(gdb); err != nil {
		zlog.Fatalw("migrate", "err", err)
	}

	var rds *redisstore.Store
	if r, err := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB); err != nil {
		zlog.Warnw("redis unavailable, cycle lock disabled", "err", err)
	} else {
		rds = r
		defer rds.Close()
	}

	provider := buildProvider(context.Background(), cfg)
	topics := topic.NewRepo(gdb)

	ingestSvc := ingest.NewService(
		topics,
		ingest.NewJobRepo(gdb),
		topic.NewClassifier(provider, zlog),
		topic.NewReconciler(topics, zlog),
		nil, // the worker never re-publishes
		zlog,
	)

	searcher := search.NewYouClient(cfg.SearchBaseURL, cfg.SearchAPIKey)
	var locker agent.CycleLocker
	if rds != nil {
		locker = rds
	}
	agentSvc := agent.NewService(topics, provider, searcher, locker, zlog)

	publishStatus := func(ctx context.Context) {
		if rds == nil {
			return
		}
		if err := rds.SetAgentStatus(ctx, agentSvc.Status()); err != nil {
			zlog.Warnw("publish agent status", "err", err)
		}
	}

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		zlog.Fatalw("rabbit dial", "err", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		zlog.Fatalw("rabbit channel", "err", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareQueues(ch, cfg.RabbitQueue); err != nil {
		zlog.Fatalw("queue declare", "err", err)
	}

	concurrency := workerConcurrency()
	if err := ch.Qos(concurrency, 0, false); err != nil {
		zlog.Fatalw("qos", "err", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		zlog.Fatalw("consume", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// scheduled cycles run alongside on-demand ones; the cycle lock keeps
	// them from overlapping
	ctab := crontab.New()
	if err := ctab.AddJob(cfg.CycleSchedule, func() {
		zlog.Infow("scheduled research cycle starting")
		publishStatus(ctx)
		if err := agentSvc.RunCycleAllUsers(ctx, cfg.CycleTopicLimit); err != nil {
			zlog.Errorw("scheduled cycle", "err", err)
		}
		publishStatus(ctx)
	}); err != nil {
		zlog.Fatalw("bad cycle schedule", "schedule", cfg.CycleSchedule, "err", err)
	}

	zlog.Infow("worker started",
		"queue", cfg.RabbitQueue,
		"concurrency", concurrency,
		"schedule", cfg.CycleSchedule)

	jobs := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				var m rabbitmq.TaskMessage
				if err := json.Unmarshal(d.Body, &m); err != nil {
					zlog.Warnw("bad message", "worker", workerID, "err", err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				if err := handleTask(ctx, zlog, ingestSvc, agentSvc, cfg, publishStatus, m); err != nil {
					zlog.Errorw("task failed",
						"worker", workerID, "type", m.Type, "job", m.JobID,
						"cost", time.Since(start), "err", err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					zlog.Warnw("ack failed", "worker", workerID, "job", m.JobID, "err", err)
				}
			}
		}(i)
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			zlog.Infow("worker shutting down")
			ctab.Shutdown()
			close(jobs)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				zlog.Warnw("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			jobs <- d
		}
	}
}

func handleTask(
	ctx context.Context,
	zlog *zap.SugaredLogger,
	ingestSvc *ingest.Service,
	agentSvc *agent.Service,
	cfg config.Config,
	publishStatus func(context.Context),
	m rabbitmq.TaskMessage,
) error {
	switch m.Type {
	case rabbitmq.TypeIngestJob:
		return ingestSvc.Classify(ctx, m.JobID)

	case rabbitmq.TypeResearchCycle:
		limit := m.Limit
		if limit <= 0 {
			limit = cfg.CycleTopicLimit
		}
		publishStatus(ctx)
		summary, err := agentSvc.RunCycle(ctx, limit, m.UserID)
		publishStatus(ctx)
		if err != nil {
			// an already-running cycle is not a failure worth a DLQ trip
			if err == agent.ErrCycleRunning {
				zlog.Infow("cycle request dropped, one already running", "user", m.UserID)
				return nil
			}
			return err
		}
		zlog.Infow("on-demand cycle done",
			"user", m.UserID,
			"processed", summary.Processed,
			"skipped", summary.Skipped)
		return nil

	default:
		zlog.Warnw("unknown task type dropped", "type", m.Type)
		return nil
	}
}
