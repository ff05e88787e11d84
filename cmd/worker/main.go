// Command worker runs a standalone Job Runner process: it polls the store
// for pending jobs and submits them to a bounded worker.Pool, the same
// pickup path the HTTP server's inline "start_immediately" path uses. This
// stands in for the original's Celery worker process, which pulled tasks
// off a broker queue rather than the same process that accepted them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/simage-ai/convoengine/internal/agentloop"
	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/config"
	"github.com/simage-ai/convoengine/internal/dbmigrate"
	"github.com/simage-ai/convoengine/internal/executor"
	"github.com/simage-ai/convoengine/internal/model"
	"github.com/simage-ai/convoengine/internal/notify"
	"github.com/simage-ai/convoengine/internal/resources"
	"github.com/simage-ai/convoengine/internal/retrieval"
	"github.com/simage-ai/convoengine/internal/store"
	"github.com/simage-ai/convoengine/internal/telemetry"
	"github.com/simage-ai/convoengine/internal/tools"
	"github.com/simage-ai/convoengine/internal/tools/builtin"
	"github.com/simage-ai/convoengine/internal/worker"
)

var configPath string

// pollInterval is how often the standalone worker checks for pending jobs;
// it is deliberately short since StartJob's CAS guard makes a redundant
// pickup attempt a cheap no-op.
const pollInterval = 2 * time.Second

// pollBatch bounds how many pending jobs one poll claims, so a burst of
// submissions doesn't overrun the pool's own concurrency limit before it
// has drained.
const pollBatch = 32

func main() {
	root := &cobra.Command{
		Use:   "worker",
		Short: "Run the conversation engine's standalone Job Runner process",
		RunE:  runWorker,
	}
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config overlay")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("worker: load config: %w", err)
	}

	log := telemetry.NewLogger(cfg.Log.Pretty, cfg.Log.Level)
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dbmigrate.Up(cfg.Database.DSN); err != nil {
		return fmt.Errorf("worker: migrate: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("worker: open store: %w", err)
	}
	defer st.Close()
	pool := st.Pool()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	defer rdb.Close()
	eventBus := bus.NewRedisBus(rdb, cfg.Bus.SnapshotTTL, log, metrics)

	client := model.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.Model)

	registry, err := tools.NewRegistry(builtin.Specs(
		[]string{"default"},
		&builtin.ModelSnippetGenerator{Client: client},
		builtin.CSVTableLoader{},
	)...)
	if err != nil {
		return fmt.Errorf("worker: build tool registry: %w", err)
	}
	exec := executor.New(registry)

	var planner agentloop.Planner
	if cfg.Plan.Enabled {
		planner = &agentloop.ModelPlanner{Client: client}
	}
	loop := agentloop.New(client, registry, exec, planner, agentloop.Config{PlanEnabled: cfg.Plan.Enabled})

	builder := &resources.Builder{
		Store:     st,
		DB:        pool,
		Retriever: &retrieval.PostgresRetriever{DB: pool},
		Vision:    &builtin.ModelVisionCaller{Client: client},
		WebSearch: &builtin.TavilyWebSearcher{},
		TavilyKey: cfg.Tavily.APIKey,
	}

	notifier := notify.New(st, time.Now)

	workerPool := worker.New(st, eventBus, notifier, loop, builder, metrics, log, worker.Config{
		Concurrency:       cfg.Worker.Concurrency,
		TaskTimeLimit:     cfg.Worker.TaskTimeLimit,
		TaskSoftTimeLimit: cfg.Worker.TaskSoftTimeLimit,
	})

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	log.Info().Msg("worker: polling for pending jobs")
	for {
		select {
		case <-ticker.C:
			ids, err := st.PendingJobIDs(ctx, pollBatch)
			if err != nil {
				log.Error().Err(err).Msg("worker: poll failed")
				continue
			}
			for _, id := range ids {
				workerPool.Submit(id)
			}
		case sig := <-sigc:
			log.Info().Str("signal", sig.String()).Msg("worker: shutting down")
			cancel()
			return nil
		}
	}
}
