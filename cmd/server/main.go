// Command server runs the HTTP/WebSocket API and an in-process Job Runner
// pool over the same process, serving both the inline SSE path and the
// submit-and-poll/subscribe path described in SPEC_FULL §4/§6.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/simage-ai/convoengine/internal/agentloop"
	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/config"
	"github.com/simage-ai/convoengine/internal/dbmigrate"
	"github.com/simage-ai/convoengine/internal/executor"
	"github.com/simage-ai/convoengine/internal/httpapi"
	"github.com/simage-ai/convoengine/internal/model"
	"github.com/simage-ai/convoengine/internal/notify"
	"github.com/simage-ai/convoengine/internal/resources"
	"github.com/simage-ai/convoengine/internal/retrieval"
	"github.com/simage-ai/convoengine/internal/store"
	"github.com/simage-ai/convoengine/internal/telemetry"
	"github.com/simage-ai/convoengine/internal/tools"
	"github.com/simage-ai/convoengine/internal/tools/builtin"
	"github.com/simage-ai/convoengine/internal/worker"
	"github.com/simage-ai/convoengine/internal/wsapi"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "server",
		Short: "Run the conversation engine's HTTP and WebSocket API",
		RunE:  runServer,
	}
	root.Flags().StringVar(&configPath, "config", "", "optional YAML config overlay")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("server: load config: %w", err)
	}

	log := telemetry.NewLogger(cfg.Log.Pretty, cfg.Log.Level)
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := dbmigrate.Up(cfg.Database.DSN); err != nil {
		return fmt.Errorf("server: migrate: %w", err)
	}

	st, err := store.Open(ctx, cfg.Database.DSN, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("server: open store: %w", err)
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
		return fmt.Errorf("server: build tool registry: %w", err)
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

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(ginLogger(log))

	httpapi.Register(r, httpapi.Deps{
		Store: st, Bus: eventBus, Worker: workerPool, Notifier: notifier,
		Loop: loop, Builder: builder, Log: log,
	})

	wsHandler := &wsapi.Handler{Store: st, Bus: eventBus, Log: log}
	r.GET("/projects/:project/ws", func(c *gin.Context) {
		wsHandler.ServeProject(c.Writer, c.Request, c.Param("project"))
	})
	r.GET("/jobs/:job/ws", func(c *gin.Context) {
		wsHandler.ServeJob(c.Writer, c.Request, c.Param("job"))
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{Addr: cfg.Server.Addr, Handler: r}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Msg("server: listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		log.Info().Str("signal", sig.String()).Msg("server: shutting down")
	case err := <-errc:
		log.Error().Err(err).Msg("server: listener failed")
	}

	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

func ginLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("elapsed", time.Since(start)).
			Msg("request")
	}
}
