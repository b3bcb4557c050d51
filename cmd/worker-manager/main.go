// cmd/worker-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"comfyui-workers/internal/comfy"
	"comfyui-workers/internal/common/camunda"
	"comfyui-workers/internal/common/config"
	"comfyui-workers/internal/common/database"
	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/observability"
	"comfyui-workers/internal/common/queue"
	"comfyui-workers/internal/workflow"

	gi "comfyui-workers/internal/workers/imaging/generate-image"
)

// retryWithBackoff attempts to execute a function with exponential backoff
func retryWithBackoff(operation func() error, maxRetries int, initialDelay time.Duration, log *zap.Logger, operationName string) error {
	var err error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err = operation()
		if err == nil {
			return nil
		}

		if i < maxRetries-1 {
			log.Warn(fmt.Sprintf("%s failed, retrying...", operationName),
				zap.Error(err),
				zap.Int("attempt", i+1),
				zap.Int("maxRetries", maxRetries),
				zap.Duration("nextRetryIn", delay),
			)
			time.Sleep(delay)
			delay *= 2
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", operationName, maxRetries, err)
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "console")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	zapLog.Info("Starting worker manager...",
		zap.String("app", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	obs := observability.New(cfg.App.Name)
	tracing, err := observability.NewTracing(cfg.App.Name, cfg.Tracing.JaegerEndpoint)
	if err != nil {
		zapLog.Warn("tracing disabled", zap.Error(err))
	} else {
		obs.WithTracing(tracing)
	}
	defer obs.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Rendering engine ---
	templates := workflow.LoadTemplate(cfg.Engine.WorkflowFile, log)

	engine := comfy.NewClient(comfy.Options{
		BaseURL:        cfg.Engine.BaseURL,
		MaxAttempts:    cfg.Engine.MaxRetries,
		RetryBaseDelay: config.GetDuration(cfg.Engine.RetryBaseDelay),
		RetryMaxDelay:  config.GetDuration(cfg.Engine.RetryMaxDelay),
		SubmitTimeout:  config.GetDuration(cfg.Engine.SubmitTimeout),
		HistoryTimeout: config.GetDuration(cfg.Engine.HistoryTimeout),
		ViewTimeout:    config.GetDuration(cfg.Engine.ViewTimeout),
		Logger:         log,
	})
	pollInterval := config.GetDuration(cfg.Engine.PollInterval)
	poller := comfy.NewPoller(engine, pollInterval, comfy.SystemClock(), log)

	zapLog.Info("ComfyUI adapter ready",
		zap.String("engine", engine.BaseURL()),
		zap.Int("jobTimeoutSeconds", cfg.Engine.JobTimeout),
		zap.Duration("pollInterval", pollInterval),
		zap.String("workflowFile", templates.Source()),
		zap.Bool("templateAvailable", templates.Available()),
	)

	workerConfig := gi.ConfigFromApp(cfg, nil)
	service := gi.NewService(gi.ServiceDependencies{
		Templates:     templates,
		Submitter:     engine,
		Waiter:        poller,
		Images:        engine,
		Observability: obs,
		Logger:        log,
	}, workerConfig)

	// --- Camunda intake ---
	var camundaClient *camunda.Client
	if cfg.Camunda.Enabled {
		err = retryWithBackoff(func() error {
			var err error
			camundaClient, err = camunda.NewClientWithConfig(camunda.ConfigFromApp(cfg.Camunda))
			return err
		}, 10, 2*time.Second, zapLog, "Zeebe client initialization")
		if err != nil {
			zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
		}
		defer camundaClient.Close()
		zapLog.Info("Zeebe client connected successfully")
	}

	handler, err := gi.NewHandler(gi.HandlerOptions{
		AppConfig:    cfg,
		Camunda:      camundaClient,
		CustomConfig: workerConfig,
		Service:      service,
		Logger:       log,
		Context:      ctx,
	})
	if err != nil {
		zapLog.Fatal("failed to create image-generate handler", zap.Error(err))
	}
	if camundaClient != nil {
		if err := handler.Register(); err != nil {
			zapLog.Fatal("failed to register image-generate worker", zap.Error(err))
		}
		defer handler.Close()
	}

	// --- Redis intake ---
	var redisClient *database.RedisClient
	var consumers sync.WaitGroup
	if cfg.Queue.Enabled && !handler.IsEnabled() {
		zapLog.Info("queue intake skipped, worker disabled", zap.String("taskType", handler.GetTaskType()))
	}
	if cfg.Queue.Enabled && handler.IsEnabled() {
		redisClient = database.NewRedis(cfg.Redis)
		err = retryWithBackoff(func() error {
			return redisClient.Ping(ctx)
		}, 10, 2*time.Second, zapLog, "Redis connection")
		if err != nil {
			zapLog.Fatal("redis failed after retries", zap.Error(err))
		}
		defer redisClient.Close()
		zapLog.Info("Redis connected successfully")

		consumer := queue.NewConsumer(redisClient, func(ctx context.Context, event map[string]interface{}) (interface{}, error) {
			jobCtx, cancel := context.WithTimeout(ctx, handler.GetConfig().Timeout)
			defer cancel()
			return service.Process(jobCtx, event)
		}, queue.Options{
			TaskType:     handler.GetTaskType(),
			Key:          cfg.Queue.Key,
			ResultPrefix: cfg.Queue.ResultPrefix,
			ResultTTL:    time.Duration(cfg.Queue.ResultTTL) * time.Second,
			PopTimeout:   config.GetDuration(cfg.Queue.PopTimeout),
		}, log)

		consumers.Add(1)
		go func() {
			defer consumers.Done()
			if err := consumer.Run(ctx); err != nil {
				zapLog.Error("queue consumer stopped", zap.Error(err))
			}
		}()
	}

	// --- Health & Metrics Server ---
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]interface{}{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		checks := map[string]string{}
		ready := true
		record := func(name string, err error) {
			if err != nil {
				checks[name] = err.Error()
				ready = false
				return
			}
			checks[name] = "ok"
		}

		if camundaClient != nil {
			record("camunda", handler.HealthCheck(checkCtx))
		}
		if redisClient != nil {
			record("redis", redisClient.Ping(checkCtx))
		}
		_, engineErr := engine.SystemStats(checkCtx)
		record("comfyui", engineErr)
		if !templates.Available() {
			checks["workflow_template"] = "unavailable"
		}

		status, code := "ready", http.StatusOK
		if !ready {
			status, code = "not_ready", http.StatusServiceUnavailable
		}
		writeStatus(w, code, map[string]interface{}{
			"status": status,
			"checks": checks,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Metrics.Address, Handler: mux}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Metrics.Address))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	consumers.Wait()

	zapLog.Info("Worker manager stopped gracefully")
}

func writeStatus(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
