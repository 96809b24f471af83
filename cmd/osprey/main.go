package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/sunny-osprey/osprey/internal/alert"
	"github.com/sunny-osprey/osprey/internal/clip"
	"github.com/sunny-osprey/osprey/internal/config"
	"github.com/sunny-osprey/osprey/internal/frames"
	"github.com/sunny-osprey/osprey/internal/inference"
	"github.com/sunny-osprey/osprey/internal/pipeline"
	"github.com/sunny-osprey/osprey/internal/source"
)

func main() {
	configPath := flag.String("config", "config/default.yaml", "path to config file")
	flag.Parse()

	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	log.Printf("[Main] Starting osprey")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[Main] Config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. Prompts (hot-reloaded while running)
	prompts, err := inference.NewPromptLoader(cfg.Inference.PromptPath, cfg.Inference.SystemPromptPath)
	if err != nil {
		log.Fatalf("[Main] Prompt load: %v", err)
	}
	prompts.Watch(ctx)

	// 2. Inference gate
	engine := inference.NewHTTPEngine(cfg.Inference.BaseURL, cfg.Inference.Model)
	if cfg.Inference.APIKey != "" {
		engine.WithAPIKey(cfg.Inference.APIKey)
	}
	gate := inference.NewGate(engine, inference.GateConfig{
		Concurrency: cfg.Inference.Concurrency,
		QueueDepth:  cfg.Inference.QueueDepth,
		CallTimeout: cfg.Inference.CallTimeout(),
	}, cfg.Inference.MaxTokens)

	// 3. Clip acquisition and frame sampling
	clips := clip.NewClient(clip.Config{
		BaseURL:      cfg.Recorder.BaseURL,
		Timeout:      time.Duration(cfg.Recorder.TimeoutSeconds) * time.Second,
		MaxClipBytes: cfg.Recorder.MaxClipMB << 20,
		MaxAttempts:  cfg.Recorder.MaxAttempts,
	})
	decoder := frames.NewFFmpegDecoder()
	if cfg.Frames.FFmpegPath != "" {
		decoder.FFmpegPath = cfg.Frames.FFmpegPath
	}
	if cfg.Frames.FFprobePath != "" {
		decoder.FFprobePath = cfg.Frames.FFprobePath
	}
	sampler := frames.NewSampler(decoder, cfg.Frames.Count)

	// 4. Alert channels and dispatch records
	var channels []alert.Channel
	if cfg.Alerts.Telegram.Enabled {
		channels = append(channels, alert.NewTelegramChannel(cfg.Alerts.Telegram.Token, cfg.Alerts.Telegram.ChatID))
		log.Printf("[Main] Telegram channel enabled (chat %s)", cfg.Alerts.Telegram.ChatID)
	}
	if cfg.Alerts.Grafana.Enabled {
		channels = append(channels, alert.NewGrafanaIRMChannel(cfg.Alerts.Grafana.URL, cfg.Alerts.Grafana.APIKey))
		log.Printf("[Main] Grafana IRM channel enabled")
	}
	var natsConn *nats.Conn
	if cfg.Alerts.NATS.Enabled {
		natsConn, err = nats.Connect(cfg.Alerts.NATS.URL,
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(-1))
		if err != nil {
			log.Fatalf("[Main] NATS connect: %v", err)
		}
		channels = append(channels, alert.NewNATSChannel(natsConn, cfg.Alerts.NATS.Subject))
		log.Printf("[Main] NATS channel enabled (subject %s)", cfg.Alerts.NATS.Subject)
	}
	if len(channels) == 0 {
		log.Printf("[Main] WARNING: no alert channels enabled, every verdict will fail dispatch")
	}

	var store alert.RecordStore
	if cfg.Alerts.RecordStore == "redis" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			pingCancel()
			log.Fatalf("[Main] Redis: %v", err)
		}
		pingCancel()
		store = alert.NewRedisStore(rdb, cfg.Alerts.RecordTTL())
		log.Printf("[Main] Dispatch records in redis at %s", cfg.Redis.Addr)
	} else {
		store = alert.NewMemoryStore()
	}

	dispatcher := alert.NewDispatcher(channels, store, alert.DispatcherConfig{
		SendAllActivities: cfg.Alerts.SendAllActivities,
	})

	// 5. Pipeline
	admitter := pipeline.NewAdmitter(cfg.Admission.Cameras, cfg.Admission.DedupMaxKeys, cfg.Admission.DedupTTL())
	pipe := pipeline.New(admitter, clips, sampler, gate, prompts, dispatcher, pipeline.Config{
		Workers:     cfg.Pipeline.Workers,
		ClipBaseURL: cfg.Recorder.ClipPublicURL,
	})

	// 6. Event source
	src := source.NewMQTTSource(source.Config{
		Broker:   cfg.Source.Broker,
		Topic:    cfg.Source.Topic,
		ClientID: cfg.Source.ClientID,
		Username: cfg.Source.Username,
		Password: cfg.Source.Password,
	}, pipe.HandleEvent)
	if err := src.Start(); err != nil {
		log.Fatalf("[Main] MQTT: %v", err)
	}

	// 7. Health and metrics
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		if !src.Ready() {
			http.Error(w, "broker subscription not established", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})
	r.Handle("/metrics", promhttp.Handler())

	server := &http.Server{Addr: cfg.Server.Addr, Handler: r}
	go func() {
		log.Printf("[Main] Serving health and metrics on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[Main] HTTP server: %v", err)
		}
	}()

	// 8. Run until signalled
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[Main] Received %v, shutting down", sig)

	// Drain order: stop intake, abandon queued inference while in-flight
	// calls finish, then let incidents settle and dispatch.
	src.Stop()
	gate.Stop()
	pipe.Stop()
	cancel()

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	server.Shutdown(shutCtx)

	if natsConn != nil {
		natsConn.Drain()
	}
	log.Printf("[Main] Shutdown complete")
}
