package main

import (
	"context"
	"flag"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/RichardoC/rosa/internal/api"
	"github.com/RichardoC/rosa/internal/config"
	"github.com/RichardoC/rosa/internal/conversation"
	"github.com/RichardoC/rosa/internal/db"
	"github.com/RichardoC/rosa/internal/llm"
	"github.com/RichardoC/rosa/internal/logger"
	"github.com/RichardoC/rosa/internal/metrics"
	"github.com/RichardoC/rosa/internal/notebook"
	"github.com/RichardoC/rosa/internal/vault"
)

func main() {
	configPath := flag.String("config", "rosa.toml", "path to the TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Fatal("failed to load config", zap.Error(err))
	}

	log := logger.New(cfg.LogFile, cfg.Environment == "production")
	defer log.Sync()

	loc, err := cfg.Location()
	if err != nil {
		log.Fatal("invalid timezone", zap.String("timezone", cfg.Timezone), zap.Error(err))
	}

	fs, err := vault.NewDir(cfg.VaultPath)
	if err != nil {
		log.Fatal("failed to open vault", zap.String("vaultPath", cfg.VaultPath), zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	store := conversation.New(fs, cfg.Folders.Conversations,
		conversation.WithLogger(log.Named("conversation")),
		conversation.WithLocation(loc),
		conversation.WithMetrics(metrics.New(reg)))

	ctx := context.Background()
	if _, err := store.LoadAll(ctx); err != nil {
		log.Fatal("failed to load conversations", zap.Error(err))
	}

	index, err := db.New(cfg.IndexPath)
	if err != nil {
		log.Fatal("failed to initialize search index",
			zap.Error(err),
			zap.String("dbPath", cfg.IndexPath))
	}
	defer index.Close()
	if err := index.Rebuild(ctx, store.All()); err != nil {
		log.Error("failed to rebuild search index", zap.Error(err))
	}

	client := llm.NewClient(cfg, log.Named("llm"))
	nb := notebook.New(fs, cfg.Folders.Templates, loc, log.Named("notebook"),
		notebook.WithTimestamps(cfg.UseTimestamps))
	handler := api.NewHandler(cfg, store, index, client, nb, log)

	r := mux.NewRouter()
	handler.Register(r)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	log.Info("Starting server", zap.String("addr", cfg.ListenAddr), zap.String("vault", cfg.VaultPath))
	if err := http.ListenAndServe(cfg.ListenAddr, r); err != nil {
		log.Fatal("failed to start server", zap.Error(err))
	}
}
