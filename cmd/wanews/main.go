package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/wzvang/wanews/internal/cache"
	"github.com/wzvang/wanews/internal/config"
	"github.com/wzvang/wanews/internal/fetch"
	"github.com/wzvang/wanews/internal/gateway"
	"github.com/wzvang/wanews/internal/ledger"
	"github.com/wzvang/wanews/internal/logger"
	"github.com/wzvang/wanews/internal/metrics"
	"github.com/wzvang/wanews/internal/news"
	"github.com/wzvang/wanews/internal/ratelimit"
	"github.com/wzvang/wanews/internal/scheduler"
	"github.com/wzvang/wanews/internal/shortener"
	"github.com/wzvang/wanews/internal/subscriber"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}

	logger.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	defaults, err := subscriber.LoadDefaults(cfg.DefaultSubscribersPath)
	if err != nil {
		log.Fatalf("load default subscribers: %v", err)
	}

	registry := subscriber.NewRegistry(cfg.SubscribersPath, defaults)
	if err := registry.Load(); err != nil {
		log.Fatalf("load subscribers: %v", err)
	}

	sentLedger := ledger.New(cfg.SentNewsPath)
	if err := sentLedger.Load(); err != nil {
		log.Fatalf("load sent-news ledger: %v", err)
	}

	resultCache := cache.New()
	defer resultCache.Stop()

	var base fetch.Fetcher
	switch cfg.FetcherKind {
	case "html":
		base = fetch.NewGoogleNewsHTML(cfg.MaxArticles, cfg.SearchLang, cfg.SearchCountry, cfg.FetchTimeout)
	default:
		base = fetch.NewGoogleNewsRSS(cfg.MaxArticles, cfg.SearchLang, cfg.SearchCountry, cfg.FetchTimeout)
	}
	fetcher := fetch.NewCached(base, resultCache, cfg.CacheTTL)

	short := shortener.New(cfg.ShortURLAPIURL, cfg.ShortURLAPIKey)
	sink := gateway.NewClient(cfg.GatewayURL, cfg.GatewayToken)

	sched := scheduler.New(registry, sentLedger, fetcher, short, sink, scheduler.Options{
		DeliverySpec:  cfg.DeliverySpec,
		RefillSpec:    cfg.RefillSpec,
		PurgeSpec:     cfg.PurgeSpec,
		RetentionDays: cfg.LedgerRetentionDays,
		FetchTimeout:  cfg.FetchTimeout,
		SendTimeout:   cfg.SendTimeout,
	})
	if err := sched.Start(); err != nil {
		log.Fatalf("start scheduler: %v", err)
	}

	// Check if we should start HTTP server for monitoring
	if os.Getenv("ENABLE_HTTP_MONITORING") == "true" {
		go startMonitoringServer(cfg, fetcher)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	sched.Stop()
}

func startMonitoringServer(cfg *config.Config, fetcher fetch.Fetcher) {
	port := os.Getenv("MONITORING_PORT")
	if port == "" {
		port = "8080"
	}

	limiter := ratelimit.New(cfg.RateLimitWindow, cfg.RateLimitMax)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler)
	mux.HandleFunc("/metrics", metricsHandler)
	mux.Handle("/news", limiter.Middleware(newsHandler(cfg, fetcher)))

	log.Printf("Starting monitoring server on port %s", port)
	if err := http.ListenAndServe(":"+port, mux); err != nil {
		log.Printf("Monitoring server error: %v", err)
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	status := "ok"
	if !stats["is_healthy"].(bool) {
		status = "error"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	response := map[string]interface{}{
		"status":     status,
		"last_run":   stats["last_run_time"],
		"last_error": stats["last_error"],
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

func metricsHandler(w http.ResponseWriter, r *http.Request) {
	stats := metrics.Global.GetStats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// newsHandler serves an ad-hoc topic lookup straight from the cached
// fetcher, mostly for poking at the pipeline from a browser.
func newsHandler(cfg *config.Config, fetcher fetch.Fetcher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		topic := news.SanitizeTopic(r.URL.Query().Get("q"))

		ctx, cancel := context.WithTimeout(r.Context(), cfg.FetchTimeout)
		defer cancel()

		items, err := fetcher.Fetch(ctx, topic)
		if err != nil {
			logger.Error("news lookup failed", "topic", topic, "error", err)
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(map[string]string{"error": "failed to fetch news"})
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"topic": topic,
			"data":  items,
		})
	})
}
