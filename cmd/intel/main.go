package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"stockintel/internal/config"
	"stockintel/internal/fetcher"
	"stockintel/internal/fetcher/eastmoney"
	"stockintel/internal/fetcher/sina"
	"stockintel/internal/fetcher/tdx"
	"stockintel/internal/fetcher/tushare"
	"stockintel/internal/httpx"
	"stockintel/internal/search"
	"stockintel/internal/search/bocha"
	"stockintel/internal/search/serpapi"
	"stockintel/internal/search/tavily"
)

func main() {
	_ = godotenv.Load()

	var code string
	var name string
	var mode string
	var maxResults int
	var timeout int
	var configPath string

	flag.StringVar(&code, "code", "", "6-digit stock code, e.g. 600519")
	flag.StringVar(&name, "name", "", "stock name (resolved from data providers when empty)")
	flag.StringVar(&mode, "mode", "news", "news | events | intel | fallback")
	flag.IntVar(&maxResults, "max", 0, "max results (overrides config)")
	flag.IntVar(&timeout, "timeout", 0, "request timeout seconds (overrides config)")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.yaml (optional)")
	flag.Parse()

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if timeout > 0 {
		cfg.Server.RequestTimeoutSec = timeout
	}
	if maxResults <= 0 {
		maxResults = cfg.Search.MaxResults
	}
	if code == "" {
		log.Fatal().Msg("-code is required")
	}

	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	svc := buildSearch(cfg, hc, log)
	if !svc.Available() {
		log.Fatal().Msg("no search API keys configured; set BOCHA_API_KEYS, TAVILY_API_KEYS or SERPAPI_API_KEYS")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if name == "" {
		name = resolveName(ctx, cfg, log, code)
	}

	switch mode {
	case "news":
		printJSON(svc.News(ctx, code, name, maxResults))
	case "events":
		printJSON(svc.Events(ctx, code, name, nil))
	case "intel":
		intel := svc.Comprehensive(ctx, code, name, 0)
		fmt.Println(svc.Report(intel, name))
	case "fallback":
		printJSON(svc.PriceFallback(ctx, code, name, 0, maxResults))
	default:
		log.Fatal().Str("mode", mode).Msg("unknown mode")
	}
}

func buildSearch(cfg config.Config, hc *httpx.Client, log zerolog.Logger) *search.Service {
	var providers []search.Provider
	if len(cfg.Search.BochaKeys) > 0 {
		providers = append(providers, search.NewBacked(bocha.New(hc), cfg.Search.BochaKeys, log))
	}
	if len(cfg.Search.TavilyKeys) > 0 {
		providers = append(providers, search.NewBacked(tavily.New(hc), cfg.Search.TavilyKeys, log))
	}
	if len(cfg.Search.SerpAPIKeys) > 0 {
		providers = append(providers, search.NewBacked(serpapi.New(hc), cfg.Search.SerpAPIKeys, log))
	}
	return search.NewService(log, providers...)
}

// resolveName looks the stock name up through the data providers so queries
// carry the company name, not just the code. Falls back to the bare code.
func resolveName(ctx context.Context, cfg config.Config, log zerolog.Logger, code string) string {
	mgr := buildManager(cfg, log)
	n, err := mgr.StockName(ctx, code)
	if err != nil {
		log.Warn().Err(err).Str("code", code).Msg("stock name lookup failed, using code")
		return code
	}
	return n
}

func buildManager(cfg config.Config, log zerolog.Logger) *fetcher.Manager {
	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var fetchers []fetcher.Fetcher
	if cfg.Tushare.Enabled {
		client := tushare.NewClient(tushare.WithHTTPClient(hc.HTTP))
		fetchers = append(fetchers, tushare.New(tushare.Config{
			Tokens:   cfg.Tushare.Tokens,
			Priority: cfg.Tushare.Priority,
		}, client, log))
	}
	if cfg.Eastmoney.Enabled {
		fetchers = append(fetchers, eastmoney.New(eastmoney.Config{Priority: cfg.Eastmoney.Priority}, hc))
	}
	if cfg.Sina.Enabled {
		fetchers = append(fetchers, sina.New(sina.Config{Priority: cfg.Sina.Priority}, hc))
	}
	if cfg.TDX.Enabled {
		fetchers = append(fetchers, tdx.New(tdx.Config{
			Hosts:    cfg.TDX.Hosts,
			Priority: cfg.TDX.Priority,
			Timeout:  time.Duration(cfg.TDX.TimeoutSec) * time.Second,
		}, log))
	}
	return fetcher.New(log, fetchers...)
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}
