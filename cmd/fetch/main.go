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
)

func main() {
	_ = godotenv.Load()

	var code string
	var start, end string
	var nameOnly bool
	var listAll bool
	var timeout int
	var configPath string

	flag.StringVar(&code, "code", "", "6-digit stock code, e.g. 600519")
	flag.StringVar(&start, "start", "", "start date YYYY-MM-DD (default 120 days ago)")
	flag.StringVar(&end, "end", "", "end date YYYY-MM-DD (default today)")
	flag.BoolVar(&nameOnly, "name", false, "print the stock name instead of bars")
	flag.BoolVar(&listAll, "list", false, "print the full stock list")
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
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	mgr := buildManager(cfg, log)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.RequestTimeoutSec)*time.Second)
	defer cancel()

	if listAll {
		listings, err := mgr.StockList(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("stock list")
		}
		printJSON(listings)
		return
	}

	if code == "" {
		log.Fatal().Msg("-code is required")
	}

	if nameOnly {
		name, err := mgr.StockName(ctx, code)
		if err != nil {
			log.Fatal().Err(err).Str("code", code).Msg("stock name")
		}
		fmt.Println(name)
		return
	}

	if end == "" {
		end = time.Now().Format("2006-01-02")
	}
	if start == "" {
		start = time.Now().AddDate(0, 0, -120).Format("2006-01-02")
	}

	bars, err := mgr.Daily(ctx, fetcher.Request{Code: code, Start: start, End: end})
	if err != nil {
		log.Fatal().Err(err).Str("code", code).Msg("fetch daily")
	}
	printJSON(bars)
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
