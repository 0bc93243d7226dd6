package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
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
	"stockintel/internal/keypool"
	"stockintel/internal/search"
	"stockintel/internal/search/bocha"
	"stockintel/internal/search/serpapi"
	"stockintel/internal/search/tavily"
)

func main() {
	_ = godotenv.Load()

	log := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		log.Fatal().Err(err).Msg("config")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	hc := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)

	var fetchers []fetcher.Fetcher
	var tuPool *keypool.Pool
	if cfg.Tushare.Enabled {
		client := tushare.NewClient(tushare.WithHTTPClient(hc.HTTP))
		tu := tushare.New(tushare.Config{Tokens: cfg.Tushare.Tokens, Priority: cfg.Tushare.Priority}, client, log)
		tuPool = tu.Pool()
		fetchers = append(fetchers, tu)
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
	mgr := fetcher.New(log, fetchers...)

	var backends []search.Provider
	if len(cfg.Search.BochaKeys) > 0 {
		backends = append(backends, search.NewBacked(bocha.New(hc), cfg.Search.BochaKeys, log))
	}
	if len(cfg.Search.TavilyKeys) > 0 {
		backends = append(backends, search.NewBacked(tavily.New(hc), cfg.Search.TavilyKeys, log))
	}
	if len(cfg.Search.SerpAPIKeys) > 0 {
		backends = append(backends, search.NewBacked(serpapi.New(hc), cfg.Search.SerpAPIKeys, log))
	}
	svc := search.NewService(log, backends...)

	srv := newServer(mgr, svc, tuPool, backends, cfg.Search.MaxResults, log)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(srv.routes()))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Msg("server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
}

type server struct {
	mgr        *fetcher.Manager
	svc        *search.Service
	tuPool     *keypool.Pool
	backends   []search.Provider
	maxResults int
	log        zerolog.Logger
}

func newServer(mgr *fetcher.Manager, svc *search.Service, tuPool *keypool.Pool, backends []search.Provider, maxResults int, log zerolog.Logger) *server {
	if maxResults <= 0 {
		maxResults = 10
	}
	return &server{mgr: mgr, svc: svc, tuPool: tuPool, backends: backends, maxResults: maxResults, log: log}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/api/daily", s.handleDaily)
	mux.HandleFunc("/api/name", s.handleName)
	mux.HandleFunc("/api/list", s.handleList)
	mux.HandleFunc("/api/news", s.handleNews)
	mux.HandleFunc("/api/intel", s.handleIntel)
	mux.HandleFunc("/api/fallback", s.handleFallback)
	mux.HandleFunc("/api/status", s.handleStatus)
	return mux
}

func (s *server) handleDaily(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	start := r.URL.Query().Get("start")
	end := r.URL.Query().Get("end")
	if end == "" {
		end = time.Now().Format("2006-01-02")
	}
	if start == "" {
		start = time.Now().AddDate(0, 0, -120).Format("2006-01-02")
	}

	req := fetcher.Request{Code: code, Start: start, End: end}
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bars, err := s.mgr.Daily(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"code": code, "bars": bars})
}

func (s *server) handleName(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if !fetcher.ValidCode(code) {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return
	}
	name, err := s.mgr.StockName(r.Context(), code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]string{"code": code, "name": name})
}

func (s *server) handleList(w http.ResponseWriter, r *http.Request) {
	listings, err := s.mgr.StockList(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]any{"count": len(listings), "stocks": listings})
}

func (s *server) handleNews(w http.ResponseWriter, r *http.Request) {
	code, name, ok := s.codeAndName(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.svc.News(r.Context(), code, name, s.queryMax(r)))
}

func (s *server) handleIntel(w http.ResponseWriter, r *http.Request) {
	code, name, ok := s.codeAndName(w, r)
	if !ok {
		return
	}
	intel := s.svc.Comprehensive(r.Context(), code, name, 0)
	writeJSON(w, map[string]any{
		"code":       code,
		"name":       name,
		"dimensions": intel,
		"report":     s.svc.Report(intel, name),
	})
}

func (s *server) handleFallback(w http.ResponseWriter, r *http.Request) {
	code, name, ok := s.codeAndName(w, r)
	if !ok {
		return
	}
	writeJSON(w, s.svc.PriceFallback(r.Context(), code, name, 0, s.queryMax(r)))
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	type poolStatus struct {
		Provider string          `json:"provider"`
		Keys     []keypool.Stats `json:"keys"`
	}
	var pools []poolStatus
	if s.tuPool != nil {
		pools = append(pools, poolStatus{Provider: "tushare", Keys: s.tuPool.Stats()})
	}
	for _, b := range s.backends {
		if backed, ok := b.(*search.Backed); ok {
			pools = append(pools, poolStatus{Provider: backed.Name(), Keys: backed.Pool().Stats()})
		}
	}
	writeJSON(w, map[string]any{
		"providers":        s.mgr.Status(),
		"search_available": s.svc.Available(),
		"key_pools":        pools,
	})
}

// codeAndName validates the code param and resolves the display name,
// falling back to the bare code when no provider knows it.
func (s *server) codeAndName(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	code := r.URL.Query().Get("code")
	if !fetcher.ValidCode(code) {
		http.Error(w, "invalid code", http.StatusBadRequest)
		return "", "", false
	}
	name := r.URL.Query().Get("name")
	if name == "" {
		n, err := s.mgr.StockName(r.Context(), code)
		if err != nil {
			n = code
		}
		name = n
	}
	return code, name, true
}

func (s *server) queryMax(r *http.Request) int {
	if v := r.URL.Query().Get("max"); v != "" {
		if x, err := strconv.Atoi(v); err == nil && x > 0 && x <= 50 {
			return x
		}
	}
	return s.maxResults
}

func writeJSON(w http.ResponseWriter, v any) {
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadGateway
	var exhausted *fetcher.ExhaustedError
	if errors.Is(err, fetcher.ErrNotFound) && !errors.As(err, &exhausted) {
		status = http.StatusNotFound
	}
	http.Error(w, err.Error(), status)
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses responses when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
