package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Port              string `yaml:"port"`
	RequestTimeoutSec int    `yaml:"request_timeout_sec"`
}

type Eastmoney struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
}

type Sina struct {
	Enabled  bool `yaml:"enabled"`
	Priority int  `yaml:"priority"`
}

type Tushare struct {
	Enabled  bool     `yaml:"enabled"`
	Tokens   []string `yaml:"tokens"`
	Priority int      `yaml:"priority"`
}

type TDX struct {
	Enabled    bool     `yaml:"enabled"`
	Hosts      []string `yaml:"hosts"`
	Priority   int      `yaml:"priority"`
	TimeoutSec int      `yaml:"timeout_sec"`
}

type Search struct {
	BochaKeys   []string `yaml:"bocha_keys"`
	TavilyKeys  []string `yaml:"tavily_keys"`
	SerpAPIKeys []string `yaml:"serpapi_keys"`
	MaxResults  int      `yaml:"max_results"`
}

type Config struct {
	Server    Server    `yaml:"server"`
	Eastmoney Eastmoney `yaml:"eastmoney"`
	Sina      Sina      `yaml:"sina"`
	Tushare   Tushare   `yaml:"tushare"`
	TDX       TDX       `yaml:"tdx"`
	Search    Search    `yaml:"search"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 30},
		// Tushare ranks first when tokens are configured: it is the only
		// backend with an SLA. The free sources follow in reliability order.
		Tushare:   Tushare{Enabled: true, Priority: 0},
		Eastmoney: Eastmoney{Enabled: true, Priority: 1},
		Sina:      Sina{Enabled: true, Priority: 2},
		TDX:       TDX{Enabled: true, Priority: 3, TimeoutSec: 5},
		Search:    Search{MaxResults: 10},
	}
}

// Load reads YAML config from path. If path is empty or the file does not
// exist, it returns defaults. Environment variables override select fields
// so credentials never have to live in the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func (c Config) Validate() error {
	if c.Server.RequestTimeoutSec <= 0 {
		return fmt.Errorf("server.request_timeout_sec must be positive")
	}
	if !c.Eastmoney.Enabled && !c.Sina.Enabled && !c.Tushare.Enabled && !c.TDX.Enabled {
		return fmt.Errorf("no data provider enabled")
	}
	return nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}

	if v := os.Getenv("EASTMONEY_ENABLED"); v != "" {
		cfg.Eastmoney.Enabled = envBool(v, cfg.Eastmoney.Enabled)
	}
	if v := os.Getenv("SINA_ENABLED"); v != "" {
		cfg.Sina.Enabled = envBool(v, cfg.Sina.Enabled)
	}

	if v := os.Getenv("TUSHARE_ENABLED"); v != "" {
		cfg.Tushare.Enabled = envBool(v, cfg.Tushare.Enabled)
	}
	if v := os.Getenv("TUSHARE_TOKENS"); v != "" {
		cfg.Tushare.Tokens = splitCSV(v)
	}

	if v := os.Getenv("TDX_ENABLED"); v != "" {
		cfg.TDX.Enabled = envBool(v, cfg.TDX.Enabled)
	}
	if v := os.Getenv("TDX_HOSTS"); v != "" {
		cfg.TDX.Hosts = splitCSV(v)
	}
	if v := os.Getenv("TDX_TIMEOUT_SEC"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.TDX.TimeoutSec = x
		}
	}

	if v := os.Getenv("BOCHA_API_KEYS"); v != "" {
		cfg.Search.BochaKeys = splitCSV(v)
	}
	if v := os.Getenv("TAVILY_API_KEYS"); v != "" {
		cfg.Search.TavilyKeys = splitCSV(v)
	}
	if v := os.Getenv("SERPAPI_API_KEYS"); v != "" {
		cfg.Search.SerpAPIKeys = splitCSV(v)
	}
	if v := os.Getenv("SEARCH_MAX_RESULTS"); v != "" {
		var x int
		fmt.Sscanf(v, "%d", &x)
		if x > 0 {
			cfg.Search.MaxResults = x
		}
	}
}

func envBool(v string, fallback bool) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return fallback
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
