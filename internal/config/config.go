// Package config loads relay configuration from a YAML file with
// environment-variable overrides.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	yaml "gopkg.in/yaml.v3"
)

type Server struct {
	Port           int `yaml:"port" validate:"gt=0,lte=65535"`
	RateRPS        int `yaml:"rateRps" validate:"gte=0"`
	RateBurst      int `yaml:"rateBurst" validate:"gte=0"`
	ReadHeaderWait int `yaml:"readHeaderTimeoutSec" validate:"gte=0"`
}

type Database struct {
	URL string `yaml:"url"`
}

type Redis struct {
	URL string `yaml:"url" validate:"omitempty,uri"`
}

type Auth struct {
	Mode       string `yaml:"mode" validate:"oneof=dev hmac"`
	HMACSecret string `yaml:"hmacSecret"`
}

type Relay struct {
	// SendQueue bounds each connection's outbound queue; a full queue drops
	// frames for that viewer only.
	SendQueue     int `yaml:"sendQueue" validate:"gt=0"`
	BrokerBuffer  int `yaml:"brokerBuffer" validate:"gt=0"`
	PingPeriodSec int `yaml:"pingPeriodSec" validate:"gt=0"`
	ReadWaitSec   int `yaml:"readWaitSec" validate:"gt=0"`
}

type Pruner struct {
	Enabled        bool `yaml:"enabled"`
	IntervalSec    int  `yaml:"intervalSec" validate:"gt=0"`
	GracePeriodSec int  `yaml:"gracePeriodSec" validate:"gte=0"`
	BatchLimit     int  `yaml:"batchLimit" validate:"gt=0"`
}

type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Redis    Redis    `yaml:"redis"`
	Auth     Auth     `yaml:"auth"`
	Relay    Relay    `yaml:"relay"`
	Pruner   Pruner   `yaml:"pruner"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Server: Server{Port: 8080, RateRPS: 0, RateBurst: 0, ReadHeaderWait: 5},
		Auth:   Auth{Mode: "dev"},
		Relay:  Relay{SendQueue: 32, BrokerBuffer: 64, PingPeriodSec: 20, ReadWaitSec: 60},
		Pruner: Pruner{Enabled: true, IntervalSec: 300, GracePeriodSec: 600, BatchLimit: 100},
	}
}

// Load reads path (optional), applies env overrides, and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	applyEnv(&cfg)
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	cfg.Database.URL = envOr("DATABASE_URL", cfg.Database.URL)
	cfg.Redis.URL = envOr("REDIS_URL", cfg.Redis.URL)
	cfg.Auth.Mode = envOr("AUTH_MODE", cfg.Auth.Mode)
	cfg.Auth.HMACSecret = envOr("AUTH_HMAC_SECRET", cfg.Auth.HMACSecret)
	if v := os.Getenv("RATE_RPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateRPS = n
		}
	}
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.RateBurst = n
		}
	}
	if v := os.Getenv("PRUNE_INTERVAL_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pruner.IntervalSec = n
		}
	}
	if v := os.Getenv("PRUNE_GRACE_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.Pruner.GracePeriodSec = n
		}
	}
}

func envOr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func (p Pruner) Interval() time.Duration    { return time.Duration(p.IntervalSec) * time.Second }
func (p Pruner) GracePeriod() time.Duration { return time.Duration(p.GracePeriodSec) * time.Second }
func (r Relay) PingPeriod() time.Duration   { return time.Duration(r.PingPeriodSec) * time.Second }
func (r Relay) ReadWait() time.Duration     { return time.Duration(r.ReadWaitSec) * time.Second }
