package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Tracker struct {
		PathCapacity    int           `yaml:"path_capacity" validate:"gte=1,lte=100000"`
		StaleAfter      time.Duration `yaml:"stale_after"` // negative disables STALE, zero means default
		LivenessTimeout time.Duration `yaml:"liveness_timeout" validate:"gte=0"`
		PruneInterval   time.Duration `yaml:"prune_interval" validate:"gte=0"`
		CountInterval   time.Duration `yaml:"count_interval" validate:"gte=0"`
		ViewerQueue     int           `yaml:"viewer_queue" validate:"gte=1"`
	} `yaml:"tracker"`
	RabbitMQ struct {
		Enabled  bool   `yaml:"enabled"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port" validate:"gte=1,lte=65535"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Prefetch int    `yaml:"prefetch" validate:"gte=0"`
	} `yaml:"rabbitmq"`
	Database struct {
		Enabled       bool          `yaml:"enabled"`
		Host          string        `yaml:"host"`
		Port          int           `yaml:"port" validate:"gte=1,lte=65535"`
		User          string        `yaml:"user"`
		Password      string        `yaml:"password"`
		Name          string        `yaml:"database"`
		EntityType    string        `yaml:"entity_type" validate:"oneof=driver vehicle"`
		SeedOnStart   bool          `yaml:"seed_on_start"`
		ArchiveQueue  int           `yaml:"archive_queue" validate:"gte=1"`
		ArchiveBatch  int           `yaml:"archive_batch" validate:"gte=1"`
		FlushInterval time.Duration `yaml:"flush_interval" validate:"gt=0"`
	} `yaml:"database"`
	Feeds  []FeedConfig `yaml:"feeds" validate:"dive"`
	GTFSRT struct {
		URL      string        `yaml:"url" validate:"omitempty,url"`
		Interval time.Duration `yaml:"interval" validate:"gte=0"`
		Timeout  time.Duration `yaml:"timeout" validate:"gte=0"`
	} `yaml:"gtfsrt"`
	Services struct {
		TrackerServicePort int `yaml:"tracker_service" validate:"gte=1,lte=65535"`
	} `yaml:"services"`
	JWT struct {
		SecretKey string        `yaml:"secret_key"`
		TTL       time.Duration `yaml:"ttl" validate:"gt=0"`
		DevTokens bool          `yaml:"dev_tokens"`
	} `yaml:"jwt"`
	OTel struct {
		Endpoint string `yaml:"endpoint" validate:"omitempty,url"`
	} `yaml:"otel"`
}

// FeedConfig describes one upstream WebSocket feed.
type FeedConfig struct {
	Name  string `yaml:"name" validate:"required"`
	URL   string `yaml:"url" validate:"required,url"`
	Token string `yaml:"token"`
}

// envOverrides are secrets and deployment knobs that may come from the environment.
type envOverrides struct {
	DBPassword     string `env:"FLEET_DB_PASSWORD"`
	RabbitPassword string `env:"FLEET_RABBITMQ_PASSWORD"`
	JWTSecret      string `env:"FLEET_JWT_SECRET"`
	FeedToken      string `env:"FLEET_FEED_TOKEN"`
	TrackerPort    int    `env:"FLEET_TRACKER_PORT"`
	OTelEndpoint   string `env:"FLEET_OTEL_ENDPOINT"`
	GTFSRTURL      string `env:"FLEET_GTFSRT_URL"`
}

// LoadFromFile loads config from a YAML file, applies env overrides and defaults, and validates it.
func LoadFromFile(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

// Load is LoadFromFile for an already opened reader.
func Load(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// applyEnv copies non-empty FLEET_* variables over the file values.
func applyEnv(cfg *Config) error {
	var o envOverrides
	if err := env.Parse(&o); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	if o.DBPassword != "" {
		cfg.Database.Password = o.DBPassword
	}
	if o.RabbitPassword != "" {
		cfg.RabbitMQ.Password = o.RabbitPassword
	}
	if o.JWTSecret != "" {
		cfg.JWT.SecretKey = o.JWTSecret
	}
	if o.FeedToken != "" {
		for i := range cfg.Feeds {
			if cfg.Feeds[i].Token == "" {
				cfg.Feeds[i].Token = o.FeedToken
			}
		}
	}
	if o.TrackerPort != 0 {
		cfg.Services.TrackerServicePort = o.TrackerPort
	}
	if o.OTelEndpoint != "" {
		cfg.OTel.Endpoint = o.OTelEndpoint
	}
	if o.GTFSRTURL != "" {
		cfg.GTFSRT.URL = o.GTFSRTURL
	}
	return nil
}

// applyDefaults sets safe defaults for some fields.
func applyDefaults(cfg *Config) {
	// Tracker
	if cfg.Tracker.PathCapacity == 0 {
		cfg.Tracker.PathCapacity = 256
	}
	if cfg.Tracker.StaleAfter == 0 {
		cfg.Tracker.StaleAfter = 2 * time.Minute
	}
	if cfg.Tracker.PruneInterval == 0 {
		cfg.Tracker.PruneInterval = 15 * time.Second
	}
	if cfg.Tracker.CountInterval == 0 {
		cfg.Tracker.CountInterval = 30 * time.Second
	}
	if cfg.Tracker.ViewerQueue == 0 {
		cfg.Tracker.ViewerQueue = 64
	}

	// RabbitMQ
	if cfg.RabbitMQ.Host == "" {
		cfg.RabbitMQ.Host = "localhost"
	}
	if cfg.RabbitMQ.Port == 0 {
		cfg.RabbitMQ.Port = 5672
	}
	if cfg.RabbitMQ.Prefetch == 0 {
		cfg.RabbitMQ.Prefetch = 32
	}

	// Database
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.EntityType == "" {
		cfg.Database.EntityType = "driver"
	}
	if cfg.Database.ArchiveQueue == 0 {
		cfg.Database.ArchiveQueue = 1024
	}
	if cfg.Database.ArchiveBatch == 0 {
		cfg.Database.ArchiveBatch = 100
	}
	if cfg.Database.FlushInterval == 0 {
		cfg.Database.FlushInterval = 2 * time.Second
	}

	// GTFS-RT
	if cfg.GTFSRT.Interval == 0 {
		cfg.GTFSRT.Interval = 10 * time.Second
	}
	if cfg.GTFSRT.Timeout == 0 {
		cfg.GTFSRT.Timeout = 10 * time.Second
	}

	// Services
	if cfg.Services.TrackerServicePort == 0 {
		cfg.Services.TrackerServicePort = 3010
	}

	// JWT
	if cfg.JWT.TTL == 0 {
		cfg.JWT.TTL = 2 * time.Hour
	}
	if cfg.JWT.SecretKey == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			// fallback: time-based bytes
			key = []byte(fmt.Sprintf("%d", time.Now().UnixNano()))
		}
		cfg.JWT.SecretKey = base64.StdEncoding.EncodeToString(key)
	}
}

// validate checks struct tags and the cross-field rules tags cannot express.
func (c *Config) validate() error {
	var problems []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			problems = append(problems, fmt.Sprintf("%s failed %q", strings.ToLower(fe.Namespace()), fe.Tag()))
		}
	}

	// at least one inbound feed
	if !c.RabbitMQ.Enabled && len(c.Feeds) == 0 && c.GTFSRT.URL == "" {
		problems = append(problems, "no inbound feed: enable rabbitmq, list feeds or set gtfsrt.url")
	}

	// RabbitMQ
	if c.RabbitMQ.Enabled {
		if c.RabbitMQ.User == "" {
			problems = append(problems, "rabbitmq.user is required")
		}
		if c.RabbitMQ.Password == "" {
			problems = append(problems, "rabbitmq.password is required")
		}
	}

	// DB
	if c.Database.Enabled {
		if c.Database.User == "" {
			problems = append(problems, "database.user is required")
		}
		if c.Database.Password == "" {
			problems = append(problems, "database.password is required")
		}
		if c.Database.Name == "" {
			problems = append(problems, "database.database is required")
		}
	}

	// liveness pruning needs a tick
	if c.Tracker.LivenessTimeout > 0 && c.Tracker.PruneInterval > c.Tracker.LivenessTimeout {
		problems = append(problems, "tracker.prune_interval must not exceed tracker.liveness_timeout")
	}

	seen := map[string]bool{}
	for _, f := range c.Feeds {
		if seen[f.Name] {
			problems = append(problems, fmt.Sprintf("feeds: duplicate name %q", f.Name))
		}
		seen[f.Name] = true
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
