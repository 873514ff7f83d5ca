package config

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const DefaultPath = "config/config.yaml"

// Persistence drivers for stage slices.
const (
	StoreBackend = "backend"
	StoreMySQL   = "mysql"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	MySQL struct {
		DSN string `yaml:"dsn"`
	} `yaml:"mysql"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
	} `yaml:"redis"`
	Backend struct {
		Addr    string        `yaml:"addr"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"backend"`
	MinIO struct {
		Endpoint  string `yaml:"endpoint"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Bucket    string `yaml:"bucket"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"minio"`
	Workflow WorkflowConfig `yaml:"workflow"`
}

// WorkflowConfig tunes the orchestration core.
type WorkflowConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	PollCeiling     time.Duration `yaml:"poll_ceiling"`
	Debounce        time.Duration `yaml:"debounce"`
	Store           string        `yaml:"store"`
	QueuePolling    bool          `yaml:"queue_polling"`
	PollConcurrency int           `yaml:"poll_concurrency"`
	// PollQueue is the asynq queue this instance consumes. Poll loops live in
	// process memory, so it must not be shared with other instances.
	PollQueue       string        `yaml:"poll_queue"`
}

var AppConfig *Config

// InitConfig loads DefaultPath into AppConfig and exits on failure.
func InitConfig() {
	cfg, err := Load(DefaultPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	AppConfig = cfg
}

// Load reads a YAML config file, applies .env/environment overrides and fills defaults.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}
	cfg := &Config{}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("SERVER_PORT"); v != "" {
		c.Server.Port = v
	}
	if v := os.Getenv("MYSQL_DSN"); v != "" {
		c.MySQL.DSN = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("BACKEND_ADDR"); v != "" {
		c.Backend.Addr = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = ":8080"
	}
	if c.Backend.Timeout <= 0 {
		c.Backend.Timeout = 60 * time.Second
	}
	w := &c.Workflow
	if w.PollInterval <= 0 {
		w.PollInterval = 3 * time.Second
	}
	if w.PollCeiling <= 0 {
		w.PollCeiling = 5 * time.Minute
	}
	if w.Debounce <= 0 {
		w.Debounce = 2 * time.Second
	}
	if w.Store == "" {
		w.Store = StoreBackend
	}
	if w.PollConcurrency <= 0 {
		w.PollConcurrency = 5
	}
	if w.PollQueue == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "local"
		}
		w.PollQueue = fmt.Sprintf("poll-%s-%d", host, os.Getpid())
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Workflow.Store {
	case StoreBackend:
		if c.Backend.Addr == "" {
			return fmt.Errorf("backend.addr is required when workflow.store is %q", StoreBackend)
		}
	case StoreMySQL:
		if c.MySQL.DSN == "" {
			return fmt.Errorf("mysql.dsn is required when workflow.store is %q", StoreMySQL)
		}
	default:
		return fmt.Errorf("unknown workflow.store %q", c.Workflow.Store)
	}
	if c.Workflow.QueuePolling && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when workflow.queue_polling is enabled")
	}
	return nil
}
