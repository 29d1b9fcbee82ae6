package server

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服务整体配置（YAML）
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Log      LogConfig      `yaml:"log"`
	Market   MarketConfig   `yaml:"market"`
}

// ServerConfig 监听地址与单连接限制
type ServerConfig struct {
	Addr           string        `yaml:"addr"`
	SendQueueSize  int           `yaml:"send_queue_size"`
	ReadLimitBytes int64         `yaml:"read_limit_bytes"`
	PongWait       time.Duration `yaml:"pong_wait"`
	WriteWait      time.Duration `yaml:"write_wait"`
	EventsPerSec   float64       `yaml:"events_per_sec"`
	EventBurst     int           `yaml:"event_burst"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
}

// AuthConfig JWT 校验参数（签发不在本服务内）
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

// DatabaseConfig PostgreSQL 连接
type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

// LogConfig 日志输出
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	Stderr     bool   `yaml:"stderr"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// MarketConfig 行情波动模拟
type MarketConfig struct {
	// SwingThresholdPct 超过该百分比的波动会全服广播
	SwingThresholdPct float64 `yaml:"swing_threshold_pct"`
	// MaxSwingPct 单次成交模拟波动的最大幅度
	MaxSwingPct   float64       `yaml:"max_swing_pct"`
	PriceWindow   time.Duration `yaml:"price_window"`
	ActivityWrite time.Duration `yaml:"activity_write_timeout"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// LoadConfig 读取 YAML 配置，展开 ${VAR} 环境变量并补默认值
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- 路径来自命令行参数
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig 解析 YAML 内容
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	ApplyDefaults(&cfg)
	return &cfg, nil
}

func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// ApplyDefaults 为未填写的字段补默认值
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.SendQueueSize == 0 {
		cfg.Server.SendQueueSize = 64
	}
	if cfg.Server.ReadLimitBytes == 0 {
		cfg.Server.ReadLimitBytes = 1 << 16
	}
	if cfg.Server.PongWait == 0 {
		cfg.Server.PongWait = 60 * time.Second
	}
	if cfg.Server.WriteWait == 0 {
		cfg.Server.WriteWait = 5 * time.Second
	}
	if cfg.Server.EventsPerSec == 0 {
		cfg.Server.EventsPerSec = 10
	}
	if cfg.Server.EventBurst == 0 {
		cfg.Server.EventBurst = 20
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Log.File == "" {
		cfg.Log.File = "app.log"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 10
	}
	if cfg.Log.MaxBackups == 0 {
		cfg.Log.MaxBackups = 3
	}
	if cfg.Log.MaxAgeDays == 0 {
		cfg.Log.MaxAgeDays = 7
	}
	if cfg.Market.SwingThresholdPct == 0 {
		cfg.Market.SwingThresholdPct = 3
	}
	if cfg.Market.MaxSwingPct == 0 {
		cfg.Market.MaxSwingPct = 5
	}
	if cfg.Market.PriceWindow == 0 {
		cfg.Market.PriceWindow = 24 * time.Hour
	}
	if cfg.Market.ActivityWrite == 0 {
		cfg.Market.ActivityWrite = 3 * time.Second
	}
}

// Validate 检查必填项与数值范围
func (c *Config) Validate() error {
	var errs []error
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if c.Database.DSN == "" {
		errs = append(errs, errors.New("database.dsn is required"))
	}
	if c.Server.SendQueueSize <= 0 {
		errs = append(errs, errors.New("server.send_queue_size must be positive"))
	}
	if c.Server.EventsPerSec <= 0 || c.Server.EventBurst <= 0 {
		errs = append(errs, errors.New("server.events_per_sec and server.event_burst must be positive"))
	}
	if c.Server.ReadLimitBytes <= 0 {
		errs = append(errs, errors.New("server.read_limit_bytes must be positive"))
	}
	if c.Market.SwingThresholdPct < 0 || c.Market.MaxSwingPct < 0 {
		errs = append(errs, errors.New("market percentages must not be negative"))
	}
	return errors.Join(errs...)
}
