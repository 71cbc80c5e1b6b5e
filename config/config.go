package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// YAMLConfig YAML配置文件结构
type YAMLConfig struct {
	Server struct {
		Port     int    `yaml:"port"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"server"`

	Jobs struct {
		Workers   int `yaml:"workers"`
		MaxQueued int `yaml:"max_queued"`
		MaxJobs   int `yaml:"max_jobs"`
	} `yaml:"jobs"`

	Broadcast struct {
		WebhookURL     string `yaml:"webhook_url"`
		WebhookTimeout int    `yaml:"webhook_timeout_ms"`
		WebSocket      *bool  `yaml:"websocket"`
	} `yaml:"broadcast"`

	Backtest struct {
		// Default plan file used when a request carries no config.
		Plan string `yaml:"plan"`
	} `yaml:"backtest"`
}

// Config 服务配置
type Config struct {
	// HTTP 服务端口
	Port int

	// debug|info|warn|error
	LogLevel string

	// 并行执行的任务数
	Workers int

	// 排队任务上限, 超出时拒绝提交
	MaxQueued int

	// 保留的任务记录上限(只淘汰已结束的任务)
	MaxJobs int

	// 交易信号 webhook, 为空则不推送
	WebhookURL     string
	WebhookTimeout time.Duration

	// 是否开启 /ws/signals 广播
	WebSocket bool

	// 默认回测计划文件
	PlanPath string
}

// DefaultConfig 默认配置
var DefaultConfig = Config{
	Port:           19528,
	LogLevel:       "info",
	Workers:        2,
	MaxQueued:      64,
	MaxJobs:        256,
	WebhookTimeout: 3 * time.Second,
	WebSocket:      true,
}

// LoadFromFile 从YAML文件加载配置
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse overlays a YAML document on DefaultConfig.
func Parse(data []byte) (*Config, error) {
	var yc YAMLConfig
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config := DefaultConfig

	if yc.Server.Port > 0 {
		config.Port = yc.Server.Port
	}
	if s := strings.TrimSpace(yc.Server.LogLevel); s != "" {
		config.LogLevel = s
	}

	if yc.Jobs.Workers > 0 {
		config.Workers = yc.Jobs.Workers
	}
	if yc.Jobs.MaxQueued > 0 {
		config.MaxQueued = yc.Jobs.MaxQueued
	}
	if yc.Jobs.MaxJobs > 0 {
		config.MaxJobs = yc.Jobs.MaxJobs
	}

	config.WebhookURL = strings.TrimSpace(yc.Broadcast.WebhookURL)
	if yc.Broadcast.WebhookTimeout > 0 {
		config.WebhookTimeout = time.Duration(yc.Broadcast.WebhookTimeout) * time.Millisecond
	}
	if yc.Broadcast.WebSocket != nil {
		config.WebSocket = *yc.Broadcast.WebSocket
	}

	config.PlanPath = strings.TrimSpace(yc.Backtest.Plan)
	return &config, nil
}

// GetConfig 获取配置 (优先级: 环境变量 > 配置文件 > 默认值).
// A .env file in the working directory is loaded first; variables already
// set in the environment win over it.
func GetConfig(configPath string) (*Config, error) {
	_ = godotenv.Load()

	config := DefaultConfig
	if configPath != "" {
		cfg, err := LoadFromFile(configPath)
		if err != nil {
			return nil, err
		}
		config = *cfg
	}
	if err := applyEnv(&config); err != nil {
		return nil, err
	}
	return &config, nil
}

func applyEnv(c *Config) error {
	if v := os.Getenv("QUANTBT_PORT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid QUANTBT_PORT %q", v)
		}
		c.Port = n
	}
	if v := os.Getenv("QUANTBT_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("invalid QUANTBT_WORKERS %q", v)
		}
		c.Workers = n
	}
	if v := os.Getenv("QUANTBT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("QUANTBT_WEBHOOK_URL"); v != "" {
		c.WebhookURL = v
	}
	return nil
}
