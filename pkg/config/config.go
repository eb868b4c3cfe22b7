package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ACK 策略
const (
	// AckPolicyAlways 无论成败都 ACK（队列永不阻塞，失败任务被丢弃）
	AckPolicyAlways = "ack_always"
	// AckPolicyDeadLetter 失败任务先移入死信流再 ACK
	AckPolicyDeadLetter = "dead_letter"
)

// Config 全局配置
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Redis  RedisConfig  `mapstructure:"redis"`
	MySQL  MySQLConfig  `mapstructure:"mysql"`
	Worker WorkerConfig `mapstructure:"worker"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `mapstructure:"name"`
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
}

// RedisConfig Redis 配置（Stream 与统计存储共用）
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MySQLConfig MySQL 配置（幂等账本，DSN 为空则禁用）
type MySQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

// WorkerConfig Worker 运行参数
type WorkerConfig struct {
	ReadBlock      time.Duration `mapstructure:"read_block"`      // 阻塞读超时（空闲时观察退出信号的粒度）
	ErrorBackoff   time.Duration `mapstructure:"error_backoff"`   // 传输错误退避时间
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"` // Handler 超时（0 = 不限制）
	AckPolicy      string        `mapstructure:"ack_policy"`      // ack_always / dead_letter
}

// Load 加载配置文件
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config failed: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults 填充默认值
func (c *Config) applyDefaults() {
	if c.Worker.ReadBlock <= 0 {
		c.Worker.ReadBlock = 5 * time.Second
	}
	if c.Worker.ErrorBackoff <= 0 {
		c.Worker.ErrorBackoff = 1 * time.Second
	}
	if c.Worker.AckPolicy == "" {
		c.Worker.AckPolicy = AckPolicyAlways
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name is required")
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required")
	}
	if c.Worker.AckPolicy != AckPolicyAlways && c.Worker.AckPolicy != AckPolicyDeadLetter {
		return fmt.Errorf("worker.ack_policy must be %s or %s", AckPolicyAlways, AckPolicyDeadLetter)
	}
	return nil
}
