package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Watchlist []string        `mapstructure:"watchlist"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// BrokerConfig 描述 broker 接入信息。Identity/Secret 通常来自
// 环境变量（BINTRADER_BROKER_IDENTITY / BINTRADER_BROKER_SECRET），
// 核心不在进程级持有任何全局凭证。
type BrokerConfig struct {
	BaseURL     string        `mapstructure:"base_url"`
	AuthURL     string        `mapstructure:"auth_url"`
	WSURL       string        `mapstructure:"ws_url"`
	Identity    string        `mapstructure:"identity"`
	Secret      string        `mapstructure:"secret"`
	Balance     string        `mapstructure:"balance"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
}

// ExecutionConfig 控制批量执行节奏。
type ExecutionConfig struct {
	Pacing       time.Duration `mapstructure:"pacing"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Grace        time.Duration `mapstructure:"grace"`
}

// DatabaseConfig 管理运行日志数据库连接。
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	InMemory        bool          `mapstructure:"in_memory"`
}

// LoggingConfig 控制日志输出。
type LoggingConfig struct {
	Level            string   `mapstructure:"level"`
	Encoding         string   `mapstructure:"encoding"`
	Development      bool     `mapstructure:"development"`
	OutputPaths      []string `mapstructure:"output_paths"`
	ErrorOutputPaths []string `mapstructure:"error_output_paths"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Broker.BaseURL == "" {
		err = multierr.Append(err, errors.New("broker.base_url 不能为空"))
	}
	if c.Broker.AuthURL == "" {
		err = multierr.Append(err, errors.New("broker.auth_url 不能为空"))
	}
	if c.Broker.WSURL == "" {
		err = multierr.Append(err, errors.New("broker.ws_url 不能为空"))
	}
	if c.Broker.Identity == "" {
		err = multierr.Append(err, errors.New("broker.identity 不能为空，可通过环境变量 BINTRADER_BROKER_IDENTITY 注入"))
	}
	if c.Broker.Secret == "" {
		err = multierr.Append(err, errors.New("broker.secret 不能为空，可通过环境变量 BINTRADER_BROKER_SECRET 注入"))
	}
	if c.Broker.Balance != "demo" {
		err = multierr.Append(err, errors.New("broker.balance 仅支持 demo"))
	}
	if c.Broker.CallTimeout <= 0 {
		err = multierr.Append(err, errors.New("broker.call_timeout 必须大于0"))
	}
	if c.Execution.Pacing <= 0 {
		err = multierr.Append(err, errors.New("execution.pacing 必须大于0"))
	}
	if c.Execution.PollInterval <= 0 {
		err = multierr.Append(err, errors.New("execution.poll_interval 必须大于0"))
	}
	if c.Execution.Grace < 0 {
		err = multierr.Append(err, errors.New("execution.grace 不能为负"))
	}
	if c.Database.Path == "" && !c.Database.InMemory {
		err = multierr.Append(err, errors.New("database.path 不能为空"))
	}
	if c.Database.MaxOpenConns <= 0 {
		err = multierr.Append(err, errors.New("database.max_open_conns 必须大于0"))
	}
	if c.Database.MaxIdleConns < 0 {
		err = multierr.Append(err, errors.New("database.max_idle_conns 不能为负"))
	}
	if c.Database.ConnMaxLifetime < 0 {
		err = multierr.Append(err, errors.New("database.conn_max_lifetime 不能为负"))
	}
	if c.Logging.Level == "" {
		err = multierr.Append(err, errors.New("logging.level 不能为空"))
	}
	if c.Logging.Encoding == "" {
		err = multierr.Append(err, errors.New("logging.encoding 不能为空"))
	}
	if len(c.Logging.OutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.output_paths 至少包含一个输出目标"))
	}
	if len(c.Logging.ErrorOutputPaths) == 0 {
		err = multierr.Append(err, errors.New("logging.error_output_paths 至少包含一个输出目标"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
