package config

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
)

// Config 聚合了系统运行所需的全部配置项。
type Config struct {
	App        AppConfig        `mapstructure:"app"`
	Execution  ExecutionConfig  `mapstructure:"execution"`
	Venues     VenuesConfig     `mapstructure:"venues"`
	MarketData MarketDataConfig `mapstructure:"market_data"`
	Reconcile  ReconcileConfig  `mapstructure:"reconcile"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitor    MonitorConfig    `mapstructure:"monitor"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
}

// AppConfig 控制应用级参数。
type AppConfig struct {
	Environment string `mapstructure:"environment"`
}

// ExecutionConfig 控制执行编排行为。
type ExecutionConfig struct {
	Simulation    bool          `mapstructure:"simulation"`
	MaxRetries    int           `mapstructure:"max_retries"`
	RetryDelay    time.Duration `mapstructure:"retry_delay"`
	MaxQueueDepth int           `mapstructure:"max_queue_depth"`
	SourceTag     string        `mapstructure:"source_tag"`
}

// VenuesConfig 描述启动时注册的全部场所接口。
type VenuesConfig struct {
	Cex           []CexVenueConfig      `mapstructure:"cex"`
	Protocols     []ProtocolVenueConfig `mapstructure:"protocols"`
	DefaultWallet string                `mapstructure:"default_wallet"`
}

// CexVenueConfig 描述中心化交易所连接信息。
type CexVenueConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	APIPass    string `mapstructure:"api_password"`
	UseSandbox bool   `mapstructure:"use_sandbox"`
}

// ProtocolVenueConfig 描述链上协议接口。
type ProtocolVenueConfig struct {
	Name        string `mapstructure:"name"`
	Wallet      string `mapstructure:"wallet"`
	AtomicBatch bool   `mapstructure:"atomic_batch"`
}

// MarketDataConfig 控制执行前校验用的行情拉取。
type MarketDataConfig struct {
	Exchange       string   `mapstructure:"exchange"`
	Symbols        []string `mapstructure:"symbols"`
	MaxNotionalUSD float64  `mapstructure:"max_notional_usd"`
	ATRPeriod      int      `mapstructure:"atr_period"`
	VolatilityCap  float64  `mapstructure:"volatility_cap"`
	UseSandbox     bool     `mapstructure:"use_sandbox"`
}

// ReconcileConfig 控制仓位对账容差。
type ReconcileConfig struct {
	Tolerance float64 `mapstructure:"tolerance"`
}

// DatabaseConfig 管理数据库连接。
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

// MonitorConfig 控制监控接口。
type MonitorConfig struct {
	Port int `mapstructure:"port"`
}

// SchedulerConfig 控制主循环节奏。
type SchedulerConfig struct {
	LoopInterval time.Duration `mapstructure:"loop_interval"`
}

// Validate 对配置进行基本校验。
func (c *Config) Validate() error {
	var err error

	if c.App.Environment == "" {
		err = multierr.Append(err, errors.New("app.environment 不能为空"))
	}
	if c.Execution.MaxRetries < 1 || c.Execution.MaxRetries > 9 {
		err = multierr.Append(err, errors.New("execution.max_retries 必须位于[1,9]"))
	}
	if c.Execution.RetryDelay <= 0 {
		err = multierr.Append(err, errors.New("execution.retry_delay 必须大于0"))
	}
	if c.Execution.MaxQueueDepth <= 0 {
		err = multierr.Append(err, errors.New("execution.max_queue_depth 必须大于0"))
	}
	if c.Execution.SourceTag == "" {
		err = multierr.Append(err, errors.New("execution.source_tag 不能为空"))
	}
	if len(c.Venues.Cex) == 0 && len(c.Venues.Protocols) == 0 {
		err = multierr.Append(err, errors.New("venues 至少注册一个场所接口"))
	}
	for i, v := range c.Venues.Cex {
		if v.Name == "" {
			err = multierr.Append(err, fmt.Errorf("venues.cex[%d].name 不能为空", i))
		}
	}
	for i, p := range c.Venues.Protocols {
		if p.Name == "" {
			err = multierr.Append(err, fmt.Errorf("venues.protocols[%d].name 不能为空", i))
		}
	}
	if c.Venues.DefaultWallet == "" {
		err = multierr.Append(err, errors.New("venues.default_wallet 不能为空"))
	}
	if c.MarketData.Exchange == "" {
		err = multierr.Append(err, errors.New("market_data.exchange 不能为空"))
	}
	if c.MarketData.MaxNotionalUSD <= 0 {
		err = multierr.Append(err, errors.New("market_data.max_notional_usd 必须大于0"))
	}
	if c.MarketData.ATRPeriod < 2 {
		err = multierr.Append(err, errors.New("market_data.atr_period 必须大于1"))
	}
	if c.MarketData.VolatilityCap <= 0 || c.MarketData.VolatilityCap > 1 {
		err = multierr.Append(err, errors.New("market_data.volatility_cap 必须位于(0,1]"))
	}
	if c.Reconcile.Tolerance < 0 {
		err = multierr.Append(err, errors.New("reconcile.tolerance 不能为负"))
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
	if c.Monitor.Port <= 0 || c.Monitor.Port > 65535 {
		err = multierr.Append(err, errors.New("monitor.port 必须为合法端口"))
	}
	if c.Scheduler.LoopInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.loop_interval 必须大于0"))
	}

	if err != nil {
		return fmt.Errorf("配置校验失败: %w", err)
	}

	return nil
}
