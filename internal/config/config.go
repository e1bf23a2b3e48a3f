package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	xerrors "solshuttle/internal/errors"
)

// Config 描述了转账代理在启动阶段需要加载的全部配置。
type Config struct {
	Wallets  WalletConfig
	Ledger   LedgerConfig
	Schedule ScheduleConfig
	Log      LogConfig
	Metrics  MetricsConfig
	Lock     LockConfig
	Events   EventsConfig
}

// WalletConfig 保存两个托管钱包的 base58 私钥。
type WalletConfig struct {
	PrivateKeyA string `env:"SOL_WALLET_A_PRIVATE_KEY"`
	PrivateKeyB string `env:"SOL_WALLET_B_PRIVATE_KEY"`
}

// LedgerConfig 描述 RPC 节点及确认参数。
type LedgerConfig struct {
	RPCURL                string `env:"SOL_RPC_URL"`
	Cluster               string `env:"SOL_CLUSTER"`
	ClustersFile          string `env:"SOL_CLUSTERS_FILE"`
	Commitment            string `env:"SOL_COMMITMENT" envDefault:"confirmed"`
	ConfirmTimeoutSeconds int    `env:"SOL_CONFIRM_TIMEOUT_SECONDS" envDefault:"60"`
	PollIntervalMillis    int    `env:"SOL_POLL_INTERVAL_MS" envDefault:"2000"`
	RequestTimeoutSeconds int    `env:"SOL_REQUEST_TIMEOUT_SECONDS" envDefault:"30"`
	AnchorTTLSeconds      int    `env:"SOL_ANCHOR_TTL_SECONDS" envDefault:"60"`
}

// ConfirmTimeout 返回确认阶段的最长等待时间。
func (c LedgerConfig) ConfirmTimeout() time.Duration {
	return time.Duration(c.ConfirmTimeoutSeconds) * time.Second
}

// PollInterval 返回确认轮询间隔。
func (c LedgerConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMillis) * time.Millisecond
}

// RequestTimeout 返回单次 RPC 请求的超时时间。
func (c LedgerConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSeconds) * time.Second
}

// AnchorTTL 返回区块哈希在本地被视为新鲜的时长。
func (c LedgerConfig) AnchorTTL() time.Duration {
	return time.Duration(c.AnchorTTLSeconds) * time.Second
}

// ScheduleConfig 控制转账节奏与金额区间。
type ScheduleConfig struct {
	IntervalSeconds int    `env:"SOL_INTERVAL_SECONDS" envDefault:"600"`
	MinAmount       string `env:"SOL_MIN_AMOUNT" envDefault:"0.005"`
	MaxAmount       string `env:"SOL_MAX_AMOUNT" envDefault:"0.01"`
}

// Interval 返回两个周期之间的固定休眠时间。
func (c ScheduleConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

// Bounds 解析并返回金额区间（单位 SOL）。
func (c ScheduleConfig) Bounds() (decimal.Decimal, decimal.Decimal, error) {
	min, err := decimal.NewFromString(strings.TrimSpace(c.MinAmount))
	if err != nil {
		return decimal.Zero, decimal.Zero, xerrors.Config("无法解析 SOL_MIN_AMOUNT=%q: %v", c.MinAmount, err)
	}
	max, err := decimal.NewFromString(strings.TrimSpace(c.MaxAmount))
	if err != nil {
		return decimal.Zero, decimal.Zero, xerrors.Config("无法解析 SOL_MAX_AMOUNT=%q: %v", c.MaxAmount, err)
	}
	if !min.IsPositive() || max.LessThan(min) {
		return decimal.Zero, decimal.Zero, xerrors.Config("金额区间无效: [%s, %s]", min, max)
	}
	return min, max, nil
}

// LogConfig 对应 pkg/logger 的配置。
type LogConfig struct {
	Level            string   `env:"LOG_LEVEL" envDefault:"info"`
	Format           string   `env:"LOG_FORMAT" envDefault:"text"`
	Outputs          []string `env:"LOG_OUTPUTS" envSeparator:","`
	ReportPath       string   `env:"REPORT_LOG_PATH"`
	ReportMaxSizeMB  int      `env:"REPORT_LOG_MAX_SIZE_MB" envDefault:"100"`
	ReportMaxBackups int      `env:"REPORT_LOG_MAX_BACKUPS" envDefault:"7"`
	ReportMaxAgeDays int      `env:"REPORT_LOG_MAX_AGE_DAYS" envDefault:"30"`
}

// MetricsConfig 控制 Prometheus 指标暴露地址，为空则不启动。
type MetricsConfig struct {
	Address string `env:"METRICS_ADDRESS"`
}

// LockConfig 描述基于 Redis 的单实例租约。
type LockConfig struct {
	RedisAddress  string `env:"LOCK_REDIS_ADDRESS"`
	RedisPassword string `env:"LOCK_REDIS_PASSWORD"`
	RedisDB       int    `env:"LOCK_REDIS_DB"`
	Key           string `env:"LOCK_KEY" envDefault:"solshuttle:lease"`
}

// Enabled 判断是否配置了租约。
func (c LockConfig) Enabled() bool { return strings.TrimSpace(c.RedisAddress) != "" }

// EventsConfig 描述转账结果事件的 RabbitMQ 投递目标。
type EventsConfig struct {
	AMQPURL string `env:"REPORT_AMQP_URL"`
	Queue   string `env:"REPORT_AMQP_QUEUE" envDefault:"solshuttle.transfers"`
}

// Enabled 判断是否需要投递事件。
func (c EventsConfig) Enabled() bool { return strings.TrimSpace(c.AMQPURL) != "" }

// Load 先读取可选的 .env 文件，再从环境变量解析配置。
// 环境变量中已存在的值不会被 .env 覆盖。
func Load(envFiles ...string) (*Config, error) {
	for _, file := range envFiles {
		if strings.TrimSpace(file) == "" {
			continue
		}
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, xerrors.Wrap(xerrors.CodeConfig, err, "读取 .env 文件失败")
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfig, err, "解析环境变量失败")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必填项与取值范围，所有错误均为致命的配置错误。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Wallets.PrivateKeyA) == "" || strings.TrimSpace(c.Wallets.PrivateKeyB) == "" {
		return xerrors.Config("缺少 SOL_WALLET_A_PRIVATE_KEY 或 SOL_WALLET_B_PRIVATE_KEY")
	}
	if strings.TrimSpace(c.Wallets.PrivateKeyA) == strings.TrimSpace(c.Wallets.PrivateKeyB) {
		return xerrors.Config("钱包 A 与钱包 B 不能使用同一私钥")
	}

	switch c.Ledger.Commitment {
	case "confirmed", "finalized":
	default:
		return xerrors.Config("不支持的确认级别 %q，可选 confirmed 或 finalized", c.Ledger.Commitment)
	}
	if c.Ledger.ConfirmTimeoutSeconds <= 0 {
		return xerrors.Config("SOL_CONFIRM_TIMEOUT_SECONDS 必须大于 0")
	}
	if c.Ledger.PollIntervalMillis <= 0 {
		return xerrors.Config("SOL_POLL_INTERVAL_MS 必须大于 0")
	}
	if c.Ledger.RequestTimeoutSeconds <= 0 {
		return xerrors.Config("SOL_REQUEST_TIMEOUT_SECONDS 必须大于 0")
	}
	if c.Ledger.AnchorTTLSeconds <= 0 {
		return xerrors.Config("SOL_ANCHOR_TTL_SECONDS 必须大于 0")
	}
	if c.Schedule.IntervalSeconds <= 0 {
		return xerrors.Config("SOL_INTERVAL_SECONDS 必须大于 0")
	}

	_, _, err := c.Schedule.Bounds()
	return err
}
