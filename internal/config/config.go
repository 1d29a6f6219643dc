package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config 全局配置结构体（完全匹配config.yaml）
type Config struct {
	Database  DatabaseConfig            `mapstructure:"database"`   // 数据库配置
	Worker    WorkerConfig              `mapstructure:"worker"`     // 调度循环配置
	Leader    LeaderConfig              `mapstructure:"leader"`     // 单活选主配置
	Drift     DriftConfig               `mapstructure:"drift"`      // 漂移分析阈值
	Delivery  DeliveryConfig            `mapstructure:"delivery"`   // 投递策略
	MatchTime MatchTimeConfig           `mapstructure:"match_time"` // 比赛时间数据源选择
	Providers map[string]ProviderConfig `mapstructure:"providers"`  // 各上游数据源独立配置
	Debug     DebugConfig               `mapstructure:"debug"`      // 调试服务（默认关闭）
	Log       LogConfig                 `mapstructure:"log"`        // 日志
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`            // postgres / sqlite
	DSN             string        `mapstructure:"dsn"`               // 连接DSN（sqlite 为文件路径）
	MaxOpenConns    int           `mapstructure:"max_open_conns"`    // 最大打开连接数
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`    // 最大空闲连接数
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"` // 连接最大存活时间
	LogLevel        string        `mapstructure:"log_level"`         // GORM日志级别：silent/error/warn/info
	AutoMigrate     bool          `mapstructure:"auto_migrate"`      // 启动时自动建表
}

// WorkerConfig 调度循环配置；各任务节奏使用 cron 描述符（@every 10m 或标准 5 段表达式）
type WorkerConfig struct {
	Tick               time.Duration `mapstructure:"tick"`                 // 每轮间隔
	ErrorBackoff       time.Duration `mapstructure:"error_backoff"`        // 外层异常后的退避
	MatchRefresh       string        `mapstructure:"match_refresh"`        // 比赛时间刷新节奏
	DriftAnalysis      string        `mapstructure:"drift_analysis"`       // 漂移分析节奏
	Scheduling         string        `mapstructure:"scheduling"`           // 排程+重排节奏
	Cleanup            string        `mapstructure:"cleanup"`              // 清理节奏
	Lookahead          time.Duration `mapstructure:"lookahead"`            // 排程向前看多久的比赛
	ActiveWindowPast   time.Duration `mapstructure:"active_window_past"`   // 活跃赛事：往前
	ActiveWindowFuture time.Duration `mapstructure:"active_window_future"` // 活跃赛事：往后
}

// LeaderConfig 单活选主
type LeaderConfig struct {
	Backend  string        `mapstructure:"backend"`   // file / lease / none
	LockFile string        `mapstructure:"lock_file"` // file 后端的锁文件路径
	Stale    time.Duration `mapstructure:"stale"`     // 超过该时间未刷新视为失效
	Name     string        `mapstructure:"name"`      // lease 后端的租约名
}

// DriftConfig 漂移分析阈值
type DriftConfig struct {
	MinConfidence      float64 `mapstructure:"min_confidence"`       // 置信度下限
	MinSamples         int     `mapstructure:"min_samples"`          // 最少样本数
	MinAdjustMinutes   float64 `mapstructure:"min_adjust_minutes"`   // 低于该偏移不修正
	RescheduleMinutes  float64 `mapstructure:"reschedule_minutes"`   // 达到该偏移才建议重排
	ReactorMinutes     int     `mapstructure:"reactor_minutes"`      // 重排反应器阈值
	MaxDelayMinutes    float64 `mapstructure:"max_delay_minutes"`    // 异常数据过滤上限
	RecentWindow       int     `mapstructure:"recent_window"`        // 近期偏移取最近几场
	StddevNormalizeMin float64 `mapstructure:"stddev_normalize_min"` // 标准差归一化分母
}

// DeliveryConfig 投递策略
type DeliveryConfig struct {
	MaxAttempts   int           `mapstructure:"max_attempts"`   // 最大尝试次数
	BatchSize     int           `mapstructure:"batch_size"`     // 每轮最多处理条数
	ClaimTTL      time.Duration `mapstructure:"claim_ttl"`      // 认领有效期
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`  // 0 表示下一轮立即重试
	RetentionDays int           `mapstructure:"retention_days"` // 终态条目保留天数
}

// MatchTimeConfig 主/备数据源
type MatchTimeConfig struct {
	Primary        string        `mapstructure:"primary"`          // 主数据源名称
	Secondary      string        `mapstructure:"secondary"`        // 备用数据源名称
	MinUsablePairs int           `mapstructure:"min_usable_pairs"` // 主源可用条数低于该值时补充备源
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`        // 拉取结果缓存时间
}

// ProviderConfig 单个上游数据源的独立配置
type ProviderConfig struct {
	BaseURL    string  `mapstructure:"base_url"`     // API基础地址
	Timeout    int     `mapstructure:"timeout"`      // 请求超时（秒）
	Username   string  `mapstructure:"username"`     // FRC Events 用户名
	AuthToken  string  `mapstructure:"auth_token"`   // 通用认证Token
	AuthKey    string  `mapstructure:"auth_key"`     // TBA专属 X-TBA-Auth-Key
	Proxy      string  `mapstructure:"proxy"`        // 代理地址
	RatePerSec float64 `mapstructure:"rate_per_sec"` // 每秒请求数上限
	Burst      int     `mapstructure:"burst"`        // 突发请求数
}

// DebugConfig 调试服务
type DebugConfig struct {
	Enabled bool   `mapstructure:"enabled"` // 是否启用
	Addr    string `mapstructure:"addr"`    // 监听地址，只建议 127.0.0.1
	Mode    string `mapstructure:"mode"`    // Gin运行模式：debug/release/test
}

// LogConfig 日志
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug/info/warn/error
	Format string `mapstructure:"format"` // text/json
}

// LoadConfig 加载配置文件（config/config.yaml），敏感项从 .env 覆盖（不提交 git）
func LoadConfig() (*Config, error) {
	// .env 可不存在
	_ = godotenv.Load()
	return LoadConfigFrom("./config")
}

// LoadConfigFrom 从指定目录读取 config.yaml；文件不存在时全部使用默认值
func LoadConfigFrom(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	// 敏感字段：用 env 覆盖（优先级 env > yaml）
	overrideFromEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("worker.tick", 60*time.Second)
	v.SetDefault("worker.error_backoff", 60*time.Second)
	v.SetDefault("worker.match_refresh", "@every 10m")
	v.SetDefault("worker.drift_analysis", "@every 15m")
	v.SetDefault("worker.scheduling", "@every 5m")
	v.SetDefault("worker.cleanup", "@every 1h")
	v.SetDefault("worker.lookahead", 48*time.Hour)
	v.SetDefault("worker.active_window_past", 24*time.Hour)
	v.SetDefault("worker.active_window_future", 168*time.Hour)

	v.SetDefault("leader.backend", "file")
	v.SetDefault("leader.lock_file", "./data/worker.lock")
	v.SetDefault("leader.stale", 600*time.Second)
	v.SetDefault("leader.name", "notification-worker")

	v.SetDefault("drift.min_confidence", 0.3)
	v.SetDefault("drift.min_samples", 3)
	v.SetDefault("drift.min_adjust_minutes", 2.0)
	v.SetDefault("drift.reschedule_minutes", 5.0)
	v.SetDefault("drift.reactor_minutes", 15)
	v.SetDefault("drift.max_delay_minutes", 1440.0)
	v.SetDefault("drift.recent_window", 3)
	v.SetDefault("drift.stddev_normalize_min", 30.0)

	v.SetDefault("delivery.max_attempts", 3)
	v.SetDefault("delivery.batch_size", 200)
	v.SetDefault("delivery.claim_ttl", 5*time.Minute)
	v.SetDefault("delivery.retry_backoff", time.Duration(0))
	v.SetDefault("delivery.retention_days", 7)

	v.SetDefault("match_time.primary", "frcevents")
	v.SetDefault("match_time.secondary", "tba")
	v.SetDefault("match_time.min_usable_pairs", 5)
	v.SetDefault("match_time.cache_ttl", 10*time.Minute)

	v.SetDefault("debug.enabled", false)
	v.SetDefault("debug.addr", "127.0.0.1:6060")
	v.SetDefault("debug.mode", "release")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// overrideFromEnv 用环境变量覆盖敏感配置
func overrideFromEnv(cfg *Config) {
	if cfg.Providers == nil {
		cfg.Providers = map[string]ProviderConfig{}
	}
	if f, ok := cfg.Providers["frcevents"]; ok {
		if v := os.Getenv("FRC_EVENTS_USERNAME"); v != "" {
			f.Username = v
		}
		if v := os.Getenv("FRC_EVENTS_AUTH_TOKEN"); v != "" {
			f.AuthToken = v
		}
		cfg.Providers["frcevents"] = f
	}
	if t, ok := cfg.Providers["tba"]; ok {
		if v := os.Getenv("TBA_AUTH_KEY"); v != "" {
			t.AuthKey = v
		}
		cfg.Providers["tba"] = t
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LEADER_LOCK_FILE"); v != "" {
		cfg.Leader.LockFile = v
	}
}

// Validate 拒绝会让调度循环失控的配置
func (c *Config) Validate() error {
	if c.Worker.Tick <= 0 {
		return fmt.Errorf("worker.tick 必须大于0")
	}
	if c.Delivery.MaxAttempts <= 0 {
		return fmt.Errorf("delivery.max_attempts 必须大于0")
	}
	switch c.Leader.Backend {
	case "file", "lease", "none":
	default:
		return fmt.Errorf("未支持的 leader.backend: %s", c.Leader.Backend)
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("未支持的 database.driver: %s", c.Database.Driver)
	}
	return nil
}
