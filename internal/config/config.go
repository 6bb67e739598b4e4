package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Log      LogConfig       `mapstructure:"log"`
	Metrics  MetricsConfig   `mapstructure:"metrics"`
	Gateway  GatewayConfig   `mapstructure:"gateway"`
	Realtime RealtimeConfig  `mapstructure:"realtime"`
	Risk     RiskConfig      `mapstructure:"risk"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Accounts []AccountConfig `mapstructure:"accounts"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type MetricsConfig struct {
	Addr string `mapstructure:"addr"` // empty disables the listener
}

type GatewayConfig struct {
	BaseURL string `mapstructure:"base_url"`

	// AuthMode selects the login flow: "api-key" (userName + apiKey) or
	// "app" (admin credentials).
	AuthMode      string `mapstructure:"auth_mode"`
	Username      string `mapstructure:"username"`
	APIKey        string `mapstructure:"api_key"`
	AppUsername   string `mapstructure:"app_username"`
	AppPassword   string `mapstructure:"app_password"`
	AppDeviceID   string `mapstructure:"app_device_id"`
	AppID         string `mapstructure:"app_id"`
	AppVerifyKey  string `mapstructure:"app_verify_key"`
	ValidateToken bool   `mapstructure:"validate_token"`

	TokenTTLHours        int `mapstructure:"token_ttl_hours"`
	RefreshBufferMinutes int `mapstructure:"refresh_buffer_minutes"`
	LoginIntervalSeconds int `mapstructure:"login_interval_seconds"`
	LoginBurst           int `mapstructure:"login_burst"`

	MaxRetries            int `mapstructure:"max_retries"`
	RequestTimeoutSeconds int `mapstructure:"request_timeout_seconds"`

	GeneralLane    RateLaneConfig `mapstructure:"general_lane"`
	HistoricalLane RateLaneConfig `mapstructure:"historical_lane"`
}

// RateLaneConfig bounds one admission lane: at most MaxRequests admissions
// inside any rolling WindowSeconds window.
type RateLaneConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type RealtimeConfig struct {
	UserHubURL               string `mapstructure:"user_hub_url"`
	MarketHubURL             string `mapstructure:"market_hub_url"`
	ReconnectDelaySeconds    int    `mapstructure:"reconnect_delay_seconds"`
	ReconnectMaxDelaySeconds int    `mapstructure:"reconnect_max_delay_seconds"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval_seconds"`
}

// RiskConfig carries the rule-engine knobs shared by every account. The
// funded-program thresholds default to the published TopstepX combine rules
// but stay configurable per deployment. DrawdownBuffer is the fraction of
// the max drawdown kept as early-halt headroom above the trailing floor.
type RiskConfig struct {
	Timezone string `mapstructure:"timezone"`

	// Session boundaries, wall-clock in Timezone. Futures trade 17:00 CT to
	// 15:10 CT the next day; no new entries after 14:45 CT, hard close 15:05.
	SessionOpen      string `mapstructure:"session_open"`
	SessionClose     string `mapstructure:"session_close"`
	NoNewTradesAfter string `mapstructure:"no_new_trades_after"`
	HardCloseAt      string `mapstructure:"hard_close_at"`

	DailyLossHaltFraction float64 `mapstructure:"daily_loss_halt_fraction"`
	DrawdownBuffer        float64 `mapstructure:"drawdown_buffer"`
	MaxConsecutiveLosses  int     `mapstructure:"max_consecutive_losses"`
	DailyBudgetFraction   float64 `mapstructure:"daily_budget_fraction"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// AccountConfig describes one funded account run by the supervisor. Each
// account gets its own credential authority, gateway client and governor.
type AccountConfig struct {
	Name      string   `mapstructure:"name"`
	AccountID int      `mapstructure:"account_id"` // 0: resolve via Account/search
	Symbols   []string `mapstructure:"symbols"`    // instruments to stream quotes for

	Profile             string  `mapstructure:"profile"` // "50k" | "100k" | "150k"
	RiskPerTradePercent float64 `mapstructure:"risk_per_trade_percent"`
	MinPositionSize     int     `mapstructure:"min_position_size"`
	MaxPositionSize     int     `mapstructure:"max_position_size"`
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")

	// Environment variables support
	// e.g. TOPSTEP_GATEWAY_API_KEY
	viper.SetEnvPrefix("topstep")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Defaults
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
	viper.SetDefault("metrics.addr", ":9090")

	viper.SetDefault("gateway.base_url", "https://api.topstepx.com/api")
	viper.SetDefault("gateway.auth_mode", "api-key")
	viper.SetDefault("gateway.validate_token", false)
	viper.SetDefault("gateway.token_ttl_hours", 24)
	viper.SetDefault("gateway.refresh_buffer_minutes", 5)
	viper.SetDefault("gateway.login_interval_seconds", 10)
	viper.SetDefault("gateway.login_burst", 3)
	viper.SetDefault("gateway.max_retries", 3)
	viper.SetDefault("gateway.request_timeout_seconds", 30)
	viper.SetDefault("gateway.general_lane.max_requests", 200)
	viper.SetDefault("gateway.general_lane.window_seconds", 60)
	viper.SetDefault("gateway.historical_lane.max_requests", 50)
	viper.SetDefault("gateway.historical_lane.window_seconds", 30)

	viper.SetDefault("realtime.user_hub_url", "https://rtc.topstepx.com/hubs/user")
	viper.SetDefault("realtime.market_hub_url", "https://rtc.topstepx.com/hubs/market")
	viper.SetDefault("realtime.reconnect_delay_seconds", 1)
	viper.SetDefault("realtime.reconnect_max_delay_seconds", 60)
	viper.SetDefault("realtime.heartbeat_interval_seconds", 30)

	viper.SetDefault("risk.timezone", "America/Chicago")
	viper.SetDefault("risk.session_open", "17:00")
	viper.SetDefault("risk.session_close", "15:10")
	viper.SetDefault("risk.no_new_trades_after", "14:45")
	viper.SetDefault("risk.hard_close_at", "15:05")
	viper.SetDefault("risk.daily_loss_halt_fraction", 0.95)
	viper.SetDefault("risk.drawdown_buffer", 0.05)
	viper.SetDefault("risk.max_consecutive_losses", 3)
	viper.SetDefault("risk.daily_budget_fraction", 0.8)

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("No config file found, using defaults and env vars")
		} else {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
