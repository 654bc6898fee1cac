package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBName         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		EnableTracing  bool   `mapstructure:"ENABLE_TRACING"`
		EnableMetrics  bool   `mapstructure:"ENABLE_METRICS"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Reputation ReputationConfig `mapstructure:"REPUTATION"`
}

// ReputationConfig carries the tier thresholds and sweep tuning. The warning
// thresholds differ per customer tier; all values are overridable per
// deployment.
type ReputationConfig struct {
	DemotionThreshold          int           `mapstructure:"DEMOTION_THRESHOLD"`
	TerminationThreshold       int           `mapstructure:"TERMINATION_THRESHOLD"`
	BonusThreshold             int           `mapstructure:"BONUS_THRESHOLD"`
	WarningThresholdRegistered int           `mapstructure:"WARNING_THRESHOLD_REGISTERED"`
	WarningThresholdVIP        int           `mapstructure:"WARNING_THRESHOLD_VIP"`
	SweepConcurrency           int           `mapstructure:"SWEEP_CONCURRENCY"`
	OperationTimeout           time.Duration `mapstructure:"OPERATION_TIMEOUT"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() (*Config, error) {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	setDefaults(config)

	if err := config.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		zap.L().Warn("no config file found, using env and defaults")
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "delivery-dispatch")

	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 60*time.Second)

	v.SetDefault("DATABASE.TYPE", "postgres")
	v.SetDefault("DATABASE.SSLMODE", "disable")

	v.SetDefault("REDIS.ADDR", "127.0.0.1:6379")
	v.SetDefault("REDIS.POOL_SIZE", 10)

	v.SetDefault("REPUTATION.DEMOTION_THRESHOLD", 3)
	v.SetDefault("REPUTATION.TERMINATION_THRESHOLD", 2)
	v.SetDefault("REPUTATION.BONUS_THRESHOLD", 3)
	v.SetDefault("REPUTATION.WARNING_THRESHOLD_REGISTERED", 3)
	v.SetDefault("REPUTATION.WARNING_THRESHOLD_VIP", 5)
	v.SetDefault("REPUTATION.SWEEP_CONCURRENCY", 8)
	v.SetDefault("REPUTATION.OPERATION_TIMEOUT", 5*time.Second)
}
