package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Game     GameConfig     `mapstructure:"game"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	HTTPAddress string `mapstructure:"http_address"`
	RPCAddress  string `mapstructure:"rpc_address"`
	GRPCAddress string `mapstructure:"grpc_address"`
}

// GameConfig carries the simulation defaults applied to every room.
type GameConfig struct {
	BoardWidth      int           `mapstructure:"board_width"`
	BoardHeight     int           `mapstructure:"board_height"`
	ExpectedPlayers int           `mapstructure:"expected_players"`
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	StartDelay      time.Duration `mapstructure:"start_delay"`
	SubscriberTTL   time.Duration `mapstructure:"subscriber_ttl"`
	NotifyTimeout   time.Duration `mapstructure:"notify_timeout"`
	SweepInterval   time.Duration `mapstructure:"sweep_interval"`
	JoinBorder      int           `mapstructure:"join_border"`
	AITurnOneIn     int           `mapstructure:"ai_turn_one_in"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

type DatabaseConfig struct {
	Driver   string         `mapstructure:"driver"` // none, gorm, postgres, redis
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_address", ":8080")
	v.SetDefault("server.rpc_address", ":8081")
	v.SetDefault("server.grpc_address", "")

	v.SetDefault("game.board_width", 96)
	v.SetDefault("game.board_height", 24)
	v.SetDefault("game.expected_players", 5)
	v.SetDefault("game.tick_interval", 200*time.Millisecond)
	v.SetDefault("game.start_delay", 2*time.Second)
	v.SetDefault("game.subscriber_ttl", time.Minute)
	v.SetDefault("game.notify_timeout", time.Second)
	v.SetDefault("game.sweep_interval", 30*time.Second)
	v.SetDefault("game.join_border", 5)
	v.SetDefault("game.ai_turn_one_in", 10)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")

	v.SetDefault("database.driver", "none")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "snakes")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.dbname", "snakes")
	v.SetDefault("database.redis.addr", "localhost:6379")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)
}

// LoadConfig reads config.yaml from path (optional), then .env and SNAKES_*
// environment variables on top of the built-in defaults.
func LoadConfig(path string) (*Config, error) {
	// .env 文件可选
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("snakes")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
