package config

import (
	"time"

	"github.com/spf13/viper"

	pkgconfig "github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/config"
	"github.com/bericaandrei1-arch/elix-star-live/relay-service/pkg/log"
)

type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Kafka     KafkaConfig
	Bridge    BridgeConfig
	Log       log.Config
}

type ServerConfig struct {
	Host string
	Port int
}

type WebSocketConfig struct {
	PingInterval   time.Duration `mapstructure:"ping_interval"`
	PongWait       time.Duration `mapstructure:"pong_wait"`
	WriteWait      time.Duration `mapstructure:"write_wait"`
	MaxMessageSize int64         `mapstructure:"max_message_size"`
	SendBuffer     int           `mapstructure:"send_buffer"`
}

type AuthConfig struct {
	// HS256 secret shared with the auth service that issues tokens.
	Secret string
	Issuer string
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
}

type KafkaConfig struct {
	// Empty broker list disables analytics production.
	Brokers    string
	Topic      string
	Partitions int
}

type BridgeConfig struct {
	// Enables cross-instance fan-out over Redis pub/sub.
	Enabled bool
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("websocket.ping_interval", "30s")
	v.SetDefault("websocket.pong_wait", "60s")
	v.SetDefault("websocket.write_wait", "10s")
	v.SetDefault("websocket.max_message_size", 4096)
	v.SetDefault("websocket.send_buffer", 256)
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.issuer", "elix-auth")
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "relay-events")
	v.SetDefault("kafka.partitions", 8)
	v.SetDefault("bridge.enabled", false)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service_name", "relay-service")

	v.BindEnv("server.port", "PORT")
	v.BindEnv("auth.secret", "AUTH_SECRET")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("kafka.brokers", "KAFKA_BROKERS")
	v.BindEnv("kafka.topic", "KAFKA_TOPIC")
	v.BindEnv("bridge.enabled", "BRIDGE_ENABLED")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	cfg.WebSocket.PingInterval = parseDuration(v, "websocket.ping_interval", 30*time.Second)
	cfg.WebSocket.PongWait = parseDuration(v, "websocket.pong_wait", 60*time.Second)
	cfg.WebSocket.WriteWait = parseDuration(v, "websocket.write_wait", 10*time.Second)

	return &cfg, nil
}

func parseDuration(v *viper.Viper, key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return defaultVal
	}
	return d
}
