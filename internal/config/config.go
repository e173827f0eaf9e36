package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server     ServerConfig     `envPrefix:"SERVER_"`
	ShopAPI    ShopAPIConfig    `envPrefix:"SHOP_API_"`
	Cart       CartConfig       `envPrefix:"CART_"`
	LocalStore LocalStoreConfig `envPrefix:"LOCAL_STORE_"`
	Database   DatabaseConfig   `envPrefix:"DATABASE_"`
	Redis      RedisConfig      `envPrefix:"REDIS_"`
	Kafka      KafkaConfig      `envPrefix:"KAFKA_"`
	Tracing    TracingConfig    `envPrefix:"TRACING_"`
}

type ServerConfig struct {
	Addr        string `env:"ADDR" envDefault:":8080"`
	CORSOrigins string `env:"CORS_ORIGINS" envDefault:"^https?://(localhost|127\\.0\\.0\\.1)(:\\d+)?$"`
	// SecureCookies marks session cookies Secure; disable only for plain http development.
	SecureCookies bool `env:"SECURE_COOKIES" envDefault:"true"`
}

type ShopAPIConfig struct {
	BaseURL     string        `env:"BASE_URL,required"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"10s"`
	ReadRetries int           `env:"READ_RETRIES" envDefault:"2"`
}

type CartConfig struct {
	LocalTTL         time.Duration `env:"LOCAL_TTL" envDefault:"24h"`
	SessionIdleTTL   time.Duration `env:"SESSION_IDLE_TTL" envDefault:"30m"`
	PlaceholderImage string        `env:"PLACEHOLDER_IMAGE" envDefault:"/static/img/logo.png"`
	SessionCookie    string        `env:"SESSION_COOKIE" envDefault:"cart_sid"`
	TokenCookie      string        `env:"TOKEN_COOKIE" envDefault:"ecommerce_token"`
}

type LocalStoreConfig struct {
	// Backend is one of memory, redis, mongo.
	Backend string `env:"BACKEND" envDefault:"memory"`
}

type DatabaseConfig struct {
	Hosts    []string `env:"HOSTS" envDefault:"localhost:27017"`
	Direct   bool     `env:"DIRECT" envDefault:"true"`
	Username string   `env:"USERNAME"`
	Password string   `env:"PASSWORD"`
	AuthDB   string   `env:"AUTH_DB" envDefault:"admin"`
	Database string   `env:"DATABASE" envDefault:"storefront_cart"`
}

type RedisConfig struct {
	Addr string `env:"ADDR" envDefault:"localhost:6379"`
}

type KafkaConfig struct {
	Enabled      bool     `env:"ENABLED" envDefault:"false"`
	Brokers      []string `env:"BROKERS" envDefault:"localhost:9092"`
	SessionTopic string   `env:"SESSION_TOPIC" envDefault:"storefront.session.events"`
	GroupID      string   `env:"GROUP_ID" envDefault:"storefront-cart"`
	CartTopic    string   `env:"CART_TOPIC" envDefault:"storefront.cart.events"`
	Workers      int      `env:"WORKERS" envDefault:"4"`
}

type TracingConfig struct {
	Enabled     bool   `env:"ENABLED" envDefault:"false"`
	Endpoint    string `env:"ENDPOINT" envDefault:"localhost:4317"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"storefront-cart"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}
