package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

type Config struct {
	Port        string
	BindAddress string
	DBHost      string
	DBPort      string
	DBUser      string
	DBPassword  string
	DBName      string
	RedisHost   string
	RedisPort   string
	CacheOff    bool
	JWTSecret   string
	JWTExpiry   time.Duration

	// Realtime tuning. AuthDeadline bounds how long a fresh connection may
	// stay unauthenticated; DisconnectGrace is the window a dropped member
	// has to reconnect before being removed from their room.
	AuthDeadline    time.Duration
	HeartbeatWindow time.Duration
	DisconnectGrace time.Duration
	CacheTTL        time.Duration
	SessionTTL      time.Duration
}

func Load() *Config {
	return &Config{
		Port:            getEnv("PORT", "8080"),
		BindAddress:     getEnv("BIND_ADDRESS", "localhost"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBPort:          getEnv("DB_PORT", "5432"),
		DBUser:          getEnv("DB_USER", "planewars"),
		DBPassword:      getEnv("DB_PASSWORD", "planewars123"),
		DBName:          getEnv("DB_NAME", "planewars"),
		RedisHost:       getEnv("REDIS_HOST", "localhost"),
		RedisPort:       getEnv("REDIS_PORT", "6379"),
		CacheOff:        getEnvBool("CACHE_DISABLED", false),
		JWTSecret:       getEnv("JWT_SECRET", "your-secret-key-change-in-production"),
		JWTExpiry:       getEnvDuration("JWT_EXPIRY", 24*time.Hour),
		AuthDeadline:    getEnvDuration("AUTH_DEADLINE", 10*time.Second),
		HeartbeatWindow: getEnvDuration("HEARTBEAT_WINDOW", 60*time.Second),
		DisconnectGrace: getEnvDuration("DISCONNECT_GRACE", 60*time.Second),
		CacheTTL:        getEnvDuration("CACHE_TTL", 2*time.Hour),
		SessionTTL:      getEnvDuration("SESSION_TTL", 24*time.Hour),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		cfg.DBHost, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBPort)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return db, nil
}

func InitRedis(cfg *Config) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: "", // no password set
		DB:       0,  // use default DB
	})

	return client
}
