package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)


type Config struct {
	Env string
	Port int
	DBURL string

	JWTSecret string
	AccessTTL time.Duration
	RefreshTTL time.Duration

	AdminEmail string
	AdminPassword string
	AdminName string
	AdminRole string

	UploadDir string
	MaxUploadBytes int64

	RedisAddr string
	RedisPassword string
	RedisDB int

	OTLPEndpoint string
	CORSOrigins []string

	WorkerPollInterval time.Duration
	WorkerLockTTL time.Duration
}

func Load() Config {
	// .env is optional, real deployments set the environment directly
	_ = godotenv.Load()

	env := getEnv("APP_ENV", "dev")
	port := getEnvInt("PORT",8080)
	dbURL := buildDBURL()

	return Config{
		Env: env,
		Port: port,
		DBURL: dbURL,

		JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-me"),
		AccessTTL: getEnvDuration("ACCESS_TTL", 15*time.Minute),
		RefreshTTL: getEnvDuration("REFRESH_TTL", 7*24*time.Hour),

		AdminEmail: getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),
		AdminName: getEnv("ADMIN_NAME", "Admin"),
		AdminRole: getEnv("ADMIN_ROLE", "admin"),

		UploadDir: getEnv("UPLOAD_DIR", "./uploads"),
		MaxUploadBytes: int64(getEnvInt("MAX_UPLOAD_BYTES", 10<<20)),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB: getEnvInt("REDIS_DB", 0),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		CORSOrigins: getEnvList("CORS_ORIGINS"),

		WorkerPollInterval: getEnvDuration("WORKER_POLL_INTERVAL", time.Second),
		WorkerLockTTL: getEnvDuration("WORKER_LOCK_TTL", 60*time.Second),
	}
}

func buildDBURL() string {
	host := getEnv("DB_HOST","127.0.0.1")
	port := getEnv("DB_PORT","5432")
	user := getEnv("DB_USER","campreg")
	pass := getEnv("DB_PASSWORD","campreg")
	name := getEnv("DB_NAME", "campreg")
	ssl := getEnv("DB_SSLMODE", "disable")


	return "postgres://" + user + ":" + pass + "@" + host + ":" + port + "/" + name + "?sslmode=" + ssl
}

func WithTimeout(duration time.Duration)(context.Context, context.CancelFunc){
	return context.WithTimeout(context.Background(),duration)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		num, err := strconv.Atoi(v)

		if err != nil {
			fmt.Println(err)
		}

		return num
	}
	return fallback
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))

	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}

	return out
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)

		if err != nil {
			fmt.Println(err)
			return fallback
		}

		return d
	}
	return fallback
}
