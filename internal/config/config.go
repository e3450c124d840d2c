package config

import (
	"errors"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret 仅允许在 dev 环境使用。
const DefaultJWTSecret = "dev-secret-change-me"

type Config struct {
	Port        string
	Env         string
	PublicURL   string
	DatabaseDSN string
	UserStore   string
	JWTSecret   string

	SessionStore  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	AccessTokenTTLMinutes     int
	RefreshTokenTTLDays       int
	MaxSessions               int
	MaxLoginAttempts          int
	LoginAttemptWindowMinutes int
	LockoutMinutes            int

	Argon2MemoryKiB   int
	Argon2Time        int
	Argon2Parallelism int
	HashConcurrency   int

	CORSOrigins             []string
	WSRequireRoomMembership bool
	WSFanout                string
}

func (c Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenTTLMinutes) * time.Minute
}

func (c Config) RefreshTokenTTL() time.Duration {
	return time.Duration(c.RefreshTokenTTLDays) * 24 * time.Hour
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getenvInt 对无法解析或非正数的值回退到 def。
func getenvInt(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	b, err := strconv.ParseBool(getenv(key, ""))
	if err != nil {
		return def
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadFile 将 .env 文件载入进程环境变量，已存在的变量不会被覆盖；文件不存在不算错误。
func LoadFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

func Load() Config {
	redisDB, err := strconv.Atoi(getenv("REDIS_DB", "0"))
	if err != nil || redisDB < 0 {
		redisDB = 0
	}
	return Config{
		Port:        getenv("APP_PORT", "8080"),
		Env:         getenv("APP_ENV", "dev"),
		PublicURL:   getenv("PUBLIC_URL", "http://localhost:8080"),
		DatabaseDSN: getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatgate port=5432 sslmode=disable TimeZone=UTC"),
		UserStore:   getenv("USER_STORE", "postgres"),
		JWTSecret:   getenv("JWT_SECRET", DefaultJWTSecret),

		SessionStore:  getenv("SESSION_STORE", "redis"),
		RedisAddr:     getenv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getenv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,

		AccessTokenTTLMinutes:     getenvInt("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTLDays:       getenvInt("REFRESH_TOKEN_TTL_DAYS", 7),
		MaxSessions:               getenvInt("MAX_SESSIONS", 5),
		MaxLoginAttempts:          getenvInt("MAX_LOGIN_ATTEMPTS", 5),
		LoginAttemptWindowMinutes: getenvInt("LOGIN_ATTEMPT_WINDOW_MINUTES", 15),
		LockoutMinutes:            getenvInt("LOCKOUT_MINUTES", 30),

		Argon2MemoryKiB:   getenvInt("ARGON2_MEMORY_KIB", 65536),
		Argon2Time:        getenvInt("ARGON2_TIME", 3),
		Argon2Parallelism: getenvInt("ARGON2_PARALLELISM", 4),
		HashConcurrency:   getenvInt("HASH_CONCURRENCY", runtime.GOMAXPROCS(0)),

		CORSOrigins:             splitList(getenv("CORS_ORIGINS", "")),
		WSRequireRoomMembership: getenvBool("WS_REQUIRE_ROOM_MEMBERSHIP", false),
		WSFanout:                getenv("WS_FANOUT", "local"),
	}
}

// Validate 拒绝不安全或无法使用的配置。
func Validate(c Config) error {
	if c.Port == "" {
		return errors.New("config: APP_PORT is empty")
	}
	if c.UserStore != "memory" && c.DatabaseDSN == "" {
		return errors.New("config: DATABASE_DSN is empty")
	}
	if c.JWTSecret == "" {
		return errors.New("config: JWT_SECRET is empty")
	}
	if c.Env != "dev" && c.JWTSecret == DefaultJWTSecret {
		return errors.New("config: JWT_SECRET must be changed outside dev")
	}
	switch c.SessionStore {
	case "redis", "memory":
	default:
		return errors.New("config: SESSION_STORE must be redis or memory")
	}
	switch c.WSFanout {
	case "local", "redis":
	default:
		return errors.New("config: WS_FANOUT must be local or redis")
	}
	if c.WSFanout == "redis" && c.SessionStore != "redis" {
		return errors.New("config: WS_FANOUT=redis needs SESSION_STORE=redis")
	}
	// argon2 takes uint32 memory/time and a uint8 thread count.
	if c.Argon2MemoryKiB < 1 || uint64(c.Argon2MemoryKiB) > math.MaxUint32 {
		return errors.New("config: ARGON2_MEMORY_KIB out of range")
	}
	if c.Argon2Time < 1 || uint64(c.Argon2Time) > math.MaxUint32 {
		return errors.New("config: ARGON2_TIME out of range")
	}
	if c.Argon2Parallelism < 1 || c.Argon2Parallelism > math.MaxUint8 {
		return errors.New("config: ARGON2_PARALLELISM must be between 1 and 255")
	}
	if c.HashConcurrency < 1 {
		return errors.New("config: HASH_CONCURRENCY must be positive")
	}
	return nil
}
