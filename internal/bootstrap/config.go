package bootstrap

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"party-rooms/internal/infra/setup"
)

// 存储后端
const (
	StoreBackendGorm   = "gorm"
	StoreBackendMemory = "memory"
)

const envProduction = "production"

// Config 结构体用于存储从环境变量或文件加载的配置
type Config struct {
	AppEnv     string
	ServerPort string
	LogLevel   string

	StoreBackend string // gorm 或 memory，memory 只能显式开启
	DBDriver     string
	DatabaseURL  string
	DBUser       string
	DBPassword   string
	DBHost       string
	DBPort       string
	DBName       string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string

	AdminSecret      string
	AdminDevFallback bool
	TokenSecret      string
	TokenTTL         time.Duration
	PasswordPepper   string

	DefaultMaxPlayers int
	MaxRoomTTL        time.Duration

	RateLimitMax       int
	RateLimitWindow    time.Duration
	LoginMaxAttempts   int
	LoginLockoutWindow time.Duration

	ReaperInterval    time.Duration
	RequestTimeout    time.Duration
	CORSAllowedOrigin string
}

// LoadConfig 从环境变量加载配置
func LoadConfig() (*Config, error) {
	// 优先加载 .env 文件 (如果存在)
	_ = godotenv.Load() // 忽略错误，允许只使用环境变量

	var errs []string
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		ServerPort:        getEnv("SERVER_PORT", "8080"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		StoreBackend:      strings.ToLower(getEnv("STORE_BACKEND", StoreBackendGorm)),
		DBDriver:          strings.ToLower(getEnv("DB_DRIVER", setup.DriverMySQL)),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		DBUser:            os.Getenv("DB_USER"),
		DBPassword:        os.Getenv("DB_PASSWORD"),
		DBHost:            os.Getenv("DB_HOST"),
		DBPort:            os.Getenv("DB_PORT"),
		DBName:            os.Getenv("DB_NAME"),
		RedisAddr:         os.Getenv("REDIS_ADDR"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		KeyPrefix:         getEnv("REDIS_KEY_PREFIX", "pr:"),
		AdminSecret:       os.Getenv("ADMIN_SECRET"),
		TokenSecret:       os.Getenv("TOKEN_SECRET"),
		PasswordPepper:    os.Getenv("ROOM_PASSWORD_PEPPER"),
		CORSAllowedOrigin: getEnv("CORS_ALLOWED_ORIGIN", "http://localhost:3000"),
	}

	cfg.RedisDB = getInt("REDIS_DB", 0, &errs)
	cfg.AdminDevFallback = getBool("ADMIN_DEV_FALLBACK", false, &errs)
	cfg.TokenTTL = getDuration("TOKEN_TTL", 12*time.Hour, &errs)
	cfg.DefaultMaxPlayers = getInt("DEFAULT_MAX_PLAYERS", 8, &errs)
	cfg.MaxRoomTTL = getDuration("MAX_ROOM_TTL", 72*time.Hour, &errs)
	cfg.RateLimitMax = getInt("RATE_LIMIT_MAX", 100, &errs)
	cfg.RateLimitWindow = getDuration("RATE_LIMIT_WINDOW", time.Second, &errs)
	cfg.LoginMaxAttempts = getInt("LOGIN_MAX_ATTEMPTS", 5, &errs)
	cfg.LoginLockoutWindow = getDuration("LOGIN_LOCKOUT_WINDOW", 15*time.Minute, &errs)
	cfg.ReaperInterval = getDuration("REAPER_INTERVAL", time.Hour, &errs)
	cfg.RequestTimeout = getDuration("REQUEST_TIMEOUT", 5*time.Second, &errs)
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}

	// 验证日志级别
	if _, err := logrus.ParseLevel(cfg.LogLevel); err != nil {
		logrus.Warnf("Invalid LOG_LEVEL '%s', using default 'info'", cfg.LogLevel)
		cfg.LogLevel = "info" // 修正配置值
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction 报告是否运行在生产环境
func (c *Config) IsProduction() bool {
	return c.AppEnv == envProduction
}

// Validate 检查配置的一致性。生产环境下拒绝内存后端和管理员开发放行，
// 并要求 TOKEN_SECRET 和 REDIS_ADDR。开发环境缺少 TOKEN_SECRET 时生成随机值。
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case StoreBackendGorm:
		if c.DBDriver != setup.DriverMySQL && c.DBDriver != setup.DriverPostgres {
			return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("unsupported STORE_BACKEND %q", c.StoreBackend)
	}

	if c.DefaultMaxPlayers < 1 || c.DefaultMaxPlayers > 64 {
		return fmt.Errorf("DEFAULT_MAX_PLAYERS must be within 1..64, got %d", c.DefaultMaxPlayers)
	}
	for name, d := range map[string]time.Duration{
		"TOKEN_TTL":            c.TokenTTL,
		"MAX_ROOM_TTL":         c.MaxRoomTTL,
		"RATE_LIMIT_WINDOW":    c.RateLimitWindow,
		"LOGIN_LOCKOUT_WINDOW": c.LoginLockoutWindow,
		"REAPER_INTERVAL":      c.ReaperInterval,
		"REQUEST_TIMEOUT":      c.RequestTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.RateLimitMax <= 0 || c.LoginMaxAttempts <= 0 {
		return fmt.Errorf("RATE_LIMIT_MAX and LOGIN_MAX_ATTEMPTS must be positive")
	}

	if c.IsProduction() {
		if c.StoreBackend == StoreBackendMemory {
			return fmt.Errorf("STORE_BACKEND=memory is not allowed in production")
		}
		if c.AdminDevFallback {
			return fmt.Errorf("ADMIN_DEV_FALLBACK is not allowed in production")
		}
		if c.TokenSecret == "" {
			return fmt.Errorf("environment variable TOKEN_SECRET must be set in production")
		}
		if c.RedisAddr == "" {
			return fmt.Errorf("environment variable REDIS_ADDR must be set in production")
		}
		return nil
	}

	if c.TokenSecret == "" {
		secret, err := randomSecret()
		if err != nil {
			return fmt.Errorf("failed to generate development token secret: %w", err)
		}
		c.TokenSecret = secret
		logrus.Warn("TOKEN_SECRET not set, using a random secret; player tokens will not survive a restart")
	}
	return nil
}

// DBOptions 返回数据库连接参数
func (c *Config) DBOptions() setup.DBOptions {
	return setup.DBOptions{
		Driver:   c.DBDriver,
		DSN:      c.DatabaseURL,
		User:     c.DBUser,
		Password: c.DBPassword,
		Host:     c.DBHost,
		Port:     c.DBPort,
		Name:     c.DBName,
	}
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int, errs *[]string) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not an integer", key, raw))
		return def
	}
	return v
}

func getBool(key string, def bool, errs *[]string) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a boolean", key, raw))
		return def
	}
	return v
}

func getDuration(key string, def time.Duration, errs *[]string) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: %q is not a duration", key, raw))
		return def
	}
	return v
}

func randomSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
