package setup

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// 支持的数据库驱动
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
)

// DBOptions 描述数据库连接参数。DSN 非空时优先使用，否则由各字段拼接。
type DBOptions struct {
	Driver   string
	DSN      string
	User     string
	Password string
	Host     string
	Port     string
	Name     string
}

// InitDB 根据驱动打开数据库连接并配置连接池
func InitDB(opts DBOptions) (*gorm.DB, error) {
	dialector, err := dialectorFor(opts)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", opts.Driver, err)
	}

	sqlDB, err := db.DB() // 获取底层的 *sql.DB 对象
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	sqlDB.SetMaxOpenConns(50)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping %s: %w", opts.Driver, err)
	}
	logrus.WithField("driver", opts.Driver).Info("Database connected")
	return db, nil
}

func dialectorFor(opts DBOptions) (gorm.Dialector, error) {
	dsn := opts.DSN
	switch opts.Driver {
	case DriverMySQL, "":
		if dsn == "" {
			if opts.User == "" {
				return nil, fmt.Errorf("DB_USER must be set when DATABASE_URL is empty")
			}
			dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
				opts.User, opts.Password, orDefault(opts.Host, "127.0.0.1"), orDefault(opts.Port, "3306"), orDefault(opts.Name, "party_rooms"))
		}
		return mysql.Open(dsn), nil
	case DriverPostgres:
		if dsn == "" {
			if opts.User == "" {
				return nil, fmt.Errorf("DB_USER must be set when DATABASE_URL is empty")
			}
			dsn = fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable TimeZone=UTC",
				orDefault(opts.Host, "127.0.0.1"), orDefault(opts.Port, "5432"), opts.User, opts.Password, orDefault(opts.Name, "party_rooms"))
		}
		return postgres.Open(dsn), nil
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q (want %s or %s)", opts.Driver, DriverMySQL, DriverPostgres)
	}
}

// InitRedis 初始化 Redis 连接并检查连通性
func InitRedis(addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     20,
		MinIdleConns: 5,
		MaxConnAge:   30 * time.Minute, // 连接最大存活时间
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}
	logrus.WithField("addr", addr).Info("Redis connected")
	return client, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
