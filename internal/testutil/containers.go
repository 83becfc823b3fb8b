// Package testutil 提供集成测试用的容器环境。
//
// 需要本机可用的 Docker。go test -short 时相关测试会被跳过。
package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"
	tc "github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"party-rooms/internal/infra/setup"
)

// SkipIfShort 在 -short 模式下跳过需要容器的测试
func SkipIfShort(t testing.TB) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
}

// StartPostgres 启动 PostgreSQL 容器，完成迁移后返回 GORM 连接。
// 容器和连接在测试结束时清理。
func StartPostgres(t testing.TB) *gorm.DB {
	t.Helper()
	SkipIfShort(t)
	ctx := context.Background()

	// 1. 启动容器
	pgContainer, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("party_rooms"),
		tcpostgres.WithUsername("party"),
		tcpostgres.WithPassword("party"),
		tc.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}
	t.Cleanup(func() { _ = pgContainer.Terminate(context.Background()) })

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	// 2. 连接并迁移
	db, err := setup.InitDB(setup.DBOptions{Driver: setup.DriverPostgres, DSN: dsn})
	if err != nil {
		t.Fatalf("failed to connect to postgres container: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := setup.MigrateDB(db); err != nil {
		t.Fatalf("failed to migrate postgres container: %v", err)
	}
	return db
}

// StartRedis 启动 Redis 容器并返回已连通的客户端
func StartRedis(t testing.TB) *redis.Client {
	t.Helper()
	SkipIfShort(t)
	ctx := context.Background()

	redisContainer, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisContainer.Terminate(context.Background()) })

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}

	client, err := setup.InitRedis(endpoint, "", 0)
	if err != nil {
		t.Fatalf("failed to connect to redis container: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}
