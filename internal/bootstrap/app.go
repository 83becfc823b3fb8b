package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/go-redis/redis/v8"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	// --- 导入内部包 ---
	httpHandler "party-rooms/internal/handler/http"
	wsHandler "party-rooms/internal/handler/websocket"
	"party-rooms/internal/hub"
	"party-rooms/internal/infra/memory"
	gormpersistence "party-rooms/internal/infra/persistence/gorm"
	"party-rooms/internal/infra/setup"
	redisstate "party-rooms/internal/infra/state/redis"
	"party-rooms/internal/repository"
	"party-rooms/internal/service"
	"party-rooms/internal/tasks"
	"party-rooms/internal/worker"
)

// App 结构体包含应用的所有组件和配置
type App struct {
	Config      *Config
	Log         *logrus.Logger
	DB          *gorm.DB
	RedisClient *redis.Client
	Hub         *hub.Hub
	Reaper      *service.ExpiryReaper
	HttpServer  *http.Server

	// 过期清理调度：有 Redis 时用 asynq，否则用进程内的 gocron
	asynqScheduler *asynq.Scheduler
	asynqServer    *worker.WorkerServer
	cronScheduler  gocron.Scheduler
}

// stores 是根据配置选出的存储实现
type stores struct {
	rooms    repository.RoomStore
	feed     repository.ChangeFeed
	attempts repository.AttemptStore
}

// NewApp 创建并初始化应用的所有组件
func NewApp(cfg *Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	// 1. 初始化 Logger
	log := newLogger(cfg)
	log.Info("Configuration loaded successfully")

	// 2. 初始化基础设施
	log.Info("Initializing infrastructure...")
	app := &App{Config: cfg, Log: log}
	st, err := app.initStores()
	if err != nil {
		app.closeConnections()
		return nil, err
	}
	log.Info("Infrastructure initialized successfully")

	// 3. 初始化 Services
	log.Info("Initializing services...")
	tokens, err := service.NewTokenIssuer(cfg.TokenSecret, cfg.TokenTTL)
	if err != nil {
		app.closeConnections()
		return nil, fmt.Errorf("failed to create TokenIssuer: %w", err)
	}
	guard := service.NewLoginAttemptGuard(st.attempts, cfg.LoginMaxAttempts, cfg.LoginLockoutWindow)
	apiLimiter := service.NewRateLimiter(st.attempts, "api:ip:", cfg.RateLimitMax, cfg.RateLimitWindow)
	roomService := service.NewRoomService(
		st.rooms,
		st.feed,
		service.NewSlugGenerator(),
		service.NewCredentialGuard(cfg.PasswordPepper),
		guard,
		tokens,
		service.RoomOptions{DefaultMaxPlayers: cfg.DefaultMaxPlayers, MaxTTL: cfg.MaxRoomTTL},
	)
	stateService := service.NewGameStateService(st.rooms, st.feed)
	app.Reaper = service.NewExpiryReaper(st.rooms, st.feed)
	log.Info("Services initialized")

	// 4. 初始化 Hub
	app.Hub = hub.NewHub(st.feed, stateService, cfg.RequestTimeout)
	log.Info("Hub initialized")

	// 5. 初始化 Handlers 和路由
	log.Info("Setting up Gin router...")
	router := NewRouter(RouterDeps{
		Config:     cfg,
		Log:        log,
		Tokens:     tokens,
		APILimiter: apiLimiter,
		Rooms:      httpHandler.NewRoomHandler(roomService),
		GameStates: httpHandler.NewGameStateHandler(stateService),
		Admin:      httpHandler.NewAdminHandler(roomService, app.Reaper),
		WebSocket:  wsHandler.NewWebSocketHandler(app.Hub, roomService, tokens, cfg.CORSAllowedOrigin, cfg.RequestTimeout),
	})
	log.Info("Router setup complete")

	// 6. 初始化过期清理调度
	if err := app.initScheduler(); err != nil {
		app.closeConnections()
		return nil, err
	}

	// 7. 初始化 HTTP Server
	app.HttpServer = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	log.Info("Application assembled successfully")
	return app, nil
}

func newLogger(cfg *Config) *logrus.Logger {
	log := logrus.New()
	if cfg.IsProduction() {
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	logLevel, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	log.SetLevel(logLevel)
	log.SetOutput(os.Stdout)

	// 组件内部通过 logrus.WithFields 记录日志，标准 logger 与 App 保持一致
	logrus.SetFormatter(log.Formatter)
	logrus.SetLevel(logLevel)
	logrus.SetOutput(log.Out)
	log.Infof("Logger initialized (Level: %s, Format: %T)", logLevel.String(), log.Formatter)
	return log
}

// initStores 按配置选择存储实现。内存后端只能显式开启，连接失败直接返回错误，不会降级。
func (a *App) initStores() (*stores, error) {
	cfg := a.Config
	st := &stores{}

	switch cfg.StoreBackend {
	case StoreBackendMemory:
		a.Log.Warn("STORE_BACKEND=memory: rooms live in process memory and are lost on restart")
		st.rooms = memory.NewRoomStore()
	default:
		db, err := setup.InitDB(cfg.DBOptions())
		if err != nil {
			return nil, fmt.Errorf("failed to init DB: %w", err)
		}
		a.DB = db
		if err := setup.MigrateDB(db); err != nil {
			return nil, fmt.Errorf("failed to migrate DB: %w", err)
		}
		a.Log.Info("Database migrated")
		st.rooms = gormpersistence.NewGormRoomStore(db)
	}

	if cfg.RedisAddr == "" {
		a.Log.Warn("REDIS_ADDR not set: change feed and rate-limit counters are process-local (single instance only)")
		st.feed = memory.NewChangeFeed()
		st.attempts = memory.NewAttemptStore()
		return st, nil
	}

	redisClient, err := setup.InitRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, fmt.Errorf("failed to init Redis: %w", err)
	}
	a.RedisClient = redisClient
	st.feed = redisstate.NewRedisChangeFeed(redisClient, cfg.KeyPrefix)
	st.attempts = redisstate.NewRedisAttemptStore(redisClient, cfg.KeyPrefix)
	a.Log.Info("Redis client initialized")
	return st, nil
}

// initScheduler 创建过期清理调度器，Start 时才真正运行
func (a *App) initScheduler() error {
	cfg := a.Config
	if cfg.RedisAddr != "" {
		redisOpt := asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}
		a.asynqScheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
		a.asynqServer = worker.NewWorkerServer(redisOpt, a.Reaper, a.Log)
		a.Log.Info("Asynq scheduler and worker server initialized")
		return nil
	}

	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	reaper := a.Reaper
	timeout := cfg.RequestTimeout * 6
	job, err := scheduler.NewJob(
		gocron.DurationJob(cfg.ReaperInterval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			if _, err := reaper.Sweep(ctx); err != nil {
				a.Log.WithError(err).Error("Scheduled room expiry sweep failed")
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithName(tasks.TypeRoomExpirySweep),
	)
	if err != nil {
		return fmt.Errorf("failed to register expiry sweep job: %w", err)
	}
	a.cronScheduler = scheduler
	a.Log.WithField("job_id", job.ID().String()).Infof("In-process expiry sweep registered (every %s)", cfg.ReaperInterval)
	return nil
}

// Start 启动应用的所有后台 Goroutine 和 HTTP 服务器
func (a *App) Start() {
	a.Log.Info("Starting application background routines...")
	go a.Hub.Run()
	a.Log.Info("Hub routine started")

	a.startScheduler()

	// 启动 HTTP 服务器
	go func() {
		a.Log.Infof("HTTP server starting to listen on %s", a.HttpServer.Addr)
		if err := a.HttpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Log.Fatalf("Failed to start HTTP server: %v", err)
		}
		a.Log.Info("HTTP server stopped listening.")
	}()
}

func (a *App) startScheduler() {
	if a.cronScheduler != nil {
		a.cronScheduler.Start()
		a.Log.Info("gocron scheduler started")
		return
	}
	if a.asynqScheduler == nil {
		return
	}

	if err := a.asynqServer.Start(); err != nil {
		a.Log.Errorf("Asynq worker server failed to start: %v", err)
	}

	task, err := tasks.NewRoomExpirySweepTask(a.Config.ReaperInterval)
	if err != nil {
		a.Log.Errorf("Failed to create room expiry sweep task: %v", err)
		return
	}
	schedule := "@every " + a.Config.ReaperInterval.String()
	entryID, err := a.asynqScheduler.Register(schedule, task)
	if err != nil {
		a.Log.Errorf("Could not register periodic room expiry sweep: %v", err)
		return
	}
	a.Log.Infof("Periodic room expiry sweep registered with schedule '%s' (EntryID: %s)", schedule, entryID)

	if err := a.asynqScheduler.Start(); err != nil {
		a.Log.Errorf("Asynq scheduler failed to start: %v", err)
		return
	}
	a.Log.Info("Asynq scheduler started")
}

// Shutdown 优雅地关闭应用
func (a *App) Shutdown() {
	a.Log.Info("Shutting down application...")

	// 1. 先停止接收新的 HTTP 请求
	a.Log.Info("Shutting down HTTP server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.HttpServer.Shutdown(ctx); err != nil {
		a.Log.Errorf("Error shutting down HTTP server: %v", err)
	} else {
		a.Log.Info("HTTP server shut down gracefully.")
	}

	// 2. 停止 Hub 的订阅，关闭所有 WebSocket 发送通道
	if a.Hub != nil {
		a.Hub.StopAllSubscriptions()
	}

	// 3. 停止调度
	if a.asynqScheduler != nil {
		a.asynqScheduler.Shutdown()
		a.Log.Info("Asynq scheduler stopped.")
	}
	if a.asynqServer != nil {
		a.asynqServer.Shutdown()
	}
	if a.cronScheduler != nil {
		if err := a.cronScheduler.Shutdown(); err != nil {
			a.Log.Errorf("Error shutting down gocron scheduler: %v", err)
		} else {
			a.Log.Info("gocron scheduler stopped.")
		}
	}

	// 4. 关闭连接
	a.closeConnections()
	a.Log.Info("Application shutdown complete.")
}

func (a *App) closeConnections() {
	if a.RedisClient != nil {
		if err := a.RedisClient.Close(); err != nil {
			a.Log.Errorf("Error closing Redis connection: %v", err)
		} else {
			a.Log.Info("Redis connection closed.")
		}
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.Close(); err != nil {
				a.Log.Errorf("Error closing database connection: %v", err)
			} else {
				a.Log.Info("Database connection closed.")
			}
		}
	}
}
