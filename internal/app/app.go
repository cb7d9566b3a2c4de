package app

import (
	"assessment_engine/internal/config"
	"assessment_engine/internal/controller"
	"assessment_engine/internal/repository"
	"assessment_engine/internal/service"
	"assessment_engine/internal/util"
	"assessment_engine/pkg/configwatcher"
	"assessment_engine/pkg/database"
	"assessment_engine/pkg/logger"
	"assessment_engine/pkg/monitoring"
	"assessment_engine/pkg/security"
	"assessment_engine/pkg/tracing"
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type App struct {
	Config          *config.Config
	ConfigDir       string
	Router          *gin.Engine
	DB              *gorm.DB
	Redis           *redis.Client
	services        *services
	cron            *cron.Cron
	limiter         *security.RateLimiter
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	assessment  *repository.AssessmentRepository
	attempt     *repository.AttemptRepository
	result      *repository.ResultRepository
	progress    *repository.ProgressRepository
	catalog     *repository.CatalogRepository
	certificate *repository.CertificateRepository
	proctoring  *repository.ProctoringRepository
}

type services struct {
	settings    *service.EngineSettings
	events      service.EventPublisher
	banks       *service.BankCache
	certificate *service.CertificateService
	progress    *service.ProgressService
	grading     *service.GradingService
	attempt     *service.AttemptService
	antifraud   *service.AntiFraudService
	review      *service.ReviewService
	hub         *service.ProctoringHub
}

type controllers struct {
	attempt     *controller.AttemptController
	proctoring  *controller.ProctoringController
	progress    *controller.ProgressController
	certificate *controller.CertificateController
	review      *controller.ReviewController
	health      *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		assessment:  repository.NewAssessmentRepository(db),
		attempt:     repository.NewAttemptRepository(db),
		result:      repository.NewResultRepository(db),
		progress:    repository.NewProgressRepository(db),
		catalog:     repository.NewCatalogRepository(db),
		certificate: repository.NewCertificateRepository(db),
		proctoring:  repository.NewProctoringRepository(db),
	}
}

func (a *App) initEventPublisher(cfg *config.Config, rdb *redis.Client) service.EventPublisher {
	var sinks service.MultiPublisher
	if rdb != nil {
		sinks = append(sinks, service.NewRedisPublisher(rdb, util.EventsChannel))
	}
	if len(cfg.Webhook.URLs) > 0 {
		sinks = append(sinks, service.NewWebhookPublisher(cfg.Webhook))
	}
	if len(sinks) == 0 {
		return service.NopPublisher{}
	}
	return sinks
}

func (a *App) initArchive(cfg *config.Config) service.CertificateArchive {
	if cfg.Storage.Type != util.StorageMinio {
		return service.NopArchive{}
	}
	archive, err := service.NewMinioCertificateArchive(&cfg.Storage)
	if err != nil {
		logger.Log.Error("Failed to initialize certificate archive, archiving disabled", zap.Error(err))
		return service.NopArchive{}
	}
	return archive
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) *services {
	s := &services{}
	s.settings = service.NewEngineSettings(cfg.Engine)
	s.events = a.initEventPublisher(cfg, rdb)
	s.banks = service.NewBankCache(repos.assessment)

	// attempt and anti-fraud share one lock table so a session is serialized across both
	sessionLocks := service.NewKeyedMutex()

	s.certificate = service.NewCertificateService(repos.certificate, repos.catalog, a.initArchive(cfg), s.events, cfg.Engine.CertificateSecret)
	s.progress = service.NewProgressService(repos.progress, repos.catalog, s.banks, s.certificate, repos.certificate, s.events)
	s.grading = service.NewGradingService(repos.attempt, repos.result, s.banks, s.progress, s.events)
	s.attempt = service.NewAttemptService(repos.attempt, repos.result, repos.catalog, s.banks, s.grading, s.settings, sessionLocks)
	s.antifraud = service.NewAntiFraudService(repos.attempt, s.banks, repos.proctoring, s.grading, s.settings, sessionLocks)
	s.review = service.NewReviewService(repos.result, s.banks, s.progress, s.events)
	s.hub = service.NewProctoringHub(s.antifraud, cfg.Engine.EventsPerSecond)

	a.RegisterConfigCallback(func(newCfg *config.Config) {
		s.settings.Apply(newCfg.Engine)
		logger.Log.Info("Engine settings reloaded",
			zap.Int("gracePeriodSeconds", newCfg.Engine.GracePeriodSeconds),
			zap.Int("defaultAlertThreshold", newCfg.Engine.DefaultAlertThreshold))
	})
	return s
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		attempt:     controller.NewAttemptController(s.attempt),
		proctoring:  controller.NewProctoringController(s.antifraud, s.attempt, s.hub),
		progress:    controller.NewProgressController(s.progress),
		certificate: controller.NewCertificateController(s.certificate),
		review:      controller.NewReviewController(s.review),
		health:      controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS.AllowedOrigins))
	router.Use(security.Secure())
	a.limiter = security.NewRateLimiter(cfg.RateLimit.MaxRequests, time.Duration(cfg.RateLimit.WindowMinutes)*time.Minute)
	router.Use(a.limiter.Middleware())

	// 分布式追踪中间件
	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// startBackgroundTasks schedules the background sweeps and starts the config watcher.
func (a *App) startBackgroundTasks(ctx context.Context, s *services) {
	a.cron = cron.New()
	_, err := a.cron.AddFunc(a.Config.Engine.SweepInterval, func() {
		n, err := s.attempt.SweepExpired(ctx)
		if err != nil {
			logger.Log.Error("Expiry sweep failed", zap.Error(err))
		} else if n > 0 {
			logger.Log.Info("Expiry sweep", zap.Int("expired", n))
		}

		n, err = s.review.ReapplyPendingCascades(ctx)
		if err != nil {
			logger.Log.Error("Review cascade retry failed", zap.Error(err))
		} else if n > 0 {
			logger.Log.Info("Review cascade retry", zap.Int("applied", n))
		}
	})
	if err != nil {
		logger.Log.Fatal("Invalid engine.sweep_interval", zap.String("spec", a.Config.Engine.SweepInterval), zap.Error(err))
	}
	if a.limiter != nil {
		a.cron.AddFunc("@every 1m", func() {
			if n := a.limiter.Prune(); n > 0 {
				logger.Log.Debug("Rate limiter pruned idle clients", zap.Int("dropped", n))
			}
		})
	}
	a.cron.Start()

	go func() {
		configFile := filepath.Join(a.ConfigDir, "config.yaml")
		err := configwatcher.WatchConfig(ctx, configFile, func(newCfg *config.Config) {
			for _, cb := range a.configCallbacks {
				cb(newCfg)
			}
		})
		if err != nil {
			logger.Log.Warn("Config hot reload disabled", zap.Error(err))
		}
	}()
}

func NewApp(cfg *config.Config, configDir string) *App {
	logger.InitLogger(cfg)
	defer logger.Log.Sync()

	logger.Log.Info("Logger initialized successfully")

	logLevel := gormlogger.Warn
	if cfg.Server.Mode == "debug" {
		logLevel = gormlogger.Info
	}
	db, err := database.InitDB(&cfg.Database, logLevel)
	if err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
		log.Fatalf("Failed to initialize database: %v", err)
	}

	app := &App{
		Config:    cfg,
		ConfigDir: configDir,
		DB:        db,
	}
	if cfg.MigrateOnly {
		return app
	}

	// Redis 仅用于事件发布，失败时降级
	if cfg.Redis.Enabled {
		rdb, err := database.InitRedis(&cfg.Redis)
		if err != nil {
			logger.Log.Error("Failed to initialize redis, event bus disabled", zap.Error(err))
		} else {
			app.Redis = rdb
		}
	}

	repos := app.initRepositories(db)
	services := app.initServices(repos, cfg, app.Redis)
	app.services = services
	controllers := app.initControllers(services, db, app.Redis)

	// 监控初始化
	monitoring.Init()

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.Default()
	app.Router = router

	app.setupMiddlewares(router, cfg)

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer("assessment-engine", cfg.Tracing.CollectorEndpoint)
		if err != nil {
			logger.Log.Fatal("Failed to initialize tracing", zap.Error(err))
		}
		app.tracer = tp
	}

	app.registerRoutes(router, controllers, cfg)

	return app
}

func (a *App) Run() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	a.startBackgroundTasks(ctx, a.services)

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	// 启动服务器
	go func() {
		log.Printf("Server running on port %s", a.Config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	// 等待中断信号优雅地关闭服务器（设置5秒的超时时间）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// 停止定时任务并等待正在执行的清扫结束
	stop()
	<-a.cron.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}

	log.Println("Server exiting")
}
