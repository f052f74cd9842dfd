package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/caseflowhq/caseflow/internal/api"
	"github.com/caseflowhq/caseflow/internal/app"
	"github.com/caseflowhq/caseflow/internal/app/maintenance"
	iauth "github.com/caseflowhq/caseflow/internal/auth"
	"github.com/caseflowhq/caseflow/internal/cache"
	"github.com/caseflowhq/caseflow/internal/database"
	"github.com/caseflowhq/caseflow/internal/directory"
	"github.com/caseflowhq/caseflow/internal/dispatch"
	"github.com/caseflowhq/caseflow/internal/middleware"
	"github.com/caseflowhq/caseflow/internal/presence"
	"github.com/caseflowhq/caseflow/internal/realtime"
	"github.com/caseflowhq/caseflow/internal/services"
	"github.com/caseflowhq/caseflow/pkg/logger"
	"github.com/caseflowhq/caseflow/pkg/mail"
)

// runtimeStack bundles long-lived components used by the HTTP server.
type runtimeStack struct {
	DB      *gorm.DB
	Hub     *realtime.Hub
	Cleaner *maintenance.Cleaner
	Router  *gin.Engine

	stopHub context.CancelFunc
}

// bootstrapRuntime initialises the database, cache, realtime hub, delivery
// services and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mode
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	cacheStore, err := selectCacheStore(cfg, stack.DB)
	if err != nil {
		return nil, err
	}

	jwtService, err := iauth.NewJWTService(cfg.Auth.JWTServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise jwt service: %w", err)
	}

	registry := presence.NewRegistry()
	stack.Hub = realtime.NewHub(registry)

	dirClient, err := initialiseDirectory(cfg, log)
	if err != nil {
		return nil, err
	}

	// Without a directory, role fan-out degrades to the online users whose
	// token carries the role; the hub knows every live identity.
	resolvers := realtime.DirectoryResolvers{RoleOf: stack.Hub.RoleOf}
	if dirClient != nil {
		resolvers.UsersOf = dirClient.UsersOf
		resolvers.UsersInRole = dirClient.UsersInRole
	}

	rtRouter, err := realtime.NewRouter(registry, services.ThreadParticipantsResolver(stack.DB), resolvers)
	if err != nil {
		return nil, fmt.Errorf("initialise realtime router: %w", err)
	}

	hub := stack.Hub
	hub.SetTypingRelay(func(from realtime.Identity, threadID string) {
		rtRouter.RelayTyping(ctx, hub, from, threadID)
	})

	emailQueue, err := initialiseEmailQueue(cfg, dirClient, log)
	if err != nil {
		return nil, err
	}

	preferenceSvc, err := services.NewPreferenceService(stack.DB, cacheStore)
	if err != nil {
		return nil, fmt.Errorf("initialise preference service: %w", err)
	}

	dispatcher, err := dispatch.NewDispatcher(stack.DB, stack.Hub, registry, preferenceSvc, emailQueue)
	if err != nil {
		return nil, fmt.Errorf("initialise dispatcher: %w", err)
	}

	notificationSvc, err := services.NewNotificationService(stack.DB, rtRouter, dispatcher)
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	messageSvc, err := services.NewMessageService(stack.DB, rtRouter, stack.Hub, notificationSvc)
	if err != nil {
		return nil, fmt.Errorf("initialise message service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.DB, notificationSvc,
		maintenance.WithRetentionDays(cfg.Retention.ArchiveAfterDays),
		maintenance.WithArchiveSchedule(cfg.Retention.ArchiveSchedule),
		maintenance.WithCacheSchedule(cfg.Retention.CacheSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Router, err = api.NewRouter(api.Dependencies{
		DB:            stack.DB,
		JWT:           jwtService,
		Hub:           stack.Hub,
		Notifications: notificationSvc,
		Messages:      messageSvc,
		Preferences:   preferenceSvc,
		RateStore:     middleware.NewCacheRateStore(cacheStore),
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	stack.stopHub = stopHub
	go stack.Hub.Run(hubCtx)

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.stopHub != nil {
		s.stopHub()
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			ctx = stopCtx
		}
		if err := s.Cleaner.RunOnce(ctx); err != nil {
			log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
		}
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func selectCacheStore(cfg *app.Config, db *gorm.DB) (cache.Store, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Cache.Backend))
	switch backend {
	case "", "memory":
		return cache.NewMemoryStore(), nil
	case "database":
		return cache.NewDatabaseStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend %q", cfg.Cache.Backend)
	}
}

func initialiseDirectory(cfg *app.Config, log *zap.Logger) (*directory.Client, error) {
	if strings.TrimSpace(cfg.Directory.BaseURL) == "" {
		log.Info("user directory not configured; tenant targets fall back to online users")
		return nil, nil
	}

	client, err := directory.NewClient(directory.Config{
		BaseURL: cfg.Directory.BaseURL,
		Token:   cfg.Directory.Token,
		Timeout: cfg.Directory.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("initialise directory client: %w", err)
	}
	return client, nil
}

func initialiseEmailQueue(cfg *app.Config, dir *directory.Client, log *zap.Logger) (dispatch.EmailQueue, error) {
	if !cfg.Email.SMTP.Enabled {
		return nil, nil
	}
	if dir == nil {
		log.Warn("smtp enabled but no user directory configured; email channel disabled")
		return nil, nil
	}

	mailer, err := mail.NewSMTPMailer(cfg.Email.SMTPSettings())
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}

	queue, err := dispatch.NewSMTPQueue(mailer, dir.AddressOf)
	if err != nil {
		return nil, fmt.Errorf("initialise email queue: %w", err)
	}
	return queue, nil
}

func ensureSecretsPresent(cfg *app.Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Auth.JWT.Secret = strings.TrimSpace(cfg.Auth.JWT.Secret)
	if cfg.Auth.JWT.Secret == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	return nil
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
