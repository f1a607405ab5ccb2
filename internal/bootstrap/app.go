package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"resume-scanner/internal/llm"
	"resume-scanner/internal/llm/cohere"
	"resume-scanner/internal/services/health"
	"resume-scanner/internal/shared/config"
	"resume-scanner/internal/shared/server"
	"resume-scanner/internal/shared/storage/db"
	"resume-scanner/internal/shared/storage/object"
	localstore "resume-scanner/internal/shared/storage/object/local"
	s3store "resume-scanner/internal/shared/storage/object/s3"
	"resume-scanner/internal/shared/telemetry"
	"resume-scanner/internal/workflow"
)

const sweepInterval = 5 * time.Minute

// App holds shared dependencies.
type App struct {
	Config  config.Config
	Router  *gin.Engine
	DB      *sql.DB
	Redis   *redis.Client
	Store   object.ObjectStore
	LLM     llm.Client
	Repo    workflow.Repo
	Service *workflow.Service
	Handler *workflow.Handler
}

// Build prepares dependencies and the router.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	telemetry.Configure(cfg.LogLevel, cfg.LogFormat)

	app := &App{Config: cfg}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store

	if err := app.buildRepo(ctx); err != nil {
		app.Close()
		return nil, err
	}

	client, err := buildLLM(cfg.LLM)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.LLM = client

	app.Service = workflow.NewService(app.Repo, app.Store, app.LLM, workflow.Options{
		FeedbackParams: feedbackParams(cfg.LLM),
		ResumeParams:   resumeParams(cfg.LLM),
		CallTimeout:    cfg.LLM.Timeout,
	})
	app.Handler = workflow.NewHandler(app.Service)
	app.Router = server.NewRouter(server.RouterDeps{
		Config:   cfg,
		Handlers: []server.RouteRegistrar{app.Handler},
		Health:   app.healthChecks(),
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":           cfg.Env,
		"object_store":  cfg.ObjectStoreType,
		"session_store": cfg.SessionStore,
		"llm_enabled":   cfg.LLM.APIKey != "",
		"llm_model":     cfg.LLM.Model,
	})
	return app, nil
}

// StartSweeper removes expired sessions periodically until ctx is done.
// Stores with native expiry have nothing to sweep.
func (a *App) StartSweeper(ctx context.Context) {
	sweeper, ok := a.Repo.(workflow.Sweeper)
	if !ok {
		return
	}
	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := sweeper.Sweep(ctx, time.Now().UTC())
				if err != nil {
					telemetry.Warn("session.sweep_failed", map[string]any{"error": err.Error()})
					continue
				}
				if n > 0 {
					telemetry.Info("session.swept", map[string]any{"count": n})
				}
			}
		}
	}()
}

// Close releases database and redis connections.
func (a *App) Close() {
	if a.DB != nil {
		_ = a.DB.Close()
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
}

func (a *App) healthChecks() *health.Service {
	svc := health.NewService()
	if a.DB != nil {
		svc.Register("postgres", a.DB.PingContext)
	}
	if a.Redis != nil {
		svc.Register("redis", func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() })
	}
	return svc
}

func (a *App) buildRepo(ctx context.Context) error {
	cfg := a.Config
	switch cfg.SessionStore {
	case "postgres":
		sqlDB, err := db.Connect(ctx, cfg.DatabaseURL, db.OptionsFromEnv(db.DefaultServerOptions()))
		if err != nil {
			return a.fallbackToMemory(fmt.Errorf("connect database: %w", err))
		}
		if err := db.RunMigrations(ctx, sqlDB); err != nil {
			_ = sqlDB.Close()
			return a.fallbackToMemory(fmt.Errorf("run migrations: %w", err))
		}
		a.DB = sqlDB
		a.Repo = workflow.NewPGRepo(sqlDB, cfg.SessionTTL)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return a.fallbackToMemory(fmt.Errorf("connect redis: %w", err))
		}
		a.Redis = client
		a.Repo = workflow.NewRedisRepo(client, cfg.SessionTTL)
	default:
		a.Repo = workflow.NewMemoryRepo(cfg.SessionTTL)
	}
	return nil
}

// fallbackToMemory keeps dev environments running without a backing store.
func (a *App) fallbackToMemory(err error) error {
	if !isDevLike(a.Config.Env) {
		return err
	}
	telemetry.Warn("bootstrap.session_store_fallback", map[string]any{
		"session_store": a.Config.SessionStore,
		"error":         err.Error(),
	})
	a.Repo = workflow.NewMemoryRepo(a.Config.SessionTTL)
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

func buildLLM(cfg config.LLMConfig) (llm.Client, error) {
	if cfg.APIKey == "" {
		telemetry.Warn("bootstrap.llm_disabled", map[string]any{"reason": "LLM_API_KEY empty"})
		return llm.PlaceholderClient{}, nil
	}
	return cohere.NewClient(cfg.APIKey, cfg.Endpoint, cfg.Timeout)
}

func feedbackParams(cfg config.LLMConfig) llm.Params {
	p := llm.DefaultFeedbackParams()
	if cfg.Model != "" {
		p.Model = cfg.Model
	}
	if cfg.MaxTokens > 0 {
		p.MaxTokens = cfg.MaxTokens
	}
	p.Temperature = cfg.Temperature
	p.TopP = cfg.TopP
	p.TopK = cfg.TopK
	p.StopSequences = cfg.StopSequences
	return p
}

func resumeParams(cfg config.LLMConfig) llm.Params {
	p := feedbackParams(cfg)
	p.MaxTokens = llm.DefaultResumeParams().MaxTokens
	if cfg.ResumeMaxTokens > 0 {
		p.MaxTokens = cfg.ResumeMaxTokens
	}
	p.Temperature = cfg.ResumeTemperature
	return p
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}
