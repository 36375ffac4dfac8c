// Package app wires every component the core needs into one process:
// config, logging, the database connection, repositories, provider
// clients, the artifact store gateway, the stage-handler registry, the
// worker pool, the pipeline orchestrator, the job supervisor, the
// command surface, and the HTTP router.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/ataxco/contentforge/internal/command"
	"github.com/ataxco/contentforge/internal/data/db"
	"github.com/ataxco/contentforge/internal/data/repos"
	"github.com/ataxco/contentforge/internal/domain"
	"github.com/ataxco/contentforge/internal/httpapi"
	"github.com/ataxco/contentforge/internal/jobs/orchestrator"
	"github.com/ataxco/contentforge/internal/jobs/runtime"
	"github.com/ataxco/contentforge/internal/jobs/supervisor"
	"github.com/ataxco/contentforge/internal/jobs/taskqueue"
	"github.com/ataxco/contentforge/internal/jobs/worker"
	"github.com/ataxco/contentforge/internal/platform/config"
	"github.com/ataxco/contentforge/internal/platform/logger"
	"github.com/ataxco/contentforge/internal/providers"
	"github.com/ataxco/contentforge/internal/stages"
	"github.com/ataxco/contentforge/internal/storage"
)

// App bundles every constructed component. cmd/contentforgectl does not
// build an App; it gets a command.Service from NewCommandOnly without
// starting the worker or supervisor loops.
type App struct {
	Cfg  *config.Config
	Log  *logger.Logger
	DB   *gorm.DB
	Redis *redis.Client

	Episodes repos.EpisodeRepo
	Jobs     repos.JobRepo
	Assets   repos.AssetRepo
	Channels repos.ChannelRepo

	Storage storage.Gateway

	Registry *runtime.Registry
	Worker   *worker.Worker
	Engine   *orchestrator.Engine

	Observer   taskqueue.Observer
	Supervisor *supervisor.Supervisor

	Command *command.Service
	Router  *chi.Mux
}

// New loads configuration and constructs every component, but starts
// nothing: callers decide what to run (see Start).
func New(ctx context.Context, configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}

	gdb, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if sqlDB, sqlErr := gdb.DB(); sqlErr == nil {
		if cfg.Database.MaxOpenConns > 0 {
			sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	redisClient := redis.NewClient(redisOpts)

	episodes := repos.NewEpisodeRepo(gdb)
	jobs := repos.NewJobRepo(gdb, log)
	assets := repos.NewAssetRepo(gdb)
	channels := repos.NewChannelRepo(gdb)

	storageMode := storage.ModeGCS
	if cfg.Storage.EmulatorHost != "" {
		storageMode = storage.ModeGCSEmulator
	}
	gateway, err := storage.NewGateway(ctx, log, storageMode, cfg.Storage.EmulatorHost)
	if err != nil {
		return nil, fmt.Errorf("build storage gateway: %w", err)
	}

	poller := providers.PollerConfig{PollInterval: cfg.Retry.PollInterval, MaxPollTime: cfg.Retry.MaxPollTime}
	httpDoer := &http.Client{Timeout: 2 * time.Minute}

	deps := &stages.Deps{
		Episodes:      episodes,
		Channels:      channels,
		Assets:        assets,
		Storage:       gateway,
		AssetsBucket:  cfg.Storage.AssetsBucket,
		ScriptsBucket: cfg.Storage.ScriptsBucket,
		Planning:      providers.NewTextLLMClient(httpDoer, cfg.Providers.TextLLM.BaseURL, cfg.Providers.TextLLM.APIKey, cfg.Models.Planning),
		Scripting:     providers.NewTextLLMClient(httpDoer, cfg.Providers.TextLLM.BaseURL, cfg.Providers.TextLLM.APIKey, cfg.Models.Scripting),
		Metadata:      providers.NewTextLLMClient(httpDoer, cfg.Providers.TextLLM.BaseURL, cfg.Providers.TextLLM.APIKey, cfg.Models.Metadata),
	}
	if cfg.Providers.Speech.BaseURL != "" {
		deps.Speech = providers.NewSpeechClient(httpDoer, cfg.Providers.Speech.BaseURL, cfg.Providers.Speech.APIKey, "")
	}
	if cfg.Providers.Avatar.BaseURL != "" {
		deps.Avatar = providers.NewAvatarVideoClient(httpDoer, cfg.Providers.Avatar.BaseURL, cfg.Providers.Avatar.APIKey, poller)
	}
	if cfg.Providers.Video.BaseURL != "" {
		deps.Video = providers.NewVideoGenClient(httpDoer, cfg.Providers.Video.BaseURL, cfg.Providers.Video.APIKey, poller)
	}

	registry := runtime.NewRegistry()
	stageHandlers := []runtime.Handler{
		stages.Planning{Deps: deps},
		stages.Scripting{Deps: deps},
		stages.Metadata{Deps: deps},
		stages.Audio{Deps: deps},
		stages.Avatar{Deps: deps},
		stages.Broll{Deps: deps},
	}
	for _, h := range stageHandlers {
		if err := registry.Register(h); err != nil {
			return nil, fmt.Errorf("register stage handler: %w", err)
		}
	}

	engine := orchestrator.NewEngine(jobs, episodes)
	trackers := []runtime.Handler{
		// run_full's chain depends on the episode's auto_advance flag, so
		// it is computed per run rather than fixed at registration.
		orchestrator.NewDynamicTrackerHandler(orchestrator.TrackerFullPipeline, orchestrator.FullChainFunc(episodes), engine),
		orchestrator.NewTrackerHandler(orchestrator.TrackerStage1Pipeline, orchestrator.Stage1Chain(), engine),
	}
	for _, stage := range domain.CanonicalChain {
		jobType := orchestrator.JobStageFromStageName(stage)
		trackers = append(trackers, orchestrator.NewDynamicTrackerHandler(jobType, orchestrator.FromStageChainFunc(stage), engine))
	}
	for _, h := range trackers {
		if err := registry.Register(h); err != nil {
			return nil, fmt.Errorf("register tracker handler: %w", err)
		}
	}

	wrk := worker.NewWorker(gdb, log, jobs, registry)

	observer := taskqueue.NewRedisObserver(redisClient)
	sup := supervisor.New(episodes, jobs, observer, log, cfg.Supervisor)

	svc := command.New(episodes, jobs, log)
	svc.Queue = observer
	router := httpapi.NewRouter(svc, log)

	return &App{
		Cfg: cfg, Log: log, DB: gdb, Redis: redisClient,
		Episodes: episodes, Jobs: jobs, Assets: assets, Channels: channels,
		Storage:    gateway,
		Registry:   registry,
		Worker:     wrk,
		Engine:     engine,
		Observer:   observer,
		Supervisor: sup,
		Command:    svc,
		Router:     router,
	}, nil
}

// NewCommandOnly builds just enough of the app to drive command.Service
// (config, logger, database, repos) without touching Redis, GCS, or any
// provider credentials. Used by cmd/contentforgectl, which only ever
// needs to read or mutate job/episode rows, not run a pipeline.
func NewCommandOnly(configPath string) (*command.Service, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	log, err := logger.New(cfg.Logging.Mode)
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}
	gdb, err := db.Open(cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	episodes := repos.NewEpisodeRepo(gdb)
	jobs := repos.NewJobRepo(gdb, log)
	return command.New(episodes, jobs, log), gdb, nil
}

// Start begins the worker pool and the job supervisor in the background
// when runWorker is true, and starts nothing otherwise. Both are safe to run in the same process as the HTTP
// server, or in a dedicated worker-only process, via the
// RUN_SERVER/RUN_WORKER toggles.
func (a *App) Start(ctx context.Context, runWorker bool) error {
	if runWorker {
		a.Worker.Start(ctx)
		if err := a.Supervisor.Start(ctx); err != nil {
			return fmt.Errorf("start supervisor: %w", err)
		}
	}
	return nil
}

func (a *App) Stop() {
	a.Supervisor.Stop()
	a.Log.Sync()
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.Redis.Close()
}

