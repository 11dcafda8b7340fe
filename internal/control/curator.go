// Package control wires the application together: state, resilience
// layers, phase runner, health surface, and storage backends.
package control

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/hxann/curator/internal/core/config"
	"github.com/hxann/curator/internal/core/domain"
	"github.com/hxann/curator/internal/core/state"
	"github.com/hxann/curator/internal/infra/ops"
	redisclient "github.com/hxann/curator/internal/infra/redis"
	"github.com/hxann/curator/internal/infra/storage"
	"github.com/hxann/curator/internal/infra/storage/memory"
	"github.com/hxann/curator/internal/infra/storage/postgres"
	"github.com/hxann/curator/internal/pipeline"
	"github.com/hxann/curator/internal/pipeline/health"
	"github.com/hxann/curator/internal/resilience/breaker"
	"github.com/hxann/curator/internal/resilience/degrade"
	"github.com/hxann/curator/internal/resilience/retry"
)

// Service names used for degradation tracking and circuit breakers.
const (
	ServiceContentSource = "content_source"
	ServiceDistillTool   = "distill_tool"
	ServicePackageTool   = "package_tool"
	ServiceBundleTool    = "bundle_tool"
)

// Curator is the main application struct that manages the pipeline lifecycle.
type Curator struct {
	cfg          *config.AppConfig
	state        *state.Manager
	runner       *pipeline.Runner
	degrade      *degrade.Manager
	breakers     *breaker.Registry
	healthServer *health.Server
	failedRepo   storage.FailedSourceRepository
	redisClient  *redisclient.Client
	db           *postgres.DB
	archive      *postgres.RunArchive
	fetcher      *ops.HTTPFetcher
	tools        map[domain.Phase]*ops.ToolRunner
	log          *slog.Logger
}

// NewCurator creates a Curator instance with all dependencies initialized.
func NewCurator(ctx context.Context, cfg *config.AppConfig, log *slog.Logger) (*Curator, error) {
	if log == nil {
		log = slog.Default()
	}

	stateMgr := state.NewManager(
		state.NewFileStore(cfg.Pipeline.StatePath),
		cfg.Pipeline.Version,
		log,
	)

	retryMgr := retry.NewManager(retry.Backoff{
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Multiplier:   cfg.Retry.Multiplier,
		Jitter:       cfg.Retry.Jitter == nil || *cfg.Retry.Jitter,
		MaxAttempts:  cfg.Retry.MaxAttempts,
	}, log)

	breakers := breaker.NewRegistry(log)
	breakerCfg := breaker.Config{
		FailureThreshold:          cfg.Breaker.FailureThreshold,
		ResetTimeout:              cfg.Breaker.ResetTimeout,
		MonitoringPeriod:          cfg.Breaker.MonitoringPeriod,
		SlowCallThreshold:         cfg.Breaker.SlowCallThreshold,
		SlowCallDurationThreshold: cfg.Breaker.SlowCallDurationThreshold,
		MinimumNumberOfCalls:      cfg.Breaker.MinimumNumberOfCalls,
	}

	degradeMgr := degrade.NewManager(cfg.Degradation.MinimumRequired, log)
	for _, svc := range []string{ServiceContentSource, ServiceDistillTool, ServicePackageTool, ServiceBundleTool} {
		degradeMgr.RegisterService(svc)
	}

	// Failed-item queue: Redis when configured, in-memory otherwise.
	var failedRepo storage.FailedSourceRepository
	var redisClient *redisclient.Client
	if cfg.Redis.URL != "" {
		var err error
		redisClient, err = redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("failed to connect to Redis, using in-memory retry queue", "error", err)
			failedRepo = memory.NewFailedSourceRepo()
		} else {
			failedRepo = redisclient.NewFailedSourceRepo(redisClient, cfg.Pipeline.Version)
			log.Info("using Redis retry queue")
		}
	} else {
		failedRepo = memory.NewFailedSourceRepo()
		log.Info("using in-memory retry queue")
	}

	var db *postgres.DB
	var archive *postgres.RunArchive
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		archive = postgres.NewRunArchive(db)
		log.Info("run archive enabled")
	}

	runner := pipeline.NewRunner(
		stateMgr,
		retryMgr,
		breakers,
		breakerCfg,
		degradeMgr,
		failedRepo,
		cfg.Pipeline.Concurrency,
		log,
	)

	checks := health.NewManager(log)
	checks.Register("state_file", func(ctx context.Context) (map[string]any, error) {
		dir := filepath.Dir(cfg.Pipeline.StatePath)
		info, err := os.Stat(dir)
		if err != nil {
			return nil, fmt.Errorf("state directory unavailable: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("state path parent %s is not a directory", dir)
		}
		return map[string]any{"path": cfg.Pipeline.StatePath}, nil
	})
	if redisClient != nil {
		checks.Register("redis", func(ctx context.Context) (map[string]any, error) {
			if err := redisClient.Ping(ctx); err != nil {
				return nil, fmt.Errorf("redis ping failed: %w", err)
			}
			return nil, nil
		})
	}
	if db != nil {
		checks.Register("database", func(ctx context.Context) (map[string]any, error) {
			if err := db.PingContext(ctx); err != nil {
				return nil, fmt.Errorf("database ping failed: %w", err)
			}
			return nil, nil
		})
	}

	healthServer := health.NewServer(checks, degradeMgr, breakers, cfg.Server.Port)

	tools := map[domain.Phase]*ops.ToolRunner{
		domain.PhaseDistill: ops.NewToolRunner(
			cfg.Phases.Distill.Command, cfg.Phases.Distill.Args, cfg.Phases.Distill.Timeout),
		domain.PhasePackage: ops.NewToolRunner(
			cfg.Phases.Package.Command, cfg.Phases.Package.Args, cfg.Phases.Package.Timeout),
		domain.PhaseBundle: ops.NewToolRunner(
			cfg.Phases.Bundle.Command, cfg.Phases.Bundle.Args, cfg.Phases.Bundle.Timeout),
	}

	return &Curator{
		cfg:          cfg,
		state:        stateMgr,
		runner:       runner,
		degrade:      degradeMgr,
		breakers:     breakers,
		healthServer: healthServer,
		failedRepo:   failedRepo,
		redisClient:  redisClient,
		db:           db,
		archive:      archive,
		fetcher:      ops.NewHTTPFetcher(cfg.Phases.Collect.Timeout),
		tools:        tools,
		log:          log,
	}, nil
}

// Start starts the background health server.
func (c *Curator) Start() {
	go func() {
		if err := c.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			c.log.Error("health server failed", "error", err)
		}
	}()
}

// Stop shuts down background components.
func (c *Curator) Stop(ctx context.Context) error {
	c.log.Info("stopping curator")

	if c.redisClient != nil {
		if err := c.redisClient.Close(); err != nil {
			c.log.Warn("failed to close Redis", "error", err)
		}
	}
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.log.Warn("failed to close database", "error", err)
		}
	}

	return c.healthServer.Stop(ctx)
}

// State exposes the state manager for read-only surfaces.
func (c *Curator) State() *state.Manager {
	return c.state
}

// FailedQueue exposes the retry queue for administrative commands.
func (c *Curator) FailedQueue() storage.FailedSourceRepository {
	return c.failedRepo
}

// Run executes the full pipeline: load state, add any newly discovered
// work items, run each phase in order, retry queued failures, and
// archive the run summary.
func (c *Curator) Run(ctx context.Context, sourcesPath string) error {
	if err := c.state.LoadState(); err != nil {
		return fmt.Errorf("failed to load state: %w", err)
	}

	if sourcesPath != "" {
		sources, err := LoadSources(sourcesPath)
		if err != nil {
			return fmt.Errorf("failed to load sources: %w", err)
		}
		added, err := c.state.AddSources(sources)
		if err != nil {
			return err
		}
		c.log.Info("discovered work items", "added", added, "listed", len(sources))
	}

	phases := c.phases()
	skip := make(map[domain.Phase]bool, len(c.cfg.Pipeline.SkipPhases))
	for _, p := range c.cfg.Pipeline.SkipPhases {
		skip[p] = true
	}

	for _, p := range phases {
		if skip[p.Name] {
			c.log.Info("skipping phase", "phase", p.Name)
			continue
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := c.runner.RunPhase(ctx, p); err != nil {
			c.archiveRun(ctx)
			return fmt.Errorf("phase %s: %w", p.Name, err)
		}
	}

	retryReport, err := c.runner.RetryFailed(ctx, phases)
	if err != nil && !errors.Is(err, pipeline.ErrHalted) {
		c.log.Error("retry pass failed", "error", err)
	} else if retryReport != nil && retryReport.Processed > 0 {
		c.log.Info("retry pass complete",
			"processed", retryReport.Processed,
			"recovered", retryReport.Succeeded,
			"still_failed", retryReport.Failed)
	}

	c.archiveRun(ctx)

	if st := c.state.GetState(); st != nil {
		c.log.Info("pipeline run complete",
			"execution_id", st.Context.ExecutionID,
			"total_sources", st.Metadata.TotalSources,
			"completion_pct", st.Metadata.CompletionPercentage,
			"degradation_level", c.degrade.Level())
	}
	return nil
}

// phases builds the four phase specifications in execution order.
func (c *Curator) phases() []pipeline.Phase {
	return []pipeline.Phase{
		{
			Name:    domain.PhaseCollect,
			From:    domain.StatusDiscovered,
			Active:  domain.StatusCollecting,
			Done:    domain.StatusCollected,
			Service: ServiceContentSource,
			Options: degrade.Options{
				AllowDegradation: true,
				SkipOnFailure:    c.cfg.Phases.Collect.SkipOnFailure,
			},
			Op: c.collectOp,
		},
		c.toolPhase(domain.PhaseDistill, domain.StatusCollected, domain.StatusDistilling,
			domain.StatusDistilled, ServiceDistillTool, c.cfg.Phases.Distill),
		c.toolPhase(domain.PhasePackage, domain.StatusDistilled, domain.StatusPackaging,
			domain.StatusPackaged, ServicePackageTool, c.cfg.Phases.Package),
		c.toolPhase(domain.PhaseBundle, domain.StatusPackaged, domain.StatusBundling,
			domain.StatusBundled, ServiceBundleTool, c.cfg.Phases.Bundle),
	}
}

func (c *Curator) toolPhase(
	name domain.Phase,
	from, active, done domain.SourceStatus,
	service string,
	tc config.ToolConfig,
) pipeline.Phase {
	return pipeline.Phase{
		Name:    name,
		From:    from,
		Active:  active,
		Done:    done,
		Service: service,
		Options: degrade.Options{
			AllowDegradation: !tc.Required,
			SkipOnFailure:    tc.SkipOnFailure,
			Required:         tc.Required,
		},
		Op: func(ctx context.Context, src *domain.Source) (*pipeline.ItemResult, error) {
			res, err := c.tools[name].Run(ctx, nil, src.Key)
			if err != nil {
				return nil, err
			}
			return &pipeline.ItemResult{
				Meta: &domain.PhaseMeta{
					Bytes:  int64(len(res.Stdout)),
					Tokens: int64(len(res.Stdout)) / 4,
				},
			}, nil
		},
	}
}

// collectOp fetches one work item's content over HTTP.
func (c *Curator) collectOp(ctx context.Context, src *domain.Source) (*pipeline.ItemResult, error) {
	if src.URL == "" {
		return nil, fmt.Errorf("work item %q has no url", src.Key)
	}

	res, err := c.fetcher.Fetch(ctx, src.URL)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(res.Body)
	return &pipeline.ItemResult{
		Meta: &domain.PhaseMeta{
			Checksum: hex.EncodeToString(sum[:]),
			Bytes:    int64(len(res.Body)),
		},
	}, nil
}

// archiveRun stores the run summary when a database is configured.
func (c *Curator) archiveRun(ctx context.Context) {
	if c.archive == nil {
		return
	}
	st := c.state.GetState()
	if st == nil {
		return
	}

	// Archival must survive a cancelled run context.
	archiveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := c.archive.ArchiveRun(archiveCtx, st, time.Now(), string(c.degrade.Level())); err != nil {
		c.log.Error("failed to archive run", "error", err)
	}
}
