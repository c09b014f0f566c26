// Package app assembles the governance core from configuration.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"mossgov/internal/approval"
	"mossgov/internal/collab"
	"mossgov/internal/config"
	"mossgov/internal/db"
	"mossgov/internal/events"
	"mossgov/internal/house"
	"mossgov/internal/metrics"
	"mossgov/internal/migrate"
	"mossgov/internal/pipeline"
	"mossgov/internal/repo"
	"mossgov/internal/risk"
	"mossgov/internal/voting"
)

type Options struct {
	Workspace string
	// ConfigPath overrides the workspace mossgov.yml.
	ConfigPath string
	// Config, when set, is used instead of reading a file.
	Config *config.Config
	Log    zerolog.Logger
	Now    func() time.Time
}

// App holds one wired instance of every component sharing a database and event bus.
type App struct {
	Config    *config.Config
	Log       zerolog.Logger
	DB        *sql.DB
	Repo      repo.Repo
	Bus       *events.Bus
	Metrics   *metrics.Metrics
	Houses    house.Registry
	Voting    voting.Engine
	Gate      *approval.Gate
	Authority collab.Authority
	Pipeline  *pipeline.Pipeline
}

// LoadConfig picks the explicit path when given, else the workspace file, else defaults.
func LoadConfig(workspace, path string) (*config.Config, error) {
	if path != "" {
		return config.FromFile(path)
	}
	return config.Load(workspace)
}

// Open opens and migrates the workspace database and wires the components.
func Open(ctx context.Context, opts Options) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		loaded, err := LoadConfig(opts.Workspace, opts.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	applied, err := migrate.Migrate(ctx, conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if len(applied) > 0 {
		opts.Log.Info().Strs("migrations", applied).Msg("database migrated")
	}
	a, err := Build(ctx, cfg, repo.Repo{DB: conn}, opts.Log, opts.Now)
	if err != nil {
		conn.Close()
		return nil, err
	}
	a.DB = conn
	return a, nil
}

// Build wires the components over an already migrated repo.
func Build(ctx context.Context, cfg *config.Config, r repo.Repo, log zerolog.Logger, now func() time.Time) (*App, error) {
	if now == nil {
		now = time.Now
	}
	bus := events.NewBus(log)
	bus.SubscribeAll(events.Recorder{Sink: r, Log: log}.Handle)

	a := &App{Config: cfg, Log: log, Repo: r, Bus: bus}
	a.Houses = house.Registry{Store: r, Config: cfg, Events: bus, Log: log, Now: now}
	a.Voting = voting.Engine{Store: r, Members: a.Houses, Config: cfg, Events: bus, Log: log, Now: now}
	a.Gate = approval.New(r, a.Voting, cfg.Approval,
		approval.WithLogger(log),
		approval.WithPublisher(bus),
		approval.WithClock(now),
	)
	a.Authority = collab.Authority{Store: r, Approvals: a.Gate, Log: log, Now: now}

	classifier, err := risk.New(ctx, cfg.Risk.Policy, log)
	if err != nil {
		return nil, err
	}
	svc := pipeline.Services{
		Risk:      classifier,
		Authority: a.Authority,
		Votings:   a.Voting,
		Approvals: a.Gate,
	}
	col := cfg.Collaborators
	if col.WorkflowURL != "" {
		svc.Workflows = collab.NewHTTPClient(col.WorkflowURL, col.Token, col.Timeout)
	} else {
		svc.Workflows = collab.NewLocalWorkflows()
	}
	if col.ExecutorURL != "" {
		remote := collab.NewHTTPClient(col.ExecutorURL, col.Token, col.Timeout)
		svc.Executor = remote
		a.Gate.RegisterAll(remote)
	} else {
		svc.Executor = collab.LocalExecutor{}
		a.Gate.RegisterAll(approval.DryRun(log))
	}
	a.Pipeline = pipeline.New(r, svc, cfg.Pipeline,
		pipeline.WithLogger(log),
		pipeline.WithPublisher(bus),
		pipeline.WithClock(now),
	)
	a.Metrics = metrics.New(a.Pipeline.GetActivePipelineCount)
	a.Metrics.Attach(bus)
	return a, nil
}

func (a *App) Close() error {
	if a.DB == nil {
		return nil
	}
	return a.DB.Close()
}
