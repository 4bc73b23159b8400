package main

import (
	"context"
	"fmt"
	"os"

	"github.com/metalagman/fraudcrew/internal/config"
	"github.com/metalagman/fraudcrew/internal/crew"
	"github.com/metalagman/fraudcrew/internal/db"
	"github.com/metalagman/fraudcrew/internal/llm"
	"github.com/metalagman/fraudcrew/internal/project"
	"github.com/metalagman/fraudcrew/internal/run"
	"github.com/rs/zerolog/log"
	"go.uber.org/fx"
)

// clientFunc builds the shared LLM client.
type clientFunc func(ctx context.Context, cfg llm.Config) (llm.Client, error)

type appOptions struct {
	root      string
	run       run.Options
	full      bool
	getenv    func(string) string
	newClient clientFunc
}

// crewApp holds a fully wired runner and the resources backing it.
type crewApp struct {
	fx     *fx.App
	runner *run.Runner
	cfg    config.Config
	creds  config.Credentials
	layout project.Layout

	newClient clientFunc
}

func defaultClient(ctx context.Context, cfg llm.Config) (llm.Client, error) {
	return llm.New(ctx, cfg, nil)
}

// newCrewApp resolves credentials first and only then wires the crew, so a
// missing API key never constructs an agent.
func newCrewApp(ctx context.Context, opts appOptions) (*crewApp, error) {
	if opts.getenv == nil {
		opts.getenv = os.Getenv
	}
	if opts.newClient == nil {
		opts.newClient = defaultClient
	}
	if err := config.LoadDotEnv(opts.root); err != nil {
		return nil, err
	}
	cfg, err := loadConfig(opts.root)
	if err != nil {
		return nil, err
	}
	creds, err := config.LoadCredentials(cfg.LLM, opts.getenv)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("key_env", creds.KeyEnv).Str("key", creds.Masked()).Str("model", creds.Model).Msg("credentials loaded")

	layout, err := project.Resolve(opts.root, cfg.Data)
	if err != nil {
		return nil, err
	}

	runOpts := opts.run
	runOpts.Model = creds.Model
	runOpts.UseSample = cfg.Sampling.UseSample && !opts.full
	runOpts.SampleSize = cfg.Sampling.SampleSize

	var runner *run.Runner
	app := fx.New(
		fx.NopLogger,
		fx.Supply(cfg, creds, layout, runOpts),
		fx.Provide(
			func(cfg config.Config, creds config.Credentials) (llm.Client, error) {
				return opts.newClient(ctx, llm.ConfigFrom(cfg.LLM, creds))
			},
			func(cfg config.Config, layout project.Layout, shared llm.Client) ([]*crew.AgentSpec, error) {
				return crew.NewAgents(cfg.Agents, shared, execFactory(layout.Root))
			},
			func(cfg config.Config, agents []*crew.AgentSpec) ([]*crew.TaskSpec, error) {
				return crew.NewTasks(cfg.Tasks, agents)
			},
			func(lc fx.Lifecycle, layout project.Layout) (*db.Store, error) {
				return newStore(ctx, lc, layout)
			},
			run.New,
		),
		fx.Populate(&runner),
	)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("wire crew: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("start crew: %w", err)
	}
	return &crewApp{
		fx:        app,
		runner:    runner,
		cfg:       cfg,
		creds:     creds,
		layout:    layout,
		newClient: opts.newClient,
	}, nil
}

// Close releases the database.
func (a *crewApp) Close() {
	if err := a.fx.Stop(context.Background()); err != nil {
		log.Warn().Err(err).Msg("stop crew")
	}
}

// evalClient builds a client for model using the crew's provider and key.
func (a *crewApp) evalClient(ctx context.Context, model string) (llm.Client, error) {
	creds := a.creds
	creds.Model = model
	return a.newClient(ctx, llm.ConfigFrom(a.cfg.LLM, creds))
}

func newStore(ctx context.Context, lc fx.Lifecycle, layout project.Layout) (*db.Store, error) {
	sqlDB, err := db.Open(ctx, layout.DBPath)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return sqlDB.Close()
		},
	})
	return db.NewStore(sqlDB), nil
}

func execFactory(runDir string) crew.ClientFactory {
	return func(name string, cfg config.AgentConfig) (llm.Client, error) {
		useTTY := false
		if cfg.UseTTY != nil {
			useTTY = *cfg.UseTTY
		}
		client, err := llm.NewExec(llm.ExecConfig{
			Name:   name,
			Cmd:    cfg.Cmd,
			RunDir: runDir,
			UseTTY: useTTY,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	}
}

// openStore opens the project database without loading credentials.
func openStore(ctx context.Context, root string) (*db.Store, config.Config, project.Layout, func(), error) {
	cfg, err := loadConfig(root)
	if err != nil {
		return nil, config.Config{}, project.Layout{}, func() {}, err
	}
	layout, err := project.Resolve(root, cfg.Data)
	if err != nil {
		return nil, config.Config{}, project.Layout{}, func() {}, err
	}
	sqlDB, err := db.Open(ctx, layout.DBPath)
	if err != nil {
		return nil, config.Config{}, project.Layout{}, func() {}, err
	}
	return db.NewStore(sqlDB), cfg, layout, func() { _ = sqlDB.Close() }, nil
}
