package main

import (
	"context"
	"time"

	"github.com/samcharles93/convtune/internal/api"
	"github.com/samcharles93/convtune/internal/backend"
	"github.com/samcharles93/convtune/internal/conv"
	"github.com/samcharles93/convtune/internal/logger"
	"github.com/urfave/cli/v3"
)

// engine is the selection stack shared by the subcommands.
type engine struct {
	runtime  *backend.Runtime
	config   conv.Config
	policy   conv.Policy
	registry *conv.Registry
	selector *conv.Selector
	log      logger.Logger
}

func openEngine(ctx context.Context, cmd *cli.Command, findDelay time.Duration) (*engine, error) {
	log := logger.FromContext(ctx)
	applyEngineConfig(cmd, fileConfig)

	cfg, err := resolveConfig(cmd, fileConfig)
	if err != nil {
		return nil, err
	}
	rt, err := backend.Open(backendName, backend.Options{
		SM:        int(deviceSM),
		Memory:    deviceMemMB << 20,
		FindDelay: findDelay,
	})
	if err != nil {
		return nil, err
	}

	pol := conv.DefaultPolicy()
	pol.Mode = cfg.Tune
	pol.AllowAccelerated = cfg.AllowAccelerated
	pol.Workspace = workspaceMB << 20

	disc := conv.NewDiscoverer(rt.Backend, rt.Allocator.Lock(), log)
	disc.Verbose = cfg.Verbose
	registry := conv.NewRegistry()

	dev := rt.Backend.Device()
	log.Debug("engine ready",
		"backend", rt.Backend.Name(),
		"device", dev.Name,
		"arch", dev.Arch(),
		"tune", cfg.Tune,
		"workspace_bytes", pol.Workspace,
		"dual_stream", cfg.DualStream(),
	)
	return &engine{
		runtime:  rt,
		config:   cfg,
		policy:   pol,
		registry: registry,
		selector: &conv.Selector{Registry: registry, Discoverer: disc, Verbose: cfg.Verbose},
		log:      log,
	}, nil
}

func (e *engine) server() *api.Server {
	return api.NewServer(e.selector, e.policy, e.config.DualStream())
}

func (e *engine) Close() error {
	return e.runtime.Close()
}
