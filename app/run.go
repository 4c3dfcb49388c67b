// app/run.go
package app

import (
	"context"
	"fmt"

	"github.com/dalemusser/nural/config"
	"github.com/dalemusser/nural/logging"
	"github.com/dalemusser/nural/server"
	"go.uber.org/zap"
)

// Hooks are the integration points an application provides to Run.
type Hooks[C any] struct {
	// Name is used only for logging.
	Name string

	// LoadConfig returns the core config and the application's own
	// config. Nil loads the core config with config.Load and leaves C zero.
	LoadConfig func(logger *zap.Logger) (*config.CoreConfig, C, error)

	// Setup registers modules, providers, cron jobs and gateways.
	Setup func(ctx context.Context, a *App, appCfg C) error

	// Options are passed to New.
	Options []Option

	// Configure derives more options from the loaded config, for example a
	// sink built ahead of New so an error handler can share its logger.
	Configure func(cfg *config.CoreConfig, appCfg C) ([]Option, error)
}

// Run executes the standard startup sequence:
//
//  1. Bootstrap logger
//  2. Load core + app config (Hooks.LoadConfig)
//  3. Hooks.Configure, then build the App (logger sink, engine,
//     middleware, docs)
//  4. Hooks.Setup
//  5. Bind the listener
//  6. Block until a termination signal or a serve failure, then run the
//     shutdown sequence
//
// The shutdown sequence ends the process; Run only returns early on a
// startup error, or after shutdown when WithExitFunc does not exit.
func Run[C any](ctx context.Context, hooks Hooks[C]) error {
	bootstrap := logging.BootstrapLogger()
	defer func() { _ = bootstrap.Sync() }()
	bootstrap.Info("bootstrap logger initialized", zap.String("app", hooks.Name))

	load := hooks.LoadConfig
	if load == nil {
		load = func(logger *zap.Logger) (*config.CoreConfig, C, error) {
			var zero C
			cfg, err := config.Load(logger)
			return cfg, zero, err
		}
	}
	coreCfg, appCfg, err := load(bootstrap)
	if err != nil {
		bootstrap.Error("config load failed", zap.Error(err))
		return fmt.Errorf("load config: %w", err)
	}
	bootstrap.Info("config loaded",
		zap.String("env", coreCfg.Env),
		zap.String("framework", coreCfg.Framework),
		zap.String("log_level", coreCfg.LogLevel))

	opts := append([]Option{WithoutSignals()}, hooks.Options...)
	if hooks.Configure != nil {
		extra, err := hooks.Configure(coreCfg, appCfg)
		if err != nil {
			bootstrap.Error("configure failed", zap.Error(err))
			return fmt.Errorf("configure: %w", err)
		}
		opts = append(opts, extra...)
	}
	a, err := New(coreCfg, opts...)
	if err != nil {
		bootstrap.Error("app build failed", zap.Error(err))
		return err
	}
	logger := a.Logger()

	if hooks.Setup != nil {
		if err := hooks.Setup(ctx, a, appCfg); err != nil {
			logger.Error("setup failed", zap.Error(err))
			a.release(ctx)
			return fmt.Errorf("setup: %w", err)
		}
	}

	ctx, cancel := server.WithShutdownSignals(ctx, logger)
	defer cancel()

	if _, err := a.Start(ctx); err != nil {
		logger.Error("listen failed", zap.Error(err))
		a.release(ctx)
		return err
	}

	select {
	case <-ctx.Done():
		a.Close()
	case <-a.Done():
	}
	<-a.Done()
	if err := a.Err(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
