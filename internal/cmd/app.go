package cmd

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/inventoryctl/internal/config"
	"github.com/3leaps/inventoryctl/internal/observability"
	"github.com/3leaps/inventoryctl/pkg/apiclient"
	"github.com/3leaps/inventoryctl/pkg/jobs"
	"github.com/3leaps/inventoryctl/pkg/output"
	"github.com/3leaps/inventoryctl/pkg/session"
)

// app is the per-invocation wiring: configuration, the session store and
// the API client bound to it.
type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	store   *session.Store
	client  *apiclient.Client
	printer *output.Printer
	format  output.Format

	history *jobs.HistoryStore
	closers []func() error

	sessionExpired atomic.Bool
}

// newApp loads configuration and rehydrates the persisted session. Callers
// must Close the app.
func newApp(cmd *cobra.Command) (*app, error) {
	ctx := cmd.Context()

	cfg, err := config.LoadFile(ctx, cfgFile, flagOverrides(cmd))
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	if err := observability.InitCLILogger(cfg.Logging.Level, cfg.Logging.Profile); err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid logging configuration", err)
	}
	format, err := output.ParseFormat(cfg.Output.Format)
	if err != nil {
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid --output value", err)
	}

	a := &app{
		cfg:     cfg,
		logger:  observability.CLILogger,
		format:  format,
		printer: output.NewPrinter(cmd.OutOrStdout(), format),
	}

	persister, err := a.openPersister(ctx)
	if err != nil {
		_ = a.Close()
		return nil, exitError(foundry.ExitExternalServiceUnavailable, "Failed to open session storage", err)
	}
	a.store = session.NewStore(persister, session.WithLogger(a.logger))
	a.store.InitializeAuth(ctx)

	a.client, err = apiclient.New(cfg.API.BaseURL, a.store,
		apiclient.WithTimeout(cfg.API.Timeout),
		apiclient.WithRateLimit(cfg.API.RateLimit, cfg.API.Burst),
		apiclient.WithLogger(a.logger),
		apiclient.WithUserAgent("inventoryctl/"+versionInfo.Version),
		apiclient.WithUnauthenticatedHandler(a.onUnauthenticated),
	)
	if err != nil {
		_ = a.Close()
		return nil, exitError(foundry.ExitInvalidArgument, "Invalid API configuration", err)
	}
	return a, nil
}

// flagOverrides turns explicitly set persistent flags into config overrides.
func flagOverrides(cmd *cobra.Command) map[string]any {
	changed := func(name string) bool {
		f := cmd.Flag(name)
		return f != nil && f.Changed
	}
	overrides := map[string]any{}
	if changed("api-url") {
		overrides["api"] = map[string]any{"base_url": apiURL}
	}
	if changed("output") {
		overrides["output"] = map[string]any{"format": outputFormat}
	}
	if changed("log-level") {
		overrides["logging"] = map[string]any{"level": logLevel}
	}
	return overrides
}

func (a *app) openPersister(ctx context.Context) (session.Persister, error) {
	sc := a.cfg.Session
	switch sc.Backend {
	case config.BackendMemory:
		return session.NewMemoryPersister(), nil
	case config.BackendRedis:
		p, err := session.NewRedisPersister(sc.RedisURL, sc.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		if err := p.Ping(ctx); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		return p, nil
	default:
		p := session.NewFilePersister(sc.Dir)
		a.logger.Debug("Using file session storage", zap.String("path", p.Path()))
		return p, nil
	}
}

// onUnauthenticated runs after the client cleared a rejected session.
func (a *app) onUnauthenticated(_ context.Context, status int) {
	if a.sessionExpired.CompareAndSwap(false, true) {
		a.logger.Warn("Session rejected by the API; logged out", zap.Int("status", status))
	}
}

// requireLogin fails unless a session is present.
func (a *app) requireLogin() error {
	if !a.store.IsAuthenticated() {
		return exitError(exitFailure, "Not logged in", errors.New("run 'inventoryctl login' first"))
	}
	return nil
}

// requireCompany fails unless a tenant is active and returns its id.
func (a *app) requireCompany() (int64, error) {
	if err := a.requireLogin(); err != nil {
		return 0, err
	}
	id, ok := a.store.ActiveCompanyID()
	if !ok {
		return 0, exitError(foundry.ExitInvalidArgument, "No active company",
			errors.New("create one with 'inventoryctl company create <name>'"))
	}
	return id, nil
}

// historyStore opens the local job history on first use.
func (a *app) historyStore(ctx context.Context) (*jobs.HistoryStore, error) {
	if a.history != nil {
		return a.history, nil
	}
	h, err := jobs.OpenHistory(ctx, a.cfg.Jobs.HistoryPath)
	if err != nil {
		return nil, err
	}
	a.history = h
	a.closers = append(a.closers, h.Close)
	return h, nil
}

// Close releases storage handles in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	return errors.Join(errs...)
}
