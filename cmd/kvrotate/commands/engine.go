package commands

import (
	"context"
	"time"

	"github.com/systmms/kvrotate/internal/config"
	"github.com/systmms/kvrotate/internal/logging"
	"github.com/systmms/kvrotate/internal/metrics"
	"github.com/systmms/kvrotate/internal/notifications"
	"github.com/systmms/kvrotate/internal/storage"
	"github.com/systmms/kvrotate/internal/vault"
	"github.com/systmms/kvrotate/pkg/rotation"
)

const submitBackoff = 500 * time.Millisecond

// vaultFactory builds the vault client once per invocation. Tests replace it.
var vaultFactory = func(cfg config.VaultConfig, logger *logging.Logger) (vault.Client, error) {
	return vault.NewAzureVault(cfg, vault.WithLogger(logger))
}

// engine is everything a command needs to evaluate and rotate certificates,
// wired from one loaded configuration.
type engine struct {
	def       *config.Definition
	client    vault.Client
	evaluator *rotation.Evaluator
	sweep     *rotation.Sweep
	handler   *rotation.Handler
	notifier  *notifications.Manager
	logger    *logging.Logger
}

// loadConfig loads the configuration unless a caller already has.
func loadConfig(cfg *config.Config) error {
	if cfg.Definition != nil {
		return nil
	}
	return cfg.Load()
}

// newEngine loads configuration, checks the vault identifier before anything
// talks to the vault, and wires the observers.
func newEngine(cfg *config.Config) (*engine, error) {
	if err := loadConfig(cfg); err != nil {
		return nil, err
	}
	def := cfg.Definition
	if err := def.RequireVault(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	client, err := vaultFactory(def.Vault, logger)
	if err != nil {
		return nil, err
	}

	metrics.InitMetrics()
	observers := rotation.Observers{metrics.NewRecorder()}

	if !def.Storage.Disabled {
		store := storage.NewFileStorage(def.Storage.StorageDir())
		observers = append(observers, storage.NewRecorder(store, def.Storage.Retention, logger))
	}

	var notifier *notifications.Manager
	if len(def.Notifications.Webhooks) > 0 {
		notifier, err = notifications.FromConfig(def.Notifications, logger)
		if err != nil {
			return nil, err
		}
		notifications.InitMetrics()
		observers = append(observers, notifications.NewNotifier(notifier, client.Name()))
	}

	evaluator := rotation.NewEvaluator()
	poller := rotation.NewPoller(client, logger, rotation.WithSubmitRetries(def.Rotation.SubmitRetries, submitBackoff))

	return &engine{
		def:       def,
		client:    client,
		evaluator: evaluator,
		sweep:     rotation.NewSweep(client, evaluator, poller, observers, logger),
		handler:   rotation.NewHandler(client, evaluator, poller, budget(def.Rotation.Interactive), policyTemplate(def.Issuance), observers, logger),
		notifier:  notifier,
		logger:    logger,
	}, nil
}

// start begins background notification delivery.
func (e *engine) start(ctx context.Context) {
	if e.notifier != nil {
		e.notifier.Start(ctx)
	}
}

// stop flushes queued notifications.
func (e *engine) stop() {
	if e.notifier != nil {
		e.notifier.Stop()
	}
}

// runSweep sweeps the vault with the unattended wait budget.
func (e *engine) runSweep(ctx context.Context, trigger rotation.Trigger, dryRun bool) (rotation.Summary, error) {
	return e.sweep.Run(ctx, rotation.SweepOptions{
		ThresholdDays: e.def.Rotation.ThresholdDays,
		Budget:        budget(e.def.Rotation.Scheduled),
		Trigger:       trigger,
		DryRun:        dryRun,
	})
}

func budget(p config.PollConfig) rotation.Budget {
	return rotation.Budget{Interval: p.Interval, MaxWait: p.MaxWait}
}

// policyTemplate turns the issuance settings into the policy used by create.
func policyTemplate(i config.IssuanceConfig) rotation.PolicyTemplate {
	return func(name string) vault.RenewalPolicy {
		return vault.RenewalPolicy{
			Issuer:            i.Issuer,
			Subject:           i.Subject(name),
			ValidityMonths:    i.ValidityMonths,
			KeyType:           i.KeyType,
			KeySize:           i.KeySize,
			Exportable:        i.Exportable,
			ReuseKey:          i.ReuseKey,
			KeyUsages:         append([]string(nil), i.KeyUsages...),
			ExtendedKeyUsages: append([]string(nil), i.ExtendedKeyUsages...),
			ContentType:       i.ContentType,
		}
	}
}
