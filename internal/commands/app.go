package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"evalgo.org/kiwi/internal/credentials"
	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/orchestration"
	"evalgo.org/kiwi/internal/storage"
	"evalgo.org/kiwi/models"
)

// credentialStore is a Store that must be closed.
type credentialStore interface {
	credentials.Store
	Close() error
}

// app holds the collaborators shared by the server and the CLI commands.
type app struct {
	orch   *orchestration.Orchestrator
	store  credentialStore
	ledger *storage.Storage // nil with the in-memory ledger
}

// newApp wires the orchestrator from the loaded configuration. notifier may
// be nil.
func newApp(ctx context.Context, notifier orchestration.Notifier) (*app, error) {
	client, err := dispatch.NewHTTPClient(cfg.Backend.URL, cfg.Backend.Token, cfg.Backend.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	policy, err := credentials.ParseUpsertPolicy(cfg.Credentials.UpsertPolicy)
	if err != nil {
		return nil, err
	}

	store, err := openCredentialStore(ctx)
	if err != nil {
		return nil, err
	}

	a := &app{store: store}
	deps := orchestration.Deps{
		Client:      client,
		Credentials: credentials.NewManager(store, policy),
		Notifier:    notifier,
		Polling:     cfg.Polling,
	}

	if cfg.CouchDB.Enabled {
		ledger, err := storage.New(cfg)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize job ledger: %w", err)
		}
		a.ledger = ledger
		deps.Ledger = ledger
	}

	a.orch = orchestration.New(deps)
	return a, nil
}

func openCredentialStore(ctx context.Context) (credentialStore, error) {
	switch cfg.Credentials.Store {
	case "sqlite":
		logging.Warnf("credentials are persisted unencrypted in %s", cfg.Credentials.Path)
		return credentials.OpenSQLStore(ctx, cfg.Credentials.Path)
	case "memory", "":
		return credentials.NewMemoryStore(), nil
	}
	return nil, fmt.Errorf("unknown credential store %q", cfg.Credentials.Store)
}

// Close stops polling and releases the stores.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.orch.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waiter is the CLI notifier. It hands each settled job or installation to
// whoever waits for it, whichever side arrives first.
type waiter struct {
	mu       sync.Mutex
	jobs     map[string]chan orchestration.Outcome
	installs map[int]chan models.InstallationStatus
}

func newWaiter() *waiter {
	return &waiter{
		jobs:     make(map[string]chan orchestration.Outcome),
		installs: make(map[int]chan models.InstallationStatus),
	}
}

func (w *waiter) jobChan(id string) chan orchestration.Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.jobs[id]
	if !ok {
		ch = make(chan orchestration.Outcome, 1)
		w.jobs[id] = ch
	}
	return ch
}

func (w *waiter) installChan(infraID int) chan models.InstallationStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch, ok := w.installs[infraID]
	if !ok {
		ch = make(chan models.InstallationStatus, 1)
		w.installs[infraID] = ch
	}
	return ch
}

func (w *waiter) JobSettled(out orchestration.Outcome) {
	select {
	case w.jobChan(out.JobID) <- out:
	default:
	}
}

func (w *waiter) InstallationSettled(st models.InstallationStatus) {
	select {
	case w.installChan(st.InfraID) <- st:
	default:
	}
}

func (w *waiter) waitJob(ctx context.Context, id string) (orchestration.Outcome, error) {
	select {
	case out := <-w.jobChan(id):
		return out, nil
	case <-ctx.Done():
		return orchestration.Outcome{}, ctx.Err()
	}
}

func (w *waiter) waitInstall(ctx context.Context, infraID int) (models.InstallationStatus, error) {
	select {
	case st := <-w.installChan(infraID):
		return st, nil
	case <-ctx.Done():
		return models.InstallationStatus{}, ctx.Err()
	}
}
