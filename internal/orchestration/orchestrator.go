// Package orchestration runs backup, restore and engine lifecycle operations
// against an infrastructure: it checks preconditions, resolves hop
// credentials, dispatches the backend action and watches the resulting job.
package orchestration

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/credentials"
	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/installation"
	"evalgo.org/kiwi/internal/mappings"
	"evalgo.org/kiwi/internal/poller"
	"evalgo.org/kiwi/internal/storage"
	"evalgo.org/kiwi/internal/validation"
	"evalgo.org/kiwi/models"
)

// JobLedger persists dispatched jobs.
type JobLedger interface {
	SaveJob(ctx context.Context, job *models.Job) error
	UpdateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListJobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error)
}

// Notifier receives settled polls. Each callback fires once per poll.
type Notifier interface {
	JobSettled(Outcome)
	InstallationSettled(models.InstallationStatus)
}

// ProgressNotifier is optionally implemented by a Notifier that also wants
// every intermediate job status.
type ProgressNotifier interface {
	JobUpdated(models.Job)
}

// Outcome is the final observation of a job poll.
type Outcome struct {
	JobID     string           `json:"jobId"`
	Kind      models.JobKind   `json:"kind"`
	InfraID   int              `json:"infraId"`
	Status    models.JobStatus `json:"status"`
	Succeeded bool             `json:"succeeded"`
	Reason    poller.Reason    `json:"reason"`
	Err       error            `json:"-"`
	Error     string           `json:"error,omitempty"`
}

type nopNotifier struct{}

func (nopNotifier) JobSettled(Outcome)                            {}
func (nopNotifier) InstallationSettled(models.InstallationStatus) {}

// Deps are the collaborators of an Orchestrator. Client and Credentials are
// required; the rest default to in-memory implementations over Client.
type Deps struct {
	Client      dispatch.Client
	Credentials *credentials.Manager
	Registry    *mappings.Registry
	Tracker     *installation.Tracker
	Polls       *poller.Manager
	Ledger      JobLedger
	Notifier    Notifier
	Polling     config.PollingConfig
}

// Orchestrator coordinates every remote operation.
type Orchestrator struct {
	client    dispatch.Client
	creds     *credentials.Manager
	registry  *mappings.Registry
	tracker   *installation.Tracker
	polls     *poller.Manager
	ledger    JobLedger
	notifier  Notifier
	polling   config.PollingConfig
	validator *validation.Validator

	mu   sync.Mutex
	jobs map[string]*models.Job // jobs with a running poll
}

// parkedOp is an operation waiting for credentials. It runs with the
// resolved hop chain.
type parkedOp func(ctx context.Context, hops []models.Hop) (*Result, error)

// New creates an orchestrator.
func New(d Deps) *Orchestrator {
	if d.Registry == nil {
		d.Registry = mappings.NewRegistry(d.Client)
	}
	if d.Tracker == nil {
		d.Tracker = installation.NewTracker(d.Client, d.Registry)
	}
	if d.Polls == nil {
		d.Polls = poller.NewManager()
	}
	if d.Ledger == nil {
		d.Ledger = storage.NewMemoryLedger()
	}
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}

	return &Orchestrator{
		client:    d.Client,
		creds:     d.Credentials,
		registry:  d.Registry,
		tracker:   d.Tracker,
		polls:     d.Polls,
		ledger:    d.Ledger,
		notifier:  d.Notifier,
		polling:   withPollingDefaults(d.Polling),
		validator: validation.New(),
		jobs:      make(map[string]*models.Job),
	}
}

func withPollingDefaults(p config.PollingConfig) config.PollingConfig {
	def := func(v *time.Duration, d time.Duration) {
		if *v <= 0 {
			*v = d
		}
	}
	def(&p.BackupInterval, 3*time.Second)
	def(&p.RestoreInterval, 5*time.Second)
	def(&p.InstallInterval, 2*time.Second)
	def(&p.BackupTimeout, 30*time.Minute)
	def(&p.RestoreTimeout, 60*time.Minute)
	def(&p.InstallTimeout, 20*time.Minute)
	if p.MaxFetchErrors <= 0 {
		p.MaxFetchErrors = poller.DefaultMaxConsecutiveErrors
	}
	return p
}

// Tracker returns the installation tracker.
func (o *Orchestrator) Tracker() *installation.Tracker { return o.tracker }

// Registry returns the storage mapping registry.
func (o *Orchestrator) Registry() *mappings.Registry { return o.registry }

// Credentials returns the credential manager.
func (o *Orchestrator) Credentials() *credentials.Manager { return o.creds }

func (o *Orchestrator) check(req any, infra models.Infrastructure) error {
	if err := o.validator.Struct(req).Err(); err != nil {
		return err
	}
	if infra.Type.Class() == "" {
		return invalid("unsupported infrastructure type %q", infra.Type)
	}
	return nil
}

// authorize runs op immediately when the store fills every hop, otherwise
// parks it on a new auth session and returns CredentialsRequiredError.
func (o *Orchestrator) authorize(ctx context.Context, purpose models.AuthPurpose, hops []models.Hop, op parkedOp) (*Result, error) {
	sess, err := o.creds.Begin(ctx, purpose, hops, op)
	if err != nil {
		return nil, err
	}
	if resolved, ok := sess.Resolved(); ok {
		return op(ctx, resolved)
	}
	return nil, &CredentialsRequiredError{Session: sess.View()}
}

// Continue submits credentials for a parked operation and runs it with the
// typed chain. For delete and uninstall every typed password must also match
// the credential the store keeps for that hop.
func (o *Orchestrator) Continue(ctx context.Context, sessionID string, inputs []models.CredentialInput) (*Result, error) {
	sess, err := o.creds.Get(sessionID)
	if err != nil {
		return nil, err
	}
	op, ok := sess.Pending().(parkedOp)
	if !ok {
		sess.Cancel()
		return nil, fmt.Errorf("auth session %s has no parked operation", sessionID)
	}

	// Delete and uninstall are checked before anything is stored, so an
	// abort leaves the store and the backend untouched.
	var check credentials.Check
	if sess.Purpose().RequiresPasswordCheck() {
		check = verifyTyped
	}

	hops, err := sess.SubmitChecked(ctx, inputs, check)
	if err != nil {
		return nil, err
	}
	return op(ctx, hops)
}

// Cancel discards a parked operation.
func (o *Orchestrator) Cancel(sessionID string) error {
	_, err := o.creds.Cancel(sessionID)
	return err
}

// Sessions lists the operations waiting for credentials.
func (o *Orchestrator) Sessions() []models.AuthSessionView {
	return o.creds.List()
}

// verifyTyped compares typed passwords with the retained chain, index by index.
func verifyTyped(typed []models.CredentialInput, hops []models.Hop) error {
	for i, in := range typed {
		if i >= len(hops) {
			return &AuthMismatchError{HopIndex: i}
		}
		if subtle.ConstantTimeCompare([]byte(in.Password), []byte(hops[i].Password)) != 1 {
			return &AuthMismatchError{HopIndex: i, Host: hops[i].Host}
		}
	}
	return nil
}

// CheckInstallation refreshes the installation status. Container runtimes
// are answered from the mapping registry without credentials.
func (o *Orchestrator) CheckInstallation(ctx context.Context, req CheckRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}

	refresh := func(ctx context.Context, hops []models.Hop) (*Result, error) {
		st, err := o.tracker.Refresh(ctx, req.Infra, hops)
		if err != nil {
			return nil, err
		}
		return &Result{Purpose: models.PurposeSetup, Status: &st}, nil
	}

	if req.Infra.Type.Class() == models.ClassContainerRuntime {
		return refresh(ctx, nil)
	}
	if len(req.Hops) == 0 {
		return nil, invalid("hops are required for kubernetes infrastructure")
	}
	return o.authorize(ctx, models.PurposeSetup, req.Hops, refresh)
}

// Status returns the cached installation status of an infrastructure.
func (o *Orchestrator) Status(infraID int) models.InstallationStatus {
	return o.tracker.Status(infraID)
}

func gateReason(st models.InstallationStatus) string {
	switch st.EngineState {
	case models.EngineUnknown:
		return "installation status unknown, run a status check first"
	case models.EngineNotInstalled:
		return "backup engine is not installed"
	case models.EngineInstalling:
		return "backup engine installation is in progress"
	case models.EngineError:
		return "backup engine is in error state"
	}
	return "no external storage is connected"
}
