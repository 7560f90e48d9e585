package orchestration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/poller"
	"evalgo.org/kiwi/internal/storage"
	"evalgo.org/kiwi/models"
)

const defaultBackupType = "full"

// CreateBackup checks the backup gate, dispatches the backup and starts
// watching the job. Kubernetes infrastructure needs an open installation
// gate; container runtimes need at least one storage mapping.
func (o *Orchestrator) CreateBackup(ctx context.Context, req BackupRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}

	// exactly one of storage_id and external_storage_id must go out
	if req.Storage.IsZero() {
		return nil, invalid("a storage is required (ext-<id> or infra-<id>)")
	}

	infra := req.Infra
	switch infra.Type.Class() {
	case models.ClassKubernetes:
		if req.Namespace == "" {
			return nil, invalid("namespace is required for kubernetes backups")
		}
		if st := o.tracker.Status(infra.ID); !st.CanCreateBackup() {
			return nil, &PreconditionError{Op: "backup", InfraID: infra.ID, Reason: gateReason(st)}
		}
	case models.ClassContainerRuntime:
		connected, err := o.registry.Connected(ctx, infra.ID)
		if err != nil {
			return nil, err
		}
		if !connected {
			return nil, &PreconditionError{Op: "backup", InfraID: infra.ID, Reason: "no external storage is linked to this infrastructure"}
		}
	}

	name := req.Name
	if name == "" {
		name = models.GenerateRemoteName(string(models.JobKindBackup), infra.ID)
	}
	storageType := req.StorageType
	if storageType == "" {
		storageType = models.StorageMinio
	}

	return o.authorize(ctx, models.PurposeBackup, req.Hops, func(ctx context.Context, hops []models.Hop) (*Result, error) {
		var (
			cmd    dispatch.Command
			target string
		)
		if infra.Type.Class() == models.ClassKubernetes {
			target = req.Namespace
			cmd = dispatch.CreateKubernetesBackup{
				InfraID:       infra.ID,
				InfraType:     infra.Type,
				Hops:          hops,
				BackupName:    name,
				Namespace:     req.Namespace,
				Selector:      req.Selector,
				Schedule:      req.Schedule,
				Retention:     req.Retention,
				StorageType:   storageType,
				StorageTarget: req.Storage.Target(),
			}
		} else {
			backupType := req.BackupType
			if backupType == "" {
				backupType = defaultBackupType
			}
			target = req.ComposeProject
			cmd = dispatch.CreateContainerBackup{
				InfraID:        infra.ID,
				InfraType:      infra.Type,
				Hops:           hops,
				BackupName:     name,
				BackupType:     backupType,
				ComposeProject: req.ComposeProject,
				StorageType:    storageType,
				StorageTarget:  req.Storage.Target(),
			}
		}

		remoteID, err := o.dispatchJob(ctx, cmd, name)
		if err != nil {
			return nil, err
		}
		job := models.NewJob(models.JobKindBackup, infra.ID, remoteID, name, target)
		return o.track(ctx, models.PurposeBackup, job), nil
	})
}

// Restore dispatches a restore and starts watching the job.
func (o *Orchestrator) Restore(ctx context.Context, req RestoreRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}

	infra := req.Infra
	var mapping map[string]string
	if infra.Type.Class() == models.ClassKubernetes {
		var err error
		if mapping, err = o.namespaceMapping(ctx, req); err != nil {
			return nil, err
		}
	}

	name := req.Name
	if name == "" {
		name = models.GenerateRemoteName(string(models.JobKindRestore), infra.ID)
	}

	return o.authorize(ctx, models.PurposeRestore, req.Hops, func(ctx context.Context, hops []models.Hop) (*Result, error) {
		var cmd dispatch.Command
		if infra.Type.Class() == models.ClassKubernetes {
			cmd = dispatch.CreateKubernetesRestore{
				InfraID:          infra.ID,
				InfraType:        infra.Type,
				Hops:             hops,
				BackupName:       req.BackupName,
				RestoreName:      name,
				NamespaceMapping: mapping,
			}
		} else {
			cmd = dispatch.CreateContainerRestore{
				InfraID:         infra.ID,
				InfraType:       infra.Type,
				Hops:            hops,
				BackupName:      req.BackupName,
				RestoreName:     name,
				RestoreVolumes:  req.RestoreVolumes,
				RestoreConfig:   req.RestoreConfig,
				RedeployCompose: req.RedeployCompose,
				StopExisting:    req.StopExisting,
				Containers:      req.Containers,
			}
		}

		remoteID, err := o.dispatchJob(ctx, cmd, name)
		if err != nil {
			return nil, err
		}
		job := models.NewJob(models.JobKindRestore, infra.ID, remoteID, name, req.BackupName)
		return o.track(ctx, models.PurposeRestore, job), nil
	})
}

// namespaceMapping returns the requested mapping, or the identity mapping
// over the backup's namespaces.
func (o *Orchestrator) namespaceMapping(ctx context.Context, req RestoreRequest) (map[string]string, error) {
	if len(req.NamespaceMapping) > 0 {
		return req.NamespaceMapping, nil
	}

	namespaces := req.Namespaces
	if len(namespaces) == 0 {
		resp, err := o.client.Dispatch(ctx, dispatch.GetBatchBackups{
			InfraIDs: []int{req.Infra.ID},
			Names:    []string{req.BackupName},
		})
		if err != nil {
			return nil, err
		}
		batch, err := dispatch.Decode[dispatch.BatchJobs](resp)
		if err != nil {
			return nil, err
		}
		if rec, ok := batch.Find(req.Infra.ID, req.BackupName); ok && rec.Namespace != "" {
			namespaces = []string{rec.Namespace}
		}
	}
	if len(namespaces) == 0 {
		return nil, invalid("no namespaces known for backup %s, a namespace mapping is required", req.BackupName)
	}

	mapping := make(map[string]string, len(namespaces))
	for _, ns := range namespaces {
		mapping[ns] = ns
	}
	return mapping, nil
}

// DeleteBackup removes a backup on the backend.
func (o *Orchestrator) DeleteBackup(ctx context.Context, req DeleteBackupRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}

	return o.authorize(ctx, models.PurposeDelete, req.Hops, func(ctx context.Context, hops []models.Hop) (*Result, error) {
		if _, err := o.client.Dispatch(ctx, dispatch.DeleteBackup{
			InfraID:    req.Infra.ID,
			InfraType:  req.Infra.Type,
			Hops:       hops,
			BackupName: req.BackupName,
		}); err != nil {
			return nil, err
		}
		logging.Infof("backup %s deleted on infra %d", req.BackupName, req.Infra.ID)
		return &Result{Purpose: models.PurposeDelete, Message: fmt.Sprintf("backup %s deleted", req.BackupName)}, nil
	})
}

// FetchNamespaces lists the namespaces of a cluster.
func (o *Orchestrator) FetchNamespaces(ctx context.Context, req NamespacesRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}
	if err := o.requireKubernetes("fetch-namespaces", req.Infra); err != nil {
		return nil, err
	}

	return o.authorize(ctx, models.PurposeNamespace, req.Hops, func(ctx context.Context, hops []models.Hop) (*Result, error) {
		resp, err := o.client.Dispatch(ctx, dispatch.FetchNamespaces{InfraID: req.Infra.ID, Hops: hops})
		if err != nil {
			return nil, err
		}
		namespaces, err := decodeNamespaces(resp)
		if err != nil {
			return nil, err
		}
		return &Result{Purpose: models.PurposeNamespace, Namespaces: namespaces}, nil
	})
}

// decodeNamespaces accepts a plain list, {"namespaces": [...]}, or a list of {"name": ...}.
func decodeNamespaces(resp *dispatch.Response) ([]string, error) {
	if resp == nil || len(resp.Data) == 0 {
		return nil, nil
	}

	var plain []string
	if err := json.Unmarshal(resp.Data, &plain); err == nil {
		return plain, nil
	}

	var wrapped struct {
		Namespaces json.RawMessage `json:"namespaces"`
	}
	raw := resp.Data
	if err := json.Unmarshal(resp.Data, &wrapped); err == nil && len(wrapped.Namespaces) > 0 {
		if err := json.Unmarshal(wrapped.Namespaces, &plain); err == nil {
			return plain, nil
		}
		raw = wrapped.Namespaces
	}

	var named []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("failed to decode namespaces: %w", err)
	}
	out := make([]string, 0, len(named))
	for _, n := range named {
		out = append(out, n.Name)
	}
	return out, nil
}

// dispatchJob sends cmd and returns the backend job identifier, falling
// back to the job name when the backend does not report one.
func (o *Orchestrator) dispatchJob(ctx context.Context, cmd dispatch.Command, name string) (string, error) {
	resp, err := o.client.Dispatch(ctx, cmd)
	if err != nil {
		return "", err
	}
	acc, err := dispatch.Decode[dispatch.Accepted](resp)
	if err != nil {
		return "", err
	}
	if id := acc.Identifier(); id != "" {
		return id, nil
	}
	return name, nil
}

// track records an accepted job and starts polling it. A ledger failure is
// logged and does not fail the already accepted dispatch.
func (o *Orchestrator) track(ctx context.Context, purpose models.AuthPurpose, job *models.Job) *Result {
	if err := o.ledger.SaveJob(ctx, job); err != nil {
		logging.Errorf("failed to record job %s: %v", job.ID, err)
	}
	o.watchJob(job)

	logging.Infof("%s job %s accepted on infra %d", job.Kind, job.ID, job.InfraID)
	return &Result{
		Purpose: purpose,
		Accepted: &Accepted{
			JobID:    job.ID,
			RemoteID: job.RemoteID,
			Kind:     job.Kind,
			InfraID:  job.InfraID,
			Name:     job.Name,
		},
	}
}

func (o *Orchestrator) pollSettings(kind models.JobKind) (time.Duration, time.Duration) {
	if kind == models.JobKindRestore {
		return o.polling.RestoreInterval, o.polling.RestoreTimeout
	}
	return o.polling.BackupInterval, o.polling.BackupTimeout
}

// watchJob starts the poll of a job. A running poll of the same job is replaced.
func (o *Orchestrator) watchJob(job *models.Job) {
	o.mu.Lock()
	o.jobs[job.ID] = job
	o.mu.Unlock()

	key := job.ID
	kind, infraID, remoteID, name := job.Kind, job.InfraID, job.RemoteID, job.Name
	interval, timeout := o.pollSettings(kind)

	poller.Start(o.polls, key, poller.Spec[dispatch.JobRecord]{
		Kind:                 string(kind),
		Interval:             interval,
		Timeout:              timeout,
		MaxConsecutiveErrors: o.polling.MaxFetchErrors,
		Fetch: func(ctx context.Context) (dispatch.JobRecord, error) {
			return o.fetchJob(ctx, kind, infraID, remoteID, name)
		},
		Terminal: func(rec dispatch.JobRecord) bool {
			return rec.Status.IsTerminal()
		},
		OnUpdate: func(rec dispatch.JobRecord) {
			o.observe(key, rec)
		},
		OnDone: func(r poller.Result[dispatch.JobRecord]) {
			o.settle(key, r)
		},
	})
}

// fetchJob looks the job up with the batch action. A job the backend does
// not list yet yields an empty record.
func (o *Orchestrator) fetchJob(ctx context.Context, kind models.JobKind, infraID int, remoteID, name string) (dispatch.JobRecord, error) {
	var cmd dispatch.Command = dispatch.GetBatchBackups{InfraIDs: []int{infraID}, Names: []string{name}}
	if kind == models.JobKindRestore {
		cmd = dispatch.GetBatchRestores{InfraIDs: []int{infraID}, Names: []string{name}}
	}

	resp, err := o.client.Dispatch(ctx, cmd)
	if err != nil {
		return dispatch.JobRecord{}, err
	}
	batch, err := dispatch.Decode[dispatch.BatchJobs](resp)
	if err != nil {
		return dispatch.JobRecord{}, err
	}
	if rec, ok := batch.Find(infraID, remoteID); ok {
		return rec, nil
	}
	if rec, ok := batch.Find(infraID, name); ok {
		return rec, nil
	}
	return dispatch.JobRecord{}, nil
}

func (o *Orchestrator) observe(key string, rec dispatch.JobRecord) {
	if rec.Status == "" {
		return
	}

	o.mu.Lock()
	job, ok := o.jobs[key]
	if !ok || !job.Observe(rec.Status, rec.Error) {
		o.mu.Unlock()
		return
	}
	snapshot := *job
	o.mu.Unlock()

	if err := o.ledger.UpdateJob(context.Background(), &snapshot); err != nil {
		logging.Warnf("failed to update job %s: %v", key, err)
	}
	if pn, ok := o.notifier.(ProgressNotifier); ok {
		pn.JobUpdated(snapshot)
	}
}

// settle records the end of a job poll and notifies once.
func (o *Orchestrator) settle(key string, r poller.Result[dispatch.JobRecord]) {
	o.mu.Lock()
	job, ok := o.jobs[key]
	if !ok {
		o.mu.Unlock()
		return
	}

	// A stopped poll says nothing about the job, the backend keeps running it.
	// Only forget it so the next Watch polls again.
	if r.Reason == poller.ReasonStopped {
		if cur, _ := o.polls.Get(key); cur == nil {
			delete(o.jobs, key)
		}
		o.mu.Unlock()
		return
	}

	out := Outcome{JobID: job.ID, Kind: job.Kind, InfraID: job.InfraID, Reason: r.Reason}
	switch r.Reason {
	case poller.ReasonTerminal:
		job.Observe(r.Last.Status, r.Last.Error)
		if r.Last.Status.IsFailure() {
			out.Err = &RemoteJobFailure{JobID: job.ID, Status: r.Last.Status, Message: r.Last.Error}
		} else {
			out.Succeeded = true
		}
	case poller.ReasonTimeout, poller.ReasonFailed:
		out.Err = r.Err
		job.Error = r.Err.Error()
	}
	out.Status = job.Status
	if out.Err != nil {
		out.Error = out.Err.Error()
	}

	snapshot := *job
	if cur, _ := o.polls.Get(key); cur == nil {
		delete(o.jobs, key)
	}
	o.mu.Unlock()

	if err := o.ledger.UpdateJob(context.Background(), &snapshot); err != nil {
		logging.Warnf("failed to update job %s: %v", key, err)
	}

	if out.Err != nil {
		logging.Warnf("%s job %s on infra %d ended %s: %v", out.Kind, out.JobID, out.InfraID, out.Reason, out.Err)
	} else {
		logging.Infof("%s job %s on infra %d ended %s (%s)", out.Kind, out.JobID, out.InfraID, out.Reason, out.Status)
	}
	o.notifier.JobSettled(out)
}

// Watch resumes polling a recorded job. Settled jobs are returned without a poll.
func (o *Orchestrator) Watch(ctx context.Context, jobID string) (*models.Job, error) {
	o.mu.Lock()
	if job, ok := o.jobs[jobID]; ok {
		snapshot := *job
		o.mu.Unlock()
		return &snapshot, nil
	}
	o.mu.Unlock()

	job, err := o.loadJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status.IsTerminal() {
		return job, nil
	}
	o.watchJob(job)
	snapshot := *job
	return &snapshot, nil
}

// StopWatching stops observing a job. The backend job keeps running.
func (o *Orchestrator) StopWatching(jobID string) bool {
	return o.polls.Stop(jobID)
}

// Watching lists the keys of running polls.
func (o *Orchestrator) Watching() []string {
	return o.polls.Active()
}

// Job returns the current view of a job.
func (o *Orchestrator) Job(ctx context.Context, jobID string) (*models.Job, error) {
	o.mu.Lock()
	if job, ok := o.jobs[jobID]; ok {
		snapshot := *job
		o.mu.Unlock()
		return &snapshot, nil
	}
	o.mu.Unlock()
	return o.loadJob(ctx, jobID)
}

// Jobs lists recorded jobs.
func (o *Orchestrator) Jobs(ctx context.Context, filter models.JobFilter) ([]*models.Job, error) {
	return o.ledger.ListJobs(ctx, filter)
}

// ResumeWatching restarts polls for every unsettled job in the ledger.
func (o *Orchestrator) ResumeWatching(ctx context.Context) (int, error) {
	jobs, err := o.ledger.ListJobs(ctx, models.JobFilter{Active: true})
	if err != nil {
		return 0, err
	}
	for _, job := range jobs {
		o.watchJob(job)
	}
	if len(jobs) > 0 {
		logging.Infof("resumed watching %d unsettled jobs", len(jobs))
	}
	return len(jobs), nil
}

// Shutdown stops every poll. Remote operations are not affected.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	return o.polls.StopAll(ctx)
}

func (o *Orchestrator) loadJob(ctx context.Context, jobID string) (*models.Job, error) {
	job, err := o.ledger.GetJob(ctx, jobID)
	if err != nil {
		if errors.Is(err, storage.ErrJobNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownJob, jobID)
		}
		return nil, err
	}
	return job, nil
}
