package orchestration

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/kiwi/internal/config"
	"evalgo.org/kiwi/internal/credentials"
	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/dispatch/dispatchtest"
	"evalgo.org/kiwi/internal/poller"
	"evalgo.org/kiwi/internal/validation"
	"evalgo.org/kiwi/models"
)

type recorder struct {
	jobs     chan Outcome
	installs chan models.InstallationStatus

	mu      sync.Mutex
	updates []models.JobStatus
}

func newRecorder() *recorder {
	return &recorder{
		jobs:     make(chan Outcome, 16),
		installs: make(chan models.InstallationStatus, 16),
	}
}

func (r *recorder) JobSettled(o Outcome)                             { r.jobs <- o }
func (r *recorder) InstallationSettled(st models.InstallationStatus) { r.installs <- st }

func (r *recorder) JobUpdated(j models.Job) {
	r.mu.Lock()
	r.updates = append(r.updates, j.Status)
	r.mu.Unlock()
}

func (r *recorder) outcome(t *testing.T) Outcome {
	t.Helper()
	select {
	case o := <-r.jobs:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("job did not settle")
	}
	return Outcome{}
}

func (r *recorder) installation(t *testing.T) models.InstallationStatus {
	t.Helper()
	select {
	case st := <-r.installs:
		return st
	case <-time.After(5 * time.Second):
		t.Fatal("installation did not settle")
	}
	return models.InstallationStatus{}
}

type harness struct {
	orch  *Orchestrator
	fake  *dispatchtest.Fake
	store *credentials.MemoryStore
	rec   *recorder
}

func newHarness(t *testing.T, policy credentials.UpsertPolicy) *harness {
	t.Helper()
	fake := dispatchtest.New()
	store := credentials.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	rec := newRecorder()

	orch := New(Deps{
		Client:      fake,
		Credentials: credentials.NewManager(store, policy),
		Notifier:    rec,
		Polling: config.PollingConfig{
			BackupInterval:  time.Millisecond,
			RestoreInterval: time.Millisecond,
			InstallInterval: time.Millisecond,
			BackupTimeout:   5 * time.Second,
			RestoreTimeout:  5 * time.Second,
			InstallTimeout:  5 * time.Second,
		},
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = orch.Shutdown(ctx)
	})
	return &harness{orch: orch, fake: fake, store: store, rec: rec}
}

func (h *harness) cache(t *testing.T, host, user, pass string) {
	t.Helper()
	require.NoError(t, h.store.Upsert(context.Background(), models.Credential{Host: host, Port: 22, Username: user, Password: pass}))
}

// jobSequence answers batch job lookups with one status per call, repeating the last.
func jobSequence(infraID int, id string, statuses ...models.JobStatus) (dispatchtest.HandlerFunc, *atomic.Int32) {
	var n atomic.Int32
	return func(dispatch.Command) (any, error) {
		i := int(n.Add(1)) - 1
		if i >= len(statuses) {
			i = len(statuses) - 1
		}
		return map[int][]dispatch.JobRecord{
			infraID: {{ID: id, InfraID: infraID, Status: statuses[i], Error: failureMessage(statuses[i])}},
		}, nil
	}, &n
}

func failureMessage(s models.JobStatus) string {
	if s.IsFailure() {
		return "2 of 5 items failed"
	}
	return ""
}

var (
	k8sInfra    = models.Infrastructure{ID: 5, Type: models.InfraKubernetes}
	dockerInfra = models.Infrastructure{ID: 9, Type: models.InfraDocker}
	oneHop      = []models.Hop{{Host: "10.0.0.5", Port: 22}}
	twoHops     = []models.Hop{{Host: "gw.example.com", Port: 22}, {Host: "10.0.0.5", Port: 22}}
)

func TestHappyPathKubernetesBackup(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, InfraType: models.InfraKubernetes, SummaryCanCreateBackup: true})

	h.fake.Reply(dispatch.ActionCreateBackup, map[string]any{"job_id": "velero-b-1"})
	handler, fetches := jobSequence(5, "velero-b-1", models.JobNew, models.JobInProgress, models.JobCompleted)
	h.fake.Handle(dispatch.ActionBatchBackups, handler)

	res, err := h.orch.CreateBackup(context.Background(), BackupRequest{
		Infra:     k8sInfra,
		Hops:      oneHop,
		Name:      "nightly",
		Namespace: "default",
		Storage:   StorageRef{ExternalStorageID: 42},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Accepted)
	assert.Equal(t, "velero-b-1", res.Accepted.RemoteID)
	assert.Equal(t, models.JobID(models.JobKindBackup, 5, "velero-b-1"), res.Accepted.JobID)
	assert.Empty(t, h.orch.Sessions(), "cached credentials never prompt")

	cmd := h.fake.CallsFor(dispatch.ActionCreateBackup)[0].(dispatch.CreateKubernetesBackup)
	assert.Equal(t, "default", cmd.Namespace)
	assert.Equal(t, "pw", cmd.Hops[0].Password)
	require.NotNil(t, cmd.ExternalStorageID)
	assert.Equal(t, 42, *cmd.ExternalStorageID)
	assert.Nil(t, cmd.StorageID)

	out := h.rec.outcome(t)
	assert.True(t, out.Succeeded)
	assert.Equal(t, models.JobCompleted, out.Status)
	assert.Equal(t, poller.ReasonTerminal, out.Reason)
	assert.NoError(t, out.Err)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), fetches.Load(), "no fetches after Completed")
	assert.True(t, h.orch.Status(5).CanCreateBackup(), "gate stays open")

	job, err := h.orch.Job(context.Background(), res.Accepted.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobCompleted, job.Status)
	assert.NotNil(t, job.CompletedAt)

	h.rec.mu.Lock()
	assert.Equal(t, []models.JobStatus{models.JobInProgress, models.JobCompleted}, h.rec.updates)
	h.rec.mu.Unlock()
}

func TestKubernetesBackupGateClosed(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, EngineState: models.EngineActive, StorageConnected: false})

	_, err := h.orch.CreateBackup(context.Background(), BackupRequest{Infra: k8sInfra, Hops: oneHop, Namespace: "default", Storage: StorageRef{ExternalStorageID: 1}})
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 5, pe.InfraID)
	assert.Empty(t, h.fake.Calls())

	_, err = h.orch.CreateBackup(context.Background(), BackupRequest{Infra: models.Infrastructure{ID: 6, Type: models.InfraKubernetes}, Hops: oneHop, Namespace: "default", Storage: StorageRef{ExternalStorageID: 1}})
	assert.True(t, IsPrecondition(err), "unknown status keeps the gate closed")
}

func TestBlockedContainerBackup(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.fake.Reply(dispatch.ActionBatchStorageMappings, map[int][]models.StorageMapping{})
	h.fake.Reply(dispatch.ActionCreateBackup, map[string]any{"job_id": "x"})

	_, err := h.orch.CreateBackup(context.Background(), BackupRequest{Infra: dockerInfra, Hops: oneHop, Storage: StorageRef{StorageID: 3}})
	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 9, pe.InfraID)
	assert.Zero(t, h.fake.Count(dispatch.ActionCreateBackup))
	assert.Empty(t, h.orch.Sessions(), "no credentials are asked for a blocked backup")
}

func TestContainerBackup(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.fake.Reply(dispatch.ActionBatchStorageMappings, map[int][]models.StorageMapping{9: {{InfraID: 9, ExternalStorageID: 1}}})
	h.fake.Reply(dispatch.ActionCreateBackup, map[string]any{"message": "started"})
	handler, _ := jobSequence(9, "compose-bk", models.JobCompleted)
	h.fake.Handle(dispatch.ActionBatchBackups, handler)

	res, err := h.orch.CreateBackup(context.Background(), BackupRequest{
		Infra:          dockerInfra,
		Hops:           oneHop,
		Name:           "compose-bk",
		ComposeProject: "shop",
		Storage:        StorageRef{StorageID: 3},
	})
	require.NoError(t, err)
	assert.Equal(t, "compose-bk", res.Accepted.RemoteID, "job name stands in for a missing backend id")

	cmd := h.fake.CallsFor(dispatch.ActionCreateBackup)[0].(dispatch.CreateContainerBackup)
	assert.Equal(t, "full", cmd.BackupType)
	assert.Equal(t, "shop", cmd.ComposeProject)
	require.NotNil(t, cmd.StorageID)
	assert.Nil(t, cmd.ExternalStorageID)

	assert.True(t, h.rec.outcome(t).Succeeded)
}

func TestRestorePartialFailureIsFailure(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.fake.Reply(dispatch.ActionCreateRestore, map[string]any{"id": "r-77"})
	handler, _ := jobSequence(5, "r-77", models.JobInProgress, models.JobPartiallyFailed)
	h.fake.Handle(dispatch.ActionBatchRestores, handler)

	res, err := h.orch.Restore(context.Background(), RestoreRequest{
		Infra:            k8sInfra,
		Hops:             oneHop,
		BackupName:       "nightly",
		NamespaceMapping: map[string]string{"default": "restored"},
	})
	require.NoError(t, err)

	out := h.rec.outcome(t)
	assert.False(t, out.Succeeded)
	assert.Equal(t, models.JobPartiallyFailed, out.Status)
	var failure *RemoteJobFailure
	require.ErrorAs(t, out.Err, &failure)
	assert.Equal(t, models.JobPartiallyFailed, failure.Status)
	assert.Equal(t, "2 of 5 items failed", failure.Message)

	job, err := h.orch.Job(context.Background(), res.Accepted.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.JobPartiallyFailed, job.Status)
	assert.True(t, job.Status.IsFailure())
}

func TestRestoreIdentityMapping(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.fake.Reply(dispatch.ActionBatchBackups, map[int][]dispatch.JobRecord{
		5: {{ID: "nightly", Name: "nightly", InfraID: 5, Status: models.JobCompleted, Namespace: "shop"}},
	})
	h.fake.Reply(dispatch.ActionCreateRestore, map[string]any{"job_id": "r-1"})
	handler, _ := jobSequence(5, "r-1", models.JobCompleted)
	h.fake.Handle(dispatch.ActionBatchRestores, handler)

	_, err := h.orch.Restore(context.Background(), RestoreRequest{Infra: k8sInfra, Hops: oneHop, BackupName: "nightly"})
	require.NoError(t, err)

	cmd := h.fake.CallsFor(dispatch.ActionCreateRestore)[0].(dispatch.CreateKubernetesRestore)
	assert.Equal(t, map[string]string{"shop": "shop"}, cmd.NamespaceMapping)
	assert.True(t, h.rec.outcome(t).Succeeded)

	_, err = h.orch.Restore(context.Background(), RestoreRequest{Infra: k8sInfra, Hops: oneHop, BackupName: "unknown"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestCredentialsRequiredAndContinue(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, SummaryCanCreateBackup: true})
	h.fake.Reply(dispatch.ActionCreateBackup, map[string]any{"job_id": "b-2"})
	handler, _ := jobSequence(5, "b-2", models.JobCompleted)
	h.fake.Handle(dispatch.ActionBatchBackups, handler)

	_, err := h.orch.CreateBackup(context.Background(), BackupRequest{Infra: k8sInfra, Hops: twoHops, Namespace: "default", Storage: StorageRef{ExternalStorageID: 1}})
	view, ok := IsCredentialsRequired(err)
	require.True(t, ok)
	assert.Equal(t, models.PurposeBackup, view.Purpose)
	assert.Equal(t, models.AuthAwaitingCredentials, view.State)
	assert.Len(t, view.Hops, 2)
	assert.Zero(t, h.fake.Count(dispatch.ActionCreateBackup), "nothing is dispatched while parked")

	_, err = h.orch.Continue(context.Background(), view.ID, []models.CredentialInput{{Username: "a", Password: "1"}})
	assert.ErrorIs(t, err, credentials.ErrInputLength)

	res, err := h.orch.Continue(context.Background(), view.ID, []models.CredentialInput{
		{Username: "jump", Password: "j-pw"},
		{Username: "ops", Password: "pw"},
	})
	require.NoError(t, err)
	require.NotNil(t, res.Accepted)

	cmd := h.fake.CallsFor(dispatch.ActionCreateBackup)[0].(dispatch.CreateKubernetesBackup)
	assert.Equal(t, "jump", cmd.Hops[0].Username)
	assert.Equal(t, "pw", cmd.Hops[1].Password)
	assert.True(t, h.rec.outcome(t).Succeeded)

	// the chain is cached now
	_, err = h.orch.CreateBackup(context.Background(), BackupRequest{Infra: k8sInfra, Hops: twoHops, Namespace: "default", Storage: StorageRef{ExternalStorageID: 1}})
	require.NoError(t, err)
	h.rec.outcome(t)
}

func TestCancelDiscardsParkedOperation(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.fake.Reply(dispatch.ActionDeleteBackup, nil)

	_, err := h.orch.DeleteBackup(context.Background(), DeleteBackupRequest{Infra: k8sInfra, Hops: oneHop, BackupName: "nightly"})
	view, ok := IsCredentialsRequired(err)
	require.True(t, ok)

	require.NoError(t, h.orch.Cancel(view.ID))
	_, err = h.orch.Continue(context.Background(), view.ID, []models.CredentialInput{{Username: "ops", Password: "pw"}})
	assert.ErrorIs(t, err, credentials.ErrSessionNotFound)
	assert.Zero(t, h.fake.Count(dispatch.ActionDeleteBackup))

	assert.ErrorIs(t, h.orch.Cancel(view.ID), credentials.ErrSessionNotFound)
}

func TestDeleteAuthMismatch(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "gw.example.com", "jump", "cached-pw")
	h.fake.Reply(dispatch.ActionDeleteBackup, nil)

	_, err := h.orch.DeleteBackup(context.Background(), DeleteBackupRequest{Infra: k8sInfra, Hops: twoHops, BackupName: "nightly"})
	view, ok := IsCredentialsRequired(err)
	require.True(t, ok)
	assert.Equal(t, "jump", view.Prefill[0].Username)

	_, err = h.orch.Continue(context.Background(), view.ID, []models.CredentialInput{
		{Username: "jump", Password: "typed-pw"},
		{Username: "ops", Password: "pw"},
	})
	var mismatch *AuthMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, 0, mismatch.HopIndex)
	assert.Equal(t, "gw.example.com", mismatch.Host)
	assert.Zero(t, h.fake.Count(dispatch.ActionDeleteBackup))

	// the abort leaves nothing behind
	_, found, err := h.store.Get(context.Background(), models.NewHopKey("10.0.0.5", 22))
	require.NoError(t, err)
	assert.False(t, found, "the uncached hop is not stored")
	cred, _, err := h.store.Get(context.Background(), models.NewHopKey("gw.example.com", 22))
	require.NoError(t, err)
	assert.Equal(t, "cached-pw", cred.Password)
	assert.Empty(t, h.orch.Sessions())
}

func TestContinueDispatchesTypedCredentials(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "gw.example.com", "jump", "cached-pw")
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, SummaryCanCreateBackup: true})
	h.fake.Reply(dispatch.ActionCreateBackup, map[string]any{"job_id": "b-7"})
	handler, _ := jobSequence(5, "b-7", models.JobCompleted)
	h.fake.Handle(dispatch.ActionBatchBackups, handler)

	_, err := h.orch.CreateBackup(context.Background(), BackupRequest{Infra: k8sInfra, Hops: twoHops, Namespace: "default", Storage: StorageRef{ExternalStorageID: 1}})
	view, ok := IsCredentialsRequired(err)
	require.True(t, ok)

	_, err = h.orch.Continue(context.Background(), view.ID, []models.CredentialInput{
		{Username: "jump2", Password: "typed-pw"},
		{Username: "ops", Password: "pw"},
	})
	require.NoError(t, err)

	cmd := h.fake.CallsFor(dispatch.ActionCreateBackup)[0].(dispatch.CreateKubernetesBackup)
	assert.Equal(t, "jump2", cmd.Hops[0].Username)
	assert.Equal(t, "typed-pw", cmd.Hops[0].Password)
	assert.Equal(t, "pw", cmd.Hops[1].Password)
	h.rec.outcome(t)

	cred, _, err := h.store.Get(context.Background(), models.NewHopKey("gw.example.com", 22))
	require.NoError(t, err)
	assert.Equal(t, "cached-pw", cred.Password, "insert only keeps the cached entry")
}

func TestBackupWithoutStorageIsRejected(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, SummaryCanCreateBackup: true})
	h.fake.Reply(dispatch.ActionCreateBackup, map[string]any{"job_id": "b-8"})

	for _, infra := range []models.Infrastructure{k8sInfra, dockerInfra} {
		_, err := h.orch.CreateBackup(context.Background(), BackupRequest{Infra: infra, Hops: oneHop, Namespace: "default"})
		assert.ErrorIs(t, err, ErrInvalidRequest, string(infra.Type))
	}
	assert.Empty(t, h.fake.Calls(), "nothing is dispatched, not even a mapping lookup")
	assert.Empty(t, h.orch.Sessions())
}

func TestDeleteWithOverwritePolicy(t *testing.T) {
	h := newHarness(t, credentials.Overwrite)
	h.cache(t, "gw.example.com", "jump", "cached-pw")
	h.fake.Reply(dispatch.ActionDeleteBackup, nil)

	_, err := h.orch.DeleteBackup(context.Background(), DeleteBackupRequest{Infra: k8sInfra, Hops: twoHops, BackupName: "nightly"})
	view, ok := IsCredentialsRequired(err)
	require.True(t, ok)

	res, err := h.orch.Continue(context.Background(), view.ID, []models.CredentialInput{
		{Username: "jump", Password: "typed-pw"},
		{Username: "ops", Password: "pw"},
	})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "nightly")

	cmd := h.fake.CallsFor(dispatch.ActionDeleteBackup)[0].(dispatch.DeleteBackup)
	assert.Equal(t, "typed-pw", cmd.Hops[0].Password)
}

func TestInstall(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.fake.Reply(dispatch.ActionListExternalStorages, []models.ExternalStorage{
		{ID: 1, Name: "minio", Type: models.StorageMinio, Endpoint: "minio.local:9000", Bucket: "backups", AccessKey: "ak", SecretKey: "sk"},
		{ID: 2, Name: "broken", Type: models.StorageS3},
	})
	h.fake.Reply(dispatch.ActionInstallVelero, map[string]any{"message": "installing"})

	var checks atomic.Int32
	h.fake.Handle(dispatch.ActionCheckInstallation, func(dispatch.Command) (any, error) {
		switch checks.Add(1) {
		case 1:
			return map[string]any{"engine": map[string]any{"installed": false}}, nil
		case 2:
			return map[string]any{"engine": map[string]any{"installed": false, "status": "installing"}}, nil
		}
		return map[string]any{
			"engine":           map[string]any{"installed": true},
			"external_storage": map[string]any{"connected": true},
		}, nil
	})

	_, err := h.orch.Install(context.Background(), InstallRequest{Infra: dockerInfra, StorageID: 1, Hops: oneHop})
	assert.True(t, IsPrecondition(err))

	_, err = h.orch.Install(context.Background(), InstallRequest{Infra: k8sInfra, StorageID: 2, Hops: oneHop})
	assert.True(t, IsPrecondition(err), "storage without endpoint and keys")
	assert.Zero(t, h.fake.Count(dispatch.ActionInstallVelero))

	res, err := h.orch.Install(context.Background(), InstallRequest{Infra: k8sInfra, StorageID: 1, Hops: oneHop})
	require.NoError(t, err)
	assert.Equal(t, models.PurposeInstall, res.Purpose)

	cmd := h.fake.CallsFor(dispatch.ActionInstallVelero)[0].(dispatch.InstallVelero)
	assert.Equal(t, "http://minio.local:9000", cmd.Endpoint)
	assert.Equal(t, "backups", cmd.Bucket)

	st := h.rec.installation(t)
	assert.Equal(t, models.EngineActive, st.EngineState)
	assert.True(t, st.CanCreateBackup())
	assert.Equal(t, models.EngineActive, h.orch.Status(5).EngineState)
}

func TestReinstallAfterError(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, InfraType: models.InfraKubernetes, EngineState: models.EngineError, LastError: "crashloop"})
	h.fake.Reply(dispatch.ActionListExternalStorages, []models.ExternalStorage{
		{ID: 1, Name: "minio", Type: models.StorageMinio, Endpoint: "minio.local:9000", Bucket: "backups", AccessKey: "ak", SecretKey: "sk"},
	})
	h.fake.Reply(dispatch.ActionInstallVelero, map[string]any{"message": "installing"})

	release := make(chan struct{})
	var checks atomic.Int32
	h.fake.Handle(dispatch.ActionCheckInstallation, func(dispatch.Command) (any, error) {
		switch checks.Add(1) {
		case 1:
			<-release
			return map[string]any{"engine": map[string]any{"installed": false, "status": "failed"}}, nil
		case 2:
			return map[string]any{"engine": map[string]any{"installed": false, "status": "failed"}}, nil
		case 3:
			return map[string]any{"engine": map[string]any{"installed": false, "status": "installing"}}, nil
		}
		return map[string]any{
			"engine":           map[string]any{"installed": true},
			"external_storage": map[string]any{"connected": true},
		}, nil
	})

	_, err := h.orch.Install(context.Background(), InstallRequest{Infra: k8sInfra, StorageID: 1, Hops: oneHop})
	require.NoError(t, err)
	assert.Equal(t, models.EngineInstalling, h.orch.Status(5).EngineState)

	_, err = h.orch.Install(context.Background(), InstallRequest{Infra: k8sInfra, StorageID: 1, Hops: oneHop})
	assert.True(t, IsPrecondition(err), "a second install waits for the first")
	close(release)

	st := h.rec.installation(t)
	assert.Equal(t, models.EngineActive, st.EngineState, "the stale failed state does not settle the install")
	assert.GreaterOrEqual(t, checks.Load(), int32(4))
	assert.Equal(t, 1, h.fake.Count(dispatch.ActionInstallVelero))
}

func TestInstallRejectedWhileInstalling(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, EngineState: models.EngineInstalling})

	_, err := h.orch.Install(context.Background(), InstallRequest{Infra: k8sInfra, StorageID: 1, Hops: oneHop})
	assert.True(t, IsPrecondition(err))
	_, err = h.orch.Uninstall(context.Background(), UninstallRequest{Infra: k8sInfra, Hops: oneHop})
	assert.True(t, IsPrecondition(err))
	assert.Empty(t, h.fake.Calls())
}

func TestUninstall(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.fake.Reply(dispatch.ActionUninstallVelero, nil)
	h.fake.Reply(dispatch.ActionCheckInstallation, map[string]any{"engine": map[string]any{"installed": false}})

	res, err := h.orch.Uninstall(context.Background(), UninstallRequest{Infra: k8sInfra, Hops: oneHop})
	require.NoError(t, err)
	require.NotNil(t, res.Status)
	assert.Equal(t, models.EngineNotInstalled, res.Status.EngineState)
	assert.Equal(t, models.EngineNotInstalled, h.rec.installation(t).EngineState)
}

func TestCheckInstallation(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.fake.Reply(dispatch.ActionBatchStorageMappings, map[int][]models.StorageMapping{9: {{InfraID: 9, ExternalStorageID: 1}}})

	res, err := h.orch.CheckInstallation(context.Background(), CheckRequest{Infra: dockerInfra})
	require.NoError(t, err)
	assert.True(t, res.Status.CanCreateBackup())

	_, err = h.orch.CheckInstallation(context.Background(), CheckRequest{Infra: k8sInfra})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	h.fake.Fail(dispatch.ActionCheckInstallation, "unreachable")
	h.cache(t, "10.0.0.5", "ops", "pw")
	_, err = h.orch.CheckInstallation(context.Background(), CheckRequest{Infra: k8sInfra, Hops: oneHop})
	require.Error(t, err)
	assert.True(t, dispatch.IsTransportError(err))
	assert.Equal(t, models.EngineError, h.orch.Status(5).EngineState)
}

func TestFetchNamespaces(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")

	for _, reply := range []any{
		[]string{"default", "shop"},
		map[string]any{"namespaces": []string{"default", "shop"}},
		map[string]any{"namespaces": []map[string]string{{"name": "default"}, {"name": "shop"}}},
	} {
		h.fake.Reply(dispatch.ActionFetchNamespaces, reply)
		res, err := h.orch.FetchNamespaces(context.Background(), NamespacesRequest{Infra: k8sInfra, Hops: oneHop})
		require.NoError(t, err)
		assert.Equal(t, []string{"default", "shop"}, res.Namespaces)
	}
}

func TestValidation(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)

	_, err := h.orch.CreateBackup(context.Background(), BackupRequest{Infra: k8sInfra})
	var verr *validation.Error
	assert.ErrorAs(t, err, &verr)

	_, err = h.orch.CreateBackup(context.Background(), BackupRequest{Infra: k8sInfra, Hops: oneHop, Storage: StorageRef{ExternalStorageID: 1}})
	assert.ErrorIs(t, err, ErrInvalidRequest, "kubernetes backups need a namespace")

	_, err = h.orch.CreateBackup(context.Background(), BackupRequest{Infra: models.Infrastructure{ID: 1, Type: "vmware"}, Hops: oneHop})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	assert.Empty(t, h.fake.Calls())
}

func TestWatchAndStopWatching(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	ctx := context.Background()

	job := models.NewJob(models.JobKindBackup, 5, "b-9", "weekly", "default")
	require.NoError(t, h.orch.ledger.SaveJob(ctx, job))

	h.fake.Handle(dispatch.ActionBatchBackups, func(dispatch.Command) (any, error) {
		return map[int][]dispatch.JobRecord{5: {{ID: "b-9", InfraID: 5, Status: models.JobInProgress}}}, nil
	})

	watched, err := h.orch.Watch(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, watched.ID)
	assert.True(t, h.orch.StopWatching(job.ID))
	assert.Eventually(t, func() bool { return len(h.orch.Watching()) == 0 }, 2*time.Second, 10*time.Millisecond)

	// stopping is not a settle
	select {
	case out := <-h.rec.jobs:
		t.Fatalf("unexpected settle after stop: %+v", out)
	case <-time.After(200 * time.Millisecond):
	}

	stored, err := h.orch.Job(ctx, job.ID)
	require.NoError(t, err)
	assert.False(t, stored.Status.IsTerminal())

	_, err = h.orch.Watch(ctx, "job:backup:5:missing")
	assert.ErrorIs(t, err, ErrUnknownJob)

	n, err := h.orch.ResumeWatching(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestPollGivesUpAfterFetchErrors(t *testing.T) {
	h := newHarness(t, credentials.InsertOnly)
	h.cache(t, "10.0.0.5", "ops", "pw")
	h.orch.Tracker().Set(models.InstallationStatus{InfraID: 5, SummaryCanCreateBackup: true})
	h.fake.Reply(dispatch.ActionCreateBackup, map[string]any{"job_id": "b-3"})
	h.fake.Handle(dispatch.ActionBatchBackups, func(dispatch.Command) (any, error) {
		return nil, errors.New("backend down")
	})

	_, err := h.orch.CreateBackup(context.Background(), BackupRequest{Infra: k8sInfra, Hops: oneHop, Namespace: "default", Storage: StorageRef{ExternalStorageID: 1}})
	require.NoError(t, err)

	out := h.rec.outcome(t)
	assert.Equal(t, poller.ReasonFailed, out.Reason)
	assert.False(t, out.Succeeded)
	assert.Error(t, out.Err)
	assert.Equal(t, poller.DefaultMaxConsecutiveErrors, h.fake.Count(dispatch.ActionBatchBackups))
}
