package orchestration

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/internal/mappings"
	"evalgo.org/kiwi/internal/poller"
	"evalgo.org/kiwi/models"
)

func installKey(infraID int) string {
	return "install:" + strconv.Itoa(infraID)
}

func (o *Orchestrator) requireKubernetes(op string, infra models.Infrastructure) error {
	if infra.Type.Class() != models.ClassKubernetes {
		return &PreconditionError{Op: op, InfraID: infra.ID, Reason: "only kubernetes infrastructure runs a backup engine"}
	}
	return nil
}

func (o *Orchestrator) installing(infraID int) bool {
	if _, ok := o.polls.Get(installKey(infraID)); ok {
		return true
	}
	return o.tracker.Status(infraID).EngineState == models.EngineInstalling
}

// Install installs the backup engine wired to an external storage, then
// polls the installation until it is active or failed.
func (o *Orchestrator) Install(ctx context.Context, req InstallRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}
	if err := o.requireKubernetes("install", req.Infra); err != nil {
		return nil, err
	}
	if o.installing(req.Infra.ID) {
		return nil, &PreconditionError{Op: "install", InfraID: req.Infra.ID, Reason: "an installation is already in progress"}
	}

	return o.authorize(ctx, models.PurposeInstall, req.Hops, func(ctx context.Context, hops []models.Hop) (*Result, error) {
		// Ask the backend when this infra was never looked at
		st := o.tracker.Status(req.Infra.ID)
		if st.EngineState == models.EngineUnknown {
			var err error
			if st, err = o.tracker.Refresh(ctx, req.Infra, hops); err != nil {
				return nil, err
			}
		}
		if st.EngineState == models.EngineInstalling {
			return nil, &PreconditionError{Op: "install", InfraID: req.Infra.ID, Reason: "an installation is already in progress"}
		}

		target, err := o.registry.ExternalStorage(ctx, req.StorageID)
		if err != nil {
			if errors.Is(err, mappings.ErrStorageNotFound) {
				return nil, &PreconditionError{Op: "install", InfraID: req.Infra.ID, Reason: err.Error()}
			}
			return nil, err
		}
		if !target.Usable() {
			return nil, &PreconditionError{
				Op:      "install",
				InfraID: req.Infra.ID,
				Reason:  fmt.Sprintf("external storage %d lacks endpoint, bucket or keys", target.ID),
			}
		}

		// storage keys travel inline with the command
		_, err = o.client.Dispatch(ctx, dispatch.InstallVelero{
			InfraID:           req.Infra.ID,
			Hops:              hops,
			ExternalStorageID: target.ID,
			StorageType:       target.Type,
			Endpoint:          target.NormalizedEndpoint(),
			Bucket:            target.Bucket,
			Region:            target.Region,
			AccessKey:         target.AccessKey,
			SecretKey:         target.SecretKey,
			UseSSL:            target.UseSSL,
		})
		if err != nil {
			return nil, err
		}

		logging.Infof("engine installation started on infra %d with storage %d", req.Infra.ID, target.ID)
		o.watchInstall(req.Infra, hops, st.EngineState)
		return &Result{Purpose: models.PurposeInstall, Message: "installation started"}, nil
	})
}

// watchInstall polls the installation status until it settles. The backend
// may still report the state from before the dispatch, so a settled state
// equal to before is shown as installing until the engine is seen to move.
func (o *Orchestrator) watchInstall(infra models.Infrastructure, hops []models.Hop, before models.EngineState) {
	// Closes the backup gate until the watcher settles
	st := o.tracker.Status(infra.ID)
	st.EngineState = models.EngineInstalling
	o.tracker.Set(st)

	moved := false
	poller.Start(o.polls, installKey(infra.ID), poller.Spec[models.InstallationStatus]{
		Kind:                 "install",
		Interval:             o.polling.InstallInterval,
		Timeout:              o.polling.InstallTimeout,
		MaxConsecutiveErrors: o.polling.MaxFetchErrors,
		Fetch: func(ctx context.Context) (models.InstallationStatus, error) {
			st, err := o.tracker.Refresh(ctx, infra, hops)
			if err != nil {
				return st, err
			}
			if st.EngineState != before {
				moved = true
			}
			if !moved && st.EngineState.Settled() {
				// stale answer from the previous install
				st.EngineState = models.EngineInstalling
				o.tracker.Set(st)
			}
			return st, nil
		},
		Terminal: func(st models.InstallationStatus) bool {
			return st.EngineState.Settled()
		},
		OnDone: func(r poller.Result[models.InstallationStatus]) {
			switch r.Reason {
			case poller.ReasonStopped:
				return
			case poller.ReasonTimeout, poller.ReasonFailed:
				// fail closed
				st := o.tracker.Status(infra.ID)
				st.EngineState = models.EngineError
				st.LastError = r.Err.Error()
				o.tracker.Set(st)
				logging.Errorf("engine installation on infra %d did not settle: %v", infra.ID, r.Err)
			default:
				logging.Infof("engine installation on infra %d settled: %s", infra.ID, r.Last.EngineState)
			}
			o.notifier.InstallationSettled(o.tracker.Status(infra.ID))
		},
	})
}

// InstallMinio deploys an object store inside a cluster.
func (o *Orchestrator) InstallMinio(ctx context.Context, req MinioInstallRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}
	if err := o.requireKubernetes("install-minio", req.Infra); err != nil {
		return nil, err
	}

	return o.authorize(ctx, models.PurposeInstall, req.Hops, func(ctx context.Context, hops []models.Hop) (*Result, error) {
		if _, err := o.client.Dispatch(ctx, dispatch.InstallMinio{
			InfraID:   req.Infra.ID,
			Hops:      hops,
			Bucket:    req.Bucket,
			AccessKey: req.AccessKey,
			SecretKey: req.SecretKey,
			Namespace: req.Namespace,
		}); err != nil {
			return nil, err
		}
		logging.Infof("object store installation started on infra %d", req.Infra.ID)
		return &Result{Purpose: models.PurposeInstall, Message: "object store installation started"}, nil
	})
}

// Uninstall removes the backup engine and refreshes the installation status.
func (o *Orchestrator) Uninstall(ctx context.Context, req UninstallRequest) (*Result, error) {
	if err := o.check(&req, req.Infra); err != nil {
		return nil, err
	}
	if err := o.requireKubernetes("uninstall", req.Infra); err != nil {
		return nil, err
	}
	if o.installing(req.Infra.ID) {
		return nil, &PreconditionError{Op: "uninstall", InfraID: req.Infra.ID, Reason: "an installation is in progress"}
	}

	return o.authorize(ctx, models.PurposeUninstall, req.Hops, func(ctx context.Context, hops []models.Hop) (*Result, error) {
		if _, err := o.client.Dispatch(ctx, dispatch.UninstallVelero{InfraID: req.Infra.ID, Hops: hops}); err != nil {
			return nil, err
		}
		logging.Infof("engine uninstalled from infra %d", req.Infra.ID)

		st, err := o.tracker.Refresh(ctx, req.Infra, hops)
		if err != nil {
			logging.Warnf("status refresh after uninstall of infra %d failed: %v", req.Infra.ID, err)
		}
		o.notifier.InstallationSettled(st)
		return &Result{Purpose: models.PurposeUninstall, Status: &st, Message: "backup engine uninstalled"}, nil
	})
}
