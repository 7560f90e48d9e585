package installation

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/models"
)

// MappingLister is the part of the storage mapping registry the tracker needs.
type MappingLister interface {
	ListForInfra(ctx context.Context, infraID int) ([]models.StorageMapping, error)
}

// Tracker caches the installation status per infrastructure. Statuses only
// change when a fetch resolves.
type Tracker struct {
	client   dispatch.Client
	mappings MappingLister
	group    singleflight.Group
	now      func() time.Time

	mu       sync.RWMutex
	statuses map[int]models.InstallationStatus
	onChange func(models.InstallationStatus)
}

// NewTracker creates a tracker that asks client for Kubernetes status and
// mappings for container-runtime status.
func NewTracker(client dispatch.Client, mappings MappingLister) *Tracker {
	return &Tracker{
		client:   client,
		mappings: mappings,
		now:      func() time.Time { return time.Now().UTC() },
		statuses: make(map[int]models.InstallationStatus),
	}
}

// OnChange registers a callback invoked after every stored status.
func (t *Tracker) OnChange(fn func(models.InstallationStatus)) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

// Refresh fetches the current status of infra and stores it. Concurrent
// refreshes of the same infrastructure share one fetch. On error the stored
// status is the fail-closed error state and the error is returned.
func (t *Tracker) Refresh(ctx context.Context, infra models.Infrastructure, hops []models.Hop) (models.InstallationStatus, error) {
	v, err, shared := t.group.Do(strconv.Itoa(infra.ID), func() (any, error) {
		st, err := t.fetch(ctx, infra, hops)
		if err != nil {
			logging.Warnf("installation check for infra %d failed: %v", infra.ID, err)
			st = failed(infra, err, t.now())
		}
		t.store(st)
		return st, err
	})
	if shared {
		logging.Debugf("installation check for infra %d coalesced", infra.ID)
	}
	return v.(models.InstallationStatus), err
}

func (t *Tracker) fetch(ctx context.Context, infra models.Infrastructure, hops []models.Hop) (models.InstallationStatus, error) {
	switch infra.Type.Class() {
	case models.ClassKubernetes:
		resp, err := t.client.Dispatch(ctx, dispatch.CheckInstallation{
			InfraID:   infra.ID,
			InfraType: infra.Type,
			Hops:      hops,
		})
		if err != nil {
			return models.InstallationStatus{}, err
		}
		payload, err := dispatch.Decode[Payload](resp)
		if err != nil {
			return models.InstallationStatus{}, err
		}
		return FromPayload(infra, payload, t.now()), nil

	case models.ClassContainerRuntime:
		if t.mappings == nil {
			return models.InstallationStatus{}, errors.New("no storage mapping registry configured")
		}
		mappings, err := t.mappings.ListForInfra(ctx, infra.ID)
		if err != nil {
			return models.InstallationStatus{}, err
		}
		return FromMappings(infra, mappings, t.now()), nil
	}
	return models.InstallationStatus{}, fmt.Errorf("unsupported infrastructure type %q", infra.Type)
}

// Set stores a status computed elsewhere.
func (t *Tracker) Set(st models.InstallationStatus) {
	t.store(st)
}

func (t *Tracker) store(st models.InstallationStatus) {
	t.mu.Lock()
	t.statuses[st.InfraID] = st
	fn := t.onChange
	t.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

// Status returns the cached status, or the unknown status when the
// infrastructure was never fetched.
func (t *Tracker) Status(infraID int) models.InstallationStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if st, ok := t.statuses[infraID]; ok {
		return st
	}
	return models.UnknownStatus(infraID)
}

// All returns every cached status ordered by infrastructure id.
func (t *Tracker) All() []models.InstallationStatus {
	t.mu.RLock()
	out := make([]models.InstallationStatus, 0, len(t.statuses))
	for _, st := range t.statuses {
		out = append(out, st)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].InfraID < out[j].InfraID })
	return out
}

// Forget drops the cached status of an infrastructure.
func (t *Tracker) Forget(infraID int) {
	t.mu.Lock()
	delete(t.statuses, infraID)
	t.mu.Unlock()
}
