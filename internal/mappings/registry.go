// Package mappings manages the links between infrastructures and external
// storages. Container-runtime backups need at least one link to proceed.
package mappings

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"evalgo.org/kiwi/internal/dispatch"
	"evalgo.org/kiwi/internal/logging"
	"evalgo.org/kiwi/models"
)

// ErrStorageNotFound is returned when an external storage id is unknown.
var ErrStorageNotFound = errors.New("external storage not found")

// LinkOptions are the optional attributes of a new mapping.
type LinkOptions struct {
	BSLName   *string
	IsDefault bool
}

// Registry reads and writes storage mappings through the action dispatcher.
type Registry struct {
	client dispatch.Client
}

// NewRegistry creates a registry over client.
func NewRegistry(client dispatch.Client) *Registry {
	return &Registry{client: client}
}

// Link maps infraID to storageID. Linking an existing pair returns the
// existing mapping without dispatching.
func (r *Registry) Link(ctx context.Context, infraID, storageID int, opts LinkOptions) (models.StorageMapping, error) {
	existing, err := r.ListForInfra(ctx, infraID)
	if err != nil {
		return models.StorageMapping{}, err
	}
	for _, m := range existing {
		if m.ExternalStorageID == storageID {
			logging.Debugf("mapping infra %d -> storage %d already exists", infraID, storageID)
			return m, nil
		}
	}

	resp, err := r.client.Dispatch(ctx, dispatch.LinkInfraToExternalStorage{
		InfraID:           infraID,
		ExternalStorageID: storageID,
		BSLName:           opts.BSLName,
		IsDefault:         opts.IsDefault,
	})
	if err != nil {
		return models.StorageMapping{}, err
	}

	m, err := dispatch.Decode[models.StorageMapping](resp)
	if err != nil {
		return models.StorageMapping{}, err
	}
	if m.InfraID == 0 {
		// some backends answer with a bare message
		m = models.StorageMapping{
			InfraID:           infraID,
			ExternalStorageID: storageID,
			BSLName:           opts.BSLName,
			IsDefault:         opts.IsDefault,
		}
	}

	logging.Infof("linked infra %d to external storage %d", infraID, storageID)
	return m, nil
}

// Unlink removes the mapping between infraID and storageID.
func (r *Registry) Unlink(ctx context.Context, infraID, storageID int) error {
	if _, err := r.client.Dispatch(ctx, dispatch.UnlinkInfraFromExternalStorage{
		InfraID:           infraID,
		ExternalStorageID: storageID,
	}); err != nil {
		return err
	}
	logging.Infof("unlinked infra %d from external storage %d", infraID, storageID)
	return nil
}

// ListForInfra returns the mappings of one infrastructure.
func (r *Registry) ListForInfra(ctx context.Context, infraID int) ([]models.StorageMapping, error) {
	batch, err := r.BatchListForInfras(ctx, []int{infraID})
	if err != nil {
		return nil, err
	}
	return batch[infraID], nil
}

// BatchListForInfras fetches the mappings of many infrastructures with one
// dispatch. Every requested id is present in the result.
func (r *Registry) BatchListForInfras(ctx context.Context, infraIDs []int) (map[int][]models.StorageMapping, error) {
	ids := dedupe(infraIDs)
	out := make(map[int][]models.StorageMapping, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	resp, err := r.client.Dispatch(ctx, dispatch.GetBatchInfraStorageMappings{InfraIDs: ids})
	if err != nil {
		return nil, err
	}
	batch, err := dispatch.Decode[dispatch.BatchMappings](resp)
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		ms := batch[id]
		if ms == nil {
			ms = []models.StorageMapping{}
		}
		out[id] = ms
	}
	return out, nil
}

// Connected reports whether infraID has at least one mapping.
func (r *Registry) Connected(ctx context.Context, infraID int) (bool, error) {
	ms, err := r.ListForInfra(ctx, infraID)
	if err != nil {
		return false, err
	}
	return len(ms) > 0, nil
}

// Disconnected returns, in ascending order, the ids without any mapping.
func (r *Registry) Disconnected(ctx context.Context, infraIDs []int) ([]int, error) {
	batch, err := r.BatchListForInfras(ctx, infraIDs)
	if err != nil {
		return nil, err
	}
	var out []int
	for id, ms := range batch {
		if len(ms) == 0 {
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out, nil
}

// ListExternalStorages returns every configured external storage.
func (r *Registry) ListExternalStorages(ctx context.Context) ([]models.ExternalStorage, error) {
	resp, err := r.client.Dispatch(ctx, dispatch.ListExternalStorages{})
	if err != nil {
		return nil, err
	}
	return dispatch.Decode[[]models.ExternalStorage](resp)
}

// ExternalStorage resolves a storage id to its record.
func (r *Registry) ExternalStorage(ctx context.Context, id int) (models.ExternalStorage, error) {
	all, err := r.ListExternalStorages(ctx)
	if err != nil {
		return models.ExternalStorage{}, err
	}
	for _, s := range all {
		if s.ID == id {
			return s, nil
		}
	}
	return models.ExternalStorage{}, fmt.Errorf("%w: %d", ErrStorageNotFound, id)
}

func dedupe(ids []int) []int {
	seen := make(map[int]bool, len(ids))
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
