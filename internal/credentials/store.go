// Package credentials resolves SSH credentials for hop chains.
//
// A Store caches one credential per normalized (host, port). The Resolver
// fills hop chains from the store, and the Manager drives the manual-entry
// flow when the store cannot fill every hop:
//
//	Idle -> AwaitingCredentials(hops) -> Resolved(hops) | Cancelled
//
// A fully cached chain goes straight to Resolved without creating a session.
package credentials

import (
	"context"
	"fmt"

	"evalgo.org/kiwi/models"
)

// Store is the hop credential cache. Implementations are safe for concurrent
// use and last-write-wins.
type Store interface {
	// Get returns the credential for key and whether it exists.
	Get(ctx context.Context, key models.HopKey) (models.Credential, bool, error)

	// Upsert inserts or replaces the credential for its key.
	Upsert(ctx context.Context, cred models.Credential) error

	// Delete removes the credential for key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key models.HopKey) error

	// Keys lists all cached keys.
	Keys(ctx context.Context) ([]models.HopKey, error)
}

// UpsertPolicy decides which submitted credentials are written back to the store.
type UpsertPolicy string

const (
	// InsertOnly saves only (host, port) pairs not yet in the store. The first
	// credential entered for a hop stays authoritative until it is deleted.
	InsertOnly UpsertPolicy = "insert_only"

	// Overwrite saves every submitted credential, replacing cached ones.
	Overwrite UpsertPolicy = "overwrite"
)

// ParseUpsertPolicy converts a configuration value into a policy.
func ParseUpsertPolicy(s string) (UpsertPolicy, error) {
	switch UpsertPolicy(s) {
	case InsertOnly, "":
		return InsertOnly, nil
	case Overwrite:
		return Overwrite, nil
	}
	return "", fmt.Errorf("unknown upsert policy %q", s)
}

// Save writes submitted hops back to the store according to the policy.
// Hops without both username and password are never saved.
func (p UpsertPolicy) Save(ctx context.Context, store Store, hops []models.Hop) (int, error) {
	saved := 0
	for _, h := range hops {
		if !h.Complete() {
			continue
		}
		cred := models.CredentialFromHop(h)
		if p != Overwrite {
			_, exists, err := store.Get(ctx, cred.Key())
			if err != nil {
				return saved, fmt.Errorf("failed to look up %s: %w", cred.Key(), err)
			}
			if exists {
				continue
			}
		}
		if err := store.Upsert(ctx, cred); err != nil {
			return saved, fmt.Errorf("failed to save %s: %w", cred.Key(), err)
		}
		saved++
	}
	return saved, nil
}
