package credentials

import (
	"context"
	"fmt"

	"evalgo.org/kiwi/models"
)

// Resolution is the result of filling a hop chain from the store.
type Resolution struct {
	// AllFilled is true iff every hop has a non-empty username and password.
	AllFilled bool

	// Hops is the input chain, same order and length, with cached credentials
	// applied. Hops without a cache entry carry empty credentials.
	Hops []models.Hop

	// Prefill holds one row per hop with whatever partial data is known, used
	// as the initial value of a manual-entry step.
	Prefill []models.CredentialInput
}

// Missing returns the indexes of hops that still lack credentials.
func (r Resolution) Missing() []int {
	var idx []int
	for i, h := range r.Hops {
		if !h.Complete() {
			idx = append(idx, i)
		}
	}
	return idx
}

// Resolver fills hop chains from a Store. It never touches the network.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver over store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve looks up every hop by normalized (host, port). Order and length
// of the chain are preserved and duplicates are kept.
func (r *Resolver) Resolve(ctx context.Context, hops []models.Hop) (Resolution, error) {
	res := Resolution{
		AllFilled: len(hops) > 0,
		Hops:      make([]models.Hop, len(hops)),
		Prefill:   make([]models.CredentialInput, len(hops)),
	}

	for i, h := range hops {
		cred, found, err := r.store.Get(ctx, h.Key())
		if err != nil {
			return Resolution{}, fmt.Errorf("credential lookup for hop %d (%s): %w", i, h.Key(), err)
		}

		out := models.Hop{Host: h.Host, Port: h.Port}
		if found {
			out.Username = cred.Username
			out.Password = cred.Password
		}
		res.Hops[i] = out

		prefill := models.CredentialInput{Username: out.Username, Password: out.Password}
		if prefill.Username == "" {
			// a username carried by the caller is a useful hint, never a credential
			prefill.Username = h.Username
		}
		res.Prefill[i] = prefill

		if !out.Complete() {
			res.AllFilled = false
		}
	}

	return res, nil
}
