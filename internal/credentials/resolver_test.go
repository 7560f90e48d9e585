package credentials

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evalgo.org/kiwi/models"
)

func TestResolve(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	defer s.Close()
	require.NoError(t, s.Upsert(ctx, models.Credential{Host: "gw", Port: 22, Username: "ops", Password: "gw-pw"}))
	require.NoError(t, s.Upsert(ctx, models.Credential{Host: "target", Port: 2222, Username: "root", Password: "t-pw"}))

	r := NewResolver(s)

	t.Run("all filled", func(t *testing.T) {
		res, err := r.Resolve(ctx, []models.Hop{{Host: "GW"}, {Host: "target", Port: 2222}})
		require.NoError(t, err)
		assert.True(t, res.AllFilled)
		assert.Empty(t, res.Missing())
		assert.Equal(t, "ops", res.Hops[0].Username)
		assert.Equal(t, "gw-pw", res.Hops[0].Password)
		assert.Equal(t, "GW", res.Hops[0].Host, "host is kept as given")
		assert.Equal(t, "t-pw", res.Hops[1].Password)
	})

	t.Run("missing hop blanks credentials", func(t *testing.T) {
		hops := []models.Hop{
			{Host: "gw"},
			{Host: "unknown", Username: "hint", Password: "ignored"},
		}
		res, err := r.Resolve(ctx, hops)
		require.NoError(t, err)
		assert.False(t, res.AllFilled)
		assert.Equal(t, []int{1}, res.Missing())
		assert.Empty(t, res.Hops[1].Username)
		assert.Empty(t, res.Hops[1].Password)
		assert.Equal(t, "hint", res.Prefill[1].Username)
		assert.Empty(t, res.Prefill[1].Password)
	})

	t.Run("order and duplicates kept", func(t *testing.T) {
		hops := []models.Hop{{Host: "target", Port: 2222}, {Host: "gw"}, {Host: "target", Port: 2222}}
		res, err := r.Resolve(ctx, hops)
		require.NoError(t, err)
		require.Len(t, res.Hops, 3)
		assert.Equal(t, "root", res.Hops[0].Username)
		assert.Equal(t, "ops", res.Hops[1].Username)
		assert.Equal(t, "root", res.Hops[2].Username)
	})

	t.Run("empty chain is not filled", func(t *testing.T) {
		res, err := r.Resolve(ctx, nil)
		require.NoError(t, err)
		assert.False(t, res.AllFilled)
	})
}
