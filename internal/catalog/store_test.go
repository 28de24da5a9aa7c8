package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "examtrack/pkg/domain"
	"examtrack/pkg/platform/sentinel"
)

func TestInMemory_List(t *testing.T) {
	ctx := context.Background()

	t.Run("returns active plans cheapest first", func(t *testing.T) {
		store := NewInMemory(
			Plan{ID: id.NewPlanID(), Name: "Premium", PriceCents: 800_000, Active: true},
			Plan{ID: id.NewPlanID(), Name: "Starter", PriceCents: 250_000, Active: true},
			Plan{ID: id.NewPlanID(), Name: "Legacy", PriceCents: 100_000, Active: false},
		)

		plans, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 2)
		assert.Equal(t, "Starter", plans[0].Name)
		assert.Equal(t, "Premium", plans[1].Name)
	})

	t.Run("default catalog has three active tiers", func(t *testing.T) {
		plans, err := NewInMemory(DefaultPlans()...).List(ctx)
		require.NoError(t, err)
		require.Len(t, plans, 3)
		for _, plan := range plans {
			assert.NotEmpty(t, plan.Name)
			assert.Positive(t, plan.PriceCents)
			assert.Equal(t, "GNF", plan.Currency)
		}
	})
}

func TestInMemory_FindByID(t *testing.T) {
	ctx := context.Background()

	plan := Plan{ID: id.NewPlanID(), Name: "Standard", PriceCents: 450_000, Active: true}
	retired := Plan{ID: id.NewPlanID(), Name: "Legacy", PriceCents: 100_000, Active: false}
	store := NewInMemory(plan, retired)

	t.Run("resolves an active plan", func(t *testing.T) {
		found, err := store.FindByID(ctx, plan.ID)
		require.NoError(t, err)
		assert.Equal(t, plan, found)
	})

	t.Run("still resolves a retired plan", func(t *testing.T) {
		found, err := store.FindByID(ctx, retired.ID)
		require.NoError(t, err)
		assert.Equal(t, retired, found)
	})

	t.Run("returns ErrNotFound for an unknown plan", func(t *testing.T) {
		_, err := store.FindByID(ctx, id.NewPlanID())
		require.ErrorIs(t, err, sentinel.ErrNotFound)
	})
}
