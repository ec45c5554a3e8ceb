package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openxui/panelsync/internal/xui"
)

func TestBouquetsLoadsOnceUntilInvalidated(t *testing.T) {
	c := New(time.Minute)
	calls := 0
	load := func(context.Context) ([]xui.Bouquet, error) {
		calls++
		return []xui.Bouquet{{ID: 1, Name: "Filmes"}}, nil
	}

	bouquets, err := c.Bouquets(context.Background(), 42, load)
	require.NoError(t, err)
	require.Len(t, bouquets, 1)
	assert.Equal(t, "Filmes", bouquets[0].Name)

	_, err = c.Bouquets(context.Background(), 42, load)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	c.Invalidate(42)

	_, err = c.Bouquets(context.Background(), 42, load)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestTenantsAreIsolated(t *testing.T) {
	c := New(time.Minute)

	_, err := c.Categories(context.Background(), 1, func(context.Context) ([]xui.PanelCategory, error) {
		return []xui.PanelCategory{{ID: 10, Name: "Action", Type: "movie"}}, nil
	})
	require.NoError(t, err)

	categories, err := c.Categories(context.Background(), 2, func(context.Context) ([]xui.PanelCategory, error) {
		return []xui.PanelCategory{{ID: 20, Name: "Drama", Type: "series"}}, nil
	})
	require.NoError(t, err)
	require.Len(t, categories, 1)
	assert.Equal(t, int64(20), categories[0].ID)
}

func TestLoadErrorIsNotCached(t *testing.T) {
	c := New(time.Minute)
	calls := 0

	load := func(context.Context) ([]xui.Bouquet, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("panel unreachable")
		}
		return []xui.Bouquet{{ID: 1, Name: "Series"}}, nil
	}

	_, err := c.Bouquets(context.Background(), 7, load)
	require.Error(t, err)

	bouquets, err := c.Bouquets(context.Background(), 7, load)
	require.NoError(t, err)
	assert.Len(t, bouquets, 1)
	assert.Equal(t, 2, calls)
}
