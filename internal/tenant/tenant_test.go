package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	created, err := svc.Create(ctx, "t_acme", "Acme Corp")
	require.NoError(t, err)
	assert.Equal(t, StatusActive, created.Status)

	got, err := svc.Get(ctx, "t_acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", got.Name)

	_, err = svc.Create(ctx, "t_acme", "Duplicate")
	assert.ErrorIs(t, err, ErrTenantExists)
}

func TestService_EnsureActive(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore())

	// Unknown tenants pass: accounts are provisioned lazily.
	assert.NoError(t, svc.EnsureActive(ctx, "t_never_seen"))

	_, err := svc.Create(ctx, "t_acme", "Acme Corp")
	require.NoError(t, err)
	assert.NoError(t, svc.EnsureActive(ctx, "t_acme"))

	require.NoError(t, svc.Suspend(ctx, "t_acme"))
	assert.ErrorIs(t, svc.EnsureActive(ctx, "t_acme"), ErrTenantSuspended)

	require.NoError(t, svc.Activate(ctx, "t_acme"))
	assert.NoError(t, svc.EnsureActive(ctx, "t_acme"))
}

func TestMemoryStore_SetStatusNotFound(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.SetStatus(ctx, "nonexistent", StatusSuspended)
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryStore_List(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	svc := NewService(store)

	_, err := svc.Create(ctx, "t_b", "Bravo")
	require.NoError(t, err)
	_, err = svc.Create(ctx, "t_a", "Alpha")
	require.NoError(t, err)

	tenants, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, tenants, 2)
	assert.Equal(t, "t_a", tenants[0].ID)
	assert.Equal(t, "t_b", tenants[1].ID)
}
