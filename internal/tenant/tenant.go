// Package tenant tracks the organizations that hold credit accounts.
package tenant

import (
	"context"
	"errors"
	"time"
)

var (
	ErrTenantNotFound  = errors.New("tenant not found")
	ErrTenantExists    = errors.New("tenant already exists")
	ErrTenantSuspended = errors.New("tenant is suspended")
)

// Status of a tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
)

// Tenant is an organization using the platform.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists tenants.
type Store interface {
	Create(ctx context.Context, t *Tenant) error
	Get(ctx context.Context, id string) (*Tenant, error)
	SetStatus(ctx context.Context, id string, status Status) error
	List(ctx context.Context) ([]*Tenant, error)
}

// Service manages tenant records.
type Service struct {
	store Store
}

// NewService creates a tenant service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create registers a new tenant in active status.
func (s *Service) Create(ctx context.Context, id, name string) (*Tenant, error) {
	now := time.Now().UTC()
	t := &Tenant{
		ID:        id,
		Name:      name,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a tenant by id.
func (s *Service) Get(ctx context.Context, id string) (*Tenant, error) {
	return s.store.Get(ctx, id)
}

// EnsureActive returns ErrTenantSuspended when the tenant exists and is
// suspended. Unknown tenants pass: accounts are provisioned lazily on the
// first ledger write, so a missing record is not an error.
func (s *Service) EnsureActive(ctx context.Context, id string) error {
	t, err := s.store.Get(ctx, id)
	if errors.Is(err, ErrTenantNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if t.Status == StatusSuspended {
		return ErrTenantSuspended
	}
	return nil
}

// Suspend blocks the tenant from starting new checkouts.
func (s *Service) Suspend(ctx context.Context, id string) error {
	return s.store.SetStatus(ctx, id, StatusSuspended)
}

// Activate re-enables a suspended tenant.
func (s *Service) Activate(ctx context.Context, id string) error {
	return s.store.SetStatus(ctx, id, StatusActive)
}

// List returns all tenants.
func (s *Service) List(ctx context.Context) ([]*Tenant, error) {
	return s.store.List(ctx)
}
