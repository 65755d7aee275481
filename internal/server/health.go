package server

import (
	"context"

	"github.com/vanshika/flashback/internal/store"
)

// HealthService defines behaviour for readiness checks.
type HealthService interface {
	Check(ctx context.Context) error
}

// StoreHealthService verifies store connectivity as part of health checks.
type StoreHealthService struct {
	Store store.Store
}

// Check implements the HealthService interface.
func (s StoreHealthService) Check(ctx context.Context) error {
	if s.Store == nil {
		return nil
	}
	return s.Store.Ping(ctx)
}
