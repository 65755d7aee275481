package service

import (
	"context"
	"fmt"

	"github.com/vanshika/flashback/internal/domain"
	"github.com/vanshika/flashback/internal/store"
)

// ResourceService implements the list/create/get/delete operations shared by
// every entity, plus the user verification toggle.
type ResourceService struct {
	store store.Store
}

// NewResourceService constructs a ResourceService over the shared store handle.
func NewResourceService(st store.Store) *ResourceService {
	return &ResourceService{store: st}
}

// List returns the records selected by the entity's filter precedence table.
// Result order is store-native.
func (s *ResourceService) List(ctx context.Context, entity domain.Entity, params func(string) string) ([]store.Record, error) {
	records, err := s.store.Find(ctx, entity.Collection, entity.Filters.Build(params))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", entity.Collection, err)
	}
	if records == nil {
		records = []store.Record{}
	}
	return records, nil
}

// Create validates the payload against the entity schema and stores it.
// The returned record carries the store-assigned identifier.
func (s *ResourceService) Create(ctx context.Context, entity domain.Entity, payload map[string]any) (store.Record, error) {
	record, err := entity.Schema.Validate(payload)
	if err != nil {
		return nil, err
	}

	res, err := s.store.Create(ctx, entity.Collection, record)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", entity.Name, err)
	}

	created := record.Clone()
	created[store.IDField] = res.InsertedID
	return created, nil
}

// Get fetches one record by identifier.
func (s *ResourceService) Get(ctx context.Context, entity domain.Entity, id string) (store.Record, error) {
	record, err := s.store.FindOne(ctx, entity.Collection, id)
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", entity.Name, id, err)
	}
	return record, nil
}

// Delete removes the record with the given identifier. Deleting an absent
// record is not an error; the result simply carries a zero count.
func (s *ResourceService) Delete(ctx context.Context, entity domain.Entity, id string) (store.DeleteResult, error) {
	filter, err := store.IDFilter(id)
	if err != nil {
		return store.DeleteResult{}, err
	}
	res, err := s.store.DeleteOne(ctx, entity.Collection, filter)
	if err != nil {
		return store.DeleteResult{}, fmt.Errorf("delete %s %s: %w", entity.Name, id, err)
	}
	return res, nil
}

// VerifyUser sets verified=true on the user selected by email. Repeating the
// call leaves the same state; the second modified count is zero.
func (s *ResourceService) VerifyUser(ctx context.Context, params func(string) string) (store.UpdateResult, error) {
	filter := domain.UserVerification.Build(params)
	if len(filter) == 0 {
		return store.UpdateResult{}, fmt.Errorf("%w: email is required", domain.ErrMalformedPayload)
	}

	res, err := s.store.UpdateOne(ctx, domain.CollectionUsers, filter, store.Record{"verified": true})
	if err != nil {
		return store.UpdateResult{}, fmt.Errorf("verify user: %w", err)
	}
	return res, nil
}
