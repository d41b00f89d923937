package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
)

// RecordRepository stores the free-form tenant collections (clients, drivers,
// vehicles, addresses, origins, destinations, pix keys).
type RecordRepository struct {
	store  store.RecordStore
	logger *slog.Logger
}

// NewRecordRepository creates a new record repository
func NewRecordRepository(s store.RecordStore, logger *slog.Logger) *RecordRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordRepository{store: s, logger: logger}
}

func recordPath(scope store.Scope, collection, id string) (store.Path, error) {
	if !domain.IsRecordCollection(collection) {
		return store.Path{}, fmt.Errorf("%w: collection %q", domain.ErrNotFound, collection)
	}
	return scope.Collection(collection).Doc(id), nil
}

// Create stores a new record
func (r *RecordRepository) Create(ctx context.Context, scope store.Scope, rec *domain.Record) error {
	p, err := recordPath(scope, rec.Collection, rec.ID)
	if err != nil {
		return err
	}
	if err := r.store.Create(ctx, p, rec, nil); err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// Get retrieves a record
func (r *RecordRepository) Get(ctx context.Context, scope store.Scope, collection, id string) (*domain.Record, error) {
	p, err := recordPath(scope, collection, id)
	if err != nil {
		return nil, err
	}
	var rec domain.Record
	if err := r.store.Get(ctx, p, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Update replaces an existing record
func (r *RecordRepository) Update(ctx context.Context, scope store.Scope, rec *domain.Record) error {
	p, err := recordPath(scope, rec.Collection, rec.ID)
	if err != nil {
		return err
	}
	return r.store.Put(ctx, p, rec)
}

// Delete removes a record
func (r *RecordRepository) Delete(ctx context.Context, scope store.Scope, collection, id string) error {
	p, err := recordPath(scope, collection, id)
	if err != nil {
		return err
	}
	if err := r.store.Delete(ctx, p); err != nil {
		return err
	}
	r.logger.Debug("record deleted", slog.String("collection", collection), slog.String("record_id", id))
	return nil
}

// List returns all records of a collection, oldest first
func (r *RecordRepository) List(ctx context.Context, scope store.Scope, collection string) ([]*domain.Record, error) {
	if !domain.IsRecordCollection(collection) {
		return nil, fmt.Errorf("%w: collection %q", domain.ErrNotFound, collection)
	}
	out := []*domain.Record{}
	err := r.store.List(ctx, scope.Collection(collection), func(id string, raw []byte) error {
		var rec domain.Record
		if err := json.Unmarshal(raw, &rec); err != nil {
			r.logger.Error("failed to unmarshal record", slog.String("record_id", id), slog.String("error", err.Error()))
			return nil
		}
		out = append(out, &rec)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list records: %w", err)
	}
	return out, nil
}

// Owner returns the tenant owning collection/id
func (r *RecordRepository) Owner(ctx context.Context, collection, id string) (string, error) {
	return r.store.Owner(ctx, collection, id)
}
