package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/fleetdesk/internal/domain"
	"github.com/aryan0dhankhar/fleetdesk/internal/security"
	"github.com/aryan0dhankhar/fleetdesk/internal/store"
	"github.com/google/uuid"
)

// RecordRepository is the persistence for the free-form tenant collections.
type RecordRepository interface {
	Create(ctx context.Context, scope store.Scope, rec *domain.Record) error
	Get(ctx context.Context, scope store.Scope, collection, id string) (*domain.Record, error)
	Update(ctx context.Context, scope store.Scope, rec *domain.Record) error
	Delete(ctx context.Context, scope store.Scope, collection, id string) error
	List(ctx context.Context, scope store.Scope, collection string) ([]*domain.Record, error)
	Owner(ctx context.Context, collection, id string) (string, error)
}

// RecordService manages clients, drivers, vehicles, addresses, origins,
// destinations and pix keys of a tenant.
type RecordService struct {
	records   RecordRepository
	ownership *security.OwnershipChecker
	logger    *slog.Logger
	now       func() time.Time
}

func NewRecordService(records RecordRepository, logger *slog.Logger) *RecordService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordService{
		records:   records,
		ownership: security.NewOwnershipChecker(records.Owner, logger),
		logger:    logger,
		now:       time.Now,
	}
}

func validPayload(data json.RawMessage) error {
	if len(data) == 0 || !json.Valid(data) {
		return fmt.Errorf("%w: data must be a JSON document", domain.ErrInvalidClaims)
	}
	return nil
}

func (s *RecordService) Create(ctx context.Context, scope store.Scope, by, collection string, data json.RawMessage) (*domain.Record, error) {
	if !domain.IsRecordCollection(collection) {
		return nil, fmt.Errorf("%w: collection %q", domain.ErrNotFound, collection)
	}
	if err := validPayload(data); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rec := &domain.Record{
		ID:         uuid.NewString(),
		Collection: collection,
		Data:       data,
		CreatedBy:  by,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.records.Create(ctx, scope, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RecordService) Get(ctx context.Context, scope store.Scope, collection, id string) (*domain.Record, error) {
	if err := s.ownership.Check(ctx, scope.TenantID(), collection, id); err != nil {
		return nil, err
	}
	return s.records.Get(ctx, scope, collection, id)
}

func (s *RecordService) List(ctx context.Context, scope store.Scope, collection string) ([]*domain.Record, error) {
	return s.records.List(ctx, scope, collection)
}

// Update replaces the data of an existing record.
func (s *RecordService) Update(ctx context.Context, scope store.Scope, collection, id string, data json.RawMessage) (*domain.Record, error) {
	if err := validPayload(data); err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, scope, collection, id)
	if err != nil {
		return nil, err
	}
	rec.Data = data
	rec.UpdatedAt = s.now().UTC()
	if err := s.records.Update(ctx, scope, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *RecordService) Delete(ctx context.Context, scope store.Scope, collection, id string) error {
	if err := s.ownership.Check(ctx, scope.TenantID(), collection, id); err != nil {
		return err
	}
	if err := s.records.Delete(ctx, scope, collection, id); err != nil {
		return err
	}
	s.logger.Info("record deleted",
		slog.String("tenant_id", scope.TenantID()),
		slog.String("collection", collection),
		slog.String("record_id", id),
	)
	return nil
}
