package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/observability/metrics"
	"github.com/smallbiznis/fitdesk/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

type QueueParams struct {
	fx.In

	Store   *localstore.Store
	Clock   clock.Clock
	Log     *zap.Logger
	Metrics *metrics.Metrics `optional:"true"`
}

// Queue is the persistent list of local mutations awaiting the remote.
type Queue struct {
	store   *localstore.Store
	clock   clock.Clock
	log     *zap.Logger
	metrics *metrics.Metrics
}

func NewQueue(p QueueParams) *Queue {
	return &Queue{
		store:   p.Store,
		clock:   p.Clock,
		log:     p.Log.Named("outbox.queue"),
		metrics: p.Metrics,
	}
}

// Enqueue appends a pending entry. payload is stored as JSON.
func (q *Queue) Enqueue(ctx context.Context, op domain.Operation, entityType domain.EntityType, entityID string, payload any) (*domain.Entry, error) {
	return q.EnqueueKeyed(ctx, uuid.NewString(), op, entityType, entityID, payload)
}

// EnqueueKeyed is Enqueue with a caller-chosen idempotency key, used when an
// inline attempt may already have reached the remote under that key.
func (q *Queue) EnqueueKeyed(ctx context.Context, idempotencyKey string, op domain.Operation, entityType domain.EntityType, entityID string, payload any) (*domain.Entry, error) {
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode outbox payload: %w", err)
	}

	entry := &domain.Entry{
		Operation:      op,
		EntityType:     entityType,
		EntityID:       entityID,
		Payload:        datatypes.JSON(raw),
		CreatedAt:      q.clock.Now(),
		Status:         domain.StatusPending,
		IdempotencyKey: idempotencyKey,
	}
	if err := entry.Validate(); err != nil {
		return nil, err
	}

	stored, err := q.store.Outbox.Put(ctx, entry)
	if err != nil {
		return nil, err
	}

	q.metrics.RecordOutboxEnqueued(ctx, string(entityType), string(op))
	q.log.Debug("outbox entry queued",
		zap.String("entry_id", stored.ID),
		zap.String("entity_type", string(entityType)),
		zap.String("entity_id", entityID),
		zap.String("operation", string(op)),
	)
	return stored, nil
}

// ListPending returns pending entries in creation order.
func (q *Queue) ListPending(ctx context.Context) ([]*domain.Entry, error) {
	return q.list(ctx, func(e *domain.Entry) bool { return e.Status == domain.StatusPending })
}

func (q *Queue) ListFailed(ctx context.Context) ([]*domain.Entry, error) {
	return q.list(ctx, func(e *domain.Entry) bool { return e.Status == domain.StatusFailed })
}

// PendingFor returns the pending entries touching one entity.
func (q *Queue) PendingFor(ctx context.Context, entityType domain.EntityType, entityID string) ([]*domain.Entry, error) {
	return q.list(ctx, func(e *domain.Entry) bool {
		return e.Status == domain.StatusPending && e.EntityType == entityType && e.EntityID == entityID
	})
}

// PendingIDs indexes the entity ids of one type that have pending entries.
func (q *Queue) PendingIDs(ctx context.Context, entityType domain.EntityType) (map[string]struct{}, error) {
	entries, err := q.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]struct{})
	for _, e := range entries {
		if e.EntityType == entityType {
			ids[e.EntityID] = struct{}{}
		}
	}
	return ids, nil
}

// RetryFailed returns a failed entry to the pending list with its retry
// count reset.
func (q *Queue) RetryFailed(ctx context.Context, id string) (*domain.Entry, error) {
	entry, err := q.store.Outbox.Get(ctx, id)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := entry.Requeue(); err != nil {
		return nil, err
	}
	stored, err := q.store.Outbox.Put(ctx, entry)
	if err != nil {
		return nil, err
	}
	q.log.Info("failed outbox entry requeued", zap.String("entry_id", id))
	return stored, nil
}

// Counts returns the pending and failed depths.
func (q *Queue) Counts(ctx context.Context) (pending, failed int, err error) {
	entries, err := q.store.Outbox.GetAll(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, e := range entries {
		switch e.Status {
		case domain.StatusPending:
			pending++
		case domain.StatusFailed:
			failed++
		}
	}
	return pending, failed, nil
}

func (q *Queue) save(ctx context.Context, entry *domain.Entry) error {
	_, err := q.store.Outbox.Put(ctx, entry)
	return err
}

func (q *Queue) remove(ctx context.Context, id string) error {
	return q.store.Outbox.Delete(ctx, id)
}

func (q *Queue) list(ctx context.Context, keep func(*domain.Entry) bool) ([]*domain.Entry, error) {
	entries, err := q.store.Outbox.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Entry, 0, len(entries))
	for _, e := range entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}
