package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"go.uber.org/zap"
)

// entityRef names an entity whose pending entries must replay first.
type entityRef struct {
	kind outboxdomain.EntityType
	id   string
}

// push confirms a local write against the remote. It queues instead when the
// remote is known to be offline or when earlier entries for the same
// entities are still pending. An unreachable remote also queues and reports
// a soft success; a rejection is returned so the caller can roll back.
func (s *Service) push(ctx context.Context, kind outboxdomain.EntityType, op outboxdomain.Operation, id string, payload any, deps []entityRef, call func(ctx context.Context, idempotencyKey string) error) (bool, error) {
	log := s.log.With(
		zap.String("entity_type", string(kind)),
		zap.String("entity_id", id),
		zap.String("operation", string(op)),
	)

	wait, err := s.mustQueue(ctx, append([]entityRef{{kind: kind, id: id}}, deps...))
	if err != nil {
		return false, err
	}
	if wait {
		if _, err := s.queue.Enqueue(ctx, op, kind, id, payload); err != nil {
			return false, err
		}
		log.Debug("remote offline, mutation queued")
		return true, nil
	}

	key := uuid.NewString()
	callErr := call(ctx, key)
	switch {
	case callErr == nil:
		if s.monitor != nil {
			s.monitor.ReportSuccess(ctx)
		}
		return false, nil
	case apperr.IsRemoteRejected(callErr):
		log.Info("remote rejected mutation", zap.Error(callErr))
		return false, callErr
	}

	if s.monitor != nil {
		s.monitor.ReportFailure(ctx, callErr)
	}
	if _, err := s.queue.EnqueueKeyed(ctx, key, op, kind, id, payload); err != nil {
		return false, err
	}
	log.Warn("remote unavailable, mutation queued", zap.Error(callErr))
	return true, nil
}

func (s *Service) mustQueue(ctx context.Context, refs []entityRef) (bool, error) {
	if s.monitor != nil && !s.monitor.Online() {
		return true, nil
	}
	for _, ref := range refs {
		pending, err := s.queue.PendingFor(ctx, ref.kind, ref.id)
		if err != nil {
			return false, err
		}
		if len(pending) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// ApplyConfirmed writes what the remote returned for a drained entry. Newer
// local edits still waiting in the outbox win over the confirmation.
func (s *Service) ApplyConfirmed(ctx context.Context, entry *outboxdomain.Entry, confirmed outboxservice.Confirmation) error {
	switch {
	case confirmed.Member != nil:
		return s.applyConfirmedMember(ctx, entry, confirmed)
	case confirmed.Plan != nil:
		return s.applyConfirmedPlan(ctx, entry, confirmed)
	case confirmed.Receipt != nil:
		return s.applyReceipt(ctx, entry.EntityID, confirmed)
	}
	return nil
}

func (s *Service) applyConfirmedMember(ctx context.Context, entry *outboxdomain.Entry, confirmed outboxservice.Confirmation) error {
	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityMember), entry.EntityID))
	defer unlock()

	if newer, err := s.hasPendingAfter(ctx, entry); err != nil || newer {
		return err
	}
	local, err := s.store.Members.Get(ctx, entry.EntityID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.adoptMember(ctx, local, confirmed.Member)
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindMember, Op: domain.ChangeConfirmed, ID: entry.EntityID})
	return nil
}

func (s *Service) applyConfirmedPlan(ctx context.Context, entry *outboxdomain.Entry, confirmed outboxservice.Confirmation) error {
	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityPlan), entry.EntityID))
	defer unlock()

	if newer, err := s.hasPendingAfter(ctx, entry); err != nil || newer {
		return err
	}
	local, err := s.store.Plans.Get(ctx, entry.EntityID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	s.adoptPlan(ctx, local, confirmed.Plan)
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindPlan, Op: domain.ChangeConfirmed, ID: entry.EntityID})
	return nil
}

func (s *Service) hasPendingAfter(ctx context.Context, entry *outboxdomain.Entry) (bool, error) {
	pending, err := s.queue.PendingFor(ctx, entry.EntityType, entry.EntityID)
	if err != nil {
		return false, err
	}
	for _, p := range pending {
		if p.ID != entry.ID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Service) PendingSync(ctx context.Context) ([]outboxdomain.Entry, error) {
	entries, err := s.queue.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	return derefEntries(entries), nil
}

func (s *Service) FailedSync(ctx context.Context) ([]outboxdomain.Entry, error) {
	entries, err := s.queue.ListFailed(ctx)
	if err != nil {
		return nil, err
	}
	return derefEntries(entries), nil
}

func (s *Service) RetryFailed(ctx context.Context, id string) (outboxdomain.Entry, error) {
	entry, err := s.queue.RetryFailed(ctx, id)
	if err != nil {
		return outboxdomain.Entry{}, err
	}
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindSync, Op: domain.ChangeUpsert, ID: entry.ID})
	return *entry, nil
}

// Refresh merges the remote snapshot and drains the outbox.
func (s *Service) Refresh(ctx context.Context) (domain.RefreshSummary, error) {
	result, err := s.reconciler.Refresh(ctx)
	if err != nil {
		return domain.RefreshSummary{}, err
	}
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindSync, Op: domain.ChangeRefreshed})
	return domain.RefreshSummary{
		MembersInserted: result.Members.Inserted,
		MembersUpdated:  result.Members.Updated,
		MembersKept:     result.Members.Kept,
		MembersDeleted:  result.Members.Deleted,
		PlansInserted:   result.Plans.Inserted,
		PlansUpdated:    result.Plans.Updated,
		PlansKept:       result.Plans.Kept,
		PlansDeleted:    result.Plans.Deleted,
		Drained:         len(result.Drain.Completed),
		DrainSkipped:    result.DrainSkipped,
	}, nil
}

func (s *Service) Subscribe(observer domain.Observer) func() {
	if observer == nil {
		return func() {}
	}
	s.obsMu.Lock()
	id := s.nextObs
	s.nextObs++
	s.observers[id] = observer
	s.obsMu.Unlock()

	return func() {
		s.obsMu.Lock()
		delete(s.observers, id)
		s.obsMu.Unlock()
	}
}

func (s *Service) notify(ctx context.Context, event domain.ChangeEvent) {
	s.obsMu.RLock()
	observers := make([]domain.Observer, 0, len(s.observers))
	for _, o := range s.observers {
		observers = append(observers, o)
	}
	s.obsMu.RUnlock()

	for _, o := range observers {
		o.OnChange(ctx, event)
	}
}

func derefEntries(entries []*outboxdomain.Entry) []outboxdomain.Entry {
	out := make([]outboxdomain.Entry, 0, len(entries))
	for _, e := range entries {
		out = append(out, *e)
	}
	return out
}
