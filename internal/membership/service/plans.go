package service

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	"go.uber.org/zap"
)

func (s *Service) ListPlans(ctx context.Context) ([]domain.Plan, error) {
	plans, err := s.store.Plans.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CycleDays != out[j].CycleDays {
			return out[i].CycleDays < out[j].CycleDays
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (s *Service) UpsertPlan(ctx context.Context, input domain.Plan) (domain.Result[domain.Plan], error) {
	plan := input
	plan.ID = strings.TrimSpace(plan.ID)
	plan.Name = strings.TrimSpace(plan.Name)
	plan.Description = strings.TrimSpace(plan.Description)
	if plan.Name == "" {
		return domain.Result[domain.Plan]{}, invalid("name", domain.ErrInvalidName, "name is required")
	}
	if plan.Price < 0 {
		return domain.Result[domain.Plan]{}, invalid("price", domain.ErrInvalidFee, "price cannot be negative")
	}
	if plan.CycleDays <= 0 {
		return domain.Result[domain.Plan]{}, invalid("cycle_days", domain.ErrInvalidCycle, "cycle must be at least one day")
	}
	plan.Slug = domain.PlanSlug(plan.Name)
	if plan.ID == "" {
		plan.ID = s.newID()
	}

	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityPlan), plan.ID))
	defer unlock()

	previous, err := s.store.Plans.Get(ctx, plan.ID)
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return domain.Result[domain.Plan]{}, err
	}

	now := s.clock.Now()
	op := outboxdomain.OperationCreate
	if previous != nil {
		op = outboxdomain.OperationUpdate
		plan.CreatedAt = previous.CreatedAt
	} else {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	stored, err := s.store.Plans.Put(ctx, &plan)
	if err != nil {
		return domain.Result[domain.Plan]{}, err
	}

	payload := *stored
	queued, err := s.push(ctx, outboxdomain.EntityPlan, op, stored.ID, payload, nil,
		func(ctx context.Context, key string) error {
			var confirmed *domain.Plan
			var err error
			if op == outboxdomain.OperationCreate {
				confirmed, err = s.client.CreatePlan(ctx, &payload, key)
			} else {
				confirmed, err = s.client.UpdatePlan(ctx, &payload, key)
			}
			if err != nil {
				return err
			}
			stored = s.adoptPlan(ctx, stored, confirmed)
			return nil
		})
	if err != nil {
		s.rollbackPlan(ctx, stored.ID, previous)
		return domain.Result[domain.Plan]{}, err
	}

	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindPlan, Op: domain.ChangeUpsert, ID: stored.ID})
	return domain.Result[domain.Plan]{Data: *stored, Queued: queued}, nil
}

// RemovePlan deletes a plan. Members keep their membership type and fee.
func (s *Service) RemovePlan(ctx context.Context, id string) (domain.Result[struct{}], error) {
	id = strings.TrimSpace(id)
	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityPlan), id))
	defer unlock()

	previous, err := s.store.Plans.Get(ctx, id)
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Result[struct{}]{}, domain.ErrPlanNotFound
	}
	if err != nil {
		return domain.Result[struct{}]{}, err
	}
	if err := s.store.Plans.Delete(ctx, id); err != nil {
		return domain.Result[struct{}]{}, err
	}

	queued, err := s.push(ctx, outboxdomain.EntityPlan, outboxdomain.OperationDelete, id, map[string]string{"id": id}, nil,
		func(ctx context.Context, key string) error {
			err := s.client.DeletePlan(ctx, id, key)
			if rejected, ok := apperr.AsRemoteRejected(err); ok && rejected.StatusCode == 404 {
				return nil
			}
			return err
		})
	if err != nil {
		s.rollbackPlan(ctx, id, previous)
		return domain.Result[struct{}]{}, err
	}

	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindPlan, Op: domain.ChangeDelete, ID: id})
	return domain.Result[struct{}]{Queued: queued}, nil
}

func (s *Service) adoptPlan(ctx context.Context, local, confirmed *domain.Plan) *domain.Plan {
	if confirmed == nil {
		return local
	}
	merged := *confirmed
	merged.ID = local.ID
	merged.Slug = domain.PlanSlug(merged.Name)
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = local.CreatedAt
	}
	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = local.UpdatedAt
	}
	if merged.CycleDays <= 0 {
		merged.CycleDays = local.CycleDays
	}
	stored, err := s.store.Plans.Put(ctx, &merged)
	if err != nil {
		s.log.Warn("store confirmed plan", zap.String("plan_id", local.ID), zap.Error(err))
		return local
	}
	return stored
}

func (s *Service) rollbackPlan(ctx context.Context, id string, previous *domain.Plan) {
	var err error
	if previous == nil {
		err = s.store.Plans.Delete(ctx, id)
	} else {
		_, err = s.store.Plans.Put(ctx, previous)
	}
	if err != nil {
		s.log.Error("roll back rejected plan write", zap.String("plan_id", id), zap.Error(err))
	}
}

// Settings are device preferences and never leave the device.

func (s *Service) GetSetting(ctx context.Context, key string) (domain.Setting, error) {
	setting, err := s.store.Settings.Get(ctx, strings.TrimSpace(key))
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Setting{}, domain.ErrSettingNotFound
	}
	if err != nil {
		return domain.Setting{}, err
	}
	return *setting, nil
}

func (s *Service) PutSetting(ctx context.Context, key string, value json.RawMessage) (domain.Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return domain.Setting{}, invalid("key", domain.ErrInvalidSetting, "setting key is required")
	}
	if !json.Valid(value) {
		return domain.Setting{}, invalid("value", domain.ErrInvalidSetting, "setting value must be JSON")
	}
	stored, err := s.store.Settings.Put(ctx, &domain.Setting{
		Key:       key,
		Value:     []byte(value),
		UpdatedAt: s.clock.Now(),
	})
	if err != nil {
		return domain.Setting{}, err
	}
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindSetting, Op: domain.ChangeUpsert, ID: key})
	return *stored, nil
}
