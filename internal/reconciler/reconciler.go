// Package reconciler merges the remote snapshot into the local store without
// losing local edits that are still waiting in the outbox.
package reconciler

import (
	"context"
	"errors"
	"fmt"

	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// MergeStats counts what a merge did to one collection.
type MergeStats struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Kept     int `json:"kept"`
	Deleted  int `json:"deleted"`
}

type RefreshResult struct {
	Members MergeStats                `json:"members"`
	Plans   MergeStats                `json:"plans"`
	Drain   outboxservice.DrainResult `json:"drain"`
	// DrainSkipped is set when another drain was already running.
	DrainSkipped bool `json:"drain_skipped"`
}

type Params struct {
	fx.In

	Store   *localstore.Store
	Client  remote.Client
	Queue   *outboxservice.Queue
	Drainer *outboxservice.Drainer
	Engine  *billingcycle.Engine
	Log     *zap.Logger
	Monitor *remote.Monitor `optional:"true"`
}

type Reconciler struct {
	store   *localstore.Store
	client  remote.Client
	queue   *outboxservice.Queue
	drainer *outboxservice.Drainer
	engine  *billingcycle.Engine
	log     *zap.Logger
	monitor *remote.Monitor
}

var Module = fx.Module("reconciler",
	fx.Provide(New),
)

func New(p Params) *Reconciler {
	return &Reconciler{
		store:   p.Store,
		client:  p.Client,
		queue:   p.Queue,
		drainer: p.Drainer,
		engine:  p.Engine,
		log:     p.Log.Named("reconciler"),
		monitor: p.Monitor,
	}
}

// Refresh pulls members and plans, merges them, then drains the outbox. The
// fetch and merge run while no drain can start, so an entry confirmed
// mid-refresh is never mistaken for a record the remote dropped. A failed
// fetch leaves the store untouched.
func (r *Reconciler) Refresh(ctx context.Context) (RefreshResult, error) {
	var result RefreshResult

	err := r.drainer.Hold(ctx, func(ctx context.Context) error {
		members, err := r.client.ListMembers(ctx)
		if err != nil {
			r.report(ctx, err)
			return err
		}
		plans, err := r.client.ListPlans(ctx)
		if err != nil {
			r.report(ctx, err)
			return err
		}
		r.report(ctx, nil)

		if result.Members, err = r.mergeMembers(ctx, members); err != nil {
			return fmt.Errorf("merge members: %w", err)
		}
		if result.Plans, err = r.mergePlans(ctx, plans); err != nil {
			return fmt.Errorf("merge plans: %w", err)
		}
		return nil
	})
	if err != nil {
		return result, err
	}

	r.log.Info("remote snapshot merged",
		zap.Int("members_inserted", result.Members.Inserted),
		zap.Int("members_updated", result.Members.Updated),
		zap.Int("members_kept", result.Members.Kept),
		zap.Int("members_deleted", result.Members.Deleted),
		zap.Int("plans_inserted", result.Plans.Inserted),
		zap.Int("plans_updated", result.Plans.Updated),
	)

	drained, err := r.drainer.Drain(ctx)
	switch {
	case errors.Is(err, outboxdomain.ErrDrainInProgress):
		result.DrainSkipped = true
	case err != nil:
		return result, err
	default:
		result.Drain = drained
	}
	return result, nil
}

func (r *Reconciler) mergeMembers(ctx context.Context, remoteMembers []*membershipdomain.Member) (MergeStats, error) {
	var stats MergeStats

	locals, err := r.store.Members.GetAll(ctx)
	if err != nil {
		return stats, err
	}
	seen := make(map[string]struct{}, len(remoteMembers))

	for _, incoming := range remoteMembers {
		if incoming == nil || incoming.ID == "" {
			continue
		}
		seen[incoming.ID] = struct{}{}

		outcome, err := r.mergeMember(ctx, incoming)
		if err != nil {
			return stats, err
		}
		stats.add(outcome)
	}

	for _, local := range locals {
		if _, ok := seen[local.ID]; ok {
			continue
		}
		deleted, err := r.dropIfSynced(ctx, outboxdomain.EntityMember, local.ID, r.store.Members.Delete)
		if err != nil {
			return stats, err
		}
		if deleted {
			stats.Deleted++
		} else {
			stats.Kept++
		}
	}
	return stats, nil
}

func (r *Reconciler) mergeMember(ctx context.Context, incoming *membershipdomain.Member) (mergeOutcome, error) {
	unlock := r.store.Locks.Lock(lockKey(outboxdomain.EntityMember, incoming.ID))
	defer unlock()

	pending, err := r.queue.PendingFor(ctx, outboxdomain.EntityMember, incoming.ID)
	if err != nil {
		return outcomeKept, err
	}
	if len(pending) > 0 {
		return outcomeKept, nil
	}

	local, err := r.store.Members.Get(ctx, incoming.ID)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		r.engine.ProjectMember(incoming)
		if _, err := r.store.Members.Put(ctx, incoming); err != nil {
			return outcomeKept, err
		}
		return outcomeInserted, nil
	case err != nil:
		return outcomeKept, err
	}

	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = local.CreatedAt
	}
	r.engine.ProjectMember(incoming)
	if _, err := r.store.Members.Put(ctx, incoming); err != nil {
		return outcomeKept, err
	}
	return outcomeUpdated, nil
}

func (r *Reconciler) mergePlans(ctx context.Context, remotePlans []*membershipdomain.Plan) (MergeStats, error) {
	var stats MergeStats

	locals, err := r.store.Plans.GetAll(ctx)
	if err != nil {
		return stats, err
	}
	seen := make(map[string]struct{}, len(remotePlans))

	for _, incoming := range remotePlans {
		if incoming == nil || incoming.ID == "" {
			continue
		}
		seen[incoming.ID] = struct{}{}
		incoming.Slug = membershipdomain.PlanSlug(incoming.Name)

		outcome, err := r.mergePlan(ctx, incoming)
		if err != nil {
			return stats, err
		}
		stats.add(outcome)
	}

	for _, local := range locals {
		if _, ok := seen[local.ID]; ok {
			continue
		}
		deleted, err := r.dropIfSynced(ctx, outboxdomain.EntityPlan, local.ID, r.store.Plans.Delete)
		if err != nil {
			return stats, err
		}
		if deleted {
			stats.Deleted++
		} else {
			stats.Kept++
		}
	}
	return stats, nil
}

func (r *Reconciler) mergePlan(ctx context.Context, incoming *membershipdomain.Plan) (mergeOutcome, error) {
	unlock := r.store.Locks.Lock(lockKey(outboxdomain.EntityPlan, incoming.ID))
	defer unlock()

	pending, err := r.queue.PendingFor(ctx, outboxdomain.EntityPlan, incoming.ID)
	if err != nil {
		return outcomeKept, err
	}
	if len(pending) > 0 {
		return outcomeKept, nil
	}

	local, err := r.store.Plans.Get(ctx, incoming.ID)
	switch {
	case errors.Is(err, localstore.ErrNotFound):
		if _, err := r.store.Plans.Put(ctx, incoming); err != nil {
			return outcomeKept, err
		}
		return outcomeInserted, nil
	case err != nil:
		return outcomeKept, err
	}

	if incoming.CreatedAt.IsZero() {
		incoming.CreatedAt = local.CreatedAt
	}
	if _, err := r.store.Plans.Put(ctx, incoming); err != nil {
		return outcomeKept, err
	}
	return outcomeUpdated, nil
}

// dropIfSynced deletes a local record the remote no longer has, unless an
// outbox entry still has to deliver it.
func (r *Reconciler) dropIfSynced(ctx context.Context, entityType outboxdomain.EntityType, id string, del func(context.Context, string) error) (bool, error) {
	unlock := r.store.Locks.Lock(lockKey(entityType, id))
	defer unlock()

	pending, err := r.queue.PendingFor(ctx, entityType, id)
	if err != nil {
		return false, err
	}
	if len(pending) > 0 {
		return false, nil
	}
	if err := del(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Reconciler) report(ctx context.Context, err error) {
	if r.monitor == nil {
		return
	}
	if err == nil {
		r.monitor.ReportSuccess(ctx)
		return
	}
	r.monitor.ReportFailure(ctx, err)
}

type mergeOutcome int

const (
	outcomeKept mergeOutcome = iota
	outcomeInserted
	outcomeUpdated
)

func (s *MergeStats) add(o mergeOutcome) {
	switch o {
	case outcomeInserted:
		s.Inserted++
	case outcomeUpdated:
		s.Updated++
	default:
		s.Kept++
	}
}

func lockKey(entityType outboxdomain.EntityType, id string) string {
	return localstore.LockKey(string(entityType), id)
}
