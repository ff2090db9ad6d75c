package service

import (
	"context"
	"errors"
	"net/mail"
	"sort"
	"strings"
	"sync"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/fitdesk/internal/apperr"
	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/config"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"github.com/smallbiznis/fitdesk/internal/reconciler"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config     config.Config
	Store      *localstore.Store
	Queue      *outboxservice.Queue
	Drainer    *outboxservice.Drainer
	Reconciler *reconciler.Reconciler
	Client     remote.Client
	Engine     *billingcycle.Engine
	Clock      clock.Clock
	Log        *zap.Logger
	GenID      *snowflake.Node `optional:"true"`
	Monitor    *remote.Monitor `optional:"true"`
}

type Service struct {
	deviceID   string
	store      *localstore.Store
	queue      *outboxservice.Queue
	drainer    *outboxservice.Drainer
	reconciler *reconciler.Reconciler
	client     remote.Client
	engine     *billingcycle.Engine
	clock      clock.Clock
	log        *zap.Logger
	newID      localstore.IDFunc
	monitor    *remote.Monitor

	obsMu     sync.RWMutex
	observers map[int]domain.Observer
	nextObs   int
}

func New(p Params) domain.Service {
	return newService(p)
}

func newService(p Params) *Service {
	s := &Service{
		deviceID:   p.Config.DeviceID,
		store:      p.Store,
		queue:      p.Queue,
		drainer:    p.Drainer,
		reconciler: p.Reconciler,
		client:     p.Client,
		engine:     p.Engine,
		clock:      p.Clock,
		log:        p.Log.Named("membership.service"),
		newID:      localstore.SnowflakeIDs(p.GenID),
		monitor:    p.Monitor,
		observers:  map[int]domain.Observer{},
	}
	if s.newID == nil {
		node, _ := snowflake.NewNode(1)
		s.newID = localstore.SnowflakeIDs(node)
	}
	p.Drainer.SetApplier(s)
	return s
}

func (s *Service) ListMembers(ctx context.Context, filter domain.MemberFilter) ([]domain.Member, error) {
	members, err := s.store.Members.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(filter.Query))
	out := make([]domain.Member, 0, len(members))
	for _, m := range members {
		if filter.Status != "" && m.Status != filter.Status {
			continue
		}
		if filter.PaymentStatus != "" && m.PaymentStatus != filter.PaymentStatus {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(m.Name), query) &&
			!strings.Contains(strings.ToLower(m.Email), query) &&
			!strings.Contains(m.Phone, query) {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool {
		if !strings.EqualFold(out[i].Name, out[j].Name) {
			return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Service) GetMember(ctx context.Context, id string) (domain.Member, error) {
	m, err := s.store.Members.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Member{}, domain.ErrMemberNotFound
	}
	if err != nil {
		return domain.Member{}, err
	}
	return *m, nil
}

// DueMembers projects every active member as of today and returns those in
// one of statuses. Nothing is written.
func (s *Service) DueMembers(ctx context.Context, statuses ...domain.PaymentStatus) ([]domain.Member, error) {
	members, err := s.store.Members.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	want := make(map[domain.PaymentStatus]struct{}, len(statuses))
	for _, st := range statuses {
		want[st] = struct{}{}
	}

	out := make([]domain.Member, 0)
	for _, m := range members {
		if !m.IsActive() {
			continue
		}
		s.engine.ProjectMember(m)
		if _, ok := want[m.PaymentStatus]; len(want) > 0 && !ok {
			continue
		}
		out = append(out, *m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextDueDate.Before(out[j].NextDueDate) })
	return out, nil
}

func (s *Service) UpsertMember(ctx context.Context, input domain.Member) (domain.Result[domain.Member], error) {
	member, err := s.normalizeMember(input)
	if err != nil {
		return domain.Result[domain.Member]{}, err
	}
	if member.ID == "" {
		member.ID = s.newID()
	}

	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityMember), member.ID))
	defer unlock()

	if err := s.ensureUniqueEmail(ctx, member.ID, member.Email); err != nil {
		return domain.Result[domain.Member]{}, err
	}

	previous, err := s.store.Members.Get(ctx, member.ID)
	if err != nil && !errors.Is(err, localstore.ErrNotFound) {
		return domain.Result[domain.Member]{}, err
	}

	now := s.clock.Now()
	op := outboxdomain.OperationCreate
	if previous != nil {
		op = outboxdomain.OperationUpdate
		member.CreatedAt = previous.CreatedAt
		// Only a recorded payment moves the due date of an existing member.
		member.NextDueDate = previous.NextDueDate
		member.LastPaymentDate = previous.LastPaymentDate
	} else {
		member.CreatedAt = now
	}
	if member.NextDueDate.IsZero() {
		next, err := s.engine.NextDueFromJoin(member.StartDate, member.BillingIntervalDays)
		if err != nil {
			return domain.Result[domain.Member]{}, err
		}
		member.NextDueDate = next
	}
	if billingcycle.Day(member.NextDueDate).Before(billingcycle.Day(member.StartDate)) {
		return domain.Result[domain.Member]{}, invalid("next_due_date", domain.ErrInvalidStartDate, "next due date is before the start date")
	}
	member.UpdatedAt = now
	s.engine.ProjectMember(&member)

	stored, err := s.store.Members.Put(ctx, &member)
	if err != nil {
		return domain.Result[domain.Member]{}, err
	}

	payload := *stored
	queued, err := s.push(ctx, outboxdomain.EntityMember, op, stored.ID, payload, nil,
		func(ctx context.Context, key string) error {
			var confirmed *domain.Member
			var err error
			if op == outboxdomain.OperationCreate {
				confirmed, err = s.client.CreateMember(ctx, &payload, key)
			} else {
				confirmed, err = s.client.UpdateMember(ctx, &payload, key)
			}
			if err != nil {
				return err
			}
			stored = s.adoptMember(ctx, stored, confirmed)
			return nil
		})
	if err != nil {
		s.rollbackMember(ctx, stored.ID, previous)
		return domain.Result[domain.Member]{}, err
	}

	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindMember, Op: domain.ChangeUpsert, ID: stored.ID})
	return domain.Result[domain.Member]{Data: *stored, Queued: queued}, nil
}

func (s *Service) RemoveMember(ctx context.Context, id string) (domain.Result[struct{}], error) {
	id = strings.TrimSpace(id)
	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityMember), id))
	defer unlock()

	previous, err := s.store.Members.Get(ctx, id)
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Result[struct{}]{}, domain.ErrMemberNotFound
	}
	if err != nil {
		return domain.Result[struct{}]{}, err
	}
	if err := s.store.Members.Delete(ctx, id); err != nil {
		return domain.Result[struct{}]{}, err
	}

	queued, err := s.push(ctx, outboxdomain.EntityMember, outboxdomain.OperationDelete, id, map[string]string{"id": id}, nil,
		func(ctx context.Context, key string) error {
			err := s.client.DeleteMember(ctx, id, key)
			if rejected, ok := apperr.AsRemoteRejected(err); ok && rejected.StatusCode == 404 {
				return nil
			}
			return err
		})
	if err != nil {
		s.rollbackMember(ctx, id, previous)
		return domain.Result[struct{}]{}, err
	}

	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindMember, Op: domain.ChangeDelete, ID: id})
	return domain.Result[struct{}]{Queued: queued}, nil
}

func (s *Service) normalizeMember(in domain.Member) (domain.Member, error) {
	m := in
	m.ID = strings.TrimSpace(m.ID)
	m.Name = strings.TrimSpace(m.Name)
	m.Email = strings.ToLower(strings.TrimSpace(m.Email))
	m.Phone = strings.TrimSpace(m.Phone)
	m.MembershipType = strings.TrimSpace(m.MembershipType)

	if m.Name == "" {
		return m, invalid("name", domain.ErrInvalidName, "name is required")
	}
	if m.Email == "" {
		return m, invalid("email", domain.ErrInvalidEmail, "email is required")
	}
	if addr, err := mail.ParseAddress(m.Email); err != nil || addr.Address != m.Email {
		return m, invalid("email", domain.ErrInvalidEmail, "email is not a valid address")
	}
	if m.MonthlyFee < 0 {
		return m, invalid("monthly_fee", domain.ErrInvalidFee, "monthly fee cannot be negative")
	}
	switch m.Status {
	case "":
		m.Status = domain.MemberStatusActive
	case domain.MemberStatusActive, domain.MemberStatusInactive:
	default:
		return m, invalid("status", domain.ErrInvalidStatus, "status must be active or inactive")
	}
	if m.BillingIntervalDays < 0 {
		return m, invalid("billing_interval_days", domain.ErrInvalidCycle, "billing interval must be positive")
	}
	m.BillingIntervalDays = s.engine.CycleDays(m.BillingIntervalDays)
	if m.StartDate.IsZero() {
		m.StartDate = s.engine.Today()
	}
	m.StartDate = billingcycle.Day(m.StartDate)
	if !m.NextDueDate.IsZero() {
		m.NextDueDate = billingcycle.Day(m.NextDueDate)
	}
	return m, nil
}

func (s *Service) ensureUniqueEmail(ctx context.Context, id, email string) error {
	members, err := s.store.Members.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, m := range members {
		if m.ID != id && strings.EqualFold(m.Email, email) {
			return invalid("email", domain.ErrDuplicateEmail, "another member already uses this email")
		}
	}
	return nil
}

// adoptMember stores the server copy of a member, keeping local fields the
// server left empty. The caller holds the member lock.
func (s *Service) adoptMember(ctx context.Context, local, confirmed *domain.Member) *domain.Member {
	if confirmed == nil {
		return local
	}
	merged := *confirmed
	merged.ID = local.ID
	if merged.CreatedAt.IsZero() {
		merged.CreatedAt = local.CreatedAt
	}
	if merged.UpdatedAt.IsZero() {
		merged.UpdatedAt = local.UpdatedAt
	}
	if merged.StartDate.IsZero() {
		merged.StartDate = local.StartDate
	}
	if merged.NextDueDate.IsZero() {
		merged.NextDueDate = local.NextDueDate
	}
	if merged.LastPaymentDate == nil {
		merged.LastPaymentDate = local.LastPaymentDate
	}
	if merged.BillingIntervalDays <= 0 {
		merged.BillingIntervalDays = local.BillingIntervalDays
	}
	s.engine.ProjectMember(&merged)

	stored, err := s.store.Members.Put(ctx, &merged)
	if err != nil {
		s.log.Warn("store confirmed member", zap.String("member_id", local.ID), zap.Error(err))
		return local
	}
	return stored
}

func (s *Service) rollbackMember(ctx context.Context, id string, previous *domain.Member) {
	var err error
	if previous == nil {
		err = s.store.Members.Delete(ctx, id)
	} else {
		_, err = s.store.Members.Put(ctx, previous)
	}
	if err != nil {
		s.log.Error("roll back rejected member write", zap.String("member_id", id), zap.Error(err))
	}
}

func invalid(field string, code error, message string) error {
	return &apperr.ValidationError{Field: field, Code: code.Error(), Message: message}
}
