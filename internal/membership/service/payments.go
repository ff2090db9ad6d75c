package service

import (
	"context"
	"errors"
	"sort"
	"strings"

	"github.com/smallbiznis/fitdesk/internal/billingcycle"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	outboxservice "github.com/smallbiznis/fitdesk/internal/outbox/service"
	"go.uber.org/zap"
)

// RecordPayment advances the member's due date locally, stores the payment
// and confirms it with the remote, adopting the server's due date when it
// returns one. Invalid amounts are refused before anything is written.
func (s *Service) RecordPayment(ctx context.Context, req domain.RecordPaymentRequest) (domain.Result[domain.PaymentOutcome], error) {
	memberID := strings.TrimSpace(req.MemberID)
	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityMember), memberID))
	defer unlock()

	member, err := s.store.Members.Get(ctx, memberID)
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Result[domain.PaymentOutcome]{}, domain.ErrMemberNotFound
	}
	if err != nil {
		return domain.Result[domain.PaymentOutcome]{}, err
	}
	previous := *member

	applied, err := s.engine.ApplyPayment(member.NextDueDate, req.AmountPaid, member.MonthlyFee, member.BillingIntervalDays)
	if err != nil {
		return domain.Result[domain.PaymentOutcome]{}, err
	}

	now := s.clock.Now()
	paymentDate := req.PaymentDate
	if paymentDate.IsZero() {
		paymentDate = now
	}
	payment := &domain.Payment{
		ID:             strings.TrimSpace(req.ID),
		MemberID:       member.ID,
		AmountPaid:     req.AmountPaid,
		PaymentDate:    paymentDate.UTC(),
		Method:         strings.TrimSpace(req.Method),
		Note:           strings.TrimSpace(req.Note),
		RecordedAt:     now,
		PreviousDue:    applied.PreviousDue,
		NewNextDueDate: applied.NewNextDueDate,
		CyclesCovered:  applied.CyclesCovered,
	}
	if payment.ID == "" {
		payment.ID = s.newID()
	}
	if _, err := s.store.Payments.Get(ctx, payment.ID); err == nil {
		return domain.Result[domain.PaymentOutcome]{}, invalid("id", domain.ErrDuplicatePayment, "payment already recorded")
	}

	member.NextDueDate = applied.NewNextDueDate
	lastPaid := payment.PaymentDate
	member.LastPaymentDate = &lastPaid
	member.UpdatedAt = now
	s.engine.ProjectMember(member)

	storedPayment, err := s.store.Payments.Put(ctx, payment)
	if err != nil {
		return domain.Result[domain.PaymentOutcome]{}, err
	}
	storedMember, err := s.store.Members.Put(ctx, member)
	if err != nil {
		s.rollbackPayment(ctx, storedPayment.ID, &previous)
		return domain.Result[domain.PaymentOutcome]{}, err
	}

	payload := *storedPayment
	deps := []entityRef{{kind: outboxdomain.EntityMember, id: member.ID}}
	queued, err := s.push(ctx, outboxdomain.EntityPayment, outboxdomain.OperationCreate, payload.ID, payload, deps,
		func(ctx context.Context, key string) error {
			receipt, err := s.client.RecordPayment(ctx, &payload, key)
			if err != nil {
				return err
			}
			storedPayment, storedMember = s.adoptReceipt(ctx, storedPayment, storedMember, outboxservice.Confirmation{Receipt: receipt})
			return nil
		})
	if err != nil {
		s.rollbackPayment(ctx, storedPayment.ID, &previous)
		return domain.Result[domain.PaymentOutcome]{}, err
	}

	s.log.Info("payment recorded",
		zap.String("payment_id", storedPayment.ID),
		zap.String("member_id", storedMember.ID),
		zap.Int("cycles_covered", storedPayment.CyclesCovered),
		zap.Time("next_due_date", storedMember.NextDueDate),
		zap.Bool("queued", queued),
	)
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindPayment, Op: domain.ChangeUpsert, ID: storedPayment.ID})
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindMember, Op: domain.ChangeUpsert, ID: storedMember.ID})

	return domain.Result[domain.PaymentOutcome]{
		Data:   domain.PaymentOutcome{Payment: *storedPayment, Member: *storedMember},
		Queued: queued,
	}, nil
}

// PreviewPayment computes the effect of a payment without storing it.
func (s *Service) PreviewPayment(ctx context.Context, memberID string, amount float64) (domain.PaymentPreview, error) {
	member, err := s.GetMember(ctx, memberID)
	if err != nil {
		return domain.PaymentPreview{}, err
	}
	applied, err := s.engine.ApplyPayment(member.NextDueDate, amount, member.MonthlyFee, member.BillingIntervalDays)
	if err != nil {
		return domain.PaymentPreview{}, err
	}
	return domain.PaymentPreview{
		MemberID:       member.ID,
		AmountPaid:     amount,
		CyclesCovered:  applied.CyclesCovered,
		PreviousDue:    applied.PreviousDue,
		NewNextDueDate: applied.NewNextDueDate,
	}, nil
}

// ListPayments returns a member's payments, newest first.
func (s *Service) ListPayments(ctx context.Context, memberID string) ([]domain.Payment, error) {
	memberID = strings.TrimSpace(memberID)
	if _, err := s.GetMember(ctx, memberID); err != nil {
		return nil, err
	}
	payments, err := s.store.Payments.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Payment, 0)
	for _, p := range payments {
		if p.MemberID == memberID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].PaymentDate.Equal(out[j].PaymentDate) {
			return out[i].PaymentDate.After(out[j].PaymentDate)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	p, err := s.store.Payments.Get(ctx, strings.TrimSpace(id))
	if errors.Is(err, localstore.ErrNotFound) {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	if err != nil {
		return domain.Payment{}, err
	}
	return *p, nil
}

// applyReceipt is the drained-entry path of adoptReceipt.
func (s *Service) applyReceipt(ctx context.Context, paymentID string, confirmed outboxservice.Confirmation) error {
	payment, err := s.store.Payments.Get(ctx, paymentID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	unlock := s.store.Locks.Lock(localstore.LockKey(string(outboxdomain.EntityMember), payment.MemberID))
	defer unlock()

	member, err := s.store.Members.Get(ctx, payment.MemberID)
	if errors.Is(err, localstore.ErrNotFound) {
		member = nil
	} else if err != nil {
		return err
	}
	s.adoptReceipt(ctx, payment, member, confirmed)
	s.notify(ctx, domain.ChangeEvent{Entity: domain.KindPayment, Op: domain.ChangeConfirmed, ID: paymentID})
	return nil
}

// adoptReceipt marks the payment confirmed and takes the server's next due
// date for the member. The caller holds the member lock.
func (s *Service) adoptReceipt(ctx context.Context, payment *domain.Payment, member *domain.Member, confirmed outboxservice.Confirmation) (*domain.Payment, *domain.Member) {
	receipt := confirmed.Receipt
	if receipt == nil {
		return payment, member
	}

	now := s.clock.Now()
	payment.InvoiceSent = receipt.InvoiceSent
	payment.ConfirmedAt = &now
	if receipt.NewNextDueDate != nil && !receipt.NewNextDueDate.IsZero() {
		payment.NewNextDueDate = billingcycle.Day(*receipt.NewNextDueDate)
	}
	if stored, err := s.store.Payments.Put(ctx, payment); err != nil {
		s.log.Warn("store payment confirmation", zap.String("payment_id", payment.ID), zap.Error(err))
	} else {
		payment = stored
	}

	if member == nil || receipt.NewNextDueDate == nil || receipt.NewNextDueDate.IsZero() {
		return payment, member
	}
	next := billingcycle.Day(*receipt.NewNextDueDate)
	if next.Equal(member.NextDueDate) {
		return payment, member
	}
	member.NextDueDate = next
	member.UpdatedAt = now
	s.engine.ProjectMember(member)
	if stored, err := s.store.Members.Put(ctx, member); err != nil {
		s.log.Warn("store confirmed due date", zap.String("member_id", member.ID), zap.Error(err))
	} else {
		member = stored
	}
	return payment, member
}

func (s *Service) rollbackPayment(ctx context.Context, paymentID string, member *domain.Member) {
	if err := s.store.Payments.Delete(ctx, paymentID); err != nil {
		s.log.Error("roll back payment", zap.String("payment_id", paymentID), zap.Error(err))
	}
	if _, err := s.store.Members.Put(ctx, member); err != nil {
		s.log.Error("roll back member due date", zap.String("member_id", member.ID), zap.Error(err))
	}
}
