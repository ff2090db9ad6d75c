package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/smallbiznis/fitdesk/internal/apperr"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/smallbiznis/fitdesk/internal/outbox/domain"
	"github.com/smallbiznis/fitdesk/internal/remote"
	"github.com/smallbiznis/fitdesk/pkg/telemetry/correlation"
)

// Confirmation carries what the remote service returned for a replayed
// entry. At most one field is set; all are nil for deletes.
type Confirmation struct {
	Member  *membershipdomain.Member
	Plan    *membershipdomain.Plan
	Receipt *remote.PaymentReceipt
}

// Replayer performs the remote call recorded by an entry.
type Replayer interface {
	Replay(ctx context.Context, entry *domain.Entry) (Confirmation, error)
}

// Applier writes server-confirmed fields back into the local store.
type Applier interface {
	ApplyConfirmed(ctx context.Context, entry *domain.Entry, confirmed Confirmation) error
}

// permanentError marks an entry that can never replay, such as an
// undecodable payload.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

func isPermanent(err error) bool {
	var target *permanentError
	return errors.As(err, &target) || apperr.IsRemoteRejected(err)
}

// RemoteReplayer replays entries against the REST contract. Creates and
// updates behave as upserts by id, deletes of a missing id succeed.
type RemoteReplayer struct {
	client remote.Client
}

func NewRemoteReplayer(client remote.Client) *RemoteReplayer {
	return &RemoteReplayer{client: client}
}

func (r *RemoteReplayer) Replay(ctx context.Context, entry *domain.Entry) (Confirmation, error) {
	// Every attempt at one entry shares a correlation id, so the remote can
	// tie retries together in its own logs.
	ctx = correlation.ContextWithCorrelationID(ctx, "outbox:"+entry.ID)
	switch entry.EntityType {
	case domain.EntityMember:
		return r.replayMember(ctx, entry)
	case domain.EntityPlan:
		return r.replayPlan(ctx, entry)
	case domain.EntityPayment:
		return r.replayPayment(ctx, entry)
	default:
		return Confirmation{}, &permanentError{err: domain.ErrInvalidEntityType}
	}
}

func (r *RemoteReplayer) replayMember(ctx context.Context, entry *domain.Entry) (Confirmation, error) {
	key := entry.IdempotencyKey
	if entry.Operation == domain.OperationDelete {
		return Confirmation{}, ignoreStatus(r.client.DeleteMember(ctx, entry.EntityID, key), http.StatusNotFound)
	}

	var member membershipdomain.Member
	if err := decodePayload(entry, &member); err != nil {
		return Confirmation{}, err
	}
	member.ID = entry.EntityID

	var (
		confirmed *membershipdomain.Member
		err       error
	)
	switch entry.Operation {
	case domain.OperationCreate:
		confirmed, err = r.client.CreateMember(ctx, &member, key)
		if hasStatus(err, http.StatusConflict) {
			confirmed, err = r.client.UpdateMember(ctx, &member, key)
		}
	case domain.OperationUpdate:
		confirmed, err = r.client.UpdateMember(ctx, &member, key)
		if hasStatus(err, http.StatusNotFound) {
			confirmed, err = r.client.CreateMember(ctx, &member, key)
		}
	default:
		return Confirmation{}, &permanentError{err: domain.ErrInvalidOperation}
	}
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{Member: confirmed}, nil
}

func (r *RemoteReplayer) replayPlan(ctx context.Context, entry *domain.Entry) (Confirmation, error) {
	key := entry.IdempotencyKey
	if entry.Operation == domain.OperationDelete {
		return Confirmation{}, ignoreStatus(r.client.DeletePlan(ctx, entry.EntityID, key), http.StatusNotFound)
	}

	var plan membershipdomain.Plan
	if err := decodePayload(entry, &plan); err != nil {
		return Confirmation{}, err
	}
	plan.ID = entry.EntityID

	var (
		confirmed *membershipdomain.Plan
		err       error
	)
	switch entry.Operation {
	case domain.OperationCreate:
		confirmed, err = r.client.CreatePlan(ctx, &plan, key)
		if hasStatus(err, http.StatusConflict) {
			confirmed, err = r.client.UpdatePlan(ctx, &plan, key)
		}
	case domain.OperationUpdate:
		confirmed, err = r.client.UpdatePlan(ctx, &plan, key)
		if hasStatus(err, http.StatusNotFound) {
			confirmed, err = r.client.CreatePlan(ctx, &plan, key)
		}
	default:
		return Confirmation{}, &permanentError{err: domain.ErrInvalidOperation}
	}
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{Plan: confirmed}, nil
}

// Payments are immutable, so only creates are replayed. A 409 means the
// payment id was already recorded.
func (r *RemoteReplayer) replayPayment(ctx context.Context, entry *domain.Entry) (Confirmation, error) {
	if entry.Operation != domain.OperationCreate {
		return Confirmation{}, &permanentError{err: domain.ErrInvalidOperation}
	}
	var payment membershipdomain.Payment
	if err := decodePayload(entry, &payment); err != nil {
		return Confirmation{}, err
	}
	payment.ID = entry.EntityID

	receipt, err := r.client.RecordPayment(ctx, &payment, entry.IdempotencyKey)
	if hasStatus(err, http.StatusConflict) {
		return Confirmation{}, nil
	}
	if err != nil {
		return Confirmation{}, err
	}
	return Confirmation{Receipt: receipt}, nil
}

func decodePayload(entry *domain.Entry, out any) error {
	if len(entry.Payload) == 0 {
		return &permanentError{err: fmt.Errorf("outbox entry %s has no payload", entry.ID)}
	}
	if err := json.Unmarshal(entry.Payload, out); err != nil {
		return &permanentError{err: fmt.Errorf("decode outbox entry %s: %w", entry.ID, err)}
	}
	return nil
}

func hasStatus(err error, status int) bool {
	rejected, ok := apperr.AsRemoteRejected(err)
	return ok && rejected.StatusCode == status
}

func ignoreStatus(err error, status int) error {
	if hasStatus(err, status) {
		return nil
	}
	return err
}
