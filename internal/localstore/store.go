package localstore

import (
	"context"

	"github.com/bwmarrin/snowflake"
	membershipdomain "github.com/smallbiznis/fitdesk/internal/membership/domain"
	"github.com/smallbiznis/fitdesk/internal/observability/metrics"
	outboxdomain "github.com/smallbiznis/fitdesk/internal/outbox/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	CollectionMembers  = "members"
	CollectionPayments = "payments"
	CollectionPlans    = "plans"
	CollectionSettings = "settings"
	CollectionOutbox   = "outbox"
)

// Store groups the typed collections of the device.
type Store struct {
	Members  Collection[*membershipdomain.Member]
	Payments Collection[*membershipdomain.Payment]
	Plans    Collection[*membershipdomain.Plan]
	Settings Collection[*membershipdomain.Setting]
	Outbox   Collection[*outboxdomain.Entry]

	// Locks serializes member and plan mutations across the facade, the
	// reconciler and the drainer.
	Locks *KeyedMutex
}

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Metrics *metrics.Metrics `optional:"true"`
}

var Module = fx.Module("localstore",
	fx.Provide(New),
)

// New builds the durable store with a memory fallback on every collection.
func New(p Params) *Store {
	log := p.Log.Named("localstore")
	newID := SnowflakeIDs(p.GenID)
	onDegraded := func(collection string, _ error) {
		p.Metrics.RecordStoreFallback(context.Background(), collection)
	}

	return &Store{
		Members: WithFallback[membershipdomain.Member](
			NewGormCollection[membershipdomain.Member](p.DB, CollectionMembers, newID), newID, log, onDegraded),
		Payments: WithFallback[membershipdomain.Payment](
			NewGormCollection[membershipdomain.Payment](p.DB, CollectionPayments, newID), newID, log, onDegraded),
		Plans: WithFallback[membershipdomain.Plan](
			NewGormCollection[membershipdomain.Plan](p.DB, CollectionPlans, newID), newID, log, onDegraded),
		Settings: WithFallback[membershipdomain.Setting](
			NewGormCollection[membershipdomain.Setting](p.DB, CollectionSettings, nil), nil, log, onDegraded),
		Outbox: WithFallback[outboxdomain.Entry](
			NewGormCollection[outboxdomain.Entry](p.DB, CollectionOutbox, newID), newID, log, onDegraded),
		Locks: NewKeyedMutex(),
	}
}

// NewMemory builds a store that never touches disk.
func NewMemory(newID IDFunc) *Store {
	return &Store{
		Members:  NewMemoryCollection[membershipdomain.Member](CollectionMembers, newID),
		Payments: NewMemoryCollection[membershipdomain.Payment](CollectionPayments, newID),
		Plans:    NewMemoryCollection[membershipdomain.Plan](CollectionPlans, newID),
		Settings: NewMemoryCollection[membershipdomain.Setting](CollectionSettings, nil),
		Outbox:   NewMemoryCollection[outboxdomain.Entry](CollectionOutbox, newID),
		Locks:    NewKeyedMutex(),
	}
}

func SnowflakeIDs(node *snowflake.Node) IDFunc {
	if node == nil {
		return nil
	}
	return func() string { return node.Generate().String() }
}

// Models lists every table the store needs, for migrations.
func Models() []any {
	return []any{
		&membershipdomain.Member{},
		&membershipdomain.Payment{},
		&membershipdomain.Plan{},
		&membershipdomain.Setting{},
		&outboxdomain.Entry{},
	}
}
