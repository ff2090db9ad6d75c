// Package seed fills an empty store with the defaults a new front desk needs.
package seed

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/smallbiznis/fitdesk/internal/clock"
	"github.com/smallbiznis/fitdesk/internal/localstore"
	"github.com/smallbiznis/fitdesk/internal/membership/domain"
	"go.uber.org/zap"
)

type defaultPlan struct {
	name      string
	price     float64
	cycleDays int
	desc      string
}

var defaultPlans = []defaultPlan{
	{name: "Monthly", price: 100, cycleDays: 30, desc: "Billed every 30 days."},
	{name: "Quarterly", price: 270, cycleDays: 90, desc: "Billed every 90 days."},
}

var defaultSettings = map[string]any{
	domain.SettingGymName:       "",
	domain.SettingDueSoonWindow: 7,
}

// EnsureDefaults seeds the default plans when the plan collection is empty
// and adds any missing default settings. Existing rows are never changed.
func EnsureDefaults(ctx context.Context, store *localstore.Store, clk clock.Clock, log *zap.Logger) error {
	if store == nil {
		return errors.New("seed store is required")
	}
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	now := clk.Now().UTC()

	plans, err := store.Plans.GetAll(ctx)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		for _, p := range defaultPlans {
			slug := domain.PlanSlug(p.name)
			if _, err := store.Plans.Put(ctx, &domain.Plan{
				ID:          slug,
				Name:        p.name,
				Slug:        slug,
				Price:       p.price,
				CycleDays:   p.cycleDays,
				Description: p.desc,
				Active:      true,
				CreatedAt:   now,
				UpdatedAt:   now,
			}); err != nil {
				return err
			}
		}
		log.Info("seeded default plans", zap.Int("count", len(defaultPlans)))
	}

	for key, value := range defaultSettings {
		_, err := store.Settings.Get(ctx, key)
		if err == nil {
			continue
		}
		if !errors.Is(err, localstore.ErrNotFound) {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return err
		}
		if _, err := store.Settings.Put(ctx, &domain.Setting{Key: key, Value: raw, UpdatedAt: now}); err != nil {
			return err
		}
	}
	return nil
}
