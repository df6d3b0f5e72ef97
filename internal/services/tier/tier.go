// Package tier сопоставляет идентификаторы продуктов и цен платёжного провайдера
// внутренним тарифам и периодам оплаты. Пакет не хранит состояния: вся
// таблица сопоставления передаётся при создании.
package tier

import (
	"errors"
	"strings"

	"github.com/magabrotheeeer/genbilling/internal/config"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// ErrUnknownTier — идентификатор не удалось сопоставить тарифу.
// Вызывающая сторона обязана передать событие на ручную проверку,
// а не трактовать его как бесплатный тариф.
var ErrUnknownTier = errors.New("unknown tier")

var defaultPrefixes = []string{"prod_", "price_", "plan_"}

type entry struct {
	tier  models.Tier
	cycle models.BillingCycle
}

// Resolver разрешает тариф по идентификатору продукта.
type Resolver struct {
	catalog  []config.Product
	products map[string]entry
	prefixes []string
}

// New создаёт Resolver по конфигурации тарифов.
func New(cfg config.Tiers) *Resolver {
	prefixes := cfg.Prefixes
	if len(prefixes) == 0 {
		prefixes = defaultPrefixes
	}
	r := &Resolver{
		catalog:  cfg.Products,
		products: make(map[string]entry, len(cfg.Products)),
		prefixes: make([]string, 0, len(prefixes)),
	}
	for _, p := range prefixes {
		r.prefixes = append(r.prefixes, strings.ToLower(p))
	}
	for _, p := range cfg.Products {
		r.products[r.normalize(p.ID)] = entry{
			tier:  models.Tier(p.Tier),
			cycle: models.BillingCycle(p.Cycle),
		}
	}
	return r
}

// Resolve возвращает тариф и период оплаты. intervalHint — необязательная
// подсказка провайдера о периоде ("every-month", "year" и т.п.).
func (r *Resolver) Resolve(id, intervalHint string) (models.Tier, models.BillingCycle, error) {
	key := r.normalize(id)
	if key == "" {
		return "", "", ErrUnknownTier
	}

	if e, ok := r.products[key]; ok {
		cycle := e.cycle
		if cycle == "" {
			cycle = cycleOf(intervalHint, key)
		}
		return e.tier, cycle, nil
	}

	var t models.Tier
	switch {
	case strings.Contains(key, "plus"):
		t = models.TierProPlus
	case strings.Contains(key, "pro"):
		t = models.TierPro
	default:
		return "", "", ErrUnknownTier
	}
	return t, cycleOf(intervalHint, key), nil
}

// ResolveEvent пробует идентификатор продукта, затем planId из метаданных.
func (r *Resolver) ResolveEvent(productID, planID, intervalHint string) (models.Tier, models.BillingCycle, error) {
	if productID != "" {
		t, c, err := r.Resolve(productID, intervalHint)
		if err == nil {
			return t, c, nil
		}
	}
	if planID != "" {
		return r.Resolve(planID, intervalHint)
	}
	return "", "", ErrUnknownTier
}

// ParsePlan разрешает план, выбранный пользователем в интерфейсе.
// В отличие от Resolve понимает бесплатный план.
func (r *Resolver) ParsePlan(planID string) (models.Tier, models.BillingCycle, error) {
	if r.normalize(planID) == string(models.TierFree) {
		return models.TierFree, "", nil
	}
	return r.Resolve(planID, "")
}

// ProductFor возвращает настроенный идентификатор продукта для тарифа и периода.
func (r *Resolver) ProductFor(t models.Tier, cycle models.BillingCycle) (string, bool) {
	for _, p := range r.catalog {
		if models.Tier(p.Tier) != t {
			continue
		}
		if p.Cycle == "" || models.BillingCycle(p.Cycle) == cycle {
			return p.ID, true
		}
	}
	return "", false
}

func (r *Resolver) normalize(id string) string {
	key := strings.ToLower(strings.TrimSpace(id))
	for _, p := range r.prefixes {
		if strings.HasPrefix(key, p) {
			key = strings.TrimPrefix(key, p)
			break
		}
	}
	return key
}

func cycleOf(hint, key string) models.BillingCycle {
	for _, s := range []string{strings.ToLower(hint), key} {
		switch {
		case strings.Contains(s, "year"), strings.Contains(s, "annual"):
			return models.CycleYearly
		case strings.Contains(s, "month"):
			return models.CycleMonthly
		}
	}
	return models.CycleMonthly
}
