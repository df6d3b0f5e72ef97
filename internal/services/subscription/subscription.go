// Package subscription управляет канонической подпиской пользователя:
// чтение через read-model, пробный период, оформление, отмена и возобновление
// платного тарифа, а также фоновая сверка производных представлений.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/genbilling/internal/cache"
	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/models"
	"github.com/magabrotheeeer/genbilling/internal/paymentprovider"
)

// Repository — операции хранилища подписок.
type Repository interface {
	WriteRepository
	EnsureSubscriber(ctx context.Context, userUID, email string) error
	FindExpiredTrials(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	FindLapsedCancellations(ctx context.Context, now time.Time, limit int) ([]*models.Subscription, error)
	FindDivergent(ctx context.Context, limit int) ([]models.Divergence, error)
	FindLedgerMismatches(ctx context.Context, limit int) ([]models.LedgerMismatch, error)
}

// Provider — REST API платёжного провайдера.
type Provider interface {
	CreateCheckout(ctx context.Context, req paymentprovider.CreateCheckoutRequest) (*paymentprovider.CreateCheckoutResponse, error)
	CancelSubscription(ctx context.Context, subscriptionID string) (*paymentprovider.SubscriptionResponse, error)
	ResumeSubscription(ctx context.Context, subscriptionID string) (*paymentprovider.SubscriptionResponse, error)
}

// Plans разрешает план, выбранный пользователем, и продукт провайдера для него.
type Plans interface {
	ParsePlan(planID string) (models.Tier, models.BillingCycle, error)
	ProductFor(t models.Tier, cycle models.BillingCycle) (string, bool)
}

// Options — параметры сервиса.
type Options struct {
	TrialDays int
	CacheTTL  time.Duration
	BatchSize int
}

// Service — сервис подписок.
type Service struct {
	repo     Repository
	writer   *Writer
	cache    Cache
	provider Provider
	plans    Plans
	opts     Options
	log      *slog.Logger
	now      func() time.Time
}

// New создаёт сервис подписок.
func New(repo Repository, writer *Writer, c Cache, provider Provider, plans Plans, opts Options, log *slog.Logger) *Service {
	return &Service{
		repo:     repo,
		writer:   writer,
		cache:    c,
		provider: provider,
		plans:    plans,
		opts:     opts,
		log:      log,
		now:      time.Now,
	}
}

// WithClock подменяет источник времени.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CreateRequest — запрос на оформление тарифа.
type CreateRequest struct {
	UserUID    string
	Email      string
	PlanID     string
	StartTrial bool
}

// CreateResult — либо начатый пробный период, либо адрес оплаты.
type CreateResult struct {
	Trial       bool
	TrialEndsAt *time.Time
	CheckoutURL string
}

// Ensure создаёт пользователя и бесплатную подписку, если их ещё нет.
func (s *Service) Ensure(ctx context.Context, userUID, email string) error {
	const op = "subscription.Ensure"
	if err := s.repo.EnsureSubscriber(ctx, userUID, email); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Get возвращает подписку, сначала из read-model. Отсутствующая подписка
// создаётся бесплатной.
func (s *Service) Get(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "subscription.Get"
	log := s.log.With(slog.String("op", op), sl.User(userUID))

	key := cache.SubscriptionKey(userUID)
	var cached models.Subscription
	found, err := s.cache.Get(ctx, key, &cached)
	if err != nil {
		log.Warn("failed to read subscription cache", sl.Err(err))
	}
	if found {
		return &cached, nil
	}

	sub, err := s.repo.GetSubscription(ctx, userUID)
	if errors.Is(err, models.ErrNotFound) {
		if err = s.repo.EnsureSubscriber(ctx, userUID, ""); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sub, err = s.repo.GetSubscription(ctx, userUID)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.cache.SetSubscription(ctx, sub, s.opts.CacheTTL); err != nil {
		log.Warn("failed to cache subscription", sl.Err(err))
	}
	return sub, nil
}

// Create начинает пробный период или создаёт сессию оплаты выбранного плана.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	const op = "subscription.Create"
	log := s.log.With(slog.String("op", op), sl.User(req.UserUID), slog.String("plan_id", req.PlanID))

	t, cycle, err := s.plans.ParsePlan(req.PlanID)
	if err != nil || !t.IsPaid() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidPlan)
	}

	if req.StartTrial {
		sub, err := s.StartTrial(ctx, req.UserUID, t)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return &CreateResult{Trial: true, TrialEndsAt: sub.TrialEndsAt}, nil
	}

	sub, err := s.Get(ctx, req.UserUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if sub.Tier == t && sub.HasPaidAccess(s.now()) && !sub.CancelAtPeriodEnd && sub.Status == models.StatusActive {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAlreadySubscribed)
	}

	productID, ok := s.plans.ProductFor(t, cycle)
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidPlan)
	}
	checkoutReq := paymentprovider.CreateCheckoutRequest{
		ProductID: productID,
		Metadata: map[string]string{
			"userId": req.UserUID,
			"planId": req.PlanID,
		},
	}
	if req.Email != "" {
		checkoutReq.Customer = &paymentprovider.CheckoutCustomer{Email: req.Email}
	}
	checkout, err := s.provider.CreateCheckout(ctx, checkoutReq)
	if err != nil {
		log.Error("failed to create checkout", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("checkout created", slog.String("checkout_id", checkout.ID), slog.String("product_id", productID))
	return &CreateResult{CheckoutURL: checkout.CheckoutURL}, nil
}

// StartTrial начинает пробный период тарифа t. Пробный период даётся один
// раз и не начисляет баллы.
func (s *Service) StartTrial(ctx context.Context, userUID string, t models.Tier) (*models.Subscription, error) {
	const op = "subscription.StartTrial"

	if !t.IsPaid() {
		return nil, fmt.Errorf("%s: %w", op, models.ErrInvalidPlan)
	}
	if _, err := s.Get(ctx, userUID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now().UTC()
	sub, err := s.writer.Update(ctx, userUID, "trial", func(sub *models.Subscription) error {
		if sub.HadTrial {
			return models.ErrTrialAlreadyUsed
		}
		if sub.HasPaidAccess(now) || sub.IsTrialing(now) {
			return models.ErrAlreadySubscribed
		}
		ends := now.AddDate(0, 0, s.opts.TrialDays)
		sub.Tier = t
		sub.Status = models.StatusTrialing
		sub.TrialStartedAt = &now
		sub.TrialEndsAt = &ends
		sub.HadTrial = true
		sub.CancelAtPeriodEnd = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.log.Info("trial started", slog.String("op", op), sl.User(userUID),
		slog.String("tier", string(t)), slog.Time("trial_ends_at", *sub.TrialEndsAt))
	return sub, nil
}

// Cancel отменяет подписку. Локальный пробный период завершается сразу;
// платная подписка отменяется у провайдера и действует до конца периода.
func (s *Service) Cancel(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "subscription.Cancel"
	log := s.log.With(slog.String("op", op), sl.User(userUID))

	sub, err := s.repo.GetSubscription(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	now := s.now()

	if sub.IsTrialing(now) && sub.ExternalSubscriptionID == nil {
		saved, err := s.writer.Update(ctx, userUID, "cancel", func(sub *models.Subscription) error {
			if sub.Status != models.StatusTrialing {
				return ErrUnchanged
			}
			sub.ClearTrial()
			sub.Downgrade(models.StatusActive)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		log.Info("trial cancelled")
		return saved, nil
	}

	if !sub.Tier.IsPaid() || sub.ExternalSubscriptionID == nil || sub.CancelAtPeriodEnd ||
		(sub.Status != models.StatusActive && sub.Status != models.StatusTrialing) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotCancellable)
	}

	if _, err := s.provider.CancelSubscription(ctx, *sub.ExternalSubscriptionID); err != nil {
		log.Error("provider refused cancellation", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	saved, err := s.writer.Update(ctx, userUID, "cancel", func(sub *models.Subscription) error {
		if sub.CancelAtPeriodEnd {
			return ErrUnchanged
		}
		sub.CancelAtPeriodEnd = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("subscription set to cancel at period end")
	return saved, nil
}

// Resume возобновляет приостановленную или отменённую, но ещё оплаченную подписку.
func (s *Service) Resume(ctx context.Context, userUID string) (*models.Subscription, error) {
	const op = "subscription.Resume"
	log := s.log.With(slog.String("op", op), sl.User(userUID))

	sub, err := s.repo.GetSubscription(ctx, userUID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !s.resumable(sub) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrNotResumable)
	}

	if _, err := s.provider.ResumeSubscription(ctx, *sub.ExternalSubscriptionID); err != nil {
		log.Error("provider refused resume", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	saved, err := s.writer.Update(ctx, userUID, "resume", func(sub *models.Subscription) error {
		if !sub.Tier.IsPaid() {
			return models.ErrNotResumable
		}
		sub.Status = models.StatusActive
		sub.CancelAtPeriodEnd = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("subscription resumed")
	return saved, nil
}

func (s *Service) resumable(sub *models.Subscription) bool {
	if !sub.Tier.IsPaid() || sub.ExternalSubscriptionID == nil {
		return false
	}
	switch sub.Status {
	case models.StatusPaused:
		return true
	case models.StatusActive:
		return sub.CancelAtPeriodEnd
	case models.StatusCancelled:
		return sub.HasPaidAccess(s.now())
	default:
		return false
	}
}
