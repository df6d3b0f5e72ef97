package subscription

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/genbilling/internal/lib/sl"
	"github.com/magabrotheeeer/genbilling/internal/metrics"
	"github.com/magabrotheeeer/genbilling/internal/models"
)

// AuditReport — итог сверки.
type AuditReport struct {
	Divergent        int
	Repaired         int
	LedgerMismatches int
}

// AuditDualWrite находит пользователей, у которых устаревшие поля users
// расходятся с канонической подпиской, и перезаписывает их.
func (s *Service) AuditDualWrite(ctx context.Context) (AuditReport, error) {
	const op = "subscription.AuditDualWrite"
	log := s.log.With(slog.String("op", op))

	divergent, err := s.repo.FindDivergent(ctx, s.opts.BatchSize)
	if err != nil {
		return AuditReport{}, fmt.Errorf("%s: %w", op, err)
	}
	metrics.DivergenceGauge.WithLabelValues("legacy").Set(float64(len(divergent)))

	report := AuditReport{Divergent: len(divergent)}
	for _, d := range divergent {
		log.Warn("legacy subscription diverged",
			sl.User(d.UserUID),
			slog.String("canonical_tier", string(d.CanonicalTier)),
			slog.String("legacy_tier", string(d.LegacyTier)),
			slog.String("canonical_status", string(d.CanonicalStatus)),
			slog.String("legacy_status", string(d.LegacyStatus)),
		)
		if err := s.writer.Repair(ctx, d.UserUID); err != nil {
			log.Error("failed to repair legacy subscription", sl.User(d.UserUID), sl.Err(err))
			continue
		}
		report.Repaired++
	}
	if report.Divergent > 0 {
		log.Info("dual write audit finished", slog.Int("divergent", report.Divergent), slog.Int("repaired", report.Repaired))
	}
	return report, nil
}

// AuditLedger проверяет тождество баланса и журнала. Расхождения только
// логируются: автоматическая правка баланса недопустима.
func (s *Service) AuditLedger(ctx context.Context) (int, error) {
	const op = "subscription.AuditLedger"

	mismatches, err := s.repo.FindLedgerMismatches(ctx, s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	metrics.DivergenceGauge.WithLabelValues("ledger").Set(float64(len(mismatches)))
	for _, m := range mismatches {
		s.log.Error("ledger identity violated", slog.String("op", op), sl.User(m.UserUID),
			slog.Int64("balance", m.Balance), slog.Int64("journal_total", m.JournalTotal))
	}
	return len(mismatches), nil
}

// ExpireTrials переводит на бесплатный тариф локальные пробные периоды,
// срок которых истёк. Пробными периодами провайдера управляют вебхуки.
func (s *Service) ExpireTrials(ctx context.Context) (int, error) {
	const op = "subscription.ExpireTrials"
	log := s.log.With(slog.String("op", op))

	now := s.now()
	subs, err := s.repo.FindExpiredTrials(ctx, now, s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	expired := 0
	for _, sub := range subs {
		if sub.ExternalSubscriptionID != nil {
			continue
		}
		_, err := s.writer.Update(ctx, sub.UserUID, "reconciler", func(cur *models.Subscription) error {
			if cur.Status != models.StatusTrialing || cur.TrialEndsAt == nil || cur.TrialEndsAt.After(now) {
				return ErrUnchanged
			}
			cur.ClearTrial()
			cur.Downgrade(models.StatusExpired)
			return nil
		})
		if err != nil {
			log.Error("failed to expire trial", sl.User(sub.UserUID), sl.Err(err))
			continue
		}
		expired++
	}
	return expired, nil
}

// DowngradeLapsed переводит на бесплатный тариф отменённые подписки,
// оплаченный период которых закончился.
func (s *Service) DowngradeLapsed(ctx context.Context) (int, error) {
	const op = "subscription.DowngradeLapsed"
	log := s.log.With(slog.String("op", op))

	now := s.now()
	subs, err := s.repo.FindLapsedCancellations(ctx, now, s.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	lapsed := 0
	for _, sub := range subs {
		_, err := s.writer.Update(ctx, sub.UserUID, "reconciler", func(cur *models.Subscription) error {
			if cur.Status != models.StatusCancelled || !cur.Tier.IsPaid() || cur.HasPaidAccess(now) {
				return ErrUnchanged
			}
			cur.Downgrade(models.StatusCancelled)
			return nil
		})
		if err != nil {
			log.Error("failed to downgrade lapsed subscription", sl.User(sub.UserUID), sl.Err(err))
			continue
		}
		lapsed++
	}
	return lapsed, nil
}
