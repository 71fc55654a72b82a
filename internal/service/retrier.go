package service

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/brightpath/backend/internal/domain"
	"github.com/brightpath/backend/internal/metrics"
)

const retryBatchSize = 100

// RetryReport summarises one provisioning pass.
type RetryReport struct {
	Checked     int `json:"checked"`
	Provisioned int `json:"provisioned"`
	Failed      int `json:"failed"`
}

// ProvisioningRetrier periodically provisions successful payments whose
// subscription was never created.
type ProvisioningRetrier struct {
	sessions PaymentSessionStore
	subs     *SubscriptionService
	metrics  *metrics.Metrics
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time
}

func NewProvisioningRetrier(sessions PaymentSessionStore, subs *SubscriptionService, m *metrics.Metrics, log zerolog.Logger, interval time.Duration) *ProvisioningRetrier {
	return &ProvisioningRetrier{
		sessions: sessions,
		subs:     subs,
		metrics:  m,
		log:      log,
		interval: interval,
		now:      time.Now,
	}
}

// Start runs a pass immediately, then every interval until ctx is done.
func (r *ProvisioningRetrier) Start(ctx context.Context) {
	go func() {
		r.RunOnce(ctx)
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.RunOnce(ctx)
			}
		}
	}()
}

// RunOnce provisions every currently unprovisioned successful payment.
func (r *ProvisioningRetrier) RunOnce(ctx context.Context) RetryReport {
	var report RetryReport
	pending, err := r.sessions.ListUnprovisioned(ctx, StaleClaimAfter, retryBatchSize)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to list unprovisioned payments")
		return report
	}
	report.Checked = len(pending)

	for _, rec := range pending {
		if ctx.Err() != nil {
			break
		}
		sub, err := r.subs.ProvisionFromSession(ctx, rec)
		switch {
		case err != nil:
			report.Failed++
			r.log.Error().Err(err).Str("sessionId", rec.SessionID).Str("userId", rec.UserID).
				Msg("provisioning retry failed")
		case sub != nil:
			report.Provisioned++
			r.log.Info().Str("sessionId", rec.SessionID).Str("subscriptionId", sub.ID).
				Msg("deferred subscription provisioned")
		}
	}

	r.metrics.ProvisioningBacklog.Set(float64(report.Checked - report.Provisioned))
	if report.Checked > 0 {
		r.log.Info().Int("checked", report.Checked).Int("provisioned", report.Provisioned).
			Int("failed", report.Failed).Msg("provisioning pass finished")
	}
	return report
}

// Backlog lists the successful payments still waiting for a subscription.
func (r *ProvisioningRetrier) Backlog(ctx context.Context) (*domain.ProvisioningSummary, error) {
	pending, err := r.sessions.ListUnprovisioned(ctx, StaleClaimAfter, retryBatchSize)
	if err != nil {
		return nil, domain.ErrInternal("failed to list unprovisioned payments", err)
	}
	if pending == nil {
		pending = []*domain.PaymentSessionRecord{}
	}
	r.metrics.ProvisioningBacklog.Set(float64(len(pending)))
	return &domain.ProvisioningSummary{
		Pending: pending,
		Count:   len(pending),
		Checked: r.now().UTC(),
	}, nil
}
