package automation

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// TenantRunner runs fn once per tenant with a context scoped to that tenant.
type TenantRunner func(ctx context.Context, fn func(ctx context.Context, tenantID string) error) error

// Monitor runs the breach sweep for every tenant on a fixed interval.
type Monitor struct {
	svc      *Service
	tenants  TenantRunner
	interval time.Duration
	logger   zerolog.Logger
}

func NewMonitor(svc *Service, tenants TenantRunner, interval time.Duration, logger zerolog.Logger) *Monitor {
	return &Monitor{
		svc:      svc,
		tenants:  tenants,
		interval: interval,
		logger:   logger.With().Str("component", "breach-monitor").Logger(),
	}
}

// RunOnce sweeps every tenant as of asOf and returns the per-tenant results.
func (m *Monitor) RunOnce(ctx context.Context, asOf time.Time) (map[string]*SweepResult, error) {
	results := make(map[string]*SweepResult)
	err := m.tenants(ctx, func(ctx context.Context, tenantID string) error {
		res, err := m.svc.Sweep(ctx, asOf)
		if res != nil {
			results[tenantID] = res
		}
		return err
	})
	return results, err
}

// Start sweeps immediately and then on every tick. It blocks until ctx is
// cancelled.
func (m *Monitor) Start(ctx context.Context) {
	if m.interval <= 0 {
		m.logger.Info().Msg("breach monitor disabled")
		return
	}
	m.logger.Info().Dur("interval", m.interval).Msg("breach monitor started")
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			m.logger.Info().Msg("breach monitor stopped")
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	results, err := m.RunOnce(ctx, time.Time{})
	if err != nil && ctx.Err() == nil {
		m.logger.Error().Err(err).Msg("breach sweep failed")
	}
	for tenant, res := range results {
		m.logger.Debug().
			Str("tenant_id", tenant).
			Int("scanned", res.Scanned).
			Int("notified", res.Notified).
			Msg("tenant swept")
	}
}
