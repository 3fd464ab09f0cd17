package wallet

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/metrics"
	"github.com/0gfoundation/cipo/internal/payment"
)

// Source is the wallet API the poller needs.
type Source interface {
	Refresh(ctx context.Context) error
	Transfers(ctx context.Context) ([]payment.Transfer, error)
}

// Poller forwards every transfer the wallet reports, on every poll. It keeps
// no memory of what it already sent; deduplication is the router's job.
type Poller struct {
	src      Source
	interval time.Duration
	log      *zap.Logger
}

func NewPoller(src Source, interval time.Duration, log *zap.Logger) *Poller {
	return &Poller{src: src, interval: interval, log: log}
}

// Run polls until ctx is cancelled. Poll failures are logged and retried on
// the next tick.
func (p *Poller) Run(ctx context.Context, out chan<- payment.Transfer) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.log.Info("waiting for payments", zap.Duration("interval", p.interval))

	for {
		if err := p.poll(ctx, out); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			metrics.WalletPollErrors.Inc()
			p.log.Error("wallet poll failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			p.log.Info("wallet poller stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context, out chan<- payment.Transfer) error {
	if err := p.src.Refresh(ctx); err != nil {
		return err
	}
	transfers, err := p.src.Transfers(ctx)
	if err != nil {
		return err
	}
	p.log.Debug("wallet polled", zap.Int("transfers", len(transfers)))
	for _, t := range transfers {
		select {
		case out <- t:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
