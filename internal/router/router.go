package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/journal"
	"github.com/0gfoundation/cipo/internal/metrics"
	"github.com/0gfoundation/cipo/internal/payment"
)

// Route is the queue of one device controller.
type Route struct {
	Device string
	Queue  chan<- payment.Credit
}

var ErrUnknownAddress = errors.New("no device for address")

// Router turns transfers into credits and dispatches each txid at most once.
//
// The route table is copied at construction and never changes afterwards.
// The processed set lives only in this process; on startup it is primed by
// Replay from the journal before live transfers are routed.
type Router struct {
	routes      map[string]Route
	pricePerKWh float64
	processed   map[string]struct{}
	rejected    map[string]struct{}
	log         *zap.Logger
}

func New(routes map[string]Route, pricePerKWh float64, log *zap.Logger) *Router {
	table := make(map[string]Route, len(routes))
	for addr, r := range routes {
		table[addr] = r
	}
	return &Router{
		routes:      table,
		pricePerKWh: pricePerKWh,
		processed:   make(map[string]struct{}),
		rejected:    make(map[string]struct{}),
		log:         log,
	}
}

// MarkDelivered records txids the journal shows as already served, so the
// wallet reporting them again after a restart starts nothing. Call it before
// Run.
func (r *Router) MarkDelivered(txids []string) {
	for _, id := range txids {
		r.processed[id] = struct{}{}
	}
}

// Replay dispatches credits recovered from the journal. It must finish before
// Run starts reading live transfers.
func (r *Router) Replay(ctx context.Context, credits []payment.Credit) error {
	for _, c := range credits {
		if err := r.dispatch(ctx, c, "journal"); err != nil {
			return err
		}
	}
	r.log.Info("journal replayed", zap.Int("credits", len(credits)), zap.Int("processed", len(r.processed)))
	return nil
}

// Run routes live transfers until ctx is cancelled or in is closed.
func (r *Router) Run(ctx context.Context, in <-chan payment.Transfer) error {
	for {
		select {
		case t, ok := <-in:
			if !ok {
				return nil
			}
			if err := r.Route(ctx, t); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Route converts one live transfer at the configured price and dispatches it.
// The only error it returns is a cancelled context while waiting on a full
// device queue.
func (r *Router) Route(ctx context.Context, t payment.Transfer) error {
	xmr := zap.String("xmr", fmt.Sprintf("%.12f", payment.XMR(t.Amount)))
	return r.dispatch(ctx, t.Credit(r.pricePerKWh), "wallet", xmr)
}

func (r *Router) dispatch(ctx context.Context, c payment.Credit, source string, fields ...zap.Field) error {
	metrics.TransfersReceived.Inc()
	if r.Processed(c.TxID) {
		metrics.DuplicatesDropped.Inc()
		return nil
	}
	if _, dropped := r.rejected[c.TxID]; dropped {
		return nil
	}

	route, ok := r.routes[c.Address]
	if !ok {
		// The wallet reports the transfer again on every poll; log it once.
		r.rejected[c.TxID] = struct{}{}
		metrics.RoutingErrors.Inc()
		r.log.Error("missing device for address",
			zap.String("address", c.Address),
			zap.String("txid", c.TxID),
			zap.Error(ErrUnknownAddress),
		)
		return nil
	}
	if !journal.ValidKey(c.TxID) {
		r.rejected[c.TxID] = struct{}{}
		r.log.Error("txid cannot be journaled, dropping credit",
			zap.String("device", route.Device),
			zap.String("txid", c.TxID),
		)
		return nil
	}
	if c.WattHours <= 0 {
		r.rejected[c.TxID] = struct{}{}
		r.log.Warn("credit carries no energy, dropping",
			zap.String("device", route.Device),
			zap.String("txid", c.TxID),
			zap.Float64("watt_hours", c.WattHours),
		)
		return nil
	}

	select {
	case route.Queue <- c:
	case <-ctx.Done():
		return fmt.Errorf("dispatch %s to %s: %w", c.TxID, route.Device, ctx.Err())
	}
	r.processed[c.TxID] = struct{}{}
	metrics.CreditsDispatched.WithLabelValues(route.Device, source).Inc()
	r.log.Info("credit dispatched", append(fields,
		zap.String("device", route.Device),
		zap.String("txid", c.TxID),
		zap.String("source", source),
		zap.Float64("watt_hours", c.WattHours),
	)...)
	return nil
}

// Processed reports whether txid has been dispatched in this process.
func (r *Router) Processed(txid string) bool {
	_, done := r.processed[txid]
	return done
}
