package controller

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/device"
	"github.com/0gfoundation/cipo/internal/journal"
	"github.com/0gfoundation/cipo/internal/metrics"
	"github.com/0gfoundation/cipo/internal/payment"
)

// Options are the optional collaborators of a Controller.
type Options struct {
	PollInterval time.Duration
	Observer     Observer
	Telemetry    Telemetry
	Now          func() time.Time
}

// Controller delivers credits for one device, one at a time, in queue order.
//
//	Idle ──dequeue──▶ Starting ──meter read──▶ Delivering ──remaining ≤ 0, OFF ok──▶ Done ──closing read──▶ Idle
//
// Every reading is journaled before any command is sent. A failed meter read
// leaves the state unchanged until the next tick. A failed OFF keeps the
// controller in Delivering, so OFF is retried on every tick until it
// succeeds.
type Controller struct {
	name     string
	driver   device.Driver
	journal  chan<- journal.Entry
	interval time.Duration
	observer Observer
	tele     Telemetry
	now      func() time.Time
	log      *zap.Logger
}

// delivery is the in-flight state for one credit.
type delivery struct {
	credit    payment.Credit
	state     State
	end       float64
	lastTotal float64
}

func New(name string, drv device.Driver, sink chan<- journal.Entry, opts Options, log *zap.Logger) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Controller{
		name:     name,
		driver:   drv,
		journal:  sink,
		interval: opts.PollInterval,
		observer: opts.Observer,
		tele:     opts.Telemetry,
		now:      opts.Now,
		log:      log.With(zap.String("device", name)),
	}
}

// Run consumes credits until ctx is cancelled or queue is closed.
func (c *Controller) Run(ctx context.Context, queue <-chan payment.Credit) error {
	metrics.ControllerState.WithLabelValues(c.name).Set(float64(Idle))
	c.report(&delivery{state: Idle}, 0)
	for {
		select {
		case credit, ok := <-queue:
			if !ok {
				return nil
			}
			if err := c.Deliver(ctx, credit); err != nil {
				if ctx.Err() != nil {
					c.log.Info("controller stopped mid-delivery", zap.String("txid", credit.TxID))
					return nil
				}
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Deliver runs one credit through the state machine and returns once the
// controller is back in Idle. It only fails when ctx is cancelled or the
// journal queue cannot be reached.
func (c *Controller) Deliver(ctx context.Context, credit payment.Credit) error {
	d := &delivery{credit: credit}
	c.transition(d, Starting, 0)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		var err error
		switch d.state {
		case Starting:
			err = c.start(ctx, d)
		case Delivering:
			err = c.poll(ctx, d)
		case Done:
			err = c.finish(ctx, d)
			c.transition(d, Idle, d.lastTotal)
			return err
		}
		if err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// start takes the opening meter reading and switches the load on.
func (c *Controller) start(ctx context.Context, d *delivery) error {
	st, ok := c.status(ctx, d)
	if !ok {
		return nil
	}
	d.end = st.Total + d.credit.WattHours
	d.lastTotal = st.Total
	if err := c.persist(ctx, d, d.credit.WattHours); err != nil {
		return err
	}
	c.record(d, st, d.credit.WattHours)

	c.log.Info("turning on",
		zap.String("txid", d.credit.TxID),
		zap.Float64("meter_wh", st.Total),
		zap.Float64("end_wh", d.end),
	)
	c.command(ctx, "on", c.driver.TurnOn)
	c.transition(d, Delivering, st.Total)
	return nil
}

// poll takes one reading while delivering.
func (c *Controller) poll(ctx context.Context, d *delivery) error {
	st, ok := c.status(ctx, d)
	if !ok {
		return nil
	}
	remaining := d.end - st.Total
	if err := c.persist(ctx, d, remaining); err != nil {
		return err
	}
	c.record(d, st, remaining)
	c.account(d, st.Total)

	c.log.Debug("delivering",
		zap.String("txid", d.credit.TxID),
		zap.Float64("load_w", st.Power),
		zap.Float64("meter_wh", st.Total),
		zap.Float64("end_wh", d.end),
	)
	c.report(d, remaining)

	if remaining > 0 {
		c.command(ctx, "on", c.driver.TurnOn)
		return nil
	}

	c.log.Info("turning off", zap.String("txid", d.credit.TxID), zap.Float64("meter_wh", st.Total))
	if !c.command(ctx, "off", c.driver.TurnOff) {
		return nil
	}
	metrics.DeliveriesCompleted.WithLabelValues(c.name).Inc()
	c.transition(d, Done, st.Total)
	return nil
}

// finish journals one closing reading so the overshoot after switching off
// is on record. No command is sent; a failed read is skipped.
func (c *Controller) finish(ctx context.Context, d *delivery) error {
	st, ok := c.status(ctx, d)
	if !ok {
		return nil
	}
	remaining := d.end - st.Total
	if err := c.persist(ctx, d, remaining); err != nil {
		return err
	}
	c.record(d, st, remaining)
	c.account(d, st.Total)

	c.log.Info("delivery complete",
		zap.String("txid", d.credit.TxID),
		zap.Float64("credit_wh", d.credit.WattHours),
		zap.Float64("overshoot_wh", -remaining),
	)
	return nil
}

// account adds the energy metered since the last reading to the delivered
// counter. A meter that went backwards contributes nothing.
func (c *Controller) account(d *delivery, total float64) {
	if delta := total - d.lastTotal; delta > 0 {
		metrics.DeliveredWattHours.WithLabelValues(c.name).Add(delta)
	}
	d.lastTotal = total
}

func (c *Controller) status(ctx context.Context, d *delivery) (device.Status, bool) {
	st, err := c.driver.Status(ctx)
	if err != nil {
		metrics.DriverErrors.WithLabelValues(c.name, "status").Inc()
		c.log.Error("error while getting status",
			zap.String("txid", d.credit.TxID),
			zap.String("state", d.state.String()),
			zap.Error(err),
		)
		return device.Status{}, false
	}
	if d.state != Starting && st.Total < d.lastTotal {
		c.log.Warn("meter went backwards",
			zap.String("txid", d.credit.TxID),
			zap.Float64("previous_wh", d.lastTotal),
			zap.Float64("meter_wh", st.Total),
		)
	}
	return st, true
}

// command issues an on/off call; failures are logged and reported as false.
func (c *Controller) command(ctx context.Context, op string, fn func(context.Context) error) bool {
	if err := fn(ctx); err != nil {
		metrics.DriverErrors.WithLabelValues(c.name, op).Inc()
		c.log.Error("switch command failed", zap.String("op", op), zap.Error(err))
		return false
	}
	return true
}

// persist hands a progress entry to the journal writer, blocking while its
// queue is full.
func (c *Controller) persist(ctx context.Context, d *delivery, remaining float64) error {
	e := journal.Entry{
		Address:            d.credit.Address,
		TxID:               d.credit.TxID,
		Time:               c.now(),
		RemainingWattHours: remaining,
	}
	select {
	case c.journal <- e:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) record(d *delivery, st device.Status, remaining float64) {
	if c.tele != nil {
		c.tele.RecordReading(c.name, d.credit.TxID, st, remaining)
	}
}

func (c *Controller) transition(d *delivery, to State, meter float64) {
	c.log.Debug("state change",
		zap.String("txid", d.credit.TxID),
		zap.String("from", d.state.String()),
		zap.String("to", to.String()),
	)
	d.state = to
	metrics.ControllerState.WithLabelValues(c.name).Set(float64(to))
	remaining := d.end - meter
	switch to {
	case Starting:
		remaining = d.credit.WattHours
	case Idle:
		remaining = 0
	}
	c.reportAt(d, remaining, meter)
}

func (c *Controller) report(d *delivery, remaining float64) {
	c.reportAt(d, remaining, d.lastTotal)
}

func (c *Controller) reportAt(d *delivery, remaining, meter float64) {
	if c.observer == nil {
		return
	}
	c.observer.Observe(Snapshot{
		Device:    c.name,
		State:     d.state,
		Address:   d.credit.Address,
		TxID:      d.credit.TxID,
		Credit:    d.credit.WattHours,
		Remaining: remaining,
		Meter:     meter,
		Time:      c.now(),
	})
}
