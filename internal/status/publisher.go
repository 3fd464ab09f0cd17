package status

import (
	"context"

	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/controller"
)

// Publisher is the single writer of the status board. Controllers hand it
// snapshots through Observe, which never blocks: when the buffer is full the
// snapshot is dropped, since the next one supersedes it anyway.
type Publisher struct {
	board Board
	ch    chan controller.Snapshot
	log   *zap.Logger
}

func NewPublisher(board Board, buffer int, log *zap.Logger) *Publisher {
	if buffer <= 0 {
		buffer = 64
	}
	return &Publisher{
		board: board,
		ch:    make(chan controller.Snapshot, buffer),
		log:   log,
	}
}

func (p *Publisher) Observe(s controller.Snapshot) {
	select {
	case p.ch <- s:
	default:
		p.log.Warn("status buffer full, dropping snapshot",
			zap.String("device", s.Device),
			zap.String("state", s.State.String()),
		)
	}
}

// Run writes snapshots to the board until ctx is cancelled. Board errors are
// logged and never stop delivery.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case s := <-p.ch:
			p.publish(ctx, s)
		case <-ctx.Done():
			return nil
		}
	}
}

func (p *Publisher) publish(ctx context.Context, s controller.Snapshot) {
	if err := p.board.Save(ctx, FromSnapshot(s)); err != nil {
		p.log.Warn("status board write failed", zap.String("device", s.Device), zap.Error(err))
		return
	}
	if s.State != controller.Done {
		return
	}
	n, err := p.board.Completed(ctx)
	if err != nil {
		p.log.Warn("status board counter failed", zap.Error(err))
		return
	}
	p.log.Debug("delivery recorded", zap.String("device", s.Device), zap.String("txid", s.TxID), zap.Int64("completed", n))
}
