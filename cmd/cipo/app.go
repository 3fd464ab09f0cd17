package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/0gfoundation/cipo/internal/api"
	"github.com/0gfoundation/cipo/internal/config"
	"github.com/0gfoundation/cipo/internal/controller"
	"github.com/0gfoundation/cipo/internal/device"
	"github.com/0gfoundation/cipo/internal/journal"
	"github.com/0gfoundation/cipo/internal/payment"
	"github.com/0gfoundation/cipo/internal/router"
	"github.com/0gfoundation/cipo/internal/status"
	"github.com/0gfoundation/cipo/internal/telemetry"
	"github.com/0gfoundation/cipo/internal/wallet"
)

const shutdownTimeout = 15 * time.Second

// worker is one device controller and the queue it consumes.
type worker struct {
	ctrl  *controller.Controller
	queue chan payment.Credit
}

type app struct {
	cfg       *config.Config
	log       *zap.Logger
	reader    *journal.Reader
	writer    *journal.Writer
	router    *router.Router
	poller    *wallet.Poller
	workers   []worker
	publisher *status.Publisher
	srv       *http.Server

	mqtt pahomqtt.Client
	rdb  *redis.Client
	tele *telemetry.Writer
}

// newApp builds every component from cfg. Nothing runs until app.run.
func newApp(cfg *config.Config, journalDir string, log *zap.Logger) (*app, error) {
	a := &app{
		cfg:    cfg,
		log:    log,
		reader: journal.NewReader(journalDir, log.Named("journal")),
		writer: journal.NewWriter(journalDir, cfg.Journal.QueueSize, log.Named("journal")),
	}

	// ── MQTT (only when a device needs it) ────────────────────────────────────
	for _, d := range cfg.Devices {
		if d.Driver != config.DriverMQTT {
			continue
		}
		client, err := device.ConnectMQTT(cfg.MQTT)
		if err != nil {
			return nil, err
		}
		a.mqtt = client
		log.Info("mqtt connected", zap.String("broker", cfg.MQTT.Broker))
		break
	}

	// ── Status board ──────────────────────────────────────────────────────────
	var board status.Board = status.NewMemoryBoard()
	if cfg.Redis.Addr != "" {
		a.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
		})
		if err := a.rdb.Ping(context.Background()).Err(); err != nil {
			a.close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		board = status.NewRedisBoard(a.rdb)
	}
	a.publisher = status.NewPublisher(board, 0, log.Named("status"))

	// ── Telemetry ─────────────────────────────────────────────────────────────
	if cfg.Influx.URL != "" {
		tele, err := telemetry.Connect(cfg.Influx, log.Named("telemetry"))
		if err != nil {
			log.Warn("telemetry disabled", zap.Error(err))
		} else {
			a.tele = tele
		}
	}

	// ── Controllers, one queue each ───────────────────────────────────────────
	routes := make(map[string]router.Route, len(cfg.Devices))
	for _, d := range cfg.Devices {
		drv, err := device.New(d, a.mqtt)
		if err != nil {
			a.close()
			return nil, err
		}
		opts := controller.Options{
			PollInterval: cfg.Delivery.PollInterval,
			Observer:     a.publisher,
		}
		if a.tele != nil {
			opts.Telemetry = a.tele
		}
		w := worker{
			ctrl:  controller.New(d.Location, drv, a.writer.Entries(), opts, log.Named("controller")),
			queue: make(chan payment.Credit, cfg.Delivery.QueueSize),
		}
		a.workers = append(a.workers, w)
		routes[d.Monero] = router.Route{Device: d.Location, Queue: w.queue}
	}

	a.router = router.New(routes, cfg.Price.XMRPerKWh, log.Named("router"))
	rpc := wallet.NewClient(cfg.MoneroRPC.Host, cfg.MoneroRPC.Port, cfg.Wallet.StartHeight)
	a.poller = wallet.NewPoller(rpc, cfg.Wallet.PollInterval, log.Named("wallet"))

	// ── HTTP server ───────────────────────────────────────────────────────────
	if cfg.Server.Port > 0 {
		a.srv = &http.Server{
			Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
			Handler: api.NewEngine(api.NewHandler(board, log.Named("api"))),
		}
	}
	return a, nil
}

// run recovers outstanding deliveries and supervises every worker until ctx
// is cancelled or one of them fails. A journal write failure is returned.
func (a *app) run(ctx context.Context) error {
	recovery, err := a.reader.Recover()
	if err != nil {
		return fmt.Errorf("journal recovery: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.writer.Run(gctx) })
	g.Go(func() error { return a.publisher.Run(gctx) })
	for _, w := range a.workers {
		w := w
		g.Go(func() error { return w.ctrl.Run(gctx, w.queue) })
	}

	transfers := make(chan payment.Transfer, a.cfg.Wallet.QueueSize)
	g.Go(func() error {
		a.router.MarkDelivered(recovery.Delivered)
		if err := a.router.Replay(gctx, recovery.Outstanding); err != nil {
			return err
		}
		return a.router.Run(gctx, transfers)
	})
	g.Go(func() error { return a.poller.Run(gctx, transfers) })

	if a.srv != nil {
		g.Go(func() error {
			a.log.Info("HTTP server starting", zap.Int("port", a.cfg.Server.Port))
			if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := a.srv.Shutdown(shutdownCtx); err != nil {
				a.log.Error("HTTP server shutdown error", zap.Error(err))
			}
			return nil
		})
	}

	a.log.Info("cipo started",
		zap.Int("devices", len(a.workers)),
		zap.Int("resumed", len(recovery.Outstanding)),
		zap.String("wallet", a.cfg.MoneroRPC.Host),
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		err = nil
	}
	return err
}

func (a *app) close() {
	if a.tele != nil {
		a.tele.Close()
	}
	if a.rdb != nil {
		a.rdb.Close() //nolint:errcheck
	}
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
	}
}
