// Package telemetry streams meter readings taken during deliveries to
// InfluxDB as "energy" points.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/config"
	"github.com/0gfoundation/cipo/internal/device"
)

const (
	measurement    = "energy"
	connectTimeout = 10 * time.Second
	batchSize      = 100
	flushMillis    = 10_000
)

var ErrConnectionFailed = errors.New("influxdb connection failed")

// Writer is a non-blocking, batched point writer.
type Writer struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	now      func() time.Time
}

// Connect pings the server before returning. Async write errors are logged.
func Connect(cfg config.InfluxConfig, log *zap.Logger) (*Writer, error) {
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(batchSize).
			SetFlushInterval(flushMillis),
	)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	w := &Writer{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		now:      time.Now,
	}
	go func(errs <-chan error) {
		for err := range errs {
			log.Warn("influxdb write failed", zap.Error(err))
		}
	}(w.writeAPI.Errors())
	return w, nil
}

// RecordReading queues one reading. It never blocks the caller.
func (w *Writer) RecordReading(location, txid string, st device.Status, remaining float64) {
	w.writeAPI.WritePoint(readingPoint(location, txid, st, remaining, w.now()))
}

// Close flushes pending points and releases the client.
func (w *Writer) Close() {
	w.writeAPI.Flush()
	w.client.Close()
}

func readingPoint(location, txid string, st device.Status, remaining float64, at time.Time) *write.Point {
	return influxdb2.NewPoint(measurement,
		map[string]string{"device": location, "txid": txid},
		map[string]interface{}{
			"power_w":      st.Power,
			"meter_wh":     st.Total,
			"remaining_wh": remaining,
		},
		at,
	)
}
