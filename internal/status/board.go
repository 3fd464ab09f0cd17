package status

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/0gfoundation/cipo/internal/controller"
)

const (
	deliveryKeyPrefix = "cipo:delivery:"
	processedKey      = "cipo:processed"
)

// Delivery is the last reported state of one device.
type Delivery struct {
	Location  string    `json:"location"`
	State     string    `json:"state"`
	Address   string    `json:"address,omitempty"`
	TxID      string    `json:"txid,omitempty"`
	Target    float64   `json:"target_wh"`
	Remaining float64   `json:"remaining_wh"`
	Meter     float64   `json:"meter_wh"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromSnapshot converts a controller snapshot into a board row.
func FromSnapshot(s controller.Snapshot) Delivery {
	return Delivery{
		Location:  s.Device,
		State:     s.State.String(),
		Address:   s.Address,
		TxID:      s.TxID,
		Target:    s.Credit,
		Remaining: s.Remaining,
		Meter:     s.Meter,
		UpdatedAt: s.Time.UTC(),
	}
}

// Board stores per-device delivery state for the status API.
type Board interface {
	Save(ctx context.Context, d Delivery) error
	Get(ctx context.Context, location string) (*Delivery, error)
	ScanAll(ctx context.Context) ([]Delivery, error)
	// Completed increments and returns the count of finished deliveries.
	Completed(ctx context.Context) (int64, error)
}

// ── Redis ────────────────────────────────────────────────────────────────────

type RedisBoard struct {
	rdb *redis.Client
}

func NewRedisBoard(rdb *redis.Client) *RedisBoard {
	return &RedisBoard{rdb: rdb}
}

func deliveryKey(location string) string {
	return deliveryKeyPrefix + location
}

func (b *RedisBoard) Save(ctx context.Context, d Delivery) error {
	return b.rdb.HSet(ctx, deliveryKey(d.Location),
		"location", d.Location,
		"state", d.State,
		"address", d.Address,
		"txid", d.TxID,
		"target", strconv.FormatFloat(d.Target, 'f', -1, 64),
		"remaining", strconv.FormatFloat(d.Remaining, 'f', -1, 64),
		"meter", strconv.FormatFloat(d.Meter, 'f', -1, 64),
		"updated_at", d.UpdatedAt.Unix(),
	).Err()
}

// Get returns nil, nil when the device has never reported.
func (b *RedisBoard) Get(ctx context.Context, location string) (*Delivery, error) {
	vals, err := b.rdb.HGetAll(ctx, deliveryKey(location)).Result()
	if err != nil {
		return nil, err
	}
	if len(vals) == 0 {
		return nil, nil
	}
	d := deliveryFromMap(vals)
	return &d, nil
}

func (b *RedisBoard) ScanAll(ctx context.Context) ([]Delivery, error) {
	var out []Delivery
	var cursor uint64
	for {
		keys, next, err := b.rdb.Scan(ctx, cursor, deliveryKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan deliveries: %w", err)
		}
		for _, key := range keys {
			vals, err := b.rdb.HGetAll(ctx, key).Result()
			if err != nil || len(vals) == 0 {
				continue
			}
			out = append(out, deliveryFromMap(vals))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sortByLocation(out)
	return out, nil
}

func (b *RedisBoard) Completed(ctx context.Context) (int64, error) {
	return b.rdb.Incr(ctx, processedKey).Result()
}

func deliveryFromMap(m map[string]string) Delivery {
	target, _ := strconv.ParseFloat(m["target"], 64)
	remaining, _ := strconv.ParseFloat(m["remaining"], 64)
	meter, _ := strconv.ParseFloat(m["meter"], 64)
	updated, _ := strconv.ParseInt(m["updated_at"], 10, 64)
	return Delivery{
		Location:  m["location"],
		State:     m["state"],
		Address:   m["address"],
		TxID:      m["txid"],
		Target:    target,
		Remaining: remaining,
		Meter:     meter,
		UpdatedAt: time.Unix(updated, 0).UTC(),
	}
}

// ── in-process ───────────────────────────────────────────────────────────────

// MemoryBoard is used when no redis address is configured.
type MemoryBoard struct {
	mu        sync.RWMutex
	rows      map[string]Delivery
	completed int64
}

func NewMemoryBoard() *MemoryBoard {
	return &MemoryBoard{rows: make(map[string]Delivery)}
}

func (b *MemoryBoard) Save(_ context.Context, d Delivery) error {
	b.mu.Lock()
	b.rows[d.Location] = d
	b.mu.Unlock()
	return nil
}

func (b *MemoryBoard) Get(_ context.Context, location string) (*Delivery, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	d, ok := b.rows[location]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (b *MemoryBoard) ScanAll(context.Context) ([]Delivery, error) {
	b.mu.RLock()
	out := make([]Delivery, 0, len(b.rows))
	for _, d := range b.rows {
		out = append(out, d)
	}
	b.mu.RUnlock()
	sortByLocation(out)
	return out, nil
}

func (b *MemoryBoard) Completed(context.Context) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completed++
	return b.completed, nil
}

func sortByLocation(ds []Delivery) {
	sort.Slice(ds, func(i, j int) bool { return ds[i].Location < ds[j].Location })
}
