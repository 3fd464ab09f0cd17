package controller

import (
	"time"

	"github.com/0gfoundation/cipo/internal/device"
)

// State is the delivery state of one controller.
type State int

const (
	Idle State = iota
	Starting
	Delivering
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Starting:
		return "starting"
	case Delivering:
		return "delivering"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

// Snapshot is what a controller reports after each transition or reading.
type Snapshot struct {
	Device    string
	State     State
	Address   string
	TxID      string
	Credit    float64 // watt-hours this delivery started with
	Remaining float64
	Meter     float64
	Time      time.Time
}

// Observer receives snapshots. Observe is called from the controller's
// goroutine and must not block.
type Observer interface {
	Observe(Snapshot)
}

// Telemetry records meter readings taken during a delivery.
type Telemetry interface {
	RecordReading(device, txid string, st device.Status, remaining float64)
}
