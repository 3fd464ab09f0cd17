package device

import (
	"context"
	"errors"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/0gfoundation/cipo/internal/config"
)

var (
	ErrStatus  = errors.New("device status failed")
	ErrCommand = errors.New("device command failed")
)

// Status is one reading of a switch's energy meter.
type Status struct {
	Power float64 // instantaneous load, W
	Total float64 // accumulated energy, Wh
}

// Driver controls one physical switch. Every call may fail with a transport
// error; callers retry on their own schedule.
type Driver interface {
	Status(ctx context.Context) (Status, error)
	TurnOn(ctx context.Context) error
	TurnOff(ctx context.Context) error
}

// New builds the driver selected by d.Driver. mqtt may be nil when no device
// uses the MQTT driver.
func New(d config.Device, mqtt pahomqtt.Client) (Driver, error) {
	switch d.Driver {
	case "", config.DriverHTTP:
		return NewShellyHTTP(d.Host, d.Switch), nil
	case config.DriverMQTT:
		if mqtt == nil {
			return nil, fmt.Errorf("device %s: mqtt driver without mqtt connection", d.Location)
		}
		return NewShellyMQTT(mqtt, d.Topic, d.Switch)
	default:
		return nil, fmt.Errorf("device %s: unknown driver %q", d.Location, d.Driver)
	}
}
