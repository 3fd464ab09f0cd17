package device

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

const defaultRPCTimeout = 10 * time.Second

// ShellyMQTT drives a Shelly Gen2 switch through RPC over MQTT. Requests go
// to <topic>/rpc; the device answers on <src>/rpc where src is unique per
// driver.
type ShellyMQTT struct {
	client   pahomqtt.Client
	topic    string
	switchID int
	src      string
	timeout  time.Duration

	nextID  atomic.Int64
	mu      sync.Mutex
	pending map[int64]chan rpcReply
}

type rpcFrame struct {
	ID     int64          `json:"id"`
	Src    string         `json:"src"`
	Method string         `json:"method"`
	Params map[string]any `json:"params,omitempty"`
}

type rpcReply struct {
	result []byte
	err    error
}

// NewShellyMQTT subscribes to the driver's reply topic and returns a driver
// for switch id of the device listening on topic.
func NewShellyMQTT(client pahomqtt.Client, topic string, id int) (*ShellyMQTT, error) {
	d := &ShellyMQTT{
		client:   client,
		topic:    topic,
		switchID: id,
		src:      "cipo-" + uuid.NewString(),
		timeout:  defaultRPCTimeout,
		pending:  make(map[int64]chan rpcReply),
	}
	token := client.Subscribe(d.src+"/rpc", 1, d.handleReply)
	if !token.WaitTimeout(d.timeout) {
		return nil, fmt.Errorf("subscribe %s/rpc: timeout after %v", d.src, d.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("subscribe %s/rpc: %w", d.src, err)
	}
	return d, nil
}

func (d *ShellyMQTT) handleReply(_ pahomqtt.Client, msg pahomqtt.Message) {
	raw := msg.Payload()
	id := gjson.GetBytes(raw, "id").Int()

	d.mu.Lock()
	ch, ok := d.pending[id]
	delete(d.pending, id)
	d.mu.Unlock()
	if !ok {
		return // late reply for a call that already timed out
	}

	if e := gjson.GetBytes(raw, "error"); e.Exists() {
		ch <- rpcReply{err: fmt.Errorf("shelly rpc error %d: %s", e.Get("code").Int(), e.Get("message").String())}
		return
	}
	ch <- rpcReply{result: []byte(gjson.GetBytes(raw, "result").Raw)}
}

func (d *ShellyMQTT) call(ctx context.Context, method string, params map[string]any) ([]byte, error) {
	id := d.nextID.Add(1)
	frame, err := json.Marshal(rpcFrame{ID: id, Src: d.src, Method: method, Params: params})
	if err != nil {
		return nil, err
	}

	ch := make(chan rpcReply, 1)
	d.mu.Lock()
	d.pending[id] = ch
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, id)
		d.mu.Unlock()
	}()

	token := d.client.Publish(d.topic+"/rpc", 1, false, frame)
	if !token.WaitTimeout(d.timeout) {
		return nil, fmt.Errorf("publish %s: timeout after %v", method, d.timeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("publish %s: %w", method, err)
	}

	timer := time.NewTimer(d.timeout)
	defer timer.Stop()
	select {
	case r := <-ch:
		return r.result, r.err
	case <-timer.C:
		return nil, fmt.Errorf("%s: no reply after %v", method, d.timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *ShellyMQTT) Status(ctx context.Context) (Status, error) {
	raw, err := d.call(ctx, "Switch.GetStatus", map[string]any{"id": d.switchID})
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrStatus, err)
	}
	return parseSwitchStatus(raw)
}

func (d *ShellyMQTT) TurnOn(ctx context.Context) error {
	return d.set(ctx, true)
}

func (d *ShellyMQTT) TurnOff(ctx context.Context) error {
	return d.set(ctx, false)
}

func (d *ShellyMQTT) set(ctx context.Context, on bool) error {
	if _, err := d.call(ctx, "Switch.Set", map[string]any{"id": d.switchID, "on": on}); err != nil {
		return fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return nil
}
