package device

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ShellyHTTP drives a Shelly Gen2 switch through its local RPC-over-HTTP API.
type ShellyHTTP struct {
	baseURL  string
	switchID int
	http     *http.Client
}

// NewShellyHTTP returns a driver for switch id on host. host may be a bare
// host[:port] or a full base URL.
func NewShellyHTTP(host string, id int) *ShellyHTTP {
	base := host
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	return &ShellyHTTP{
		baseURL:  strings.TrimRight(base, "/"),
		switchID: id,
		http:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *ShellyHTTP) get(ctx context.Context, method string, q url.Values) ([]byte, error) {
	q.Set("id", strconv.Itoa(d.switchID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.baseURL+"/rpc/"+method+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("shelly %s: status %d", method, resp.StatusCode)
	}
	return body, nil
}

func (d *ShellyHTTP) Status(ctx context.Context) (Status, error) {
	body, err := d.get(ctx, "Switch.GetStatus", url.Values{})
	if err != nil {
		return Status{}, fmt.Errorf("%w: %w", ErrStatus, err)
	}
	return parseSwitchStatus(body)
}

func (d *ShellyHTTP) TurnOn(ctx context.Context) error {
	return d.set(ctx, true)
}

func (d *ShellyHTTP) TurnOff(ctx context.Context) error {
	return d.set(ctx, false)
}

func (d *ShellyHTTP) set(ctx context.Context, on bool) error {
	if _, err := d.get(ctx, "Switch.Set", url.Values{"on": {strconv.FormatBool(on)}}); err != nil {
		return fmt.Errorf("%w: %w", ErrCommand, err)
	}
	return nil
}

// BaseURL returns the resolved device URL.
func (d *ShellyHTTP) BaseURL() string { return d.baseURL }
