package device

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/0gfoundation/cipo/internal/config"
)

// ── helpers ───────────────────────────────────────────────────────────────────

func mockServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

const statusBody = `{"id":0,"source":"init","output":true,"apower":812.3,"voltage":229.8,
"aenergy":{"total":10423.701,"by_minute":[13.5,13.4,13.5],"minute_ts":1700000000},
"temperature":{"tC":41.2}}`

// ── Status ────────────────────────────────────────────────────────────────────

func TestShellyHTTP_Status_OK(t *testing.T) {
	var gotPath, gotQuery string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		w.Write([]byte(statusBody))
	})

	d := NewShellyHTTP(srv.URL, 0)
	st, err := d.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.Total != 10423.701 {
		t.Errorf("Total: got %v want 10423.701", st.Total)
	}
	if st.Power != 812.3 {
		t.Errorf("Power: got %v want 812.3", st.Power)
	}
	if gotPath != "/rpc/Switch.GetStatus" {
		t.Errorf("path: got %q want /rpc/Switch.GetStatus", gotPath)
	}
	if gotQuery != "id=0" {
		t.Errorf("query: got %q want id=0", gotQuery)
	}
}

func TestShellyHTTP_Status_MissingMeter(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})

	_, err := NewShellyHTTP(srv.URL, 0).Status(context.Background())
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus for body without aenergy, got %v", err)
	}
}

func TestShellyHTTP_Status_NonOK(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})

	_, err := NewShellyHTTP(srv.URL, 0).Status(context.Background())
	if !errors.Is(err, ErrStatus) {
		t.Fatalf("expected ErrStatus for 503, got %v", err)
	}
}

func TestShellyHTTP_Status_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	if _, err := NewShellyHTTP(url, 0).Status(context.Background()); err == nil {
		t.Fatal("expected transport error, got nil")
	}
}

// ── Switch.Set ────────────────────────────────────────────────────────────────

func TestShellyHTTP_TurnOnOff(t *testing.T) {
	var queries []string
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc/Switch.Set" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		queries = append(queries, r.URL.RawQuery)
		w.Write([]byte(`{"was_on":false}`))
	})

	d := NewShellyHTTP(srv.URL, 2)
	if err := d.TurnOn(context.Background()); err != nil {
		t.Fatalf("TurnOn: %v", err)
	}
	if err := d.TurnOff(context.Background()); err != nil {
		t.Fatalf("TurnOff: %v", err)
	}

	want := []string{"id=2&on=true", "id=2&on=false"}
	if len(queries) != len(want) {
		t.Fatalf("requests: got %v want %v", queries, want)
	}
	for i := range want {
		if queries[i] != want[i] {
			t.Errorf("request %d: got %q want %q", i, queries[i], want[i])
		}
	}
}

func TestShellyHTTP_TurnOn_Error(t *testing.T) {
	srv := mockServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	if err := NewShellyHTTP(srv.URL, 0).TurnOn(context.Background()); !errors.Is(err, ErrCommand) {
		t.Fatalf("expected ErrCommand, got %v", err)
	}
}

// ── construction ──────────────────────────────────────────────────────────────

func TestNewShellyHTTP_BareHost(t *testing.T) {
	if got := NewShellyHTTP("192.168.1.20", 0).BaseURL(); got != "http://192.168.1.20" {
		t.Errorf("BaseURL: got %q", got)
	}
	if got := NewShellyHTTP("https://plug.lan/", 0).BaseURL(); got != "https://plug.lan" {
		t.Errorf("BaseURL: got %q", got)
	}
}

func TestNew_SelectsDriver(t *testing.T) {
	d, err := New(config.Device{Location: "a", Host: "h", Driver: config.DriverHTTP}, nil)
	if err != nil {
		t.Fatalf("New http: %v", err)
	}
	if _, ok := d.(*ShellyHTTP); !ok {
		t.Errorf("expected *ShellyHTTP, got %T", d)
	}

	if _, err := New(config.Device{Location: "b", Topic: "t", Driver: config.DriverMQTT}, nil); err == nil {
		t.Error("expected error for mqtt driver without connection")
	}
	if _, err := New(config.Device{Location: "c", Driver: "zigbee"}, nil); err == nil {
		t.Error("expected error for unknown driver")
	}
}
