package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/0gfoundation/cipo/internal/payment"
)

// ── helpers ───────────────────────────────────────────────────────────────────

// mockWallet records JSON-RPC requests and answers them with reply(method).
type mockWallet struct {
	mu      sync.Mutex
	methods []string
	params  []map[string]any
	srv     *httptest.Server
}

func newMockWallet(t *testing.T, reply func(method string) (int, string)) *mockWallet {
	t.Helper()
	m := &mockWallet{}
	m.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/json_rpc" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var req struct {
			JSONRPC string         `json:"jsonrpc"`
			Method  string         `json:"method"`
			Params  map[string]any `json:"params"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.JSONRPC != "2.0" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		m.mu.Lock()
		m.methods = append(m.methods, req.Method)
		m.params = append(m.params, req.Params)
		m.mu.Unlock()

		status, resp := reply(req.Method)
		w.WriteHeader(status)
		w.Write([]byte(resp))
	}))
	t.Cleanup(m.srv.Close)
	return m
}

func (m *mockWallet) client(t *testing.T, startHeight uint64) *Client {
	t.Helper()
	u, _ := url.Parse(m.srv.URL)
	port, _ := strconv.Atoi(u.Port())
	return NewClient(u.Hostname(), port, startHeight)
}

const transfersReply = `{"id":"1","jsonrpc":"2.0","result":{
 "in":[{"address":"4AddrA","amount":1000000000000,"txid":"aa","height":3000000}],
 "pending":[{"address":"4AddrB","amount":500000000000,"txid":"bb"}],
 "pool":[{"address":"4AddrA","amount":250000000000,"txid":"cc"}]}}`

// ── Transfers ─────────────────────────────────────────────────────────────────

func TestTransfers_OK(t *testing.T) {
	m := newMockWallet(t, func(string) (int, string) { return http.StatusOK, transfersReply })

	got, err := m.client(t, 0).Transfers(context.Background())
	if err != nil {
		t.Fatalf("Transfers: %v", err)
	}
	want := []payment.Transfer{
		{Address: "4AddrA", TxID: "aa", Amount: 1_000_000_000_000},
		{Address: "4AddrB", TxID: "bb", Amount: 500_000_000_000},
		{Address: "4AddrA", TxID: "cc", Amount: 250_000_000_000},
	}
	if len(got) != len(want) {
		t.Fatalf("length: got %d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("[%d]: got %+v want %+v", i, got[i], want[i])
		}
	}
	if m.methods[0] != "get_transfers" {
		t.Errorf("method: got %q", m.methods[0])
	}
	for _, k := range []string{"in", "pending", "pool"} {
		if m.params[0][k] != true {
			t.Errorf("param %s: got %v want true", k, m.params[0][k])
		}
	}
}

func TestTransfers_EmptyResult(t *testing.T) {
	m := newMockWallet(t, func(string) (int, string) {
		return http.StatusOK, `{"id":"1","jsonrpc":"2.0","result":{}}`
	})

	got, err := m.client(t, 0).Transfers(context.Background())
	if err != nil {
		t.Fatalf("Transfers: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no transfers, got %d", len(got))
	}
}

func TestTransfers_RPCError(t *testing.T) {
	m := newMockWallet(t, func(string) (int, string) {
		return http.StatusOK, `{"id":"1","jsonrpc":"2.0","error":{"code":-13,"message":"No wallet file"}}`
	})

	_, err := m.client(t, 0).Transfers(context.Background())
	if !errors.Is(err, ErrRPC) {
		t.Fatalf("expected ErrRPC, got %v", err)
	}
}

func TestTransfers_NonOK(t *testing.T) {
	m := newMockWallet(t, func(string) (int, string) { return http.StatusUnauthorized, "" })

	if _, err := m.client(t, 0).Transfers(context.Background()); !errors.Is(err, ErrRPC) {
		t.Fatalf("expected ErrRPC for 401, got %v", err)
	}
}

// ── Refresh ───────────────────────────────────────────────────────────────────

func TestRefresh_SendsStartHeight(t *testing.T) {
	m := newMockWallet(t, func(string) (int, string) {
		return http.StatusOK, `{"id":"0","jsonrpc":"2.0","result":{"blocks_fetched":0,"received_money":false}}`
	})

	if err := m.client(t, 2598796).Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if m.methods[0] != "refresh" {
		t.Errorf("method: got %q want refresh", m.methods[0])
	}
	if h, _ := m.params[0]["start_height"].(float64); h != 2598796 {
		t.Errorf("start_height: got %v want 2598796", m.params[0]["start_height"])
	}
}

func TestNewClient_URL(t *testing.T) {
	if got := NewClient("127.0.0.1", 18082, 0).URL(); got != "http://127.0.0.1:18082/json_rpc" {
		t.Errorf("URL: got %q", got)
	}
}
