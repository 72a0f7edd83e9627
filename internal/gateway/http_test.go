package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/congo-pay/fundsflow/internal/logging"
)

func sampleRequest() Request {
	return Request{
		TransactionID:   "tx-1",
		SenderAccount:   "100-A",
		SenderBankCode:  "CPAY",
		ReceiverAccount: "900-X",
		ReceiverBank:    "BNK",
		Amount:          decimal.NewFromInt(2_500),
		Currency:        "XAF",
	}
}

func TestProcessTransferDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/transfers" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-API-Key") != "secret" {
			t.Errorf("missing api key")
		}
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if !req.Amount.Equal(decimal.NewFromInt(2_500)) {
			t.Errorf("unexpected amount %s", req.Amount)
		}
		_ = json.NewEncoder(w).Encode(Response{Status: StatusSuccess, BankTransactionID: "BANK-9"})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, APIKey: "secret", Timeout: time.Second}, logging.Discard())
	resp, err := client.ProcessTransfer(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Status != StatusSuccess || resp.BankTransactionID != "BANK-9" {
		t.Fatalf("unexpected response %+v", resp)
	}
}

func TestProcessTransferTimeoutIsAmbiguous(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond}, logging.Discard())
	resp, err := client.ProcessTransfer(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Status != StatusTimeout {
		t.Fatalf("expected timeout, got %+v", resp)
	}
}

func TestProcessTransferDefiniteRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(Response{Status: StatusInvalidAccount, ErrorCode: "E42"})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second}, logging.Discard())
	resp, err := client.ProcessTransfer(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Status != StatusInvalidAccount || !resp.Status.Definite() {
		t.Fatalf("expected definite invalid account, got %+v", resp)
	}
}

func TestBreakerOpensAfterServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second, ConsecutiveFailures: 2, OpenFor: time.Minute}, logging.Discard())
	for i := 0; i < 2; i++ {
		resp, err := client.ProcessTransfer(context.Background(), sampleRequest())
		if err != nil {
			t.Fatalf("process %d: %v", i, err)
		}
		if resp.Status != StatusUnknown {
			t.Fatalf("expected unknown on server error, got %+v", resp)
		}
	}

	resp, err := client.ProcessTransfer(context.Background(), sampleRequest())
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if resp.Status != StatusSystemError {
		t.Fatalf("expected system error while open, got %+v", resp)
	}
	if hits.Load() != 2 {
		t.Fatalf("expected open breaker to short-circuit, server saw %d calls", hits.Load())
	}

	if _, err := client.GetTransferStatus(context.Background(), "tx-1"); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open error, got %v", err)
	}
}

func TestGetTransferStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transfers/tx-7" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(Response{Status: StatusPending})
	}))
	defer srv.Close()

	client := NewHTTPClient(HTTPConfig{BaseURL: srv.URL, Timeout: time.Second}, logging.Discard())
	resp, err := client.GetTransferStatus(context.Background(), "tx-7")
	if err != nil || resp.Status != StatusPending {
		t.Fatalf("unexpected status %+v err=%v", resp, err)
	}
	resp, err = client.GetTransferStatus(context.Background(), "missing")
	if err != nil || resp.Status != StatusUnknown {
		t.Fatalf("expected unknown for missing transfer, got %+v err=%v", resp, err)
	}
}
