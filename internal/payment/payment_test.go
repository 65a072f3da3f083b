package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tagweave/tagweave/config"
)

func testTransport(auth Authorizer, maxRetries int) *Transport {
	return NewTransport(auth, config.PaymentConfig{
		Enabled:       true,
		MaxRetries:    maxRetries,
		RetryInterval: time.Millisecond,
	})
}

func TestTransportPassthrough(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		fmt.Fprint(w, "ok")
	}))
	defer srv.Close()

	client := &http.Client{Transport: testTransport(nil, 3)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1", hits.Load())
	}
}

func TestTransportSettlesPaywall(t *testing.T) {
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		bodies = append(bodies, string(b))
		if r.Header.Get(Header) == "" {
			w.WriteHeader(http.StatusPaymentRequired)
			json.NewEncoder(w).Encode(Demand{Resource: r.URL.Path, Amount: "0.01", Currency: "USD", PayTo: "acct-1", Nonce: "n1"})
			return
		}
		if r.Header.Get(Header) != "token-abc" {
			t.Errorf("payment header = %q", r.Header.Get(Header))
		}
		fmt.Fprint(w, "paid content")
	}))
	defer srv.Close()

	var authorized atomic.Int32
	auth := AuthorizerFunc(func(_ context.Context, d Demand) (string, error) {
		authorized.Add(1)
		if d.Amount != "0.01" || d.Nonce != "n1" {
			t.Errorf("demand = %+v", d)
		}
		return "token-abc", nil
	})

	client := &http.Client{Transport: testTransport(auth, 3)}
	resp, err := client.Post(srv.URL+"/doc", "text/plain", strings.NewReader("payload"))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "paid content" {
		t.Fatalf("body = %q", got)
	}
	if authorized.Load() != 1 {
		t.Errorf("authorize calls = %d, want 1", authorized.Load())
	}
	// The request body must be replayed on the paid attempt.
	if len(bodies) != 2 || bodies[0] != "payload" || bodies[1] != "payload" {
		t.Errorf("server saw bodies %q", bodies)
	}
}

func TestTransportPaywallWithoutAuthorizer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(Demand{Amount: "1"})
	}))
	defer srv.Close()

	client := &http.Client{Transport: testTransport(nil, 3)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402", resp.StatusCode)
	}
}

func TestTransportDoesNotPayTwice(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(Demand{Amount: "1", Currency: "USD"})
	}))
	defer srv.Close()

	var authorized atomic.Int32
	auth := AuthorizerFunc(func(context.Context, Demand) (string, error) {
		authorized.Add(1)
		return "tok", nil
	})

	client := &http.Client{Transport: testTransport(auth, 5)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d, want 402 after one settlement", resp.StatusCode)
	}
	if authorized.Load() != 1 {
		t.Errorf("authorize calls = %d, want 1", authorized.Load())
	}
	if hits.Load() != 2 {
		t.Errorf("hits = %d, want 2", hits.Load())
	}
}

func TestTransportRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			http.Error(w, "boom", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, "recovered")
	}))
	defer srv.Close()

	client := &http.Client{Transport: testTransport(nil, 4)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "recovered" {
		t.Fatalf("body = %q", got)
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3", hits.Load())
	}
}

func TestTransportExhaustsRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := &http.Client{Transport: testTransport(nil, 2)}
	_, err := client.Get(srv.URL)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if hits.Load() != 3 {
		t.Errorf("hits = %d, want 3 (initial + 2 retries)", hits.Load())
	}
}

func TestTransportAuthorizeFailureIsPermanent(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusPaymentRequired)
		json.NewEncoder(w).Encode(Demand{Amount: "5"})
	}))
	defer srv.Close()

	auth := AuthorizerFunc(func(context.Context, Demand) (string, error) {
		return "", fmt.Errorf("wallet empty")
	})
	client := &http.Client{Transport: testTransport(auth, 5)}
	_, err := client.Get(srv.URL)
	if err == nil || !strings.Contains(err.Error(), "wallet empty") {
		t.Fatalf("err = %v, want wallet error", err)
	}
	if hits.Load() != 1 {
		t.Errorf("hits = %d, want 1 (no retry after authorize failure)", hits.Load())
	}
}

func TestTransportUnparseableDemandPassesThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPaymentRequired)
		fmt.Fprint(w, "pay me somehow")
	}))
	defer srv.Close()

	var authorized atomic.Int32
	auth := AuthorizerFunc(func(context.Context, Demand) (string, error) {
		authorized.Add(1)
		return "tok", nil
	})
	client := &http.Client{Transport: testTransport(auth, 3)}
	resp, err := client.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusPaymentRequired {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	got, _ := io.ReadAll(resp.Body)
	if string(got) != "pay me somehow" {
		t.Errorf("body = %q, want original preserved", got)
	}
	if authorized.Load() != 0 {
		t.Errorf("authorize calls = %d, want 0", authorized.Load())
	}
}
