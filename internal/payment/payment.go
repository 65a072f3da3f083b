// Package payment wraps an http.RoundTripper with paywall settlement and
// transient-failure retries. A 402 response carrying a payment demand is
// settled through a configured Authorizer and the request is replayed once
// with the payment header attached; 5xx responses and network errors are
// retried with exponential backoff.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/tagweave/tagweave/config"
)

// Header carries the payment authorization on the replayed request.
const Header = "X-Payment"

// maxDemandBody bounds how much of a 402 body is read when parsing a demand.
const maxDemandBody = 1 << 20

// Demand is the machine-readable body of a 402 response.
type Demand struct {
	Resource string `json:"resource"`
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	PayTo    string `json:"pay_to"`
	Nonce    string `json:"nonce"`
}

// Authorizer obtains a payment authorization token for a demand. The token
// is sent verbatim in the payment header on the replay.
type Authorizer interface {
	Authorize(ctx context.Context, demand Demand) (string, error)
}

// AuthorizerFunc adapts a function to the Authorizer interface.
type AuthorizerFunc func(ctx context.Context, demand Demand) (string, error)

func (f AuthorizerFunc) Authorize(ctx context.Context, demand Demand) (string, error) {
	return f(ctx, demand)
}

// Transport is an http.RoundTripper decorator. The zero value is not usable;
// construct with NewTransport.
type Transport struct {
	Base          http.RoundTripper
	Authorizer    Authorizer
	MaxRetries    int
	RetryInterval time.Duration

	logger *log.Logger
}

// NewTransport builds a Transport over http.DefaultTransport. authorizer may
// be nil, in which case 402 responses pass through untouched.
func NewTransport(authorizer Authorizer, cfg config.PaymentConfig) *Transport {
	cfg = cfg.Normalize()
	return &Transport{
		Base:          http.DefaultTransport,
		Authorizer:    authorizer,
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
		logger:        log.New(log.Writer(), "[PAYMENT] ", log.LstdFlags),
	}
}

// RoundTrip implements http.RoundTripper. The request body is buffered so
// the request can be replayed across retries.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	var body []byte
	if req.Body != nil {
		b, err := io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
		body = b
	}

	var (
		resp  *http.Response
		token string
		paid  bool
	)
	op := func() error {
		r := req.Clone(req.Context())
		if body != nil {
			r.Body = io.NopCloser(bytes.NewReader(body))
			r.ContentLength = int64(len(body))
		}
		if token != "" {
			r.Header.Set(Header, token)
		}

		res, err := base.RoundTrip(r)
		if err != nil {
			return err
		}

		switch {
		case res.StatusCode == http.StatusPaymentRequired && t.Authorizer != nil && !paid:
			demandBody, _ := io.ReadAll(io.LimitReader(res.Body, maxDemandBody))
			res.Body.Close()
			var demand Demand
			if err := json.Unmarshal(demandBody, &demand); err != nil {
				// Not a recognizable demand; hand the 402 back.
				res.Body = io.NopCloser(bytes.NewReader(demandBody))
				resp = res
				return nil
			}
			tok, err := t.Authorizer.Authorize(req.Context(), demand)
			if err != nil {
				return backoff.Permanent(fmt.Errorf("authorize payment for %s: %w", req.URL, err))
			}
			if t.logger != nil {
				t.logger.Printf("settled demand for %s (%s %s)", req.URL, demand.Amount, demand.Currency)
			}
			token = tok
			paid = true
			return fmt.Errorf("payment settled, replaying request")
		case res.StatusCode >= 500:
			io.Copy(io.Discard, res.Body)
			res.Body.Close()
			return fmt.Errorf("upstream %s: %s", req.URL.Host, res.Status)
		default:
			resp = res
			return nil
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.RetryInterval
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = 500 * time.Millisecond
	}
	bo.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, uint64(t.MaxRetries)), req.Context()))
	if err != nil {
		return nil, err
	}
	return resp, nil
}
