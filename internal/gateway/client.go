// Package gateway is the HTTP client for the external payment gateway.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/ariefcatur/go-checkout-reconcile/internal/payments"
	"github.com/ariefcatur/go-checkout-reconcile/internal/pricing"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

type Config struct {
	BaseURL string
	Timeout time.Duration
	Secret  string
}

// Client bounds every call by Timeout and stops calling for a while once the
// gateway keeps failing. Rejections (4xx) do not count as failures.
type Client struct {
	base    string
	timeout time.Duration
	secret  string
	http    *http.Client
	cb      *gobreaker.CircuitBreaker[[]byte]
	log     zerolog.Logger
}

func New(cfg Config, log zerolog.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	log = log.With().Str("component", "gateway").Logger()
	cb := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "payment-gateway",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool { return c.ConsecutiveFailures >= 5 },
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, payments.ErrGatewayRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("breaker state change")
		},
	})
	return &Client{
		base:    cfg.BaseURL,
		timeout: cfg.Timeout,
		secret:  cfg.Secret,
		http:    &http.Client{Timeout: cfg.Timeout},
		cb:      cb,
		log:     log,
	}
}

type intentRequest struct {
	OutTradeNo string `json:"out_trade_no"`
	Amount     string `json:"total_amount"`
	Method     string `json:"trade_type"`
	Attach     string `json:"attach"`
}

type intentResponse struct {
	Params map[string]string `json:"params"`
}

type tradeResponse struct {
	OutTradeNo    string `json:"out_trade_no"`
	TransactionID string `json:"transaction_id"`
	TotalAmount   string `json:"total_amount"`
	TradeState    string `json:"trade_state"`
	Attach        string `json:"attach"`
}

func (c *Client) CreateIntent(ctx context.Context, p payments.IntentParams) (map[string]string, error) {
	body, err := c.do(ctx, http.MethodPost, "/v1/intents", intentRequest{
		OutTradeNo: p.OutTradeNo, Amount: pricing.FormatMinor(p.Amount), Method: p.Method, Attach: p.Attach,
	})
	if err != nil {
		return nil, err
	}
	var resp intentResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode intent: %v", payments.ErrGatewayUnavailable, err)
	}
	return resp.Params, nil
}

func (c *Client) QueryStatus(ctx context.Context, outTradeNo string) (payments.GatewayStatus, error) {
	body, err := c.do(ctx, http.MethodGet, "/v1/trades/"+url.PathEscape(outTradeNo), nil)
	if err != nil {
		return payments.GatewayStatus{}, err
	}
	var resp tradeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return payments.GatewayStatus{}, fmt.Errorf("%w: decode trade: %v", payments.ErrGatewayUnavailable, err)
	}
	amount, err := pricing.ParseMinor(resp.TotalAmount)
	if err != nil {
		return payments.GatewayStatus{}, fmt.Errorf("%w: %v", payments.ErrGatewayRejected, err)
	}
	return payments.GatewayStatus{
		OutTradeNo:    resp.OutTradeNo,
		TransactionID: resp.TransactionID,
		TotalAmount:   amount,
		TradeState:    resp.TradeState,
		Attach:        resp.Attach,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, payload any) ([]byte, error) {
	body, err := c.cb.Execute(func() ([]byte, error) {
		return c.roundTrip(ctx, method, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", payments.ErrGatewayUnavailable, err)
	}
	return body, err
}

func (c *Client) roundTrip(ctx context.Context, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reqBody []byte
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = b
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		req.Header.Set(SignatureHeader, Sign(c.secret, reqBody))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", payments.ErrGatewayUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", payments.ErrGatewayUnavailable, err)
	}
	c.log.Debug().Str("method", method).Str("path", path).Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).Msg("gateway call")

	switch {
	case resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", payments.ErrTradeNotFound, path)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", payments.ErrGatewayUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d: %s", payments.ErrGatewayRejected, resp.StatusCode, bytes.TrimSpace(body))
	}
}
