// Package khalti is the HTTP client for the Khalti e-payment gateway, with
// bounded retry, duplicate-initiation guarding, and verification caching.
package khalti

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/angelmondragon/subpay-backend/pkg/config"
	"github.com/angelmondragon/subpay-backend/pkg/errors"
	"github.com/angelmondragon/subpay-backend/pkg/logger"
	"github.com/angelmondragon/subpay-backend/pkg/metrics"
	"github.com/angelmondragon/subpay-backend/pkg/money"
)

const (
	sandboxBaseURL = "https://dev.khalti.com/api/v2"
	liveBaseURL    = "https://khalti.com/api/v2"

	initiatePath     = "/epayment/initiate/"
	lookupPath       = "/epayment/lookup/"
	refundPath       = "/epayment/refund/"
	refundLookupPath = "/epayment/refund/lookup/"
)

// Store is the keyed TTL store backing the duplicate-initiation marker and
// the verification cache. Writes go through atomic check-and-set; the store
// owns the key layout so all backends namespace consistently.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	InitiateDedupKey(orderID string) string
	VerifyCacheKey(pidx string) string
}

// Config carries the gateway credentials and retry tuning.
type Config struct {
	SecretKey        string
	BaseURL          string
	Timeout          time.Duration
	MaxAttempts      int
	BackoffUnit      time.Duration
	InitiateDedupTTL time.Duration
	VerifyCacheTTL   time.Duration
}

// ConfigFromApp maps the application configuration onto the client's.
func ConfigFromApp(cfg config.KhaltiConfig) Config {
	base := sandboxBaseURL
	if cfg.Environment() == "live" {
		base = liveBaseURL
	}
	return Config{
		SecretKey:        cfg.SecretKey,
		BaseURL:          base,
		Timeout:          cfg.Timeout,
		MaxAttempts:      cfg.MaxAttempts,
		BackoffUnit:      time.Second,
		InitiateDedupTTL: cfg.InitiateDedupTTL,
		VerifyCacheTTL:   cfg.VerifyCacheTTL,
	}
}

func (c *Config) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = sandboxBaseURL
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffUnit <= 0 {
		c.BackoffUnit = time.Second
	}
	if c.InitiateDedupTTL <= 0 {
		c.InitiateDedupTTL = 5 * time.Minute
	}
	if c.VerifyCacheTTL <= 0 {
		c.VerifyCacheTTL = time.Hour
	}
}

// Client talks to the gateway. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	store   Store
	logg    *logger.Logger
	metrics *metrics.GatewayMetrics
}

// New builds a gateway client. store must not be nil.
func New(cfg Config, store Store, logg *logger.Logger, gm *metrics.GatewayMetrics) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		store:   store,
		logg:    logg,
		metrics: gm,
	}
}

// Initiate starts a payment. A second initiation for the same order id
// inside the dedup window fails with a duplicate-request error before any
// network call is made.
func (c *Client) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResponse, error) {
	if req.PurchaseOrderID == "" {
		return nil, errors.New(errors.CodeValidation, "purchase order id is required")
	}
	if req.Amount.Sign() <= 0 {
		return nil, errors.New(errors.CodeValidation, "amount must be positive")
	}

	set, err := c.store.SetNX(ctx, c.store.InitiateDedupKey(req.PurchaseOrderID), "1", c.cfg.InitiateDedupTTL)
	if err != nil {
		return nil, errors.Wrap(errors.CodeDependency, err, "checking duplicate initiation marker")
	}
	if !set {
		c.metrics.IncDedupHit("initiate")
		return nil, errors.New(errors.CodeIdempotency, "payment already initiated for this order").
			WithDetails(map[string]any{"order_id": req.PurchaseOrderID})
	}

	wire := initiateWireRequest{
		Amount:            money.ToMinorUnit(req.Amount),
		PurchaseOrderID:   req.PurchaseOrderID,
		PurchaseOrderName: req.PurchaseOrderName,
		ReturnURL:         req.ReturnURL,
		WebsiteURL:        req.WebsiteURL,
		CustomerInfo:      req.Customer,
		CustomData:        req.CustomData,
	}

	var resp InitiateResponse
	if err := c.call(ctx, "initiate", initiatePath, wire, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Verify looks up the current state of a payment by pidx. A Completed
// result is cached; non-terminal results are never cached.
func (c *Client) Verify(ctx context.Context, pidx string) (*LookupResponse, error) {
	if pidx == "" {
		return nil, errors.New(errors.CodeValidation, "pidx is required")
	}

	cacheKey := c.store.VerifyCacheKey(pidx)
	if cached, ok, err := c.store.Get(ctx, cacheKey); err == nil && ok {
		var resp LookupResponse
		if err := json.Unmarshal([]byte(cached), &resp); err == nil {
			return &resp, nil
		}
	}

	var wire lookupWireResponse
	if err := c.call(ctx, "verify", lookupPath, map[string]string{"pidx": pidx}, &wire); err != nil {
		return nil, err
	}

	resp := &LookupResponse{
		Pidx:          wire.Pidx,
		Amount:        money.FromMinorUnit(wire.TotalAmount),
		Status:        wire.Status,
		TransactionID: wire.TransactionID,
		Fee:           money.FromMinorUnit(wire.Fee),
		Refunded:      wire.Refunded,
	}

	if resp.Completed() {
		if encoded, err := json.Marshal(resp); err == nil {
			if err := c.store.Set(ctx, cacheKey, string(encoded), c.cfg.VerifyCacheTTL); err != nil && c.logg != nil {
				c.logg.Warn(c.logg.WithPidx(ctx, pidx), "caching verification result failed")
			}
		}
	}
	return resp, nil
}

// Refund submits a refund for a settled payment. Amount in major units;
// zero means full refund.
func (c *Client) Refund(ctx context.Context, req RefundRequest) (*RefundResponse, error) {
	if req.Pidx == "" {
		return nil, errors.New(errors.CodeValidation, "pidx is required")
	}
	if req.Amount.Sign() < 0 {
		return nil, errors.New(errors.CodeValidation, "refund amount must not be negative")
	}

	wire := refundWireRequest{Pidx: req.Pidx, Reason: req.Reason}
	if req.Amount.Sign() > 0 {
		wire.Amount = money.ToMinorUnit(req.Amount)
	}

	var resp RefundResponse
	if err := c.call(ctx, "refund", refundPath, wire, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RefundStatus reports the state of a previously submitted refund.
func (c *Client) RefundStatus(ctx context.Context, refundID string) (*RefundStatusResponse, error) {
	if refundID == "" {
		return nil, errors.New(errors.CodeValidation, "refund id is required")
	}

	var resp RefundStatusResponse
	if err := c.call(ctx, "refund_status", refundLookupPath, map[string]string{"refund_id": refundID}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// call runs one gateway POST with the retry policy: 429 and network errors
// back off 2^attempt units and retry inside the attempt budget; 400/401
// fail immediately and are never retried.
func (c *Client) call(ctx context.Context, operation, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(errors.CodeInternal, err, "encoding gateway request")
	}

	start := time.Now()
	defer func() {
		c.metrics.ObserveDuration(operation, time.Since(start))
	}()

	var lastNetErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, attempt-1); err != nil {
				return errors.Wrap(errors.CodeDependency, err, "gateway call cancelled during backoff")
			}
		}

		status, respBody, err := c.doRequest(ctx, path, payload)
		if err != nil {
			c.metrics.IncAttempt(operation, "network_error")
			lastNetErr = err
			continue
		}

		switch {
		case status >= 200 && status < 300:
			c.metrics.IncAttempt(operation, "success")
			if out != nil {
				if err := json.Unmarshal(respBody, out); err != nil {
					return errors.Wrap(errors.CodeDependency, err, "decoding gateway response")
				}
			}
			return nil
		case status == http.StatusTooManyRequests:
			c.metrics.IncAttempt(operation, "rate_limited")
			lastNetErr = nil
			continue
		case status == http.StatusBadRequest:
			c.metrics.IncAttempt(operation, "bad_request")
			return errors.New(errors.CodeValidation, "gateway rejected request").
				WithDetails(map[string]any{"status": status, "body": truncateBody(respBody)})
		case status == http.StatusUnauthorized:
			c.metrics.IncAttempt(operation, "unauthorized")
			return errors.New(errors.CodeUnauthorized, "gateway credentials rejected")
		default:
			c.metrics.IncAttempt(operation, "gateway_error")
			return errors.New(errors.CodeDependency, "gateway returned unexpected status").
				WithDetails(map[string]any{"status": status, "body": truncateBody(respBody)})
		}
	}

	if lastNetErr != nil {
		return errors.Wrap(errors.CodeDependency, lastNetErr, "gateway unreachable after retries")
	}
	return errors.New(errors.CodeRateLimit, "gateway rate limit persisted across retries")
}

func (c *Client) doRequest(ctx context.Context, path string, payload []byte) (int, []byte, error) {
	url := strings.TrimSuffix(c.cfg.BaseURL, "/") + path
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Key "+c.cfg.SecretKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func (c *Client) backoff(ctx context.Context, exponent int) error {
	wait := c.cfg.BackoffUnit << exponent
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) <= limit {
		return string(body)
	}
	return fmt.Sprintf("%s... (%d bytes)", body[:limit], len(body))
}
