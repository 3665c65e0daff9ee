// Package remote talks to the inventory system of record over HTTP. It is the transport boundary:
// every failure leaving this package carries an apperror classification.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"inventory-sync/internal/apperror"
	"inventory-sync/internal/models"
	"inventory-sync/internal/util"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Client is an HTTP client for the remote inventory service
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient creates a client with a fixed per-request timeout
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		logger:     util.GetLogger(),
	}
}

// RequestOption customizes an outgoing request
type RequestOption func(*http.Request)

// WithIdempotencyKey lets the remote side deduplicate a replayed write
func WithIdempotencyKey(key string) RequestOption {
	return func(req *http.Request) {
		if key != "" {
			req.Header.Set("Idempotency-Key", key)
		}
	}
}

// FetchAll returns the canonical inventory list of a tenant
func (c *Client) FetchAll(ctx context.Context, tenantID string) ([]models.InventoryItem, error) {
	var items []models.InventoryItem
	if err := c.do(ctx, "remote.FetchAll", http.MethodGet, c.itemsPath(tenantID), nil, &items); err != nil {
		return nil, err
	}
	if items == nil {
		items = []models.InventoryItem{}
	}
	return items, nil
}

// Create creates an item and returns its server representation
func (c *Client) Create(ctx context.Context, tenantID string, payload models.CreateItemPayload, opts ...RequestOption) (*models.InventoryItem, error) {
	var item models.InventoryItem
	if err := c.do(ctx, "remote.Create", http.MethodPost, c.itemsPath(tenantID), payload, &item, opts...); err != nil {
		return nil, err
	}
	return &item, nil
}

// Adjust applies a stock delta and returns the item's server representation
func (c *Client) Adjust(ctx context.Context, tenantID, itemID string, payload models.AdjustStockPayload, opts ...RequestOption) (*models.InventoryItem, error) {
	var item models.InventoryItem
	path := c.itemsPath(tenantID) + "/" + url.PathEscape(itemID) + "/adjust"
	if err := c.do(ctx, "remote.Adjust", http.MethodPost, path, payload, &item, opts...); err != nil {
		return nil, err
	}
	return &item, nil
}

// Ping reports whether the remote service is reachable. Any HTTP answer counts as reachable.
func (c *Client) Ping(ctx context.Context) error {
	err := c.do(ctx, "remote.Ping", http.MethodGet, "/health", nil, nil)
	if apperror.KindOf(err) == apperror.KindNetwork {
		return err
	}
	return nil
}

func (c *Client) itemsPath(tenantID string) string {
	return "/api/v1/tenants/" + url.PathEscape(tenantID) + "/inventory"
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out interface{}, opts ...RequestOption) error {
	ctx, span := util.StartSpan(ctx, op)
	defer span.End()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return apperror.Validation(op, 0, fmt.Sprintf("failed to encode request: %v", err))
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return apperror.Validation(op, 0, fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	for _, opt := range opts {
		opt(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		util.RemoteRequestDuration.WithLabelValues(op, "error").Observe(time.Since(start).Seconds())
		c.logger.Debug("Remote request failed",
			zap.String("op", op),
			zap.Error(err))
		return apperror.Network(op, err)
	}
	defer resp.Body.Close()

	util.RemoteRequestDuration.WithLabelValues(op, strconv.Itoa(resp.StatusCode)).Observe(time.Since(start).Seconds())
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if err := classifyStatus(op, resp); err != nil {
		return err
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		// a truncated body is a transport problem; anything else means the server answered garbage
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return apperror.Network(op, err)
		}
		return apperror.Server(op, resp.StatusCode, fmt.Sprintf("invalid response body: %v", err))
	}
	return nil
}

func classifyStatus(op string, resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	msg := errorMessage(resp)
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperror.Auth(op, resp.StatusCode, msg)
	case resp.StatusCode >= 500:
		return apperror.Server(op, resp.StatusCode, msg)
	default:
		return apperror.Validation(op, resp.StatusCode, msg)
	}
}

func errorMessage(resp *http.Response) string {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		if body.Message != "" {
			return body.Message
		}
		if body.Error != "" {
			return body.Error
		}
	}

	if text := strings.TrimSpace(string(data)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}
