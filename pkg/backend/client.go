// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 OpenAgricultureFoundation gro-controller contributors

package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/OpenAgricultureFoundation/gro-controller/internal/metrics"
	"github.com/OpenAgricultureFoundation/gro-controller/pkg/element"
)

// ClientConfig configures the REST client
type ClientConfig struct {
	BaseURL  string
	Username string
	Password string
	// Retries is the number of attempts per GET
	Retries int
	// Timeout bounds every single request
	Timeout            time.Duration
	WarnResults        int
	MaxResults         int
	SetPointsPath      string
	InsecureSkipVerify bool
}

// DefaultClientConfig returns the daemon defaults for baseURL
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:       baseURL,
		Retries:       5,
		Timeout:       5 * time.Second,
		WarnResults:   500,
		MaxResults:    1000,
		SetPointsPath: "tray/1/set_points/",
	}
}

// Client is the REST backend. All URLs carry a trailing slash.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	metrics *metrics.AppMetrics
	logger  *zap.Logger

	mu    sync.Mutex
	token string
	urls  map[string]string
	cache map[string]any
}

// NewClient creates a client. No request is made until Login.
func NewClient(cfg ClientConfig, m *metrics.AppMetrics, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Retries <= 0 {
		cfg.Retries = 1
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout, Transport: transport},
		metrics: m,
		logger:  logger,
		urls:    map[string]string{},
		cache:   map[string]any{},
	}
}

// Login acquires an auth token and then reads the API root
func (c *Client) Login(ctx context.Context) error {
	err := c.login(ctx)
	c.metrics.ObserveBackend("login", err)
	if err != nil {
		return err
	}
	return c.Discover(ctx)
}

func (c *Client) login(ctx context.Context) error {
	url := c.cfg.BaseURL + "auth/login/"
	body, err := json.Marshal(map[string]string{"username": c.cfg.Username, "password": c.cfg.Password})
	if err != nil {
		return &Error{Op: "login", URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: "login", URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: "login", URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Op: "login", URL: url, Status: resp.StatusCode}
	}

	var out struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return &Error{Op: "login", URL: url, Status: resp.StatusCode, Err: err}
	}
	if out.Key == "" {
		return &Error{Op: "login", URL: url, Status: resp.StatusCode, Err: errors.New("no token in response")}
	}

	c.mu.Lock()
	c.token = out.Key
	c.mu.Unlock()
	c.logger.Debug("acquired authentication token")
	return nil
}

// Discover reads the API root, a map of endpoint name to URL
func (c *Client) Discover(ctx context.Context) error {
	root, err := c.getWithRetry(ctx, c.cfg.BaseURL)
	c.metrics.ObserveBackend("discover", err)
	if err != nil {
		return err
	}
	entries, ok := root.(map[string]any)
	if !ok {
		return &Error{Op: "discover", URL: c.cfg.BaseURL, Err: fmt.Errorf("api root is %T, not an object", root)}
	}

	urls := make(map[string]string, len(entries))
	for name, v := range entries {
		if s, ok := v.(string); ok {
			urls[name] = s
		}
	}
	c.mu.Lock()
	c.urls = urls
	c.mu.Unlock()
	c.logger.Debug("api root read", zap.Int("endpoints", len(urls)))
	return nil
}

// URLByName returns the endpoint URL for a snake_case name. The API root is
// keyed by lowerCamelCase, so "sensing_point" looks up "sensingPoint".
func (c *Client) URLByName(name string) (string, error) {
	parts := strings.Split(name, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	camel := strings.Join(parts, "")

	c.mu.Lock()
	defer c.mu.Unlock()
	url, ok := c.urls[camel]
	if !ok {
		return "", fmt.Errorf("no endpoint %q in api root", camel)
	}
	return url, nil
}

// GetJSON fetches url. With useCache a previously fetched document is
// returned without a request. Paginated responses ({"results", "next",
// "count"}) are flattened into a list; allPages follows "next" up to
// MaxResults items.
func (c *Client) GetJSON(ctx context.Context, url string, allPages, useCache bool) (any, error) {
	if useCache {
		c.mu.Lock()
		v, ok := c.cache[url]
		c.mu.Unlock()
		if ok {
			return v, nil
		}
	}

	data, err := c.getWithRetry(ctx, url)
	if err != nil {
		return nil, err
	}
	page, ok := data.(map[string]any)
	if !ok {
		c.store(url, data)
		return data, nil
	}
	if _, paginated := page["results"]; !paginated {
		c.store(url, data)
		return data, nil
	}

	results, _ := page["results"].([]any)
	next, _ := page["next"].(string)
	if !allPages || next == "" {
		c.store(url, results)
		return results, nil
	}

	if count, ok := page["count"].(float64); ok && int(count) > c.cfg.WarnResults {
		c.logger.Warn("large result set requested",
			zap.String("url", url),
			zap.Int("count", int(count)))
	}

	for next != "" {
		data, err := c.getWithRetry(ctx, next)
		if err != nil {
			return nil, err
		}
		page, _ := data.(map[string]any)
		more, _ := page["results"].([]any)
		results = append(results, more...)
		next, _ = page["next"].(string)

		if len(results) >= c.cfg.MaxResults {
			c.logger.Error("result limit reached, truncating",
				zap.String("url", url),
				zap.Int("results", len(results)),
				zap.Int("max", c.cfg.MaxResults))
			results = results[:c.cfg.MaxResults]
			break
		}
	}

	c.store(url, results)
	return results, nil
}

// store caches a document; list items carrying a "url" are cached by it too
func (c *Client) store(url string, v any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache[url] = v
	if items, ok := v.([]any); ok {
		for _, item := range items {
			obj, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if u, ok := obj["url"].(string); ok {
				c.cache[u] = obj
			}
		}
	}
}

func (c *Client) getWithRetry(ctx context.Context, url string) (any, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: "get", URL: url, Err: err}
		}
		v, err := c.get(ctx, url)
		if err == nil {
			return v, nil
		}
		lastErr = err
		c.logger.Warn("get failed",
			zap.String("url", url),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	c.logger.Error("exceeded max retries", zap.String("url", url), zap.Int("retries", c.cfg.Retries))
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, url string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &Error{Op: "get", URL: url, Err: err}
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Op: "get", URL: url, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &Error{Op: "get", URL: url, Status: resp.StatusCode}
	}

	var v any
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		return nil, &Error{Op: "get", URL: url, Status: resp.StatusCode, Err: err}
	}
	return v, nil
}

func (c *Client) authorize(req *http.Request) {
	c.mu.Lock()
	token := c.token
	c.mu.Unlock()
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
}

// PostDataPoints posts one batch to dataPoint/?many=True. The server
// answers 201 on success. Posts are not retried; the caller re-buffers.
func (c *Client) PostDataPoints(ctx context.Context, points []element.DataPoint) error {
	if len(points) == 0 {
		c.logger.Debug("no new datapoints")
		return nil
	}
	err := c.postDataPoints(ctx, points)
	c.metrics.ObserveBackend("post_datapoints", err)
	return err
}

func (c *Client) postDataPoints(ctx context.Context, points []element.DataPoint) error {
	url := c.cfg.BaseURL + "dataPoint/?many=True"
	body, err := json.Marshal(points)
	if err != nil {
		return &Error{Op: "post_datapoints", URL: url, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return &Error{Op: "post_datapoints", URL: url, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Op: "post_datapoints", URL: url, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return &Error{Op: "post_datapoints", URL: url, Status: resp.StatusCode}
	}
	return nil
}

// Topology walks the server resources into a Topology
func (c *Client) Topology(ctx context.Context) (*Topology, error) {
	t, err := LoadTopology(ctx, c, c.logger)
	c.metrics.ObserveBackend("topology", err)
	return t, err
}

// Overrides reads override_value from the actuator list
func (c *Client) Overrides(ctx context.Context) ([]Override, error) {
	out, err := c.overrides(ctx)
	c.metrics.ObserveBackend("overrides", err)
	return out, err
}

func (c *Client) overrides(ctx context.Context) ([]Override, error) {
	url, err := c.URLByName("actuator")
	if err != nil {
		return nil, &Error{Op: "overrides", URL: c.cfg.BaseURL, Err: err}
	}
	var docs []actuatorDoc
	if err := fetchList(ctx, c, url, &docs); err != nil {
		return nil, err
	}

	out := make([]Override, 0, len(docs))
	for _, d := range docs {
		out = append(out, Override{ActuatorURL: d.URL, Value: d.OverrideValue})
	}
	return out, nil
}

// SetPoints reads the tray setpoint map
func (c *Client) SetPoints(ctx context.Context) (map[string]*float64, error) {
	out, err := c.setPoints(ctx)
	c.metrics.ObserveBackend("set_points", err)
	return out, err
}

func (c *Client) setPoints(ctx context.Context) (map[string]*float64, error) {
	url := c.cfg.BaseURL + strings.TrimPrefix(c.cfg.SetPointsPath, "/")
	data, err := c.GetJSON(ctx, url, true, false)
	if err != nil {
		return nil, err
	}
	var out map[string]*float64
	if err := decode(data, &out); err != nil {
		return nil, &Error{Op: "set_points", URL: url, Err: err}
	}
	return out, nil
}
