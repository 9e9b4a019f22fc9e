package crm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"propsync/internal/config"
	"propsync/internal/metrics"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// CRM resource paths, relative to the versioned base.
const (
	PathListings   = "/listings"
	PathAgencies   = "/agencies"
	PathUsers      = "/users"
	PathTaxonomies = "/taxonomies"
)

const maxBodyBytes = 4 << 20

// Client talks to the CRM REST API. It never retries; callers decide.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zerolog.Logger
}

func NewClient(cfg config.CRMConfig, logger *zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	version := cfg.APIVersion
	if version == "" {
		version = "v1"
	}

	c := &Client{
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	if base := strings.TrimRight(cfg.BaseURL, "/"); base != "" {
		c.baseURL = fmt.Sprintf("%s/api/%s", base, version)
	}
	if cfg.RateLimitRPS > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), burst)
	}
	return c
}

// IsConfigured reports whether a base URL and API key are set.
func (c *Client) IsConfigured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Request performs one call. data is JSON-encoded for write methods and
// ignored otherwise.
func (c *Client) Request(ctx context.Context, method, path string, data interface{}) *Response {
	start := time.Now()
	resp := c.request(ctx, method, path, data)
	elapsed := time.Since(start)

	metrics.ObserveCRM(method, resp.StatusCode(), elapsed)

	event := c.logger.Info()
	if !resp.IsSuccess() {
		event = c.logger.Warn()
	}
	event.
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode()).
		Dur("duration", elapsed).
		Bool("success", resp.IsSuccess()).
		Msg("CRM request")
	return resp
}

func (c *Client) request(ctx context.Context, method, path string, data interface{}) *Response {
	if !c.IsConfigured() {
		return transportError(errors.New("crm client is not configured"))
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return transportError(errors.Wrap(err, "crm rate limiter"))
		}
	}

	var body io.Reader
	if data != nil && method != http.MethodGet && method != http.MethodDelete {
		payload, err := json.Marshal(data)
		if err != nil {
			return transportError(errors.Wrap(err, "encode crm request"))
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return transportError(errors.Wrap(err, "build crm request"))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return transportError(errors.Wrapf(err, "crm %s %s", method, path))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return transportError(errors.Wrapf(err, "read crm response %s %s", method, path))
	}
	return newResponse(res.StatusCode, raw)
}

func (c *Client) Get(ctx context.Context, path string, query url.Values) *Response {
	if len(query) > 0 {
		path += "?" + query.Encode()
	}
	return c.Request(ctx, http.MethodGet, path, nil)
}

func (c *Client) Post(ctx context.Context, path string, data interface{}) *Response {
	return c.Request(ctx, http.MethodPost, path, data)
}

func (c *Client) Put(ctx context.Context, path string, data interface{}) *Response {
	return c.Request(ctx, http.MethodPut, path, data)
}

func (c *Client) Delete(ctx context.Context, path string) *Response {
	return c.Request(ctx, http.MethodDelete, path, nil)
}

// FindUUID queries a find-by-* endpoint and returns the matched uuid, ""
// when the CRM has no such record.
func (c *Client) FindUUID(ctx context.Context, path, param, value string) (string, error) {
	if value == "" {
		return "", nil
	}
	resp := c.Get(ctx, path, url.Values{param: []string{value}})
	if resp.IsNotFound() {
		return "", nil
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("lookup %s=%s: %s", param, value, resp.Message())
	}
	return resp.UUID(), nil
}

// ResourcePath joins a collection path with a record uuid.
func ResourcePath(collection, uuid string) string {
	return collection + "/" + url.PathEscape(uuid)
}

// TaxonomyPath returns the collection path of a taxonomy's terms.
func TaxonomyPath(taxonomy string) string {
	return PathTaxonomies + "/" + url.PathEscape(taxonomy)
}
