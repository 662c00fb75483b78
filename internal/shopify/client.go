package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/njtehketenjian-stack/shopify-automation-secure/internal/config"
	"github.com/njtehketenjian-stack/shopify-automation-secure/pkg/errors"
)

const maxRetries = 4

type Client struct {
	baseURL     string
	accessToken string
	apiVersion  string
	httpClient  *http.Client
	limiter     *rate.Limiter
	logger      *zap.Logger
	// newBackOff builds the retry policy for one call
	newBackOff func() backoff.BackOff
}

// NewClient creates a new Shopify Admin API client
func NewClient(cfg config.ShopifyConfig, timeout time.Duration, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}

	return &Client{
		baseURL:     baseURL(cfg.ShopDomain),
		accessToken: cfg.AccessToken,
		apiVersion:  cfg.APIVersion,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(math.Max(1, math.Ceil(rps*2)))),
		logger:  logger,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 30 * time.Second
			return b
		},
	}
}

// baseURL normalizes the shop domain. A bare domain gets https; an explicit scheme is kept.
func baseURL(shopDomain string) string {
	d := strings.TrimSuffix(strings.TrimSpace(shopDomain), "/")
	if strings.HasPrefix(d, "http://") || strings.HasPrefix(d, "https://") {
		return d
	}
	return "https://" + d
}

// GraphQLRequest represents a GraphQL request
type GraphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

// GraphQLResponse represents a GraphQL response
type GraphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors,omitempty"`
}

// GraphQLError represents a GraphQL error
type GraphQLError struct {
	Message    string                 `json:"message"`
	Path       []interface{}          `json:"path,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// UserError is a mutation-level validation error
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}

func userErrorsToError(op string, errs []UserError) error {
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
	}
	return fmt.Errorf("%s user errors: %s", op, strings.Join(msgs, "; "))
}

// Execute executes a GraphQL query/mutation. Throttling and 5xx responses are retried
// only when retry is set; mutations that are not idempotent must pass false.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]interface{}, retry bool) (*GraphQLResponse, error) {
	reqBody := GraphQLRequest{
		Query:     query,
		Variables: variables,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var graphQLResp *GraphQLResponse
	err = c.withRetry(ctx, "graphql", retry, func() error {
		body, err := c.do(ctx, "graphql", http.MethodPost, c.adminPath("graphql.json"), jsonData)
		if err != nil {
			return err
		}

		var resp GraphQLResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to unmarshal response: %w, body: %s", err, string(body)))
		}

		if len(resp.Errors) > 0 {
			errorMessages := make([]string, len(resp.Errors))
			throttled := false
			for i, e := range resp.Errors {
				errorMessages[i] = e.Message
				if code, _ := e.Extensions["code"].(string); code == "THROTTLED" {
					throttled = true
				}
			}
			gqlErr := fmt.Errorf("graphQL errors: %s", strings.Join(errorMessages, "; "))
			if throttled {
				return &errors.ErrTransientNetwork{Op: "graphql", Status: http.StatusTooManyRequests, Err: gqlErr}
			}
			return backoff.Permanent(gqlErr)
		}
		graphQLResp = &resp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return graphQLResp, nil
}

// getJSON performs a retried REST GET and decodes the response into out
func (c *Client) getJSON(ctx context.Context, op, path string, out interface{}) error {
	return c.withRetry(ctx, op, true, func() error {
		body, err := c.do(ctx, op, http.MethodGet, path, nil)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, out); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to unmarshal %s response: %w", op, err))
		}
		return nil
	})
}

func (c *Client) adminPath(resource string) string {
	return fmt.Sprintf("%s/admin/api/%s/%s", c.baseURL, c.apiVersion, resource)
}

// do sends one rate-limited request. Transient failures come back as ErrTransientNetwork,
// everything else wrapped in backoff.Permanent.
func (c *Client) do(ctx context.Context, op, method, url string, payload []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, backoff.Permanent(err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, &errors.ErrTransientNetwork{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &errors.ErrTransientNetwork{Op: op, Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, &errors.ErrTransientNetwork{
			Op:     op,
			Status: resp.StatusCode,
			Err:    fmt.Errorf("shopify API error: body: %s", string(respBody)),
		}
	case resp.StatusCode == http.StatusNotFound:
		return nil, backoff.Permanent(&errors.ErrNotFound{Resource: "shopify resource", ID: url})
	default:
		return nil, backoff.Permanent(fmt.Errorf("shopify API error: status %d, body: %s", resp.StatusCode, string(respBody)))
	}
}

func (c *Client) withRetry(ctx context.Context, op string, retry bool, fn func() error) error {
	if !retry {
		err := fn()
		var perm *backoff.PermanentError
		if stderrors.As(err, &perm) {
			return perm.Err
		}
		return err
	}

	attempt := 0
	b := backoff.WithContext(backoff.WithMaxRetries(c.newBackOff(), maxRetries), ctx)
	return backoff.RetryNotify(func() error {
		attempt++
		err := fn()
		if err != nil && !errors.IsTransient(err) {
			var perm *backoff.PermanentError
			if !stderrors.As(err, &perm) {
				return backoff.Permanent(err)
			}
		}
		return err
	}, b, func(err error, wait time.Duration) {
		c.logger.Warn("Shopify request failed, retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}
