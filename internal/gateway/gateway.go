// Package gateway sends GraphQL operations to Hasura and normalizes every
// failure into a *GatewayError.
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
	"strings"
	"time"

	"github.com/FiveIT/eseuri/internal/queries"
	"github.com/sirupsen/logrus"
)

const (
	graphQLPath = "/v1/graphql"
	relayPath   = "/v1beta1/relay"

	maxErrorBody = 4096
)

// Executor runs one operation and decodes its data into out.
type Executor interface {
	Execute(ctx context.Context, op queries.Operation, vars any, out any) error
}

// Handler is the function form of Executor used by interceptors.
type Handler func(ctx context.Context, op queries.Operation, vars any, out any) error

// Interceptor wraps a Handler. Retry or breaking policies live here, never
// in the client.
type Interceptor func(next Handler) Handler

type validator interface {
	Validate() error
}

type Options struct {
	// Endpoint is the Hasura base URL, without the /v1/graphql suffix.
	Endpoint     string
	Tokens       TokenProvider
	AdminSecret  string
	HTTPClient   *http.Client
	Timeout      time.Duration
	Logger       *logrus.Logger
	Interceptors []Interceptor
}

type Client struct {
	graphqlURL  string
	relayURL    string
	wsURL       string
	tokens      TokenProvider
	adminSecret string
	httpClient  *http.Client
	timeout     time.Duration
	log         *logrus.Logger
	handler     Handler
}

func New(opts Options) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(strings.TrimSpace(opts.Endpoint), "/"))
	if err != nil {
		return nil, fmt.Errorf("parse hasura endpoint: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("hasura endpoint must be http or https, got %q", opts.Endpoint)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	ws := *base
	ws.Scheme = "ws"
	if base.Scheme == "https" {
		ws.Scheme = "wss"
	}

	c := &Client{
		graphqlURL:  base.String() + graphQLPath,
		relayURL:    base.String() + relayPath,
		wsURL:       ws.String() + graphQLPath,
		tokens:      opts.Tokens,
		adminSecret: opts.AdminSecret,
		httpClient:  httpClient,
		timeout:     timeout,
		log:         logger,
	}

	c.handler = c.do
	for i := len(opts.Interceptors) - 1; i >= 0; i-- {
		c.handler = opts.Interceptors[i](c.handler)
	}
	return c, nil
}

// Execute sends op with vars and decodes the response data into out, which
// must be a pointer to the operation's result type. out may be nil when the
// result is not needed.
func (c *Client) Execute(ctx context.Context, op queries.Operation, vars any, out any) error {
	return c.handler(ctx, op, vars, out)
}

type request struct {
	Query         string `json:"query"`
	Variables     any    `json:"variables,omitempty"`
	OperationName string `json:"operationName,omitempty"`
}

type response struct {
	Data   json.RawMessage `json:"data"`
	Errors []GraphQLError  `json:"errors"`
}

func (c *Client) do(ctx context.Context, op queries.Operation, vars any, out any) error {
	started := time.Now()
	err := c.roundTrip(ctx, op, vars, out)

	entry := c.log.WithFields(logrus.Fields{
		"operation":   op.Name,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	if err != nil {
		entry.WithError(err).Warn("graphql operation failed")
		return err
	}
	entry.Debug("graphql operation")
	return nil
}

func (c *Client) roundTrip(ctx context.Context, op queries.Operation, vars any, out any) error {
	if op.Kind == queries.Subscription {
		return fmt.Errorf("%s: subscriptions must use Subscribe", op.Name)
	}

	body, err := json.Marshal(request{Query: op.Document, Variables: vars, OperationName: op.Name})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", op.Name, err)
	}

	target := c.graphqlURL
	if op.Endpoint == queries.Relay {
		target = c.relayURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create %s request: %w", op.Name, err)
	}

	headers, err := c.headers(ctx)
	if err != nil {
		return gatewayError(op.Name, CodeUnauthenticated, "could not obtain auth token", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return gatewayError(op.Name, CodeNetwork, "request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		// Hasura reports some request errors with a non-2xx status and the
		// usual errors array.
		var payload response
		if json.Unmarshal(limited, &payload) == nil && len(payload.Errors) > 0 {
			gwErr := fromGraphQLErrors(op.Name, payload.Errors)
			gwErr.Status = resp.StatusCode
			return gwErr
		}
		gwErr := gatewayError(op.Name, CodeUnexpectedHTTP, fmt.Sprintf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(limited))), nil)
		gwErr.Status = resp.StatusCode
		return gwErr
	}

	var payload response
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return gatewayError(op.Name, CodeInvalidResponse, "undecodable response body", err)
	}
	return decodeData(op.Name, payload, out)
}

func decodeData(operation string, payload response, out any) error {
	if len(payload.Errors) > 0 {
		return fromGraphQLErrors(operation, payload.Errors)
	}
	if len(payload.Data) == 0 || bytes.Equal(payload.Data, []byte("null")) {
		return gatewayError(operation, CodeInvalidResponse, "response carries no data", nil)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload.Data, out); err != nil {
		return gatewayError(operation, CodeInvalidResponse, "data does not match the operation result", err)
	}
	if v, ok := out.(validator); ok {
		if err := v.Validate(); err != nil {
			return gatewayError(operation, CodeInvalidResponse, err.Error(), err)
		}
	}
	return nil
}

func (c *Client) headers(ctx context.Context) (map[string]string, error) {
	headers := make(map[string]string, 5)
	if c.tokens != nil {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		if auth := authorization(token); auth != "" {
			headers["Authorization"] = auth
		}
	}
	if promoted(ctx) {
		if c.adminSecret == "" {
			return nil, errors.New("backend-only operation without an admin secret")
		}
		headers["X-Hasura-Admin-Secret"] = c.adminSecret
		headers["X-Hasura-Use-Backend-Only-Permissions"] = "true"
		if vars, ok := sessionVars(ctx); ok {
			if vars.UserID != "" {
				headers["X-Hasura-User-Id"] = vars.UserID
			}
			if vars.Role != "" {
				headers["X-Hasura-Role"] = vars.Role
			}
		}
	}
	return headers, nil
}
