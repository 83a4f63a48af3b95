package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-go-golems/sqlchat/pkg/config"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	HealthPath       = "/test"
	ConversationPath = "/conversation"
	QueryPath        = "/sql/query"

	RequestIDHeader = "X-Request-ID"

	maxResponseBytes = 16 << 20
)

// API is the REST surface of the NL2SQL backend. *Client implements it;
// tests substitute fakes.
type API interface {
	CheckHealth(ctx context.Context) (*conversation.HealthStatus, error)
	CreateConversation(ctx context.Context) (*conversation.Conversation, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	SendMessage(ctx context.Context, id string, text string) (*conversation.Conversation, error)
	RunQuery(ctx context.Context, query string, params []any) (*conversation.QueryResults, error)
}

// Client wraps an http.Client configured with the backend's base URL,
// timeout and default headers. Each method performs exactly one round trip
// and never retries.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	headers     http.Header
	logger      zerolog.Logger
	development bool
}

var _ API = (*Client)(nil)

type Option func(*Client) error

// WithHTTPClient replaces the underlying http.Client. Its Timeout is left
// as provided.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithHeader adds a default header sent with every request.
func WithHeader(key, value string) Option {
	return func(c *Client) error {
		c.headers.Set(key, value)
		return nil
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) error {
		c.logger = logger
		return nil
	}
}

// WithDevelopment toggles per-request logging independently of the settings.
func WithDevelopment(dev bool) Option {
	return func(c *Client) error {
		c.development = dev
		return nil
	}
}

// New creates a client for the backend described by s.
func New(s config.Settings, options ...Option) (*Client, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:     s.BaseURL,
		httpClient:  &http.Client{Timeout: s.Timeout},
		headers:     http.Header{},
		logger:      log.With().Str("component", "api-client").Logger(),
		development: s.Development,
	}
	c.headers.Set("Content-Type", "application/json")
	c.headers.Set("Accept", "application/json")
	c.headers.Set("User-Agent", "sqlchat")

	for _, opt := range options {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "failed to apply client option")
		}
	}
	return c, nil
}

func (c *Client) BaseURL() string { return c.baseURL }

// CheckHealth calls the backend test endpoint. Any 2xx answer means
// reachable, whatever the body looks like.
func (c *Client) CheckHealth(ctx context.Context) (*conversation.HealthStatus, error) {
	var body []byte
	if err := c.do(ctx, "test connection", http.MethodGet, HealthPath, nil, &body); err != nil {
		return nil, err
	}
	return conversation.ParseHealthStatus(body), nil
}

// CreateConversation asks the backend for a new conversation. The backend
// alone assigns the id.
func (c *Client) CreateConversation(ctx context.Context) (*conversation.Conversation, error) {
	return c.conversationCall(ctx, "create conversation", http.MethodPost, ConversationPath, nil)
}

func (c *Client) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	p, err := conversationPath(id)
	if err != nil {
		return nil, err
	}
	return c.conversationCall(ctx, "get conversation", http.MethodGet, p, nil)
}

// SendMessage posts text to the conversation. The backend appends both the
// user message and its reply and returns the whole updated history.
func (c *Client) SendMessage(ctx context.Context, id string, text string) (*conversation.Conversation, error) {
	p, err := conversationPath(id)
	if err != nil {
		return nil, err
	}
	body := struct {
		Message string `json:"message"`
	}{Message: text}
	return c.conversationCall(ctx, "send message", http.MethodPost, p, body)
}

// RunQuery executes a raw query on the backend, bypassing conversations.
func (c *Client) RunQuery(ctx context.Context, query string, params []any) (*conversation.QueryResults, error) {
	if params == nil {
		params = []any{}
	}
	body := struct {
		Query  string `json:"query"`
		Params []any  `json:"params"`
	}{Query: query, Params: params}

	var env struct {
		Results json.RawMessage `json:"results"`
	}
	const op = "run sql query"
	if err := c.do(ctx, op, http.MethodPost, QueryPath, body, &env); err != nil {
		return nil, err
	}
	if len(env.Results) == 0 {
		return nil, c.fail(op, errors.New("response has no results field"))
	}
	out := &conversation.QueryResults{}
	if err := json.Unmarshal(env.Results, out); err != nil {
		return nil, c.fail(op, errors.Wrap(err, "decode results"))
	}
	return out, nil
}

func (c *Client) conversationCall(ctx context.Context, op, method, path string, body any) (*conversation.Conversation, error) {
	var env struct {
		Conversation *conversation.Conversation `json:"conversation"`
	}
	if err := c.do(ctx, op, method, path, body, &env); err != nil {
		return nil, err
	}
	if env.Conversation == nil {
		return nil, c.fail(op, errors.New("response has no conversation field"))
	}
	if env.Conversation.Messages == nil {
		env.Conversation.Messages = []conversation.Message{}
	}
	return env.Conversation, nil
}

func conversationPath(id string) (string, error) {
	if strings.TrimSpace(id) == "" {
		return "", errors.New("conversation id is empty")
	}
	return ConversationPath + "/" + url.PathEscape(id), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return c.fail(op, errors.Wrap(err, "encode request body"))
		}
		reader = bytes.NewReader(b)
	}

	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return c.fail(op, errors.Wrap(err, "build request"))
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	reqID := uuid.NewString()
	req.Header.Set(RequestIDHeader, reqID)

	if c.development {
		c.logger.Info().Str("method", method).Str("url", u).Str("request_id", reqID).Msg("API Request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return c.fail(op, errors.Wrapf(err, "%s %s", method, u))
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return c.fail(op, errors.Wrap(err, "read response body"))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.fail(op, newAPIError(op, resp.StatusCode, data))
	}
	switch out := out.(type) {
	case nil:
		return nil
	case *[]byte:
		*out = data
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return c.fail(op, errors.Wrap(err, "decode response body"))
	}
	return nil
}

// fail logs err with the failing operation and returns it wrapped with the
// operation name.
func (c *Client) fail(op string, err error) error {
	c.logger.Error().Err(err).Str("operation", op).Msg("API call failed")
	return errors.Wrapf(err, "failed to %s", op)
}
