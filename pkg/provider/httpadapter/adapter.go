// Package httpadapter invokes OpenAI- and Anthropic-compatible chat APIs to
// perform code conversion.
package httpadapter

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

	"go.uber.org/zap"

	"github.com/pario-ai/polyglot/pkg/config"
	"github.com/pario-ai/polyglot/pkg/logging"
	"github.com/pario-ai/polyglot/pkg/models"
	"github.com/pario-ai/polyglot/pkg/provider"
)

const (
	anthropicVersion = "2023-06-01"
	maxTokens        = 4096
	maxErrorBody     = 512
)

// DefaultMaxResponseBytes caps upstream response bodies unless
// WithMaxResponseBytes overrides it.
const DefaultMaxResponseBytes = 8 << 20

// ErrResponseTooLarge is returned when an upstream body exceeds the cap.
var ErrResponseTooLarge = errors.New("upstream response too large")

var defaults = map[string]struct{ url, model, path string }{
	"openai":    {"https://api.openai.com", "gpt-4o-mini", "/v1/chat/completions"},
	"anthropic": {"https://api.anthropic.com", "claude-3-5-sonnet-latest", "/v1/messages"},
}

// Adapter is a provider.Invoker backed by an HTTP chat API.
type Adapter struct {
	id      string
	kind    string
	url     string
	path    string
	apiKey  string
	model   string
	client  *http.Client
	logger  *zap.Logger
	maxBody int64
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// WithMaxResponseBytes caps how much of an upstream body is read.
func WithMaxResponseBytes(n int64) Option {
	return func(a *Adapter) {
		if n > 0 {
			a.maxBody = n
		}
	}
}

// WithLogger sets the adapter logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Adapter) { a.logger = logging.OrNop(l) }
}

// New builds an Adapter from a provider configuration.
func New(pc config.ProviderConfig, opts ...Option) (*Adapter, error) {
	kind := pc.Type
	if kind == "" {
		kind = "openai"
	}
	d, ok := defaults[kind]
	if !ok {
		return nil, fmt.Errorf("provider %s: unknown type %q", pc.ID, pc.Type)
	}

	base := pc.URL
	if base == "" {
		base = d.url
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("provider %s: invalid URL: %w", pc.ID, err)
	}
	model := pc.Model
	if model == "" {
		model = d.model
	}

	a := &Adapter{
		id:      pc.ID,
		kind:    kind,
		url:     strings.TrimSuffix(base, "/"),
		path:    d.path,
		apiKey:  pc.APIKey,
		model:   model,
		client:  http.DefaultClient,
		logger:  zap.NewNop(),
		maxBody: DefaultMaxResponseBytes,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Invoke sends the conversion prompt and returns the extracted code.
func (a *Adapter) Invoke(ctx context.Context, req models.ConversionRequest, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body, headers, err := a.buildRequest(req)
	if err != nil {
		return "", &provider.Error{Provider: a.id, Err: err}
	}

	start := time.Now()
	res, err := a.do(ctx, body, headers)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", &provider.Error{Provider: a.id, Retryable: true, Err: err}
	}
	a.logger.Debug("provider responded",
		zap.String("provider", a.id),
		zap.Int("status", res.statusCode),
		zap.Duration("latency", time.Since(start)),
	)

	if res.statusCode < 200 || res.statusCode > 299 {
		return "", &provider.Error{
			Provider:   a.id,
			StatusCode: res.statusCode,
			Retryable:  res.statusCode >= 500 || res.statusCode == http.StatusTooManyRequests,
			Err:        errors.New(truncate(string(res.body), maxErrorBody)),
		}
	}

	text, err := a.extractText(res.body)
	if err != nil {
		return "", &provider.Error{Provider: a.id, StatusCode: res.statusCode, Err: err}
	}
	code := stripFence(text)
	if code == "" {
		return "", &provider.Error{Provider: a.id, StatusCode: res.statusCode, Err: provider.ErrEmptyOutput}
	}
	return code, nil
}

func (a *Adapter) buildRequest(req models.ConversionRequest) ([]byte, map[string]string, error) {
	var (
		payload any
		headers map[string]string
	)
	switch a.kind {
	case "anthropic":
		payload = anthropicRequest{
			Model:     a.model,
			MaxTokens: maxTokens,
			System:    systemPrompt(req),
			Messages:  []chatMessage{{Role: "user", Content: userPrompt(req)}},
		}
		headers = map[string]string{
			"x-api-key":         a.apiKey,
			"anthropic-version": anthropicVersion,
		}
	default:
		payload = chatRequest{
			Model: a.model,
			Messages: []chatMessage{
				{Role: "system", Content: systemPrompt(req)},
				{Role: "user", Content: userPrompt(req)},
			},
		}
		headers = map[string]string{"Authorization": "Bearer " + a.apiKey}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal request: %w", err)
	}
	return body, headers, nil
}

func (a *Adapter) extractText(body []byte) (string, error) {
	switch a.kind {
	case "anthropic":
		var resp anthropicResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		for _, block := range resp.Content {
			if block.Type == "text" {
				return block.Text, nil
			}
		}
	default:
		var resp chatResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("decode response: %w", err)
		}
		if len(resp.Choices) > 0 {
			return resp.Choices[0].Message.Content, nil
		}
	}
	return "", provider.ErrEmptyOutput
}

// upstreamResult holds the response from a single upstream call.
type upstreamResult struct {
	statusCode int
	body       []byte
}

func (a *Adapter) do(ctx context.Context, body []byte, headers map[string]string) (*upstreamResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+a.path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, a.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if int64(len(respBody)) > a.maxBody {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrResponseTooLarge, a.maxBody)
	}
	return &upstreamResult{statusCode: resp.StatusCode, body: respBody}, nil
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
