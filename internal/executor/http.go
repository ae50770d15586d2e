package executor

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shaiso/Cascade/internal/domain"
)

const (
	// TypeHTTP — тип HTTP шага.
	TypeHTTP = "http"

	defaultHTTPTimeout = 30 * time.Second
	maxResponseBody    = 10 * 1024 * 1024 // 10 MB
)

// Ключи конфигурации HTTP шага.
const (
	configMethod          = "method"
	configURL             = "url"
	configHeaders         = "headers"
	configBody            = "body"
	configFollowRedirects = "follow_redirects"
	configValidateSSL     = "validate_ssl"
)

// HTTPExecutor выполняет HTTP запрос к внешнему API.
//
// Конфигурация:
//
//	{
//	    "method": "POST",
//	    "url": "https://api.example.com/data",
//	    "headers": {
//	        "Authorization": "Bearer {{ .inputs.token }}"
//	    },
//	    "body": {
//	        "data": "{{ .steps.fetch.outputs.items }}"
//	    },
//	    "follow_redirects": true,
//	    "validate_ssl": true
//	}
//
// Outputs:
//
//	{
//	    "status_code": 200,
//	    "headers": {"Content-Type": "application/json", ...},
//	    "body": {...}  // parsed JSON or string
//	}
type HTTPExecutor struct{}

// NewHTTPExecutor создаёт новый HTTPExecutor.
func NewHTTPExecutor() *HTTPExecutor {
	return &HTTPExecutor{}
}

// Type возвращает тип шага.
func (e *HTTPExecutor) Type() string {
	return TypeHTTP
}

// Execute выполняет HTTP запрос.
func (e *HTTPExecutor) Execute(ctx context.Context, step *domain.StepSpec, rc *RunContext) (map[string]any, error) {
	config, err := RenderConfig(step.Config, rc)
	if err != nil {
		return nil, err
	}

	cfg, err := e.parseConfig(config)
	if err != nil {
		return nil, err
	}

	client := e.buildClient(cfg, step.Timeout())

	httpReq, err := e.buildRequest(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", ErrExecutionCancelled, ctx.Err())
		}
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	return e.parseResponse(resp)
}

// httpConfig — распарсенная конфигурация HTTP шага.
type httpConfig struct {
	Method          string
	URL             string
	Headers         map[string]string
	Body            any
	FollowRedirects bool
	ValidateSSL     bool
}

func (e *HTTPExecutor) parseConfig(config map[string]any) (*httpConfig, error) {
	cfg := &httpConfig{
		Method:          GetConfigString(config, configMethod),
		URL:             GetConfigString(config, configURL),
		Headers:         GetConfigMapString(config, configHeaders),
		Body:            config[configBody],
		FollowRedirects: GetConfigBool(config, configFollowRedirects, true),
		ValidateSSL:     GetConfigBool(config, configValidateSSL, true),
	}

	if cfg.URL == "" {
		return nil, fmt.Errorf("%w: %s: url is required", ErrInvalidConfig, TypeHTTP)
	}

	if cfg.Method == "" {
		cfg.Method = http.MethodGet
	}
	cfg.Method = strings.ToUpper(cfg.Method)

	if cfg.Headers == nil {
		cfg.Headers = make(map[string]string)
	}

	return cfg, nil
}

func (e *HTTPExecutor) buildClient(cfg *httpConfig, stepTimeout time.Duration) *http.Client {
	timeout := defaultHTTPTimeout
	if stepTimeout > 0 {
		timeout = stepTimeout
	}

	tlsConfig := &tls.Config{
		InsecureSkipVerify: !cfg.ValidateSSL,
	}

	var checkRedirect func(*http.Request, []*http.Request) error
	if !cfg.FollowRedirects {
		checkRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: checkRedirect,
		Transport: &http.Transport{
			TLSClientConfig: tlsConfig,
		},
	}
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, cfg *httpConfig) (*http.Request, error) {
	var bodyReader io.Reader

	if cfg.Body != nil {
		bodyBytes, err := e.serializeBody(cfg.Body)
		if err != nil {
			return nil, fmt.Errorf("serialize body: %w", err)
		}
		bodyReader = bytes.NewReader(bodyBytes)

		if _, hasContentType := cfg.Headers["Content-Type"]; !hasContentType {
			cfg.Headers["Content-Type"] = "application/json"
		}
	}

	req, err := http.NewRequestWithContext(ctx, cfg.Method, cfg.URL, bodyReader)
	if err != nil {
		return nil, err
	}

	for key, value := range cfg.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func (e *HTTPExecutor) serializeBody(body any) ([]byte, error) {
	switch v := body.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(v)
	}
}

func (e *HTTPExecutor) parseResponse(resp *http.Response) (map[string]any, error) {
	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var body any
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "application/json") {
		if err := json.Unmarshal(bodyBytes, &body); err != nil {
			// Не удалось распарсить JSON — возвращаем как строку
			body = string(bodyBytes)
		}
	} else {
		body = string(bodyBytes)
	}

	headers := make(map[string]string)
	for key := range resp.Header {
		headers[key] = resp.Header.Get(key)
	}

	return map[string]any{
		"status_code": resp.StatusCode,
		"headers":     headers,
		"body":        body,
	}, nil
}
