package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kbeye/console/internal/config"
)

// ErrorKind 错误类别
type ErrorKind string

const (
	ErrNone    ErrorKind = ""
	ErrNetwork ErrorKind = "network"
	ErrTimeout ErrorKind = "timeout"
	ErrHTTP    ErrorKind = "http"
	ErrDecode  ErrorKind = "decode"
)

// Result 统一的请求结果
//
// 请求失败不以Go error形式越过客户端边界，
// 而是归一化为{Success, Status, Kind, Error}返回给调用方。
type Result struct {
	Success bool            `json:"success"`
	Status  int             `json:"status"`
	Kind    ErrorKind       `json:"error_kind,omitempty"`
	Error   string          `json:"error,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Client 后端REST API客户端
type Client struct {
	httpClient *http.Client
	logger     config.Logger
	baseURL    string
	pathPrefix string
	timeout    time.Duration
	retryCount int
	retryDelay time.Duration
}

// NewClient 创建REST客户端
func NewClient(cfg *config.Config, logger config.Logger) *Client {
	return &Client{
		// 单次请求超时由每次调用的context控制
		httpClient: &http.Client{},
		logger:     logger,
		baseURL:    strings.TrimRight(cfg.API.BaseURL, "/"),
		pathPrefix: cfg.API.PathPrefix,
		timeout:    cfg.API.Timeout,
		retryCount: cfg.API.RetryCount,
		retryDelay: cfg.API.RetryDelay,
	}
}

// buildURL 构建API地址
//
// prefixed为false时跳过路径前缀（如根级的/health）。
func (c *Client) buildURL(path string, prefixed bool) string {
	if prefixed {
		return c.baseURL + c.pathPrefix + path
	}
	return c.baseURL + path
}

// retryable 判断方法是否可安全重试
//
// 只有幂等方法参与自动重试，POST失败直接返回。
func retryable(method string) bool {
	return method == http.MethodGet || method == http.MethodDelete
}

// do 发送HTTP请求并归一化结果
//
// 瞬时失败（网络错误、超时、5xx）按固定间隔重试至多retryCount次；
// 4xx客户端错误不重试。任何失败都以Result返回，不会panic或抛出。
func (c *Client) do(ctx context.Context, method, path string, prefixed bool, body interface{}) Result {
	// 准备请求体
	var bodyBytes []byte
	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return Result{Kind: ErrDecode, Error: fmt.Sprintf("序列化请求体失败: %v", err)}
		}
	}

	url := c.buildURL(path, prefixed)

	attempts := 1
	if retryable(method) {
		attempts = c.retryCount
		if attempts < 1 {
			attempts = 1
		}
	}

	var result Result
	for attempt := 1; attempt <= attempts; attempt++ {
		result = c.doOnce(ctx, method, url, bodyBytes)
		if result.Success || !transient(result.Kind, result.Status) {
			return result
		}

		if attempt < attempts {
			c.logger.Warn("请求失败，准备重试",
				zap.String("method", method),
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.String("error", result.Error))
			select {
			case <-time.After(c.retryDelay):
			case <-ctx.Done():
				return result
			}
		}
	}

	return result
}

// transient 判断失败是否为瞬时失败
func transient(kind ErrorKind, status int) bool {
	if kind == ErrNetwork || kind == ErrTimeout {
		return true
	}
	return kind == ErrHTTP && status >= 500
}

// doOnce 发送单次HTTP请求
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) Result {
	// 每次请求独立的超时上下文
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(reqCtx, method, url, bodyReader)
	if err != nil {
		return Result{Kind: ErrNetwork, Error: fmt.Sprintf("创建HTTP请求失败: %v", err)}
	}

	// 设置请求头
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "KbEye-Console/1.0")
	req.Header.Set("X-Request-ID", uuid.New().String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// 区分超时和其他网络错误
		if errors.Is(err, context.DeadlineExceeded) || reqCtx.Err() == context.DeadlineExceeded {
			return Result{Kind: ErrTimeout, Error: fmt.Sprintf("请求超时(%s): %v", c.timeout, err)}
		}
		return Result{Kind: ErrNetwork, Error: fmt.Sprintf("网络错误: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Status: resp.StatusCode, Kind: ErrNetwork, Error: fmt.Sprintf("读取响应体失败: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Result{
			Status: resp.StatusCode,
			Kind:   ErrHTTP,
			Error:  httpErrorMessage(resp.StatusCode, respBody),
		}
	}

	return Result{Success: true, Status: resp.StatusCode, Data: respBody}
}

// httpErrorMessage 从非2xx响应提取错误消息
func httpErrorMessage(status int, body []byte) string {
	// 后端错误响应通常形如{"detail": "..."}
	var detail struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &detail); err == nil && detail.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s", status, detail.Detail)
	}
	return fmt.Sprintf("HTTP %d", status)
}

// decode 将成功结果的Data解码到目标对象
//
// 解码失败会把结果降级为ErrDecode失败。
func decode(result Result, target interface{}) Result {
	if !result.Success {
		return result
	}
	if err := json.Unmarshal(result.Data, target); err != nil {
		return Result{
			Status: result.Status,
			Kind:   ErrDecode,
			Error:  fmt.Sprintf("解析响应失败: %v", err),
		}
	}
	return result
}
