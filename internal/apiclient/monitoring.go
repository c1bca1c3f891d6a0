package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kbeye/console/internal/model"
)

// FetchStatus 获取所有服务的当前状态
func (c *Client) FetchStatus(ctx context.Context) ([]model.ServiceStatus, Result) {
	result := c.do(ctx, http.MethodGet, "/monitoring/status", true, nil)

	var statuses []model.ServiceStatus
	result = decode(result, &statuses)
	if !result.Success {
		return nil, result
	}
	return statuses, result
}

// logsResponse 后端日志接口的响应外壳
type logsResponse struct {
	Success      bool             `json:"success"`
	ServiceID    string           `json:"service_id"`
	Platform     string           `json:"platform"`
	Logs         []model.LogEntry `json:"logs"`
	ErrorMessage string           `json:"error_message,omitempty"`
}

// FetchLogs 批量获取某个服务的日志
//
// lines限定在[1,1000]，与后端接口的约束一致。
func (c *Client) FetchLogs(ctx context.Context, serviceID string, lines int) ([]model.LogEntry, Result) {
	if lines < 1 {
		lines = 1
	}
	if lines > 1000 {
		lines = 1000
	}

	path := fmt.Sprintf("/logs/%s?lines=%d", url.PathEscape(serviceID), lines)
	result := c.do(ctx, http.MethodGet, path, true, nil)

	var resp logsResponse
	result = decode(result, &resp)
	if !result.Success {
		return nil, result
	}

	// 后端可能在HTTP 200内报告抓取失败
	if !resp.Success {
		result.Success = false
		result.Kind = ErrHTTP
		result.Error = resp.ErrorMessage
		return nil, result
	}
	return resp.Logs, result
}

// ListAlerts 获取最近的告警
func (c *Client) ListAlerts(ctx context.Context, limit int, activeOnly bool) ([]model.Alert, Result) {
	if limit < 1 {
		limit = 50
	}

	path := "/alerts/?limit=" + strconv.Itoa(limit)
	if activeOnly {
		path += "&active_only=true"
	}
	result := c.do(ctx, http.MethodGet, path, true, nil)

	var alerts []model.Alert
	result = decode(result, &alerts)
	if !result.Success {
		return nil, result
	}
	return alerts, result
}
