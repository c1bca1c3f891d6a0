package apiclient

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/kbeye/console/internal/model"
)

// ListServices 获取所有活跃服务
func (c *Client) ListServices(ctx context.Context) ([]model.Service, Result) {
	result := c.do(ctx, http.MethodGet, "/services/", true, nil)

	var services []model.Service
	result = decode(result, &services)
	if !result.Success {
		return nil, result
	}
	return services, result
}

// CreateService 创建新服务
//
// POST不参与自动重试，失败直接返回给调用方处理。
func (c *Client) CreateService(ctx context.Context, svc model.Service) (model.Service, Result) {
	result := c.do(ctx, http.MethodPost, "/services/", true, svc)

	var created model.Service
	result = decode(result, &created)
	if !result.Success {
		return model.Service{}, result
	}
	return created, result
}

// DeleteService 删除服务（后端软删除）
func (c *Client) DeleteService(ctx context.Context, serviceID string) Result {
	path := fmt.Sprintf("/services/%s", url.PathEscape(serviceID))
	return c.do(ctx, http.MethodDelete, path, true, nil)
}

// Health 检查后端自身的健康状态
func (c *Client) Health(ctx context.Context) Result {
	return c.do(ctx, http.MethodGet, "/health", false, nil)
}
