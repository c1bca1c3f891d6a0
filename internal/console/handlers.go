package console

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/kbeye/console/internal/apiclient"
	"github.com/kbeye/console/internal/config"
	"github.com/kbeye/console/internal/model"
	"github.com/kbeye/console/internal/preflight"
	"github.com/kbeye/console/internal/prefs"
	"github.com/kbeye/console/internal/realtime"
	"github.com/kbeye/console/internal/state"
)

// envelope 统一响应外壳
type envelope struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// handler 控制台请求处理器
type handler struct {
	cfg    *config.Config
	logger config.Logger
	store  *state.Store
	api    *apiclient.Client
	rt     *realtime.Client
	prefs  *prefs.Store
	probe  *preflight.Probe
}

func newHandler(
	cfg *config.Config,
	logger config.Logger,
	store *state.Store,
	api *apiclient.Client,
	rt *realtime.Client,
	prefStore *prefs.Store,
	probe *preflight.Probe,
) *handler {
	return &handler{
		cfg:    cfg,
		logger: logger,
		store:  store,
		api:    api,
		rt:     rt,
		prefs:  prefStore,
		probe:  probe,
	}
}

// registerRoutes 注册控制台路由
func (h *handler) registerRoutes(e *echo.Echo) {
	e.GET("/healthz", h.selfHealth)

	api := e.Group("/api")
	api.GET("/services", h.listServices)
	api.POST("/services", h.createService)
	api.GET("/services/:id", h.serviceDetails)
	api.DELETE("/services/:id", h.deleteService)
	api.GET("/services/:id/logs", h.serviceLogs)
	api.GET("/alerts", h.listAlerts)
	api.GET("/connection", h.connection)
	api.GET("/preferences", h.getPreferences)
	api.PUT("/preferences", h.putPreferences)
}

// serviceRow 仪表盘网格的一行
type serviceRow struct {
	model.Service
	Status *model.ServiceStatus `json:"status,omitempty"`
}

// dashboardData 仪表盘响应
type dashboardData struct {
	Services   []serviceRow     `json:"services"`
	Connection state.Connection `json:"connection"`
}

// listServices 仪表盘网格: 服务清单、各自状态和连接读数
func (h *handler) listServices(c echo.Context) error {
	services := h.store.Services()
	statuses := h.store.Statuses()

	rows := make([]serviceRow, 0, len(services))
	for _, svc := range services {
		row := serviceRow{Service: svc}
		if st, ok := statuses[svc.ServiceID]; ok {
			status := st
			row.Status = &status
		}
		rows = append(rows, row)
	}

	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "ok",
		Data: dashboardData{
			Services:   rows,
			Connection: h.store.ConnectionReading(),
		},
	})
}

// createResponse 添加服务的响应
type createResponse struct {
	Service   model.Service          `json:"service"`
	Warnings  []string               `json:"warnings,omitempty"`
	Errors    map[string]string      `json:"errors,omitempty"`
	Preflight *preflight.CheckResult `json:"preflight,omitempty"`
}

// createService 添加服务表单
//
// 字段级校验失败返回400和逐字段错误表。校验通过后先乐观
// 插入本地状态，再调用后端创建；后端失败时回滚乐观插入。
// DNS预检结果只作为提示，从不阻塞创建。
func (h *handler) createService(c echo.Context) error {
	var req createServiceRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, envelope{
			Code:    http.StatusBadRequest,
			Message: "请求参数无效: " + err.Error(),
		})
	}
	req.applyDefaults(h.cfg)

	// 字段级校验
	if errs := req.validate(); len(errs) > 0 {
		return c.JSON(http.StatusBadRequest, envelope{
			Code:    http.StatusBadRequest,
			Message: "参数验证失败",
			Data:    createResponse{Errors: errs},
		})
	}

	svc := req.toService()

	// DNS预检: 仅提示，不阻塞
	var check *preflight.CheckResult
	if host := hostOf(svc.URL); host != "" {
		result := h.probe.CheckHost(c.Request().Context(), host)
		check = &result
	}

	// 乐观插入
	optimistic := svc
	optimistic.Pending = true
	h.store.UpsertService(optimistic)

	created, result := h.api.CreateService(c.Request().Context(), svc)
	if !result.Success {
		// 回滚乐观插入
		h.store.RemoveService(svc.ServiceID)
		h.logger.Warn("后端创建服务失败",
			zap.String("service_id", svc.ServiceID),
			zap.String("error", result.Error))
		return c.JSON(upstreamStatus(result), envelope{
			Code:    upstreamStatus(result),
			Message: result.Error,
		})
	}

	h.store.ConfirmService(created)

	resp := createResponse{Service: created, Preflight: check}
	if check != nil && check.Warning != "" {
		resp.Warnings = append(resp.Warnings, check.Warning)
	}
	return c.JSON(http.StatusCreated, envelope{
		Code:    http.StatusCreated,
		Message: "服务已创建",
		Data:    resp,
	})
}

// serviceDetails 详情面板
func (h *handler) serviceDetails(c echo.Context) error {
	serviceID := c.Param("id")
	svc := h.store.Service(serviceID)
	if svc == nil {
		return c.JSON(http.StatusNotFound, envelope{
			Code:    http.StatusNotFound,
			Message: "服务不存在",
		})
	}

	row := serviceRow{Service: *svc}
	if st, ok := h.store.Statuses()[serviceID]; ok {
		row.Status = &st
	}
	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    row,
	})
}

// deleteService 删除服务
func (h *handler) deleteService(c echo.Context) error {
	serviceID := c.Param("id")

	result := h.api.DeleteService(c.Request().Context(), serviceID)
	if !result.Success {
		return c.JSON(upstreamStatus(result), envelope{
			Code:    upstreamStatus(result),
			Message: result.Error,
		})
	}

	h.store.RemoveService(serviceID)
	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "服务已删除",
	})
}

// serviceLogs 日志查看器
//
// 默认读取本地环形缓冲；refresh=true时先经REST重新抓取一批。
// level和q在本地过滤，lines限制返回的最新条数。
func (h *handler) serviceLogs(c echo.Context) error {
	serviceID := c.Param("id")

	lines := h.cfg.Logs.DefaultLines
	if raw := c.QueryParam("lines"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			lines = n
		}
	}

	if c.QueryParam("refresh") == "true" {
		entries, result := h.api.FetchLogs(c.Request().Context(), serviceID, lines)
		if result.Success {
			h.store.ReplaceLogs(serviceID, entries)
		} else {
			h.logger.Warn("批量抓取日志失败",
				zap.String("service_id", serviceID),
				zap.String("error", result.Error))
		}
	}

	var level model.LogLevel
	if raw := c.QueryParam("level"); raw != "" {
		level = model.ParseLevel(raw)
	}

	logs := h.store.Logs(serviceID, level, c.QueryParam("q"), lines)
	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    logs,
	})
}

// listAlerts 告警列表
//
// 优先返回缓存；显式refresh=true时重新拉取。
func (h *handler) listAlerts(c echo.Context) error {
	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			limit = n
		}
	}
	activeOnly := c.QueryParam("active_only") == "true"

	if c.QueryParam("refresh") == "true" {
		alerts, result := h.api.ListAlerts(c.Request().Context(), limit, activeOnly)
		if result.Success {
			h.store.ReplaceAlerts(alerts)
		}
	}

	alerts := h.store.Alerts()
	if len(alerts) > limit {
		alerts = alerts[:limit]
	}
	if activeOnly {
		filtered := alerts[:0:0]
		for _, a := range alerts {
			if !a.IsResolved {
				filtered = append(filtered, a)
			}
		}
		alerts = filtered
	}

	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    alerts,
	})
}

// connection 连接状态指示器
func (h *handler) connection(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "ok",
		Data: state.Connection{
			Raw:    h.rt.ConnectionStatus(),
			Stable: h.rt.StableConnectionStatus(),
		},
	})
}

// getPreferences 读取界面偏好
func (h *handler) getPreferences(c echo.Context) error {
	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "ok",
		Data:    h.prefs.Load(),
	})
}

// putPreferences 保存界面偏好
func (h *handler) putPreferences(c echo.Context) error {
	var p prefs.Preferences
	if err := c.Bind(&p); err != nil {
		return c.JSON(http.StatusBadRequest, envelope{
			Code:    http.StatusBadRequest,
			Message: "请求参数无效: " + err.Error(),
		})
	}

	if err := h.prefs.Save(p); err != nil {
		h.logger.Error("保存偏好失败", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, envelope{
			Code:    http.StatusInternalServerError,
			Message: "保存偏好失败",
		})
	}
	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: "偏好已保存",
		Data:    p,
	})
}

// selfHealth 控制台自身健康及后端可达性
func (h *handler) selfHealth(c echo.Context) error {
	backend := h.api.Health(c.Request().Context())

	status := "ok"
	if !backend.Success {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, envelope{
		Code:    http.StatusOK,
		Message: status,
		Data: map[string]interface{}{
			"backend_reachable": backend.Success,
			"backend_error":     backend.Error,
			"stable_connection": h.rt.StableConnectionStatus(),
		},
	})
}

// upstreamStatus 把REST结果映射为控制台响应码
func upstreamStatus(result apiclient.Result) int {
	if result.Status >= 400 && result.Status < 600 {
		return result.Status
	}
	// 网络或超时类失败统一视为网关错误
	return http.StatusBadGateway
}

// hostOf 从URL中提取主机名
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
