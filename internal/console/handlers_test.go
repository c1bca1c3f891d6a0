package console

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"

	"github.com/kbeye/console/internal/apiclient"
	"github.com/kbeye/console/internal/config"
	"github.com/kbeye/console/internal/model"
	"github.com/kbeye/console/internal/preflight"
	"github.com/kbeye/console/internal/prefs"
	"github.com/kbeye/console/internal/realtime"
	"github.com/kbeye/console/internal/state"
)

// testLogger 测试用空日志器
type testLogger struct{}

func (testLogger) Debug(string, ...zapcore.Field) {}
func (testLogger) Info(string, ...zapcore.Field)  {}
func (testLogger) Warn(string, ...zapcore.Field)  {}
func (testLogger) Error(string, ...zapcore.Field) {}
func (testLogger) Fatal(string, ...zapcore.Field) {}

// fixture 控制台处理器的完整装配
//
// 后端由httptest模拟，推送通道禁用，偏好落在临时目录。
type fixture struct {
	e           *echo.Echo
	store       *state.Store
	backendHits int32
}

func newFixture(t *testing.T, backend http.HandlerFunc) *fixture {
	t.Helper()

	f := &fixture{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&f.backendHits, 1)
		if backend != nil {
			backend(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.API.BaseURL = srv.URL
	cfg.API.RetryCount = 0
	cfg.API.Timeout = 2 * time.Second
	cfg.Realtime.Enabled = false
	cfg.Prefs.Path = filepath.Join(t.TempDir(), "prefs.yaml")

	logger := testLogger{}
	f.store = state.NewStore(cfg.Logs.BufferSize)
	t.Cleanup(f.store.Close)

	api := apiclient.NewClient(cfg, logger)
	rt := realtime.NewClient(cfg, logger, realtime.NewWebSocketDialer(time.Second))
	prefStore := prefs.NewStore(cfg, logger)
	probe := preflight.NewProbe(cfg, logger)

	f.e = echo.New()
	newHandler(cfg, logger, f.store, api, rt, prefStore, probe).registerRoutes(f.e)
	return f
}

// request 发送请求并解析统一响应外壳
func (f *fixture) request(t *testing.T, method, target, body string) (int, envelope) {
	t.Helper()

	var reader *strings.Reader
	if body != "" {
		reader = strings.NewReader(body)
	} else {
		reader = strings.NewReader("")
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env), "响应应为统一外壳格式")
	return rec.Code, env
}

func seedService(f *fixture, id string) model.Service {
	svc := model.Service{
		ServiceID:      id,
		Name:           id,
		URL:            "http://localhost:8080",
		HealthEndpoint: "/health",
		LogsEndpoint:   "/logs",
		CheckInterval:  30,
		LogLines:       50,
		Timeout:        5000,
		ExpectedStatus: 200,
		IsActive:       true,
	}
	f.store.ConfirmService(svc)
	return svc
}

func TestListServicesDashboard(t *testing.T) {
	f := newFixture(t, nil)
	seedService(f, "svc-a")
	seedService(f, "svc-b")
	f.store.ApplyStatus([]model.ServiceStatus{{ServiceID: "svc-a", IsHealthy: true, StatusCode: 200}})

	code, env := f.request(t, http.MethodGet, "/api/services", "")
	require.Equal(t, http.StatusOK, code)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var data struct {
		Services []struct {
			ServiceID string `json:"service_id"`
			Status    *struct {
				IsHealthy bool `json:"is_healthy"`
			} `json:"status"`
		} `json:"services"`
		Connection state.Connection `json:"connection"`
	}
	require.NoError(t, json.Unmarshal(raw, &data))

	require.Len(t, data.Services, 2, "应返回全部服务")
	assert.Equal(t, "svc-a", data.Services[0].ServiceID, "应保持插入顺序")
	require.NotNil(t, data.Services[0].Status, "有状态的服务应带状态")
	assert.True(t, data.Services[0].Status.IsHealthy)
	assert.Nil(t, data.Services[1].Status, "无状态的服务状态应为空")
	assert.Equal(t, model.ConnIdle, data.Connection.Raw)
}

func TestCreateServiceValidationError(t *testing.T) {
	f := newFixture(t, nil)

	body := `{"service_id": "Bad ID!", "name": "", "url": "not-a-url"}`
	code, env := f.request(t, http.MethodPost, "/api/services", body)

	require.Equal(t, http.StatusBadRequest, code)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var data createResponse
	require.NoError(t, json.Unmarshal(raw, &data))

	assert.Contains(t, data.Errors, "service_id")
	assert.Contains(t, data.Errors, "name")
	assert.Contains(t, data.Errors, "url")
	assert.Zero(t, atomic.LoadInt32(&f.backendHits), "校验失败不应触达后端")
	assert.Empty(t, f.store.Services(), "校验失败不应写入本地状态")
}

func TestCreateServiceConfirmsOptimisticInsert(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/v1/services/", r.URL.Path)

		var svc model.Service
		require.NoError(t, json.NewDecoder(r.Body).Decode(&svc))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(svc)
	})

	body := `{"service_id": "svc-new", "name": "New Service", "url": "http://localhost:9000"}`
	code, _ := f.request(t, http.MethodPost, "/api/services", body)
	require.Equal(t, http.StatusCreated, code)

	svc := f.store.Service("svc-new")
	require.NotNil(t, svc, "创建成功后服务应在本地状态中")
	assert.False(t, svc.Pending, "后端确认后乐观标记应清除")
	assert.Equal(t, "/health", svc.HealthEndpoint, "未提交的字段应已填默认值")
}

func TestCreateServiceRollsBackOnBackendFailure(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"detail": "服务已存在"}`))
	})

	body := `{"service_id": "svc-dup", "name": "Dup", "url": "http://localhost:9000"}`
	code, env := f.request(t, http.MethodPost, "/api/services", body)

	assert.Equal(t, http.StatusConflict, code, "后端的4xx应原样透传")
	assert.Contains(t, env.Message, "服务已存在")
	assert.Nil(t, f.store.Service("svc-dup"), "后端失败应回滚乐观插入")
}

func TestDeleteService(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusOK)
	})
	seedService(f, "svc-gone")

	code, _ := f.request(t, http.MethodDelete, "/api/services/svc-gone", "")
	require.Equal(t, http.StatusOK, code)
	assert.Nil(t, f.store.Service("svc-gone"), "删除成功后本地状态应移除该服务")
}

func TestServiceDetailsNotFound(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.request(t, http.MethodGet, "/api/services/missing", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, http.StatusNotFound, env.Code)
}

func TestServiceLogsLevelAndQueryFilter(t *testing.T) {
	f := newFixture(t, nil)
	seedService(f, "svc-a")
	now := time.Now()
	f.store.AppendLog(model.LogEntry{Timestamp: now, Level: model.LevelInfo, Message: "started", ServiceID: "svc-a"})
	f.store.AppendLog(model.LogEntry{Timestamp: now, Level: model.LevelError, Message: "connection refused", ServiceID: "svc-a"})
	f.store.AppendLog(model.LogEntry{Timestamp: now, Level: model.LevelError, Message: "disk full", ServiceID: "svc-a"})

	code, env := f.request(t, http.MethodGet, "/api/services/svc-a/logs?level=error&q=refused", "")
	require.Equal(t, http.StatusOK, code)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var logs []model.LogEntry
	require.NoError(t, json.Unmarshal(raw, &logs))

	require.Len(t, logs, 1, "级别和关键字过滤应同时生效")
	assert.Equal(t, "connection refused", logs[0].Message)
	assert.Zero(t, atomic.LoadInt32(&f.backendHits), "未指定refresh不应触达后端")
}

func TestServiceLogsRefreshFetchesFromBackend(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success": true, "service_id": "svc-a", "logs": [
			{"timestamp": "2026-08-30T10:00:00Z", "level": "INFO", "message": "fetched", "service_id": "svc-a"}
		]}`))
	})
	seedService(f, "svc-a")

	code, env := f.request(t, http.MethodGet, "/api/services/svc-a/logs?refresh=true", "")
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, int32(1), atomic.LoadInt32(&f.backendHits), "refresh=true应触发一次后端抓取")

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var logs []model.LogEntry
	require.NoError(t, json.Unmarshal(raw, &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, "fetched", logs[0].Message)
}

func TestListAlertsActiveOnly(t *testing.T) {
	f := newFixture(t, nil)
	f.store.ReplaceAlerts([]model.Alert{
		{ID: 1, ServiceID: "svc-a", Message: "down", IsResolved: false},
		{ID: 2, ServiceID: "svc-a", Message: "recovered", IsResolved: true},
	})

	code, env := f.request(t, http.MethodGet, "/api/alerts?active_only=true", "")
	require.Equal(t, http.StatusOK, code)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var alerts []model.Alert
	require.NoError(t, json.Unmarshal(raw, &alerts))

	require.Len(t, alerts, 1, "active_only应过滤已解决的告警")
	assert.Equal(t, 1, alerts[0].ID)
}

func TestPreferencesRoundtrip(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.request(t, http.MethodGet, "/api/preferences", "")
	require.Equal(t, http.StatusOK, code)
	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var p prefs.Preferences
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "dark", p.Theme, "未保存过时应返回默认偏好")

	code, _ = f.request(t, http.MethodPut, "/api/preferences",
		`{"theme": "light", "log_level_filter": "error", "compact_view": true}`)
	require.Equal(t, http.StatusOK, code)

	_, env = f.request(t, http.MethodGet, "/api/preferences", "")
	raw, err = json.Marshal(env.Data)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, &p))
	assert.Equal(t, "light", p.Theme)
	assert.True(t, p.CompactView)
}

func TestConnectionEndpoint(t *testing.T) {
	f := newFixture(t, nil)

	code, env := f.request(t, http.MethodGet, "/api/connection", "")
	require.Equal(t, http.StatusOK, code)

	raw, err := json.Marshal(env.Data)
	require.NoError(t, err)
	var conn state.Connection
	require.NoError(t, json.Unmarshal(raw, &conn))
	assert.Equal(t, model.ConnIdle, conn.Raw, "推送禁用时原始状态应保持idle")
	assert.Equal(t, model.StableDisconnected, conn.Stable)
}

func TestSelfHealthDegradedWhenBackendDown(t *testing.T) {
	f := newFixture(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	code, env := f.request(t, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, code, "自身健康端点始终返回200")
	assert.Equal(t, "degraded", env.Message, "后端不可达时应标记降级")
}
