package console

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/kbeye/console/internal/apiclient"
	"github.com/kbeye/console/internal/config"
	"github.com/kbeye/console/internal/preflight"
	"github.com/kbeye/console/internal/prefs"
	"github.com/kbeye/console/internal/realtime"
	"github.com/kbeye/console/internal/state"
)

// Server 控制台HTTP服务
//
// 视图层: 渲染状态快照，发起REST调用，展示推送客户端
// 维护的连接状态。自身不持有监控状态，一切读写经过Store。
type Server struct {
	e      *echo.Echo
	host   string
	port   int
	logger config.Logger
}

// NewServer 创建控制台服务
func NewServer(
	cfg *config.Config,
	logger config.Logger,
	store *state.Store,
	api *apiclient.Client,
	rt *realtime.Client,
	prefStore *prefs.Store,
	probe *preflight.Probe,
) *Server {
	// 创建Echo实例
	e := echo.New()
	e.HideBanner = true

	// 添加中间件
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// 创建处理器并注册路由
	h := newHandler(cfg, logger, store, api, rt, prefStore, probe)
	h.registerRoutes(e)

	return &Server{
		e:      e,
		host:   cfg.Console.ListenAddress,
		port:   cfg.Console.Port,
		logger: logger,
	}
}

// Start 启动服务
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.logger.Info("控制台服务启动", zap.String("addr", addr))

	// 以非阻塞方式启动服务
	go func() {
		if err := s.e.Start(addr); err != nil && err != http.ErrServerClosed {
			s.logger.Fatal("控制台服务启动失败", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 优雅关闭服务
func (s *Server) Shutdown(ctx context.Context) error {
	return s.e.Shutdown(ctx)
}
