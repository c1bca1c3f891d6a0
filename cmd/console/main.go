package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/kbeye/console/internal/apiclient"
	"github.com/kbeye/console/internal/config"
	"github.com/kbeye/console/internal/console"
	"github.com/kbeye/console/internal/model"
	"github.com/kbeye/console/internal/preflight"
	"github.com/kbeye/console/internal/prefs"
	"github.com/kbeye/console/internal/realtime"
	"github.com/kbeye/console/internal/state"
)

var (
	logger     config.Logger
	configFile string
	appConfig  *config.Config
)

func init() {
	// 解析命令行参数
	flag.StringVar(&configFile, "config", "", "配置文件路径")
}

func main() {
	flag.Parse()

	// 加载配置
	var err error
	appConfig, err = config.LoadConfig(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志
	logger, err = config.NewLogger(appConfig.Log.Level, appConfig.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}

	if !config.KnownPreset(appConfig.Preset) {
		logger.Warn("未知的配置预设，已忽略", zap.String("preset", appConfig.Preset))
	}

	// 打印启动信息
	logger.Info("KbEye Console Starting...",
		zap.String("version", "1.0.0"),
		zap.String("api_base_url", appConfig.API.BaseURL),
		zap.String("realtime_base_url", appConfig.Realtime.BaseURL),
		zap.Bool("realtime_enabled", appConfig.Realtime.Enabled),
		zap.Int("console_port", appConfig.Console.Port),
	)

	// 组装各组件
	api := apiclient.NewClient(appConfig, logger)
	store := state.NewStore(appConfig.Logs.BufferSize)
	defer store.Close()

	dialer := realtime.NewWebSocketDialer(appConfig.API.Timeout)
	rt := realtime.NewClient(appConfig, logger, dialer)

	// 推送事件汇入状态存储
	bridgeEvents(rt, store)

	// 首次加载后端清单（失败降级为空面板，不致命）
	initialLoad(api, store)

	// 建立推送连接（首次失败只记录，自动重连会继续尝试）
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	if err := rt.Connect(ctx); err != nil {
		logger.Warn("推送连接首次建立失败，等待自动重连", zap.Error(err))
	}
	cancel()

	// 自动刷新
	refreshStop := make(chan struct{})
	if appConfig.Features.AutoRefresh {
		go refreshLoop(api, store, refreshStop)
	}

	// 启动控制台服务
	prefStore := prefs.NewStore(appConfig, logger)
	probe := preflight.NewProbe(appConfig, logger)
	server := console.NewServer(appConfig, logger, store, api, rt, prefStore, probe)
	if err := server.Start(); err != nil {
		logger.Fatal("启动控制台服务失败", zap.Error(err))
	}

	// 等待信号以优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("接收到关闭信号，正在优雅关闭...")
	close(refreshStop)
	rt.Disconnect()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("控制台服务关闭失败", zap.Error(err))
	}
}

// bridgeEvents 把推送客户端的事件翻译成状态存储命令
func bridgeEvents(rt *realtime.Client, store *state.Store) {
	rt.Subscribe(realtime.EventHealthUpdate, func(ev realtime.Event) {
		update := ev.(realtime.HealthUpdateEvent)
		store.PatchStatus(update.Status)
		if appConfig.Features.Notifications && !update.Status.IsHealthy {
			logger.Warn("服务不健康",
				zap.String("service_id", update.Status.ServiceID),
				zap.String("error", update.Status.ErrorMessage))
		}
	})

	rt.Subscribe(realtime.EventStableStatus, func(ev realtime.Event) {
		status := ev.(realtime.StableStatusEvent).Status
		store.SetStableStatus(status)
		logger.Info("连接状态变化", zap.String("stable_status", string(status)))
	})

	rt.Subscribe(realtime.EventOpen, func(realtime.Event) {
		store.SetRawState(model.ConnOpen)
	})
	rt.Subscribe(realtime.EventClose, func(realtime.Event) {
		store.SetRawState(model.ConnDisconnected)
	})
	rt.Subscribe(realtime.EventError, func(ev realtime.Event) {
		logger.Warn("推送通道错误", zap.Error(ev.(realtime.ErrorEvent).Err))
	})

	// 流式日志逐条进入环形缓冲
	rt.Subscribe(realtime.EventMessage, func(ev realtime.Event) {
		msg := ev.(realtime.MessageEvent)
		if msg.MessageType != "log" {
			return
		}
		var entry model.LogEntry
		if err := json.Unmarshal(msg.Data, &entry); err != nil {
			logger.Warn("流式日志解析失败", zap.Error(err))
			return
		}
		entry.Level = model.ParseLevel(string(entry.Level))
		store.AppendLog(entry)
	})
}

// initialLoad 启动时拉取服务清单、状态和告警
func initialLoad(api *apiclient.Client, store *state.Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if services, result := api.ListServices(ctx); result.Success {
		store.ReplaceServices(services)
		logger.Info("服务清单已加载", zap.Int("count", len(services)))
	} else {
		logger.Warn("加载服务清单失败", zap.String("error", result.Error))
	}

	if statuses, result := api.FetchStatus(ctx); result.Success {
		store.ApplyStatus(statuses)
	} else {
		logger.Warn("加载状态快照失败", zap.String("error", result.Error))
	}

	if alerts, result := api.ListAlerts(ctx, 50, false); result.Success {
		store.ReplaceAlerts(alerts)
	} else {
		logger.Warn("加载告警失败", zap.String("error", result.Error))
	}
}

// refreshLoop 按配置间隔刷新状态快照
func refreshLoop(api *apiclient.Client, store *state.Store, stop <-chan struct{}) {
	ticker := time.NewTicker(appConfig.Features.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), appConfig.API.Timeout*2)
			if statuses, result := api.FetchStatus(ctx); result.Success {
				store.ApplyStatus(statuses)
			} else {
				logger.Warn("自动刷新失败", zap.String("error", result.Error))
			}
			cancel()
		case <-stop:
			return
		}
	}
}
