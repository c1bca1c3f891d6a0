package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	// 从默认位置加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载默认配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证默认值
	assert.Equal(t, "http://localhost:8000", config.API.BaseURL, "API地址应为默认值")
	assert.Equal(t, "/api/v1", config.API.PathPrefix, "API前缀应为默认值")
	assert.Equal(t, 5*time.Second, config.API.Timeout, "API超时应为5秒")
	assert.Equal(t, 3, config.API.RetryCount, "重试次数应为3")
	assert.True(t, config.Realtime.Enabled, "实时功能默认开启")
	assert.Equal(t, 5, config.Realtime.ReconnectCount, "重连次数应为5")
	assert.Equal(t, 10*time.Second, config.Realtime.GracePeriod, "宽限期应为10秒")
	assert.Equal(t, 30*time.Second, config.Realtime.HeartbeatInterval, "心跳间隔应为30秒")
	assert.Equal(t, 3000, config.Console.Port, "控制台端口应为3000")
	assert.Equal(t, 1000, config.Logs.BufferSize, "日志缓冲应为1000")
}

func TestLoadConfigFromEnvVars(t *testing.T) {
	// 设置环境变量
	os.Setenv("KBEYE_API_BASE_URL", "http://backend:9000")
	os.Setenv("KBEYE_CONSOLE_PORT", "4000")
	defer func() {
		os.Unsetenv("KBEYE_API_BASE_URL")
		os.Unsetenv("KBEYE_CONSOLE_PORT")
	}()

	// 加载配置
	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")
	require.NotNil(t, config, "配置不应为nil")

	// 验证环境变量覆盖
	assert.Equal(t, "http://backend:9000", config.API.BaseURL, "环境变量应正确覆盖API地址")
	assert.Equal(t, 4000, config.Console.Port, "环境变量应正确覆盖控制台端口")

	// 确认其他值不受影响
	assert.Equal(t, 3, config.API.RetryCount, "重试次数不应被环境变量影响")
}

func TestLoadConfigWithMissingFile(t *testing.T) {
	// 尝试从不存在的文件加载配置
	config, err := LoadConfig("non_existent_file.yaml")

	// 应该返回错误
	assert.Error(t, err, "从不存在的文件加载配置应该失败")

	// 不应该返回配置对象
	assert.Nil(t, config, "加载不存在的配置文件应该返回nil配置")
}

func TestLoadConfigFromFile(t *testing.T) {
	// 写临时配置文件
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
api:
  base_url: http://file-backend:8000
realtime:
  grace_period: 3s
  reconnect_count: 7
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err, "无法加载配置文件")

	assert.Equal(t, "http://file-backend:8000", config.API.BaseURL)
	assert.Equal(t, 3*time.Second, config.Realtime.GracePeriod)
	assert.Equal(t, 7, config.Realtime.ReconnectCount)

	// 未设置的键保持默认值
	assert.Equal(t, "/api/v1", config.API.PathPrefix)
}

func TestDevelopmentPreset(t *testing.T) {
	os.Setenv("KBEYE_PRESET", "development")
	defer os.Unsetenv("KBEYE_PRESET")

	config, err := LoadConfig("")
	require.NoError(t, err, "无法加载配置")

	assert.Equal(t, "development", config.Preset)
	assert.Equal(t, "debug", config.Log.Level, "development预设应启用debug日志")
	assert.Equal(t, 5*time.Second, config.Realtime.GracePeriod, "development预设缩短宽限期")
	assert.Equal(t, 10*time.Second, config.Features.RefreshInterval)
}

func TestPresetDoesNotOverrideExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
preset: production
log:
  level: debug
`)
	require.NoError(t, os.WriteFile(path, content, 0o644))

	config, err := LoadConfig(path)
	require.NoError(t, err, "无法加载配置文件")

	// 显式设置的键优先于预设
	assert.Equal(t, "debug", config.Log.Level, "配置文件显式设置应优先于预设")
	// 未显式设置的键取预设值
	assert.Equal(t, 10, config.Realtime.ReconnectCount, "production预设提高重连上限")
	assert.False(t, config.Log.Development, "production预设关闭开发模式")
}

func TestKnownPreset(t *testing.T) {
	assert.True(t, KnownPreset(""))
	assert.True(t, KnownPreset("development"))
	assert.True(t, KnownPreset("production"))
	assert.False(t, KnownPreset("staging"), "未支持的预设应被识别出来")
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("debug", true)
	require.NoError(t, err, "创建开发日志器失败")
	require.NotNil(t, logger)

	logger, err = NewLogger("", false)
	require.NoError(t, err, "空级别应回退到info")
	require.NotNil(t, logger)
}
