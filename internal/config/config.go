package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用程序配置结构
type Config struct {
	// 预设名称: "development" 或 "production"，为空时仅使用默认值
	Preset string `mapstructure:"preset"`

	// 后端REST API配置
	API struct {
		BaseURL    string        `mapstructure:"base_url"`
		PathPrefix string        `mapstructure:"path_prefix"`
		Timeout    time.Duration `mapstructure:"timeout"`
		RetryCount int           `mapstructure:"retry_count"`
		RetryDelay time.Duration `mapstructure:"retry_delay"`
	} `mapstructure:"api"`

	// 推送更新通道配置
	Realtime struct {
		Enabled           bool          `mapstructure:"enabled"`
		BaseURL           string        `mapstructure:"base_url"`
		Endpoint          string        `mapstructure:"endpoint"`
		ReconnectCount    int           `mapstructure:"reconnect_count"`
		ReconnectDelay    time.Duration `mapstructure:"reconnect_delay"`
		HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
		GracePeriod       time.Duration `mapstructure:"grace_period"`
	} `mapstructure:"realtime"`

	// 控制台HTTP服务配置
	Console struct {
		ListenAddress string `mapstructure:"listen_address"`
		Port          int    `mapstructure:"port"`
	} `mapstructure:"console"`

	// 功能开关
	Features struct {
		AutoRefresh     bool          `mapstructure:"auto_refresh"`
		RefreshInterval time.Duration `mapstructure:"refresh_interval"`
		Notifications   bool          `mapstructure:"notifications"`
	} `mapstructure:"features"`

	// 日志缓冲配置
	Logs struct {
		BufferSize   int `mapstructure:"buffer_size"`
		DefaultLines int `mapstructure:"default_lines"`
	} `mapstructure:"logs"`

	// DNS预检配置
	Preflight struct {
		Resolver string        `mapstructure:"resolver"`
		Timeout  time.Duration `mapstructure:"timeout"`
	} `mapstructure:"preflight"`

	// 界面偏好存储路径
	Prefs struct {
		Path string `mapstructure:"path"`
	} `mapstructure:"prefs"`

	// 日志配置
	Log struct {
		Level       string `mapstructure:"level"`
		Development bool   `mapstructure:"development"`
	} `mapstructure:"log"`
}

// LoadConfig 从文件和环境变量加载配置
//
// 解析顺序: 默认值 -> 预设覆盖 -> 配置文件 -> 环境变量。
// 找不到配置文件不是致命错误，所有键都有默认值。
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// 设置默认值
	setDefaults(v)

	// 如果指定了配置文件路径
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// 设置配置文件名和路径
		v.SetConfigName("config")       // 配置文件名（无扩展名）
		v.AddConfigPath(".")            // 当前目录
		v.AddConfigPath("./configs")    // configs目录
		v.AddConfigPath("$HOME/.kbeye") // 用户目录
		v.AddConfigPath("/etc/kbeye")   // 系统目录
	}

	// 配置文件格式
	v.SetConfigType("yaml")

	// 尝试从配置文件加载
	if err := v.ReadInConfig(); err != nil {
		// 如果找不到配置文件，仅使用默认值；其他错误则返回
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("读取配置文件错误: %w", err)
		}
	}

	// 绑定环境变量
	v.SetEnvPrefix("KBEYE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// 从环境变量覆盖
	bindEnvVariables(v)

	// 应用预设（预设只调整默认值，显式设置的键不受影响）
	applyPreset(v, v.GetString("preset"))

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置错误: %w", err)
	}

	return &config, nil
}

// setDefaults 设置配置默认值
func setDefaults(v *viper.Viper) {
	v.SetDefault("preset", "")

	// REST API默认配置
	v.SetDefault("api.base_url", "http://localhost:8000")
	v.SetDefault("api.path_prefix", "/api/v1")
	v.SetDefault("api.timeout", "5s")
	v.SetDefault("api.retry_count", 3)
	v.SetDefault("api.retry_delay", "1s")

	// 推送更新通道默认配置
	v.SetDefault("realtime.enabled", true)
	v.SetDefault("realtime.base_url", "ws://localhost:8000")
	v.SetDefault("realtime.endpoint", "/ws")
	v.SetDefault("realtime.reconnect_count", 5)
	v.SetDefault("realtime.reconnect_delay", "3s")
	v.SetDefault("realtime.heartbeat_interval", "30s")
	v.SetDefault("realtime.grace_period", "10s")

	// 控制台默认配置
	v.SetDefault("console.listen_address", "127.0.0.1")
	v.SetDefault("console.port", 3000)

	// 功能开关默认配置
	v.SetDefault("features.auto_refresh", true)
	v.SetDefault("features.refresh_interval", "30s")
	v.SetDefault("features.notifications", false)

	// 日志缓冲默认配置
	v.SetDefault("logs.buffer_size", 1000)
	v.SetDefault("logs.default_lines", 50)

	// DNS预检默认配置
	v.SetDefault("preflight.resolver", "8.8.8.8:53")
	v.SetDefault("preflight.timeout", "2s")

	// 偏好存储默认配置
	v.SetDefault("prefs.path", defaultPrefsPath())

	// 日志默认配置
	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", true)
}

// applyPreset 应用命名预设
//
// 预设以SetDefault方式覆盖，因此配置文件和环境变量中
// 显式设置的键优先于预设值。未知预设被忽略，由调用方提示。
func applyPreset(v *viper.Viper, preset string) {
	switch preset {
	case "development":
		v.SetDefault("log.level", "debug")
		v.SetDefault("log.development", true)
		v.SetDefault("realtime.heartbeat_interval", "10s")
		v.SetDefault("realtime.grace_period", "5s")
		v.SetDefault("features.refresh_interval", "10s")
	case "production":
		v.SetDefault("log.level", "info")
		v.SetDefault("log.development", false)
		v.SetDefault("realtime.reconnect_count", 10)
		v.SetDefault("realtime.reconnect_delay", "5s")
	}
}

// KnownPreset 判断预设名称是否受支持
func KnownPreset(preset string) bool {
	return preset == "" || preset == "development" || preset == "production"
}

// bindEnvVariables 绑定特定的环境变量
func bindEnvVariables(v *viper.Viper) {
	v.BindEnv("preset", "KBEYE_PRESET")
	v.BindEnv("api.base_url", "KBEYE_API_BASE_URL")
	v.BindEnv("realtime.base_url", "KBEYE_REALTIME_BASE_URL")
	v.BindEnv("realtime.enabled", "KBEYE_REALTIME_ENABLED")
	v.BindEnv("console.port", "KBEYE_CONSOLE_PORT")
	v.BindEnv("log.level", "KBEYE_LOG_LEVEL")
}

// defaultPrefsPath 返回默认的偏好文件路径
func defaultPrefsPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./kbeye-prefs.yaml"
	}
	return home + "/.kbeye/prefs.yaml"
}

// GetDefaultConfigPath 返回默认配置文件路径
func GetDefaultConfigPath() string {
	// 按顺序检查不同位置的配置文件
	paths := []string{
		"./config.yaml",
		"./configs/config.yaml",
		os.Getenv("HOME") + "/.kbeye/config.yaml",
		"/etc/kbeye/config.yaml",
	}

	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}
