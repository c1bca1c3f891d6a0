package prefs

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"github.com/kbeye/console/internal/config"
)

// Preferences 界面偏好
//
// 仅影响展示，不属于监控核心状态。
type Preferences struct {
	Theme          string `yaml:"theme" json:"theme"`
	LogLevelFilter string `yaml:"log_level_filter" json:"log_level_filter"`
	SearchQuery    string `yaml:"search_query" json:"search_query"`
	CompactView    bool   `yaml:"compact_view" json:"compact_view"`
}

// DefaultPreferences 返回默认偏好
func DefaultPreferences() Preferences {
	return Preferences{
		Theme: "dark",
	}
}

// Store 偏好的文件存储
type Store struct {
	path   string
	logger config.Logger
}

// NewStore 创建偏好存储
func NewStore(cfg *config.Config, logger config.Logger) *Store {
	return &Store{
		path:   cfg.Prefs.Path,
		logger: logger,
	}
}

// Load 读取偏好文件
//
// 文件缺失或损坏都回退到默认值并告警，从不失败。
func (s *Store) Load() Preferences {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("读取偏好文件失败，使用默认值",
				zap.String("path", s.path),
				zap.Error(err))
		}
		return DefaultPreferences()
	}

	var prefs Preferences
	if err := yaml.Unmarshal(data, &prefs); err != nil {
		s.logger.Warn("偏好文件格式无效，使用默认值",
			zap.String("path", s.path),
			zap.Error(err))
		return DefaultPreferences()
	}
	if prefs.Theme == "" {
		prefs.Theme = DefaultPreferences().Theme
	}
	return prefs
}

// Save 持久化偏好
//
// 先写临时文件再重命名，避免写到一半留下损坏的文件。
func (s *Store) Save(prefs Preferences) error {
	data, err := yaml.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("序列化偏好失败: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("创建偏好目录失败: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("写入偏好文件失败: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换偏好文件失败: %w", err)
	}
	return nil
}
