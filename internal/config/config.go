package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/iabetor/voiceform/internal/download"
	"github.com/iabetor/voiceform/internal/form"
	"github.com/iabetor/voiceform/internal/logger"
)

// ServerURLEnv 是合成服务地址的环境变量名，未在配置文件中设置时使用。
const ServerURLEnv = "SERVER_URL"

// Config 是 voiceform 的顶层配置结构。
type Config struct {
	Synth    SynthConfig    `yaml:"synth"`
	Form     FormConfig     `yaml:"form"`
	Download DownloadConfig `yaml:"download"`
	History  HistoryConfig  `yaml:"history"`
	Web      WebConfig      `yaml:"web"`
	Log      LogConfig      `yaml:"log"`
}

// SynthConfig 远端合成服务配置。
type SynthConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout 返回请求超时时间。
func (c SynthConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// FormConfig 输入校验阈值。
type FormConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	MaxTextChars int   `yaml:"max_text_chars"`
}

// Limits 转换为表单控制器的阈值。
func (c FormConfig) Limits() form.Limits {
	return form.Limits{MaxFileBytes: c.MaxFileBytes, MaxTextChars: c.MaxTextChars}
}

// DownloadConfig 结果下载配置。
type DownloadConfig struct {
	Dir      string `yaml:"dir"`
	FileName string `yaml:"file_name"`
	MaxBytes int64  `yaml:"max_bytes"`
}

// HistoryConfig 合成历史配置。
type HistoryConfig struct {
	// Enabled 为指针以区分"未设置"和显式关闭。
	Enabled *bool  `yaml:"enabled"`
	DBPath  string `yaml:"db_path"`
}

// IsEnabled 报告是否记录合成历史，默认开启。
func (c HistoryConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// WebConfig 网页表单配置。
type WebConfig struct {
	Addr              string `yaml:"addr"`
	MaxUploadBytes    int64  `yaml:"max_upload_bytes"`
	SessionTTLMinutes int    `yaml:"session_ttl_minutes"`
}

// SessionTTL 返回会话空闲过期时间。
func (c WebConfig) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLMinutes) * time.Minute
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Logger 转换为 logger.Config。
func (c LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:      c.Level,
		File:       c.File,
		MaxSize:    c.MaxSize,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAge,
	}
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	expanded := os.Expand(string(data), os.Getenv)

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	return cfg, nil
}

// LoadOrDefault 与 Load 相同，但配置文件不存在时返回默认配置。
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		cfg = &Config{}
		setDefaults(cfg)
		return cfg, nil
	}
	return cfg, err
}

// Validate 检查运行合成所必需的配置。
func (c *Config) Validate() error {
	var problems []string
	if c.Synth.BaseURL == "" {
		problems = append(problems, "synth.base_url 未设置（或设置环境变量 "+ServerURLEnv+"）")
	}
	if c.Form.MaxFileBytes > c.Web.MaxUploadBytes {
		problems = append(problems, "web.max_upload_bytes 不能小于 form.max_file_bytes")
	}
	if len(problems) > 0 {
		return fmt.Errorf("配置无效: %s", strings.Join(problems, "; "))
	}
	return nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	cfg.Synth.BaseURL = strings.TrimSpace(cfg.Synth.BaseURL)
	if cfg.Synth.BaseURL == "" {
		cfg.Synth.BaseURL = strings.TrimSpace(os.Getenv(ServerURLEnv))
	}
	if cfg.Synth.TimeoutSeconds == 0 {
		cfg.Synth.TimeoutSeconds = 120
	}

	if cfg.Form.MaxFileBytes == 0 {
		cfg.Form.MaxFileBytes = form.DefaultMaxFileBytes
	}
	if cfg.Form.MaxTextChars == 0 {
		cfg.Form.MaxTextChars = form.DefaultMaxTextChars
	}

	if cfg.Download.Dir == "" {
		cfg.Download.Dir = "."
	}
	cfg.Download.Dir = expandHome(cfg.Download.Dir)
	if cfg.Download.FileName == "" {
		cfg.Download.FileName = download.DefaultFileName
	}
	if cfg.Download.MaxBytes == 0 {
		cfg.Download.MaxBytes = 50 * 1024 * 1024
	}

	if cfg.History.DBPath == "" {
		cfg.History.DBPath = "~/.voiceform/history.db"
	}
	cfg.History.DBPath = expandHome(cfg.History.DBPath)

	if cfg.Web.Addr == "" {
		cfg.Web.Addr = ":8080"
	}
	if cfg.Web.MaxUploadBytes == 0 {
		// 托管平台的请求体上限为 6MB，留出 multipart 开销
		cfg.Web.MaxUploadBytes = 6 * 1024 * 1024
	}
	if cfg.Web.SessionTTLMinutes == 0 {
		cfg.Web.SessionTTLMinutes = 60
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.File != "" {
		cfg.Log.File = expandHome(cfg.Log.File)
	}
}

// expandHome 将 ~/ 替换为用户主目录，Go 不会自动展开。
func expandHome(p string) string {
	if !strings.HasPrefix(p, "~/") {
		return p
	}
	home, _ := os.UserHomeDir()
	if home == "" {
		return p
	}
	return home + p[1:]
}
