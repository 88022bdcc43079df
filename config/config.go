package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"fleet-transfer/transfer"
	"fleet-transfer/transfer/session"

	"github.com/zeromicro/go-zero/core/logx"
	"gopkg.in/yaml.v2"
)

var ErrNoServers = errors.New("未配置任何服务器")

const (
	defaultPort       = 22
	defaultMaxWorkers = 5
)

// LogxConfig 对应 YAML 中 Logger 的配置项
type LogxConfig struct {
	ServiceName string `yaml:"ServiceName"`
	Mode        string `yaml:"Mode"`       // file/console
	Encoding    string `yaml:"Encoding"`   // plain/json
	Level       string `yaml:"Level"`      // debug/info/warn/error/fatal
	Path        string `yaml:"Path"`       // 日志路径（当 Mode 为 file 时使用）
	Stat        bool   `yaml:"Stat"`
	KeepDays    int    `yaml:"KeepDays"`   // 保留天数
	MaxBackups  int    `yaml:"MaxBackups"` // 最多保留旧日志文件个数
	MaxSize     int    `yaml:"MaxSize"`    // 每个日志文件最大 MB
	Compress    bool   `yaml:"Compress"`   // 是否压缩日志
}

// AuditConfig 传输审计日志，Path 为空时不记录
type AuditConfig struct {
	Path       string `yaml:"Path"`
	Level      string `yaml:"Level"`
	MaxSize    int    `yaml:"MaxSize"`
	MaxBackups int    `yaml:"MaxBackups"`
	MaxAge     int    `yaml:"MaxAge"`
	Compress   bool   `yaml:"Compress"`
}

// OperationConfig 全局传输设置
type OperationConfig struct {
	Mode               string   `yaml:"Mode"`     // download/upload
	Match              []string `yaml:"Match"`    // 文件名包含的子串，默认 .py
	Patterns           []string `yaml:"Patterns"` // 文件名 glob 模式
	TaskTimeoutSeconds float64  `yaml:"TaskTimeoutSeconds"`
	FileMode           string   `yaml:"FileMode"` // 上传后设置的权限，如 0644
}

// RetryConfig 失败重传设置
type RetryConfig struct {
	MaxReloadCount      int     `yaml:"MaxReloadCount"`
	InitialDelaySeconds float64 `yaml:"InitialDelaySeconds"`
}

// ServerConfig 单台远程服务器
type ServerConfig struct {
	Label        string `yaml:"Label"`
	Hostname     string `yaml:"Hostname"`
	Port         int    `yaml:"Port"`
	Username     string `yaml:"Username"`
	Password     string `yaml:"Password"`
	KeyPath      string `yaml:"KeyPath"`
	KnownHosts   string `yaml:"KnownHosts"`
	RemoteFolder string `yaml:"RemoteFolder"`
	LocalFolder  string `yaml:"LocalFolder"`
	MaxWorkers   int    `yaml:"MaxWorkers"`
	Mode         string `yaml:"Mode"` // 为空时使用 Operation.Mode
}

// ControlConfig 控制面（HTTP/gRPC）设置
type ControlConfig struct {
	HTTPAddr  string `yaml:"HTTPAddr"`
	GRPCAddr  string `yaml:"GRPCAddr"`
	JWTSecret string `yaml:"JWTSecret"`
}

// Config 用于保存所有配置项
type Config struct {
	Logger    LogxConfig      `yaml:"Logger"`
	Audit     AuditConfig     `yaml:"Audit"`
	Operation OperationConfig `yaml:"Operation"`
	Retry     RetryConfig     `yaml:"Retry"`
	Servers   []ServerConfig  `yaml:"Servers"`
	Control   ControlConfig   `yaml:"Control"`
}

// getConfigPath 获取配置文件的路径
func getConfigPath() string {
	_, filename, _, ok := runtime.Caller(1)
	if !ok {
		logx.Error("无法获取运行时调用者信息")
		return ""
	}

	currentDir := filepath.Dir(filename)
	configPath := filepath.Join(currentDir, "..", "config", "config", "config.yaml")

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		logx.Errorf("无法获取绝对路径: %v", err)
	}

	return filepath.Clean(absPath)
}

// GetConfigPath 返回默认配置文件的路径
func GetConfigPath() string {
	return getConfigPath()
}

// LoadConfig 加载并校验配置文件，path 为空时使用默认路径
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		path = GetConfigPath()
	}
	logx.Infof("开始读取配置: %s", path)

	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	cfg, err := Parse(yamlFile)
	if err != nil {
		return nil, err
	}

	logx.Infof("配置读取完成，共 %d 台服务器", len(cfg.Servers))
	return cfg, nil
}

// Parse 解析 YAML 内容，填充默认值并校验
func Parse(data []byte) (*Config, error) {
	var config Config
	if err := yaml.UnmarshalStrict(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Operation.Mode == "" {
		c.Operation.Mode = string(transfer.Download)
	}
	for i := range c.Servers {
		s := &c.Servers[i]
		if s.Port == 0 {
			s.Port = defaultPort
		}
		if s.MaxWorkers == 0 {
			s.MaxWorkers = defaultMaxWorkers
		}
		if s.Mode == "" {
			s.Mode = c.Operation.Mode
		}
		if s.Label == "" {
			s.Label = fmt.Sprintf("%s:%d", s.Hostname, s.Port)
		}
	}
}

// Validate 一次性检查所有字段，返回全部问题
func (c *Config) Validate() error {
	if len(c.Servers) == 0 {
		return ErrNoServers
	}

	var errs []error
	if !validMode(c.Operation.Mode) {
		errs = append(errs, fmt.Errorf("Operation.Mode 无效: %q", c.Operation.Mode))
	}
	if c.Operation.TaskTimeoutSeconds < 0 {
		errs = append(errs, errors.New("Operation.TaskTimeoutSeconds 不能为负数"))
	}
	if _, err := c.FileMode(); err != nil {
		errs = append(errs, err)
	}
	if c.Retry.MaxReloadCount < 0 {
		errs = append(errs, errors.New("Retry.MaxReloadCount 不能为负数"))
	}
	if c.Retry.InitialDelaySeconds < 0 {
		errs = append(errs, errors.New("Retry.InitialDelaySeconds 不能为负数"))
	}

	labels := make(map[string]bool, len(c.Servers))
	for i, s := range c.Servers {
		prefix := fmt.Sprintf("Servers[%d]", i)
		if s.Hostname == "" {
			errs = append(errs, fmt.Errorf("%s.Hostname 不能为空", prefix))
		}
		if s.Port < 1 || s.Port > 65535 {
			errs = append(errs, fmt.Errorf("%s.Port 超出范围: %d", prefix, s.Port))
		}
		if s.Username == "" {
			errs = append(errs, fmt.Errorf("%s.Username 不能为空", prefix))
		}
		if s.Password == "" && s.KeyPath == "" {
			errs = append(errs, fmt.Errorf("%s 需要配置 Password 或 KeyPath", prefix))
		}
		if s.RemoteFolder == "" {
			errs = append(errs, fmt.Errorf("%s.RemoteFolder 不能为空", prefix))
		}
		if s.LocalFolder == "" {
			errs = append(errs, fmt.Errorf("%s.LocalFolder 不能为空", prefix))
		}
		if s.MaxWorkers < 1 {
			errs = append(errs, fmt.Errorf("%s.MaxWorkers 必须大于 0", prefix))
		}
		if !validMode(s.Mode) {
			errs = append(errs, fmt.Errorf("%s.Mode 无效: %q", prefix, s.Mode))
		}
		if labels[s.Label] {
			errs = append(errs, fmt.Errorf("%s.Label 重复: %s", prefix, s.Label))
		}
		labels[s.Label] = true
	}

	return errors.Join(errs...)
}

func validMode(mode string) bool {
	return mode == string(transfer.Download) || mode == string(transfer.Upload)
}

// FileMode 解析上传文件权限
func (c *Config) FileMode() (os.FileMode, error) {
	if c.Operation.FileMode == "" {
		return 0, nil
	}
	mode, err := strconv.ParseUint(c.Operation.FileMode, 8, 32)
	if err != nil || mode > 0o777 {
		return 0, fmt.Errorf("Operation.FileMode 无效: %q", c.Operation.FileMode)
	}
	return os.FileMode(mode), nil
}

// Targets 转换为传输层的服务器描述
func (c *Config) Targets() []transfer.ServerTarget {
	targets := make([]transfer.ServerTarget, 0, len(c.Servers))
	for _, s := range c.Servers {
		targets = append(targets, transfer.ServerTarget{
			Label:    s.Label,
			Hostname: s.Hostname,
			Port:     s.Port,
			Credentials: session.Credentials{
				User:     s.Username,
				Password: s.Password,
				KeyPath:  s.KeyPath,
			},
			KnownHostsFile: s.KnownHosts,
			RemoteRoot:     s.RemoteFolder,
			LocalRoot:      s.LocalFolder,
			MaxWorkers:     s.MaxWorkers,
			Direction:      transfer.Direction(s.Mode),
		})
	}
	return targets
}

// Policy 返回重传策略
func (c *Config) Policy() transfer.RetryPolicy {
	return transfer.RetryPolicy{
		MaxReloadCount: c.Retry.MaxReloadCount,
		InitialDelay:   seconds(c.Retry.InitialDelaySeconds),
	}
}

// TaskTimeout 单个任务的超时时间，0 表示不限制
func (c *Config) TaskTimeout() time.Duration {
	return seconds(c.Operation.TaskTimeoutSeconds)
}

// Selector 根据 Match 和 Patterns 构造文件选择器
func (c *Config) Selector() transfer.Selector {
	var selectors []transfer.Selector
	if len(c.Operation.Match) > 0 {
		selectors = append(selectors, transfer.ContainsAny(c.Operation.Match...))
	}
	if len(c.Operation.Patterns) > 0 {
		selectors = append(selectors, transfer.MatchGlob(c.Operation.Patterns...))
	}
	if len(selectors) == 0 {
		return transfer.DefaultSelector
	}
	return transfer.Any(selectors...)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// SetupLogx 使用 go-zero 的 logx 初始化日志系统
func SetupLogx(cfg *Config) {
	logConf := logx.LogConf{
		ServiceName: cfg.Logger.ServiceName,
		Mode:        cfg.Logger.Mode,
		Encoding:    cfg.Logger.Encoding,
		Level:       cfg.Logger.Level,
		Path:        cfg.Logger.Path,
		Stat:        cfg.Logger.Stat,
		KeepDays:    cfg.Logger.KeepDays,
		MaxBackups:  cfg.Logger.MaxBackups,
		MaxSize:     cfg.Logger.MaxSize,
		Compress:    cfg.Logger.Compress,
	}

	// 未配置的字段交给 logx 的默认值
	if logConf.Mode == "" {
		logConf.Mode = "console"
	}
	if logConf.Encoding == "" {
		logConf.Encoding = "plain"
	}
	if logConf.Level == "" {
		logConf.Level = "info"
	}
	if logConf.Path == "" {
		logConf.Path = "logs"
	}

	if err := logx.SetUp(logConf); err != nil {
		logx.Errorf("初始化日志失败：%v", err)
	}
}

// AuditLevel 审计日志级别名称，默认 info
func (c *Config) AuditLevel() string {
	if c.Audit.Level == "" {
		return "info"
	}
	return strings.ToLower(c.Audit.Level)
}
