package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"AgentForge/internal/auth"
)

// Config 描述了 AgentForge 启动阶段需要加载的全部配置。
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Toolchain ToolchainConfig `yaml:"toolchain"`
	Probe     ProbeConfig     `yaml:"probe"`
	Storage   StorageConfig   `yaml:"storage"`
	Queue     QueueConfig     `yaml:"queue"`
	Server    ServerConfig    `yaml:"server"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Alerting  AlertingConfig  `yaml:"alerting"`
	Auth      auth.Config     `yaml:"auth"`
	Log       LogConfig       `yaml:"log"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string             `yaml:"provider"`
	OpenAI   OpenAIConfig       `yaml:"openai"`
	Python   PythonBridgeConfig `yaml:"python_bridge"`
}

// OpenAIConfig 描述 Chat Completions 接口的访问参数。
type OpenAIConfig struct {
	APIKey         string  `yaml:"api_key"`
	APIKeyEnv      string  `yaml:"api_key_env"`
	Organization   string  `yaml:"organization"`
	OrgEnv         string  `yaml:"organization_env"`
	BaseURL        string  `yaml:"base_url"`
	Model          string  `yaml:"model"`
	Temperature    float64 `yaml:"temperature"`
	TimeoutSeconds int     `yaml:"timeout_seconds"`
}

// Timeout 返回单次请求的超时时间，0 表示使用客户端默认值。
func (o OpenAIConfig) Timeout() time.Duration {
	if o.TimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// PythonBridgeConfig 描述通过 Python 脚本完成推理时所需的信息。
type PythonBridgeConfig struct {
	PythonExecutable string `yaml:"python_executable"`
	ScriptPath       string `yaml:"script_path"`
	WorkingDir       string `yaml:"working_dir"`
}

// WorkspaceConfig 指定生成代码、模板与接口清单的落盘位置。
type WorkspaceConfig struct {
	Dir           string `yaml:"dir"`
	TemplateFile  string `yaml:"template_file"`
	CodeFile      string `yaml:"code_file"`
	EndpointsFile string `yaml:"endpoints_file"`
}

// ToolchainConfig 描述编译与运行生成服务所用的命令。
type ToolchainConfig struct {
	BuildCommand  []string `yaml:"build_command"`
	RunCommand    []string `yaml:"run_command"`
	Port          int      `yaml:"port"`
	WarmUpSeconds int      `yaml:"warm_up_seconds"`
	MaxBugCount   int      `yaml:"max_bug_count"`
}

// WarmUp 返回服务启动后、接口检测前的等待时间。
func (t ToolchainConfig) WarmUp() time.Duration {
	return time.Duration(t.WarmUpSeconds) * time.Second
}

// ProbeConfig 控制 HTTP 状态检测。
type ProbeConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// Timeout 返回状态检测的超时时间。
func (p ProbeConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSeconds) * time.Second
}

// StorageConfig 统一描述运行记录存储后端。
type StorageConfig struct {
	RunStore RunStoreConfig `yaml:"run_store"`
}

// RunStoreConfig 支持 memory（本地 JSONL 文件）、sqlite（data_dir 下的 runs.db）与 mysql 三种驱动。
type RunStoreConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	DataDir                string `yaml:"data_dir"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeSeconds int    `yaml:"conn_max_lifetime_seconds"`
}

// QueueConfig 描述排队执行流水线所使用的消息队列。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Size     int            `yaml:"size"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 是 Redis 队列的连接参数。
type RedisConfig struct {
	Address          string `yaml:"address"`
	Password         string `yaml:"password"`
	DB               int    `yaml:"db"`
	Queue            string `yaml:"queue"`
	BlockWaitSeconds int    `yaml:"block_wait_seconds"`
}

// RabbitMQConfig 是 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ServerConfig 控制 serve 模式下 HTTP 接口的监听地址。
type ServerConfig struct {
	Address string `yaml:"address"`
}

// MetricsConfig 控制是否暴露 Prometheus 指标。
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AlertingConfig 控制 serve 模式下运行失败时的告警。
type AlertingConfig struct {
	Enabled       bool   `yaml:"enabled"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookURLEnv string `yaml:"webhook_url_env"`
	MinSeverity   string `yaml:"min_severity"`
}

// LogConfig 对应 pkg/logger 的配置项。
type LogConfig struct {
	Level   string         `yaml:"level"`
	Format  string         `yaml:"format"`
	Outputs []string       `yaml:"outputs"`
	Audit   AuditLogConfig `yaml:"audit"`
}

// AuditLogConfig 控制审计日志的输出与轮转。
type AuditLogConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load 解析指定路径的 YAML 配置文件。文件不存在时返回默认配置。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	var cfg Config
	content, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	default:
		if err := yaml.Unmarshal(content, &cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	}

	baseDir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("解析配置目录失败: %w", err)
	}
	cfg.applyDefaults(baseDir)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.OpenAI.APIKeyEnv == "" {
		c.LLM.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.LLM.OpenAI.OrgEnv == "" {
		c.LLM.OpenAI.OrgEnv = "OPENAI_ORG_ID"
	}
	if c.LLM.OpenAI.Model == "" {
		c.LLM.OpenAI.Model = "gpt-4"
	}
	if c.LLM.OpenAI.Temperature == 0 {
		c.LLM.OpenAI.Temperature = 0.1
	}
	if c.LLM.Python.PythonExecutable == "" {
		c.LLM.Python.PythonExecutable = "python3"
	}
	c.LLM.Python.WorkingDir = resolve(baseDir, c.LLM.Python.WorkingDir, ".")

	c.Workspace.Dir = resolve(baseDir, c.Workspace.Dir, "generated")
	c.Workspace.TemplateFile = resolve(c.Workspace.Dir, c.Workspace.TemplateFile, "code_template.go.txt")
	c.Workspace.CodeFile = resolve(c.Workspace.Dir, c.Workspace.CodeFile, "main.go")
	c.Workspace.EndpointsFile = resolve(c.Workspace.Dir, c.Workspace.EndpointsFile, "api_endpoints.json")

	if len(c.Toolchain.BuildCommand) == 0 {
		c.Toolchain.BuildCommand = []string{"go", "build", "./..."}
	}
	if len(c.Toolchain.RunCommand) == 0 {
		c.Toolchain.RunCommand = []string{"go", "run", "."}
	}
	if c.Toolchain.Port <= 0 {
		c.Toolchain.Port = 1337
	}
	if c.Toolchain.WarmUpSeconds <= 0 {
		c.Toolchain.WarmUpSeconds = 5
	}
	if c.Toolchain.MaxBugCount <= 0 {
		c.Toolchain.MaxBugCount = 2
	}

	if c.Probe.TimeoutSeconds <= 0 {
		c.Probe.TimeoutSeconds = 5
	}

	if c.Storage.RunStore.Driver == "" {
		c.Storage.RunStore.Driver = "memory"
	}
	c.Storage.RunStore.DataDir = resolve(baseDir, c.Storage.RunStore.DataDir, "data")

	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Queue.Size <= 0 {
		c.Queue.Size = 64
	}

	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	if c.Alerting.WebhookURLEnv == "" {
		c.Alerting.WebhookURLEnv = "AGENTFORGE_ALERT_WEBHOOK"
	}
	if c.Alerting.MinSeverity == "" {
		c.Alerting.MinSeverity = "warning"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stderr"}
	}
	if c.Log.Audit.Enabled {
		c.Log.Audit.Path = resolve(baseDir, c.Log.Audit.Path, filepath.Join("logs", "audit.log"))
	}
}

func (c *Config) validate() error {
	switch c.Storage.RunStore.Driver {
	case "memory", "file", "sqlite":
	case "mysql":
		if strings.TrimSpace(c.Storage.RunStore.DSN) == "" {
			return errors.New("mysql 存储驱动需要配置 dsn")
		}
	default:
		return fmt.Errorf("未知的存储驱动: %s", c.Storage.RunStore.Driver)
	}
	switch c.Queue.Driver {
	case "memory", "redis", "rabbitmq":
	default:
		return fmt.Errorf("未知的队列驱动: %s", c.Queue.Driver)
	}
	switch c.Alerting.MinSeverity {
	case "info", "warning", "critical":
	default:
		return fmt.Errorf("未知的告警级别: %s", c.Alerting.MinSeverity)
	}
	if c.Toolchain.MaxBugCount > 255 {
		return fmt.Errorf("max_bug_count 超出范围: %d", c.Toolchain.MaxBugCount)
	}
	return nil
}

// resolve 将相对路径转换为相对 baseDir 的绝对路径，空值使用 fallback。
func resolve(baseDir, value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		value = fallback
	}
	if filepath.IsAbs(value) {
		return value
	}
	return filepath.Join(baseDir, value)
}
