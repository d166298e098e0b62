package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type BackendConfig struct {
	BaseURL string `json:"base_url"`
	// TimeoutMS 仅约束响应头等待时间；流式正文不限时。
	// TimeoutMS bounds the wait for response headers only; streaming bodies are unbounded.
	TimeoutMS int `json:"timeout_ms"`
}

type AgentConfig struct {
	Kind   string `json:"kind"`
	UserID string `json:"user_id"`
}

type TurnConfig struct {
	IdleTimeoutMS int `json:"idle_timeout_ms"`
}

type FallbackConfig struct {
	IntervalMS int `json:"interval_ms"`
}

type ArchiveConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type OpenAIConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
}

type ServerConfig struct {
	Addr       string       `json:"addr"`
	IntervalMS int          `json:"interval_ms"`
	OpenAI     OpenAIConfig `json:"openai"`
}

type Config struct {
	Backend  BackendConfig  `json:"backend"`
	Agent    AgentConfig    `json:"agent"`
	Turn     TurnConfig     `json:"turn"`
	Fallback FallbackConfig `json:"fallback"`
	Archive  ArchiveConfig  `json:"archive"`
	Server   ServerConfig   `json:"server"`
}

type fileBackendConfig struct {
	BaseURL   *string `json:"base_url"`
	TimeoutMS *int    `json:"timeout_ms"`
}

type fileAgentConfig struct {
	Kind   *string `json:"kind"`
	UserID *string `json:"user_id"`
}

type fileTurnConfig struct {
	IdleTimeoutMS *int `json:"idle_timeout_ms"`
}

type fileFallbackConfig struct {
	IntervalMS *int `json:"interval_ms"`
}

type fileArchiveConfig struct {
	Enabled *bool   `json:"enabled"`
	Path    *string `json:"path"`
}

type fileOpenAIConfig struct {
	BaseURL *string `json:"base_url"`
	APIKey  *string `json:"api_key"`
	Model   *string `json:"model"`
}

type fileServerConfig struct {
	Addr       *string           `json:"addr"`
	IntervalMS *int              `json:"interval_ms"`
	OpenAI     *fileOpenAIConfig `json:"openai"`
}

type fileConfig struct {
	Backend  *fileBackendConfig  `json:"backend"`
	Agent    *fileAgentConfig    `json:"agent"`
	Turn     *fileTurnConfig     `json:"turn"`
	Fallback *fileFallbackConfig `json:"fallback"`
	Archive  *fileArchiveConfig  `json:"archive"`
	Server   *fileServerConfig   `json:"server"`
}

func Default() Config {
	return Config{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8000",
			TimeoutMS: 10000,
		},
		Agent: AgentConfig{
			Kind:   "data-modeler",
			UserID: "local",
		},
		Turn: TurnConfig{
			IdleTimeoutMS: 30000,
		},
		Fallback: FallbackConfig{
			IntervalMS: 400,
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    "~/.workbench/history.db",
		},
		Server: ServerConfig{
			Addr:       ":8000",
			IntervalMS: 150,
			OpenAI: OpenAIConfig{
				Model: "gpt-4o-mini",
			},
		},
	}
}

// Load 依次合并默认值、全局配置、项目配置与环境变量，后者覆盖前者。
// Load merges defaults, the global config, the project config and env vars, later layers winning.
func Load(path string) (Config, error) {
	cfg := Default()

	for _, globalPath := range globalConfigPaths() {
		if err := mergeFromFile(&cfg, globalPath); err != nil {
			return Config{}, err
		}
	}

	resolvedPath := strings.TrimSpace(path)
	if envPath := strings.TrimSpace(os.Getenv("WORKBENCH_CONFIG_PATH")); envPath != "" {
		resolvedPath = envPath
	}
	if resolvedPath == "" {
		resolvedPath = findProjectConfigPath()
	}
	if err := mergeFromFile(&cfg, resolvedPath); err != nil {
		return Config{}, err
	}

	if err := normalize(&cfg); err != nil {
		return Config{}, err
	}
	return applyEnv(cfg)
}

func globalConfigPaths() []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil
	}
	return []string{filepath.Join(home, ".workbench", "config.json")}
}

func findProjectConfigPath() string {
	candidates := []string{
		"workbench.config.json",
		".workbench/config.json",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func mergeFromFile(cfg *Config, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil
	}

	resolved, err := expandPath(path)
	if err != nil {
		return fmt.Errorf("expand config path %q: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config %q: %w", resolved, err)
	}

	cleaned := stripJSONComments(data)
	var fileCfg fileConfig
	if err := json.Unmarshal(cleaned, &fileCfg); err != nil {
		return fmt.Errorf("parse config %q: %w", resolved, err)
	}
	applyFileConfig(cfg, fileCfg)
	return nil
}

func applyFileConfig(cfg *Config, fc fileConfig) {
	if fc.Backend != nil {
		if fc.Backend.BaseURL != nil {
			cfg.Backend.BaseURL = *fc.Backend.BaseURL
		}
		if fc.Backend.TimeoutMS != nil {
			cfg.Backend.TimeoutMS = *fc.Backend.TimeoutMS
		}
	}
	if fc.Agent != nil {
		if fc.Agent.Kind != nil {
			cfg.Agent.Kind = *fc.Agent.Kind
		}
		if fc.Agent.UserID != nil {
			cfg.Agent.UserID = *fc.Agent.UserID
		}
	}
	if fc.Turn != nil && fc.Turn.IdleTimeoutMS != nil {
		cfg.Turn.IdleTimeoutMS = *fc.Turn.IdleTimeoutMS
	}
	if fc.Fallback != nil && fc.Fallback.IntervalMS != nil {
		cfg.Fallback.IntervalMS = *fc.Fallback.IntervalMS
	}
	if fc.Archive != nil {
		if fc.Archive.Enabled != nil {
			cfg.Archive.Enabled = *fc.Archive.Enabled
		}
		if fc.Archive.Path != nil {
			cfg.Archive.Path = *fc.Archive.Path
		}
	}
	if fc.Server != nil {
		if fc.Server.Addr != nil {
			cfg.Server.Addr = *fc.Server.Addr
		}
		if fc.Server.IntervalMS != nil {
			cfg.Server.IntervalMS = *fc.Server.IntervalMS
		}
		if fc.Server.OpenAI != nil {
			if fc.Server.OpenAI.BaseURL != nil {
				cfg.Server.OpenAI.BaseURL = *fc.Server.OpenAI.BaseURL
			}
			if fc.Server.OpenAI.APIKey != nil {
				cfg.Server.OpenAI.APIKey = *fc.Server.OpenAI.APIKey
			}
			if fc.Server.OpenAI.Model != nil {
				cfg.Server.OpenAI.Model = *fc.Server.OpenAI.Model
			}
		}
	}
}

func normalize(cfg *Config) error {
	if strings.TrimSpace(cfg.Backend.BaseURL) == "" {
		cfg.Backend.BaseURL = Default().Backend.BaseURL
	}
	cfg.Backend.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Backend.BaseURL), "/")
	if cfg.Backend.TimeoutMS <= 0 {
		cfg.Backend.TimeoutMS = Default().Backend.TimeoutMS
	}

	if strings.TrimSpace(cfg.Agent.Kind) == "" {
		cfg.Agent.Kind = Default().Agent.Kind
	}
	if strings.TrimSpace(cfg.Agent.UserID) == "" {
		cfg.Agent.UserID = Default().Agent.UserID
	}

	if cfg.Turn.IdleTimeoutMS <= 0 {
		cfg.Turn.IdleTimeoutMS = Default().Turn.IdleTimeoutMS
	}
	if cfg.Fallback.IntervalMS <= 0 {
		cfg.Fallback.IntervalMS = Default().Fallback.IntervalMS
	}

	archivePath, err := expandPath(cfg.Archive.Path)
	if err != nil {
		return err
	}
	cfg.Archive.Path = archivePath

	if strings.TrimSpace(cfg.Server.Addr) == "" {
		cfg.Server.Addr = Default().Server.Addr
	}
	if cfg.Server.IntervalMS <= 0 {
		cfg.Server.IntervalMS = Default().Server.IntervalMS
	}
	if strings.TrimSpace(cfg.Server.OpenAI.Model) == "" {
		cfg.Server.OpenAI.Model = Default().Server.OpenAI.Model
	}

	return nil
}

func applyEnv(cfg Config) (Config, error) {
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_BACKEND_URL")); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_AGENT_KIND")); v != "" {
		cfg.Agent.Kind = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_USER_ID")); v != "" {
		cfg.Agent.UserID = v
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_IDLE_TIMEOUT_MS")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid WORKBENCH_IDLE_TIMEOUT_MS: %q", v)
		}
		cfg.Turn.IdleTimeoutMS = n
	}
	if v := strings.TrimSpace(os.Getenv("WORKBENCH_ARCHIVE_PATH")); v != "" {
		cfg.Archive.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" && cfg.Server.OpenAI.APIKey == "" {
		cfg.Server.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")); v != "" && cfg.Server.OpenAI.BaseURL == "" {
		cfg.Server.OpenAI.BaseURL = v
	}

	return cfg, normalize(&cfg)
}

func expandPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return "", nil
	}
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if path == "~" {
			path = home
		} else {
			path = filepath.Join(home, strings.TrimPrefix(path, "~/"))
		}
	}
	return filepath.Abs(path)
}

// stripJSONComments 去除 // 与 /* */ 注释，允许配置文件带注释。
// stripJSONComments removes // and /* */ comments so config files may carry notes.
func stripJSONComments(data []byte) []byte {
	const (
		stateNormal = iota
		stateString
		stateLineComment
		stateBlockComment
	)

	state := stateNormal
	escaped := false
	out := bytes.Buffer{}

	for i := 0; i < len(data); i++ {
		c := data[i]
		next := byte(0)
		if i+1 < len(data) {
			next = data[i+1]
		}

		switch state {
		case stateNormal:
			if c == '"' {
				state = stateString
				out.WriteByte(c)
				continue
			}
			if c == '/' && next == '/' {
				state = stateLineComment
				i++
				continue
			}
			if c == '/' && next == '*' {
				state = stateBlockComment
				i++
				continue
			}
			out.WriteByte(c)
		case stateString:
			out.WriteByte(c)
			if escaped {
				escaped = false
				continue
			}
			if c == '\\' {
				escaped = true
				continue
			}
			if c == '"' {
				state = stateNormal
			}
		case stateLineComment:
			if c == '\n' {
				state = stateNormal
				out.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && next == '/' {
				state = stateNormal
				i++
			}
		}
	}

	return out.Bytes()
}
