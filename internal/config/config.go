// Package config loads the JSON configuration file, applies environment
// overrides and supports dot-key get/set for the CLI.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/user/meetbot/internal/analysis"
	"github.com/user/meetbot/internal/crm"
)

type Config struct {
	DataDir           string `json:"data_dir"`
	LogLevel          string `json:"log_level"`
	MaxConcurrent     int    `json:"max_concurrent"`
	MaxSessionSeconds int    `json:"max_session_seconds"`
	KeepArtifacts     bool   `json:"keep_artifacts"`
	Browser           struct {
		ExecPath          string `json:"exec_path"`
		Headless          bool   `json:"headless"`
		UserAgent         string `json:"user_agent,omitempty"`
		DisplayName       string `json:"display_name"`
		WindowWidth       int    `json:"window_width"`
		WindowHeight      int    `json:"window_height"`
		NavigationSeconds int    `json:"navigation_timeout_seconds"`
		SettleSeconds     int    `json:"settle_seconds"`
	} `json:"browser"`
	Recording struct {
		FFmpegPath  string `json:"ffmpeg_path"`
		InputFormat string `json:"input_format"`
		Input       string `json:"input"`
		OutputDir   string `json:"output_dir"`
		MaxSeconds  int    `json:"max_seconds"`
		SampleRate  int    `json:"sample_rate"`
		Channels    int    `json:"channels"`
		Filters     string `json:"filters"`
	} `json:"recording"`
	Transcription struct {
		BaseURL        string `json:"base_url,omitempty"`
		APIKey         string `json:"api_key,omitempty"`
		Model          string `json:"model"`
		Language       string `json:"language"`
		TimeoutSeconds int    `json:"timeout_seconds"`
	} `json:"transcription"`
	LLM struct {
		BaseURL        string  `json:"base_url"`
		APIKey         string  `json:"api_key"`
		Model          string  `json:"model"`
		MaxTokens      int     `json:"max_tokens"`
		Temperature    float32 `json:"temperature"`
		TimeoutSeconds int     `json:"timeout_seconds"`
	} `json:"llm"`
	Analysis struct {
		PromptPath          string               `json:"prompt_path,omitempty"`
		MaxTranscriptTokens int                  `json:"max_transcript_tokens"`
		Retries             int                  `json:"retries"`
		Criteria            []analysis.Criterion `json:"criteria,omitempty"`
	} `json:"analysis"`
	Telegram struct {
		Token       string `json:"token"`
		AdminChatID string `json:"admin_chat_id"`
	} `json:"telegram"`
	Bitrix struct {
		WebhookURL     string                `json:"webhook_url"`
		ResponsibleID  int                   `json:"responsible_id"`
		GroupID        int                   `json:"group_id"`
		TimeoutSeconds int                   `json:"timeout_seconds"`
		Policies       map[string]crm.Policy `json:"policies,omitempty"`
	} `json:"bitrix"`
	HTTP struct {
		Listen string `json:"listen"`
	} `json:"http"`
	Metrics struct {
		Enabled bool `json:"enabled"`
	} `json:"metrics"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	cfg := &Config{
		DataDir:           filepath.Join(os.Getenv("HOME"), ".meetbot"),
		LogLevel:          "info",
		MaxConcurrent:     1,
		MaxSessionSeconds: 3600,
	}
	cfg.Browser.ExecPath = "/usr/bin/google-chrome-stable"
	cfg.Browser.DisplayName = "Meeting Bot"
	cfg.Browser.WindowWidth = 1280
	cfg.Browser.WindowHeight = 800
	cfg.Browser.NavigationSeconds = 90
	cfg.Browser.SettleSeconds = 5

	cfg.Recording.FFmpegPath = "ffmpeg"
	cfg.Recording.InputFormat = "pulse"
	cfg.Recording.Input = "default.monitor"
	cfg.Recording.OutputDir = "/tmp/recordings"
	cfg.Recording.MaxSeconds = 3600
	cfg.Recording.SampleRate = 16000
	cfg.Recording.Channels = 1
	cfg.Recording.Filters = "highpass=f=200,lowpass=f=4000"

	cfg.Transcription.Model = "whisper-1"
	cfg.Transcription.Language = "ru"
	cfg.Transcription.TimeoutSeconds = 600

	cfg.LLM.BaseURL = "https://api.openai.com/v1"
	cfg.LLM.Model = "gpt-4o-mini"
	cfg.LLM.MaxTokens = 2000
	cfg.LLM.Temperature = 0.2
	cfg.LLM.TimeoutSeconds = 120

	cfg.Analysis.MaxTranscriptTokens = 60000
	cfg.Analysis.Retries = 2

	cfg.Bitrix.TimeoutSeconds = 30
	cfg.HTTP.Listen = ":3000"
	cfg.Metrics.Enabled = true
	return cfg
}

// LoadEnvFiles loads .env.local then .env from dir into the process
// environment. Variables already set are left alone, so .env.local wins over
// .env and the real environment wins over both.
func LoadEnvFiles(dir string) error {
	for _, name := range []string{".env.local", ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("load %s: %w", path, err)
		}
	}
	return nil
}

// Load reads path over the defaults, writing the defaults there if the file
// doesn't exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if os.IsNotExist(err) {
		if err := Save(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overrides file values from the environment (highest precedence).
func applyEnv(cfg *Config) {
	setString := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v := os.Getenv(k); v != "" {
				*dst = v
				return
			}
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	setString(&cfg.LLM.APIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.BaseURL, "OPENAI_BASE_URL")
	setString(&cfg.Telegram.Token, "TELEGRAM_BOT_TOKEN")
	setString(&cfg.Telegram.AdminChatID, "ADMIN_CHAT_ID")
	setString(&cfg.Bitrix.WebhookURL, "BITRIX_WEBHOOK_URL", "BITRIX_BASE_URL")
	setString(&cfg.Browser.ExecPath, "CHROME_BIN")
	setString(&cfg.Recording.OutputDir, "REC_DIR")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	if v := os.Getenv("REC_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Recording.MaxSeconds = n
			cfg.MaxSessionSeconds = n
		}
	}
	setInt(&cfg.MaxConcurrent, "MAX_CONCURRENT")
	if v := os.Getenv("PORT"); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			cfg.HTTP.Listen = ":" + v
		}
	}
}

// Save writes cfg to path atomically, creating the directory if needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func writeAtomic(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to its nested JSON map form.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// ListValues returns every setting as a flat dot-key map, with secrets
// masked when mask is set.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

// readRaw returns the file's flat key map without defaults or env overrides.
func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return Flatten(m), nil
}

// GetValue returns the value stored in the file for a dot key. A missing
// file is created with defaults first.
func GetValue(path, key string) (any, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := Save(path, Default()); err != nil {
			return nil, err
		}
	}
	flat, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := flat[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under a dot key. Values that parse as JSON (numbers,
// booleans, arrays) are stored typed; anything else is stored as a string.
func SetValue(path, key, value string) error {
	if !knownSection(key) {
		return fmt.Errorf("unknown config key: %s", key)
	}
	flat, err := readRaw(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat[key] = parsed

	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}
