package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces every environment override, e.g. XLSXCTX_MODEL or
// XLSXCTX_OPENAI__TOKEN (double underscore descends into a section).
const EnvPrefix = "XLSXCTX_"

const maxConfigFileSize = 1024 * 1024

// OpenAI configures the completion collaborator.
type OpenAI struct {
	BaseURL    string `koanf:"base_url"`
	Token      string `koanf:"token"`
	APIType    string `koanf:"api_type" validate:"omitempty,oneof=openai azure azure_ad"`
	APIVersion string `koanf:"api_version"`
}

// Config is the process-wide configuration. It is read once at startup and
// never mutated afterwards.
type Config struct {
	AllowedDirs []string `koanf:"allowed_dirs"`
	Model       string   `koanf:"model" validate:"required"`

	ReserveTokens      int     `koanf:"reserve_tokens" validate:"gte=0"`
	HistoryShare       int     `koanf:"history_share" validate:"gte=1"`
	SummaryTokens      int     `koanf:"summary_tokens" validate:"gt=0"`
	MaxResponseTokens  int     `koanf:"max_response_tokens" validate:"gt=0"`
	MaxHistoryMessages int     `koanf:"max_history_messages" validate:"gte=0"`
	Temperature        float64 `koanf:"temperature" validate:"gte=0,lte=2"`
	SystemPrompt       string  `koanf:"system_prompt"`

	MaxConcurrentRequests int `koanf:"max_concurrent_requests" validate:"gte=0"`
	MaxOpenWorkbooks      int `koanf:"max_open_workbooks" validate:"gte=0"`
	MaxParallelSheets     int `koanf:"max_parallel_sheets" validate:"gte=0"`

	SessionTTL      time.Duration `koanf:"session_ttl"`
	EnableMutations bool          `koanf:"enable_mutations"`

	ModelLimits []ModelLimit `koanf:"model_limits" validate:"dive"`
	Vocabulary  []string     `koanf:"vocabulary"`

	OpenAI OpenAI `koanf:"openai"`
}

// Default returns a Config populated with package defaults.
func Default() Config {
	return Config{
		Model:                 DefaultModel,
		ReserveTokens:         DefaultReserveTokens,
		HistoryShare:          DefaultHistoryShare,
		SummaryTokens:         DefaultSummaryTokens,
		MaxResponseTokens:     DefaultMaxResponseTokens,
		MaxHistoryMessages:    DefaultMaxHistoryMessages,
		Temperature:           DefaultTemperature,
		SystemPrompt:          DefaultSystemPrompt,
		MaxConcurrentRequests: DefaultMaxConcurrentRequests,
		MaxOpenWorkbooks:      DefaultMaxOpenWorkbooks,
		MaxParallelSheets:     DefaultMaxParallelSheets,
		SessionTTL:            DefaultSessionIdleTTL,
		ModelLimits:           DefaultModelLimits(),
		Vocabulary:            DefaultFinanceTerms(),
	}
}

// Load layers XLSXCTX_* environment variables over an optional YAML file. An
// empty path skips the file. Zero values fall back to Default().
//
// Precedence (highest first): environment, file, defaults.
func Load(path string) (Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil); err != nil {
		return Config{}, fmt.Errorf("config: load env: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: invalid: %w", err)
	}
	return nil
}

func (c *Config) applyDefaults() {
	d := Default()

	var dirs []string
	for _, dir := range c.AllowedDirs {
		if dir = strings.TrimSpace(dir); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	c.AllowedDirs = dirs

	if strings.TrimSpace(c.Model) == "" {
		c.Model = d.Model
	}
	if c.ReserveTokens == 0 {
		c.ReserveTokens = d.ReserveTokens
	}
	if c.HistoryShare == 0 {
		c.HistoryShare = d.HistoryShare
	}
	if c.SummaryTokens == 0 {
		c.SummaryTokens = d.SummaryTokens
	}
	if c.MaxResponseTokens == 0 {
		c.MaxResponseTokens = d.MaxResponseTokens
	}
	if c.MaxHistoryMessages == 0 {
		c.MaxHistoryMessages = d.MaxHistoryMessages
	}
	if c.Temperature == 0 {
		c.Temperature = d.Temperature
	}
	if strings.TrimSpace(c.SystemPrompt) == "" {
		c.SystemPrompt = d.SystemPrompt
	}
	if c.MaxConcurrentRequests == 0 {
		c.MaxConcurrentRequests = d.MaxConcurrentRequests
	}
	if c.MaxOpenWorkbooks == 0 {
		c.MaxOpenWorkbooks = d.MaxOpenWorkbooks
	}
	if c.MaxParallelSheets == 0 {
		c.MaxParallelSheets = d.MaxParallelSheets
	}
	if c.SessionTTL == 0 {
		c.SessionTTL = d.SessionTTL
	}
	if len(c.ModelLimits) == 0 {
		c.ModelLimits = d.ModelLimits
	}
	if len(c.Vocabulary) == 0 {
		c.Vocabulary = d.Vocabulary
	}
}

// envValue maps XLSXCTX_OPENAI__BASE_URL to openai.base_url. List-valued keys
// are split: allowed_dirs on the OS path-list separator, vocabulary on commas.
func envValue(name, value string) (string, any) {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	key = strings.ReplaceAll(key, "__", ".")
	switch key {
	case "allowed_dirs":
		return key, filepath.SplitList(value)
	case "vocabulary":
		return key, strings.Split(value, ",")
	}
	return key, value
}

func readConfigFile(path string) ([]byte, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("config: stat %s: %w", path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config: %s is a directory", path)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("config: %s exceeds %d bytes", path, maxConfigFileSize)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return content, nil
}
