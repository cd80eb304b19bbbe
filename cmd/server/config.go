package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/MegaGrindStone/streamchat/internal/handlers"
	"github.com/MegaGrindStone/streamchat/internal/services"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort       = "8787"
	defaultOllamaHost = "http://localhost:11434"
)

type llmConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type config struct {
	Port         string    `yaml:"port"`
	SystemPrompt string    `yaml:"systemPrompt"`
	LogLevel     string    `yaml:"logLevel"`
	LogFormat    string    `yaml:"logFormat"`
	LLM          llmConfig `yaml:"llm"`
}

type echoConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Delay         time.Duration `yaml:"delay"`
}

type openaiConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	BaseURL       string `yaml:"baseURL"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	MaxTokens     int    `yaml:"maxTokens"`
}

var errModelRequired = errors.New("model is required")

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port         string         `yaml:"port"`
		SystemPrompt string         `yaml:"systemPrompt"`
		LogLevel     string         `yaml:"logLevel"`
		LogFormat    string         `yaml:"logFormat"`
		LLM          map[string]any `yaml:"llm"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.SystemPrompt = rawConfig.SystemPrompt
	c.LogLevel = rawConfig.LogLevel
	c.LogFormat = rawConfig.LogFormat

	llmProvider, ok := rawConfig.LLM["provider"].(string)
	if !ok {
		return fmt.Errorf("llm provider is required")
	}

	llmRawYAML, err := yaml.Marshal(rawConfig.LLM)
	if err != nil {
		return err
	}

	var llm llmConfig
	switch llmProvider {
	case "echo":
		llm = &echoConfig{}
	case "openai":
		llm = &openaiConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm
	return nil
}

// loadConfig decodes a config document and fills in defaults.
func loadConfig(r io.Reader) (config, error) {
	cfg := config{}
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config: %w", err)
	}
	if cfg.Port == "" {
		cfg.Port = defaultPort
	}
	return cfg, nil
}

// newLogger builds the process logger from the logLevel and logFormat settings.
func (c config) newLogger(w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if c.LogLevel != "" {
		if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
			return nil, fmt.Errorf("invalid logLevel %q: %w", c.LogLevel, err)
		}
	}
	opts := &slog.HandlerOptions{Level: level}

	switch strings.ToLower(c.LogFormat) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("invalid logFormat %q", c.LogFormat)
	}
}

func (e echoConfig) llm(string, *slog.Logger) (handlers.LLM, error) {
	return services.NewEcho(e.Delay), nil
}

func (o openaiConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, errModelRequired
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, systemPrompt, logger), nil
}

func (o openRouterConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, errModelRequired
	}

	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	return services.NewOpenRouter(apiKey, o.Endpoint, o.Model, systemPrompt, logger), nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (handlers.LLM, error) {
	if o.Model == "" {
		return nil, errModelRequired
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = defaultOllamaHost
	}
	return services.NewOllama(host, o.Model, systemPrompt)
}

func (a anthropicConfig) llm(systemPrompt string, _ *slog.Logger) (handlers.LLM, error) {
	if a.Model == "" {
		return nil, errModelRequired
	}
	if a.MaxTokens == 0 {
		return nil, fmt.Errorf("maxTokens is required")
	}

	apiKey := a.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	return services.NewAnthropic(apiKey, a.Endpoint, a.Model, systemPrompt, a.MaxTokens), nil
}
