package main

import (
	"bytes"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MegaGrindStone/streamchat"
	"github.com/MegaGrindStone/streamchat/internal/services"
)

func TestLoadConfig(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		check   func(t *testing.T, cfg config)
	}{
		{
			name:  "Embedded default",
			input: string(streamchat.DefaultConfig),
			check: func(t *testing.T, cfg config) {
				e, ok := cfg.LLM.(*echoConfig)
				if !ok {
					t.Fatalf("LLM = %T, want *echoConfig", cfg.LLM)
				}
				if e.Delay != 40*time.Millisecond {
					t.Errorf("Delay = %v, want 40ms", e.Delay)
				}
				if cfg.Port != "8787" || cfg.SystemPrompt == "" {
					t.Errorf("cfg = %+v", cfg)
				}
			},
		},
		{
			name: "OpenAI",
			input: `
systemPrompt: be brief
llm:
  provider: openai
  model: gpt-4o-mini
  baseURL: http://localhost:1234/v1
  apiKey: sk-test
`,
			check: func(t *testing.T, cfg config) {
				o, ok := cfg.LLM.(*openaiConfig)
				if !ok {
					t.Fatalf("LLM = %T, want *openaiConfig", cfg.LLM)
				}
				if o.Model != "gpt-4o-mini" || o.BaseURL != "http://localhost:1234/v1" || o.APIKey != "sk-test" {
					t.Errorf("openai config = %+v", o)
				}
				if cfg.Port != defaultPort {
					t.Errorf("Port = %q, want default", cfg.Port)
				}
				if cfg.SystemPrompt != "be brief" {
					t.Errorf("SystemPrompt = %q", cfg.SystemPrompt)
				}
			},
		},
		{
			name: "Anthropic",
			input: `
port: "9000"
llm:
  provider: anthropic
  model: claude
  maxTokens: 512
`,
			check: func(t *testing.T, cfg config) {
				a, ok := cfg.LLM.(*anthropicConfig)
				if !ok {
					t.Fatalf("LLM = %T, want *anthropicConfig", cfg.LLM)
				}
				if a.MaxTokens != 512 || cfg.Port != "9000" {
					t.Errorf("cfg = %+v, anthropic = %+v", cfg, a)
				}
			},
		},
		{
			name:    "Missing provider",
			input:   "llm:\n  model: x\n",
			wantErr: true,
		},
		{
			name:    "Unknown provider",
			input:   "llm:\n  provider: nope\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := loadConfig(strings.NewReader(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("loadConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLLMFromConfig(t *testing.T) {
	t.Setenv("OLLAMA_HOST", "")

	tests := []struct {
		name    string
		cfg     llmConfig
		wantErr bool
	}{
		{name: "Echo", cfg: echoConfig{}},
		{name: "OpenAI", cfg: openaiConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}}},
		{name: "OpenAI without model", cfg: openaiConfig{}, wantErr: true},
		{name: "OpenRouter", cfg: openRouterConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}}},
		{name: "OpenRouter without model", cfg: openRouterConfig{}, wantErr: true},
		{name: "Ollama default host", cfg: ollamaConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}}},
		{name: "Ollama bad host", cfg: ollamaConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}, Host: "://bad"}, wantErr: true},
		{name: "Anthropic", cfg: anthropicConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}, MaxTokens: 10}},
		{name: "Anthropic without maxTokens", cfg: anthropicConfig{BaseLLMConfig: BaseLLMConfig{Model: "m"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm, err := tt.cfg.llm("prompt", slog.New(slog.NewTextHandler(io.Discard, nil)))
			if (err != nil) != tt.wantErr {
				t.Fatalf("llm() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && llm == nil {
				t.Error("llm() returned nil")
			}
		})
	}
}

func TestEchoConfigBuildsEcho(t *testing.T) {
	llm, err := echoConfig{Delay: time.Millisecond}.llm("", nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := llm.(services.Echo); !ok {
		t.Errorf("llm = %T, want services.Echo", llm)
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name     string
		cfg      config
		wantErr  bool
		wantJSON bool
		debug    bool
	}{
		{name: "Defaults", cfg: config{}},
		{name: "JSON debug", cfg: config{LogLevel: "debug", LogFormat: "json"}, wantJSON: true, debug: true},
		{name: "Bad level", cfg: config{LogLevel: "loud"}, wantErr: true},
		{name: "Bad format", cfg: config{LogFormat: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := tt.cfg.newLogger(&buf)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}

			logger.Debug("debug line")
			logger.Info("info line")

			out := buf.String()
			if strings.Contains(out, "debug line") != tt.debug {
				t.Errorf("debug output present = %v, want %v", !tt.debug, tt.debug)
			}
			if strings.HasPrefix(out, "{") != tt.wantJSON {
				t.Errorf("output = %q, want JSON %v", out, tt.wantJSON)
			}
		})
	}
}

func TestOpenConfig(t *testing.T) {
	t.Run("Explicit path", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("llm:\n  provider: echo\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		t.Setenv("STREAMCHAT_CONFIG", path)

		r, source, err := openConfig()
		if err != nil {
			t.Fatalf("openConfig() error = %v", err)
		}
		defer r.Close()
		if source != path {
			t.Errorf("source = %q, want %q", source, path)
		}
	})

	t.Run("Explicit path missing", func(t *testing.T) {
		t.Setenv("STREAMCHAT_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
		if _, _, err := openConfig(); err == nil {
			t.Error("openConfig() error = nil, want error")
		}
	})

	t.Run("Embedded fallback", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		t.Setenv("HOME", t.TempDir())
		t.Setenv("AppData", t.TempDir())
		t.Setenv("STREAMCHAT_CONFIG", "")
		os.Unsetenv("STREAMCHAT_CONFIG")

		r, source, err := openConfig()
		if err != nil {
			t.Fatalf("openConfig() error = %v", err)
		}
		defer r.Close()
		data, err := io.ReadAll(r)
		if err != nil {
			t.Fatal(err)
		}
		if source != "embedded default" || !bytes.Equal(data, streamchat.DefaultConfig) {
			t.Errorf("source = %q", source)
		}
	})
}
