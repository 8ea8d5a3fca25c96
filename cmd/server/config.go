package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MegaGrindStone/websearch-chat/internal/agents"
	"github.com/MegaGrindStone/websearch-chat/internal/chat"
	"github.com/MegaGrindStone/websearch-chat/internal/handlers"
	"github.com/MegaGrindStone/websearch-chat/internal/services"
	"gopkg.in/yaml.v3"
)

// llmConfig builds the model client for an API key. The key comes from the user's session, never from
// the configuration file.
type llmConfig interface {
	llm(ctx context.Context, apiKey string, logger *slog.Logger) (agents.LLM, error)
}

// BaseLLMConfig contains the common fields for all LLM configurations.
type BaseLLMConfig struct {
	Provider   string                 `yaml:"provider"`
	Model      string                 `yaml:"model"`
	Parameters services.LLMParameters `yaml:"parameters"`
}

type config struct {
	Port      string
	LogLevel  string
	LogFormat string
	Greeting  string

	LLM    llmConfig
	Search searchConfig
	Agent  agentConfig
	Fetch  fetchConfig
	Page   pageConfig
}

type geminiConfig struct {
	BaseLLMConfig `yaml:",inline"`
}

type openAIConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

type anthropicConfig struct {
	BaseLLMConfig `yaml:",inline"`
	MaxTokens     int `yaml:"maxTokens"`
}

type ollamaConfig struct {
	BaseLLMConfig `yaml:",inline"`
	Host          string `yaml:"host"`
}

type openRouterConfig struct {
	BaseLLMConfig `yaml:",inline"`
	BaseURL       string `yaml:"baseURL"`
}

type searchConfig struct {
	Provider   string          `yaml:"provider"`
	MaxResults int             `yaml:"maxResults"`
	Endpoint   string          `yaml:"endpoint"`
	MCP        mcpSearchConfig `yaml:"mcp"`
}

type mcpSearchConfig struct {
	URL      string   `yaml:"url"`
	Command  string   `yaml:"command"`
	Args     []string `yaml:"args"`
	Tool     string   `yaml:"tool"`
	QueryArg string   `yaml:"queryArg"`
	CountArg string   `yaml:"countArg"`
}

type agentConfig struct {
	MaxSteps     int    `yaml:"maxSteps"`
	SystemPrompt string `yaml:"systemPrompt"`
}

type fetchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

type pageConfig struct {
	Title        string       `yaml:"title"`
	Caption      string       `yaml:"caption"`
	About        string       `yaml:"about"`
	SidebarLinks []linkConfig `yaml:"sidebarLinks"`
}

type linkConfig struct {
	Title string `yaml:"title"`
	URL   string `yaml:"url"`
}

const (
	defaultPort        = "8080"
	defaultGeminiModel = "gemini-2.5-flash"
	defaultMaxTokens   = 4096
)

func defaultConfig() config {
	return config{
		Port:      defaultPort,
		LogLevel:  "info",
		LogFormat: "text",
		Greeting:  chat.DefaultGreeting,
		LLM: &geminiConfig{BaseLLMConfig: BaseLLMConfig{
			Provider: "gemini",
			Model:    defaultGeminiModel,
		}},
		Search: searchConfig{
			Provider:   "duckduckgo",
			MaxResults: agents.DefaultMaxResults,
		},
		Agent: agentConfig{MaxSteps: agents.DefaultMaxSteps},
		Page: pageConfig{
			SidebarLinks: []linkConfig{
				{Title: "Get your Gemini API key", URL: "https://ai.google.dev/gemini-api/docs"},
				{Title: "View the source code", URL: "https://github.com/AnandThirwani8/AI-Driven-RealTime-Web-Search/"},
				{Title: "Let's Connect", URL: "https://www.linkedin.com/in/anandthirwani/"},
			},
		},
	}
}

// loadConfig reads the configuration at path. A missing file yields the default configuration.
func loadConfig(path string) (config, error) {
	cfg := defaultConfig()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return config{}, fmt.Errorf("error opening config file: %w", err)
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&cfg); err != nil {
		return config{}, fmt.Errorf("error decoding config file: %w", err)
	}
	return cfg, nil
}

// UnmarshalYAML decodes the configuration on top of the values already in c, so fields missing from the
// file keep their defaults. The llm block is decoded according to its provider.
func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port      string         `yaml:"port"`
		LogLevel  string         `yaml:"logLevel"`
		LogFormat string         `yaml:"logFormat"`
		Greeting  string         `yaml:"greeting"`
		LLM       map[string]any `yaml:"llm"`
		Search    *searchConfig  `yaml:"search"`
		Agent     *agentConfig   `yaml:"agent"`
		Fetch     *fetchConfig   `yaml:"fetch"`

		Title        string       `yaml:"title"`
		Caption      string       `yaml:"caption"`
		About        string       `yaml:"about"`
		SidebarLinks []linkConfig `yaml:"sidebarLinks"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	setString(&c.Port, rawConfig.Port)
	setString(&c.LogLevel, rawConfig.LogLevel)
	setString(&c.LogFormat, rawConfig.LogFormat)
	setString(&c.Greeting, rawConfig.Greeting)
	setString(&c.Page.Title, rawConfig.Title)
	setString(&c.Page.Caption, rawConfig.Caption)
	setString(&c.Page.About, rawConfig.About)
	if rawConfig.SidebarLinks != nil {
		c.Page.SidebarLinks = rawConfig.SidebarLinks
	}

	if rawConfig.Search != nil {
		setString(&c.Search.Provider, rawConfig.Search.Provider)
		setString(&c.Search.Endpoint, rawConfig.Search.Endpoint)
		if rawConfig.Search.MaxResults > 0 {
			c.Search.MaxResults = rawConfig.Search.MaxResults
		}
		c.Search.MCP = rawConfig.Search.MCP
	}
	if rawConfig.Agent != nil {
		if rawConfig.Agent.MaxSteps > 0 {
			c.Agent.MaxSteps = rawConfig.Agent.MaxSteps
		}
		setString(&c.Agent.SystemPrompt, rawConfig.Agent.SystemPrompt)
	}
	if rawConfig.Fetch != nil {
		c.Fetch = *rawConfig.Fetch
	}

	if rawConfig.LLM == nil {
		return nil
	}

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
	case "gemini":
		llm = &geminiConfig{}
	case "openai":
		llm = &openAIConfig{}
	case "anthropic":
		llm = &anthropicConfig{}
	case "ollama":
		llm = &ollamaConfig{}
	case "openrouter":
		llm = &openRouterConfig{}
	default:
		return fmt.Errorf("unknown llm provider: %s", llmProvider)
	}

	if err := yaml.Unmarshal(llmRawYAML, llm); err != nil {
		return err
	}

	c.LLM = llm

	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (g geminiConfig) llm(ctx context.Context, apiKey string, logger *slog.Logger) (agents.LLM, error) {
	model := g.Model
	if model == "" {
		model = defaultGeminiModel
	}
	return services.NewGemini(ctx, apiKey, model, g.Parameters, logger)
}

func (o openAIConfig) llm(_ context.Context, apiKey string, logger *slog.Logger) (agents.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return services.NewOpenAI(apiKey, o.BaseURL, o.Model, o.Parameters, logger), nil
}

func (a anthropicConfig) llm(_ context.Context, apiKey string, logger *slog.Logger) (agents.LLM, error) {
	if a.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	maxTokens := a.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	return services.NewAnthropic(apiKey, a.Model, maxTokens, a.Parameters, logger), nil
}

// llm ignores apiKey, the Ollama server does not authenticate requests.
func (o ollamaConfig) llm(_ context.Context, _ string, logger *slog.Logger) (agents.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}

	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, o.Model, o.Parameters, logger)
}

func (o openRouterConfig) llm(_ context.Context, apiKey string, logger *slog.Logger) (agents.LLM, error) {
	if o.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return services.NewOpenRouter(apiKey, o.BaseURL, o.Model, o.Parameters, logger), nil
}

func (p pageConfig) page() handlers.Page {
	links := make([]handlers.Link, len(p.SidebarLinks))
	for i, l := range p.SidebarLinks {
		links[i] = handlers.Link{Title: l.Title, URL: l.URL}
	}
	return handlers.Page{
		Title:   p.Title,
		Caption: p.Caption,
		About:   p.About,
		Links:   links,
	}
}

func (c config) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch c.LogFormat {
	case "", "text":
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format: %s", c.LogFormat)
	}
}
