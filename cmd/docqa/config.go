package main

import (
	"fmt"
	"os"
	"time"

	"github.com/poiesic/docqa/ai"
	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// fileConfig mirrors the YAML config file. Unset fields keep flag defaults.
type fileConfig struct {
	DataDir    string        `yaml:"data_dir"`
	Timeout    time.Duration `yaml:"timeout"`
	KeepStores *bool         `yaml:"keep_stores"`
	AI         struct {
		EmbeddingHost  string   `yaml:"embedding_host"`
		ChatHost       string   `yaml:"chat_host"`
		EmbeddingModel string   `yaml:"embedding_model"`
		ChatModel      string   `yaml:"chat_model"`
		Token          string   `yaml:"token"`
		Temperature    *float64 `yaml:"temperature"`
		QueryCount     int      `yaml:"query_count"`
	} `yaml:"ai"`
}

type settings struct {
	DataDir    string
	Timeout    time.Duration
	KeepStores bool
	Trace      bool
	AI         *ai.Config
}

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveSettings layers flag defaults, the config file, then explicitly set flags.
func resolveSettings(c *cli.Context) (*settings, error) {
	s := &settings{
		DataDir:    c.String("data-dir"),
		Timeout:    c.Duration("timeout"),
		KeepStores: c.Bool("keep-stores"),
		Trace:      c.Bool("trace"),
		AI: ai.NewConfig(
			ai.WithEmbeddingHost(c.String("embedding-host")),
			ai.WithChatHost(c.String("chat-host")),
			ai.WithEmbeddingModel(c.String("embedding-model")),
			ai.WithChatModel(c.String("chat-model")),
			ai.WithToken(c.String("token")),
			ai.WithTemperature(c.Float64("temperature")),
			ai.WithQueryCount(c.Int("query-count")),
		),
	}

	if path := c.String("config"); path != "" {
		fc, err := loadFileConfig(path)
		if err != nil {
			return nil, err
		}
		applyFileConfig(c, s, fc)
	}

	if err := s.AI.Validate(); err != nil {
		return nil, err
	}
	if s.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", s.Timeout)
	}
	return s, nil
}

func applyFileConfig(c *cli.Context, s *settings, fc *fileConfig) {
	setString := func(flag string, dst *string, v string) {
		if v != "" && !c.IsSet(flag) {
			*dst = v
		}
	}
	setString("data-dir", &s.DataDir, fc.DataDir)
	setString("embedding-host", &s.AI.EmbeddingHost, fc.AI.EmbeddingHost)
	setString("chat-host", &s.AI.ChatHost, fc.AI.ChatHost)
	setString("embedding-model", &s.AI.EmbeddingModel, fc.AI.EmbeddingModel)
	setString("chat-model", &s.AI.ChatModel, fc.AI.ChatModel)
	setString("token", &s.AI.Token, fc.AI.Token)

	if fc.Timeout > 0 && !c.IsSet("timeout") {
		s.Timeout = fc.Timeout
	}
	if fc.KeepStores != nil && !c.IsSet("keep-stores") {
		s.KeepStores = *fc.KeepStores
	}
	if fc.AI.Temperature != nil && !c.IsSet("temperature") {
		s.AI.Temperature = *fc.AI.Temperature
	}
	if fc.AI.QueryCount > 0 && !c.IsSet("query-count") {
		s.AI.QueryCount = fc.AI.QueryCount
	}
}
