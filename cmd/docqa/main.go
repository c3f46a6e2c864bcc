// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package main

import (
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/poiesic/docqa/bus"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "docqa",
		Usage: "Ask questions about documents, or about anything",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
				Value:   "info",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "Log output format (text, json, pretty)",
				Value: "text",
			},
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file; flags override its values",
			},
			&cli.StringFlag{
				Name:    "data-dir",
				Aliases: []string{"d"},
				Usage:   "Directory holding per-session passage stores",
				Value:   "./data",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Maximum wait for each stage response",
				Value: bus.DefaultTimeout,
			},
			&cli.BoolFlag{
				Name:  "trace",
				Usage: "Print the message flow of every turn",
			},
			&cli.BoolFlag{
				Name:  "keep-stores",
				Usage: "Keep session stores on disk when the session ends",
			},
			&cli.StringFlag{
				Name:  "embedding-host",
				Usage: "Embedding service host URL",
				Value: "http://localhost:11434/v1",
			},
			&cli.StringFlag{
				Name:  "chat-host",
				Usage: "Chat completion service host URL",
				Value: "http://localhost:11434/v1",
			},
			&cli.StringFlag{
				Name:  "embedding-model",
				Usage: "Embedding model name",
				Value: "embeddinggemma",
			},
			&cli.StringFlag{
				Name:  "chat-model",
				Usage: "Chat model name",
				Value: "qwen2.5:3b",
			},
			&cli.StringFlag{
				Name:    "token",
				Usage:   "API key for the AI services",
				EnvVars: []string{"OPENAI_API_KEY"},
			},
			&cli.Float64Flag{
				Name:  "temperature",
				Usage: "Sampling temperature for answers",
				Value: 0.2,
			},
			&cli.IntFlag{
				Name:  "query-count",
				Usage: "Number of sub-queries generated per question",
				Value: 3,
			},
		},
		Before: setupLogger,
		Commands: []*cli.Command{
			{
				Name:   "ingest",
				Usage:  "Index a document and report whether its store is ready",
				Action: ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:     "doc",
						Usage:    "Path to the document (.txt, .md, .log, .csv, .html, .pdf)",
						Required: true,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "Ask one question, about a document when --doc is given",
				ArgsUsage: "QUESTION...",
				Action:    askCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "doc",
						Usage: "Path to the document to answer from",
					},
				},
			},
			{
				Name:   "chat",
				Usage:  "Interactive session; type /doc PATH to switch documents, /quit to leave",
				Action: chatCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "doc",
						Usage: "Path to the document to start with",
					},
					&cli.StringFlag{
						Name:  "metrics-addr",
						Usage: "Serve prometheus metrics on this address (e.g. :9090)",
					},
				},
			},
		},
	}
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	handler, err := newLogHandler(c.App.ErrWriter, strings.ToLower(c.String("log-format")), level)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func newLogHandler(w io.Writer, format string, level slog.Level) (slog.Handler, error) {
	if w == nil {
		w = os.Stderr
	}
	switch format {
	case "text", "":
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "json":
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}), nil
	case "pretty":
		return charmlog.NewWithOptions(w, charmlog.Options{
			Level:           charmLevel(level),
			ReportTimestamp: true,
			TimeFormat:      time.Kitchen,
			Formatter:       charmlog.TextFormatter,
		}), nil
	default:
		return nil, fmt.Errorf("invalid log format %q: must be one of text, json, pretty", format)
	}
}

func charmLevel(level slog.Level) charmlog.Level {
	switch {
	case level <= slog.LevelDebug:
		return charmlog.DebugLevel
	case level <= slog.LevelInfo:
		return charmlog.InfoLevel
	case level <= slog.LevelWarn:
		return charmlog.WarnLevel
	default:
		return charmlog.ErrorLevel
	}
}
