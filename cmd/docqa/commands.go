package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/poiesic/docqa"
	"github.com/poiesic/docqa/bus"
	"github.com/poiesic/docqa/coordinator"
	"github.com/poiesic/docqa/ingestion"
	"github.com/poiesic/docqa/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
)

// newAssistant builds the assistant for a command. Tests replace it.
var newAssistant = func(s *settings, opts ...docqa.AssistantOption) (*docqa.Assistant, error) {
	opts = append([]docqa.AssistantOption{
		docqa.WithAIConfig(s.AI),
		docqa.WithTimeout(s.Timeout),
		docqa.WithRemoveStoreOnEnd(!s.KeepStores),
		docqa.WithRetrieverOptions(search.WithQueryCount(s.AI.QueryCount)),
	}, opts...)
	return docqa.NewAssistant(s.DataDir, opts...)
}

func ingestCommand(c *cli.Context) error {
	s, err := resolveSettings(c)
	if err != nil {
		return err
	}
	// The point of ingest is the store, so it always survives the session.
	s.KeepStores = true

	assistant, err := newAssistant(s, docqa.WithIngestionOptions(ingestion.WithProgress(c.App.ErrWriter)))
	if err != nil {
		return err
	}
	defer assistant.Close()

	sessionID, err := assistant.CreateSession()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	res, err := assistant.ProcessTurn(ctx, sessionID, c.String("doc"), coordinator.EmbedOnly)
	if err != nil {
		return err
	}
	printResult(c.App.Writer, res, s.Trace)
	if res.Failed() {
		return cli.Exit(res.Error, 1)
	}
	if !res.StoreReady {
		return cli.Exit("document was not indexed", 1)
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return fmt.Errorf("a question is required")
	}
	s, err := resolveSettings(c)
	if err != nil {
		return err
	}

	assistant, err := newAssistant(s)
	if err != nil {
		return err
	}
	defer assistant.Close()

	sessionID, err := assistant.CreateSession()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	doc := c.String("doc")
	if doc != "" {
		if err := ingest(ctx, c.App.Writer, assistant, sessionID, doc, s.Trace); err != nil {
			return err
		}
	}

	res, err := assistant.ProcessTurn(ctx, sessionID, doc, question)
	if err != nil {
		return err
	}
	printResult(c.App.Writer, res, s.Trace)
	if res.Failed() {
		return cli.Exit(res.Error, 1)
	}
	return nil
}

func chatCommand(c *cli.Context) error {
	s, err := resolveSettings(c)
	if err != nil {
		return err
	}

	var opts []docqa.AssistantOption
	if addr := c.String("metrics-addr"); addr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		metrics, err := bus.NewMetrics(reg)
		if err != nil {
			return err
		}
		opts = append(opts, docqa.WithMetrics(metrics))
		srv := serveMetrics(addr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	assistant, err := newAssistant(s, opts...)
	if err != nil {
		return err
	}
	defer assistant.Close()

	sessionID, err := assistant.CreateSession()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	return chatLoop(ctx, c.App.Reader, c.App.Writer, assistant, sessionID, c.String("doc"), s.Trace)
}

// chatLoop reads one turn per line until EOF, /quit or ctx is done.
func chatLoop(ctx context.Context, in io.Reader, out io.Writer, assistant *docqa.Assistant, sessionID, doc string, trace bool) error {
	if doc != "" {
		if err := ingest(ctx, out, assistant, sessionID, doc, trace); err != nil {
			fmt.Fprintf(out, "%v\n", err)
			doc = ""
		}
	}

	scanner := bufio.NewScanner(in)
	fmt.Fprint(out, "> ")
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/doc":
			doc = ""
			fmt.Fprintln(out, "document cleared; answering from general knowledge")
		case strings.HasPrefix(line, "/doc "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "/doc "))
			if err := ingest(ctx, out, assistant, sessionID, path, trace); err != nil {
				fmt.Fprintf(out, "%v\n", err)
			} else {
				doc = path
			}
		default:
			res, err := assistant.ProcessTurn(ctx, sessionID, doc, line)
			if err != nil {
				return err
			}
			printResult(out, res, trace)
		}
		fmt.Fprint(out, "> ")
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func ingest(ctx context.Context, out io.Writer, assistant *docqa.Assistant, sessionID, doc string, trace bool) error {
	res, err := assistant.ProcessTurn(ctx, sessionID, doc, coordinator.EmbedOnly)
	if err != nil {
		return err
	}
	printResult(out, res, trace)
	if res.Failed() {
		return errors.New(res.Error)
	}
	if !res.StoreReady {
		return fmt.Errorf("document %s was not indexed: %s", doc, res.Message)
	}
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
	return srv
}

func printResult(w io.Writer, res *coordinator.Result, trace bool) {
	switch {
	case res.Failed():
		fmt.Fprintf(w, "error: %s\n", res.Error)
	case res.Outcome == coordinator.OutcomeStoreReady:
		fmt.Fprintf(w, "store ready: %t (%s)\n", res.StoreReady, res.StorePath)
		if res.Message != "" {
			fmt.Fprintln(w, res.Message)
		}
	default:
		fmt.Fprintln(w, res.Answer)
	}

	if !trace {
		return
	}
	fmt.Fprintf(w, "trace %s (%s):\n", res.CorrelationID, res.Elapsed.Round(time.Millisecond))
	for i, line := range res.TraceLines() {
		fmt.Fprintf(w, "  %d. %s\n", i+1, line)
	}
}
