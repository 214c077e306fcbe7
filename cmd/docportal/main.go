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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/poiesic/docportal"
	"github.com/poiesic/docportal/config"
	"github.com/poiesic/docportal/core"
	"github.com/poiesic/docportal/ingestion"
	"github.com/poiesic/docportal/metrics"
	"github.com/poiesic/docportal/reindex"
	"github.com/poiesic/docportal/session"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	docFlag := &cli.StringSliceFlag{
		Name:  "doc",
		Usage: "Restrict answers to this document id (repeatable)",
	}
	return &cli.App{
		Name:  "docportal",
		Usage: "Ingest documents and ask grounded questions about them",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML configuration file",
				EnvVars: []string{"DOCPORTAL_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "env-file",
				Usage: "Load environment variables from this file if it exists",
				Value: ".env",
			},
			&cli.StringFlag{
				Name:    "db",
				Aliases: []string{"d"},
				Usage:   "Path to the BadgerDB database directory (overrides the config file)",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Usage:   "Set logging level (debug, info, warn, error)",
			},
			&cli.StringFlag{
				Name:  "metrics-addr",
				Usage: "Serve Prometheus metrics on this address, e.g. :9090",
			},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:      "ingest",
				Usage:     "Ingest one or more files",
				ArgsUsage: "FILE...",
				Action:    ingestCommand,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "format",
						Usage: "Document format (text, markdown, html); inferred from the extension when empty",
					},
					&cli.BoolFlag{
						Name:  "replace",
						Usage: "Delete earlier documents from the same source once the new one is ready",
					},
					&cli.StringSliceFlag{
						Name:  "meta",
						Usage: "Attach key=value metadata (repeatable)",
					},
				},
			},
			{
				Name:   "documents",
				Usage:  "List ingested documents",
				Action: documentsCommand,
			},
			{
				Name:      "delete",
				Usage:     "Delete documents with their chunks and vectors",
				ArgsUsage: "ID...",
				Action:    deleteCommand,
			},
			{
				Name:      "ask",
				Usage:     "Ask a single question",
				ArgsUsage: "QUESTION",
				Action:    askCommand,
				Flags: []cli.Flag{
					docFlag,
					&cli.IntFlag{Name: "top-k", Usage: "Number of passages to retrieve"},
					&cli.IntFlag{Name: "budget", Usage: "Prompt budget in the configured unit"},
				},
			},
			{
				Name:   "chat",
				Usage:  "Start an interactive conversation",
				Action: chatCommand,
				Flags:  []cli.Flag{docFlag},
			},
			{
				Name:      "compare",
				Usage:     "Compare two or more ready documents",
				ArgsUsage: "ID ID...",
				Action:    compareCommand,
			},
			{
				Name:      "analyze",
				Usage:     "Summarize a ready document and list its key topics",
				ArgsUsage: "ID",
				Action:    analyzeCommand,
			},
			{
				Name:   "reindex",
				Usage:  "Re-embed every chunk with the configured embedding model",
				Action: reindexCommand,
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:  "batch-size",
						Usage: "Number of chunks to process in each batch",
						Value: reindex.DefaultBatchSize,
					},
					&cli.IntFlag{
						Name:  "report-interval",
						Usage: "Report progress every N chunks",
						Value: 100,
					},
				},
			},
			{
				Name:   "prune-sessions",
				Usage:  "Close sessions idle for longer than the configured TTL",
				Action: pruneCommand,
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "ttl", Usage: "Idle time after which a session is closed"},
				},
			},
		},
	}
}

// setup loads the environment file and configuration, then configures
// logging and the optional metrics endpoint.
func setup(c *cli.Context) error {
	if path := c.String("env-file"); path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}

	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if db := c.String("db"); db != "" {
		cfg.Storage.Path = db
		cfg.Storage.InMemory = false
	}
	if level := c.String("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if addr := c.String("metrics-addr"); addr != "" {
		cfg.Metrics.Addr = addr
	}

	if err := setupLogger(cfg.Logging, c.App.ErrWriter); err != nil {
		return err
	}
	if cfg.Metrics.Addr != "" {
		serveMetrics(cfg.Metrics.Addr)
	}
	c.App.Metadata = map[string]any{"config": cfg}
	return nil
}

func setupLogger(lc config.LoggingConfig, w io.Writer) error {
	level, err := config.ParseLevel(lc.Level)
	if err != nil {
		return err
	}
	if w == nil {
		w = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	return nil
}

func serveMetrics(addr string) {
	metrics.Register(prometheus.DefaultRegisterer)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "addr", addr, "err", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)
}

// openPortal opens the portal described by the loaded configuration. The
// returned context is cancelled on SIGINT or SIGTERM.
func openPortal(c *cli.Context) (context.Context, *docportal.Portal, func(), error) {
	cfg, _ := c.App.Metadata["config"].(*config.Config)
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	p, err := docportal.Open(ctx, cfg)
	if err != nil {
		stop()
		return nil, nil, nil, fmt.Errorf("failed to open portal: %w", err)
	}
	return ctx, p, func() {
		if err := p.Close(); err != nil {
			slog.Error("error closing portal", "err", err)
		}
		stop()
	}, nil
}

func ingestCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one file is required")
	}
	metadata, err := parseMetadata(c.StringSlice("meta"))
	if err != nil {
		return err
	}

	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	pipeline, err := p.NewPipeline()
	if err != nil {
		return err
	}
	defer pipeline.Release()

	var failed int
	for _, path := range c.Args().Slice() {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		format := c.String("format")
		if format == "" {
			format = formatFromPath(path)
		}
		source := "file://" + absPath(path)

		doc, err := pipeline.Ingest(ctx, data, format, source, &ingestion.IngestOptions{
			Metadata:      metadata,
			ReplaceSource: c.Bool("replace"),
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			failed++
			fmt.Fprintf(c.App.ErrWriter, "%s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d chunks\t%s\n", doc.ID, doc.Status, doc.ChunkCount, path)
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, c.NArg())
	}
	return nil
}

func documentsCommand(c *cli.Context) error {
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	docs, err := p.Documents().ListDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		line := fmt.Sprintf("%s\t%s\t%d chunks\t%s\t%s", doc.ID, doc.Status, doc.ChunkCount,
			doc.IngestedAt.Format(time.RFC3339), doc.SourceURI)
		if doc.Error != "" {
			line += "\t" + doc.Error
		}
		fmt.Fprintln(c.App.Writer, line)
	}
	return nil
}

func deleteCommand(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("at least one document id is required")
	}
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	pipeline, err := p.NewPipeline()
	if err != nil {
		return err
	}
	defer pipeline.Release()

	for _, id := range c.Args().Slice() {
		if err := pipeline.Delete(ctx, id); err != nil {
			return fmt.Errorf("failed to delete %s: %w", id, err)
		}
		fmt.Fprintf(c.App.Writer, "deleted %s\n", id)
	}
	return nil
}

func askCommand(c *cli.Context) error {
	question := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if question == "" {
		return errors.New("a question is required")
	}
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	manager, chat, err := newChat(p)
	if err != nil {
		return err
	}
	sess, err := manager.Open(ctx, c.StringSlice("doc")...)
	if err != nil {
		return err
	}
	defer manager.Close(context.WithoutCancel(ctx), sess.ID)

	answer, err := chat.Ask(ctx, sess.ID, question, &session.AskOptions{
		TopK:            c.Int("top-k"),
		Budget:          c.Int("budget"),
		RetryGeneration: p.Config().Session.RetryGeneration,
	})
	if err != nil {
		return err
	}
	printAnswer(c.App.Writer, answer)
	return nil
}

func chatCommand(c *cli.Context) error {
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	manager, chat, err := newChat(p)
	if err != nil {
		return err
	}
	sess, err := manager.Open(ctx, c.StringSlice("doc")...)
	if err != nil {
		return err
	}
	defer manager.Close(context.WithoutCancel(ctx), sess.ID)

	fmt.Fprintf(c.App.ErrWriter, "session %s, empty line or Ctrl-D to quit\n", sess.ID)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(c.App.ErrWriter, "> ")
		if !scanner.Scan() {
			break
		}
		question := strings.TrimSpace(scanner.Text())
		if question == "" {
			break
		}
		answer, err := chat.Ask(ctx, sess.ID, question, &session.AskOptions{
			RetryGeneration: p.Config().Session.RetryGeneration,
		})
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			fmt.Fprintf(c.App.ErrWriter, "error: %v\n", err)
			continue
		}
		printAnswer(c.App.Writer, answer)
	}
	return scanner.Err()
}

func newChat(p *docportal.Portal) (*session.Manager, *session.Chat, error) {
	manager, err := p.NewManager()
	if err != nil {
		return nil, nil, err
	}
	chat, err := p.NewChat(manager)
	if err != nil {
		return nil, nil, err
	}
	return manager, chat, nil
}

func printAnswer(w io.Writer, answer *session.Answer) {
	fmt.Fprintln(w, answer.Turn.Text)
	if len(answer.Retrieval.Chunks) == 0 {
		return
	}
	fmt.Fprintln(w)
	for i, sc := range answer.Retrieval.Chunks {
		if i >= len(answer.Turn.Citations) {
			break
		}
		fmt.Fprintf(w, "[%d] %s #%d (%.3f)\n", i+1, sc.Chunk.DocumentID, sc.Chunk.Position, sc.Score)
	}
	usage := answer.Prompt.Usage
	slog.Debug("prompt usage", "total", usage.Total, "dropped_turns", usage.DroppedTurns, "dropped_chunks", usage.DroppedChunks)
}

func compareCommand(c *cli.Context) error {
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	comparator, err := p.NewComparator()
	if err != nil {
		return err
	}
	result, err := comparator.Compare(ctx, c.Args().Slice())
	if err != nil {
		return err
	}
	printComparison(c.App.Writer, result)
	return nil
}

func printComparison(w io.Writer, result *core.ComparisonResult) {
	printGroups := func(label string, groups []core.ChunkGroup) {
		fmt.Fprintf(w, "%s: %d\n", label, len(groups))
		for _, g := range groups {
			refs := make([]string, len(g.Chunks))
			for i, r := range g.Chunks {
				refs[i] = fmt.Sprintf("%s#%d", r.DocumentID, r.Position)
			}
			fmt.Fprintf(w, "  %.3f  %s\n", g.Similarity, strings.Join(refs, "  "))
		}
	}
	printGroups("matched", result.Matched)
	printGroups("overlapping", result.Overlapping)
	fmt.Fprintln(w, "unique:")
	for _, id := range result.DocumentIDs {
		positions := make([]string, len(result.Unique[id]))
		for i, r := range result.Unique[id] {
			positions[i] = fmt.Sprint(r.Position)
		}
		fmt.Fprintf(w, "  %s: %d [%s]\n", id, len(positions), strings.Join(positions, " "))
	}
}

func analyzeCommand(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("exactly one document id is required")
	}
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	analysis, err := p.Analyze(ctx, c.Args().First())
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%s\n\n%s\n", analysis.Title, analysis.Summary)
	if len(analysis.Topics) > 0 {
		fmt.Fprintf(c.App.Writer, "\ntopics: %s\n", strings.Join(analysis.Topics, ", "))
	}
	return nil
}

func reindexCommand(c *cli.Context) error {
	if c.Int("batch-size") <= 0 {
		return fmt.Errorf("batch-size must be greater than 0")
	}
	if c.Int("report-interval") <= 0 {
		return fmt.Errorf("report-interval must be greater than 0")
	}
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	cfg := p.Config()
	fmt.Fprintf(c.App.ErrWriter, "Database: %s\n", cfg.Storage.Path)
	fmt.Fprintf(c.App.ErrWriter, "Embedding host: %s\n", cfg.AI.EmbeddingHost)
	fmt.Fprintf(c.App.ErrWriter, "Embedding model: %s\n\n", cfg.AI.EmbeddingModel)

	reindexer, err := p.NewReindexer(&reindex.Config{
		BatchSize:      c.Int("batch-size"),
		ReportInterval: c.Int("report-interval"),
		Retry:          cfg.Ingestion.Retry.Policy(),
	}, c.App.ErrWriter)
	if err != nil {
		return err
	}
	stats, err := reindexer.Run(ctx)
	if err != nil {
		return fmt.Errorf("reindexing failed: %w", err)
	}
	fmt.Fprintf(c.App.Writer, "reindexed %d chunks in %d documents\n", stats.Chunks, stats.Documents)
	return nil
}

func pruneCommand(c *cli.Context) error {
	ctx, p, done, err := openPortal(c)
	if err != nil {
		return err
	}
	defer done()

	ttl := c.Duration("ttl")
	if ttl <= 0 {
		ttl = p.Config().Session.IdleTTL
	}
	manager, err := p.NewManager()
	if err != nil {
		return err
	}
	n, err := manager.CloseIdle(ctx, ttl)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "closed %d sessions\n", n)
	return nil
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return "markdown"
	case ".html", ".htm":
		return "html"
	}
	return "text"
}

func parseMetadata(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("%w: metadata must be key=value, got %q", core.ErrValidation, pair)
		}
		out[key] = value
	}
	return out, nil
}

func absPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(abs)
}
