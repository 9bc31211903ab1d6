package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspects/querygate/internal/config"
	"github.com/allaspects/querygate/internal/orchestrator"
	"github.com/allaspects/querygate/internal/tokenizer"
	"github.com/allaspects/querygate/internal/tracing"
	"github.com/allaspects/querygate/internal/version"
)

func cmdStart(args []string) {
	configPath := ""
	for i := 0; i < len(args); i++ {
		if args[i] == "--config" && i+1 < len(args) {
			configPath = args[i+1]
			i++
		}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	dataDir := cfg.Server.DataDir
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	zerolog.SetGlobalLevel(parseLogLevel(cfg.Server.LogLevel))

	logPath := filepath.Join(dataDir, "querygate.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	multi := zerolog.MultiLevelWriter(
		logFile,
		zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"},
	)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "querygate").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Msg("querygate starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Init(ctx,
			cfg.Tracing.ServiceName, version.Version,
			cfg.Tracing.Exporter, cfg.Tracing.Endpoint,
			cfg.Tracing.SampleRate, cfg.Tracing.Insecure)
		if err != nil {
			log.Warn().Err(err).Msg("tracing init failed; continuing without traces")
		} else {
			defer shutdown(context.Background())
		}
	}

	o, err := orchestrator.New(cfg, &localGenerator{tok: tokenizer.New()})
	if err != nil {
		return err
	}
	defer o.Close()

	if configFile := config.ConfigFilePath(); configFile != "" {
		watcher, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("config watcher unavailable; continuing without hot-reload")
		} else {
			defer watcher.Close()
			watcher.OnChange(func(old, next *config.Config) {
				zerolog.SetGlobalLevel(parseLogLevel(next.Server.LogLevel))
				o.Reload(next)
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	return repl(ctx, o)
}

// repl reads queries from stdin until EOF or a shutdown signal. Lines of the
// form "category: query" set the category; ":status" prints the snapshot.
func repl(ctx context.Context, o *orchestrator.Orchestrator) error {
	fmt.Println("querygate ready. Type a query, ':status', or ':quit'.")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && err != io.EOF {
				return err
			}
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ":quit" || line == ":q":
			return nil
		case line == ":status":
			printStatus(o.Status())
			continue
		}

		category := ""
		query := line
		if idx := strings.Index(line, ":"); idx > 0 && !strings.Contains(line[:idx], " ") {
			category = strings.TrimSpace(line[:idx])
			query = strings.TrimSpace(line[idx+1:])
		}

		a, err := o.Answer(ctx, query, orchestrator.Options{Category: category})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("query failed")
			continue
		}
		fmt.Printf("\n%s\n\n[%s", a.Content, a.Source)
		if a.Tier != "" {
			fmt.Printf(" tier=%s", a.Tier)
		}
		fmt.Printf(" cost=$%.4f saved=$%.4f %s]\n", a.CostUSD, a.SavedUSD, a.Latency.Round(time.Millisecond))
	}
}

// localGenerator is the stand-in backend for standalone runs. Deployments
// embed querygate as a library and supply their own Generator; this one
// produces a clearly marked placeholder so the full gateway path can be
// exercised without a paid backend.
type localGenerator struct {
	tok *tokenizer.Tokenizer
}

func (g *localGenerator) Generate(ctx context.Context, query, category, tierName string) (*orchestrator.Generation, error) {
	content := fmt.Sprintf(
		"[placeholder answer from the %s tier] No generation backend is wired "+
			"into the standalone binary; your question was: %s", tierName, query)
	return &orchestrator.Generation{
		Content:   content,
		TokensIn:  g.tok.CountPrompt(query),
		TokensOut: g.tok.CountTokens(content),
	}, nil
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
