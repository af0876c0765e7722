package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dhcgn/dsar-redact/ai"
	"github.com/dhcgn/dsar-redact/checkpoint"
	"github.com/dhcgn/dsar-redact/cmd"
	"github.com/dhcgn/dsar-redact/config"
	"github.com/dhcgn/dsar-redact/filter"
	"github.com/dhcgn/dsar-redact/mbox"
	"github.com/dhcgn/dsar-redact/model"
	"github.com/dhcgn/dsar-redact/pipeline"
	"github.com/dhcgn/dsar-redact/progress"
	"github.com/dhcgn/dsar-redact/redact"
	"github.com/dhcgn/dsar-redact/runner"
	"github.com/dhcgn/dsar-redact/stats"
	"github.com/dhcgn/dsar-redact/subject"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "dsar-redact",
		Short: "Redact third-party personal data from mailbox exports for DSAR disclosure",
		RunE: func(c *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(c)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting dsar-redact", "input", cfg.InputPath, "output", cfg.OutputDir, "noAI", cfg.NoAI, "dryRun", cfg.DryRun)

			return run(c.Context(), cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(cmd.AuditStatsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}

	matcher, err := buildMatcher(cfg)
	if err != nil {
		return fmt.Errorf("subject identity: %w", err)
	}

	msgs, err := loadMessages(cfg, logger)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}
	logger.Info("messages loaded", "count", len(msgs))

	msgs, filtered, duplicates, err := applyFilters(cfg, msgs, logger)
	if err != nil {
		return err
	}

	store, err := checkpoint.NewStore(cfg.StateDir, !cfg.DryRun)
	if err != nil {
		return fmt.Errorf("checkpoint store: %w", err)
	}

	// The AI stage is built before the coordinator exists; emit is bound
	// to the coordinator's event bus below, before any batch runs.
	var emit func(stats.Event)
	proc, modelID, err := buildPipeline(cfg, matcher, logger, func(evt stats.Event) {
		if emit != nil {
			emit(evt)
		}
	})
	if err != nil {
		return err
	}

	coord, err := runner.New(store, proc, runner.Options{
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
	}, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}
	emit = coord.EmitEvent

	bar := progress.New(len(msgs), cfg.LogLevel)
	progress.NewReporter(coord, bar, logger)
	reporter := stats.NewReporter(coord, logger)

	if filtered > 0 {
		coord.EmitEvent(stats.Event{Stage: stats.StageLoad, Type: stats.EventTypeFiltered, Count: filtered})
	}
	if duplicates > 0 {
		coord.EmitEvent(stats.Event{Stage: stats.StageLoad, Type: stats.EventTypeDuplicate, Count: duplicates})
	}

	result, err := coord.Run(ctx, msgs)
	bar.Stop()
	if err != nil {
		return fmt.Errorf("run failed (checkpoint kept at %s, re-run to resume): %w", store.Path(), err)
	}

	summary := reporter.Summary()
	logger.Info("run complete", summary.LogAttrs()...)

	if cfg.DryRun {
		logger.Info("dry run, skipping output files")
		return nil
	}

	audit := buildAuditLog(result, matcher, modelID)
	return writeOutputs(cfg.OutputDir, result.Messages, audit, logger)
}

func buildMatcher(cfg config.Config) (*subject.Matcher, error) {
	sc := subject.Config{
		Name:       cfg.SubjectName,
		Email:      cfg.SubjectEmail,
		Variations: cfg.SubjectAliases,
	}

	if cfg.SubjectConfig != "" {
		loaded, err := subject.LoadFile(cfg.SubjectConfig)
		if err != nil {
			return nil, err
		}
		if sc.Name == "" {
			sc.Name = loaded.Name
		}
		if sc.Email == "" {
			sc.Email = loaded.Email
		}
		sc.Variations = append(loaded.Variations, sc.Variations...)
	}

	return subject.New(sc)
}

func loadMessages(cfg config.Config, logger *slog.Logger) ([]model.Message, error) {
	if strings.EqualFold(filepath.Ext(cfg.InputPath), ".json") {
		return mbox.LoadJSON(cfg.InputPath, cfg.Limit)
	}
	return mbox.LoadFile(mbox.Options{Path: cfg.InputPath, Limit: cfg.Limit}, logger)
}

func applyFilters(cfg config.Config, msgs []model.Message, logger *slog.Logger) ([]model.Message, int, int, error) {
	f, err := filter.New(filter.Options{
		IncludeSubject: cfg.IncludeSubject,
		IncludeBody:    cfg.IncludeBody,
		ExcludeSubject: cfg.ExcludeSubject,
		ExcludeBody:    cfg.ExcludeBody,
	})
	if err != nil {
		return nil, 0, 0, fmt.Errorf("filter: %w", err)
	}

	dedup := filter.NewDeduper()
	kept := make([]model.Message, 0, len(msgs))
	var filtered, duplicates int
	for _, msg := range msgs {
		if !f.Allows(msg) {
			filtered++
			continue
		}
		if dedup.Seen(msg) {
			duplicates++
			continue
		}
		kept = append(kept, msg)
	}

	if filtered > 0 || duplicates > 0 {
		logger.Info("messages skipped", "filtered", filtered, "duplicates", duplicates, "kept", len(kept))
	}
	return kept, filtered, duplicates, nil
}

func buildPipeline(cfg config.Config, matcher *subject.Matcher, logger *slog.Logger, emit func(stats.Event)) (*pipeline.Pipeline, string, error) {
	redactor := redact.New(matcher, cfg.Placeholder)

	if cfg.NoAI {
		return pipeline.New(redactor, nil, logger), "", nil
	}

	client, err := ai.NewClient(ai.Config{
		Model:   cfg.Model,
		APIKey:  cfg.APIKey,
		BaseURL: cfg.APIBase,
		Timeout: cfg.APITimeout,
	})
	if err != nil {
		return nil, "", fmt.Errorf("ai client: %w", err)
	}

	aiStage := ai.NewRedactor(client, matcher, ai.Options{
		Retries:     cfg.Retries,
		RetryDelay:  cfg.RetryDelay,
		Placeholder: cfg.Placeholder,
		OnDegrade: func(stage ai.Stage, messages int) {
			emit(stats.Event{Stage: stats.StageAI, Type: stats.EventTypeAIDegraded, Count: messages, Detail: string(stage)})
		},
	}, logger)

	return pipeline.New(redactor, aiStage, logger), client.Model(), nil
}

func buildAuditLog(result runner.Result, matcher *subject.Matcher, modelID string) model.AuditLog {
	total := 0
	for _, entry := range result.Entries {
		total += len(entry.Items)
	}

	return model.AuditLog{
		RunID: result.RunID,
		Subject: model.SubjectInfo{
			Name:  matcher.Name(),
			Email: matcher.Email(),
		},
		Model:                  modelID,
		TotalMessages:          len(result.Messages),
		MessagesWithRedactions: len(result.Entries),
		TotalRedactions:        total,
		Entries:                result.Entries,
	}
}

func writeOutputs(dir string, msgs []model.Message, audit model.AuditLog, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	redactedPath := filepath.Join(dir, "redacted.json")
	if err := writeJSON(redactedPath, msgs); err != nil {
		return fmt.Errorf("write %s: %w", redactedPath, err)
	}

	auditPath := filepath.Join(dir, "audit.json")
	if err := writeJSON(auditPath, audit); err != nil {
		return fmt.Errorf("write %s: %w", auditPath, err)
	}

	logger.Info("outputs written", "redacted", redactedPath, "audit", auditPath)
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("dsar-redact-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(os.Stdout, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler), cleanup, nil
	}

	handler := slog.NewTextHandler(os.Stdout, opts)
	return slog.New(handler), cleanup, nil
}
