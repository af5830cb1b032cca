package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/testviz/xctimeline/pkg/config"
	"github.com/testviz/xctimeline/pkg/history"
	"github.com/testviz/xctimeline/pkg/pipeline"
	"github.com/testviz/xctimeline/pkg/source"
	"github.com/testviz/xctimeline/pkg/upload"
)

var (
	bundlePathFlag string
	outputPathFlag string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Reconstruct all run timelines and write the report document",
	Long: `Reconstruct the timeline of every test run in the result bundle and
write the combined report document as JSON.`,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&bundlePathFlag, "bundle", "",
		"result bundle path (overrides config)")
	generateCmd.Flags().StringVar(&outputPathFlag, "output", "",
		"report output path (overrides config)")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	src := buildSource(cfg)
	engine := pipeline.NewEngine(log, src, cfg.Bundle.AttachmentsDir)
	pipe := pipeline.NewPipeline(log, src, engine, cfg.Pipeline.Concurrency)

	report, err := pipe.Run(ctx)
	if err != nil {
		return fmt.Errorf("reconstructing timelines: %w", err)
	}

	document, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}

	if err := os.WriteFile(cfg.Pipeline.OutputPath, document, 0o644); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	log.WithFields(logrus.Fields{
		"output": cfg.Pipeline.OutputPath,
		"runs":   len(report.Runs),
	}).Info("Report written")

	if err := recordHistory(ctx, cfg, report); err != nil {
		return err
	}

	return publishReport(ctx, cfg, document)
}

// loadConfig loads, overrides and validates the configuration shared by
// generate and serve.
func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use --config)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if bundlePathFlag != "" {
		cfg.Bundle.Path = bundlePathFlag
	}

	if outputPathFlag != "" {
		cfg.Pipeline.OutputPath = outputPathFlag
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// buildSource assembles the record backend chain: embedded database,
// external tool, or tool-with-database-fallback, always wrapped in the
// memoizing cache.
func buildSource(cfg *config.Config) source.Source {
	var src source.Source

	switch cfg.Bundle.Source.Backend {
	case "db":
		src = source.NewDBSource(log, cfg.Bundle.Path)
	case "tool":
		src = source.NewToolSource(log, cfg.Bundle.Source.ToolBinary, cfg.Bundle.Path)
	default:
		src = source.NewFallbackSource(
			log,
			source.NewToolSource(log, cfg.Bundle.Source.ToolBinary, cfg.Bundle.Path),
			source.NewDBSource(log, cfg.Bundle.Path),
		)
	}

	return source.NewCachedSource(src)
}

// recordHistory persists the report summary when history is enabled.
func recordHistory(
	ctx context.Context, cfg *config.Config, report *pipeline.Report,
) error {
	if cfg.History == nil || !cfg.History.Enabled {
		return nil
	}

	store := history.NewStore(log, &cfg.History.Database)
	if err := store.Start(ctx); err != nil {
		return fmt.Errorf("starting history store: %w", err)
	}

	defer func() {
		if err := store.Stop(); err != nil {
			log.WithError(err).Warn("History store stop error")
		}
	}()

	record, summaries := history.Summarize(cfg.Bundle.Path, report)

	if err := store.UpsertReport(ctx, record); err != nil {
		return fmt.Errorf("recording report: %w", err)
	}

	// Recording the same report twice must replace its summaries, not
	// double them.
	if err := store.DeleteRunSummariesForReport(ctx, record.ReportID); err != nil {
		return fmt.Errorf("clearing stale run summaries: %w", err)
	}

	if err := store.BulkUpsertRunSummaries(ctx, summaries); err != nil {
		return fmt.Errorf("recording run summaries: %w", err)
	}

	log.WithField("report_id", record.ReportID).Info("Report recorded in history")

	return nil
}

// publishReport uploads the report document when upload is enabled.
func publishReport(
	ctx context.Context, cfg *config.Config, document []byte,
) error {
	if cfg.Upload == nil || !cfg.Upload.Enabled {
		return nil
	}

	uploader, err := upload.NewS3Uploader(log, &cfg.Upload.S3)
	if err != nil {
		return fmt.Errorf("creating uploader: %w", err)
	}

	if err := uploader.Preflight(ctx); err != nil {
		return fmt.Errorf("upload preflight: %w", err)
	}

	key, err := uploader.PublishReport(ctx, cfg.Bundle.Path, document)
	if err != nil {
		return fmt.Errorf("publishing report: %w", err)
	}

	if cfg.Bundle.AttachmentsDir != "" {
		if err := uploader.UploadAttachments(
			ctx, cfg.Bundle.Path, cfg.Bundle.AttachmentsDir,
		); err != nil {
			return fmt.Errorf("uploading attachments: %w", err)
		}
	}

	log.WithField("key", key).Info("Report published")

	return nil
}
