package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/testviz/xctimeline/pkg/history"
	"github.com/testviz/xctimeline/pkg/pipeline"
	"github.com/testviz/xctimeline/pkg/server"
	"github.com/testviz/xctimeline/pkg/upload"
)

var reportPathFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a generated report over HTTP",
	Long: `Serve a previously generated report document to the external
timeline renderer, together with exported attachments and, when
configured, the report history.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&reportPathFlag, "report", "",
		"report document to serve (defaults to the configured output path)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	reportPath := reportPathFlag
	if reportPath == "" {
		reportPath = cfg.Pipeline.OutputPath
	}

	data, err := os.ReadFile(reportPath)
	if err != nil {
		return fmt.Errorf("reading report %s: %w", reportPath, err)
	}

	var report pipeline.Report
	if err := json.Unmarshal(data, &report); err != nil {
		return fmt.Errorf("parsing report %s: %w", reportPath, err)
	}

	// Set up context with signal handling.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	var historyStore history.Store

	if cfg.History != nil && cfg.History.Enabled {
		historyStore = history.NewStore(log, &cfg.History.Database)
		if err := historyStore.Start(ctx); err != nil {
			return fmt.Errorf("starting history store: %w", err)
		}

		defer func() {
			if err := historyStore.Stop(); err != nil {
				log.WithError(err).Warn("History store stop error")
			}
		}()
	}

	var published upload.ReportReader

	if cfg.Upload != nil && cfg.Upload.Enabled {
		published = upload.NewS3Reader(log, &cfg.Upload.S3)
	}

	srv := server.NewServer(
		log, &cfg.Serve, &report, cfg.Bundle.AttachmentsDir,
		historyStore, published,
	)

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting report server: %w", err)
	}

	// Wait for shutdown signal.
	sig := <-sigCh
	log.WithField("signal", sig).Info("Shutting down report server")
	cancel()

	if err := srv.Stop(); err != nil {
		return fmt.Errorf("stopping report server: %w", err)
	}

	return nil
}
