// Package server exposes a generated report over HTTP for the external
// timeline renderer.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/testviz/xctimeline/pkg/config"
	"github.com/testviz/xctimeline/pkg/history"
	"github.com/testviz/xctimeline/pkg/pipeline"
	"github.com/testviz/xctimeline/pkg/upload"
)

const shutdownTimeout = 10 * time.Second

// Server exposes the report HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log            logrus.FieldLogger
	cfg            *config.ServeConfig
	report         *pipeline.Report
	attachmentsDir string
	historyStore   history.Store
	published      upload.ReportReader
	httpServer     *http.Server
	wg             sync.WaitGroup
}

// NewServer creates a report server. historyStore may be nil when
// report history is not configured; attachmentsDir may be empty when no
// exported attachments exist; published may be nil when upload is not
// configured.
func NewServer(
	log logrus.FieldLogger,
	cfg *config.ServeConfig,
	report *pipeline.Report,
	attachmentsDir string,
	historyStore history.Store,
	published upload.ReportReader,
) Server {
	return &server{
		log:            log.WithField("component", "server"),
		cfg:            cfg,
		report:         report,
		attachmentsDir: attachmentsDir,
		historyStore:   historyStore,
		published:      published,
	}
}

// Start binds the listener and serves the report.
func (s *server) Start(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind the listener synchronously so we fail fast on port conflicts.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.cfg.Listen).
			Info("Report server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			err != http.ErrServerClosed {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(
			context.Background(), shutdownTimeout,
		)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.WithError(err).Warn("HTTP server shutdown error")
		}
	}

	s.wg.Wait()

	s.log.Info("Report server stopped")

	return nil
}
