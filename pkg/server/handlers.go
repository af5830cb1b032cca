package server

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
)

type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON serializes v and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(v)
}

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReport returns the full report document.
func (s *server) handleReport(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.report)
}

// runListEntry is the condensed per-run row of the run listing.
type runListEntry struct {
	TestID   string `json:"testId"`
	Failed   bool   `json:"failed"`
	Events   int    `json:"events"`
	Gestures int    `json:"gestures"`
	Error    string `json:"error,omitempty"`
}

// handleListRuns returns the summary of every reconstructed run.
func (s *server) handleListRuns(w http.ResponseWriter, _ *http.Request) {
	entries := make([]runListEntry, 0, len(s.report.Runs))

	for _, run := range s.report.Runs {
		entry := runListEntry{
			TestID: run.TestID,
			Error:  run.Error,
			Failed: run.Error != "",
		}

		if run.Timeline != nil {
			entry.Failed = run.Timeline.InitialFailureEventIndex >= 0
			entry.Events = len(run.Timeline.Events)
			entry.Gestures = len(run.Timeline.TouchGestures)
		}

		entries = append(entries, entry)
	}

	writeJSON(w, http.StatusOK, entries)
}

// handleRun returns one run's full timeline by test identifier.
func (s *server) handleRun(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "*")
	if unescaped, err := url.PathUnescape(testID); err == nil {
		testID = unescaped
	}

	for i := range s.report.Runs {
		if s.report.Runs[i].TestID != testID {
			continue
		}

		if s.report.Runs[i].Timeline == nil {
			writeJSON(w, http.StatusUnprocessableEntity,
				errorResponse{s.report.Runs[i].Error})

			return
		}

		writeJSON(w, http.StatusOK, s.report.Runs[i].Timeline)

		return
	}

	writeJSON(w, http.StatusNotFound, errorResponse{"unknown test identifier"})
}

// handleHistoryReports lists stored report records, optionally filtered
// by bundle path.
func (s *server) handleHistoryReports(w http.ResponseWriter, r *http.Request) {
	bundlePath := r.URL.Query().Get("bundle_path")

	var (
		records any
		err     error
	)

	if bundlePath != "" {
		records, err = s.historyStore.ListReports(r.Context(), bundlePath)
	} else {
		records, err = s.historyStore.ListAllReports(r.Context())
	}

	if err != nil {
		s.log.WithError(err).Error("Failed to list history reports")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing reports failed"})

		return
	}

	writeJSON(w, http.StatusOK, records)
}

// handleHistoryRuns lists the run summaries stored for one report.
func (s *server) handleHistoryRuns(w http.ResponseWriter, r *http.Request) {
	reportID := chi.URLParam(r, "reportID")

	summaries, err := s.historyStore.ListRunSummaries(r.Context(), reportID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list run summaries")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing run summaries failed"})

		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// handleHistoryFailing lists failing run summaries across every report
// recorded for one bundle path.
func (s *server) handleHistoryFailing(w http.ResponseWriter, r *http.Request) {
	bundlePath := r.URL.Query().Get("bundle_path")
	if bundlePath == "" {
		writeJSON(w, http.StatusBadRequest,
			errorResponse{"bundle_path is required"})

		return
	}

	summaries, err := s.historyStore.ListFailingRuns(r.Context(), bundlePath)
	if err != nil {
		s.log.WithError(err).Error("Failed to list failing runs")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing failing runs failed"})

		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// handlePublishedReports lists the bundles with a published report.
func (s *server) handlePublishedReports(w http.ResponseWriter, r *http.Request) {
	bundles, err := s.published.ListPublishedBundles(r.Context())
	if err != nil {
		s.log.WithError(err).Error("Failed to list published reports")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"listing published reports failed"})

		return
	}

	if bundles == nil {
		bundles = []string{}
	}

	writeJSON(w, http.StatusOK, bundles)
}

// handlePublishedReport relays one bundle's published report document.
// The document is already JSON; it is written through untouched.
func (s *server) handlePublishedReport(w http.ResponseWriter, r *http.Request) {
	bundle := chi.URLParam(r, "bundle")

	document, err := s.published.FetchReport(r.Context(), bundle)
	if err != nil {
		s.log.WithError(err).Error("Failed to fetch published report")
		writeJSON(w, http.StatusInternalServerError,
			errorResponse{"fetching published report failed"})

		return
	}

	if document == nil {
		writeJSON(w, http.StatusNotFound,
			errorResponse{"no published report for bundle"})

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(document)
}
