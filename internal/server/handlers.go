package server

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nordtext/annod/pkg/job"
)

// param reads a request parameter from the query string or form body.
func param(r *http.Request, name string) string {
	if v := r.URL.Query().Get(name); v != "" {
		return v
	}
	return r.FormValue(name)
}

// csvParam splits a comma-separated parameter into trimmed non-empty items.
func csvParam(r *http.Request, name string) []string {
	var items []string
	for _, item := range strings.Split(param(r, name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// requireCorpus extracts the corpus id or writes a 400 and returns false.
func (s *Server) requireCorpus(w http.ResponseWriter, r *http.Request) (string, bool) {
	corpusID := param(r, "corpus_id")
	if corpusID == "" {
		s.failure(w, http.StatusBadRequest, "No corpus id provided", "")
		return "", false
	}
	return corpusID, true
}

// handleRun queues an annotation run for a corpus: it validates the corpus
// contents, records the request on the job and hands the corpus to the
// state machine for syncing.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	corpusID, ok := s.requireCorpus(w, r)
	if !ok {
		return
	}

	exports := csvParam(r, "exports")
	files := csvParam(r, "files")

	sources, err := s.backend.ListContents(ctx, s.paths.CorpusSourceDir(corpusID), true)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to list source files in '"+corpusID+"'", err.Error())
		return
	}
	if len(sources) == 0 {
		s.failure(w, http.StatusNotFound, "No source files found for '"+corpusID+"'", "")
		return
	}

	configYAML, err := s.backend.GetFileContents(ctx, s.paths.CorpusConfigFile(corpusID))
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to get config file for '"+corpusID+"'", err.Error())
		return
	}
	compatible, current, expected, err := job.ConfigCompatible(configYAML, sources[0].Name, s.cfg.Importers)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to parse config file for '"+corpusID+"'", err.Error())
		return
	}
	if !compatible {
		s.respond(w, http.StatusBadRequest,
			"The importer in the corpus config does not match the source files", true,
			map[string]any{"current_importer": current, "expected_importer": expected})
		return
	}

	rec, err := s.store.Get(ctx, corpusID)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to load job for '"+corpusID+"'", err.Error())
		return
	}
	rec.UserID = param(r, "user_id")
	rec.Contact = param(r, "contact")
	rec.SparvExports = exports
	rec.Files = files
	rec.AvailableFiles = sources
	rec.ResetTime()

	if err := s.queue.Add(ctx, rec); err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to queue job for '"+corpusID+"'", err.Error())
		return
	}

	if s.backend.LocalResults() {
		if err := s.machine.CheckRequirements(ctx, rec); err != nil {
			s.failure(w, http.StatusInternalServerError,
				"Failed to start job for '"+corpusID+"'", err.Error())
			return
		}
		if err := s.machine.MarkWaiting(ctx, rec); err != nil {
			s.failure(w, http.StatusInternalServerError,
				"Failed to queue job for '"+corpusID+"'", err.Error())
			return
		}
	} else if err := s.machine.SyncToRemote(ctx, rec); err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to start job for '"+corpusID+"'", err.Error())
		return
	}

	s.statusResponse(w, r, rec)
}

// handleInstall queues a corpus installation into the search index.
func (s *Server) handleInstall(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	corpusID, ok := s.requireCorpus(w, r)
	if !ok {
		return
	}
	scramble := strings.EqualFold(param(r, "scramble"), "true")

	rec, err := s.store.Get(ctx, corpusID)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to load job for '"+corpusID+"'", err.Error())
		return
	}
	rec.UserID = param(r, "user_id")
	rec.Contact = param(r, "contact")
	rec.InstallScrambled = scramble
	rec.ResetTime()

	if err := s.queue.Add(ctx, rec); err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to queue job for '"+corpusID+"'", err.Error())
		return
	}
	if err := s.machine.MarkWaitingInstall(ctx, rec); err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to queue job for '"+corpusID+"'", err.Error())
		return
	}

	s.statusResponse(w, r, rec)
}

// handleAbort stops a waiting or running job.
func (s *Server) handleAbort(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	corpusID, ok := s.requireCorpus(w, r)
	if !ok {
		return
	}

	rec, err := s.store.Get(ctx, corpusID)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to load job for '"+corpusID+"'", err.Error())
		return
	}
	if rec.Status.IsSyncing() {
		s.respond(w, http.StatusServiceUnavailable,
			"Cannot abort job while syncing files", true,
			map[string]any{"job_status": string(rec.Status)})
		return
	}
	wasWaiting := rec.Status.IsWaiting()

	if err := s.machine.Abort(ctx, rec); err != nil {
		if job.IsProcessNotRunning(err) || job.IsProcessNotFound(err) {
			s.success(w, "No running job found for '"+corpusID+"'", nil)
			return
		}
		s.failure(w, http.StatusInternalServerError,
			"Failed to abort job for '"+corpusID+"'", err.Error())
		return
	}

	msg := "Successfully aborted running job for '" + corpusID + "'"
	if wasWaiting {
		msg = "Successfully unqueued job for '" + corpusID + "'"
	}
	s.success(w, msg, map[string]any{"job_status": string(rec.Status)})
}

// handleCheckStatus reports one job's status, or all jobs when no corpus id
// is given (optionally restricted to a corpora list).
func (s *Server) handleCheckStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	corpusID := param(r, "corpus_id")
	if corpusID != "" {
		rec, err := s.store.Get(ctx, corpusID)
		if err != nil {
			s.failure(w, http.StatusInternalServerError,
				"Failed to get job status for '"+corpusID+"'", err.Error())
			return
		}
		s.statusResponse(w, r, rec)
		return
	}

	corpora := csvParam(r, "corpora")
	recs, err := s.queue.Jobs(ctx, corpora)
	if err != nil {
		s.failure(w, http.StatusInternalServerError, "Failed to get job statuses", err.Error())
		return
	}
	jobs := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		_, msg, attrs := s.statusAttrs(ctx, rec)
		attrs["corpus_id"] = rec.CorpusID
		attrs["message"] = msg
		jobs = append(jobs, attrs)
	}
	s.success(w, "Listing jobs", map[string]any{"jobs": jobs})
}

// handleClearAnnotations removes annotation files on the annotation host.
func (s *Server) handleClearAnnotations(w http.ResponseWriter, r *http.Request) {
	s.clean(w, r, s.machine.Clean, "annotations", "Annotations")
}

// handleClearExports removes export files on the annotation host.
func (s *Server) handleClearExports(w http.ResponseWriter, r *http.Request) {
	s.clean(w, r, s.machine.CleanExports, "exports", "Exports")
}

func (s *Server) clean(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, rec *job.Record) (string, error), what, label string) {
	ctx := r.Context()
	corpusID, ok := s.requireCorpus(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Get(ctx, corpusID)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to load job for '"+corpusID+"'", err.Error())
		return
	}
	if rec.Status.IsRunning() {
		s.failure(w, http.StatusServiceUnavailable,
			"Cannot clear "+what+" while a job is running", "")
		return
	}
	output, err := fn(ctx, rec)
	if err != nil {
		s.failure(w, http.StatusInternalServerError, "Failed to clear "+what, err.Error())
		return
	}
	s.success(w, label+" for '"+corpusID+"' successfully removed",
		map[string]any{"sparv_output": output})
}

// handleAdvanceQueue triggers one reconciliation pass. Internal route.
func (s *Server) handleAdvanceQueue(w http.ResponseWriter, r *http.Request) {
	if err := s.adv.Advance(r.Context()); err != nil {
		s.failure(w, http.StatusInternalServerError, "Queue advancement failed", err.Error())
		return
	}
	s.success(w, "Queue advancing completed", nil)
}

// handleRemoveFromRemote removes a corpus from the annotation host and drops
// its job record. Internal route.
func (s *Server) handleRemoveFromRemote(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	corpusID, ok := s.requireCorpus(w, r)
	if !ok {
		return
	}
	rec, err := s.store.Get(ctx, corpusID)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to load job for '"+corpusID+"'", err.Error())
		return
	}
	if err := s.machine.RemoveFromRemote(ctx, rec); err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to remove corpus '"+corpusID+"' from the annotation server", err.Error())
		return
	}
	if err := s.store.Remove(ctx, corpusID, true); err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to remove job for '"+corpusID+"'", err.Error())
		return
	}
	s.success(w, "Corpus '"+corpusID+"' removed from the annotation server", nil)
}

// handleLanguages lists the languages the annotation tool supports.
func (s *Server) handleLanguages(w http.ResponseWriter, r *http.Request) {
	languages, err := s.catalog.ListLanguages(r.Context())
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to retrieve languages listing", err.Error())
		return
	}
	s.success(w, "Listing languages available in the annotation tool",
		map[string]any{"languages": languages})
}

// handleExports lists export formats for a language (default Swedish).
func (s *Server) handleExports(w http.ResponseWriter, r *http.Request) {
	language := param(r, "language")
	if language == "" {
		language = "swe"
	}
	exports, err := s.catalog.ListExports(r.Context(), language)
	if err != nil {
		s.failure(w, http.StatusInternalServerError,
			"Failed to retrieve exports listing", err.Error())
		return
	}
	s.success(w, "Listing exports available in the annotation tool",
		map[string]any{"language": language, "exports": exports})
}

// handleHealth runs the registered dependency probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	checks := map[string]string{}
	healthy := true
	for name, c := range s.checks {
		if err := c.CheckHealth(ctx); err != nil {
			checks[name] = "unhealthy"
			healthy = false
			s.log.Warn("health check failed", zap.String("check", name), zap.Error(err))
		} else {
			checks[name] = "healthy"
		}
	}

	extra := map[string]any{"version": s.cfg.Version, "checks": checks}
	if !healthy {
		s.respond(w, http.StatusServiceUnavailable, "Service degraded", true, extra)
		return
	}
	s.success(w, "Service healthy", extra)
}
