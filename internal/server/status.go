package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/nordtext/annod/pkg/job"
)

// statusAttrs collects the job attributes every status response carries.
// It returns the HTTP code, the human message and the attribute map.
func (s *Server) statusAttrs(ctx context.Context, rec *job.Record) (int, string, map[string]any) {
	out, err := s.machine.GetOutput(ctx, rec)
	if err != nil {
		s.log.Warn("failed to fetch process output",
			zap.String("corpus_id", rec.CorpusID), zap.Error(err))
	}
	seconds, err := s.machine.ElapsedSeconds(ctx, rec)
	if err != nil {
		s.log.Warn("failed to compute elapsed time",
			zap.String("corpus_id", rec.CorpusID), zap.Error(err))
	}

	attrs := map[string]any{
		"job_status":      string(rec.Status),
		"sparv_exports":   rec.SparvExports,
		"available_files": rec.AvailableFiles,
		"installed_korp":  rec.InstalledKorp,
		"files":           rec.Files,
		"progress":        s.machine.Progress(rec),
		"last_run_started": timeString(rec.Started),
		"last_run_ended":   timeString(rec.Done),
	}
	if seconds > 0 {
		attrs["seconds_taken"] = seconds
	}
	if rec.Status == job.StatusWaitingInstall || rec.Status == job.StatusInstalling ||
		rec.Status == job.StatusDoneInstalling {
		attrs["install_scrambled"] = rec.InstallScrambled
	}

	withOutput := func() {
		attrs["warnings"] = out.WarningsText()
		attrs["errors"] = out.ErrorsText()
		attrs["sparv_output"] = out.MiscText()
	}

	switch {
	case rec.Status == job.StatusNone:
		return http.StatusOK, "There is no active job for '" + rec.CorpusID + "'",
			map[string]any{"job_status": string(rec.Status)}

	case rec.Status.IsSyncing():
		return http.StatusOK, "Files are being synced", attrs

	case rec.Status.IsWaiting():
		attrs["priority"] = s.queue.Priority(ctx, rec.CorpusID)
		return http.StatusOK, "Job has been queued", attrs

	case rec.Status == job.StatusAborted:
		return http.StatusOK, "Job was aborted by the user", attrs

	case rec.Status.IsRunning():
		withOutput()
		return http.StatusOK, "Job is running", attrs

	case rec.Status == job.StatusDoneAnnotating:
		// Annotation finished on the remote host; pull the results over
		// before reporting completion.
		withOutput()
		if err := s.machine.SyncResults(ctx, rec); err != nil {
			return http.StatusOK,
				"Annotation succeeded but results failed to upload to the storage server", attrs
		}
		return http.StatusOK, "Annotation was run successfully! Starting to sync results", attrs

	case rec.Status.IsDoneProcessing():
		withOutput()
		return http.StatusOK, "Job was completed successfully!", attrs

	case rec.Status == job.StatusError:
		withOutput()
		s.log.Error("job processing failed",
			zap.String("corpus_id", rec.CorpusID),
			zap.String("errors", out.ErrorsText()))
		return http.StatusOK, "An error occurred during processing", attrs
	}

	withOutput()
	return http.StatusNotImplemented, "Cannot handle this job status yet", attrs
}

// statusResponse renders one job's status.
func (s *Server) statusResponse(w http.ResponseWriter, r *http.Request, rec *job.Record) {
	code, msg, attrs := s.statusAttrs(r.Context(), rec)
	s.respond(w, code, msg, code >= http.StatusBadRequest, attrs)
}
