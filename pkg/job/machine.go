package job

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nordtext/annod/pkg/remote"
	"github.com/nordtext/annod/pkg/storage"
)

// Config carries the annotation-tool invocation details and the corpus
// layout the state machine works with.
type Config struct {
	// Command invokes the annotation tool on the remote host.
	Command []string

	// RunArgs and InstallArgs are the tool's annotate and install
	// subcommand arguments, appended to Command.
	RunArgs     []string
	InstallArgs []string

	// Environ holds KEY=VALUE pairs set for every tool invocation.
	Environ []string

	// DefaultExports is used when a job requests no export formats.
	DefaultExports []string

	// DefaultInstalls is the base install target list; the scrambled or
	// plain corpus install target is appended per job.
	DefaultInstalls []string

	// NohupFile is the remote log file collecting a detached run's output.
	NohupFile string

	// RunScript is the temporary launch script written per run.
	RunScript string

	// RemoteCorporaDir is the directory on the annotation host under which
	// corpus working directories are created (relative to the login dir).
	RemoteCorporaDir string

	// StagingDir is the local scratch area files pass through on their way
	// between the storage backend and the annotation host.
	StagingDir string

	// Paths resolves logical corpus paths in the storage backend.
	Paths storage.Paths
}

// Machine owns job status transitions. It decides what remote action to
// take next, persists every mutation immediately, and forces status=error
// before surfacing a failure so persisted state reflects the failure even
// when the caller never sees the returned error.
type Machine struct {
	store   *Store
	queue   *Queue
	backend storage.Backend
	exec    remote.Executor
	xfer    remote.Transferrer
	cfg     Config
	log     *zap.Logger

	// now is the clock, swappable in tests.
	now func() time.Time
}

// NewMachine wires the state machine with its collaborators.
func NewMachine(store *Store, queue *Queue, backend storage.Backend, exec remote.Executor, xfer remote.Transferrer, cfg Config, log *zap.Logger) *Machine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Machine{
		store:   store,
		queue:   queue,
		backend: backend,
		exec:    exec,
		xfer:    xfer,
		cfg:     cfg,
		log:     log,
		now:     time.Now,
	}
}

// Store exposes the job store for route-layer reads.
func (m *Machine) Store() *Store { return m.store }

// Queue exposes the queue for route-layer reads.
func (m *Machine) Queue() *Queue { return m.queue }

// RemoteCorpusDir returns a corpus's working directory on the annotation
// host.
func (m *Machine) RemoteCorpusDir(corpusID string) string {
	return path.Join(m.cfg.RemoteCorporaDir, corpusID)
}

func (m *Machine) stagingCorpusDir(corpusID string) string {
	return filepath.Join(m.cfg.StagingDir, corpusID)
}

// setStatus persists a status change. Persisting before acting keeps crash
// recovery honest.
func (m *Machine) setStatus(ctx context.Context, rec *Record, status Status) error {
	if rec.Status == status {
		return nil
	}
	rec.Status = status
	return m.store.Save(ctx, rec)
}

// fail records the error status and returns the failure.
func (m *Machine) fail(ctx context.Context, rec *Record, err error) error {
	if serr := m.setStatus(ctx, rec, StatusError); serr != nil {
		m.log.Error("failed to persist error status",
			zap.String("corpus_id", rec.CorpusID), zap.Error(serr))
	}
	return err
}

// MarkWaiting places the job in the annotation wait state. Used instead of
// SyncToRemote when the storage backend already lives on the annotation host.
func (m *Machine) MarkWaiting(ctx context.Context, rec *Record) error {
	return m.setStatus(ctx, rec, StatusWaiting)
}

// MarkWaitingInstall places the job in the install wait state.
func (m *Machine) MarkWaitingInstall(ctx context.Context, rec *Record) error {
	return m.setStatus(ctx, rec, StatusWaitingInstall)
}

// CheckRequirements verifies the corpus has a config file and at least one
// source file in storage. A failed check moves the job to error.
func (m *Machine) CheckRequirements(ctx context.Context, rec *Record) error {
	contents, err := m.backend.ListContents(ctx, m.cfg.Paths.CorpusDir(rec.CorpusID), false)
	if err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrStorage, Corpus: rec.CorpusID,
			Message: "failed to list corpus contents", Err: err})
	}

	hasConfig := false
	hasSource := false
	sourcePrefix := m.cfg.Paths.CorpusSourceDir(rec.CorpusID)
	for _, f := range contents {
		if f.Name == m.cfg.Paths.ConfigFileName() {
			hasConfig = true
		}
		if f.Type != "directory" && strings.HasPrefix(f.Path, sourcePrefix) {
			hasSource = true
		}
	}
	if !hasConfig {
		return m.fail(ctx, rec, &Error{Kind: ErrMissingRequirement, Corpus: rec.CorpusID,
			Message: "no config file provided"})
	}
	if !hasSource {
		return m.fail(ctx, rec, &Error{Kind: ErrMissingRequirement, Corpus: rec.CorpusID,
			Message: "no input files provided"})
	}
	return nil
}

// SyncToRemote stages the corpus from the storage backend and pushes it to
// the annotation host. Success leaves the job waiting.
func (m *Machine) SyncToRemote(ctx context.Context, rec *Record) error {
	if err := m.CheckRequirements(ctx, rec); err != nil {
		return err
	}
	if err := m.setStatus(ctx, rec, StatusSyncingCorpus); err != nil {
		return err
	}

	remoteDir := m.RemoteCorpusDir(rec.CorpusID)

	// Fresh working dir on the annotation host, with stale run artifacts
	// cleared out.
	res, err := m.exec.Run(ctx, remote.Command{Argv: []string{"mkdir", "-p", remoteDir}})
	if err == nil && res.ExitCode == 0 {
		res, err = m.exec.Run(ctx, remote.Command{
			Dir:  remoteDir,
			Argv: []string{"rm", "-f", m.cfg.NohupFile, m.cfg.RunScript},
		})
	}
	if err != nil || res.ExitCode != 0 {
		return m.fail(ctx, rec, &Error{Kind: ErrJob, Corpus: rec.CorpusID,
			Message: "failed to create corpus dir on the annotation server",
			Stderr:  res.Stderr, Err: err})
	}

	staging := m.stagingCorpusDir(rec.CorpusID)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
			Message: "failed to create staging dir", Err: err})
	}
	if err := m.backend.DownloadDir(ctx, m.cfg.Paths.CorpusDir(rec.CorpusID), staging); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
			Message: "failed to download corpus from the storage server", Err: err})
	}

	// Pin the corpus id inside the config before it reaches the tool.
	configPath := filepath.Join(staging, m.cfg.Paths.ConfigFileName())
	if raw, err := os.ReadFile(configPath); err == nil {
		if fixed, err := StandardizeConfig(string(raw), rec.CorpusID); err == nil {
			if werr := os.WriteFile(configPath, []byte(fixed), 0644); werr != nil {
				return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
					Message: "failed to write standardized corpus config", Err: werr})
			}
		} else {
			return m.fail(ctx, rec, &Error{Kind: ErrJob, Corpus: rec.CorpusID,
				Message: "corpus config is not valid YAML", Err: err})
		}
	}

	if err := m.xfer.Push(ctx, configPath, remoteDir+"/", false); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
			Message: "failed to copy corpus config to the annotation server", Err: err})
	}
	sourceDir := filepath.Join(staging, m.cfg.Paths.SourceDirName())
	if err := m.xfer.Push(ctx, sourceDir, remoteDir+"/", true); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
			Message: "failed to copy corpus files to the annotation server", Err: err})
	}

	return m.setStatus(ctx, rec, StatusWaiting)
}

// StartAnnotation launches a detached annotation run on the remote host.
func (m *Machine) StartAnnotation(ctx context.Context, rec *Record) error {
	exports := rec.SparvExports
	if len(exports) == 0 {
		exports = m.cfg.DefaultExports
	}
	args := append(append([]string{}, m.cfg.Command...), m.cfg.RunArgs...)
	args = append(args, exports...)
	if len(rec.Files) > 0 {
		args = append(args, "--file")
		args = append(args, rec.Files...)
	}

	pid, err := m.launchDetached(ctx, rec, args)
	if err != nil {
		return err
	}
	rec.PID = pid
	rec.Status = StatusAnnotating
	return m.store.Save(ctx, rec)
}

// StartInstall launches a detached install run, publishing annotated output
// into the search index.
func (m *Machine) StartInstall(ctx context.Context, rec *Record) error {
	installs := append([]string{}, m.cfg.DefaultInstalls...)
	if rec.InstallScrambled {
		installs = append(installs, "cwb:install_corpus_scrambled")
	} else {
		installs = append(installs, "cwb:install_corpus")
	}
	args := append(append([]string{}, m.cfg.Command...), m.cfg.InstallArgs...)
	args = append(args, installs...)

	pid, err := m.launchDetached(ctx, rec, args)
	if err != nil {
		return err
	}
	rec.PID = pid
	rec.Status = StatusInstalling
	return m.store.Save(ctx, rec)
}

// launchDetached writes a run script on the remote host and executes it.
// The script starts the tool with nohup so it survives the connection
// closing, redirects all output to the log file and echoes the process id.
func (m *Machine) launchDetached(ctx context.Context, rec *Record, args []string) (int, error) {
	remoteDir := m.RemoteCorpusDir(rec.CorpusID)
	script := m.buildRunScript(args)

	rec.ResetTime()
	now := m.now()
	rec.Started = &now
	if err := m.store.Save(ctx, rec); err != nil {
		return 0, err
	}

	steps := []remote.Command{
		{Dir: remoteDir, Argv: []string{"tee", m.cfg.RunScript}, Stdin: script},
		{Dir: remoteDir, Argv: []string{"chmod", "+x", m.cfg.RunScript}},
		{Dir: remoteDir, Argv: []string{"./" + m.cfg.RunScript}},
	}
	var res remote.Result
	var err error
	for _, step := range steps {
		res, err = m.exec.Run(ctx, step)
		if err != nil || res.ExitCode != 0 {
			rec.ResetTime()
			return 0, m.fail(ctx, rec, &Error{Kind: ErrJob, Corpus: rec.CorpusID,
				Message: "failed to launch the annotation tool",
				Stderr:  res.Stderr, Err: err})
		}
	}

	pid, perr := strconv.Atoi(strings.TrimSpace(res.Stdout))
	if perr != nil || pid <= 0 {
		rec.ResetTime()
		return 0, m.fail(ctx, rec, &Error{Kind: ErrJob, Corpus: rec.CorpusID,
			Message: "annotation tool did not report a process id",
			Stderr:  res.Stderr})
	}
	return pid, nil
}

func (m *Machine) buildRunScript(args []string) string {
	var b strings.Builder
	if len(m.cfg.Environ) > 0 {
		b.WriteString(strings.Join(m.cfg.Environ, " "))
		b.WriteString(" ")
	}
	fmt.Fprintf(&b, "nohup time -p %s > %s 2>&1 &\necho $!\n",
		remote.QuoteAll(args), remote.Quote(m.cfg.NohupFile))
	return b.String()
}

// Abort stops a job. Waiting jobs are simply dequeued; running jobs get a
// termination signal, where "no such process" from the remote host counts
// as success.
func (m *Machine) Abort(ctx context.Context, rec *Record) error {
	if rec.Status.IsWaiting() {
		if err := m.queue.Remove(ctx, rec.CorpusID); err != nil {
			return err
		}
		return m.setStatus(ctx, rec, StatusAborted)
	}
	if !rec.Status.IsRunning() {
		return &Error{Kind: ErrProcessNotRunning, Corpus: rec.CorpusID,
			Message: "cannot abort job because the annotation tool is not running"}
	}
	if rec.PID == 0 {
		return &Error{Kind: ErrProcessNotFound, Corpus: rec.CorpusID,
			Message: "cannot abort job because no process id was found"}
	}

	res, err := m.exec.Run(ctx, remote.Command{Argv: []string{"kill", "-TERM", strconv.Itoa(rec.PID)}})
	if err != nil {
		return &Error{Kind: ErrJob, Corpus: rec.CorpusID, Message: "failed to abort job", Err: err}
	}
	if res.ExitCode != 0 && !processGone(res.Stderr) {
		return &Error{Kind: ErrJob, Corpus: rec.CorpusID,
			Message: "failed to abort job", Stderr: res.Stderr}
	}

	rec.PID = 0
	rec.Status = StatusAborted
	return m.store.Save(ctx, rec)
}

// processGone recognizes the remote kill(1) complaint for an already-dead
// process, in the locales seen on annotation hosts so far.
func processGone(stderr string) bool {
	s := strings.TrimSpace(stderr)
	return strings.HasSuffix(s, "No such process") || strings.HasSuffix(s, "Processen finns inte")
}

// Poll probes the remote process and advances the job when it has ended.
// It reports whether the process is still running.
//
// A process that died without reaching 100% progress is a failure in
// itself, whether or not the log carries ERROR lines.
func (m *Machine) Poll(ctx context.Context, rec *Record) (bool, error) {
	if rec.PID != 0 {
		res, err := m.exec.Run(ctx, remote.Command{Argv: []string{"kill", "-0", strconv.Itoa(rec.PID)}})
		if err != nil {
			// Host unreachable: leave the job untouched until the next poll.
			return false, &Error{Kind: ErrJob, Corpus: rec.CorpusID,
				Message: "failed to probe remote process", Err: err}
		}
		if res.ExitCode == 0 {
			return true, nil
		}
		m.log.Debug("remote process has ended",
			zap.String("corpus_id", rec.CorpusID),
			zap.Int("pid", rec.PID),
			zap.String("stderr", res.Stderr))
		rec.PID = 0
		if err := m.store.Save(ctx, rec); err != nil {
			return false, err
		}
	}

	out, err := m.GetOutput(ctx, rec)
	if err != nil {
		return false, m.fail(ctx, rec, err)
	}

	if rec.ProgressOutput == "100%" {
		switch rec.Status {
		case StatusAnnotating:
			if m.backend.LocalResults() {
				return false, m.setStatus(ctx, rec, StatusDoneSyncing)
			}
			return false, m.setStatus(ctx, rec, StatusDoneAnnotating)
		case StatusInstalling:
			rec.InstalledKorp = true
			rec.Status = StatusDoneInstalling
			return false, m.store.Save(ctx, rec)
		}
		return false, nil
	}

	if len(out.Errors) > 0 {
		m.log.Debug("annotation tool reported errors",
			zap.String("corpus_id", rec.CorpusID), zap.Strings("errors", out.Errors))
	}
	if len(out.Misc) > 0 {
		m.log.Debug("annotation tool output",
			zap.String("corpus_id", rec.CorpusID), zap.Strings("output", out.Misc))
	}
	return false, m.setStatus(ctx, rec, StatusError)
}

// GetOutput fetches and parses the remote process log for the job. The
// parsed progress and completion time are cached on the record (in memory
// only) for the derived views.
func (m *Machine) GetOutput(ctx context.Context, rec *Record) (Output, error) {
	if !rec.Status.HasProcessOutput() {
		return Output{}, nil
	}

	res, err := m.exec.Run(ctx, remote.Command{
		Dir:  m.RemoteCorpusDir(rec.CorpusID),
		Argv: []string{"cat", m.cfg.NohupFile},
	})
	if err != nil {
		return Output{}, &Error{Kind: ErrJob, Corpus: rec.CorpusID,
			Message: "failed to read remote process output", Err: err}
	}

	raw := strings.TrimSpace(res.Stdout)
	if raw == "" {
		return Output{}, nil
	}
	out := ParseOutput(raw, rec.Started)
	rec.ProgressOutput = out.Progress
	rec.ProcessDone = out.Done
	return out, nil
}

// SyncResults pulls export artifacts and plain-text source snapshots from
// the annotation host and pushes both to the storage backend. Losing
// already-produced results is severe, so storage upload failures are
// returned as errors on top of the persisted error status.
func (m *Machine) SyncResults(ctx context.Context, rec *Record) error {
	if err := m.setStatus(ctx, rec, StatusSyncingResults); err != nil {
		return err
	}

	staging := m.stagingCorpusDir(rec.CorpusID)
	if err := os.MkdirAll(staging, 0755); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
			Message: "failed to create staging dir", Err: err})
	}
	remoteDir := m.RemoteCorpusDir(rec.CorpusID)

	exportDir := m.cfg.Paths.ExportDirName()
	if err := m.xfer.Pull(ctx, path.Join(remoteDir, exportDir), staging, nil); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
			Message: "failed to retrieve exports from the annotation server", Err: err})
	}

	workDir := m.cfg.Paths.WorkDirName()
	if err := m.xfer.Pull(ctx, path.Join(remoteDir, workDir), staging, []string{PlainTextFile}); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrTransfer, Corpus: rec.CorpusID,
			Message: "failed to retrieve plain-text sources from the annotation server", Err: err})
	}

	if err := m.backend.UploadDir(ctx, m.cfg.Paths.CorpusExportDir(rec.CorpusID),
		filepath.Join(staging, exportDir), nil); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrStorage, Corpus: rec.CorpusID,
			Message: "failed to upload exports to the storage server", Err: err})
	}
	if err := m.backend.UploadDir(ctx, m.cfg.Paths.CorpusWorkDir(rec.CorpusID),
		filepath.Join(staging, workDir), []string{"**/" + PlainTextFile}); err != nil {
		return m.fail(ctx, rec, &Error{Kind: ErrStorage, Corpus: rec.CorpusID,
			Message: "failed to upload plain-text sources to the storage server", Err: err})
	}

	return m.setStatus(ctx, rec, StatusDoneSyncing)
}

// PlainTextFile is the name under which the annotation tool keeps the
// plain-text rendition of each source file in its working directory.
const PlainTextFile = "@text"

// RemoveFromRemote aborts any running process (best effort) and deletes the
// corpus working directory on the annotation host. A failed directory
// removal is logged, not fatal.
func (m *Machine) RemoveFromRemote(ctx context.Context, rec *Record) error {
	if err := m.Abort(ctx, rec); err != nil && !IsProcessNotRunning(err) {
		return err
	}

	remoteDir := m.RemoteCorpusDir(rec.CorpusID)
	res, err := m.exec.Run(ctx, remote.Command{Argv: []string{"rm", "-rf", remoteDir}})
	if err != nil || res.Stderr != "" {
		m.log.Error("failed to remove corpus dir on the annotation server",
			zap.String("corpus_id", rec.CorpusID),
			zap.String("dir", remoteDir),
			zap.String("stderr", res.Stderr),
			zap.Error(err))
	}
	return nil
}

// Clean removes annotation and export files on the annotation host by
// running the tool's full cleanup. It returns the tool's joined output.
func (m *Machine) Clean(ctx context.Context, rec *Record) (string, error) {
	remoteDir := m.RemoteCorpusDir(rec.CorpusID)
	res, err := m.exec.Run(ctx, remote.Command{
		Dir:  remoteDir,
		Argv: []string{"rm", "-f", m.cfg.NohupFile, m.cfg.RunScript},
	})
	if err != nil || res.Stderr != "" {
		return "", &Error{Kind: ErrJob, Corpus: rec.CorpusID,
			Message: "failed to clear run artifacts", Stderr: res.Stderr, Err: err}
	}
	return m.runCleanCommand(ctx, rec, "--all")
}

// CleanExports removes only export files on the annotation host.
func (m *Machine) CleanExports(ctx context.Context, rec *Record) (string, error) {
	return m.runCleanCommand(ctx, rec, "--export")
}

func (m *Machine) runCleanCommand(ctx context.Context, rec *Record, scope string) (string, error) {
	args := append(append([]string{}, m.cfg.Command...), "clean", scope)
	res, err := m.exec.Run(ctx, remote.Command{
		Dir:  m.RemoteCorpusDir(rec.CorpusID),
		Env:  m.cfg.Environ,
		Argv: args,
	})
	if err != nil || res.Stderr != "" {
		return "", &Error{Kind: ErrJob, Corpus: rec.CorpusID,
			Message: "cleanup failed on the annotation server", Stderr: res.Stderr, Err: err}
	}
	return joinLines(res.Stdout), nil
}

func joinLines(s string) string {
	var parts []string
	for _, line := range strings.Split(s, "\n") {
		if line != "" {
			parts = append(parts, line)
		}
	}
	return strings.Join(parts, ", ")
}

// Progress reports the job's progress without ever claiming completion
// before the state machine has confirmed it: a parsed 100% shows as 99%
// until a done_* status is reached.
func (m *Machine) Progress(rec *Record) string {
	if rec.Status.HasProcessOutput() {
		if rec.ProgressOutput == "100%" && !rec.Status.IsDoneProcessing() {
			return "99%"
		}
		return rec.ProgressOutput
	}
	if rec.Status.IsActive() {
		return "0%"
	}
	return ""
}

// ElapsedSeconds reports how long the job's last run has taken, with a
// monotonic floor: flaky probes or clock hiccups never make it decrease.
// Once the remote process has reported its own completion time, the
// record's Done timestamp is fixed from it.
func (m *Machine) ElapsedSeconds(ctx context.Context, rec *Record) (float64, error) {
	var seconds float64
	switch {
	case rec.Started == nil || rec.Status.IsWaiting():
		seconds = 0
	case rec.Status.IsRunning():
		delta := m.now().Sub(*rec.Started).Seconds()
		seconds = max(rec.LatestSecondsTaken, delta)
	case rec.ProcessDone != nil:
		delta := rec.ProcessDone.Sub(*rec.Started).Seconds()
		seconds = max(rec.LatestSecondsTaken, delta)
		done := rec.Started.Add(time.Duration(seconds * float64(time.Second)))
		rec.Done = &done
	default:
		seconds = rec.LatestSecondsTaken
	}

	if seconds != rec.LatestSecondsTaken || rec.Done != nil {
		rec.LatestSecondsTaken = seconds
		if err := m.store.Save(ctx, rec); err != nil {
			return seconds, err
		}
	}
	return seconds, nil
}
