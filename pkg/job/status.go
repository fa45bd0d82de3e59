package job

// Status is the lifecycle stage of a corpus job.
//
// NOTE: Statuses are persisted by symbolic name and are part of the stable
// on-disk contract. Classification lives in the predicate methods, never in
// the order of these definitions.
type Status string

const (
	StatusNone           Status = "none"
	StatusSyncingCorpus  Status = "syncing_corpus"
	StatusWaiting        Status = "waiting"
	StatusAnnotating     Status = "annotating"
	StatusDoneAnnotating Status = "done_annotating"
	StatusSyncingResults Status = "syncing_results"
	StatusDoneSyncing    Status = "done_syncing"
	StatusWaitingInstall Status = "waiting_install"
	StatusInstalling     Status = "installing"
	StatusDoneInstalling Status = "done_installing"
	StatusError          Status = "error"
	StatusAborted        Status = "aborted"
)

var statusDescriptions = map[Status]string{
	StatusNone:           "Job does not exist",
	StatusSyncingCorpus:  "Syncing from the storage server to the annotation server",
	StatusWaiting:        "Waiting to be annotated",
	StatusAnnotating:     "Annotation process is running",
	StatusDoneAnnotating: "Annotation process has finished",
	StatusSyncingResults: "Syncing results from the annotation server to the storage server",
	StatusDoneSyncing:    "Results have been synced to the storage server",
	StatusWaitingInstall: "Waiting to be installed",
	StatusInstalling:     "Corpus is being installed",
	StatusDoneInstalling: "Corpus is done installing",
	StatusError:          "An error occurred",
	StatusAborted:        "Aborted by the user",
}

// ParseStatus maps a persisted symbolic name to a Status. Unknown names
// report ok=false so loaders can degrade instead of crashing on records
// written by older or newer versions.
func ParseStatus(name string) (Status, bool) {
	s := Status(name)
	_, ok := statusDescriptions[s]
	return s, ok
}

// Description returns the human-readable text for the status.
func (s Status) Description() string {
	if desc, ok := statusDescriptions[s]; ok {
		return desc
	}
	return "Unknown status"
}

// IsActive reports whether the job still occupies a queue slot.
func (s Status) IsActive() bool {
	switch s {
	case StatusSyncingCorpus, StatusWaiting, StatusAnnotating, StatusWaitingInstall, StatusInstalling:
		return true
	}
	return false
}

// IsInactive reports whether the job has reached a terminal stage.
func (s Status) IsInactive() bool {
	switch s {
	case StatusDoneSyncing, StatusDoneInstalling, StatusError, StatusAborted:
		return true
	}
	return false
}

// IsSyncing reports whether files are moving between the stores.
func (s Status) IsSyncing() bool {
	return s == StatusSyncingCorpus || s == StatusSyncingResults
}

// IsWaiting reports whether the job is queued but not yet started.
func (s Status) IsWaiting() bool {
	return s == StatusWaiting || s == StatusWaitingInstall
}

// IsRunning reports whether a remote process is (or should be) alive.
func (s Status) IsRunning() bool {
	return s == StatusAnnotating || s == StatusInstalling
}

// IsDoneProcessing reports whether a processing stage completed.
func (s Status) IsDoneProcessing() bool {
	switch s {
	case StatusDoneAnnotating, StatusDoneSyncing, StatusDoneInstalling:
		return true
	}
	return false
}

// HasProcessOutput reports whether a remote process log is expected to
// exist for the job.
func (s Status) HasProcessOutput() bool {
	switch s {
	case StatusAnnotating, StatusDoneAnnotating, StatusSyncingResults,
		StatusDoneSyncing, StatusInstalling, StatusDoneInstalling, StatusError:
		return true
	}
	return false
}
