package job

import (
	"encoding/json"
	"time"

	"github.com/nordtext/annod/pkg/storage"
)

// Record is the persisted state of one corpus's processing lifecycle.
//
// The JSON field names are the stable wire/disk contract. The schema is
// designed for backward-compatible extension: loaders discard unknown
// fields, and the status is stored by symbolic name so that record layout
// never depends on definition order.
type Record struct {
	CorpusID string `json:"corpus_id"`
	UserID   string `json:"user_id,omitempty"`
	Contact  string `json:"contact,omitempty"`
	Status   Status `json:"status"`

	// PID identifies the in-flight remote process. Non-zero only while the
	// status is annotating or installing.
	PID int `json:"pid,omitempty"`

	// Started and Done frame the last remote run. Done is derived from the
	// completion time the remote process reports.
	Started *time.Time `json:"started,omitempty"`
	Done    *time.Time `json:"done,omitempty"`

	// SparvExports is the ordered list of requested output formats.
	SparvExports []string `json:"sparv_exports"`

	// Files optionally restricts the run to a subset of source files.
	Files []string `json:"files,omitempty"`

	// AvailableFiles caches the source-file inventory at queue time.
	AvailableFiles []storage.FileInfo `json:"available_files,omitempty"`

	// InstallScrambled selects the scrambled install variant.
	InstallScrambled bool `json:"install_scrambled"`

	// InstalledKorp records whether an install step has completed at least
	// once for this corpus.
	InstalledKorp bool `json:"installed_korp"`

	// LatestSecondsTaken is the last known elapsed-time estimate. It never
	// decreases while a process runs, smoothing over flaky liveness probes.
	LatestSecondsTaken float64 `json:"latest_seconds_taken"`

	// ProgressOutput is the progress last parsed from the remote process
	// log ("0%".."100%"). Re-derived on every poll, not persisted.
	ProgressOutput string `json:"-"`

	// ProcessDone is the completion timestamp the remote process itself
	// reported (from its final timing line). Not persisted.
	ProcessDone *time.Time `json:"-"`
}

// NewRecord creates a fresh record for a corpus with no history.
func NewRecord(corpusID string) *Record {
	return &Record{
		CorpusID:       corpusID,
		Status:         StatusNone,
		SparvExports:   []string{},
		ProgressOutput: "0%",
	}
}

// Encode serializes the record for the cache and the backup file.
func (r *Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord loads a record from its serialized form. Unknown fields are
// discarded; an unrecognized status degrades to none rather than failing,
// so schema evolution never strands a corpus.
func DecodeRecord(data []byte) (*Record, error) {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	if _, ok := ParseStatus(string(rec.Status)); !ok {
		rec.Status = StatusNone
	}
	if rec.SparvExports == nil {
		rec.SparvExports = []string{}
	}
	rec.ProgressOutput = "0%"
	return &rec, nil
}

// ResetTime clears the run timing before a new remote run starts.
func (r *Record) ResetTime() {
	r.LatestSecondsTaken = 0
	r.Started = nil
	r.Done = nil
	r.ProcessDone = nil
}
