package job

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/nordtext/annod/pkg/storage"
)

func TestRecord_EncodeDecodeRoundTrip(t *testing.T) {
	started := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	rec := &Record{
		CorpusID: "demo-1",
		UserID:   "user-1",
		Contact:  "user@example.com",
		Status:   StatusAnnotating,
		PID:      4242,
		Started:  &started,
		SparvExports: []string{"xml_export:pretty", "csv_export:csv"},
		Files:        []string{"a.xml"},
		AvailableFiles: []storage.FileInfo{
			{Name: "a.xml", Type: "file", Size: 12, Path: "corpora/demo-1/source/a.xml"},
		},
		InstallScrambled:   true,
		LatestSecondsTaken: 42.5,
	}

	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}

	got, err := DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord() error: %v", err)
	}
	if got.CorpusID != "demo-1" || got.Status != StatusAnnotating || got.PID != 4242 {
		t.Fatalf("core fields not preserved: %+v", got)
	}
	if got.Started == nil || !got.Started.Equal(started) {
		t.Fatalf("started not preserved: %v", got.Started)
	}
	if len(got.SparvExports) != 2 || got.SparvExports[0] != "xml_export:pretty" {
		t.Fatalf("exports not preserved: %v", got.SparvExports)
	}
	if len(got.AvailableFiles) != 1 || got.AvailableFiles[0].Name != "a.xml" {
		t.Fatalf("available files not preserved: %v", got.AvailableFiles)
	}
	if !got.InstallScrambled || got.LatestSecondsTaken != 42.5 {
		t.Fatalf("flags not preserved: %+v", got)
	}
}

func TestRecord_StatusPersistedBySymbolicName(t *testing.T) {
	rec := NewRecord("demo-1")
	rec.Status = StatusDoneAnnotating

	data, err := rec.Encode()
	if err != nil {
		t.Fatalf("Encode() error: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if string(raw["status"]) != `"done_annotating"` {
		t.Fatalf("status persisted as %s, want the symbolic name", raw["status"])
	}
}

func TestDecodeRecord_UnknownStatusDegradesToNone(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"corpus_id":"demo-1","status":"time_travelling"}`))
	if err != nil {
		t.Fatalf("DecodeRecord() error: %v", err)
	}
	if rec.Status != StatusNone {
		t.Fatalf("Status = %q, want none", rec.Status)
	}
}

func TestDecodeRecord_UnknownFieldsDiscarded(t *testing.T) {
	rec, err := DecodeRecord([]byte(`{"corpus_id":"demo-1","status":"waiting","future_field":[1,2,3]}`))
	if err != nil {
		t.Fatalf("DecodeRecord() error: %v", err)
	}
	if rec.CorpusID != "demo-1" || rec.Status != StatusWaiting {
		t.Fatalf("known fields lost: %+v", rec)
	}
}

func TestDecodeRecord_Invalid(t *testing.T) {
	if _, err := DecodeRecord([]byte("{not json")); err == nil {
		t.Fatal("expected an error for malformed input")
	}
}

func TestNewRecord_Defaults(t *testing.T) {
	rec := NewRecord("demo-1")
	if rec.Status != StatusNone {
		t.Fatalf("Status = %q, want none", rec.Status)
	}
	if rec.SparvExports == nil {
		t.Fatal("SparvExports must never be nil")
	}
	if rec.ProgressOutput != "0%" {
		t.Fatalf("ProgressOutput = %q, want 0%%", rec.ProgressOutput)
	}
}

func TestRecord_ResetTime(t *testing.T) {
	now := time.Now()
	rec := NewRecord("demo-1")
	rec.Started = &now
	rec.Done = &now
	rec.ProcessDone = &now
	rec.LatestSecondsTaken = 99

	rec.ResetTime()

	if rec.Started != nil || rec.Done != nil || rec.ProcessDone != nil || rec.LatestSecondsTaken != 0 {
		t.Fatalf("timing not cleared: %+v", rec)
	}
}
