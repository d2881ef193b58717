package models

import (
	"errors"
	"fmt"
	"time"
)

type SourceStatus string

const (
	SourcePending   SourceStatus = "pending"
	SourceSucceeded SourceStatus = "succeeded"
	SourceFailed    SourceStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s SourceStatus) Terminal() bool {
	return s == SourceSucceeded || s == SourceFailed
}

// Source is one processing run over one uploaded file.
type Source struct {
	ID          int64        `json:"id"`
	FilePath    string       `json:"file_path"`
	Status      SourceStatus `json:"status"`
	ProcessedAt *time.Time   `json:"processed_at,omitempty"`
	FailReason  string       `json:"fail_reason,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// ActivityRecord is one scheduled occurrence extracted from a source. The JSON
// shape is shared by the processor payload, the HTTP API and the artifacts.
type ActivityRecord struct {
	ID       int64   `json:"id,omitempty"`
	SourceID int64   `json:"source_id,omitempty"`
	Day      Day     `json:"day"`
	Start    Clock   `json:"start_time"`
	End      Clock   `json:"end_time"`
	Label    string  `json:"label"`
	Notes    *string `json:"notes,omitempty"`
}

// DocumentMetadata is what a timetable's title lines say about it. Fields
// the document does not state stay empty.
type DocumentMetadata struct {
	ClassName string `json:"class_name,omitempty"`
	Teacher   string `json:"teacher,omitempty"`
	Term      string `json:"term,omitempty"`
	School    string `json:"school,omitempty"`
}

func (m DocumentMetadata) IsZero() bool {
	return m == DocumentMetadata{}
}

// OrNil drops an empty value so it is omitted from JSON.
func (m DocumentMetadata) OrNil() *DocumentMetadata {
	if m.IsZero() {
		return nil
	}
	return &m
}

var ErrInvalidRecord = errors.New("invalid activity record")

func (r ActivityRecord) Validate() error {
	if _, ok := ParseDay(string(r.Day)); !ok || r.Day != Canonical(r.Day) {
		return fmt.Errorf("%w: day %q", ErrInvalidRecord, r.Day)
	}
	if r.Start < 0 || r.End > ClockMax {
		return fmt.Errorf("%w: time out of range %s-%s", ErrInvalidRecord, r.Start, r.End)
	}
	if r.Start >= r.End {
		return fmt.Errorf("%w: start %s not before end %s", ErrInvalidRecord, r.Start, r.End)
	}
	return nil
}

// Overlaps applies the half-open interval rule [Start, End) against [from, to).
func (r ActivityRecord) Overlaps(from, to Clock) bool {
	return r.Start < to && r.End > from
}

func StringPtr(s string) *string {
	return &s
}
